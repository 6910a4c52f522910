// Package http 永续持仓服务接口
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hemanthK-supraoracles/perpetuals/internal/asset"
	custodydomain "github.com/hemanthK-supraoracles/perpetuals/internal/custody/domain"
	marketdomain "github.com/hemanthK-supraoracles/perpetuals/internal/market/domain"
	oracledomain "github.com/hemanthK-supraoracles/perpetuals/internal/oracle/domain"
	pooldomain "github.com/hemanthK-supraoracles/perpetuals/internal/pool/domain"
	"github.com/hemanthK-supraoracles/perpetuals/internal/position/application"
	"github.com/hemanthK-supraoracles/perpetuals/internal/position/domain"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/fixedpoint"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/middleware"
)

type Handler struct {
	service *application.Service
}

func NewHandler(service *application.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/positions")
	{
		g.POST("", h.OpenPosition)
		g.POST("/close", h.ClosePosition)
		g.GET("", h.ListPositions)
		g.GET("/history", h.ListHistory)
		g.GET("/:asset/:collateral", h.GetPosition)
	}
}

type openPositionRequest struct {
	Asset         string `json:"asset" binding:"required"`
	Collateral    string `json:"collateral" binding:"required"`
	IsLong        *bool  `json:"is_long" binding:"required"`
	SizeUsd       string `json:"size_usd" binding:"required"`
	Leverage      int64  `json:"leverage" binding:"required"`
	CollateralAmt string `json:"collateral_amount" binding:"required"`
	TakeProfit    string `json:"take_profit"`
	StopLoss      string `json:"stop_loss"`
}

func (h *Handler) OpenPosition(c *gin.Context) {
	var req openPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.OpenPosition(c.Request.Context(), application.OpenPositionCmd{
		Owner:         middleware.CallerAddress(c),
		Asset:         req.Asset,
		Collateral:    req.Collateral,
		IsLong:        *req.IsLong,
		SizeUsdRaw:    req.SizeUsd,
		Leverage:      req.Leverage,
		CollateralRaw: req.CollateralAmt,
		TakeProfitRaw: req.TakeProfit,
		StopLossRaw:   req.StopLoss,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type closePositionRequest struct {
	Asset      string `json:"asset" binding:"required"`
	Collateral string `json:"collateral" binding:"required"`
}

func (h *Handler) ClosePosition(c *gin.Context) {
	var req closePositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := h.service.ClosePosition(c.Request.Context(), application.ClosePositionCmd{
		Owner:      middleware.CallerAddress(c),
		Asset:      req.Asset,
		Collateral: req.Collateral,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetPosition(c *gin.Context) {
	view, err := h.service.GetPosition(c.Request.Context(),
		middleware.CallerAddress(c), c.Param("asset"), c.Param("collateral"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *Handler) ListPositions(c *gin.Context) {
	views, err := h.service.ListPositions(c.Request.Context(), middleware.CallerAddress(c))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": views})
}

func (h *Handler) ListHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	views, err := h.service.ListClosedPositions(c.Request.Context(), middleware.CallerAddress(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": views})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrPositionNotFound),
		errors.Is(err, marketdomain.ErrMarketNotFound),
		errors.Is(err, pooldomain.ErrPoolNotFound),
		errors.Is(err, oracledomain.ErrQuoteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrPositionExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrLiquidated),
		errors.Is(err, domain.ErrInsufficientMargin),
		errors.Is(err, pooldomain.ErrOpenInterestExceeded),
		errors.Is(err, custodydomain.ErrInsufficientBalance),
		errors.Is(err, oracledomain.ErrStalePrice):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidArgument),
		errors.Is(err, domain.ErrInvalidTriggerPrice),
		errors.Is(err, asset.ErrUnknown),
		errors.Is(err, fixedpoint.ErrMalformed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
