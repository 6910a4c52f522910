// Package http 市场服务接口
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hemanthK-supraoracles/perpetuals/internal/asset"
	"github.com/hemanthK-supraoracles/perpetuals/internal/market/application"
	"github.com/hemanthK-supraoracles/perpetuals/internal/market/domain"
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
	g := r.Group("/markets")
	{
		g.POST("", h.InitializeMarket)
		g.PUT("/:symbol/prices", h.UpdatePrices)
		g.GET("", h.ListMarkets)
		g.GET("/:symbol", h.GetMarketStats)
		g.GET("/:symbol/funding-rate", h.GetFundingRate)
	}
}

type InitializeMarketReq struct {
	Symbol    string `json:"symbol" binding:"required"`
	SpotPrice string `json:"spot_price" binding:"required"`
	PerpPrice string `json:"perp_price" binding:"required"`
}

func (h *Handler) InitializeMarket(c *gin.Context) {
	var req InitializeMarketReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := application.InitializeMarketCmd{
		Caller:  middleware.CallerAddress(c),
		Symbol:  req.Symbol,
		SpotRaw: req.SpotPrice,
		PerpRaw: req.PerpPrice,
	}
	if err := h.service.InitializeMarket(c.Request.Context(), cmd); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

type UpdatePricesReq struct {
	SpotPrice string `json:"spot_price" binding:"required"`
	PerpPrice string `json:"perp_price" binding:"required"`
}

func (h *Handler) UpdatePrices(c *gin.Context) {
	var req UpdatePricesReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := application.UpdatePricesCmd{
		Caller:  middleware.CallerAddress(c),
		Symbol:  c.Param("symbol"),
		SpotRaw: req.SpotPrice,
		PerpRaw: req.PerpPrice,
	}
	if err := h.service.UpdatePrices(c.Request.Context(), cmd); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) ListMarkets(c *gin.Context) {
	symbols, err := h.service.ListSymbols(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbols": symbols})
}

func (h *Handler) GetMarketStats(c *gin.Context) {
	stats, err := h.service.GetMarketStats(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetFundingRate(c *gin.Context) {
	view, err := h.service.GetFundingRate(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrMarketNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrMarketExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidPrice), errors.Is(err, asset.ErrUnknown), errors.Is(err, fixedpoint.ErrMalformed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
