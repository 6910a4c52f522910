// Package http 流动性池服务接口
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hemanthK-supraoracles/perpetuals/internal/asset"
	custodydomain "github.com/hemanthK-supraoracles/perpetuals/internal/custody/domain"
	"github.com/hemanthK-supraoracles/perpetuals/internal/pool/application"
	"github.com/hemanthK-supraoracles/perpetuals/internal/pool/domain"
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
	g := r.Group("/pools")
	{
		g.POST("", h.InitializePool)
		g.POST("/:collateral/liquidity", h.AddLiquidity)
		g.DELETE("/:collateral/liquidity", h.RemoveLiquidity)
		g.GET("/:collateral", h.GetPoolStats)
		g.GET("/:collateral/shares", h.GetProviderShares)
	}
}

type InitializePoolReq struct {
	Collateral string `json:"collateral" binding:"required"`
}

func (h *Handler) InitializePool(c *gin.Context) {
	var req InitializePoolReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := application.InitializePoolCmd{
		Caller:     middleware.CallerAddress(c),
		Collateral: req.Collateral,
	}
	if err := h.service.InitializePool(c.Request.Context(), cmd); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

type AddLiquidityReq struct {
	Amount string `json:"amount" binding:"required"`
}

func (h *Handler) AddLiquidity(c *gin.Context) {
	var req AddLiquidityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := application.AddLiquidityCmd{
		Provider:   middleware.CallerAddress(c),
		Collateral: c.Param("collateral"),
		AmountRaw:  req.Amount,
	}
	result, err := h.service.AddLiquidity(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type RemoveLiquidityReq struct {
	Shares string `json:"shares" binding:"required"`
}

func (h *Handler) RemoveLiquidity(c *gin.Context) {
	var req RemoveLiquidityReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := application.RemoveLiquidityCmd{
		Provider:   middleware.CallerAddress(c),
		Collateral: c.Param("collateral"),
		SharesRaw:  req.Shares,
	}
	result, err := h.service.RemoveLiquidity(c.Request.Context(), cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) GetPoolStats(c *gin.Context) {
	stats, err := h.service.GetPoolStats(c.Request.Context(), c.Param("collateral"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

func (h *Handler) GetProviderShares(c *gin.Context) {
	provider := c.DefaultQuery("provider", middleware.CallerAddress(c))

	shares, err := h.service.GetProviderShares(c.Request.Context(), c.Param("collateral"), provider)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"collateral": c.Param("collateral"),
		"provider":   provider,
		"shares":     shares,
	})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrPoolNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrPoolExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInsufficientLPBalance),
		errors.Is(err, domain.ErrInsufficientPoolBalance),
		errors.Is(err, domain.ErrDepositTooSmall),
		errors.Is(err, custodydomain.ErrInsufficientBalance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, asset.ErrUnknown),
		errors.Is(err, fixedpoint.ErrMalformed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
