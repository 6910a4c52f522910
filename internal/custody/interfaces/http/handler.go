// Package http 托管账本服务接口
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hemanthK-supraoracles/perpetuals/internal/asset"
	"github.com/hemanthK-supraoracles/perpetuals/internal/custody/application"
	"github.com/hemanthK-supraoracles/perpetuals/internal/custody/domain"
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
	g := r.Group("/custody")
	{
		g.POST("/mint", h.Mint)
		g.POST("/burn", h.Burn)
		g.GET("/accounts/:address", h.Balances)
		g.GET("/accounts/:address/:asset", h.Balance)
	}
}

type MintReq struct {
	Address string `json:"address" binding:"required"`
	Asset   string `json:"asset" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

func (h *Handler) Mint(c *gin.Context) {
	var req MintReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := application.MintCmd{
		Caller:    middleware.CallerAddress(c),
		Address:   req.Address,
		Asset:     req.Asset,
		AmountRaw: req.Amount,
	}
	if err := h.service.Mint(c.Request.Context(), cmd); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

type BurnReq struct {
	Address string `json:"address" binding:"required"`
	Asset   string `json:"asset" binding:"required"`
	Amount  string `json:"amount" binding:"required"`
}

func (h *Handler) Burn(c *gin.Context) {
	var req BurnReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := application.BurnCmd{
		Caller:    middleware.CallerAddress(c),
		Address:   req.Address,
		Asset:     req.Asset,
		AmountRaw: req.Amount,
	}
	if err := h.service.Burn(c.Request.Context(), cmd); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusOK)
}

func (h *Handler) Balances(c *gin.Context) {
	views, err := h.service.Balances(c.Request.Context(), c.Param("address"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"address": c.Param("address"), "balances": views})
}

func (h *Handler) Balance(c *gin.Context) {
	sym, err := asset.Parse(c.Param("asset"))
	if err != nil {
		writeError(c, err)
		return
	}

	balance, err := h.service.Balance(c.Request.Context(), c.Param("address"), sym)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"address": c.Param("address"),
		"asset":   sym.String(),
		"balance": balance.String(),
	})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInsufficientBalance):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidAmount), errors.Is(err, asset.ErrUnknown), errors.Is(err, fixedpoint.ErrMalformed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
