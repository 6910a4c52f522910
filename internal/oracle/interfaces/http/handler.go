// Package http 预言机服务接口
package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/hemanthK-supraoracles/perpetuals/internal/asset"
	"github.com/hemanthK-supraoracles/perpetuals/internal/oracle/application"
	"github.com/hemanthK-supraoracles/perpetuals/internal/oracle/domain"
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
	g := r.Group("/oracle")
	{
		g.POST("/prices", h.SetPrice)
		g.GET("/prices/:symbol", h.GetPrice)
	}
}

type SetPriceReq struct {
	Symbol string `json:"symbol" binding:"required"`
	Price  string `json:"price" binding:"required"`
}

func (h *Handler) SetPrice(c *gin.Context) {
	var req SetPriceReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	cmd := application.SetPriceCmd{
		Caller:   middleware.CallerAddress(c),
		Symbol:   req.Symbol,
		PriceRaw: req.Price,
	}
	if err := h.service.SetPrice(c.Request.Context(), cmd); err != nil {
		writeError(c, err)
		return
	}

	c.Status(http.StatusOK)
}

func (h *Handler) GetPrice(c *gin.Context) {
	sym, err := asset.Parse(c.Param("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}

	price, observedAt, err := h.service.CurrentPrice(c.Request.Context(), sym)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"symbol":      sym.String(),
		"price":       fixedpoint.RawString(price, fixedpoint.PriceDecimals),
		"observed_at": observedAt,
	})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrQuoteNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrStalePrice):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrInvalidPrice), errors.Is(err, asset.ErrUnknown), errors.Is(err, fixedpoint.ErrMalformed):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
