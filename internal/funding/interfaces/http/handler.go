// Package http 资金费服务接口
package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/hemanthK-supraoracles/perpetuals/internal/funding/application"
	"github.com/hemanthK-supraoracles/perpetuals/internal/funding/domain"
	marketdomain "github.com/hemanthK-supraoracles/perpetuals/internal/market/domain"
	"github.com/hemanthK-supraoracles/perpetuals/pkg/middleware"
)

type Handler struct {
	service *application.Service
}

func NewHandler(service *application.Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/funding")
	{
		g.POST("/collect/:symbol", h.CollectPayments)
		g.GET("/payments", h.ListPayments)
		g.GET("/rates/:symbol", h.ListRateHistory)
	}
}

func (h *Handler) CollectPayments(c *gin.Context) {
	processed, err := h.service.TriggerCollection(
		c.Request.Context(), middleware.CallerAddress(c), c.Param("symbol"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": c.Param("symbol"), "processed": processed})
}

func (h *Handler) ListPayments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	views, err := h.service.ListPayments(c.Request.Context(), middleware.CallerAddress(c), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payments": views})
}

func (h *Handler) ListRateHistory(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	views, err := h.service.ListRateHistory(c.Request.Context(), c.Param("symbol"), limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rates": views})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrPermissionDenied):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	case errors.Is(err, marketdomain.ErrMarketNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
