package handler

import (
	"net/http"
	"strconv"

	"github.com/Rzx-x/Ticket-Agent/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AnalyticsHandler struct {
	svc *service.AnalyticsService
	log *zap.Logger
}

func NewAnalyticsHandler(svc *service.AnalyticsService, log *zap.Logger) *AnalyticsHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &AnalyticsHandler{svc: svc, log: log.Named("analytics")}
}

func (h *AnalyticsHandler) Dashboard(c *gin.Context) {
	d, err := h.svc.Dashboard(c.Request.Context())
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (h *AnalyticsHandler) Trends(c *gin.Context) {
	days := service.DefaultTrendDays
	if v := c.Query("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > service.MaxTrendDays {
			badRequest(c, "days must be between 1 and 90")
			return
		}
		days = n
	}
	tr, err := h.svc.Trends(c.Request.Context(), days)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, tr)
}
