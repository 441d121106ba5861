package handlers

import (
	"net/http"
	"strconv"

	"github.com/finscope/txsync/pkg"
	"github.com/finscope/txsync/pkg/utils"
	"github.com/finscope/txsync/services/ops-api/internal/services"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// QueueHandler serves queue introspection and dead-letter management.
type QueueHandler struct {
	logger  *zap.Logger
	service services.OpsService
}

func NewQueueHandler(logger *zap.Logger, svc services.OpsService) *QueueHandler {
	return &QueueHandler{logger: logger, service: svc}
}

func (h *QueueHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/queues/stats", h.GetStats)
	r.GET("/queues/outcomes", h.GetOutcomes)
	r.GET("/queues/dead-letter", h.GetDeadLetters)
	r.POST("/queues/dead-letter/requeue", h.RequeueDeadLetters)
}

func (h *QueueHandler) GetStats(c *gin.Context) {
	traceID, _ := utils.GetTraceID(c)
	depths, err := h.service.QueueStats(c.Request.Context())
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		c.JSON(resp.Status, resp)
		return
	}
	c.JSON(http.StatusOK, pkg.APIResponse{Data: depths})
}

func (h *QueueHandler) GetOutcomes(c *gin.Context) {
	traceID, _ := utils.GetTraceID(c)
	success := c.DefaultQuery("success", "true") == "true"
	limit := parseLimit(c, 100)

	outcomes, err := h.service.RecentOutcomes(c.Request.Context(), success, limit)
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		c.JSON(resp.Status, resp)
		return
	}
	c.JSON(http.StatusOK, pkg.APIResponse{Data: outcomes})
}

func (h *QueueHandler) GetDeadLetters(c *gin.Context) {
	traceID, _ := utils.GetTraceID(c)
	limit := parseLimit(c, 100)

	entries, err := h.service.DeadLetters(c.Request.Context(), limit)
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		c.JSON(resp.Status, resp)
		return
	}
	c.JSON(http.StatusOK, pkg.APIResponse{Data: entries})
}

func (h *QueueHandler) RequeueDeadLetters(c *gin.Context) {
	traceID, _ := utils.GetTraceID(c)
	max := parseLimit(c, 100)

	requeued, err := h.service.RequeueDeadLetters(c.Request.Context(), max)
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		c.JSON(resp.Status, resp)
		return
	}
	c.JSON(http.StatusOK, pkg.APIResponse{
		Data: map[string]interface{}{
			"requeued": requeued,
		},
	})
}

func parseLimit(c *gin.Context, def int) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(def)))
	if err != nil || limit <= 0 {
		return def
	}
	return limit
}
