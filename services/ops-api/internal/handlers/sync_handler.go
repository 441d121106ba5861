package handlers

import (
	"net/http"
	"time"

	"github.com/finscope/txsync/pkg"
	"github.com/finscope/txsync/pkg/utils"
	"github.com/finscope/txsync/services/ops-api/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SyncHandler serves sync history and manual sync triggers.
type SyncHandler struct {
	logger  *zap.Logger
	service services.OpsService
}

func NewSyncHandler(logger *zap.Logger, svc services.OpsService) *SyncHandler {
	return &SyncHandler{logger: logger, service: svc}
}

func (h *SyncHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/sync-logs", h.GetSyncLogs)
	r.POST("/sync-logs/reap", h.ReapSyncLogs)
	r.GET("/scheduler/runs", h.GetSchedulerRuns)
	r.GET("/audit/:correlation_id", h.GetAuditTrail)
	r.POST("/accounts/:id/sync", h.TriggerAccountSync)
	r.POST("/users/:id/sync", h.TriggerUserSync)
}

type triggerSyncRequest struct {
	SinceTS *time.Time `json:"since_ts"`
}

func (h *SyncHandler) GetSyncLogs(c *gin.Context) {
	traceID, _ := utils.GetTraceID(c)

	var userID, accountID *uuid.UUID
	if raw := c.Query("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.badRequest(c, "invalid user_id", err)
			return
		}
		userID = &id
	}
	if raw := c.Query("account_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			h.badRequest(c, "invalid account_id", err)
			return
		}
		accountID = &id
	}

	logs, err := h.service.RecentSyncLogs(c.Request.Context(), userID, accountID, parseLimit(c, 50))
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		c.JSON(resp.Status, resp)
		return
	}
	c.JSON(http.StatusOK, pkg.APIResponse{Data: logs})
}

func (h *SyncHandler) ReapSyncLogs(c *gin.Context) {
	traceID, _ := utils.GetTraceID(c)
	reaped, err := h.service.ReapSyncLogs(c.Request.Context())
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		c.JSON(resp.Status, resp)
		return
	}
	c.JSON(http.StatusOK, pkg.APIResponse{
		Data: map[string]interface{}{
			"reaped": reaped,
		},
	})
}

func (h *SyncHandler) GetSchedulerRuns(c *gin.Context) {
	traceID, _ := utils.GetTraceID(c)
	runs, err := h.service.RecentSchedulerRuns(c.Request.Context(), parseLimit(c, 50))
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		c.JSON(resp.Status, resp)
		return
	}
	c.JSON(http.StatusOK, pkg.APIResponse{Data: runs})
}

func (h *SyncHandler) GetAuditTrail(c *gin.Context) {
	traceID, _ := utils.GetTraceID(c)
	correlationID, err := uuid.Parse(c.Param("correlation_id"))
	if err != nil {
		h.badRequest(c, "invalid correlation id", err)
		return
	}
	events, err := h.service.AuditTrail(c.Request.Context(), correlationID)
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		c.JSON(resp.Status, resp)
		return
	}
	c.JSON(http.StatusOK, pkg.APIResponse{Data: events})
}

func (h *SyncHandler) TriggerAccountSync(c *gin.Context) {
	traceID, _ := utils.GetTraceID(c)
	accountID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.badRequest(c, "invalid account id", err)
		return
	}

	var req triggerSyncRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			h.badRequest(c, "invalid request body", err)
			return
		}
	}

	if err := h.service.TriggerAccountSync(c.Request.Context(), traceID, accountID, req.SinceTS); err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		c.JSON(resp.Status, resp)
		return
	}
	c.JSON(http.StatusAccepted, pkg.APIResponse{
		Data: map[string]interface{}{
			"account_id": accountID.String(),
			"status":     "enqueued",
		},
	})
}

func (h *SyncHandler) TriggerUserSync(c *gin.Context) {
	traceID, _ := utils.GetTraceID(c)
	userID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		h.badRequest(c, "invalid user id", err)
		return
	}

	enqueued, err := h.service.TriggerUserSync(c.Request.Context(), traceID, userID)
	if err != nil {
		resp := pkg.ToErrorResponse(h.logger, traceID, err)
		c.JSON(resp.Status, resp)
		return
	}
	c.JSON(http.StatusAccepted, pkg.APIResponse{
		Data: map[string]interface{}{
			"user_id":  userID.String(),
			"enqueued": enqueued,
		},
	})
}

func (h *SyncHandler) badRequest(c *gin.Context, msg string, err error) {
	c.JSON(http.StatusBadRequest, pkg.ErrorResponse{
		Code:    pkg.ErrInvalidInputCode.Code,
		Message: msg,
		Details: err.Error(),
	})
}
