package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/gateway"
)

// AuditHandler serves audit log endpoints.
type AuditHandler struct {
	runner        ActionRunner
	log           *logrus.Logger
	retentionDays int
}

// NewAuditHandler creates an AuditHandler. retentionDays is used by Purge
// when the request does not name one.
func NewAuditHandler(runner ActionRunner, log *logrus.Logger, retentionDays int) *AuditHandler {
	return &AuditHandler{runner: runner, log: log, retentionDays: retentionDays}
}

// Query handles GET /api/v1/audit.
func (h *AuditHandler) Query(c *gin.Context) {
	q := struct {
		Limit     int        `json:"limit,omitempty"`
		EventType string     `json:"event_type,omitempty"`
		Since     *time.Time `json:"since,omitempty"`
	}{
		Limit:     parseInt(c.Query("limit"), 0),
		EventType: c.Query("event_type"),
	}

	if since := c.Query("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid since format, use RFC3339")
			return
		}
		q.Since = &t
	}

	payload, err := json.Marshal(q)
	if err != nil {
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "failed to build query")
		return
	}

	run(c, h.runner, h.log, gateway.ActionListAudit, payload)
}

// Purge handles DELETE /api/v1/audit.
func (h *AuditHandler) Purge(c *gin.Context) {
	retentionDays := h.retentionDays
	if rd := c.Query("retention_days"); rd != "" {
		v, err := strconv.Atoi(rd)
		if err != nil || v < 1 {
			respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "retention_days must be a positive integer")
			return
		}
		retentionDays = v
	}

	payload, err := json.Marshal(map[string]int{"retention_days": retentionDays})
	if err != nil {
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "failed to build request")
		return
	}

	run(c, h.runner, h.log, gateway.ActionPurgeAudit, payload)
}
