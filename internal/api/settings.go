package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/gateway"
	"github.com/persistorai/seovault/internal/models"
)

// SettingsHandler serves the settings screen endpoints.
type SettingsHandler struct {
	runner  ActionRunner
	preview SettingsPreviewer
	log     *logrus.Logger
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(runner ActionRunner, preview SettingsPreviewer, log *logrus.Logger) *SettingsHandler {
	return &SettingsHandler{runner: runner, preview: preview, log: log}
}

// Get handles GET /api/v1/settings. Secret values are masked.
func (h *SettingsHandler) Get(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}
	if !a.Can(models.CapManageSettings) {
		respondError(c, http.StatusForbidden, ErrCodeForbidden, "missing capability for this action")
		return
	}

	fields, err := h.preview.Preview(c.Request.Context())
	if err != nil {
		h.log.WithError(err).Error("failed to load settings")
		respondError(c, http.StatusInternalServerError, ErrCodeInternalError, "failed to load settings")
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": fields})
}

// Put handles PUT /api/v1/settings. The body is a flat object of field
// name to value; an empty secret keeps the stored one.
func (h *SettingsHandler) Put(c *gin.Context) {
	payload, ok := readPayload(c)
	if !ok {
		return
	}
	run(c, h.runner, h.log, gateway.ActionSaveSettings, payload)
}

// Rotate handles POST /api/v1/settings/rotate.
func (h *SettingsHandler) Rotate(c *gin.Context) {
	run(c, h.runner, h.log, gateway.ActionRotateSecrets, nil)
}
