package api

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/persistorai/seovault/internal/gateway"
	"github.com/persistorai/seovault/internal/middleware"
	"github.com/persistorai/seovault/internal/models"
)

// ActionHandler exposes gateway actions over HTTP.
type ActionHandler struct {
	runner ActionRunner
	log    *logrus.Logger
}

// NewActionHandler creates an ActionHandler.
func NewActionHandler(runner ActionRunner, log *logrus.Logger) *ActionHandler {
	return &ActionHandler{runner: runner, log: log}
}

// actor returns the authenticated actor or writes a 403.
func actor(c *gin.Context) (models.Actor, bool) {
	a, ok := middleware.ActorFrom(c)
	if !ok {
		respondError(c, http.StatusForbidden, ErrCodeForbidden, "no authenticated actor")
		return models.Actor{}, false
	}
	return a, true
}

// readPayload reads the request body as a raw JSON payload.
func readPayload(c *gin.Context) (json.RawMessage, bool) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "unreadable request body")
		return nil, false
	}
	if len(body) > 0 && !json.Valid(body) {
		respondError(c, http.StatusBadRequest, ErrCodeInvalidRequest, "request body must be JSON")
		return nil, false
	}
	return body, true
}

// run executes name with the given payload and writes the outcome as JSON.
func run(c *gin.Context, runner ActionRunner, log *logrus.Logger, name string, payload json.RawMessage) {
	a, ok := actor(c)
	if !ok {
		return
	}

	outcome, err := runner.Execute(c.Request.Context(), gateway.Request{
		Action:  name,
		Actor:   a,
		Payload: payload,
	})
	if err != nil {
		respondActionError(c, log, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

// Run returns a handler that executes the named action with the request body as payload.
func (h *ActionHandler) Run(name string) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, ok := readPayload(c)
		if !ok {
			return
		}
		run(c, h.runner, h.log, name, payload)
	}
}

// csvStream sets the download headers on the first write, so errors raised
// before any row is produced can still be answered as JSON.
type csvStream struct {
	c       *gin.Context
	started bool
}

func (s *csvStream) Write(p []byte) (int, error) {
	if !s.started {
		s.started = true
		h := s.c.Writer.Header()
		h.Set("Content-Type", "text/csv; charset=utf-8")
		h.Set("Content-Disposition", `attachment; filename="seovault-audit-`+time.Now().UTC().Format("2006-01-02")+`.csv"`)
		h.Set("Cache-Control", "no-store")
		s.c.Status(http.StatusOK)
	}

	n, err := s.c.Writer.Write(p)
	if err == nil {
		s.c.Writer.Flush()
	}
	return n, err
}

// ExportCSV handles POST /api/v1/actions/export_csv.
func (h *ActionHandler) ExportCSV(c *gin.Context) {
	a, ok := actor(c)
	if !ok {
		return
	}

	payload, ok := readPayload(c)
	if !ok {
		return
	}

	out := &csvStream{c: c}

	_, err := h.runner.Execute(c.Request.Context(), gateway.Request{
		Action:  gateway.ActionExportCSV,
		Actor:   a,
		Payload: payload,
		Output:  out,
	})
	if err == nil {
		return
	}

	if out.started {
		// Headers are gone; the truncated body is all the client gets.
		h.log.WithError(err).Warn("csv export aborted mid-stream")
		c.Abort()
		return
	}

	respondActionError(c, h.log, err)
}
