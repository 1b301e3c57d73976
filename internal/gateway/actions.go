package gateway

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/persistorai/seovault/internal/models"
	"github.com/persistorai/seovault/internal/service"
	"github.com/persistorai/seovault/internal/settings"
)

const csvFlushEvery = 100

type auditQuery struct {
	Limit     int        `json:"limit"`
	EventType string     `json:"event_type"`
	Since     *time.Time `json:"since"`
}

func (q auditQuery) filter() (models.AuditFilter, error) {
	if q.Limit < 0 {
		return models.AuditFilter{}, invalid(errors.New("limit must not be negative"))
	}
	if len(q.EventType) > 64 {
		return models.AuditFilter{}, invalid(models.ErrFieldTooLong("event_type", 64))
	}
	return models.AuditFilter{Limit: q.Limit, EventType: q.EventType, Since: q.Since}, nil
}

// exportCSV streams matching audit events to the request's Output. A zero
// limit exports every matching row.
func (g *Gateway) exportCSV(inv *invocation) error {
	if inv.req.Output == nil {
		return invalid(errors.New("export requires an output writer"))
	}

	var q auditQuery
	if err := inv.decode(&q); err != nil {
		return err
	}

	f, err := q.filter()
	if err != nil {
		return err
	}

	w := csv.NewWriter(inv.req.Output)
	if err := w.Write([]string{"Type", "Subject ID", "Details", "Created At"}); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	rows := 0
	for ev, err := range g.audit.Export(inv.ctx, f) {
		if err != nil {
			return err
		}

		if err := w.Write(csvRow(ev)); err != nil {
			return fmt.Errorf("writing csv row: %w", err)
		}

		rows++
		if rows%csvFlushEvery == 0 {
			w.Flush()
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("flushing csv: %w", err)
	}

	inv.result = map[string]any{"rows": rows}
	inv.details = map[string]any{"rows": rows}
	if f.EventType != "" {
		inv.details["event_type"] = f.EventType
	}

	return nil
}

func csvRow(ev models.AuditEvent) []string {
	subject := ""
	if ev.SubjectID != nil {
		subject = strconv.FormatInt(*ev.SubjectID, 10)
	}

	details := "{}"
	if ev.Details != nil {
		if b, err := json.Marshal(ev.Details); err == nil {
			details = string(b)
		}
	}

	return []string{ev.EventType, subject, details, ev.CreatedAt.UTC().Format(time.RFC3339)}
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// sanitizeText strips markup and collapses whitespace.
func sanitizeText(s string) string {
	return strings.Join(strings.Fields(tagPattern.ReplaceAllString(s, "")), " ")
}

// applyDraft creates a new draft from a source item and a recommendation
// payload, leaving the source untouched.
func (g *Gateway) applyDraft(inv *invocation) error {
	var req models.ApplyDraftRequest
	if err := inv.decode(&req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return invalid(err)
	}

	src, err := g.content.Get(inv.ctx, req.SourceID)
	if err != nil {
		return err
	}

	rec := req.Recommendations

	title := sanitizeText(rec.Title)
	if title == "" {
		title = src.Title
	}

	meta := make(map[string]string, 2)
	if rec.MetaDescription != "" {
		meta[models.MetaDescriptionKey] = sanitizeText(rec.MetaDescription)
	}
	if len(rec.Schema) > 0 {
		var compact bytes.Buffer
		if err := json.Compact(&compact, rec.Schema); err != nil {
			return invalid(err)
		}
		meta[models.MetaSchemaKey] = compact.String()
	}

	draft, err := g.content.Create(inv.ctx, models.NewContent{
		Type:     src.Type,
		Title:    title,
		Body:     prependOutline(src.Body, rec.Outline),
		Status:   models.StatusDraft,
		SourceID: &src.ID,
		Meta:     meta,
	})
	if err != nil {
		return fmt.Errorf("creating draft: %w", err)
	}

	inv.subject = &draft.ID
	inv.result = map[string]any{"draft_id": draft.ID}
	inv.details = map[string]any{"source": src.ID}

	return nil
}

func prependOutline(body string, outline []string) string {
	var b strings.Builder

	for _, h := range outline {
		h = sanitizeText(h)
		if h == "" {
			continue
		}
		b.WriteString("<h2>")
		b.WriteString(html.EscapeString(h))
		b.WriteString("</h2>\n")
	}

	if b.Len() == 0 {
		return body
	}

	return "\n" + b.String() + body
}

type generateMetaRequest struct {
	ContentID int64 `json:"content_id"`
}

// generateMeta asks the meta generator for suggestions for one content
// item. The API key is only available inside the generator call.
func (g *Gateway) generateMeta(inv *invocation) error {
	var req generateMetaRequest
	if err := inv.decode(&req); err != nil {
		return err
	}
	if req.ContentID <= 0 {
		return invalid(errors.New("content_id is required"))
	}

	c, err := g.content.Get(inv.ctx, req.ContentID)
	if err != nil {
		return err
	}

	var suggestion MetaSuggestion

	err = g.settings.UseSecret(inv.ctx, settings.OpenAIKeyField, func(apiKey []byte) error {
		var genErr error
		suggestion, genErr = g.generator.Generate(inv.ctx, apiKey, c)
		return genErr
	})
	if err != nil {
		return err
	}

	inv.subject = &c.ID
	inv.result = suggestion
	inv.details = map[string]any{"content_id": c.ID}

	return nil
}

// saveSettings persists a map of field values. Only field names reach the
// audit log.
func (g *Gateway) saveSettings(inv *invocation) error {
	var values map[string]string
	if err := inv.decode(&values); err != nil {
		return err
	}
	if len(values) == 0 {
		return invalid(errors.New("no settings submitted"))
	}

	report, err := g.settings.Save(inv.ctx, values)
	if errors.Is(err, settings.ErrUnknownField) || errors.Is(err, settings.ErrInvalidValue) {
		return invalid(err)
	}
	if err != nil {
		return err
	}

	inv.result = report
	inv.details = map[string]any{"fields": report.Updated}
	if len(report.Reencrypted) > 0 {
		inv.details["reencrypted"] = report.Reencrypted
	}

	return nil
}

func (g *Gateway) rotateSecrets(inv *invocation) error {
	report, err := g.settings.Rotate(inv.ctx)
	if err != nil {
		return err
	}

	inv.result = report
	inv.details = map[string]any{
		"key_id":  report.PrimaryKeyID,
		"rotated": len(report.Rotated),
		"failed":  len(report.Failed),
	}

	return nil
}

type purgeRequest struct {
	RetentionDays int `json:"retention_days"`
}

func (g *Gateway) purgeAudit(inv *invocation) error {
	var req purgeRequest
	if err := inv.decode(&req); err != nil {
		return err
	}

	deleted, err := g.audit.Purge(inv.ctx, req.RetentionDays)
	if errors.Is(err, service.ErrInvalidRetention) {
		return invalid(err)
	}
	if err != nil {
		return err
	}

	inv.result = map[string]any{"deleted": deleted}
	inv.details = map[string]any{"retention_days": req.RetentionDays, "deleted": deleted}

	return nil
}

func (g *Gateway) listAudit(inv *invocation) error {
	var q auditQuery
	if err := inv.decode(&q); err != nil {
		return err
	}

	f, err := q.filter()
	if err != nil {
		return err
	}

	events, err := g.audit.List(inv.ctx, f)
	if err != nil {
		return err
	}

	inv.result = events

	return nil
}
