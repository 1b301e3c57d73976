package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/persistorai/seovault/internal/crypto"
	"github.com/persistorai/seovault/internal/gateway"
	"github.com/persistorai/seovault/internal/models"
)

func formatJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "Error: encode json: %v\n", err)
		os.Exit(1)
	}
}

func formatTable(headers []string, rows [][]string) {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(widths) && len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
	}

	printRow := func(cells []string) {
		parts := make([]string, len(cells))
		for i, cell := range cells {
			w := 0
			if i < len(widths) {
				w = widths[i]
			}
			parts[i] = fmt.Sprintf("%-*s", w, cell)
		}
		fmt.Println(strings.Join(parts, "  "))
	}

	printRow(headers)
	seps := make([]string, len(headers))
	for i, w := range widths {
		seps[i] = strings.Repeat("-", w)
	}
	printRow(seps)
	for _, row := range rows {
		printRow(row)
	}
}

func formatQuiet(id string) {
	if id != "" {
		fmt.Println(id)
	}
}

// output prints v in the selected format. Table output needs headers;
// without them it falls back to JSON.
func output(v any, quietVal string, headers []string, rows [][]string) {
	switch flagFmt {
	case "quiet":
		formatQuiet(quietVal)
	case "table":
		if headers == nil {
			formatJSON(v)
			return
		}
		formatTable(headers, rows)
	default:
		formatJSON(v)
	}
}

func auditRows(events []models.AuditEvent) [][]string {
	rows := make([][]string, 0, len(events))
	for _, ev := range events {
		subject := ""
		if ev.SubjectID != nil {
			subject = fmt.Sprint(*ev.SubjectID)
		}
		details := ""
		if len(ev.Details) > 0 {
			b, err := json.Marshal(ev.Details)
			if err == nil {
				details = string(b)
			}
		}
		rows = append(rows, []string{
			fmt.Sprint(ev.ID),
			ev.EventType,
			subject,
			ev.Actor,
			ev.CreatedAt.UTC().Format(time.RFC3339),
			details,
		})
	}
	return rows
}

var auditHeaders = []string{"ID", "TYPE", "SUBJECT", "ACTOR", "CREATED", "DETAILS"}

// describe turns gateway errors into operator-facing messages.
func describe(err error) error {
	var rl *gateway.RateLimitedError
	switch {
	case errors.As(err, &rl):
		return fmt.Errorf("rate limited: try again in %ds", rl.RetryAfter)
	case errors.Is(err, gateway.ErrLimiterUnavailable):
		return errors.New("rate limiter unavailable, check REDIS_URL or RATELIMIT_BACKEND")
	case errors.Is(err, gateway.ErrGeneratorUnavailable):
		return errors.New("no meta generator is configured")
	case errors.Is(err, models.ErrContentNotFound):
		return errors.New("content not found")
	case errors.Is(err, crypto.ErrTamperedOrInvalid):
		return errors.New("stored credential is unreadable, re-enter it with: seovault secrets set")
	case errors.Is(err, crypto.ErrKeyUnavailable):
		return errors.New("master key unavailable, set MASTER_KEY or configure the vault provider")
	}
	return err
}
