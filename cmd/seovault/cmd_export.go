package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/persistorai/seovault/internal/gateway"
)

// auditQueryFlags are shared by export and audit list.
type auditQueryFlags struct {
	eventType string
	since     string
	limit     int
}

func (f *auditQueryFlags) register(cmd *cobra.Command, defaultLimit int) {
	cmd.Flags().StringVar(&f.eventType, "event-type", "", "Only events of this type")
	cmd.Flags().StringVar(&f.since, "since", "", "Only events at or after this RFC3339 time, or a duration like 24h")
	cmd.Flags().IntVar(&f.limit, "limit", defaultLimit, "Maximum number of events (0 means no limit for export)")
}

func (f *auditQueryFlags) payload(now time.Time) (map[string]any, error) {
	p := map[string]any{"limit": f.limit}
	if f.eventType != "" {
		p["event_type"] = f.eventType
	}
	if f.since != "" {
		since, err := parseSince(f.since, now)
		if err != nil {
			return nil, err
		}
		p["since"] = since
	}
	return p, nil
}

// parseSince accepts an RFC3339 timestamp or a duration back from now.
func parseSince(s string, now time.Time) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return time.Time{}, fmt.Errorf("--since must be RFC3339 or a positive duration, got %q", s)
	}
	return now.Add(-d).UTC(), nil
}

func newExportCmd() *cobra.Command {
	var (
		outputPath string
		query      auditQueryFlags
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the audit log as CSV",
		Long: `Stream audit events to a CSV file, newest first. The export runs through the
export_csv action, so it is rate limited and recorded in the audit log itself.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := query.payload(time.Now())
			if err != nil {
				return err
			}

			if outputPath == "" {
				outputPath = fmt.Sprintf("seovault-audit-%s.csv",
					time.Now().UTC().Format("20060102T150405Z"))
			}

			if outputPath == "-" {
				_, err := runAction(cmd.Context(), gateway.ActionExportCSV, payload, os.Stdout)
				return err
			}

			f, err := os.OpenFile(outputPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
			if err != nil {
				return fmt.Errorf("creating export file: %w", err)
			}

			outcome, err := runAction(cmd.Context(), gateway.ActionExportCSV, payload, f)
			if cerr := f.Close(); err == nil && cerr != nil {
				err = fmt.Errorf("writing export file: %w", cerr)
			}
			if err != nil {
				os.Remove(outputPath) //nolint:errcheck // best-effort cleanup of a partial file
				return err
			}

			rows := 0
			if r, ok := outcome.Result.(map[string]any); ok {
				if n, ok := r["rows"].(int); ok {
					rows = n
				}
			}
			fmt.Fprintf(os.Stderr, "Exported %d events to %s\n", rows, outputPath)

			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output file path (default: seovault-audit-<timestamp>.csv, use - for stdout)")
	query.register(cmd, 0)

	return cmd
}
