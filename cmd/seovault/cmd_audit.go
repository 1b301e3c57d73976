package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/persistorai/seovault/internal/gateway"
	"github.com/persistorai/seovault/internal/models"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Read and prune the audit log",
	}

	cmd.AddCommand(auditListCmd())
	cmd.AddCommand(auditPurgeCmd())

	return cmd
}

func auditListCmd() *cobra.Command {
	var query auditQueryFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent audit events, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := query.payload(time.Now())
			if err != nil {
				return err
			}

			outcome, err := runAction(cmd.Context(), gateway.ActionListAudit, payload, nil)
			if err != nil {
				return err
			}

			events, _ := outcome.Result.([]models.AuditEvent)
			quiet := ""
			if len(events) > 0 {
				quiet = fmt.Sprint(events[0].ID)
			}
			output(events, quiet, auditHeaders, auditRows(events))
			return nil
		},
	}

	query.register(cmd, models.DefaultAuditListLimit)

	return cmd
}

func auditPurgeCmd() *cobra.Command {
	var days int

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete audit events older than --days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("days") {
				days = svc.Config.AuditRetentionDays
			}

			outcome, err := runAction(cmd.Context(), gateway.ActionPurgeAudit, map[string]int{"retention_days": days}, nil)
			if err != nil {
				return err
			}

			deleted := 0
			if r, ok := outcome.Result.(map[string]any); ok {
				deleted, _ = r["deleted"].(int)
			}
			output(outcome.Result, fmt.Sprint(deleted), []string{"RETENTION DAYS", "DELETED"},
				[][]string{{fmt.Sprint(days), fmt.Sprint(deleted)}})
			return nil
		},
	}

	cmd.Flags().IntVar(&days, "days", 90, "Keep events newer than this many days (default: AUDIT_RETENTION_DAYS)")

	return cmd
}
