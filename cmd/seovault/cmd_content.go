package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/persistorai/seovault/internal/models"
)

func newContentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "content",
		Short: "Manage content items",
	}

	cmd.AddCommand(contentAddCmd())
	cmd.AddCommand(contentGetCmd())

	return cmd
}

func contentAddCmd() *cobra.Command {
	var (
		title    string
		body     string
		bodyFile string
		typ      string
		status   string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a content item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if bodyFile != "" {
				data, err := os.ReadFile(bodyFile)
				if err != nil {
					return fmt.Errorf("reading body: %w", err)
				}
				body = string(data)
			}

			ctx := cmd.Context()

			c, err := svc.Storage.Content().Create(ctx, models.NewContent{
				Type:   typ,
				Title:  title,
				Body:   body,
				Status: status,
			})
			if err != nil {
				return err
			}

			if _, err := svc.Audit.Append(ctx, models.NewAuditEvent{
				EventType: models.EventContentCreated,
				SubjectID: &c.ID,
				Actor:     cliActor().ID,
				Details:   map[string]any{"type": c.Type, "status": c.Status},
			}); err != nil {
				return fmt.Errorf("content %d created but not audited: %w", c.ID, err)
			}

			output(c, fmt.Sprint(c.ID), contentHeaders, contentRows(c))
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "Title")
	cmd.Flags().StringVar(&body, "body", "", "Body HTML")
	cmd.Flags().StringVar(&bodyFile, "body-file", "", "Read the body from a file")
	cmd.Flags().StringVar(&typ, "type", "post", "Content type")
	cmd.Flags().StringVar(&status, "status", models.StatusDraft, "Status (draft|publish)")
	_ = cmd.MarkFlagRequired("title")
	cmd.MarkFlagsMutuallyExclusive("body", "body-file")

	return cmd
}

func contentGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a content item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var id int64
			if _, err := fmt.Sscan(args[0], &id); err != nil || id <= 0 {
				return fmt.Errorf("invalid content id %q", args[0])
			}

			c, err := svc.Storage.Content().Get(cmd.Context(), id)
			if err != nil {
				return describe(err)
			}

			output(c, fmt.Sprint(c.ID), contentHeaders, contentRows(c))
			return nil
		},
	}
}

var contentHeaders = []string{"ID", "TYPE", "STATUS", "SOURCE", "TITLE"}

func contentRows(c *models.Content) [][]string {
	source := ""
	if c.SourceID != nil {
		source = fmt.Sprint(*c.SourceID)
	}
	return [][]string{{fmt.Sprint(c.ID), c.Type, c.Status, source, c.Title}}
}
