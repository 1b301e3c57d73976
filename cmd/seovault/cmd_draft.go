package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/persistorai/seovault/internal/gateway"
	"github.com/persistorai/seovault/internal/models"
)

func newDraftCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "draft",
		Short: "Build drafts and meta suggestions from content",
	}

	cmd.AddCommand(draftApplyCmd())
	cmd.AddCommand(draftMetaCmd())

	return cmd
}

func draftApplyCmd() *cobra.Command {
	var (
		sourceID int64
		file     string
	)

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Create a draft from a source item and a recommendations file",
		Long: `Create a new draft from --source with the recommendations in --file
(JSON: {"title", "outline": [...], "meta_description", "schema"}). The source item
is never modified. Use --file - to read the recommendations from stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, err := readRecommendations(file)
			if err != nil {
				return err
			}

			outcome, err := runAction(cmd.Context(), gateway.ActionApplyDraft,
				models.ApplyDraftRequest{SourceID: sourceID, Recommendations: rec}, nil)
			if err != nil {
				return err
			}

			id := ""
			if outcome.SubjectID != nil {
				id = fmt.Sprint(*outcome.SubjectID)
			}
			output(outcome.Result, id, []string{"DRAFT ID", "SOURCE ID"}, [][]string{{id, fmt.Sprint(sourceID)}})
			return nil
		},
	}

	cmd.Flags().Int64Var(&sourceID, "source", 0, "Source content id")
	cmd.Flags().StringVar(&file, "file", "", "Recommendations JSON file (- for stdin)")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func readRecommendations(path string) (models.Recommendations, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(io.LimitReader(os.Stdin, 1<<20))
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return models.Recommendations{}, fmt.Errorf("reading recommendations: %w", err)
	}

	var rec models.Recommendations
	if err := json.Unmarshal(data, &rec); err != nil {
		return models.Recommendations{}, fmt.Errorf("parsing recommendations: %w", err)
	}
	return rec, nil
}

func draftMetaCmd() *cobra.Command {
	var contentID int64

	cmd := &cobra.Command{
		Use:   "meta",
		Short: "Generate a meta title and description for a content item",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outcome, err := runAction(cmd.Context(), gateway.ActionGenerateMeta,
				map[string]int64{"content_id": contentID}, nil)
			if err != nil {
				return err
			}

			s, _ := outcome.Result.(gateway.MetaSuggestion)
			output(s, s.Title, []string{"TITLE", "DESCRIPTION"}, [][]string{{s.Title, s.Description}})
			return nil
		},
	}

	cmd.Flags().Int64Var(&contentID, "content", 0, "Content id")
	_ = cmd.MarkFlagRequired("content")

	return cmd
}
