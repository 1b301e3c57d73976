package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/persistorai/seovault/internal/models"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys for the HTTP API",
	}

	cmd.AddCommand(keysCreateCmd())

	return cmd
}

func keysCreateCmd() *cobra.Command {
	var (
		actor string
		caps  []string
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key; the raw key is printed once",
		Long: fmt.Sprintf(`Issue an API key for --actor with the given capabilities.
Only a hash is stored, so the key cannot be shown again.

Capabilities: %s`, capabilityList()),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parsed, err := parseCapabilities(caps)
			if err != nil {
				return err
			}

			raw, err := svc.APIKeys.Create(cmd.Context(), actor, parsed)
			if err != nil {
				return err
			}

			output(map[string]any{"actor": actor, "capabilities": parsed, "api_key": raw}, raw,
				[]string{"ACTOR", "CAPABILITIES", "API KEY"},
				[][]string{{actor, strings.Join(caps, ","), raw}})

			if flagFmt != "quiet" {
				fmt.Fprintln(os.Stderr, "Store this key now; it will not be shown again.")
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&actor, "actor", "", "Actor id recorded for requests made with the key")
	cmd.Flags().StringSliceVar(&caps, "cap", nil, "Capability to grant (repeatable or comma separated)")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("cap")

	return cmd
}

func capabilityList() string {
	names := make([]string, len(models.AllCapabilities))
	for i, c := range models.AllCapabilities {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func parseCapabilities(raw []string) ([]models.Capability, error) {
	out := make([]models.Capability, 0, len(raw))
	seen := make(map[models.Capability]bool, len(raw))
	for _, s := range raw {
		c, err := models.ParseCapability(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("at least one --cap is required")
	}
	return out, nil
}
