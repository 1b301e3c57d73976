package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/persistorai/seovault/internal/gateway"
	"github.com/persistorai/seovault/internal/settings"
)

func newSecretsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "secrets",
		Aliases: []string{"settings"},
		Short:   "Manage plugin settings and encrypted credentials",
	}

	cmd.AddCommand(secretsShowCmd())
	cmd.AddCommand(secretsSetCmd())
	cmd.AddCommand(secretsRotateCmd())

	return cmd
}

func secretsShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "List settings; secrets are masked and never decrypted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fields, err := svc.Settings.Preview(cmd.Context())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(fields))
			for _, f := range fields {
				state := "unset"
				switch {
				case f.Legacy:
					state = "legacy plaintext"
				case f.Set && f.KeyID != "":
					state = "encrypted (" + f.KeyID + ")"
				case f.Set:
					state = "set"
				}
				rows = append(rows, []string{f.Name, f.Value, state})
			}

			output(fields, "", []string{"FIELD", "VALUE", "STATE"}, rows)
			return nil
		},
	}
}

func secretsSetCmd() *cobra.Command {
	var value string

	cmd := &cobra.Command{
		Use:   "set <field>",
		Short: "Set one setting; secret values are read without echo",
		Long: `Set one setting. Secret fields are encrypted under the primary master key
before they are stored. Without --value the value is prompted for (hidden when
stdin is a terminal) or read as one line from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			field := args[0]

			if !cmd.Flags().Changed("value") {
				v, err := readValue(os.Stdin, field)
				if err != nil {
					return err
				}
				value = v
			}

			outcome, err := runAction(cmd.Context(), gateway.ActionSaveSettings, map[string]string{field: value}, nil)
			if err != nil {
				return err
			}

			report, _ := outcome.Result.(settings.SaveReport)
			output(report, strings.Join(report.Updated, "\n"), []string{"UPDATED", "KEPT", "REENCRYPTED"}, [][]string{{
				strings.Join(report.Updated, ","),
				strings.Join(report.Kept, ","),
				strings.Join(report.Reencrypted, ","),
			}})
			return nil
		},
	}

	cmd.Flags().StringVar(&value, "value", "", "Value to store (avoid for secrets: it lands in shell history)")

	return cmd
}

// readValue prompts on a terminal without echo, or reads one line from a
// pipe.
func readValue(in *os.File, field string) (string, error) {
	fd := int(in.Fd()) //nolint:gosec // fd fits in int
	if term.IsTerminal(fd) {
		fmt.Fprintf(os.Stderr, "%s: ", field)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading value: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	return readLine(in)
}

func readLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading value: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func secretsRotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Re-encrypt stored secrets under the primary master key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			outcome, err := runAction(cmd.Context(), gateway.ActionRotateSecrets, nil, nil)
			if err != nil {
				return err
			}

			report, _ := outcome.Result.(settings.RotateReport)
			output(report, report.PrimaryKeyID, []string{"KEY ID", "ROTATED", "CURRENT", "FAILED"}, [][]string{{
				report.PrimaryKeyID,
				strings.Join(report.Rotated, ","),
				strings.Join(report.Current, ","),
				strings.Join(report.Failed, ","),
			}})

			if len(report.Failed) > 0 {
				return fmt.Errorf("%d field(s) could not be decrypted; re-enter them with: seovault secrets set <field>", len(report.Failed))
			}
			return nil
		},
	}
}
