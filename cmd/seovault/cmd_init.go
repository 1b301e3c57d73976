package main

import (
	"bufio"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// skipApp is a PersistentPreRunE for commands that open storage themselves
// or not at all.
func skipApp(*cobra.Command, []string) error { return nil }

func newInitCmd() *cobra.Command {
	var opts initOptions

	cmd := &cobra.Command{
		Use:               "init",
		Short:             "Set up seovault CLI configuration",
		Long:              "Interactive setup wizard that creates ~/.seovault/config.yaml",
		Args:              cobra.NoArgs,
		PersistentPreRunE: skipApp,
		RunE: func(cmd *cobra.Command, _ []string) error {
			nonInteractive := false
			for _, name := range []string{"actor-name", "driver", "dsn", "generate-key"} {
				nonInteractive = nonInteractive || cmd.Flags().Changed(name)
			}
			return runInit(opts, nonInteractive)
		},
	}

	cmd.Flags().StringVar(&opts.actor, "actor-name", "", "Actor name recorded in the audit log (non-interactive mode)")
	cmd.Flags().StringVar(&opts.driver, "driver", "", "Storage driver: sqlite|postgres (non-interactive mode)")
	cmd.Flags().StringVar(&opts.dsn, "dsn", "", "SQLite path or postgres URL (non-interactive mode)")
	cmd.Flags().BoolVar(&opts.generateKey, "generate-key", false, "Generate a master key and store it in the profile")
	return cmd
}

type initOptions struct {
	actor       string
	driver      string
	dsn         string
	generateKey bool
}

func runInit(opts initOptions, nonInteractive bool) error {
	if !nonInteractive {
		fmt.Println("\n  seovault Setup")
		fmt.Println("  ──────────────")
		fmt.Println()

		reader := bufio.NewReader(os.Stdin)
		ask := func(prompt, fallback string) string {
			fmt.Printf("  %s [%s]: ", prompt, fallback)
			line, _ := reader.ReadString('\n')
			if line = strings.TrimSpace(line); line != "" {
				return line
			}
			return fallback
		}

		opts.actor = ask("Actor name", defaultActorName())
		opts.driver = ask("Storage driver (sqlite|postgres)", "sqlite")
		if opts.driver == "postgres" {
			opts.dsn = ask("Postgres URL", "postgres://localhost:5432/seovault")
		} else {
			opts.dsn = ask("SQLite path", defaultSQLitePath())
		}
		opts.generateKey = strings.HasPrefix(strings.ToLower(ask("Generate a master key? (y/n)", "y")), "y")
	}

	if opts.driver == "" {
		opts.driver = "sqlite"
	}
	if opts.driver != "sqlite" && opts.driver != "postgres" {
		return fmt.Errorf("unknown storage driver %q", opts.driver)
	}
	if opts.actor == "" {
		opts.actor = defaultActorName()
	}

	env := map[string]string{"STORAGE_DRIVER": opts.driver}
	switch {
	case opts.driver == "postgres" && opts.dsn == "":
		return fmt.Errorf("postgres URL is required")
	case opts.driver == "postgres":
		env["DATABASE_URL"] = opts.dsn
	case opts.dsn != "":
		env["SQLITE_PATH"] = opts.dsn
	default:
		env["SQLITE_PATH"] = defaultSQLitePath()
	}

	if opts.generateKey {
		key, err := newMasterKey()
		if err != nil {
			return err
		}
		env["MASTER_KEY"] = key
	}

	cfgPath, err := writeConfig(profileConfig{Actor: opts.actor, Env: env})
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	if nonInteractive {
		fmt.Printf("Config saved to %s\n", cfgPath)
	} else {
		fmt.Printf("\n  ✓ Config saved to %s\n", cfgPath)
		fmt.Println()
		fmt.Println("  Next steps:")
		fmt.Println("    seovault migrate         # Create the schema")
		fmt.Println("    seovault doctor          # Full diagnostic check")
		fmt.Println("    seovault secrets show    # View settings")
		fmt.Println()
	}

	if opts.generateKey {
		fmt.Fprintln(os.Stderr, "The master key is stored in the profile. Back it up: secrets cannot be decrypted without it.")
	}

	return nil
}

func defaultActorName() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "operator"
}

func defaultSQLitePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "seovault.db"
	}
	return filepath.Join(home, ".seovault", "seovault.db")
}

func newMasterKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generating master key: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// writeConfig stores p as the default profile, keeping other profiles.
func writeConfig(p profileConfig) (string, error) {
	cfgPath, err := configPath()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(cfgPath), 0o700); err != nil {
		return "", err
	}

	cfg, err := loadConfigFile()
	if err != nil || cfg.Profiles == nil {
		cfg = &configFile{Profiles: map[string]profileConfig{}}
	}
	cfg.Profiles["default"] = p
	if cfg.ActiveProfile == "" {
		cfg.ActiveProfile = "default"
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
		return "", err
	}

	return cfgPath, nil
}
