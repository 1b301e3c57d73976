// Command seovault is the operator CLI. It runs gateway actions in-process
// against the configured storage, so every change it makes is rate limited
// and audited like a web request.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/user"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/persistorai/seovault/internal/app"
	"github.com/persistorai/seovault/internal/config"
	"github.com/persistorai/seovault/internal/gateway"
	"github.com/persistorai/seovault/internal/models"
)

// Build-time variables set via ldflags.
var (
	commit    = ""
	buildDate = ""
)

var (
	svc         *app.App
	stopWorker  context.CancelFunc
	workerDone  chan struct{}
	flagProfile string
	flagActor   string
	flagFmt     string
)

func versionString() string {
	if commit != "" && buildDate != "" {
		return fmt.Sprintf("seovault version %s (commit: %s, built: %s)", config.Version, commit, buildDate)
	}
	return fmt.Sprintf("seovault version %s-dev", config.Version)
}

// configFile is ~/.seovault/config.yaml.
type configFile struct {
	Profiles      map[string]profileConfig `yaml:"profiles"`
	ActiveProfile string                   `yaml:"active_profile"`
}

// profileConfig names the actor recorded in the audit log and the
// environment (storage, keys, limiter) the CLI runs with.
type profileConfig struct {
	Actor string            `yaml:"actor"`
	Env   map[string]string `yaml:"env,omitempty"`
}

func configPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".seovault", "config.yaml"), nil
}

func loadConfigFile() (*configFile, error) {
	path, err := configPath()
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg configFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return &cfg, nil
}

// resolveProfile applies the selected profile: its env entries fill
// variables that are not already set, and its actor is used unless --actor
// or SEOVAULT_ACTOR is given. It returns the resolved actor id.
func resolveProfile() string {
	actor := flagActor
	if actor == "" {
		actor = os.Getenv("SEOVAULT_ACTOR")
	}

	if cfg, err := loadConfigFile(); err == nil && cfg.Profiles != nil {
		name := flagProfile
		if name == "" {
			name = cfg.ActiveProfile
		}
		if name == "" {
			name = "default"
		}
		if p, ok := cfg.Profiles[name]; ok {
			for k, v := range p.Env {
				if _, set := os.LookupEnv(k); !set {
					os.Setenv(k, v) //nolint:errcheck // valid key from yaml
				}
			}
			if actor == "" {
				actor = p.Actor
			}
		}
	}

	if actor == "" {
		if u, err := user.Current(); err == nil && u.Username != "" {
			actor = u.Username
		} else {
			actor = "operator"
		}
	}

	return actor
}

// cliActor is the local operator. Anyone who can run the CLI can already
// read the database and the master key, so it holds every capability.
func cliActor() models.Actor {
	return models.Actor{ID: "cli:" + resolvedActor, Capabilities: models.AllCapabilities}
}

var resolvedActor string

// openApp builds the application for commands that touch storage.
func openApp(cmd *cobra.Command, _ []string) error {
	resolvedActor = resolveProfile()

	if _, set := os.LookupEnv("LOG_LEVEL"); !set {
		os.Setenv("LOG_LEVEL", "warn") //nolint:errcheck // constant key
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	a, err := app.Open(cmd.Context(), cfg, app.NewLogger(cfg), gateway.WithActorScope())
	if err != nil {
		return err
	}
	svc = a

	ctx, cancel := context.WithCancel(context.WithoutCancel(cmd.Context()))
	stopWorker = cancel
	workerDone = make(chan struct{})
	go func() {
		defer close(workerDone)
		a.Worker.Run(ctx)
	}()

	return nil
}

// closeApp flushes queued audit events and releases connections.
func closeApp() {
	if svc == nil {
		return
	}
	stopWorker()
	<-workerDone
	svc.Close()
	svc = nil
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "seovault",
		Short:             "seovault CLI: secrets, exports and drafts with rate limits and an audit trail",
		Version:           versionString(),
		PersistentPreRunE: openApp,
		SilenceUsage:      true,
	}
	rootCmd.SetVersionTemplate("{{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&flagProfile, "profile", "", "Profile from ~/.seovault/config.yaml (default: active_profile)")
	rootCmd.PersistentFlags().StringVar(&flagActor, "actor", "", "Actor name recorded in the audit log (env: SEOVAULT_ACTOR)")
	rootCmd.PersistentFlags().StringVar(&flagFmt, "format", "table", "Output format: json|table|quiet")

	rootCmd.AddCommand(newInitCmd())
	rootCmd.AddCommand(newDoctorCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newSecretsCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newDraftCmd())
	rootCmd.AddCommand(newAuditCmd())
	rootCmd.AddCommand(newKeysCmd())
	rootCmd.AddCommand(newContentCmd())

	return rootCmd
}

func main() {
	rootCmd := newRootCmd()
	err := rootCmd.ExecuteContext(context.Background())
	closeApp()
	if err != nil {
		os.Exit(1)
	}
}

// runAction executes a gateway action as the CLI actor.
func runAction(ctx context.Context, action string, payload any, out io.Writer) (*gateway.Outcome, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding payload: %w", err)
		}
		raw = b
	}

	outcome, err := svc.Gateway.Execute(ctx, gateway.Request{
		Action:  action,
		Actor:   cliActor(),
		Payload: raw,
		Output:  out,
	})
	if err != nil {
		return nil, describe(err)
	}

	return outcome, nil
}
