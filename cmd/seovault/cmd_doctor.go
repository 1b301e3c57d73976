package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/persistorai/seovault/internal/app"
	"github.com/persistorai/seovault/internal/config"
	"github.com/persistorai/seovault/internal/crypto"
	"github.com/persistorai/seovault/internal/db"
)

func newDoctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "doctor",
		Short:             "Diagnose configuration, storage and keys",
		Long:              "Run diagnostic checks against the profile, storage, schema, master key and rate limiter",
		Args:              cobra.NoArgs,
		PersistentPreRunE: skipApp,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDoctor(cmd.Context())
		},
	}
}

type checkResult struct {
	Name   string
	Passed bool
	Detail string
	Hint   string
}

const doctorTimeout = 5 * time.Second

func runDoctor(ctx context.Context) error {
	fmt.Println("\nseovault Doctor")
	fmt.Println("===============")

	var results []checkResult

	// 1. Profile file.
	cfgPath, _ := configPath()
	if _, err := loadConfigFile(); err != nil {
		results = append(results, checkResult{
			Name: "Config file", Passed: false,
			Detail: cfgPath,
			Hint:   "Run: seovault init (or set the environment variables directly)",
		})
	} else {
		results = append(results, checkResult{
			Name: "Config file", Passed: true,
			Detail: fmt.Sprintf("found (%s)", cfgPath),
		})
	}

	resolvedActor = resolveProfile()
	results = append(results, checkResult{Name: "Actor", Passed: true, Detail: cliActor().ID})

	// 2. Environment.
	cfg, err := config.Load()
	if err != nil {
		results = append(results, checkResult{
			Name: "Configuration", Passed: false,
			Hint: err.Error(),
		})
		return printResults(results)
	}
	results = append(results, checkResult{
		Name: "Configuration", Passed: true,
		Detail: fmt.Sprintf("driver=%s keys=%s limiter=%s", cfg.StorageDriver, cfg.KeyProvider, cfg.RateLimitBackend),
	})

	// 3. Storage, limiter and key provider.
	a, err := app.Open(ctx, cfg, app.NewLogger(cfg))
	if err != nil {
		results = append(results, checkResult{
			Name: "Storage", Passed: false,
			Hint: fmt.Sprintf("Check STORAGE_DRIVER and DATABASE_URL/SQLITE_PATH. Error: %v", err),
		})
		return printResults(results)
	}
	defer a.Close()

	results = append(results, doctorChecks(ctx, a)...)

	return printResults(results)
}

// doctorChecks runs the checks that need an open app.
func doctorChecks(ctx context.Context, a *app.App) []checkResult {
	ctx, cancel := context.WithTimeout(ctx, doctorTimeout)
	defer cancel()

	var results []checkResult

	if err := a.Storage.HealthCheck(ctx); err != nil {
		results = append(results, checkResult{
			Name: "Storage", Passed: false,
			Hint: fmt.Sprintf("Is the database reachable? Error: %v", err),
		})
	} else {
		results = append(results, checkResult{Name: "Storage", Passed: true, Detail: a.Config.StorageDriver})
	}

	want := int64(db.SchemaVersion())
	if v, err := a.SchemaVersion(ctx); err != nil || v < want {
		results = append(results, checkResult{
			Name: "Schema", Passed: false,
			Detail: fmt.Sprintf("version %d of %d", v, want),
			Hint:   "Run: seovault migrate",
		})
	} else {
		results = append(results, checkResult{Name: "Schema", Passed: true, Detail: fmt.Sprintf("version %d", v)})
	}

	if err := a.Vault.Check(ctx); err != nil {
		hint := fmt.Sprintf("Error: %v", err)
		if errors.Is(err, crypto.ErrKeyUnavailable) {
			hint = "Set MASTER_KEY (64 hex chars) or configure KEY_PROVIDER=vault"
		}
		results = append(results, checkResult{Name: "Master key", Passed: false, Hint: hint})
	} else {
		results = append(results, checkResult{Name: "Master key", Passed: true, Detail: a.Vault.PrimaryKeyID()})
	}

	if _, err := a.Limiter.Peek(ctx, "doctor", 1, time.Second); err != nil {
		results = append(results, checkResult{
			Name: "Rate limiter", Passed: false,
			Hint: fmt.Sprintf("Check REDIS_URL. Error: %v", err),
		})
	} else {
		results = append(results, checkResult{Name: "Rate limiter", Passed: true, Detail: a.Config.RateLimitBackend})
	}

	return results
}

func printResults(results []checkResult) error {
	fmt.Println()
	allPassed := true
	for _, r := range results {
		if r.Passed {
			if r.Detail != "" {
				fmt.Printf("✅ %s: %s\n", r.Name, r.Detail)
			} else {
				fmt.Printf("✅ %s\n", r.Name)
			}
		} else {
			allPassed = false
			if r.Detail != "" {
				fmt.Printf("❌ %s: %s\n", r.Name, r.Detail)
			} else {
				fmt.Printf("❌ %s\n", r.Name)
			}
			if r.Hint != "" {
				fmt.Printf("   Hint: %s\n", r.Hint)
			}
		}
	}

	fmt.Println()
	if allPassed {
		fmt.Println("✅ All checks passed!")
		return nil
	}

	fmt.Fprintln(os.Stderr, "❌ Some checks failed.")
	return errors.New("doctor found issues")
}
