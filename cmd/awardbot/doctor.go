package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"awardbot/internal/config"
	"awardbot/internal/generator"
	"awardbot/internal/store"

	"github.com/spf13/cobra"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your awardbot installation",
		Long: `Verifies that awardbot's configuration, record store, content generator
and platforms are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("awardbot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			passed := 0
			failed := 0
			warned := 0

			// 1. Config file exists
			if _, err := os.Stat(config.ExpandPath(cfgPath)); err != nil {
				printFail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'awardbot init' to create a default configuration.\n")
				return fmt.Errorf("config file missing")
			}
			printPass("Config file", cfgPath)
			passed++

			// 2. Config loads and validates
			cfg, err := config.Load(cfgPath)
			if err != nil {
				printFail("Config validation", err.Error())
				fmt.Printf("\n%d passed, 1 failed\n", passed)
				return fmt.Errorf("config invalid")
			}
			printPass("Config validation", "valid")
			passed++

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			// 3. Record store opens and migrates
			if err := checkStore(ctx, cfg.Store.DBPath); err != nil {
				printFail("Record store", err.Error())
				failed++
			} else {
				printPass("Record store", cfg.Store.DBPath)
				passed++
			}

			// 4. Content generator reachable
			gen, err := generator.New(cfg.Content, logger)
			if err != nil {
				printFail("Generator", err.Error())
				failed++
			} else if err := gen.Healthy(ctx); err != nil {
				printFail("Generator", fmt.Sprintf("%s: %v", gen.Name(), err))
				failed++
			} else {
				printPass("Generator", gen.Name())
				passed++
			}
			if cfg.Content.Fallback {
				printWarn("Fallback", "template copy is published when the model fails")
				warned++
			}

			// 5. Platforms
			usable := 0
			for _, p := range cfg.Platforms.All() {
				switch {
				case !p.Common.Enabled:
					fmt.Printf("  [----] %-20s disabled\n", "Platform: "+p.Name)
				case len(p.Missing) > 0:
					printWarn("Platform: "+p.Name, "enabled but missing "+strings.Join(p.Missing, ", "))
					warned++
				default:
					printPass("Platform: "+p.Name, "configured")
					passed++
					usable++
				}
			}
			if usable == 0 {
				printFail("Platforms", "no platform is enabled and configured")
				failed++
			}

			// 6. Metrics port
			if cfg.Metrics.Enabled {
				if err := checkAddr(cfg.Metrics.Addr); err != nil {
					printWarn("Metrics addr", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Addr, err))
					warned++
				} else {
					printPass("Metrics addr", cfg.Metrics.Addr+" available")
					passed++
				}
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					printWarn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
					warned++
				} else {
					printPass("Log file", cfg.General.LogFile)
					passed++
				}
			}

			// Summary
			fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
			fmt.Printf("Results: %d passed, %d warnings, %d failed\n", passed, warned, failed)
			if failed > 0 {
				fmt.Printf("\nPlease fix the failed checks before running awardbot.\n")
				return fmt.Errorf("%d check(s) failed", failed)
			}
			if warned > 0 {
				fmt.Printf("\nawardbot should work but consider fixing the warnings.\n")
			} else {
				fmt.Printf("\nAll checks passed! awardbot is ready to run.\n")
			}
			return nil
		},
	}
}

func checkStore(ctx context.Context, dbPath string) error {
	st, err := store.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.DB().PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}
	schema, err := store.GetSchemaVersion(st.DB())
	if err != nil {
		return fmt.Errorf("schema version: %w", err)
	}
	if schema == 0 {
		return fmt.Errorf("schema not migrated")
	}
	if _, err := st.ListIncomplete(ctx); err != nil {
		return fmt.Errorf("not readable: %w", err)
	}
	return nil
}

func checkAddr(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

func printPass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func printFail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func printWarn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}
