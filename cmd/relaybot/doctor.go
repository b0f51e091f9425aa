package main

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"relaybot/internal/config"
	"relaybot/internal/store"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your relaybot installation",
		Long: `Verifies that relaybot's configuration, channel credentials, database and
metrics listener are correctly set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("relaybot doctor v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r doctorReport

			// 1. Config file exists
			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s (using defaults)", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			// 2. Config loads and validates
			cfg, err := config.LoadOrDefault(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.finish()
			}
			r.pass("Config validation", "valid")

			// 3. Channels
			enabled := cfg.EnabledChannels()
			if len(enabled) == 0 {
				r.fail("Channels", "no channels enabled")
			} else {
				r.pass("Channels", strings.Join(enabled, ", "))
			}
			for name, tok := range map[string]string{
				"telegram": cfg.Channels.Telegram.Token,
				"discord":  cfg.Channels.Discord.Token,
				"slack":    cfg.Channels.Slack.BotToken,
			} {
				if strings.Contains(tok, "${") {
					r.warn("Token: "+name, "contains an unresolved ${VAR} reference")
				}
			}

			// 4. Transcription
			switch tr := cfg.Transcription; {
			case !tr.Enabled:
				r.warn("Transcription", "disabled; voice notes arrive as unavailable")
			case tr.APIKey == "":
				r.warn("Transcription", "no API key (set transcription.apiKey or ANTHROPIC_API_KEY)")
			default:
				r.pass("Transcription", tr.APIBase)
			}

			// 5. Database writable and migrated
			if err := checkDatabase(cfg.Store.DBPath); err != nil {
				r.fail("Database", err.Error())
			} else {
				r.pass("Database", cfg.Store.DBPath)
				if st, err := store.Open(cfg.Store.DBPath, logger); err != nil {
					r.fail("Schema", err.Error())
				} else {
					v, _ := store.GetSchemaVersion(st.DB())
					n := len(st.RegisteredGroups())
					st.Close()
					r.pass("Schema", fmt.Sprintf("version %d", v))
					if n == 0 {
						r.warn("Registrations", "no chats registered; nothing will be forwarded")
					} else {
						r.pass("Registrations", fmt.Sprintf("%d chats", n))
					}
				}
			}

			// 6. Metrics port
			if cfg.Metrics.Enabled {
				if err := checkListen(cfg.Metrics.Listen); err != nil {
					r.warn("Metrics listen", fmt.Sprintf("%s may be in use: %v", cfg.Metrics.Listen, err))
				} else {
					r.pass("Metrics listen", cfg.Metrics.Listen+" available")
				}
			}

			// 7. Log file writable
			if cfg.General.LogFile != "" {
				if err := os.MkdirAll(filepath.Dir(cfg.General.LogFile), 0o755); err != nil {
					r.warn("Log file", fmt.Sprintf("cannot create log directory: %v", err))
				} else {
					r.pass("Log file", cfg.General.LogFile)
				}
			}

			return r.finish()
		},
	}
}

type doctorReport struct {
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *doctorReport) fail(check, detail string) {
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *doctorReport) warn(check, detail string) {
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func (r *doctorReport) finish() error {
	fmt.Printf("\n━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n")
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		fmt.Printf("\nPlease fix the failed checks before running the gateway.\n")
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	if r.warned > 0 {
		fmt.Printf("\nrelaybot should work but consider fixing the warnings.\n")
	} else {
		fmt.Printf("\nAll checks passed! relaybot is ready to run.\n")
	}
	return nil
}

func checkDatabase(dbPath string) error {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return fmt.Errorf("cannot create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return fmt.Errorf("cannot open: %w", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("cannot ping: %w", err)
	}

	// Try a write.
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS _doctor_test (id INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("not writable: %w", err)
	}
	_, _ = db.ExecContext(ctx, "DROP TABLE IF EXISTS _doctor_test")
	return nil
}

func checkListen(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return ln.Close()
}
