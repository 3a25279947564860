package cmd

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/gatehouse/credential"
	"github.com/jmcleod/gatehouse/internal/config"
	redisstorage "github.com/jmcleod/gatehouse/storage/redis"
)

// ---------------------------------------------------------------------------
// Check result types
// ---------------------------------------------------------------------------

type checkReport struct {
	Env    string        `json:"env"`
	Valid  bool          `json:"valid"`
	Checks []checkResult `json:"checks"`
}

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "pass", "fail", "warn"
	Detail string `json:"detail,omitempty"`
}

func (r *checkReport) add(name, status, detail string) {
	r.Checks = append(r.Checks, checkResult{Name: name, Status: status, Detail: detail})
	if status == "fail" {
		r.Valid = false
	}
}

// ---------------------------------------------------------------------------
// Core check logic
// ---------------------------------------------------------------------------

// runChecks inspects a loaded configuration for problems that would only
// show up once the server is running: unusable hashes, unreadable
// certificates, an unreachable Redis, or an unwritable data directory.
func runChecks(ctx context.Context, cfg *config.Config) checkReport {
	report := checkReport{Env: cfg.Env, Valid: true}

	if cfg.SessionSecret == "" {
		report.add("session_secret", "warn", "not set; a random secret is used and sessions end on restart")
	} else {
		report.add("session_secret", "pass", fmt.Sprintf("%d bytes", len(cfg.SessionSecret)))
	}

	if cfg.AdminPasswordHash == "" {
		report.add("admin_password_hash", "warn", "not set; a one-off password is generated at startup")
	} else if err := credential.CheckStoredHash(cfg.AdminPasswordHash); err != nil {
		report.add("admin_password_hash", "fail", err.Error())
	} else {
		report.add("admin_password_hash", "pass", hashScheme(cfg.AdminPasswordHash))
	}

	if cfg.TLSCert == "" {
		report.add("tls", "warn", "no certificate configured; a self-signed one is generated at startup")
	} else if _, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey); err != nil {
		report.add("tls", "fail", err.Error())
	} else {
		report.add("tls", "pass", cfg.TLSCert)
	}

	if cfg.RedisURL != "" {
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		rdb, err := redisstorage.NewClient(pingCtx, cfg.RedisURL)
		if err != nil {
			report.add("state_store", "fail", err.Error())
		} else {
			rdb.Close()
			report.add("state_store", "pass", "redis reachable")
		}
	} else {
		report.add("state_store", "warn", "REDIS_URL not set; throttle state is per process")
		if err := checkWritableDir(cfg.DataDir); err != nil {
			report.add("data_dir", "fail", err.Error())
		} else {
			report.add("data_dir", "pass", cfg.DataDir)
		}
	}

	if cfg.UpstreamURL == "" {
		report.add("upstream", "warn", "UPSTREAM_URL not set; requests past the gateway get 404")
	} else {
		report.add("upstream", "pass", cfg.UpstreamURL)
	}

	if cfg.Production() && cfg.DataStoreOrigin != "" && !strings.HasPrefix(cfg.DataStoreOrigin, "https://") {
		report.add("data_store_origin", "warn", "not https; browsers will block mixed content")
	}

	return report
}

func hashScheme(h string) string {
	if strings.HasPrefix(h, "$argon2id$") {
		return string(credential.SchemeArgon2id)
	}
	return string(credential.SchemeBcrypt)
}

func checkWritableDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".gatehouse-check-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// ---------------------------------------------------------------------------
// Output formatting
// ---------------------------------------------------------------------------

func printCheckText(w io.Writer, report checkReport) {
	fmt.Fprintf(w, "Environment: %s\n\n", report.Env)
	for _, c := range report.Checks {
		var icon string
		switch c.Status {
		case "pass":
			icon = "✓"
		case "fail":
			icon = "✗"
		case "warn":
			icon = "!"
		}
		line := fmt.Sprintf("  %s %-20s", icon, c.Name)
		if c.Detail != "" {
			line += " " + c.Detail
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintln(w)
	if report.Valid {
		fmt.Fprintln(w, "Result: OK")
	} else {
		fmt.Fprintln(w, "Result: FAILED")
	}
}

// ---------------------------------------------------------------------------
// Cobra command
// ---------------------------------------------------------------------------

var checkJSON bool

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration without starting the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		report := runChecks(cmd.Context(), cfg)

		if checkJSON {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			printCheckText(cmd.OutOrStdout(), report)
		}

		if !report.Valid {
			return fmt.Errorf("configuration check failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Output as JSON")
}
