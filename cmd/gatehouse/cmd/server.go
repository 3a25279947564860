package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/gatehouse/api"
	"github.com/jmcleod/gatehouse/credential"
	"github.com/jmcleod/gatehouse/internal/config"
	"github.com/jmcleod/gatehouse/internal/util"
	"github.com/jmcleod/gatehouse/ratelimit"
	"github.com/jmcleod/gatehouse/session"
	"github.com/jmcleod/gatehouse/web"
)

var (
	port    int
	dataDir string
	tlsCert string
	tlsKey  string
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}

		level := slog.LevelDebug
		if cfg.Production() {
			level = slog.LevelInfo
		}
		logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		secret, err := sessionSecret(cfg, logger)
		if err != nil {
			return err
		}
		codec, err := session.NewCodec(secret)
		util.WipeBytes(secret)
		if err != nil {
			return fmt.Errorf("failed to create session codec: %w", err)
		}

		passwordHash, err := adminPasswordHash(cfg, cmd.OutOrStdout(), logger)
		if err != nil {
			return err
		}

		st, err := openStores(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close()

		a, err := api.New(codec, passwordHash,
			api.WithLogger(logger),
			api.WithProduction(cfg.Production()),
			api.WithSubject(cfg.AdminSubject),
			api.WithDataStoreOrigin(cfg.DataStoreOrigin),
			api.WithCORSOrigins(cfg.CORSAllowedOrigins),
			api.WithTrustedProxies(cfg.TrustedProxies),
			api.WithLoginTracker(ratelimit.NewLoginTracker(st.attempts,
				ratelimit.WithMaxAttempts(cfg.LoginMaxAttempts),
				ratelimit.WithLockout(cfg.LoginLockout),
			)),
			api.WithLimiter(ratelimit.NewLimiter(st.windows,
				ratelimit.WithLimit(cfg.APIRateLimit),
				ratelimit.WithWindow(cfg.APIRateWindow),
			)),
			api.WithRevocations(st.revocations),
			api.WithAuditWebhook(cfg.AuditWebhookURL, cfg.AuditWebhookAuth),
		)
		if err != nil {
			return err
		}
		defer a.Close()
		go a.RunSweeper(ctx, api.DefaultSweepInterval)

		loginPage, err := web.Handler()
		if err != nil {
			return err
		}
		upstream, err := newUpstream(cfg.UpstreamURL, logger)
		if err != nil {
			return err
		}

		handler := a.Handler(loginPage, upstream)
		if !cfg.Production() {
			// The access log records raw client addresses.
			handler = middleware.Logger(handler)
		}

		tlsConfig, err := serverTLSConfig(cfg)
		if err != nil {
			return err
		}

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           handler,
			TLSConfig:         tlsConfig,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
		}

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		fmt.Fprintf(cmd.OutOrStdout(), "Starting server on port %d (env: %s, state: %s)...\n", cfg.Port, cfg.Env, st.kind)

		select {
		case <-ctx.Done():
			fmt.Fprintln(cmd.OutOrStdout(), "\nShutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// loadConfig reads the environment and applies any flags the user set.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if flags.Changed("tls-cert") {
		cfg.TLSCert = tlsCert
	}
	if flags.Changed("tls-key") {
		cfg.TLSKey = tlsKey
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sessionSecret returns the configured signing secret. Development runs
// without one get a random secret, so sessions end on restart.
func sessionSecret(cfg *config.Config, logger *slog.Logger) ([]byte, error) {
	if cfg.SessionSecret != "" {
		return []byte(cfg.SessionSecret), nil
	}
	logger.Warn("SESSION_SECRET not set; using a random secret for this run")
	return util.RandomBytes(session.MinSecretLen)
}

// adminPasswordHash returns the configured hash after checking that it is
// usable. Development runs without one get a one-off password, printed to
// w, so the login flow can be exercised.
func adminPasswordHash(cfg *config.Config, w io.Writer, logger *slog.Logger) (string, error) {
	if cfg.AdminPasswordHash != "" {
		if err := credential.CheckStoredHash(cfg.AdminPasswordHash); err != nil {
			return "", fmt.Errorf("ADMIN_PASSWORD_HASH: %w", err)
		}
		return cfg.AdminPasswordHash, nil
	}

	password, err := util.RandomHex(12)
	if err != nil {
		return "", err
	}
	hash, err := credential.Hash(password, credential.SchemeBcrypt)
	if err != nil {
		return "", err
	}
	logger.Warn("ADMIN_PASSWORD_HASH not set; generated a password for this run")
	fmt.Fprintf(w, "Development admin password (this run only): %s\n", password)
	return hash, nil
}

func serverTLSConfig(cfg *config.Config) (*tls.Config, error) {
	var cert tls.Certificate
	var err error
	if cfg.TLSCert != "" && cfg.TLSKey != "" {
		cert, err = tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			return nil, fmt.Errorf("failed to load TLS key pair: %w", err)
		}
	} else {
		cert, err = util.GenerateSelfSignedCert()
		if err != nil {
			return nil, fmt.Errorf("failed to generate self-signed certificate: %w", err)
		}
		fmt.Println("Using self-signed runtime generated certificate for TLS")
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
	}, nil
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&port, "port", "p", 8443, "Port to listen on (overrides PORT)")
	serverCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent data (overrides DATA_DIR)")
	serverCmd.Flags().StringVar(&tlsCert, "tls-cert", "", "Path to TLS certificate file (overrides TLS_CERT)")
	serverCmd.Flags().StringVar(&tlsKey, "tls-key", "", "Path to TLS key file (overrides TLS_KEY)")
}
