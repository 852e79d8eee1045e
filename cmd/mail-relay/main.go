// Package main is the entry point for the mail relay HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shineum/mail-relay/internal/config"
	"github.com/shineum/mail-relay/internal/server"
	relaytls "github.com/shineum/mail-relay/internal/tls"
	"github.com/shineum/mail-relay/internal/transport"
	"github.com/shineum/mail-relay/internal/transport/graph"
	"github.com/shineum/mail-relay/internal/transport/ses"
	"github.com/shineum/mail-relay/internal/transport/smtp"
	"github.com/shineum/mail-relay/internal/transport/stdout"
)

const verifyTimeout = 15 * time.Second

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	envFile := flag.String("env-file", ".env", "path to a .env file; ignored when missing")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		slog.Error("failed to load env file", "error", err)
		os.Exit(1)
	}

	// Load configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	tlsConfig, err := relaytls.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.TLS.SelfSigned)
	if err != nil {
		slog.Error("failed to setup TLS", "error", err)
		os.Exit(1)
	}

	tr, err := selectTransport(cfg)
	if err != nil {
		slog.Error("failed to configure transport", "error", err)
		os.Exit(1)
	}

	// A failed check is reported but the service still starts.
	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), verifyTimeout)
	if err := tr.Verify(verifyCtx); err != nil {
		slog.Warn("transport verification failed", "transport", tr.Name(), "error", err)
	} else {
		slog.Info("transport ready", "transport", tr.Name())
	}
	cancelVerify()

	srv := server.New(server.Config{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		DefaultFrom:  cfg.DefaultFrom(),
		TLSConfig:    tlsConfig,
		Transport:    tr,
	})

	slog.Info("starting mail-relay",
		"port", cfg.HTTP.Port,
		"transport", tr.Name(),
		"default_from", cfg.DefaultFrom(),
		"tls_enabled", tlsConfig != nil,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Start the server (blocks until a signal arrives)
	if err := srv.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("mail-relay stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// selectTransport chooses the delivery backend. An explicit TRANSPORT must be
// fully configured; otherwise the first configured backend wins, in the order
// smtp, ses, graph, falling back to stdout.
func selectTransport(cfg *config.Config) (transport.Transport, error) {
	name := cfg.Transport
	if name == "" {
		name = detectTransport(cfg)
		slog.Info("transport auto-detected", "transport", name)
	}

	switch name {
	case "smtp":
		if !cfg.SMTPConfigured() {
			return nil, errors.New("smtp transport selected but EMAIL_USER and EMAIL_PASS are required")
		}
		slog.Info("using SMTP transport",
			"host", cfg.SMTP.Host,
			"port", cfg.SMTP.Port,
			"user", cfg.SMTP.Username,
		)
		return smtp.New(smtp.Config{
			Host:               cfg.SMTP.Host,
			Port:               cfg.SMTP.Port,
			Username:           cfg.SMTP.Username,
			Password:           cfg.SMTP.Password,
			InsecureSkipVerify: cfg.SMTP.InsecureSkipVerify,
		}), nil

	case "ses":
		if !cfg.SESConfigured() {
			return nil, errors.New("ses transport selected but SES_REGION is required")
		}
		slog.Info("using AWS SES transport", "region", cfg.SES.Region)
		ctx, cancel := context.WithTimeout(context.Background(), verifyTimeout)
		defer cancel()
		return ses.New(ctx, ses.Config{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
		})

	case "graph":
		if !cfg.GraphConfigured() {
			return nil, errors.New("graph transport selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER are required")
		}
		slog.Info("using Microsoft Graph transport", "sender", cfg.Graph.Sender)
		return graph.New(graph.Config{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		}), nil

	case "stdout":
		slog.Info("using stdout transport")
		return stdout.New(), nil

	default:
		return nil, fmt.Errorf("unknown transport %q", name)
	}
}

func detectTransport(cfg *config.Config) string {
	switch {
	case cfg.SMTPConfigured():
		return "smtp"
	case cfg.SESConfigured():
		return "ses"
	case cfg.GraphConfigured():
		return "graph"
	default:
		return "stdout"
	}
}
