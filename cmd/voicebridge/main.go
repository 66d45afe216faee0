// Command voicebridge runs the eldercare voice-agent bridge server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aldervale/voicebridge/internal/app"
	"github.com/aldervale/voicebridge/internal/bridge"
	"github.com/aldervale/voicebridge/internal/config"
	"github.com/aldervale/voicebridge/internal/health"
	"github.com/aldervale/voicebridge/internal/observe"
	"github.com/aldervale/voicebridge/pkg/capture"
	capmock "github.com/aldervale/voicebridge/pkg/capture/mock"
	"github.com/aldervale/voicebridge/pkg/provider/avatar"
	"github.com/aldervale/voicebridge/pkg/provider/avatar/anam"
	"github.com/aldervale/voicebridge/pkg/provider/convai"
	"github.com/aldervale/voicebridge/pkg/provider/convai/elevenlabs"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicebridge: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicebridge: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voicebridge starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
		"sessions", len(cfg.Sessions),
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(context.Background(), observe.ProviderConfig{
		ServiceName:    "voicebridge",
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// The default metrics instance binds to the meter provider installed by
	// InitProvider above.
	metrics := observe.DefaultMetrics()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Sessions ──────────────────────────────────────────────────────────────
	manager := app.NewSessionManager(app.SessionManagerConfig{
		Config:    cfg,
		Providers: providers,
		Metrics:   metrics,
	})
	defer func() {
		if err := manager.StopAll(); err != nil {
			slog.Warn("session teardown error", "err", err)
		}
	}()

	for _, sess := range cfg.Sessions {
		if err := manager.Start(ctx, sess); err != nil {
			slog.Error("failed to start session", "resident", sess.ResidentID, "err", err)
			return 1
		}
	}

	// ── HTTP surface ──────────────────────────────────────────────────────────
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	healthHandler := health.New(
		health.Checker{Name: "sessions", Check: func(context.Context) error {
			for _, info := range manager.List() {
				if info.State != bridge.StateConnected {
					return fmt.Errorf("resident %s is %s", info.ResidentID, info.State)
				}
			}
			return nil
		}},
	).WithSessionCount(manager.Count)
	healthHandler.Register(mux)

	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("http surface listening", "addr", cfg.Server.ListenAddr)
		serverErr <- server.ListenAndServe()
	}()

	slog.Info("server ready — press Ctrl+C to shut down")

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received, stopping…")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "err", err)
			return 1
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown error", "err", err)
	}
	if err := manager.StopAll(); err != nil {
		slog.Error("session shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// version is stamped at build time via -ldflags.
var version = "dev"

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires the provider factories that ship with
// voicebridge into reg.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterConversational("elevenlabs", func(entry config.ProviderEntry) (convai.Provider, error) {
		var opts []elevenlabs.Option
		if entry.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(entry.BaseURL))
		}
		return elevenlabs.New(entry.APIKey, opts...), nil
	})

	reg.RegisterAvatar("anam", func(entry config.ProviderEntry) (avatar.Provider, error) {
		var opts []anam.Option
		if entry.BaseURL != "" {
			opts = append(opts, anam.WithBaseURL(entry.BaseURL))
		}
		return anam.New(opts...), nil
	})

	// The synthetic capture platform produces a silent device. Useful for
	// development hosts without audio hardware; real capture backends
	// register under their own names here.
	reg.RegisterCapture("mock", func(entry config.ProviderEntry) (capture.Platform, error) {
		rate := 48000
		if v, ok := entry.Options["sample_rate"].(int); ok && v > 0 {
			rate = v
		}
		return &capmock.Platform{AcquireResult: capmock.NewDevice(rate)}, nil
	})
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Providers.Conversational.Name; name != "" {
		p, err := reg.CreateConversational(cfg.Providers.Conversational)
		if err != nil {
			return nil, fmt.Errorf("create conversational provider %q: %w", name, err)
		}
		ps.Conversational = p
		slog.Info("provider created", "kind", "conversational", "name", name)
	}

	if name := cfg.Providers.Avatar.Name; name != "" {
		p, err := reg.CreateAvatar(cfg.Providers.Avatar)
		if err != nil {
			return nil, fmt.Errorf("create avatar provider %q: %w", name, err)
		}
		ps.Avatar = p
		slog.Info("provider created", "kind", "avatar", "name", name)
	}

	name := cfg.Providers.Capture.Name
	if name == "" {
		slog.Warn("no capture provider configured; using the synthetic silent device")
		name = "mock"
	}
	p, err := reg.CreateCapture(config.ProviderEntry{Name: name, Options: cfg.Providers.Capture.Options})
	if err != nil {
		return nil, fmt.Errorf("create capture provider %q: %w", name, err)
	}
	ps.Capture = p
	slog.Info("provider created", "kind", "capture", "name", name)

	return ps, nil
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
