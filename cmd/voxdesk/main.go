// Command voxdesk is the voice assistant daemon for the Voxdesk dashboard.
//
// It captures the default microphone, streams audio to a live speech session,
// executes the structured intents the model returns against the dashboard
// database, and plays the spoken replies through the default output device.
// An admin HTTP server exposes health and metrics endpoints.
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

	"github.com/gordonklaus/portaudio"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/jmherbst/voxdesk/internal/config"
	"github.com/jmherbst/voxdesk/internal/health"
	"github.com/jmherbst/voxdesk/internal/intent"
	"github.com/jmherbst/voxdesk/internal/observe"
	"github.com/jmherbst/voxdesk/internal/session"
	"github.com/jmherbst/voxdesk/internal/store/postgres"
	"github.com/jmherbst/voxdesk/internal/transcript"
	"github.com/jmherbst/voxdesk/pkg/capture"
	"github.com/jmherbst/voxdesk/pkg/live/gemini"
	"github.com/jmherbst/voxdesk/pkg/playback"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	// .env is optional; environment variables win over file values either way.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voxdesk: %v\n", err)
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxdesk starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
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

	// ── Database ──────────────────────────────────────────────────────────────
	pool, err := pgxpool.New(ctx, cfg.Store.PostgresDSN)
	if err != nil {
		slog.Error("failed to connect to database", "err", err)
		return 1
	}
	defer pool.Close()

	st := postgres.New(pool)
	if err := st.Migrate(ctx); err != nil {
		slog.Error("failed to run migrations", "err", err)
		return 1
	}
	slog.Info("database ready")

	// ── Audio subsystem ───────────────────────────────────────────────────────
	if err := portaudio.Initialize(); err != nil {
		slog.Error("failed to initialise audio", "err", err)
		return 1
	}
	defer func() {
		if err := portaudio.Terminate(); err != nil {
			slog.Warn("audio terminate error", "err", err)
		}
	}()

	// ── Session controller ────────────────────────────────────────────────────
	log := transcript.NewLog()
	dispatcher := intent.NewDispatcher(st, log)

	var dialerOpts []gemini.Option
	if cfg.Live.Model != "" {
		dialerOpts = append(dialerOpts, gemini.WithModel(cfg.Live.Model))
	}
	if cfg.Live.BaseURL != "" {
		dialerOpts = append(dialerOpts, gemini.WithBaseURL(cfg.Live.BaseURL))
	}

	ctrl := session.New(session.Config{
		Dialer: gemini.New(cfg.Live.APIKey, dialerOpts...),
		OpenPlayback: func() (session.Player, error) {
			out, err := playback.OpenDefaultOutput(cfg.Audio.OutputSampleRate)
			if err != nil {
				return nil, err
			}
			return playback.NewScheduler(out), nil
		},
		OpenCapture: func(sink capture.Sink) (session.Capture, error) {
			dev, err := capture.OpenDefaultDevice()
			if err != nil {
				return nil, err
			}
			return capture.NewPipeline(dev, sink,
				capture.WithFrameSamples(cfg.Audio.FrameSamples)), nil
		},
		Transcript: log,
		Dispatcher: dispatcher,
		Voice:      cfg.Live.Voice,
		OnStatus: func(status string) {
			fmt.Printf("● %s\n", status)
		},
	})

	printStartupSummary(cfg)

	// ── Admin HTTP server ─────────────────────────────────────────────────────
	checks := health.New(
		health.Checker{Name: "database", Check: st.Ping},
		health.Checker{Name: "audio", Check: func(context.Context) error {
			_, err := portaudio.DefaultInputDevice()
			return err
		}},
	)

	mux := http.NewServeMux()
	checks.Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("admin server listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("admin server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// ── Run the session ───────────────────────────────────────────────────────
	if err := ctrl.Start(ctx); err != nil {
		slog.Error("failed to start session", "err", err)
		stop()
	} else {
		slog.Info("session ready — press Ctrl+C to shut down")
	}

	<-ctx.Done()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")
	ctrl.Stop()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	model := cfg.Live.Model
	if model == "" {
		model = "(default)"
	}
	voice := cfg.Live.Voice
	if voice == "" {
		voice = "(default)"
	}
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Voxdesk — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printRow("Model", model)
	printRow("Voice", voice)
	printRow("Database", "postgres")
	printRow("Listen addr", cfg.Server.ListenAddr)
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printRow(key, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s   : %-19s ║\n", key, value)
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
