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

	"skytour/internal/api"
	"skytour/pkg/breaker"
	"skytour/pkg/catalog"
	"skytour/pkg/config"
	"skytour/pkg/core"
	"skytour/pkg/llm"
	"skytour/pkg/llm/failover"
	"skytour/pkg/llm/gemini"
	"skytour/pkg/llm/mock"
	"skytour/pkg/llm/prompts"
	"skytour/pkg/logging"
	"skytour/pkg/narrator"
	"skytour/pkg/probe"
	"skytour/pkg/ratelimit"
	"skytour/pkg/session"
	"skytour/pkg/sim"
	"skytour/pkg/tracker"
	"skytour/pkg/version"
	"skytour/pkg/voice"
)

const defaultConfigPath = "configs/skytour.yaml"

var (
	configPath = flag.String("config", defaultConfigPath, "Path to the YAML config file")
	initConfig = flag.Bool("init-config", false, "Generate default config file and exit")
	useMock    = flag.Bool("mock", false, "Use the offline mock LLM provider")
)

func main() {
	flag.Parse()

	if *initConfig {
		if err := config.GenerateDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to generate config: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Config file generated:", *configPath)
		return
	}

	if err := config.LoadDotEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *useMock); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL ERROR: Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, path string, forceMock bool) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if forceMock {
		cfg.LLM.Provider = "mock"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	cleanupLogs, err := logging.Init(&cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer cleanupLogs()

	slog.Info("SkyTour Started", "version", version.Version, "llm", cfg.LLM.Provider)

	cat, err := catalog.Open(ctx, cfg.Catalog)
	if err != nil {
		return fmt.Errorf("failed to open catalog: %w", err)
	}
	slog.Info("Catalog loaded", "source", cfg.Catalog.Source, "pois", cat.Len())

	tr := tracker.New()
	client, closeLLM, err := initLLM(cfg, tr)
	if err != nil {
		return err
	}
	defer closeLLM()

	err = probe.AnalyzeResults(probe.Run(ctx, []probe.Probe{
		probe.NonEmpty("catalog", cat),
		probe.Health("llm", client, 10*time.Second),
	}))
	if err != nil {
		return fmt.Errorf("startup checks failed: %w", err)
	}

	pm, err := prompts.NewDefault(cfg.LLM.PromptsDir)
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}

	lim := ratelimit.NewFromConfig(&cfg.RateLimits)
	br := breaker.NewFromConfig(&cfg.Breaker)
	gen := narrator.NewGenerator(client, pm, lim, br, tr, cfg.Narrator.CallTimeout.Std())
	ans := voice.NewAnswerer(client, pm, lim, br, tr, cfg.Voice.CallTimeout.Std())

	tour := core.NewTour(ctx, cfg, core.Deps{
		Sim:       sim.New(cfg.Flight),
		Catalog:   cat,
		Session:   session.NewManager(),
		Generator: gen,
		Answerer:  ans,
		Limiter:   lim,
	})
	defer tour.Shutdown()

	origins := api.AllowedOrigins(cfg.Server.AllowedOrigins, cfg.Server.Development)
	hub := api.NewHub(tour, origins)
	defer hub.Close()

	srv := api.NewServer(cfg.Server.Address, origins, api.Handlers{
		Guide:     api.NewGuideHandler(gen, ans, lim, cfg.Voice.NearbyLimit),
		Telemetry: api.NewTelemetryHandler(tour),
		Session:   api.NewSessionHandler(tour),
		Narrator:  api.NewNarratorHandler(tour),
		Controls:  api.NewControlsHandler(tour),
		POIs:      api.NewPOIHandler(tour, tour.Session()),
		Config:    api.NewConfigHandler(cfg, tour.Session()),
		Stats:     api.NewStatsHandler(tr, br, tour, hub),
		Stream:    hub,
	}, cancel)

	return runServerLifecycle(ctx, srv)
}

// initLLM builds the narration client: the offline mock, or the Gemini key
// with the optional backup key behind it.
func initLLM(cfg *config.Config, tr *tracker.Tracker) (*failover.Provider, func(), error) {
	if cfg.LLM.Provider == "mock" {
		p := mock.New(300 * time.Millisecond)
		client, err := failover.New([]llm.Provider{p}, []string{"mock"}, tr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create llm client: %w", err)
		}
		return client, func() {}, nil
	}

	primary, err := gemini.NewClient("gemini", cfg.LLM.Key, cfg.LLM, tr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	providers := []llm.Provider{primary}
	names := []string{"gemini"}
	closers := []func(){primary.Close}

	if cfg.LLM.BackupKey != "" {
		backup, err := gemini.NewClient("gemini-backup", cfg.LLM.BackupKey, cfg.LLM, tr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create backup gemini client: %w", err)
		}
		providers = append(providers, backup)
		names = append(names, "gemini-backup")
		closers = append(closers, backup.Close)
	}

	client, err := failover.New(providers, names, tr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create llm client: %w", err)
	}

	return client, func() {
		for _, c := range closers {
			c()
		}
	}, nil
}

func runServerLifecycle(ctx context.Context, srv *http.Server) error {
	slog.Info("Starting server", "addr", srv.Addr)
	serverErrors := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()
	select {
	case <-ctx.Done():
		slog.Info("Shutting down server...")
	case err := <-serverErrors:
		return fmt.Errorf("server failed: %w", err)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
