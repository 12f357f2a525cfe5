package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/hearthd/hearth/pkg/adminconfig"
	"github.com/hearthd/hearth/pkg/auth"
	"github.com/hearthd/hearth/pkg/config"
	"github.com/hearthd/hearth/pkg/config/provider"
	"github.com/hearthd/hearth/pkg/gateway"
	"github.com/hearthd/hearth/pkg/homeassistant"
	"github.com/hearthd/hearth/pkg/llms"
	"github.com/hearthd/hearth/pkg/observability"
	"github.com/hearthd/hearth/pkg/search"
	"github.com/hearthd/hearth/pkg/semcache"
	"github.com/hearthd/hearth/pkg/session"
	"github.com/hearthd/hearth/pkg/smarthome"
	"github.com/hearthd/hearth/pkg/transport"
	"github.com/hearthd/hearth/pkg/usage"
)

// ServeCmd runs the control plane server.
type ServeCmd struct {
	Port  int  `help:"Port to listen on (overrides config)."`
	Watch bool `help:"Watch the config file for changes."`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("Shutting down...")
		cancel()
	}()

	// applyConfig is filled in once the components exist. The watcher
	// only starts after that, so the indirection is never seen empty.
	var applyConfig func(*config.Config)
	cfg, loader, err := loadServeConfig(ctx, cli.Config, func(newCfg *config.Config) {
		if applyConfig != nil {
			applyConfig(newCfg)
		}
	})
	if err != nil {
		return err
	}
	if loader != nil {
		defer loader.Close()
	}

	if c.Port > 0 {
		cfg.Server.Port = c.Port
	}

	// Observability first so every later component records through the
	// global recorder.
	obs := observability.NewManager(cfg.Observability)
	if err := obs.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		if err := obs.Shutdown(shutdownCtx); err != nil {
			slog.Warn("Observability shutdown incomplete", "error", err)
		}
	}()
	metrics := observability.GetGlobalMetrics()

	plane := adminconfig.NewPlane(&cfg.Admin)

	// Shared SQLite pool so usage accounting and anything else on the
	// same database file go through one set of connections.
	dbPool := config.NewDBPool()
	defer dbPool.Close()

	var recorder usage.Recorder = usage.NopRecorder{}
	if cfg.Usage.IsEnabled() {
		store, err := usage.NewSQLStore(dbPool, &cfg.Usage.Database)
		if err != nil {
			return fmt.Errorf("failed to open usage store: %w", err)
		}
		writer := usage.NewWriter(store, &cfg.Usage)
		defer func() {
			if err := writer.Close(); err != nil {
				slog.Warn("Usage writer close failed", "error", err)
			}
		}()
		recorder = writer
	}

	router, err := llms.NewRouter(cfg,
		llms.WithCredentialSource(plane),
		llms.WithRecorder(recorder),
	)
	if err != nil {
		return fmt.Errorf("failed to build LLM router: %w", err)
	}
	defer router.Close()

	var controller *smarthome.Controller
	var haClient *homeassistant.Client
	if cfg.SmartHome.IsEnabled() {
		haClient, err = homeassistant.NewClient(cfg.SmartHome.HomeAssistant)
		if err != nil {
			return fmt.Errorf("failed to configure home assistant: %w", err)
		}
		extractor := smarthome.NewExtractor(router, plane, cfg.SmartHome.FallbackBackend)
		controller = smarthome.NewController(&cfg.SmartHome, haClient,
			smarthome.WithExtractor(extractor),
			smarthome.WithMetrics(metrics),
		)
	}

	engine := search.NewEngine(&cfg.Search, search.WithMetrics(metrics))
	defer engine.Close()

	cacheOpts := []semcache.Option{semcache.WithMetrics(metrics)}
	if cfg.Cache.Similarity.Embedder != "" {
		embedder, err := router.Embedder(cfg.Cache.Similarity.Embedder)
		if err != nil {
			slog.Warn("Similarity embedder unavailable, near-match lookup disabled",
				"backend", cfg.Cache.Similarity.Embedder, "error", err)
		} else {
			idx, err := semcache.NewSimilarityIndex(embedder, cfg.Cache.Similarity)
			if err != nil {
				return fmt.Errorf("failed to build similarity index: %w", err)
			}
			gate := func(ctx context.Context) bool {
				return plane.FlagEnabled(ctx, adminconfig.FlagSemanticCacheSimilarity)
			}
			cacheOpts = append(cacheOpts, semcache.WithSimilarity(idx, gate))
		}
	}
	cache, err := semcache.New(&cfg.Cache, cacheOpts...)
	if err != nil {
		return fmt.Errorf("failed to build semantic cache: %w", err)
	}
	defer cache.Close()

	sessions, err := session.NewStore(&cfg.Session)
	if err != nil {
		return fmt.Errorf("failed to build session store: %w", err)
	}
	defer sessions.Close()

	gwOpts := []gateway.Option{
		gateway.WithCache(cache),
		gateway.WithSearcher(engine),
		gateway.WithSessions(sessions),
		gateway.WithModelLister(router),
	}
	if controller != nil {
		gwOpts = append(gwOpts,
			gateway.WithDeviceHandler(controller),
			gateway.WithRoomDetector(gateway.NewRoomDetector(haClient, plane)),
		)
	}
	gw, err := gateway.New(cfg, router, plane, gwOpts...)
	if err != nil {
		return fmt.Errorf("failed to build gateway: %w", err)
	}

	var validator *auth.JWTValidator
	if cfg.Auth.IsEnabled() && cfg.Auth.JWT != nil {
		validator, err = auth.NewJWTValidator(cfg.Auth.JWT)
		if err != nil {
			return fmt.Errorf("failed to initialize JWT validator: %w", err)
		}
	}

	checks := []transport.Check{
		{
			Name:     "backends",
			Critical: true,
			Probe: func(context.Context) error {
				if len(router.ModelDescriptors()) == 0 {
					return fmt.Errorf("no routable backends")
				}
				return nil
			},
		},
	}
	if haClient != nil {
		checks = append(checks, transport.Check{Name: "home_assistant", Probe: haClient.Ping})
	}

	srvOpts := []transport.Option{
		transport.WithPlane(plane),
		transport.WithRouterMetrics(router),
		transport.WithChecks(checks...),
	}
	if obs.MetricsEnabled() {
		srvOpts = append(srvOpts, transport.WithMetricsHandler(obs.MetricsHandler()))
	}
	if validator != nil {
		srvOpts = append(srvOpts, transport.WithJWTValidator(validator))
	}
	if loader != nil {
		srvOpts = append(srvOpts, transport.WithReload(func(ctx context.Context) (*config.Config, error) {
			newCfg, err := loader.Load(ctx)
			if err != nil {
				return nil, err
			}
			if err := router.Reload(newCfg); err != nil {
				return nil, err
			}
			return newCfg, nil
		}))
	}

	srv := transport.New(cfg, gw, srvOpts...)

	applyConfig = func(newCfg *config.Config) {
		if err := router.Reload(newCfg); err != nil {
			slog.Error("Reloaded config rejected", "error", err)
			return
		}
		srv.ApplyConfig(newCfg)
	}
	if c.Watch && loader != nil {
		go func() {
			if err := loader.Watch(ctx); err != nil && ctx.Err() == nil {
				slog.Error("Config watch error", "error", err)
			}
		}()
	}

	printStartupInfo(cfg, srv.Address(), router, obs, controller != nil)

	go func() {
		<-ctx.Done()
		if err := srv.StopWithTimeout(); err != nil {
			slog.Error("Shutdown error", "error", err)
		}
	}()

	// Start blocks until Stop; drain background stream producers after.
	if err := srv.Start(); err != nil {
		return err
	}
	gw.Wait()
	return nil
}

// loadServeConfig loads the file config when a path is given, wiring
// the change callback for --watch, and falls back to a config built
// from defaults and environment variables otherwise.
func loadServeConfig(ctx context.Context, path string, onChange func(*config.Config)) (*config.Config, *config.Loader, error) {
	if path == "" {
		cfg, err := config.Default()
		if err != nil {
			return nil, nil, fmt.Errorf("invalid default configuration: %w", err)
		}
		slog.Info("No config file given, using defaults")
		return cfg, nil, nil
	}

	p, err := provider.New(provider.ProviderConfig{Type: provider.TypeFile, Path: path})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open config: %w", err)
	}
	loader := config.NewLoader(p, config.WithOnChange(onChange))
	cfg, err := loader.Load(ctx)
	if err != nil {
		p.Close()
		return nil, nil, err
	}
	slog.Info("Loaded configuration", "path", path)
	return cfg, loader, nil
}

// printStartupInfo prints the ready summary.
func printStartupInfo(cfg *config.Config, addr string, router *llms.Router, obs *observability.Manager, smartHome bool) {
	amberColor := "\033[38;2;245;158;11m"
	resetColor := "\033[0m"
	fmt.Printf("\n%s🔥 Hearth control plane ready%s\n", amberColor, resetColor)
	fmt.Printf("   Chat:       http://%s/v1/chat/completions\n", addr)
	fmt.Printf("   Responses:  http://%s/v1/responses\n", addr)
	fmt.Printf("   Models:     http://%s/v1/models\n", addr)
	fmt.Printf("   Health:     http://%s/health\n", addr)
	if obs.MetricsEnabled() {
		fmt.Printf("   Metrics:    http://%s/metrics\n", addr)
	}

	descriptors := router.ModelDescriptors()
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })
	fmt.Println("\n   Models:")
	for _, d := range descriptors {
		locality := "cloud"
		if d.Local {
			locality = "local"
		}
		fmt.Printf("     - %s (%s %s, %s)\n", d.Name, d.Provider, d.Model, locality)
	}

	if smartHome {
		fmt.Printf("\n   Smart home: %s\n", cfg.SmartHome.HomeAssistant.BaseURL)
	}
	if cfg.Usage.IsEnabled() {
		fmt.Printf("   Usage:      %s (%s)\n", cfg.Usage.Database.Driver, cfg.Usage.Database.Database)
	}
	if cfg.Admin.IsEnabled() {
		fmt.Printf("   Admin API:  %s\n", cfg.Admin.APIURL)
	}
	fmt.Println("\nPress Ctrl+C to stop")
}
