package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/hearthd/hearth/pkg/adminconfig"
	"github.com/hearthd/hearth/pkg/config"
)

// InfoCmd prints the effective configuration summary: backends,
// routing order, feature flags, and which subsystems are on.
type InfoCmd struct{}

func (c *InfoCmd) Run(cli *CLI) error {
	ctx := context.Background()

	var cfg *config.Config
	source := "defaults + environment"
	if cli.Config != "" {
		loaded, loader, err := config.LoadConfigFile(ctx, cli.Config)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		defer loader.Close()
		cfg = loaded
		source = cli.Config
	} else {
		var err error
		cfg, err = config.Default()
		if err != nil {
			return err
		}
	}

	fmt.Printf("Configuration: %s\n", source)
	if cfg.Name != "" {
		fmt.Printf("Instance:      %s\n", cfg.Name)
	}
	fmt.Printf("Listen:        %s\n", cfg.Server.Address())

	fmt.Println("\nBackends:")
	if len(cfg.Backends) == 0 {
		fmt.Println("  (none configured)")
	}
	names := make([]string, 0, len(cfg.Backends))
	for name := range cfg.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b := cfg.Backends[name]
		host := b.Host
		if host == "" {
			host = "provider default"
		}
		fmt.Printf("  - %s: %s %s (%s)\n", name, b.Provider, b.Model, host)
	}

	fmt.Println("\nRouting:")
	fmt.Printf("  default backend: %s\n", cfg.Router.DefaultBackend)
	if len(cfg.Router.AutoOrder) > 0 {
		fmt.Printf("  auto order:      %s\n", strings.Join(cfg.Router.AutoOrder, ", "))
	}

	// With no admin API configured the plane answers from fallback
	// defaults, which is exactly what the process would run with.
	plane := adminconfig.NewPlane(&cfg.Admin)
	fmt.Println("\nFeature flags:")
	for _, name := range []string{
		adminconfig.FlagSemanticCache,
		adminconfig.FlagSemanticCacheSimilarity,
		adminconfig.FlagParallelSearch,
		adminconfig.FlagLLMIntentClassifier,
		adminconfig.FlagSmartHomeLLMFallback,
		adminconfig.FlagRoomDetectionCache,
	} {
		state := "off"
		if plane.FlagEnabled(ctx, name) {
			state = "on"
		}
		fmt.Printf("  %-28s %s\n", name, state)
	}
	if !cfg.Admin.IsEnabled() {
		fmt.Println("  (admin API not configured, showing fallback defaults)")
	}

	fmt.Println("\nSubsystems:")
	fmt.Printf("  cache:      %s\n", cacheSummary(&cfg.Cache))
	fmt.Printf("  search:     %s\n", searchSummary(&cfg.Search))
	fmt.Printf("  smart home: %s\n", smartHomeSummary(&cfg.SmartHome))
	fmt.Printf("  sessions:   %s\n", cfg.Session.Backend)
	fmt.Printf("  usage:      %s\n", onOff(cfg.Usage.IsEnabled()))
	fmt.Printf("  auth:       %s\n", onOff(cfg.Auth.IsEnabled()))

	return nil
}

func cacheSummary(cfg *config.CacheConfig) string {
	if !cfg.IsEnabled() {
		return "off"
	}
	s := cfg.Backend
	if cfg.Similarity.Embedder != "" {
		s += ", similarity via " + cfg.Similarity.Embedder
	}
	return s
}

func searchSummary(cfg *config.SearchConfig) string {
	if !cfg.IsEnabled() {
		return "off"
	}
	if len(cfg.Providers) == 0 {
		return "on (default providers)"
	}
	names := make([]string, 0, len(cfg.Providers))
	for name := range cfg.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func smartHomeSummary(cfg *config.SmartHomeConfig) string {
	if !cfg.IsEnabled() {
		return "off"
	}
	return cfg.HomeAssistant.BaseURL
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
