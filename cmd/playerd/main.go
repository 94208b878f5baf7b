// Package main provides the playback daemon entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"

	"github.com/trvinh/melodica/internal/app/queue"
	"github.com/trvinh/melodica/internal/app/session"
	"github.com/trvinh/melodica/internal/infra/config"
	"github.com/trvinh/melodica/internal/infra/logger"
	"github.com/trvinh/melodica/internal/infra/node"
	"github.com/trvinh/melodica/internal/infra/resolver"
)

var (
	app        = kingpin.New("playerd", "melodica playback session daemon")
	configPath = app.Flag("config", "Path to config file").Default("config/playerd.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stderr)").String()

	listFiltersCmd = app.Command("list-filters", "List available admission filters and exit")
	checkConfigCmd = app.Command("check-config", "Validate the config file and exit")
)

func init() {
	app.Command("start", "Start the daemon (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command == listFiltersCmd.FullCommand() {
		printFilters()
		return
	}

	loggerConfig := logger.Config{Level: "info"}
	if *verbose {
		loggerConfig.Level = "debug"
	}
	if *logfile != "" {
		loggerConfig.File = *logfile
	}
	if err := logger.Init(loggerConfig); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if command == checkConfigCmd.FullCommand() {
		if _, err := buildFilterChain(cfg); err != nil {
			zlog.Fatal().Msgf("Invalid filter config: %v", err)
		}
		fmt.Println("Config OK")
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Daemon error: %v", err)
		os.Exit(1)
	}
}

// run executes the main daemon logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	filters, err := buildFilterChain(cfg)
	if err != nil {
		return fmt.Errorf("invalid filter config: %w", err)
	}

	res, err := resolver.New(ctx, resolver.Config{
		ClientID:     cfg.Spotify.ClientID,
		ClientSecret: cfg.Spotify.ClientSecret,
		RefreshToken: cfg.Spotify.RefreshToken,
		Market:       cfg.Spotify.Market,
	})
	if err != nil {
		return fmt.Errorf("failed to create resolver: %w", err)
	}

	pool := node.NewPool(node.ClockDialer)
	nodeCfgs := make([]node.Config, 0, len(cfg.Nodes))
	for _, n := range cfg.Nodes {
		nodeCfgs = append(nodeCfgs, node.Config{
			Label:    n.Label,
			Host:     n.Host,
			Port:     n.Port,
			Password: n.Password,
		})
	}
	if err := pool.Connect(ctx, nodeCfgs); err != nil {
		return fmt.Errorf("failed to connect audio nodes: %w", err)
	}
	defer pool.Close()

	mgr := session.NewManager(pool, res, filters, session.Config{
		Staleness:          cfg.StalenessWindow(),
		BrowserPageSize:    cfg.Browser.PageSize,
		BrowserIdleTimeout: cfg.BrowserIdleTimeout(),
		Messages: session.Messages{
			QueueExhausted:  cfg.Messages.QueueExhausted,
			TrackLoadFailed: cfg.Messages.TrackLoadFailed,
			NothingPrevious: cfg.Messages.NothingPrevious,
		},
	})

	// Pump node events into sessions until shutdown.
	go mgr.Run(ctx)

	zlog.Info().Msgf("Daemon started with %d audio node(s)", len(cfg.Nodes))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	zlog.Info().Msg("Received shutdown signal...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	mgr.Shutdown(shutdownCtx)
	cancel()

	zlog.Info().Msg("Daemon stopped")
	return nil
}

// printFilters prints available admission filters.
func printFilters() {
	fmt.Println("Available Filters:")
	for _, factory := range queue.GetRegistered() {
		f := factory()
		codes := strings.Join(f.ReturnCodes(), ", ")
		fmt.Printf("  %-30s - %s [codes: %s]\n", f.Name(), f.Description(), codes)
	}
}

// buildFilterChain validates and assembles the enabled admission filters.
func buildFilterChain(cfg *config.Config) (*queue.Chain, error) {
	registry := queue.GetRegistered()
	chain := queue.NewChain()

	for name, filterCfg := range cfg.Filters {
		if !filterCfg.Enabled {
			continue
		}

		factory, exists := registry[name]
		if !exists {
			return nil, fmt.Errorf("unknown filter %q", name)
		}

		f := factory()
		if err := f.ValidateConfig(filterCfg.Settings); err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
		chain.Add(f)
	}

	return chain, nil
}
