package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/track-server/track-server-pro/internal/config"
	"github.com/track-server/track-server-pro/internal/protocol"
	"github.com/track-server/track-server-pro/internal/session"
	"github.com/track-server/track-server-pro/internal/storage"
)

func main() {
	// Command line flags
	var configFile string
	var validateOnly bool
	var showConfig bool
	flag.StringVar(&configFile, "config", "config/track-server.yml", "Configuration file path")
	flag.BoolVar(&validateOnly, "validate", false, "Validate the configuration file and exit")
	flag.BoolVar(&showConfig, "show-config", false, "Print the configuration summary and exit")
	flag.Parse()

	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load configuration
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if showConfig {
		cfg.PrintConfigSummary()
		return
	}
	if validateOnly {
		log.Info().Str("file", configFile).Msg("Configuration is valid")
		return
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	cfg.PrintConfigSummary()

	// Connect to database
	store, err := storage.NewPostgresStore(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer store.Close()

	log.Info().Msg("Connected to database")

	// Create context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Optional NATS connection for event publishing
	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		log.Info().Str("url", cfg.NATS.URL).Msg("Connecting to NATS...")

		nc, err = nats.Connect(cfg.NATS.URL,
			nats.Name("track-server"),
			nats.UserInfo(cfg.NATS.Username, cfg.NATS.Password),
			nats.ReconnectWait(cfg.NATS.ReconnectInterval),
			nats.MaxReconnects(cfg.NATS.MaxReconnects),
			nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				log.Info().Msg("Reconnected to NATS")
			}),
		)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to connect to NATS, events will not be published")
			nc = nil
		} else {
			defer nc.Close()
			log.Info().Msg("Connected to NATS")
		}
	} else {
		log.Info().Msg("NATS not configured, events will not be published")
	}

	// Build the device listeners
	env := &protocol.Env{Ctx: ctx, Store: store, NATS: nc}
	specs, err := protocol.BuildSpecs(env, cfg.Protocols)
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid protocol configuration")
	}

	manager := session.NewManager()
	for _, spec := range specs {
		manager.Add(*spec)
	}

	if err := manager.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start device listeners")
	}

	// Wait for signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received signal, shutting down")

	cancel()
	manager.Stop()

	log.Info().Msg("Track server stopped")
}
