package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shohag/pushbridge/internal/api"
	"github.com/shohag/pushbridge/internal/config"
	"github.com/shohag/pushbridge/internal/dispatch"
	"github.com/shohag/pushbridge/internal/engine"
	"github.com/shohag/pushbridge/internal/outcome"
	"github.com/shohag/pushbridge/internal/registry"
)

var version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:   "pushbridge",
		Short: "PushBridge - event to push-notification dispatch bridge",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(serveCmd(&configPath))
	rootCmd.AddCommand(migrateCmd(&configPath))
	rootCmd.AddCommand(outcomesCmd(&configPath))
	rootCmd.AddCommand(statsCmd(&configPath))
	rootCmd.AddCommand(versionCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the PushBridge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			log := setupLogger(cfg.Logging)

			sink, reader, closeSink, err := setupOutcomes(cfg.Outcomes, log)
			if err != nil {
				return fmt.Errorf("failed to setup outcome store: %w", err)
			}
			defer closeSink()

			store := registry.NewRedisStore(cfg.Redis)
			defer store.Close()

			gateway := dispatch.NewFCMGateway(cfg.Gateway)

			eng := engine.New(cfg.Dispatch, store, gateway, sink, log)
			eng.Start()

			server := api.NewServer(cfg.Server, eng, reader, log)
			go func() {
				if err := server.Start(); err != nil && err != http.ErrServerClosed {
					log.Fatal().Err(err).Msg("server error")
				}
			}()

			log.Info().
				Str("version", version).
				Int("port", cfg.Server.Port).
				Int("workers", cfg.Dispatch.Workers).
				Str("redis", cfg.Redis.Addr).
				Str("outcomes", cfg.Outcomes.Driver).
				Msg("PushBridge is running")

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
			<-quit

			log.Info().Msg("shutting down...")

			if err := server.Shutdown(10 * time.Second); err != nil {
				log.Error().Err(err).Msg("server shutdown error")
			}

			eng.Stop()

			log.Info().Msg("PushBridge stopped")
			return nil
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run outcome store migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if cfg.Outcomes.Driver != "sqlite" {
				return fmt.Errorf("nothing to migrate for driver %q", cfg.Outcomes.Driver)
			}

			store, err := outcome.NewSQLite(cfg.Outcomes.SQLite.Path)
			if err != nil {
				return fmt.Errorf("failed to open outcome store: %w", err)
			}
			defer store.Close()

			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			log := setupLogger(cfg.Logging)
			log.Info().Msg("migrations completed successfully")
			return nil
		},
	}
}

func outcomesCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "outcomes",
		Short: "List delivery outcomes for an event",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) < 1 {
				return fmt.Errorf("usage: pushbridge outcomes <event_id>")
			}

			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			outcomes, err := store.ListByEvent(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to list outcomes: %w", err)
			}

			if len(outcomes) == 0 {
				fmt.Println("No outcomes found.")
				return nil
			}

			out, _ := json.MarshalIndent(outcomes, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show aggregate delivery stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := store.Stats(context.Background())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			out, _ := json.MarshalIndent(stats, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("PushBridge v%s\n", version)
		},
	}
}

func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Format == "console" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// setupOutcomes picks the outcome sink. The sqlite driver also serves the
// read API; the log driver records to the logger only and the read
// endpoints report unimplemented.
func setupOutcomes(cfg config.OutcomesConfig, log zerolog.Logger) (outcome.Sink, api.OutcomeReader, func(), error) {
	switch cfg.Driver {
	case "sqlite":
		store, err := outcome.NewSQLite(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, nil, err
		}
		if err := store.Migrate(context.Background()); err != nil {
			store.Close()
			return nil, nil, nil, err
		}
		log.Info().Str("path", cfg.SQLite.Path).Msg("using SQLite outcome store")
		return store, store, func() { store.Close() }, nil
	case "log":
		return outcome.NewLogSink(log), nil, func() {}, nil
	default:
		return nil, nil, nil, fmt.Errorf("unsupported outcome driver: %s", cfg.Driver)
	}
}

func storeFromConfig(configPath string) (*outcome.SQLiteStore, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.Outcomes.Driver != "sqlite" {
		return nil, nil, fmt.Errorf("outcome queries require the sqlite driver")
	}

	store, err := outcome.NewSQLite(cfg.Outcomes.SQLite.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open outcome store: %w", err)
	}

	if err := store.Migrate(context.Background()); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, func() { store.Close() }, nil
}
