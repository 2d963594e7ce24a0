package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"document-index/internal/config"
	"document-index/internal/embedding"
	"document-index/internal/ingest"
	"document-index/internal/journal"
	"document-index/internal/logger"
)

const configFilePath = "./configs/config.yaml"

type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "docindex",
		Short:         "Ingest documents into deduplicated vector indexes and query them",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadConfig(a.configPath)
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.Log.Level = a.logLevel
			}
			logger.SetupWriter(cfg.Log, cmd.ErrOrStderr())
			a.cfg = cfg
			log.Debug().Str("config", a.configPath).Str("provider", cfg.Embedding.Provider).Msg("Loaded config")
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&a.configPath, "config", configFilePath, "Path to the YAML config file")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(a))
	cmd.AddCommand(newIngestCmd(a))
	cmd.AddCommand(newQueryCmd(a))
	cmd.AddCommand(newHistoryCmd(a))
	return cmd
}

// coordinator wires the embedder and, when a database is configured, the run journal.
func (a *app) coordinator(ctx context.Context) (*ingest.Coordinator, func(), error) {
	embedder, err := embedding.New(a.cfg.Embedding)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	var opts []ingest.Option
	cleanup := func() {}
	if a.cfg.Database.DSN != "" {
		j, err := a.openJournal(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("Run journal unavailable, continuing without it")
		} else {
			opts = append(opts, ingest.WithJournal(j))
			cleanup = func() { _ = j.Close() }
		}
	}

	c, err := ingest.New(a.cfg, embedder, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return c, cleanup, nil
}

func (a *app) openJournal(ctx context.Context) (*journal.Journal, error) {
	j, err := journal.Open(a.cfg.Database)
	if err != nil {
		return nil, err
	}
	initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := j.Init(initCtx); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}
