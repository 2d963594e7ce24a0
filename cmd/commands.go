package main

import (
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"document-index/internal/helper"
	"document-index/internal/models"
	"document-index/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP ingestion and query API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, cleanup, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}
			return server.New(addr, c).Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (defaults to server.addr)")
	return cmd
}

func newIngestCmd(a *app) *cobra.Command {
	var (
		session      string
		shared       bool
		chunkSize    int
		chunkOverlap int
		k            int
	)
	cmd := &cobra.Command{
		Use:   "ingest <files...>",
		Short: "Ingest local files into a session index",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cleanup, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			req := c.DefaultRequest()
			req.SessionID = session
			if shared {
				req.UseSessionDirs = false
			}
			if cmd.Flags().Changed("chunk-size") {
				req.ChunkSize = chunkSize
			}
			if cmd.Flags().Changed("chunk-overlap") {
				req.ChunkOverlap = chunkOverlap
			}
			if cmd.Flags().Changed("k") {
				req.K = k
			}

			files := make([]models.UploadedFile, len(args))
			for i, path := range args {
				files[i] = models.LocalFile{Path: path}
			}
			res, err := c.Ingest(cmd.Context(), files, req)
			if err != nil {
				return err
			}
			helper.FprettyPrint(cmd.OutOrStdout(), res)
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Session id (generated when empty)")
	cmd.Flags().BoolVar(&shared, "shared", false, "Use the shared index instead of a per-session one")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", 0, "Chunk size in characters (defaults to ingest.chunk_size)")
	cmd.Flags().IntVar(&chunkOverlap, "chunk-overlap", 0, "Chunk overlap in characters (defaults to ingest.chunk_overlap)")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "Results per query for the returned retriever (defaults to ingest.k)")
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	var (
		session string
		shared  bool
		k       int
	)
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Return the chunks most similar to a query",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !shared && session == "" {
				return errors.New("--session is required unless --shared is set")
			}
			c, cleanup, err := a.coordinator(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			if k == 0 {
				k = a.cfg.Ingest.K
			}
			docs, err := c.Query(cmd.Context(), session, !shared, args[0], k)
			if err != nil {
				return err
			}
			helper.FprettyPrint(cmd.OutOrStdout(), docs)
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Session whose index is queried")
	cmd.Flags().BoolVar(&shared, "shared", false, "Query the shared index")
	cmd.Flags().IntVarP(&k, "k", "k", 0, "Number of results (defaults to ingest.k)")
	return cmd
}

func newHistoryCmd(a *app) *cobra.Command {
	var (
		session string
		limit   int
		reset   bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded ingestion runs (requires database.dsn)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if a.cfg.Database.DSN == "" {
				return errors.New("database.dsn is not configured")
			}
			j, err := a.openJournal(cmd.Context())
			if err != nil {
				return err
			}
			defer j.Close()

			if reset {
				if err := j.Reset(cmd.Context()); err != nil {
					return err
				}
				log.Info().Msg("Ingestion history cleared")
				return nil
			}
			runs, err := j.Recent(cmd.Context(), session, limit)
			if err != nil {
				return err
			}
			helper.FprettyPrint(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().StringVar(&session, "session", "", "Only runs of this session")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	cmd.Flags().BoolVar(&reset, "reset", false, "Drop the recorded history")
	return cmd
}
