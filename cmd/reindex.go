package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Rzx-x/Ticket-Agent/internal/application"
	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const reindexProgressEvery = 50

var reindexBatch int

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Embed every ticket into the vector index",
	RunE:  runReindex,
}

func init() {
	reindexCmd.Flags().IntVar(&reindexBatch, "batch", 100, "tickets loaded per database batch")
}

func runReindex(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signalContext()
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	app, err := application.New(ctx, cfg, log, application.Options{})
	if err != nil {
		return err
	}
	defer app.Close()
	if cfg.Qdrant.URL == "" {
		log.Warn("reindex: QDRANT_URL not set, indexing into memory only")
	}
	if err := app.Index.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("reindex: %w", err)
	}

	var done, failed int
	err = app.Tickets.Each(ctx, reindexBatch, func(batch []model.Ticket) error {
		for i := range batch {
			if err := app.Index.IndexTicket(ctx, &batch[i]); err != nil {
				failed++
				log.Warn("reindex: ticket failed", zap.String("ticket_id", batch[i].ID.String()), zap.Error(err))
			}
			done++
			if done%reindexProgressEvery == 0 {
				log.Info("reindex: progress", zap.Int("indexed", done-failed), zap.Int("failed", failed))
			}
		}
		return ctx.Err()
	})
	if err != nil {
		return fmt.Errorf("reindex: %w", err)
	}
	log.Info("reindex: done",
		zap.String("collection", app.Index.Collection()),
		zap.Int("indexed", done-failed),
		zap.Int("failed", failed))
	return nil
}
