package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/Rzx-x/Ticket-Agent/internal/application"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	glpiLimit   int
	glpiProcess bool
)

var glpiCmd = &cobra.Command{
	Use:   "glpi",
	Short: "Exchange tickets with a GLPI instance",
}

var glpiSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import recent GLPI tickets",
	RunE:  runGLPISync,
}

var glpiExportCmd = &cobra.Command{
	Use:   "export <ticket-id>",
	Short: "Create a GLPI ticket from a local ticket",
	Args:  cobra.ExactArgs(1),
	RunE:  runGLPIExport,
}

func init() {
	glpiSyncCmd.Flags().IntVar(&glpiLimit, "limit", 50, "number of most recent GLPI tickets to import")
	glpiSyncCmd.Flags().BoolVar(&glpiProcess, "process", false, "run AI triage on newly imported tickets")
	glpiCmd.AddCommand(glpiSyncCmd, glpiExportCmd)
}

func openGLPIApp(ctx context.Context) (*application.App, error) {
	cfg, log, err := loadRuntime()
	if err != nil {
		return nil, err
	}
	if !cfg.GLPIEnabled() {
		return nil, fmt.Errorf("glpi: GLPI_URL and GLPI_USER_TOKEN must be set")
	}
	return application.New(ctx, cfg, log, application.Options{})
}

func runGLPISync(cmd *cobra.Command, _ []string) error {
	if glpiLimit <= 0 {
		return fmt.Errorf("glpi sync: --limit must be positive")
	}
	ctx, stop := signalContext()
	defer stop()

	app, err := openGLPIApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	log := app.Log.Named("glpi")

	gc, err := app.GLPI()
	if err != nil {
		return err
	}
	if err := gc.InitSession(ctx); err != nil {
		return err
	}
	defer func() {
		kctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := gc.KillSession(kctx); err != nil {
			log.Warn("glpi: close session", zap.Error(err))
		}
	}()

	remote, err := gc.ListTickets(ctx, 0, glpiLimit-1)
	if err != nil {
		return err
	}

	var created, updated, failed int
	for _, rt := range remote {
		t, isNew, err := app.Tickets.UpsertExternal(ctx, rt.ToModel())
		if err != nil {
			failed++
			log.Warn("glpi: import failed", zap.Int("glpi_id", rt.ID), zap.Error(err))
			continue
		}
		if !isNew {
			updated++
			continue
		}
		created++
		app.Index.IndexTicketAsync(t)
		if glpiProcess {
			if _, err := app.Processor.Process(ctx, t.ID); err != nil {
				log.Warn("glpi: triage failed", zap.String("ticket", t.TicketNumber), zap.Error(err))
			}
		}
	}
	log.Info("glpi sync: done",
		zap.Int("fetched", len(remote)),
		zap.Int("created", created),
		zap.Int("updated", updated),
		zap.Int("failed", failed))
	return nil
}

func runGLPIExport(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("glpi export: invalid ticket id %q", args[0])
	}
	ctx, stop := signalContext()
	defer stop()

	app, err := openGLPIApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	t, err := app.Tickets.GetByID(ctx, id)
	if err != nil {
		return err
	}
	gc, err := app.GLPI()
	if err != nil {
		return err
	}
	defer func() { _ = gc.KillSession(context.Background()) }()

	glpiID, err := gc.CreateTicket(ctx, t)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s exported as GLPI ticket %d\n", t.TicketNumber, glpiID)
	return nil
}
