package cmd

import (
	"github.com/Rzx-x/Ticket-Agent/internal/application"
	"github.com/spf13/cobra"
)

var apiCmd = &cobra.Command{
	Use:   "api",
	Short: "Serve the HTTP API and live updates",
	RunE:  runAPI,
}

func runAPI(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadRuntime()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	api, err := application.NewAPI(ctx, cfg, log)
	if err != nil {
		return err
	}
	return api.Run(ctx)
}
