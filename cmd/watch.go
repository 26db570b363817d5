package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/Rzx-x/Ticket-Agent/pkg/client"
	"github.com/Rzx-x/Ticket-Agent/pkg/resilient"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchServer string

var watchCmd = &cobra.Command{
	Use:   "watch [ticket-id...]",
	Short: "Print live ticket updates; watches all tickets when no id is given",
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", defaultServerURL(), "base URL of the API")
}

func runWatch(cmd *cobra.Command, args []string) error {
	topics := []string{client.TopicAll}
	if len(args) > 0 {
		topics = topics[:0]
		for _, a := range args {
			if _, err := uuid.Parse(a); err != nil {
				return fmt.Errorf("watch: invalid ticket id %q", a)
			}
			topics = append(topics, client.TicketTopic(a))
		}
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signalContext()
	defer stop()

	out := cmd.OutOrStdout()
	s := client.New(watchServer).Stream(resilient.StreamOptions{
		Logger:       log,
		OnConnect:    func() { log.Info("watch: connected", zap.Strings("topics", topics)) },
		OnDisconnect: func(err error) { log.Warn("watch: disconnected", zap.Error(err)) },
	})
	for _, topic := range topics {
		client.Watch(s, topic, func(u client.Update) {
			number, status := "", ""
			if u.Ticket != nil {
				number, status = u.Ticket.TicketNumber, u.Ticket.Status
			}
			fmt.Fprintf(out, "%s %-22s %s %s %s\n",
				u.Timestamp.Format("15:04:05"), u.Event, u.TicketID, number, status)
		})
	}

	if err := s.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return errors.New(resilient.UserMessage(err))
	}
	return nil
}
