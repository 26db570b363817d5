package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/Rzx-x/Ticket-Agent/pkg/client"
	"github.com/Rzx-x/Ticket-Agent/pkg/resilient"
	"github.com/spf13/cobra"
)

var submitFlags struct {
	server  string
	source  string
	email   string
	name    string
	phone   string
	timeout time.Duration
}

var submitCmd = &cobra.Command{
	Use:   "submit [text]",
	Short: "Submit a ticket to a running server; reads stdin when no text is given",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runSubmit,
}

func init() {
	f := submitCmd.Flags()
	f.StringVar(&submitFlags.server, "server", defaultServerURL(), "base URL of the API")
	f.StringVar(&submitFlags.source, "source", "web", "ticket source")
	f.StringVar(&submitFlags.email, "email", "", "reporter email")
	f.StringVar(&submitFlags.name, "name", "", "reporter name")
	f.StringVar(&submitFlags.phone, "phone", "", "reporter phone (E.164)")
	f.DurationVar(&submitFlags.timeout, "timeout", 30*time.Second, "per-attempt request timeout")
}

func defaultServerURL() string {
	if u := os.Getenv("TICKET_AGENT_URL"); u != "" {
		return u
	}
	return "http://localhost:8000"
}

func runSubmit(cmd *cobra.Command, args []string) error {
	text := ""
	if len(args) == 1 {
		text = args[0]
	} else {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return err
		}
		text = string(b)
	}
	if strings.TrimSpace(text) == "" {
		return errors.New("submit: ticket text is empty")
	}

	c := client.New(submitFlags.server, resilient.WithTimeout(submitFlags.timeout))
	ctx, cancel := context.WithTimeout(cmd.Context(), 3*submitFlags.timeout)
	defer cancel()

	res, err := c.SubmitTicket(ctx, client.SubmitRequest{
		Text:      text,
		Source:    submitFlags.source,
		UserEmail: submitFlags.email,
		UserName:  submitFlags.name,
		UserPhone: submitFlags.phone,
	})
	if err != nil {
		return errors.New(resilient.UserMessage(err))
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		return fmt.Errorf("submit: %w", err)
	}
	return nil
}
