package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"go.uber.org/zap"
)

type Channel string

const (
	ChannelNone  Channel = ""
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

type Mailer interface {
	Send(ctx context.Context, m Email) error
}

type Texter interface {
	Send(ctx context.Context, to, body string) error
}

// Dispatcher picks a channel for a ticket's reporter. Either sender may be
// nil when that channel is not configured.
type Dispatcher struct {
	mail     Mailer
	sms      Texter
	teamName string
	log      *zap.Logger
}

func NewDispatcher(mail Mailer, sms Texter, teamName string, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if teamName == "" {
		teamName = "IT Support Team"
	}
	return &Dispatcher{mail: mail, sms: sms, teamName: teamName, log: log}
}

// NotifyTicket sends reply to the reporter and returns the channel used.
// SMS wins for tickets that arrived by SMS and carry a phone number.
func (d *Dispatcher) NotifyTicket(ctx context.Context, t *model.Ticket, reply string) (Channel, error) {
	if d == nil || t == nil {
		return ChannelNone, nil
	}
	switch {
	case t.Source == model.SourceSMS && t.UserPhone != "" && d.sms != nil:
		body := fmt.Sprintf("%s: %s", t.TicketNumber, strings.TrimSpace(reply))
		if err := d.sms.Send(ctx, t.UserPhone, body); err != nil {
			return ChannelNone, err
		}
		d.log.Info("sms notification sent", zap.String("ticket", t.TicketNumber))
		return ChannelSMS, nil

	case t.UserEmail != "" && d.mail != nil:
		m := Email{
			To:       []string{t.UserEmail},
			Subject:  fmt.Sprintf("[%s] %s | %s", t.TicketNumber, t.Title, d.teamName),
			TextBody: d.sign(reply),
		}
		if err := d.mail.Send(ctx, m); err != nil {
			return ChannelNone, err
		}
		d.log.Info("email notification sent", zap.String("ticket", t.TicketNumber))
		return ChannelEmail, nil
	}
	return ChannelNone, nil
}

// sign appends the team signature unless the reply already carries it.
func (d *Dispatcher) sign(reply string) string {
	reply = strings.TrimSpace(reply)
	if strings.Contains(reply, d.teamName) {
		return reply
	}
	return reply + "\n\n-- \n" + d.teamName
}
