// Package events carries ticket lifecycle events to brokers and live WebSocket clients.
package events

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/google/uuid"
)

type Type string

const (
	TicketCreated      Type = "ticket.created"
	TicketUpdated      Type = "ticket.updated"
	TicketDeleted      Type = "ticket.deleted"
	TicketProcessed    Type = "ticket.processed"
	InteractionCreated Type = "interaction.created"
)

// TopicAll receives every event; TicketTopic narrows to one ticket.
const TopicAll = "tickets"

const ticketTopicPrefix = "ticket:"

func TicketTopic(id uuid.UUID) string { return ticketTopicPrefix + id.String() }

// ValidTopic accepts TopicAll and ticket:<uuid>.
func ValidTopic(topic string) bool {
	if topic == TopicAll {
		return true
	}
	rest, ok := strings.CutPrefix(topic, ticketTopicPrefix)
	if !ok {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}

type Event struct {
	Type        Type                     `json:"event"`
	TicketID    uuid.UUID                `json:"ticket_id"`
	Ticket      *model.Ticket            `json:"ticket,omitempty"`
	Interaction *model.TicketInteraction `json:"interaction,omitempty"`
	OccurredAt  time.Time                `json:"occurred_at"`
}

func NewTicketEvent(typ Type, t *model.Ticket) Event {
	return Event{Type: typ, TicketID: t.ID, Ticket: t, OccurredAt: time.Now().UTC()}
}

func NewInteractionEvent(i *model.TicketInteraction) Event {
	return Event{Type: InteractionCreated, TicketID: i.TicketID, Interaction: i, OccurredAt: time.Now().UTC()}
}

// Topics lists the live-update topics an event is delivered on.
func (e Event) Topics() []string {
	return []string{TopicAll, TicketTopic(e.TicketID)}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
