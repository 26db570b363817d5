package events

import (
	"context"
	"errors"
	"testing"

	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	got []Event
	err error
}

func (r *recordingPublisher) Publish(_ context.Context, ev Event) error {
	r.got = append(r.got, ev)
	return r.err
}

func TestFanoutPublishesToAllAndJoinsErrors(t *testing.T) {
	ok := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("broker down")}
	var nilKafka *KafkaPublisher

	f := Fanout{ok, failing, nilKafka, Nop{}}
	ev := NewTicketEvent(TicketCreated, &model.Ticket{ID: uuid.New()})

	err := f.Publish(context.Background(), ev)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
	assert.Len(t, ok.got, 1)
	assert.Len(t, failing.got, 1)
}

func TestValidTopic(t *testing.T) {
	id := uuid.New()
	assert.True(t, ValidTopic(TopicAll))
	assert.True(t, ValidTopic(TicketTopic(id)))
	assert.False(t, ValidTopic("ticket:not-a-uuid"))
	assert.False(t, ValidTopic("users"))
}

func TestEventTopics(t *testing.T) {
	id := uuid.New()
	ev := NewInteractionEvent(&model.TicketInteraction{TicketID: id, Type: model.InteractionAgentResponse})
	assert.Equal(t, InteractionCreated, ev.Type)
	assert.Equal(t, []string{TopicAll, "ticket:" + id.String()}, ev.Topics())
}

func TestNATSSubject(t *testing.T) {
	p := &NATSPublisher{prefix: "helpdesk"}
	assert.Equal(t, "helpdesk.ticket.created", p.Subject(TicketCreated))
	p.prefix = ""
	assert.Equal(t, "ticket.updated", p.Subject(TicketUpdated))
}
