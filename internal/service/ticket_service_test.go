package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Rzx-x/Ticket-Agent/internal/database/dbtest"
	"github.com/Rzx-x/Ticket-Agent/internal/errs"
	"github.com/Rzx-x/Ticket-Agent/internal/events"
	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []events.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]events.Type, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func newTicketService(t *testing.T) (*TicketService, *recordingPublisher) {
	t.Helper()
	pub := &recordingPublisher{}
	return NewTicketService(dbtest.New(t), pub, nil), pub
}

func ptr[T any](v T) *T { return &v }

func TestCreateFillsDefaults(t *testing.T) {
	svc, pub := newTicketService(t)
	ctx := context.Background()

	tk := &model.Ticket{Body: "  VPN keeps disconnecting every few minutes\nsince this morning  ", UserEmail: " a@corp.in "}
	require.NoError(t, svc.Create(ctx, tk))

	assert.NotEqual(t, uuid.Nil, tk.ID)
	assert.Regexp(t, `^TKT-\d{8}-[0-9A-F]{6}$`, tk.TicketNumber)
	assert.Equal(t, "VPN keeps disconnecting every few minutes", tk.Title)
	assert.Equal(t, model.SourceWeb, tk.Source)
	assert.Equal(t, model.TicketStatusOpen, tk.Status)
	assert.Equal(t, model.UrgencyMedium, tk.Urgency)
	assert.Equal(t, 3, tk.Priority)
	assert.Equal(t, "a@corp.in", tk.UserEmail)

	got, err := svc.GetWithInteractions(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, got.Interactions, 1)
	assert.Equal(t, model.InteractionUserMessage, got.Interactions[0].Type)
	assert.Equal(t, "a@corp.in", got.Interactions[0].Author)
	assert.Equal(t, []events.Type{events.TicketCreated}, pub.types())
}

func TestCreateValidates(t *testing.T) {
	svc, _ := newTicketService(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		tk    *model.Ticket
		field string
	}{
		{"blank body", &model.Ticket{Body: "   "}, "body"},
		{"huge body", &model.Ticket{Body: strings.Repeat("a", MaxBodyLength+1)}, "body"},
		{"bad source", &model.Ticket{Body: "x", Source: "fax"}, "source"},
		{"bad urgency", &model.Ticket{Body: "x", Urgency: "whenever"}, "urgency"},
		{"bad status", &model.Ticket{Body: "x", Status: "pending"}, "status"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := svc.Create(ctx, tt.tk)
			require.ErrorIs(t, err, errs.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestGetMissing(t *testing.T) {
	svc, _ := newTicketService(t)
	_, err := svc.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, errs.ErrTicketNotFound)
}

func TestListFiltersAndPages(t *testing.T) {
	svc, _ := newTicketService(t)
	ctx := context.Background()

	for i, body := range []string{"Printer jammed on floor 3", "Outlook crashes", "Printer out of toner"} {
		tk := &model.Ticket{Body: body, Category: "Printer", Source: model.SourceEmail}
		if i == 1 {
			tk.Category = "Email"
			tk.Source = model.SourceWeb
		}
		require.NoError(t, svc.Create(ctx, tk))
	}

	items, total, err := svc.List(ctx, ListFilter{Category: "Printer"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	assert.Len(t, items, 2)

	items, total, err = svc.List(ctx, ListFilter{Query: "TONER"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, "Printer out of toner", items[0].Title)

	items, total, err = svc.List(ctx, ListFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)
	assert.Len(t, items, 1)

	_, total, err = svc.List(ctx, ListFilter{Source: model.SourceWeb, Limit: 1000})
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
}

func TestUpdateLifecycle(t *testing.T) {
	svc, pub := newTicketService(t)
	ctx := context.Background()
	tk := &model.Ticket{Body: "Laptop will not boot"}
	require.NoError(t, svc.Create(ctx, tk))

	_, err := svc.Update(ctx, tk.ID, TicketUpdate{}, "")
	assert.ErrorIs(t, err, errs.ErrNoChanges)

	got, err := svc.Update(ctx, tk.ID, TicketUpdate{
		Status:     ptr(model.TicketStatusInProgress),
		Urgency:    ptr(model.UrgencyCritical),
		AssignedTo: ptr("ravi"),
	}, "lead")
	require.NoError(t, err)
	assert.Equal(t, model.TicketStatusInProgress, got.Status)
	assert.Equal(t, 1, got.Priority)
	assert.Equal(t, "ravi", got.AssignedTo)

	got, err = svc.Update(ctx, tk.ID, TicketUpdate{Status: ptr(model.TicketStatusResolved), ResolutionNotes: ptr("Replaced SSD")}, "ravi")
	require.NoError(t, err)
	require.NotNil(t, got.ResolvedAt)

	_, err = svc.Update(ctx, tk.ID, TicketUpdate{Status: ptr(model.TicketStatusEscalated)}, "ravi")
	var te *errs.TransitionError
	require.ErrorAs(t, err, &te)
	assert.ErrorIs(t, err, errs.ErrInvalidTransition)

	got, err = svc.Update(ctx, tk.ID, TicketUpdate{Status: ptr(model.TicketStatusOpen)}, "ravi")
	require.NoError(t, err)
	assert.Nil(t, got.ResolvedAt, "reopening clears resolution time")

	notes, err := svc.ListInteractions(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, notes, 4)
	assert.Equal(t, model.InteractionSystemNote, notes[1].Type)
	assert.Contains(t, notes[1].Content, "Updated by lead")
	assert.Contains(t, notes[1].Content, "status open -> in_progress")

	// same values again: nothing recorded, nothing published
	before := len(pub.types())
	_, err = svc.Update(ctx, tk.ID, TicketUpdate{AssignedTo: ptr("ravi")}, "ravi")
	require.NoError(t, err)
	assert.Len(t, pub.types(), before)
}

func TestDeleteIsSoft(t *testing.T) {
	svc, pub := newTicketService(t)
	ctx := context.Background()
	tk := &model.Ticket{Body: "Old ticket"}
	require.NoError(t, svc.Create(ctx, tk))

	require.NoError(t, svc.Delete(ctx, tk.ID))
	_, err := svc.GetByID(ctx, tk.ID)
	assert.ErrorIs(t, err, errs.ErrTicketNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, tk.ID), errs.ErrTicketNotFound)

	var n int64
	require.NoError(t, svc.db.Unscoped().Model(&model.Ticket{}).Where("id = ?", tk.ID).Count(&n).Error)
	assert.EqualValues(t, 1, n)
	assert.Contains(t, pub.types(), events.TicketDeleted)
}

func TestAddInteraction(t *testing.T) {
	svc, _ := newTicketService(t)
	ctx := context.Background()
	tk := &model.Ticket{Body: "Need Teams license"}
	require.NoError(t, svc.Create(ctx, tk))

	err := svc.AddInteraction(ctx, tk.ID, &model.TicketInteraction{Type: "shout", Content: "x"})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	err = svc.AddInteraction(ctx, tk.ID, &model.TicketInteraction{Type: model.InteractionAgentResponse, Content: "  "})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	err = svc.AddInteraction(ctx, uuid.New(), &model.TicketInteraction{Type: model.InteractionAgentResponse, Content: "hi"})
	assert.ErrorIs(t, err, errs.ErrTicketNotFound)

	in := &model.TicketInteraction{Type: model.InteractionAgentResponse, Content: "License assigned", Author: "ravi"}
	require.NoError(t, svc.AddInteraction(ctx, tk.ID, in))
	assert.Equal(t, tk.ID, in.TicketID)

	items, err := svc.ListInteractions(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "License assigned", items[1].Content)
}

func TestApplyAnalysisRaisesOnly(t *testing.T) {
	svc, _ := newTicketService(t)
	ctx := context.Background()
	tk := &model.Ticket{Body: "Server room AC failed", Urgency: model.UrgencyHigh, Metadata: map[string]any{"origin": "kiosk"}}
	require.NoError(t, svc.Create(ctx, tk))

	got, err := svc.ApplyAnalysis(ctx, tk.ID, Analysis{
		Language:   model.LanguageEnglish,
		Category:   "Hardware",
		Urgency:    model.UrgencyLow,
		Confidence: 0.9,
		Response:   "We are on it.",
		Escalate:   true,
		Metadata:   map[string]any{"ai_fallback": false},
	})
	require.NoError(t, err)
	assert.True(t, got.AIProcessed)
	assert.Equal(t, "Hardware", got.Category)
	assert.Equal(t, model.UrgencyHigh, got.Urgency, "AI never lowers urgency")
	assert.Equal(t, model.TicketStatusEscalated, got.Status)
	assert.Equal(t, "kiosk", got.Metadata["origin"])
	assert.Equal(t, false, got.Metadata["ai_fallback"])

	got, err = svc.ApplyAnalysis(ctx, tk.ID, Analysis{Urgency: model.UrgencyCritical, Response: "Fallback", Fallback: true})
	require.NoError(t, err)
	assert.Equal(t, model.UrgencyCritical, got.Urgency)
	assert.Equal(t, 1, got.Priority)

	items, err := svc.ListInteractions(ctx, tk.ID)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "ai", items[1].Author)
	assert.Equal(t, "ai-fallback", items[2].Author)
}

func TestUpsertExternal(t *testing.T) {
	svc, _ := newTicketService(t)
	ctx := context.Background()

	_, _, err := svc.UpsertExternal(ctx, &model.Ticket{Body: "x", Source: model.SourceGLPI})
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	in := func() *model.Ticket {
		return &model.Ticket{ExternalID: "42", Source: model.SourceGLPI, Title: "Scanner", Body: "Scanner offline"}
	}
	first, created, err := svc.UpsertExternal(ctx, in())
	require.NoError(t, err)
	assert.True(t, created)

	same, created, err := svc.UpsertExternal(ctx, in())
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, same.ID)

	next := in()
	next.Status = model.TicketStatusResolved
	updated, created, err := svc.UpsertExternal(ctx, next)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, model.TicketStatusResolved, updated.Status)
	assert.NotNil(t, updated.ResolvedAt)
}

func TestEachWalksAllTickets(t *testing.T) {
	svc, _ := newTicketService(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, svc.Create(ctx, &model.Ticket{Body: fmt.Sprintf("ticket %d", i)}))
	}
	var seen, batches int
	require.NoError(t, svc.Each(ctx, 2, func(b []model.Ticket) error {
		seen += len(b)
		batches++
		return nil
	}))
	assert.Equal(t, 5, seen)
	assert.Equal(t, 3, batches)
}
