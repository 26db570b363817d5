package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Rzx-x/Ticket-Agent/internal/ai"
	"github.com/Rzx-x/Ticket-Agent/internal/langdetect"
	"github.com/Rzx-x/Ticket-Agent/internal/metrics"
	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/Rzx-x/Ticket-Agent/internal/notify"
	"github.com/Rzx-x/Ticket-Agent/internal/searchindex"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const similarForPrompt = 3

type Analyzer interface {
	Classify(ctx context.Context, in ai.Input) ai.Classification
	Respond(ctx context.Context, in ai.ResponseInput) (string, bool)
}

type Indexer interface {
	Similar(ctx context.Context, text string, limit int, exclude uuid.UUID) ([]searchindex.Match, error)
	IndexTicketAsync(t *model.Ticket)
}

type Notifier interface {
	NotifyTicket(ctx context.Context, t *model.Ticket, reply string) (notify.Channel, error)
}

// Outcome is what one pass of the AI pipeline produced.
type Outcome struct {
	Ticket   *model.Ticket
	Fallback bool
	Similar  []searchindex.Match
	Notified notify.Channel
}

type SubmitInput struct {
	Text      string
	Title     string
	Source    string
	UserEmail string
	UserName  string
	UserPhone string
}

type ProcessorOptions struct {
	Index         Indexer
	Notifier      Notifier
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
	SubmitTimeout time.Duration
}

// Processor runs tickets through language detection, similar-ticket lookup,
// classification, reply drafting, indexing and reporter notification.
type Processor struct {
	tickets       *TicketService
	ai            Analyzer
	index         Indexer
	notifier      Notifier
	metrics       *metrics.Metrics
	log           *zap.Logger
	submitTimeout time.Duration
}

func NewProcessor(tickets *TicketService, analyzer Analyzer, opts ProcessorOptions) *Processor {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	if opts.SubmitTimeout <= 0 {
		opts.SubmitTimeout = 45 * time.Second
	}
	return &Processor{
		tickets:       tickets,
		ai:            analyzer,
		index:         opts.Index,
		notifier:      opts.Notifier,
		metrics:       opts.Metrics,
		log:           log.Named("processor"),
		submitTimeout: opts.SubmitTimeout,
	}
}

// Submit stores a ticket from the public intake form and processes it
// synchronously. Once the ticket exists a processing failure is logged and
// the stored ticket is still returned.
func (p *Processor) Submit(ctx context.Context, in SubmitInput) (*Outcome, error) {
	t := &model.Ticket{
		Title:     in.Title,
		Body:      in.Text,
		Source:    model.ParseSource(in.Source),
		UserEmail: in.UserEmail,
		UserName:  strings.TrimSpace(in.UserName),
		UserPhone: strings.TrimSpace(in.UserPhone),
	}
	if err := p.tickets.Create(ctx, t); err != nil {
		return nil, err
	}
	p.metrics.TicketCreated(string(t.Source))

	pctx, cancel := context.WithTimeout(ctx, p.submitTimeout)
	defer cancel()
	out, err := p.process(pctx, t.ID, true)
	if err == nil {
		return out, nil
	}
	p.log.Warn("processing submitted ticket failed", zap.String("ticket_id", t.ID.String()), zap.Error(err))
	stored, gerr := p.tickets.GetByID(context.WithoutCancel(ctx), t.ID)
	if gerr != nil {
		stored = t
	}
	return &Outcome{Ticket: stored, Fallback: true}, nil
}

// Process analyses a stored ticket and notifies its reporter.
func (p *Processor) Process(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	return p.process(ctx, id, true)
}

// Regenerate reruns classification and the drafted reply without notifying
// the reporter again.
func (p *Processor) Regenerate(ctx context.Context, id uuid.UUID) (*Outcome, error) {
	return p.process(ctx, id, false)
}

func (p *Processor) process(ctx context.Context, id uuid.UUID, notifyReporter bool) (*Outcome, error) {
	t, err := p.tickets.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	lang := langdetect.Detect(t.Title + "\n" + t.Body)

	var similar []searchindex.Match
	if p.index != nil {
		similar, err = p.index.Similar(ctx, searchindex.Document(t), similarForPrompt, t.ID)
		if err != nil {
			p.log.Warn("similar ticket lookup failed", zap.String("ticket_id", id.String()), zap.Error(err))
			similar = nil
		}
	}

	cls := p.ai.Classify(ctx, ai.Input{Title: t.Title, Body: t.Body, Language: lang})
	reply, replyFallback := p.ai.Respond(ctx, ai.ResponseInput{
		TicketNumber: t.TicketNumber,
		Title:        t.Title,
		Body:         t.Body,
		Category:     cls.Category,
		Language:     lang.Language,
		UserName:     t.UserName,
		Similar:      toPromptSimilar(similar),
	})
	fallback := cls.Fallback || replyFallback

	analysis := Analysis{
		Language:    lang.Language,
		Category:    cls.Category,
		Subcategory: cls.Subcategory,
		Urgency:     cls.Urgency,
		Confidence:  cls.Confidence,
		Response:    reply,
		Escalate:    cls.RequiresEscalation,
		Fallback:    fallback,
		Metadata:    analysisMetadata(lang, cls, similar, fallback),
	}
	// The ticket is already stored; finish recording even if the caller gave up.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	updated, err := p.tickets.ApplyAnalysis(wctx, id, analysis)
	if err != nil {
		return nil, fmt.Errorf("store analysis: %w", err)
	}
	p.metrics.AIOutcome(fallback)
	p.log.Info("ticket processed",
		zap.String("ticket_id", id.String()),
		zap.String("category", updated.Category),
		zap.String("urgency", string(updated.Urgency)),
		zap.Bool("fallback", fallback),
		zap.Int("similar", len(similar)))

	if p.index != nil {
		p.index.IndexTicketAsync(updated)
	}

	out := &Outcome{Ticket: updated, Fallback: fallback, Similar: similar}
	if notifyReporter {
		out.Notified = p.notifyReporter(wctx, updated, reply)
	}
	return out, nil
}

func (p *Processor) notifyReporter(ctx context.Context, t *model.Ticket, reply string) notify.Channel {
	if p.notifier == nil || reply == "" {
		return notify.ChannelNone
	}
	ch, err := p.notifier.NotifyTicket(ctx, t, reply)
	if err != nil {
		p.log.Warn("notify reporter failed", zap.String("ticket_id", t.ID.String()), zap.Error(err))
		p.metrics.Notified("unknown", err)
		return notify.ChannelNone
	}
	if ch == notify.ChannelNone {
		return ch
	}
	p.metrics.Notified(string(ch), nil)

	note := &model.TicketInteraction{Author: "system"}
	switch ch {
	case notify.ChannelSMS:
		note.Type = model.InteractionSMSSent
		note.Content = "Acknowledgement sent by SMS to " + t.UserPhone
	default:
		note.Type = model.InteractionEmailSent
		note.Content = "Acknowledgement sent by email to " + t.UserEmail
	}
	if err := p.tickets.AddInteraction(ctx, t.ID, note); err != nil {
		p.log.Warn("record notification failed", zap.String("ticket_id", t.ID.String()), zap.Error(err))
	}
	return ch
}

func toPromptSimilar(in []searchindex.Match) []ai.SimilarTicket {
	out := make([]ai.SimilarTicket, 0, len(in))
	for _, m := range in {
		out = append(out, ai.SimilarTicket{Title: m.Title, Category: m.Category, ResolutionNotes: m.ResolutionNotes, Score: m.Score})
	}
	return out
}

func analysisMetadata(lang langdetect.Result, cls ai.Classification, similar []searchindex.Match, fallback bool) map[string]any {
	md := map[string]any{
		"ai_fallback":         fallback,
		"language_confidence": lang.Confidence,
		"mixed_language":      lang.Mixed,
	}
	if cls.Reasoning != "" {
		md["ai_reasoning"] = cls.Reasoning
	}
	if len(cls.Keywords) > 0 {
		md["ai_keywords"] = cls.Keywords
	}
	if cls.EstimatedResolution != "" {
		md["estimated_resolution"] = cls.EstimatedResolution
	}
	if len(similar) > 0 {
		numbers := make([]string, 0, len(similar))
		for _, m := range similar {
			numbers = append(numbers, m.TicketNumber)
		}
		md["similar_tickets"] = numbers
	}
	return md
}
