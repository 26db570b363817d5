package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Rzx-x/Ticket-Agent/internal/errs"
	"github.com/Rzx-x/Ticket-Agent/internal/events"
	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
	MaxBodyLength    = 10000
)

// TicketServicer is the ticket store as seen by handlers and background jobs.
type TicketServicer interface {
	Create(ctx context.Context, t *model.Ticket) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.Ticket, error)
	GetWithInteractions(ctx context.Context, id uuid.UUID) (*model.Ticket, error)
	List(ctx context.Context, f ListFilter) ([]model.Ticket, int64, error)
	Update(ctx context.Context, id uuid.UUID, upd TicketUpdate, actor string) (*model.Ticket, error)
	Delete(ctx context.Context, id uuid.UUID) error
	AddInteraction(ctx context.Context, ticketID uuid.UUID, in *model.TicketInteraction) error
	ListInteractions(ctx context.Context, ticketID uuid.UUID) ([]model.TicketInteraction, error)
}

type TicketService struct {
	db  *gorm.DB
	pub events.Publisher
	log *zap.Logger
	now func() time.Time
}

func NewTicketService(db *gorm.DB, pub events.Publisher, log *zap.Logger) *TicketService {
	if pub == nil {
		pub = events.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &TicketService{db: db, pub: pub, log: log.Named("tickets"), now: func() time.Time { return time.Now().UTC() }}
}

type ListFilter struct {
	Status     model.TicketStatus
	Category   string
	Urgency    model.Urgency
	Source     model.Source
	Language   model.Language
	AssignedTo string
	// Query matches title, body or ticket number, case-insensitively.
	Query  string
	Limit  int
	Offset int
}

func (f ListFilter) normalized() ListFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}

func (f ListFilter) scope(tx *gorm.DB) *gorm.DB {
	if f.Status != "" {
		tx = tx.Where("status = ?", f.Status)
	}
	if f.Category != "" {
		tx = tx.Where("category = ?", f.Category)
	}
	if f.Urgency != "" {
		tx = tx.Where("urgency = ?", f.Urgency)
	}
	if f.Source != "" {
		tx = tx.Where("source = ?", f.Source)
	}
	if f.Language != "" {
		tx = tx.Where("language = ?", f.Language)
	}
	if f.AssignedTo != "" {
		tx = tx.Where("assigned_to = ?", f.AssignedTo)
	}
	if q := strings.ToLower(strings.TrimSpace(f.Query)); q != "" {
		like := "%" + q + "%"
		tx = tx.Where("LOWER(title) LIKE ? OR LOWER(body) LIKE ? OR LOWER(ticket_number) LIKE ?", like, like, like)
	}
	return tx
}

// TicketUpdate is a partial update; nil fields are left alone.
type TicketUpdate struct {
	Title           *string
	Status          *model.TicketStatus
	Urgency         *model.Urgency
	Category        *string
	Subcategory     *string
	AssignedTo      *string
	ResolutionNotes *string
}

func (u TicketUpdate) Empty() bool {
	return u.Title == nil && u.Status == nil && u.Urgency == nil && u.Category == nil &&
		u.Subcategory == nil && u.AssignedTo == nil && u.ResolutionNotes == nil
}

// Analysis is the outcome of the AI pipeline for one ticket.
type Analysis struct {
	Language    model.Language
	Category    string
	Subcategory string
	Urgency     model.Urgency
	Confidence  float64
	Response    string
	Escalate    bool
	Fallback    bool
	Metadata    map[string]any
}

// Create fills defaults, validates and stores t together with the reporter's
// first message.
func (s *TicketService) Create(ctx context.Context, t *model.Ticket) error {
	if err := s.prepare(t); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(t).Error; err != nil {
			return errors.Wrap(err, "insert ticket")
		}
		first := model.TicketInteraction{
			TicketID: t.ID,
			Type:     model.InteractionUserMessage,
			Content:  t.Body,
			Author:   reporter(t),
		}
		if err := tx.Create(&first).Error; err != nil {
			return errors.Wrap(err, "insert first interaction")
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.log.Info("ticket created",
		zap.String("ticket_id", t.ID.String()),
		zap.String("ticket_number", t.TicketNumber),
		zap.String("source", string(t.Source)))
	s.publish(ctx, events.NewTicketEvent(events.TicketCreated, t))
	return nil
}

func (s *TicketService) prepare(t *model.Ticket) error {
	t.Body = strings.TrimSpace(t.Body)
	if t.Body == "" {
		return errs.Invalid("body", "must not be blank")
	}
	if utf8.RuneCountInString(t.Body) > MaxBodyLength {
		return errs.Invalid("body", fmt.Sprintf("must be at most %d characters", MaxBodyLength))
	}
	t.Title = strings.TrimSpace(t.Title)
	if t.Title == "" {
		t.Title = model.DeriveTitle(t.Body)
	}
	if t.Source == "" {
		t.Source = model.SourceWeb
	}
	if !t.Source.Valid() {
		return errs.Invalid("source", "unknown source "+string(t.Source))
	}
	if t.Status == "" {
		t.Status = model.TicketStatusOpen
	}
	if !t.Status.Valid() {
		return errs.Invalid("status", "unknown status "+string(t.Status))
	}
	if t.Urgency == "" {
		t.Urgency = model.UrgencyMedium
	}
	if !t.Urgency.Valid() {
		return errs.Invalid("urgency", "unknown urgency "+string(t.Urgency))
	}
	if t.Language != "" && !t.Language.Valid() {
		return errs.Invalid("language", "unknown language "+string(t.Language))
	}
	t.Priority = t.Urgency.Priority()
	t.UserEmail = strings.TrimSpace(t.UserEmail)
	return nil
}

func (s *TicketService) GetByID(ctx context.Context, id uuid.UUID) (*model.Ticket, error) {
	return s.find(s.db.WithContext(ctx), id)
}

func (s *TicketService) GetWithInteractions(ctx context.Context, id uuid.UUID) (*model.Ticket, error) {
	tx := s.db.WithContext(ctx).Preload("Interactions", func(db *gorm.DB) *gorm.DB {
		return db.Order("created_at ASC")
	})
	return s.find(tx, id)
}

func (s *TicketService) find(tx *gorm.DB, id uuid.UUID) (*model.Ticket, error) {
	var t model.Ticket
	if err := tx.Where("id = ?", id).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.ErrTicketNotFound
		}
		return nil, errors.Wrap(err, "get ticket")
	}
	return &t, nil
}

func (s *TicketService) List(ctx context.Context, f ListFilter) ([]model.Ticket, int64, error) {
	f = f.normalized()
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.Ticket{}).Scopes(f.scope).Count(&total).Error; err != nil {
		return nil, 0, errors.Wrap(err, "count tickets")
	}
	items := make([]model.Ticket, 0, f.Limit)
	err := s.db.WithContext(ctx).Model(&model.Ticket{}).Scopes(f.scope).
		Order("created_at DESC").Limit(f.Limit).Offset(f.Offset).
		Find(&items).Error
	if err != nil {
		return nil, 0, errors.Wrap(err, "list tickets")
	}
	return items, total, nil
}

// Update applies upd, enforcing the status lifecycle, and records a system
// note describing what changed.
func (s *TicketService) Update(ctx context.Context, id uuid.UUID, upd TicketUpdate, actor string) (*model.Ticket, error) {
	if upd.Empty() {
		return nil, errs.ErrNoChanges
	}
	if actor == "" {
		actor = "staff"
	}
	var (
		out     *model.Ticket
		changed bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.find(tx, id)
		if err != nil {
			return err
		}
		changes, notes, err := s.diff(t, upd)
		if err != nil {
			return err
		}
		if len(changes) == 0 {
			out = t
			return nil
		}
		if err := tx.Model(t).Updates(changes).Error; err != nil {
			return errors.Wrap(err, "update ticket")
		}
		note := model.TicketInteraction{
			TicketID: t.ID,
			Type:     model.InteractionSystemNote,
			Content:  "Updated by " + actor + ": " + strings.Join(notes, "; "),
			Author:   actor,
		}
		if err := tx.Create(&note).Error; err != nil {
			return errors.Wrap(err, "insert system note")
		}
		out, err = s.find(tx, id)
		changed = true
		return err
	})
	if err != nil {
		return nil, err
	}
	if changed {
		s.log.Info("ticket updated", zap.String("ticket_id", id.String()), zap.String("actor", actor))
		s.publish(ctx, events.NewTicketEvent(events.TicketUpdated, out))
	}
	return out, nil
}

func (s *TicketService) diff(t *model.Ticket, upd TicketUpdate) (map[string]any, []string, error) {
	changes := make(map[string]any)
	var notes []string
	setString := func(col, label string, cur string, v *string) {
		if v == nil {
			return
		}
		nv := strings.TrimSpace(*v)
		if nv == cur {
			return
		}
		changes[col] = nv
		notes = append(notes, fmt.Sprintf("%s %q -> %q", label, cur, nv))
	}

	if upd.Title != nil && strings.TrimSpace(*upd.Title) == "" {
		return nil, nil, errs.Invalid("title", "must not be blank")
	}
	setString("title", "title", t.Title, upd.Title)
	setString("category", "category", t.Category, upd.Category)
	setString("subcategory", "subcategory", t.Subcategory, upd.Subcategory)
	setString("assigned_to", "assignee", t.AssignedTo, upd.AssignedTo)
	setString("resolution_notes", "resolution notes", t.ResolutionNotes, upd.ResolutionNotes)

	if upd.Urgency != nil {
		u := *upd.Urgency
		if !u.Valid() {
			return nil, nil, errs.Invalid("urgency", "unknown urgency "+string(u))
		}
		if u != t.Urgency {
			changes["urgency"] = u
			changes["priority"] = u.Priority()
			notes = append(notes, fmt.Sprintf("urgency %s -> %s", t.Urgency, u))
		}
	}

	if upd.Status != nil {
		st := *upd.Status
		if !st.Valid() {
			return nil, nil, errs.Invalid("status", "unknown status "+string(st))
		}
		if st != t.Status {
			if !t.Status.CanTransition(st) {
				return nil, nil, &errs.TransitionError{From: string(t.Status), To: string(st)}
			}
			changes["status"] = st
			now := s.now()
			switch st {
			case model.TicketStatusResolved:
				changes["resolved_at"] = now
			case model.TicketStatusClosed:
				changes["closed_at"] = now
				if t.ResolvedAt == nil {
					changes["resolved_at"] = now
				}
			case model.TicketStatusOpen:
				changes["resolved_at"] = nil
				changes["closed_at"] = nil
			}
			notes = append(notes, fmt.Sprintf("status %s -> %s", t.Status, st))
		}
	}
	return changes, notes, nil
}

// Delete hides the ticket from every read. Rows are kept for audit.
func (s *TicketService) Delete(ctx context.Context, id uuid.UUID) error {
	t, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Ticket{})
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete ticket")
	}
	if res.RowsAffected == 0 {
		return errs.ErrTicketNotFound
	}
	s.log.Info("ticket deleted", zap.String("ticket_id", id.String()))
	s.publish(ctx, events.NewTicketEvent(events.TicketDeleted, t))
	return nil
}

func (s *TicketService) AddInteraction(ctx context.Context, ticketID uuid.UUID, in *model.TicketInteraction) error {
	if !in.Type.Valid() {
		return errs.Invalid("type", "unknown interaction type "+string(in.Type))
	}
	in.Content = strings.TrimSpace(in.Content)
	if in.Content == "" {
		return errs.Invalid("content", "must not be blank")
	}
	if _, err := s.GetByID(ctx, ticketID); err != nil {
		return err
	}
	in.TicketID = ticketID
	if err := s.db.WithContext(ctx).Create(in).Error; err != nil {
		return errors.Wrap(err, "insert interaction")
	}
	s.publish(ctx, events.NewInteractionEvent(in))
	return nil
}

func (s *TicketService) ListInteractions(ctx context.Context, ticketID uuid.UUID) ([]model.TicketInteraction, error) {
	if _, err := s.GetByID(ctx, ticketID); err != nil {
		return nil, err
	}
	items := make([]model.TicketInteraction, 0)
	err := s.db.WithContext(ctx).
		Where("ticket_id = ?", ticketID).
		Order("created_at ASC").
		Find(&items).Error
	if err != nil {
		return nil, errors.Wrap(err, "list interactions")
	}
	return items, nil
}

// ApplyAnalysis stores the AI result. Urgency only ever goes up, and an
// escalation request moves active tickets to escalated.
func (s *TicketService) ApplyAnalysis(ctx context.Context, id uuid.UUID, a Analysis) (*model.Ticket, error) {
	var out *model.Ticket
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := s.find(tx, id)
		if err != nil {
			return err
		}
		changes := map[string]any{
			"ai_processed":  true,
			"ai_confidence": a.Confidence,
		}
		if a.Language.Valid() {
			changes["language"] = a.Language
		}
		if a.Category != "" {
			changes["category"] = a.Category
		}
		if a.Subcategory != "" {
			changes["subcategory"] = a.Subcategory
		}
		if a.Response != "" {
			changes["ai_response"] = a.Response
		}
		if u := t.Urgency.Raise(a.Urgency); u != t.Urgency {
			changes["urgency"] = u
			changes["priority"] = u.Priority()
		}
		if a.Escalate && (t.Status == model.TicketStatusOpen || t.Status == model.TicketStatusInProgress) {
			changes["status"] = model.TicketStatusEscalated
		}
		if len(a.Metadata) > 0 {
			merged := datatypes.JSONMap{}
			for k, v := range t.Metadata {
				merged[k] = v
			}
			for k, v := range a.Metadata {
				merged[k] = v
			}
			changes["metadata"] = merged
		}
		if err := tx.Model(t).Updates(changes).Error; err != nil {
			return errors.Wrap(err, "store analysis")
		}
		if a.Response != "" {
			author := "ai"
			if a.Fallback {
				author = "ai-fallback"
			}
			reply := model.TicketInteraction{
				TicketID: t.ID,
				Type:     model.InteractionAIResponse,
				Content:  a.Response,
				Author:   author,
			}
			if err := tx.Create(&reply).Error; err != nil {
				return errors.Wrap(err, "insert ai response")
			}
		}
		out, err = s.find(tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, events.NewTicketEvent(events.TicketProcessed, out))
	return out, nil
}

// UpsertExternal imports a ticket owned by another system, matching on
// (source, external_id). Imported status and urgency are authoritative.
func (s *TicketService) UpsertExternal(ctx context.Context, t *model.Ticket) (*model.Ticket, bool, error) {
	if t.ExternalID == "" {
		return nil, false, errs.Invalid("external_id", "must not be blank")
	}
	var existing model.Ticket
	err := s.db.WithContext(ctx).
		Where("source = ? AND external_id = ?", t.Source, t.ExternalID).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		if err := s.Create(ctx, t); err != nil {
			return nil, false, err
		}
		return t, true, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "find external ticket")
	}

	if err := s.prepare(t); err != nil {
		return nil, false, err
	}
	changes := map[string]any{}
	if t.Title != existing.Title {
		changes["title"] = t.Title
	}
	if t.Body != existing.Body {
		changes["body"] = t.Body
	}
	if t.Status != existing.Status {
		changes["status"] = t.Status
		now := s.now()
		if t.Status == model.TicketStatusResolved && existing.ResolvedAt == nil {
			changes["resolved_at"] = now
		}
		if t.Status == model.TicketStatusClosed && existing.ClosedAt == nil {
			changes["closed_at"] = now
		}
	}
	if t.Urgency != existing.Urgency {
		changes["urgency"] = t.Urgency
		changes["priority"] = t.Urgency.Priority()
	}
	if len(changes) == 0 {
		return &existing, false, nil
	}
	if err := s.db.WithContext(ctx).Model(&existing).Updates(changes).Error; err != nil {
		return nil, false, errors.Wrap(err, "update external ticket")
	}
	out, err := s.GetByID(ctx, existing.ID)
	if err != nil {
		return nil, false, err
	}
	s.publish(ctx, events.NewTicketEvent(events.TicketUpdated, out))
	return out, false, nil
}

// Each walks every live ticket in batches of size.
func (s *TicketService) Each(ctx context.Context, size int, fn func([]model.Ticket) error) error {
	if size <= 0 {
		size = 100
	}
	var batch []model.Ticket
	res := s.db.WithContext(ctx).FindInBatches(&batch, size, func(_ *gorm.DB, _ int) error {
		return fn(batch)
	})
	return errors.Wrap(res.Error, "iterate tickets")
}

func (s *TicketService) publish(ctx context.Context, ev events.Event) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.Warn("publish event failed",
			zap.String("event", string(ev.Type)),
			zap.String("ticket_id", ev.TicketID.String()),
			zap.Error(err))
	}
}

func reporter(t *model.Ticket) string {
	switch {
	case t.UserEmail != "":
		return t.UserEmail
	case t.UserName != "":
		return t.UserName
	case t.UserPhone != "":
		return t.UserPhone
	}
	return "reporter"
}
