// Package searchindex keeps a vector index of tickets for similar-ticket lookup.
package searchindex

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const asyncTimeout = 5 * time.Second

// Match is a previously indexed ticket close to the query text.
type Match struct {
	TicketID        uuid.UUID `json:"ticket_id"`
	TicketNumber    string    `json:"ticket_number"`
	Score           float32   `json:"score"`
	Title           string    `json:"title"`
	Category        string    `json:"category"`
	Status          string    `json:"status"`
	ResolutionNotes string    `json:"resolution_notes,omitempty"`
}

// Index embeds tickets and stores them in a Backend. A nil *Index is a valid
// disabled index: writes are no-ops and Similar returns nothing.
type Index struct {
	backend    Backend
	embedder   Embedder
	collection string
	log        *zap.Logger
	wg         sync.WaitGroup
}

func New(backend Backend, embedder Embedder, collection string, log *zap.Logger) *Index {
	if embedder == nil {
		embedder = NewHashEmbedder(0)
	}
	if collection == "" {
		collection = "ticket_embeddings"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Index{backend: backend, embedder: embedder, collection: collection, log: log}
}

func (i *Index) Collection() string { return i.collection }

// EnsureCollection creates the collection when it is missing.
func (i *Index) EnsureCollection(ctx context.Context) error {
	if i == nil {
		return nil
	}
	return i.backend.EnsureCollection(ctx, i.collection, i.embedder.Dimensions())
}

// Document is the text embedded for t.
func Document(t *model.Ticket) string {
	parts := []string{t.Title, t.Body, t.Category, t.Subcategory, t.ResolutionNotes}
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

func (i *Index) IndexTicket(ctx context.Context, t *model.Ticket) error {
	if i == nil || t == nil {
		return nil
	}
	p := Point{
		ID:     t.ID.String(),
		Vector: i.embedder.Embed(Document(t)),
		Payload: map[string]string{
			"ticket_id":        t.ID.String(),
			"ticket_number":    t.TicketNumber,
			"title":            t.Title,
			"category":         t.Category,
			"status":           string(t.Status),
			"language":         string(t.Language),
			"resolution_notes": t.ResolutionNotes,
		},
	}
	return i.backend.Upsert(ctx, i.collection, p)
}

// IndexTicketAsync indexes t in the background. Failures are logged only.
func (i *Index) IndexTicketAsync(t *model.Ticket) {
	if i == nil || t == nil {
		return
	}
	snapshot := *t
	snapshot.Interactions = nil
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), asyncTimeout)
		defer cancel()
		if err := i.IndexTicket(ctx, &snapshot); err != nil {
			i.log.Warn("index ticket failed", zap.String("ticket_id", snapshot.ID.String()), zap.Error(err))
		}
	}()
}

// Wait blocks until pending async indexing finishes.
func (i *Index) Wait() {
	if i != nil {
		i.wg.Wait()
	}
}

func (i *Index) Remove(ctx context.Context, id uuid.UUID) error {
	if i == nil {
		return nil
	}
	return i.backend.Delete(ctx, i.collection, id.String())
}

// Similar returns up to limit tickets closest to text, skipping exclude.
func (i *Index) Similar(ctx context.Context, text string, limit int, exclude uuid.UUID) ([]Match, error) {
	if i == nil || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 5
	}
	fetch := limit
	if exclude != uuid.Nil {
		fetch++
	}
	hits, err := i.backend.Search(ctx, i.collection, i.embedder.Embed(text), fetch)
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, limit)
	for _, h := range hits {
		id, err := uuid.Parse(h.ID)
		if err != nil {
			id, _ = uuid.Parse(h.Payload["ticket_id"])
		}
		if id == exclude && exclude != uuid.Nil {
			continue
		}
		out = append(out, Match{
			TicketID:        id,
			TicketNumber:    h.Payload["ticket_number"],
			Score:           h.Score,
			Title:           h.Payload["title"],
			Category:        h.Payload["category"],
			Status:          h.Payload["status"],
			ResolutionNotes: h.Payload["resolution_notes"],
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (i *Index) Health(ctx context.Context) error {
	if i == nil {
		return nil
	}
	return i.backend.Health(ctx)
}

// Close waits for async indexing and closes the backend.
func (i *Index) Close() error {
	if i == nil {
		return nil
	}
	i.wg.Wait()
	return i.backend.Close()
}
