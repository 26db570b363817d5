// Package client is a typed SDK for the helpdesk HTTP API. Requests go through
// resilient, so transient failures are retried and every error maps to a
// user-facing message via resilient.UserMessage.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Rzx-x/Ticket-Agent/pkg/resilient"
)

type Client struct {
	baseURL string
	http    *resilient.Client
}

// New returns a client for the API rooted at baseURL, e.g. http://localhost:8000.
func New(baseURL string, opts ...resilient.Option) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: resilient.New(opts...)}
}

type Interaction struct {
	ID        string    `json:"id"`
	TicketID  string    `json:"ticket_id"`
	Type      string    `json:"type"`
	Content   string    `json:"content"`
	Author    string    `json:"author,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type Ticket struct {
	ID              string         `json:"id"`
	TicketNumber    string         `json:"ticket_number"`
	Source          string         `json:"source"`
	Title           string         `json:"title"`
	Body            string         `json:"body"`
	Language        string         `json:"language"`
	Category        string         `json:"category,omitempty"`
	Subcategory     string         `json:"subcategory,omitempty"`
	Urgency         string         `json:"urgency"`
	Priority        int            `json:"priority"`
	Status          string         `json:"status"`
	AssignedTo      string         `json:"assigned_to,omitempty"`
	AIProcessed     bool           `json:"ai_processed"`
	AIResponse      string         `json:"ai_response,omitempty"`
	AIConfidence    float64        `json:"ai_confidence"`
	ResolutionNotes string         `json:"resolution_notes,omitempty"`
	UserEmail       string         `json:"user_email,omitempty"`
	UserName        string         `json:"user_name,omitempty"`
	UserPhone       string         `json:"user_phone,omitempty"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
	ResolvedAt      *time.Time     `json:"resolved_at,omitempty"`
	Interactions    []Interaction  `json:"interactions,omitempty"`
}

type SubmitRequest struct {
	Text      string `json:"text"`
	Title     string `json:"title,omitempty"`
	Source    string `json:"source,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
	UserName  string `json:"user_name,omitempty"`
	UserPhone string `json:"user_phone,omitempty"`
}

type SubmitResult struct {
	ID             string    `json:"id"`
	TicketNumber   string    `json:"ticket_number"`
	Title          string    `json:"title"`
	Category       string    `json:"category"`
	Subcategory    string    `json:"subcategory"`
	Urgency        string    `json:"urgency"`
	Priority       int       `json:"priority"`
	Language       string    `json:"language"`
	AIResponse     string    `json:"ai_response"`
	AIConfidence   float64   `json:"ai_confidence"`
	AIFallback     bool      `json:"ai_fallback"`
	Status         string    `json:"status"`
	Source         string    `json:"source"`
	CreatedAt      time.Time `json:"created_at"`
	Notified       string    `json:"notified,omitempty"`
	SimilarTickets []string  `json:"similar_tickets,omitempty"`
}

type CreateTicketRequest struct {
	Title     string `json:"title,omitempty"`
	Body      string `json:"body"`
	Source    string `json:"source,omitempty"`
	Urgency   string `json:"urgency,omitempty"`
	Category  string `json:"category,omitempty"`
	UserEmail string `json:"user_email,omitempty"`
	UserName  string `json:"user_name,omitempty"`
	UserPhone string `json:"user_phone,omitempty"`
}

// UpdateTicketRequest is a patch; nil fields are left unchanged.
type UpdateTicketRequest struct {
	Title           *string `json:"title,omitempty"`
	Status          *string `json:"status,omitempty"`
	Urgency         *string `json:"urgency,omitempty"`
	Category        *string `json:"category,omitempty"`
	Subcategory     *string `json:"subcategory,omitempty"`
	AssignedTo      *string `json:"assigned_to,omitempty"`
	ResolutionNotes *string `json:"resolution_notes,omitempty"`
	Actor           string  `json:"actor,omitempty"`
}

type ListOptions struct {
	Status   string
	Category string
	Urgency  string
	Source   string
	Query    string
	Limit    int
	Offset   int
}

type TicketList struct {
	Tickets []Ticket `json:"tickets"`
	Total   int64    `json:"total"`
	Limit   int      `json:"limit"`
	Offset  int      `json:"offset"`
}

type CheckResult struct {
	Status    string  `json:"status"`
	LatencyMS float64 `json:"latency_ms"`
	Error     string  `json:"error,omitempty"`
}

type Health struct {
	Status  string                 `json:"status"`
	Service string                 `json:"service"`
	Version string                 `json:"version"`
	Time    time.Time              `json:"time"`
	Checks  map[string]CheckResult `json:"checks"`
}

func (c *Client) SubmitTicket(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	var out SubmitResult
	if err := c.do(ctx, http.MethodPost, "/api/submit-ticket", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) CreateTicket(ctx context.Context, req CreateTicketRequest) (*Ticket, error) {
	var out Ticket
	if err := c.do(ctx, http.MethodPost, "/api/v1/tickets", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) GetTicket(ctx context.Context, id string) (*Ticket, error) {
	var out Ticket
	if err := c.do(ctx, http.MethodGet, "/api/v1/tickets/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListTickets(ctx context.Context, opts ListOptions) (*TicketList, error) {
	q := url.Values{}
	set := func(k, v string) {
		if v != "" {
			q.Set(k, v)
		}
	}
	set("status", opts.Status)
	set("category", opts.Category)
	set("urgency", opts.Urgency)
	set("source", opts.Source)
	set("q", opts.Query)
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/api/v1/tickets"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out TicketList
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) UpdateTicket(ctx context.Context, id string, req UpdateTicketRequest) (*Ticket, error) {
	var out Ticket
	if err := c.do(ctx, http.MethodPut, "/api/v1/tickets/"+url.PathEscape(id), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) DeleteTicket(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/v1/tickets/"+url.PathEscape(id), nil, nil)
}

// Dashboard returns the analytics document as sent by the server.
func (c *Client) Dashboard(ctx context.Context) (map[string]json.RawMessage, error) {
	var out map[string]json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/v1/analytics/dashboard", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Health reports the server's view of its dependencies. A 503 still decodes
// into Health alongside the returned error.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	err := c.do(ctx, http.MethodGet, "/health", nil, &out)
	if err != nil {
		if code, ok := resilient.StatusCode(err); ok && code == http.StatusServiceUnavailable {
			var e *resilient.Error
			if errors.As(err, &e) && json.Unmarshal(e.Body, &out) == nil {
				return &out, err
			}
		}
		return nil, err
	}
	return &out, nil
}

// Update is a live-update frame for a subscribed topic.
type Update struct {
	Type        string       `json:"type"`
	Topic       string       `json:"topic"`
	Event       string       `json:"event"`
	TicketID    string       `json:"ticket_id"`
	Ticket      *Ticket      `json:"ticket,omitempty"`
	Interaction *Interaction `json:"interaction,omitempty"`
	Timestamp   time.Time    `json:"timestamp"`
}

// TopicAll receives every ticket event.
const TopicAll = "tickets"

// TicketTopic is the topic for a single ticket's events.
func TicketTopic(id string) string { return "ticket:" + id }

// Stream opens a reconnecting live-update stream. Call Run on the result and
// Watch or Subscribe to receive frames.
func (c *Client) Stream(opts resilient.StreamOptions) *resilient.Stream {
	return resilient.NewStream(c.wsURL(), opts)
}

// Watch subscribes fn to topic on s, decoding each frame into an Update.
// Frames that fail to decode are skipped.
func Watch(s *resilient.Stream, topic string, fn func(Update)) func() {
	return s.Subscribe(topic, func(m resilient.Message) {
		var u Update
		if err := m.Decode(&u); err != nil {
			return
		}
		fn(u)
	})
}

func (c *Client) wsURL() string {
	u := c.baseURL
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/api/v1/ws"
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	req := resilient.Request{Method: method, URL: c.baseURL + path}
	return c.http.DoJSON(ctx, req, in, out)
}
