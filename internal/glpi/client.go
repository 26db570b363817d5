// Package glpi imports tickets from and exports tickets to a GLPI REST API.
package glpi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/Rzx-x/Ticket-Agent/pkg/resilient"
	"go.uber.org/zap"
)

var ErrNotConfigured = errors.New("glpi: url and user token are required")

type Config struct {
	URL       string
	AppToken  string
	UserToken string
}

// Client holds one GLPI session at a time.
type Client struct {
	cfg  Config
	http *resilient.Client
	log  *zap.Logger

	mu      sync.Mutex
	session string
}

func New(cfg Config, hc *resilient.Client, log *zap.Logger) (*Client, error) {
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	if cfg.URL == "" || cfg.UserToken == "" {
		return nil, ErrNotConfigured
	}
	if hc == nil {
		hc = resilient.New()
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{cfg: cfg, http: hc, log: log}, nil
}

func (c *Client) headers(withSession bool) http.Header {
	h := http.Header{}
	if c.cfg.AppToken != "" {
		h.Set("App-Token", c.cfg.AppToken)
	}
	if withSession {
		c.mu.Lock()
		h.Set("Session-Token", c.session)
		c.mu.Unlock()
	} else {
		h.Set("Authorization", "user_token "+c.cfg.UserToken)
	}
	return h
}

func (c *Client) InitSession(ctx context.Context) error {
	var out struct {
		SessionToken string `json:"session_token"`
	}
	req := resilient.Request{Method: http.MethodGet, URL: c.cfg.URL + "/initSession", Header: c.headers(false)}
	if err := c.http.DoJSON(ctx, req, nil, &out); err != nil {
		return fmt.Errorf("glpi init session: %w", err)
	}
	if out.SessionToken == "" {
		return errors.New("glpi init session: empty session token")
	}
	c.mu.Lock()
	c.session = out.SessionToken
	c.mu.Unlock()
	c.log.Info("glpi session opened")
	return nil
}

func (c *Client) KillSession(ctx context.Context) error {
	c.mu.Lock()
	open := c.session != ""
	c.mu.Unlock()
	if !open {
		return nil
	}
	req := resilient.Request{Method: http.MethodGet, URL: c.cfg.URL + "/killSession", Header: c.headers(true)}
	_, err := c.http.Do(ctx, req)

	c.mu.Lock()
	c.session = ""
	c.mu.Unlock()
	if err != nil {
		return fmt.Errorf("glpi kill session: %w", err)
	}
	return nil
}

func (c *Client) ensureSession(ctx context.Context) error {
	c.mu.Lock()
	open := c.session != ""
	c.mu.Unlock()
	if open {
		return nil
	}
	return c.InitSession(ctx)
}

// ListTickets fetches tickets start..end inclusive, as GLPI's range parameter does.
func (c *Client) ListTickets(ctx context.Context, start, end int) ([]Ticket, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/Ticket?range=%d-%d&expand_dropdowns=true&order=DESC", c.cfg.URL, start, end)
	var out []Ticket
	err := c.http.DoJSON(ctx, resilient.Request{Method: http.MethodGet, URL: url, Header: c.headers(true)}, nil, &out)
	if err != nil {
		return nil, fmt.Errorf("glpi list tickets: %w", err)
	}
	return out, nil
}

// CreateTicket exports t and returns the GLPI id.
func (c *Client) CreateTicket(ctx context.Context, t *model.Ticket) (int, error) {
	if err := c.ensureSession(ctx); err != nil {
		return 0, err
	}
	body := map[string]any{"input": map[string]any{
		"name":    t.Title,
		"content": t.Body,
		"urgency": UrgencyToGLPI(t.Urgency),
	}}
	var out struct {
		ID int `json:"id"`
	}
	req := resilient.Request{Method: http.MethodPost, URL: c.cfg.URL + "/Ticket", Header: c.headers(true)}
	if err := c.http.DoJSON(ctx, req, body, &out); err != nil {
		return 0, fmt.Errorf("glpi create ticket: %w", err)
	}
	c.log.Info("glpi ticket created", zap.Int("glpi_id", out.ID), zap.String("ticket", t.TicketNumber))
	return out.ID, nil
}
