package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/Rzx-x/Ticket-Agent/pkg/resilient"
)

const (
	twilioBaseURL = "https://api.twilio.com"
	maxSMSRunes   = 320
)

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	// BaseURL overrides the Twilio API host.
	BaseURL string
}

// SMSSender posts messages to the Twilio Messages API. A send is never
// retried: a POST that timed out or got a 5xx may still have been delivered.
type SMSSender struct {
	cfg  TwilioConfig
	http *resilient.Client
}

func NewSMSSender(cfg TwilioConfig, opts ...resilient.Option) *SMSSender {
	if cfg.BaseURL == "" {
		cfg.BaseURL = twilioBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	opts = append(opts, resilient.WithMaxRetries(0))
	return &SMSSender{cfg: cfg, http: resilient.New(opts...)}
}

// Send texts body to the E.164 number to. Bodies past 320 characters are cut.
func (s *SMSSender) Send(ctx context.Context, to, body string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return fmt.Errorf("%w: phone number is required", ErrInvalidMessage)
	}
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", s.cfg.FromNumber)
	form.Set("Body", truncate(body, maxSMSRunes))

	auth := base64.StdEncoding.EncodeToString([]byte(s.cfg.AccountSID + ":" + s.cfg.AuthToken))
	req := resilient.Request{
		Method: http.MethodPost,
		URL:    fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", s.cfg.BaseURL, url.PathEscape(s.cfg.AccountSID)),
		Header: http.Header{
			"Authorization": {"Basic " + auth},
			"Content-Type":  {"application/x-www-form-urlencoded"},
		},
		Body: []byte(form.Encode()),
	}
	if _, err := s.http.Do(ctx, req); err != nil {
		return fmt.Errorf("twilio send: %w", err)
	}
	return nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
