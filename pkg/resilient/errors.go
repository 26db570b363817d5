package resilient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// Kind classifies a failed request.
type Kind string

const (
	KindNetwork Kind = "network"
	KindTimeout Kind = "timeout"
	KindHTTP    Kind = "http"
)

// Sentinels for errors.Is. Every *Error matches exactly one of them.
var (
	ErrNetwork    = errors.New("network error")
	ErrTimeout    = errors.New("request timed out")
	ErrHTTPStatus = errors.New("unexpected http status")
)

// Error is returned by Client for every failed request.
type Error struct {
	Kind       Kind
	Method     string
	URL        string
	StatusCode int
	Attempts   int
	Body       []byte
	// RetryAfter is the server's Retry-After hint on 429 and 503 responses.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindHTTP:
		msg := fmt.Sprintf("%s %s: status %d after %d attempt(s)", e.Method, e.URL, e.StatusCode, e.Attempts)
		if detail := serverMessage(e.Body); detail != "" {
			msg += ": " + detail
		}
		return msg
	case KindTimeout:
		return fmt.Sprintf("%s %s: timed out after %d attempt(s): %v", e.Method, e.URL, e.Attempts, e.Err)
	default:
		return fmt.Sprintf("%s %s: network error after %d attempt(s): %v", e.Method, e.URL, e.Attempts, e.Err)
	}
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Kind == KindNetwork
	case ErrTimeout:
		return e.Kind == KindTimeout
	case ErrHTTPStatus:
		return e.Kind == KindHTTP
	}
	return false
}

// Retryable reports whether another attempt could succeed.
func (e *Error) Retryable() bool {
	if e.Kind != KindHTTP {
		return true
	}
	return RetryableStatus(e.StatusCode)
}

// RetryableStatus is true for 429 and every 5xx.
func RetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}

// StatusCode returns the HTTP status carried by err, if any.
func StatusCode(err error) (int, bool) {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindHTTP {
		return e.StatusCode, true
	}
	return 0, false
}

// UserMessage turns err into a short sentence suitable for a toast or CLI output.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if !errors.As(err, &e) {
		return "Something went wrong. Please try again."
	}
	switch e.Kind {
	case KindTimeout:
		return "The request timed out. Please try again."
	case KindNetwork:
		return "Unable to reach the helpdesk service. Check your connection and try again."
	}
	switch {
	case e.StatusCode == http.StatusTooManyRequests:
		return "Too many requests. Please wait a moment and try again."
	case e.StatusCode >= 500:
		return "The helpdesk service is temporarily unavailable. Please try again shortly."
	case e.StatusCode == http.StatusNotFound:
		if msg := serverMessage(e.Body); msg != "" {
			return capitalize(msg) + "."
		}
		return "The requested item was not found."
	}
	if msg := serverMessage(e.Body); msg != "" {
		return capitalize(msg) + "."
	}
	return fmt.Sprintf("The request could not be processed (status %d).", e.StatusCode)
}

// serverMessage extracts {"error": "..."} or {"message": "..."} from a body.
func serverMessage(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	var payload struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	switch v := payload.Error.(type) {
	case string:
		return strings.TrimSpace(v)
	case map[string]any:
		if m, ok := v["message"].(string); ok {
			return strings.TrimSpace(m)
		}
	}
	return strings.TrimSpace(payload.Message)
}

func capitalize(s string) string {
	s = strings.TrimRight(s, ".")
	if s == "" {
		return s
	}
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[size:]
}

// parseRetryAfter reads a Retry-After value given in seconds or as an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}
