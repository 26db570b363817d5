package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/Rzx-x/Ticket-Agent/internal/errs"
	"github.com/Rzx-x/Ticket-Agent/internal/langdetect"
	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"go.uber.org/zap"
)

const (
	FallbackCategory    = "General Support"
	FallbackSubcategory = "General Inquiry"
	OtherCategory       = "Other"
)

// Categories is the closed set the classifier may answer with.
var Categories = []string{
	"Network", "Hardware", "Software", "Email", "Account", "Security",
	"Printer", "Telephony", "Server", "Mobile", OtherCategory,
}

type Input struct {
	Title    string
	Body     string
	Language langdetect.Result
}

type Classification struct {
	Category            string        `json:"category"`
	Subcategory         string        `json:"subcategory"`
	Urgency             model.Urgency `json:"urgency"`
	Confidence          float64       `json:"confidence"`
	Reasoning           string        `json:"reasoning,omitempty"`
	Keywords            []string      `json:"keywords,omitempty"`
	EstimatedResolution string        `json:"estimated_resolution,omitempty"`
	RequiresEscalation  bool          `json:"requires_escalation"`
	Fallback            bool          `json:"fallback"`
}

// Fallback is what Classify returns whenever the model cannot be used.
func Fallback() Classification {
	return Classification{
		Category:            FallbackCategory,
		Subcategory:         FallbackSubcategory,
		Urgency:             model.UrgencyMedium,
		Reasoning:           "AI classification unavailable",
		EstimatedResolution: "4-6 hours",
		Fallback:            true,
	}
}

type Options struct {
	TeamName string
	Logger   *zap.Logger
}

// Service wraps a Completer. A nil Completer means AI is not configured and
// every call falls back.
type Service struct {
	llm      Completer
	teamName string
	log      *zap.Logger
}

func NewService(llm Completer, opts Options) *Service {
	if opts.TeamName == "" {
		opts.TeamName = "IT Support Team"
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{llm: llm, teamName: opts.TeamName, log: log}
}

func (s *Service) Available() bool { return s.llm != nil }

// Classify never fails; problems with the model yield Fallback().
func (s *Service) Classify(ctx context.Context, in Input) Classification {
	c, err := s.classify(ctx, in)
	if err != nil {
		s.log.Warn("classification fell back", zap.Error(err))
		return Fallback()
	}
	return c
}

func (s *Service) classify(ctx context.Context, in Input) (Classification, error) {
	if s.llm == nil {
		return Classification{}, errs.ErrAIUnavailable
	}
	text, err := s.llm.Complete(ctx, CompletionRequest{
		Prompt:      classificationPrompt(in),
		MaxTokens:   1000,
		Temperature: 0.1,
	})
	if err != nil {
		return Classification{}, fmt.Errorf("%w: %v", errs.ErrAIUnavailable, err)
	}
	c, err := parseClassification(text)
	if err != nil {
		return Classification{}, err
	}
	s.log.Info("ticket classified",
		zap.String("category", c.Category),
		zap.String("urgency", string(c.Urgency)),
		zap.Float64("confidence", c.Confidence))
	return c, nil
}

type rawClassification struct {
	Category            string          `json:"category"`
	Subcategory         string          `json:"subcategory"`
	Urgency             string          `json:"urgency"`
	Confidence          json.RawMessage `json:"confidence"`
	Reasoning           string          `json:"reasoning"`
	Keywords            []string        `json:"suggested_keywords"`
	EstimatedResolution string          `json:"estimated_resolution_time"`
	RequiresEscalation  bool            `json:"requires_escalation"`
}

func parseClassification(text string) (Classification, error) {
	blob, ok := extractJSON(text)
	if !ok {
		return Classification{}, fmt.Errorf("ai: no JSON object in completion")
	}
	var raw rawClassification
	if err := json.Unmarshal([]byte(blob), &raw); err != nil {
		return Classification{}, fmt.Errorf("ai: decode classification: %w", err)
	}
	c := Classification{
		Category:            NormalizeCategory(raw.Category),
		Subcategory:         strings.TrimSpace(raw.Subcategory),
		Urgency:             model.ParseUrgency(raw.Urgency),
		Confidence:          parseConfidence(raw.Confidence),
		Reasoning:           strings.TrimSpace(raw.Reasoning),
		Keywords:            raw.Keywords,
		EstimatedResolution: raw.EstimatedResolution,
		RequiresEscalation:  raw.RequiresEscalation,
	}
	if c.Subcategory == "" {
		c.Subcategory = "General Issue"
	}
	if c.Urgency == "" {
		c.Urgency = model.UrgencyMedium
	}
	return c, nil
}

// extractJSON returns the text between the first '{' and the last '}'.
func extractJSON(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// NormalizeCategory maps a model label onto Categories, case-insensitively.
// Anything unknown becomes Other.
func NormalizeCategory(label string) string {
	label = strings.TrimSpace(label)
	for _, c := range Categories {
		if strings.EqualFold(c, label) {
			return c
		}
	}
	return OtherCategory
}

// parseConfidence accepts 0.85, "0.85" or 85 (percent) and clamps to [0,1].
func parseConfidence(raw json.RawMessage) float64 {
	if len(raw) == 0 {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0
		}
		if f, err = strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(s), "%"), 64); err != nil {
			return 0
		}
	}
	if f > 1 && f <= 100 {
		f /= 100
	}
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
