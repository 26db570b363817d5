package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"go.uber.org/zap"
)

const maxSimilarInPrompt = 3

type SimilarTicket struct {
	Title           string
	Category        string
	ResolutionNotes string
	Score           float32
}

type ResponseInput struct {
	TicketNumber string
	Title        string
	Body         string
	Category     string
	Language     model.Language
	UserName     string
	Similar      []SimilarTicket
}

// Respond drafts a reply. fallback is true when the canned reply was used.
func (s *Service) Respond(ctx context.Context, in ResponseInput) (text string, fallback bool) {
	if s.llm == nil {
		return s.FallbackResponse(in), true
	}
	text, err := s.llm.Complete(ctx, CompletionRequest{
		Prompt:      s.responsePrompt(in),
		MaxTokens:   1000,
		Temperature: 0.3,
	})
	if err != nil {
		s.log.Warn("response generation fell back", zap.String("ticket", in.TicketNumber), zap.Error(err))
		return s.FallbackResponse(in), true
	}
	return text, false
}

func greeting(in ResponseInput) string {
	name := strings.TrimSpace(in.UserName)
	if in.Language.Hinglish() {
		if name != "" {
			return "नमस्ते " + name + ","
		}
		return "नमस्ते,"
	}
	if name != "" {
		return "Dear " + name + ","
	}
	return "Hello,"
}

// FallbackResponse is the canned acknowledgement sent when AI is unavailable.
func (s *Service) FallbackResponse(in ResponseInput) string {
	ref := ""
	if in.TicketNumber != "" {
		ref = " (" + in.TicketNumber + ")"
	}
	if in.Language.Hinglish() {
		return fmt.Sprintf(`%s

आपका support ticket%s हमें मिल गया है। हमारी IT team आपकी problem को जल्दी resolve करने की कोशिश करेगी।

आप expect कर सकते हैं:
- Response within 4-6 hours during business hours
- Ticket progress पर regular updates

अगर urgent issue है तो please helpdesk को directly call करें।

धन्यवाद,
%s`, greeting(in), ref, s.teamName)
	}
	return fmt.Sprintf(`%s

Thank you for contacting IT Support. We have received your ticket%s and our technical team will review it promptly.

What to expect:
- Response within 4-6 hours during business hours
- Regular updates on resolution progress

For urgent issues requiring immediate attention, please contact the helpdesk directly.

Best regards,
%s`, greeting(in), ref, s.teamName)
}
