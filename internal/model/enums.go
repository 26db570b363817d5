package model

import "strings"

type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
	TicketStatusEscalated  TicketStatus = "escalated"
)

func (s TicketStatus) Valid() bool {
	switch s {
	case TicketStatusOpen, TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed, TicketStatusEscalated:
		return true
	}
	return false
}

// Active reports whether the ticket still needs work.
func (s TicketStatus) Active() bool {
	return s == TicketStatusOpen || s == TicketStatusInProgress || s == TicketStatusEscalated
}

var transitions = map[TicketStatus][]TicketStatus{
	TicketStatusOpen:       {TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed, TicketStatusEscalated},
	TicketStatusInProgress: {TicketStatusOpen, TicketStatusResolved, TicketStatusClosed, TicketStatusEscalated},
	TicketStatusEscalated:  {TicketStatusInProgress, TicketStatusResolved, TicketStatusClosed},
	TicketStatusResolved:   {TicketStatusClosed, TicketStatusOpen},
	TicketStatusClosed:     {TicketStatusOpen},
}

// CanTransition reports whether a ticket in status s may move to next.
// Staying in the same status is always allowed.
func (s TicketStatus) CanTransition(next TicketStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Source string

const (
	SourceWeb    Source = "web"
	SourceEmail  Source = "email"
	SourceSMS    Source = "sms"
	SourceGLPI   Source = "glpi"
	SourceSolman Source = "solman"
)

func (s Source) Valid() bool {
	switch s {
	case SourceWeb, SourceEmail, SourceSMS, SourceGLPI, SourceSolman:
		return true
	}
	return false
}

// ParseSource normalizes a channel name, falling back to web.
func ParseSource(v string) Source {
	s := Source(strings.ToLower(strings.TrimSpace(v)))
	if s.Valid() {
		return s
	}
	return SourceWeb
}

type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyMedium   Urgency = "medium"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

func (u Urgency) Valid() bool { return u.rank() > 0 }

func (u Urgency) rank() int {
	switch u {
	case UrgencyLow:
		return 1
	case UrgencyMedium:
		return 2
	case UrgencyHigh:
		return 3
	case UrgencyCritical:
		return 4
	}
	return 0
}

// Raise returns the higher of u and proposed. Invalid proposals are ignored.
func (u Urgency) Raise(proposed Urgency) Urgency {
	if proposed.rank() > u.rank() {
		return proposed
	}
	return u
}

// Priority maps urgency to 1 (critical) .. 4 (low).
func (u Urgency) Priority() int {
	if r := u.rank(); r > 0 {
		return 5 - r
	}
	return 3
}

// ParseUrgency lower-cases v and returns "" when it is not a known urgency.
func ParseUrgency(v string) Urgency {
	u := Urgency(strings.ToLower(strings.TrimSpace(v)))
	if u.Valid() {
		return u
	}
	return ""
}

type Language string

const (
	LanguageEnglish Language = "en"
	LanguageHindi   Language = "hi"
	LanguageMixed   Language = "mixed"
)

func (l Language) Valid() bool {
	return l == LanguageEnglish || l == LanguageHindi || l == LanguageMixed
}

// Hinglish reports whether replies should mix Hindi and English.
func (l Language) Hinglish() bool {
	return l == LanguageHindi || l == LanguageMixed
}

type InteractionType string

const (
	InteractionUserMessage   InteractionType = "user_message"
	InteractionAIResponse    InteractionType = "ai_response"
	InteractionAgentResponse InteractionType = "agent_response"
	InteractionSystemNote    InteractionType = "system_note"
	InteractionEmailSent     InteractionType = "email_sent"
	InteractionSMSSent       InteractionType = "sms_sent"
)

func (t InteractionType) Valid() bool {
	switch t {
	case InteractionUserMessage, InteractionAIResponse, InteractionAgentResponse,
		InteractionSystemNote, InteractionEmailSent, InteractionSMSSent:
		return true
	}
	return false
}
