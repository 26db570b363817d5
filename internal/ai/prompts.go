package ai

import (
	"fmt"
	"strings"
)

func classificationPrompt(in Input) string {
	var b strings.Builder
	b.WriteString("You are an expert IT support classifier for a corporate helpdesk.\n")
	b.WriteString("Analyze this support ticket and classify it accurately.\n\n")
	fmt.Fprintf(&b, "Subject: %s\nDescription: %s\n", in.Title, in.Body)
	fmt.Fprintf(&b, "Detected language: %s (mixed=%t, confidence %.2f)\n\n", in.Language.Language, in.Language.Mixed, in.Language.Confidence)
	b.WriteString(`Respond with ONLY a valid JSON object:
{
  "category": "exact category name",
  "subcategory": "specific issue type",
  "urgency": "low|medium|high|critical",
  "confidence": 0.85,
  "reasoning": "brief explanation",
  "suggested_keywords": ["keyword1", "keyword2"],
  "estimated_resolution_time": "2 hours",
  "requires_escalation": false
}

CATEGORIES (use exactly these):
- Network: VPN, WiFi, internet, firewall, network drives, connectivity
- Hardware: computer, laptop, monitor, keyboard, mouse, hardware failures
- Software: applications, installation, crashes, updates, licensing, MS Office
- Email: Outlook, email setup, email access problems
- Account: password reset, login issues, permissions, user accounts
- Security: antivirus, security alerts, suspicious activity, access control
- Printer: printing issues, printer setup, print queue, scanners
- Telephony: phone systems, extensions, call forwarding, conference calls
- Server: server outages, shared services, databases, backups
- Mobile: phones, tablets, mobile apps, MDM enrolment
- Other: facility issues, non-IT requests, general inquiries

URGENCY RULES:
- critical: complete outage, security breach, many users affected
- high: important system down, urgent business impact
- medium: standard issues with some work impact
- low: minor issues, enhancement requests, general questions
`)
	return b.String()
}

func (s *Service) responsePrompt(in ResponseInput) string {
	var b strings.Builder
	b.WriteString("You are a helpful IT support assistant.\nA user has submitted this support ticket:\n\n")
	fmt.Fprintf(&b, "Ticket number: %s\nSubject: %s\nDescription: %s\nCategory: %s\nUser language: %s\n",
		in.TicketNumber, in.Title, in.Body, in.Category, in.Language)
	fmt.Fprintf(&b, "Start the reply with this greeting: %q\n", greeting(in))
	if in.Language.Hinglish() {
		b.WriteString("\nIMPORTANT: reply in natural Hinglish (Hindi + English mix) as used in Indian corporate IT. " +
			"Use Hindi for greetings and courtesy, English for technical terms.\n")
	}
	if len(in.Similar) > 0 {
		b.WriteString("\nSimilar past tickets for reference:\n")
		for i, st := range in.Similar {
			if i == maxSimilarInPrompt {
				break
			}
			notes := st.ResolutionNotes
			if notes == "" {
				notes = "N/A"
			}
			fmt.Fprintf(&b, "%d. %s\n   Resolution: %s\n", i+1, st.Title, notes)
		}
	}
	fmt.Fprintf(&b, `
Write a professional, empathetic reply that:
1. Acknowledges the specific issue
2. Gives immediate troubleshooting steps as bullet points where they apply
3. Sets realistic expectations for resolution
4. Mentions the ticket number and how to escalate
Sign it as %q. Keep it concise.
`, s.teamName)
	return b.String()
}
