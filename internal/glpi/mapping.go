package glpi

import (
	"encoding/json"
	"html"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/Rzx-x/Ticket-Agent/internal/model"
)

const glpiTime = "2006-01-02 15:04:05"

// Ticket is the subset of GLPI's Ticket item the helpdesk reads. Dropdown
// fields arrive as names with expand_dropdowns and as ids without it.
type Ticket struct {
	ID        int             `json:"id"`
	Name      string          `json:"name"`
	Content   string          `json:"content"`
	Status    int             `json:"status"`
	Urgency   int             `json:"urgency"`
	Date      string          `json:"date"`
	DateMod   string          `json:"date_mod"`
	Category  json.RawMessage `json:"itilcategories_id"`
	Recipient json.RawMessage `json:"users_id_recipient"`
}

// StatusFromGLPI maps 1 new, 2-4 processing/pending, 5 solved, 6 closed.
func StatusFromGLPI(s int) model.TicketStatus {
	switch s {
	case 2, 3, 4:
		return model.TicketStatusInProgress
	case 5:
		return model.TicketStatusResolved
	case 6:
		return model.TicketStatusClosed
	}
	return model.TicketStatusOpen
}

func UrgencyFromGLPI(u int) model.Urgency {
	switch u {
	case 1, 2:
		return model.UrgencyLow
	case 4:
		return model.UrgencyHigh
	case 5:
		return model.UrgencyCritical
	}
	return model.UrgencyMedium
}

func UrgencyToGLPI(u model.Urgency) int {
	switch u {
	case model.UrgencyLow:
		return 2
	case model.UrgencyHigh:
		return 4
	case model.UrgencyCritical:
		return 5
	}
	return 3
}

var (
	tagRe   = regexp.MustCompile(`(?s)<[^>]*>`)
	blockRe = regexp.MustCompile(`(?i)<\s*(br|/p|/div|/li)\s*/?>`)
	spaceRe = regexp.MustCompile(`[ \t]+`)
	blankRe = regexp.MustCompile(`\n{3,}`)
)

// StripHTML turns GLPI's escaped rich text into plain text.
func StripHTML(s string) string {
	s = html.UnescapeString(s)
	s = blockRe.ReplaceAllString(s, "\n")
	s = tagRe.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = spaceRe.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(blankRe.ReplaceAllString(strings.Join(lines, "\n"), "\n\n"))
}

// ToModel converts a GLPI ticket into a helpdesk ticket keyed by its GLPI id.
func (t Ticket) ToModel() *model.Ticket {
	body := StripHTML(t.Content)
	title := strings.TrimSpace(t.Name)
	if title == "" {
		title = model.DeriveTitle(body)
	}
	if body == "" {
		body = title
	}
	urgency := UrgencyFromGLPI(t.Urgency)
	out := &model.Ticket{
		ExternalID: strconv.Itoa(t.ID),
		Source:     model.SourceGLPI,
		Title:      title,
		Body:       body,
		Status:     StatusFromGLPI(t.Status),
		Urgency:    urgency,
		Priority:   urgency.Priority(),
		Metadata:   map[string]any{"glpi_id": t.ID},
	}
	if cat := rawString(t.Category); cat != "" && cat != "0" {
		out.Metadata["glpi_category"] = cat
	}
	if r := rawString(t.Recipient); strings.Contains(r, "@") {
		out.UserEmail = r
	} else if r != "" && r != "0" {
		out.UserName = r
	}
	if at, err := time.ParseInLocation(glpiTime, t.Date, time.UTC); err == nil {
		out.CreatedAt = at
	}
	return out
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
