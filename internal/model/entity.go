package model

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const titleMaxRunes = 80

type Ticket struct {
	ID           uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	TicketNumber string       `gorm:"type:varchar(32);uniqueIndex;not null" json:"ticket_number"`
	ExternalID   string       `gorm:"type:varchar(64);index" json:"external_id,omitempty"`
	Source       Source       `gorm:"type:varchar(16);index;not null" json:"source"`
	Title        string       `gorm:"type:varchar(255);not null" json:"title"`
	Body         string       `gorm:"type:text;not null" json:"body"`
	Language     Language     `gorm:"type:varchar(16)" json:"language"`
	Category     string       `gorm:"type:varchar(64);index" json:"category,omitempty"`
	Subcategory  string       `gorm:"type:varchar(128)" json:"subcategory,omitempty"`
	Urgency      Urgency      `gorm:"type:varchar(16);index;not null" json:"urgency"`
	Priority     int          `gorm:"not null" json:"priority"`
	Status       TicketStatus `gorm:"type:varchar(32);index;not null" json:"status"`
	AssignedTo   string       `gorm:"type:varchar(128);index" json:"assigned_to,omitempty"`

	AIProcessed     bool    `gorm:"column:ai_processed;not null;default:false" json:"ai_processed"`
	AIResponse      string  `gorm:"column:ai_response;type:text" json:"ai_response,omitempty"`
	AIConfidence    float64 `gorm:"column:ai_confidence" json:"ai_confidence"`
	ResolutionNotes string  `gorm:"type:text" json:"resolution_notes,omitempty"`

	UserEmail      string `gorm:"type:varchar(255);index" json:"user_email,omitempty"`
	UserName       string `gorm:"type:varchar(255)" json:"user_name,omitempty"`
	UserPhone      string `gorm:"type:varchar(32)" json:"user_phone,omitempty"`
	UserDepartment string `gorm:"type:varchar(128)" json:"user_department,omitempty"`

	Metadata datatypes.JSONMap `json:"metadata,omitempty"`

	CreatedAt  time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
	ResolvedAt *time.Time     `json:"resolved_at,omitempty"`
	ClosedAt   *time.Time     `json:"closed_at,omitempty"`
	DeletedAt  gorm.DeletedAt `gorm:"index" json:"-"`

	Interactions []TicketInteraction `gorm:"foreignKey:TicketID;constraint:OnDelete:CASCADE" json:"interactions,omitempty"`
}

func (t *Ticket) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.TicketNumber == "" {
		t.TicketNumber = NewTicketNumber(t.ID, time.Now())
	}
	return nil
}

// NewTicketNumber renders TKT-YYYYMMDD-XXXXXX from the creation day and the id.
func NewTicketNumber(id uuid.UUID, at time.Time) string {
	hex := strings.ToUpper(strings.ReplaceAll(id.String(), "-", ""))
	return fmt.Sprintf("TKT-%s-%s", at.UTC().Format("20060102"), hex[:6])
}

// DeriveTitle takes the first non-empty line of body, cut to a readable length.
func DeriveTitle(body string) string {
	line := strings.TrimSpace(body)
	for _, l := range strings.Split(line, "\n") {
		if l = strings.TrimSpace(l); l != "" {
			line = l
			break
		}
	}
	if utf8.RuneCountInString(line) <= titleMaxRunes {
		return line
	}
	runes := []rune(line)
	return strings.TrimSpace(string(runes[:titleMaxRunes-3])) + "..."
}

type TicketInteraction struct {
	ID        uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	TicketID  uuid.UUID       `gorm:"type:uuid;index;not null" json:"ticket_id"`
	Type      InteractionType `gorm:"type:varchar(32);index;not null" json:"type"`
	Content   string          `gorm:"type:text;not null" json:"content"`
	Author    string          `gorm:"type:varchar(128)" json:"author,omitempty"`
	CreatedAt time.Time       `gorm:"index" json:"created_at"`
}

func (i *TicketInteraction) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
