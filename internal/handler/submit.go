package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/Rzx-x/Ticket-Agent/internal/notify"
	"github.com/Rzx-x/Ticket-Agent/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SubmitHandler serves the public intake form. The ticket is classified and
// answered before the response is written.
type SubmitHandler struct {
	proc *service.Processor
	log  *zap.Logger
}

func NewSubmitHandler(proc *service.Processor, log *zap.Logger) *SubmitHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &SubmitHandler{proc: proc, log: log.Named("submit")}
}

type submitRequest struct {
	Text      string `json:"text"`
	Title     string `json:"title"`
	Source    string `json:"source"`
	UserEmail string `json:"user_email"`
	UserName  string `json:"user_name"`
	UserPhone string `json:"user_phone"`
}

type submitResponse struct {
	ID             uuid.UUID          `json:"id"`
	TicketNumber   string             `json:"ticket_number"`
	Title          string             `json:"title"`
	Category       string             `json:"category"`
	Subcategory    string             `json:"subcategory"`
	Urgency        model.Urgency      `json:"urgency"`
	Priority       int                `json:"priority"`
	Language       model.Language     `json:"language"`
	AIResponse     string             `json:"ai_response"`
	AIConfidence   float64            `json:"ai_confidence"`
	AIFallback     bool               `json:"ai_fallback"`
	Status         model.TicketStatus `json:"status"`
	Source         model.Source       `json:"source"`
	CreatedAt      time.Time          `json:"created_at"`
	Notified       notify.Channel     `json:"notified,omitempty"`
	SimilarTickets []string           `json:"similar_tickets,omitempty"`
}

func (h *SubmitHandler) Submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		badRequest(c, "text is required")
		return
	}
	if utf8.RuneCountInString(text) > service.MaxBodyLength {
		badRequest(c, fmt.Sprintf("text must be at most %d characters", service.MaxBodyLength))
		return
	}

	out, err := h.proc.Submit(c.Request.Context(), service.SubmitInput{
		Text:      text,
		Title:     req.Title,
		Source:    req.Source,
		UserEmail: req.UserEmail,
		UserName:  req.UserName,
		UserPhone: req.UserPhone,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	t := out.Ticket
	resp := submitResponse{
		ID:           t.ID,
		TicketNumber: t.TicketNumber,
		Title:        t.Title,
		Category:     t.Category,
		Subcategory:  t.Subcategory,
		Urgency:      t.Urgency,
		Priority:     t.Priority,
		Language:     t.Language,
		AIResponse:   t.AIResponse,
		AIConfidence: t.AIConfidence,
		AIFallback:   out.Fallback,
		Status:       t.Status,
		Source:       t.Source,
		CreatedAt:    t.CreatedAt,
		Notified:     out.Notified,
	}
	for _, m := range out.Similar {
		resp.SimilarTickets = append(resp.SimilarTickets, m.TicketNumber)
	}
	c.JSON(http.StatusCreated, resp)
}
