package handler

import (
	"net/http"
	"strconv"

	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/Rzx-x/Ticket-Agent/internal/searchindex"
	"github.com/Rzx-x/Ticket-Agent/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Enqueuer hands a stored ticket to background AI processing.
type Enqueuer interface {
	Enqueue(id uuid.UUID) error
}

type TicketHandler struct {
	svc   *service.TicketService
	proc  *service.Processor
	queue Enqueuer
	index *searchindex.Index
	log   *zap.Logger
}

// NewTicketHandler wires the ticket endpoints. queue and index may be nil.
func NewTicketHandler(svc *service.TicketService, proc *service.Processor, queue Enqueuer, index *searchindex.Index, log *zap.Logger) *TicketHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &TicketHandler{svc: svc, proc: proc, queue: queue, index: index, log: log.Named("handler")}
}

type createTicketRequest struct {
	Title          string         `json:"title"`
	Body           string         `json:"body"`
	Description    string         `json:"description"`
	Source         string         `json:"source"`
	Urgency        string         `json:"urgency"`
	Category       string         `json:"category"`
	UserEmail      string         `json:"user_email"`
	UserName       string         `json:"user_name"`
	UserPhone      string         `json:"user_phone"`
	UserDepartment string         `json:"user_department"`
	Metadata       map[string]any `json:"metadata"`
}

func (h *TicketHandler) Create(c *gin.Context) {
	var req createTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	body := req.Body
	if body == "" {
		body = req.Description
	}
	t := &model.Ticket{
		Title:          req.Title,
		Body:           body,
		Source:         model.Source(req.Source),
		Urgency:        model.Urgency(req.Urgency),
		Category:       req.Category,
		UserEmail:      req.UserEmail,
		UserName:       req.UserName,
		UserPhone:      req.UserPhone,
		UserDepartment: req.UserDepartment,
		Metadata:       req.Metadata,
	}
	if err := h.svc.Create(c.Request.Context(), t); err != nil {
		respondError(c, h.log, err)
		return
	}
	if h.queue != nil {
		if err := h.queue.Enqueue(t.ID); err != nil {
			h.log.Warn("ticket not queued for ai processing", zap.String("ticket_id", t.ID.String()), zap.Error(err))
		}
	}
	h.index.IndexTicketAsync(t)
	c.JSON(http.StatusCreated, t)
}

func (h *TicketHandler) Get(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}
	t, err := h.svc.GetWithInteractions(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) List(c *gin.Context) {
	f := service.ListFilter{
		Category:   c.Query("category"),
		AssignedTo: c.Query("assigned_to"),
		Query:      c.Query("q"),
	}
	if v := c.Query("status"); v != "" {
		f.Status = model.TicketStatus(v)
		if !f.Status.Valid() {
			badRequest(c, "unknown status "+v)
			return
		}
	}
	if v := c.Query("urgency"); v != "" {
		if f.Urgency = model.ParseUrgency(v); f.Urgency == "" {
			badRequest(c, "unknown urgency "+v)
			return
		}
	}
	if v := c.Query("source"); v != "" {
		f.Source = model.Source(v)
		if !f.Source.Valid() {
			badRequest(c, "unknown source "+v)
			return
		}
	}
	if v := c.Query("language"); v != "" {
		f.Language = model.Language(v)
		if !f.Language.Valid() {
			badRequest(c, "unknown language "+v)
			return
		}
	}
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			f.Limit = parsed
		}
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed >= 0 {
			f.Offset = parsed
		}
	}
	if f.Limit <= 0 {
		f.Limit = service.DefaultListLimit
	}
	if f.Limit > service.MaxListLimit {
		f.Limit = service.MaxListLimit
	}

	items, total, err := h.svc.List(c.Request.Context(), f)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"tickets": items,
		"total":   total,
		"limit":   f.Limit,
		"offset":  f.Offset,
	})
}

type updateTicketRequest struct {
	Title           *string `json:"title,omitempty"`
	Status          *string `json:"status,omitempty"`
	Urgency         *string `json:"urgency,omitempty"`
	Category        *string `json:"category,omitempty"`
	Subcategory     *string `json:"subcategory,omitempty"`
	AssignedTo      *string `json:"assigned_to,omitempty"`
	ResolutionNotes *string `json:"resolution_notes,omitempty"`
	Actor           string  `json:"actor,omitempty"`
}

func (h *TicketHandler) Update(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}
	var req updateTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	upd := service.TicketUpdate{
		Title:           req.Title,
		Category:        req.Category,
		Subcategory:     req.Subcategory,
		AssignedTo:      req.AssignedTo,
		ResolutionNotes: req.ResolutionNotes,
	}
	if req.Status != nil {
		st := model.TicketStatus(*req.Status)
		upd.Status = &st
	}
	if req.Urgency != nil {
		u := model.Urgency(*req.Urgency)
		upd.Urgency = &u
	}
	actor := req.Actor
	if actor == "" {
		actor = c.GetHeader("X-Actor")
	}
	t, err := h.svc.Update(c.Request.Context(), id, upd, actor)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	h.index.IndexTicketAsync(t)
	c.JSON(http.StatusOK, t)
}

func (h *TicketHandler) Delete(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		respondError(c, h.log, err)
		return
	}
	if err := h.index.Remove(c.Request.Context(), id); err != nil {
		h.log.Warn("remove ticket from index failed", zap.String("ticket_id", id.String()), zap.Error(err))
	}
	c.Status(http.StatusNoContent)
}

func (h *TicketHandler) Similar(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}
	limit := 5
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 && parsed <= 20 {
			limit = parsed
		}
	}
	t, err := h.svc.GetByID(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	matches, err := h.index.Similar(c.Request.Context(), searchindex.Document(t), limit, t.ID)
	if err != nil {
		h.log.Warn("similar ticket search failed", zap.String("ticket_id", id.String()), zap.Error(err))
		matches = nil
	}
	if matches == nil {
		matches = []searchindex.Match{}
	}
	c.JSON(http.StatusOK, gin.H{"ticket_id": t.ID, "similar_tickets": matches})
}

func (h *TicketHandler) Regenerate(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}
	out, err := h.proc.Regenerate(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"ticket_id":     out.Ticket.ID,
		"ai_response":   out.Ticket.AIResponse,
		"ai_confidence": out.Ticket.AIConfidence,
		"ai_fallback":   out.Fallback,
		"category":      out.Ticket.Category,
		"urgency":       out.Ticket.Urgency,
	})
}
