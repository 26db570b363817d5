package handler

import (
	"net/http"

	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/gin-gonic/gin"
)

type createInteractionRequest struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Author  string `json:"author"`
}

func (h *TicketHandler) ListInteractions(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}
	items, err := h.svc.ListInteractions(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"interactions": items, "total": len(items)})
}

// AddInteraction records an agent reply unless another type is given.
func (h *TicketHandler) AddInteraction(c *gin.Context) {
	id, ok := ticketID(c)
	if !ok {
		return
	}
	var req createInteractionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid body")
		return
	}
	typ := model.InteractionType(req.Type)
	if typ == "" {
		typ = model.InteractionAgentResponse
	}
	in := &model.TicketInteraction{Type: typ, Content: req.Content, Author: req.Author}
	if err := h.svc.AddInteraction(c.Request.Context(), id, in); err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, in)
}
