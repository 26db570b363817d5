package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Rzx-x/Ticket-Agent/internal/ai"
	"github.com/Rzx-x/Ticket-Agent/internal/database/dbtest"
	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/Rzx-x/Ticket-Agent/internal/searchindex"
	"github.com/Rzx-x/Ticket-Agent/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() { gin.SetMode(gin.TestMode) }

type stubAnalyzer struct{}

func (stubAnalyzer) Classify(context.Context, ai.Input) ai.Classification {
	return ai.Classification{Category: "Email", Subcategory: "Outlook", Urgency: model.UrgencyHigh, Confidence: 0.9}
}

func (stubAnalyzer) Respond(context.Context, ai.ResponseInput) (string, bool) {
	return "Hello, please restart Outlook.", false
}

type recordingQueue struct{ ids []uuid.UUID }

func (q *recordingQueue) Enqueue(id uuid.UUID) error {
	q.ids = append(q.ids, id)
	return nil
}

type testAPI struct {
	engine  *gin.Engine
	tickets *service.TicketService
	queue   *recordingQueue
	index   *searchindex.Index
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	db := dbtest.New(t)
	tickets := service.NewTicketService(db, nil, nil)
	index := searchindex.New(searchindex.NewMemoryBackend(), searchindex.NewHashEmbedder(64), "test", nil)
	proc := service.NewProcessor(tickets, stubAnalyzer{}, service.ProcessorOptions{Index: index})
	queue := &recordingQueue{}

	th := NewTicketHandler(tickets, proc, queue, index, nil)
	sh := NewSubmitHandler(proc, nil)
	ah := NewAnalyticsHandler(service.NewAnalyticsService(db, nil, nil), nil)

	r := gin.New()
	r.POST("/api/submit-ticket", sh.Submit)
	v1 := r.Group("/api/v1")
	v1.POST("/tickets", th.Create)
	v1.GET("/tickets", th.List)
	v1.GET("/tickets/:id", th.Get)
	v1.PUT("/tickets/:id", th.Update)
	v1.DELETE("/tickets/:id", th.Delete)
	v1.GET("/tickets/:id/interactions", th.ListInteractions)
	v1.POST("/tickets/:id/interactions", th.AddInteraction)
	v1.GET("/tickets/:id/similar", th.Similar)
	v1.POST("/tickets/:id/regenerate-ai-response", th.Regenerate)
	v1.GET("/analytics/dashboard", ah.Dashboard)
	v1.GET("/analytics/trends", ah.Trends)
	t.Cleanup(index.Wait)
	return &testAPI{engine: r, tickets: tickets, queue: queue, index: index}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestSubmitTicket(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/submit-ticket", map[string]string{
		"text": "Outlook asks for my password again and again", "source": "email", "user_email": "a@corp.in",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	got := decode(t, w)
	for _, k := range []string{"id", "ticket_number", "title", "category", "subcategory", "urgency", "priority",
		"language", "ai_response", "ai_confidence", "ai_fallback", "status", "source", "created_at"} {
		assert.Contains(t, got, k)
	}
	assert.Equal(t, "Email", got["category"])
	assert.Equal(t, "high", got["urgency"])
	assert.EqualValues(t, 2, got["priority"])
	assert.Equal(t, "email", got["source"])
	assert.Equal(t, false, got["ai_fallback"])
	assert.Equal(t, "Hello, please restart Outlook.", got["ai_response"])
}

func TestSubmitTicketValidation(t *testing.T) {
	api := newTestAPI(t)
	tests := []struct {
		name string
		body any
		want string
	}{
		{"blank text", map[string]string{"text": "   "}, "text is required"},
		{"too long", map[string]string{"text": strings.Repeat("x", service.MaxBodyLength+1)}, "at most 10000"},
		{"not json", "{", "invalid body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := api.do(t, http.MethodPost, "/api/submit-ticket", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Contains(t, decode(t, w)["error"], tt.want)
		})
	}
}

func TestTicketCRUD(t *testing.T) {
	api := newTestAPI(t)

	w := api.do(t, http.MethodPost, "/api/v1/tickets", map[string]string{"body": "Printer on floor 2 is jammed", "urgency": "low"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode(t, w)
	id := created["id"].(string)
	assert.Equal(t, "open", created["status"])
	require.Len(t, api.queue.ids, 1, "new tickets are queued for ai processing")

	w = api.do(t, http.MethodGet, "/api/v1/tickets/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["interactions"], 1)

	w = api.do(t, http.MethodGet, "/api/v1/tickets?urgency=LOW&limit=500", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)
	assert.EqualValues(t, 1, list["total"])
	assert.EqualValues(t, service.MaxListLimit, list["limit"])
	assert.EqualValues(t, 0, list["offset"])

	w = api.do(t, http.MethodPut, "/api/v1/tickets/"+id, map[string]string{"status": "resolved", "resolution_notes": "Cleared jam"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "resolved", decode(t, w)["status"])

	w = api.do(t, http.MethodPut, "/api/v1/tickets/"+id, map[string]string{"status": "escalated"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = api.do(t, http.MethodPut, "/api/v1/tickets/"+id, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodDelete, "/api/v1/tickets/"+id, nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = api.do(t, http.MethodGet, "/api/v1/tickets/"+id, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ticket not found", decode(t, w)["error"])
}

func TestTicketBadRequests(t *testing.T) {
	api := newTestAPI(t)
	cases := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/tickets/not-a-uuid"},
		{http.MethodGet, "/api/v1/tickets?status=pending"},
		{http.MethodGet, "/api/v1/tickets?source=fax"},
		{http.MethodGet, "/api/v1/analytics/trends?days=0"},
		{http.MethodGet, "/api/v1/analytics/trends?days=91"},
	}
	for _, tc := range cases {
		w := api.do(t, tc.method, tc.path, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code, tc.path)
	}
	w := api.do(t, http.MethodPost, "/api/v1/tickets", map[string]string{"body": ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestInteractionsAndRegenerate(t *testing.T) {
	api := newTestAPI(t)
	tk := &model.Ticket{Body: "Need access to shared drive"}
	require.NoError(t, api.tickets.Create(context.Background(), tk))
	base := "/api/v1/tickets/" + tk.ID.String()

	w := api.do(t, http.MethodPost, base+"/interactions", map[string]string{"content": "Access granted", "author": "ravi"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "agent_response", decode(t, w)["type"])

	w = api.do(t, http.MethodPost, base+"/interactions", map[string]string{"type": "yell", "content": "x"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = api.do(t, http.MethodGet, base+"/interactions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["total"])

	w = api.do(t, http.MethodPost, base+"/regenerate-ai-response", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	regen := decode(t, w)
	assert.Equal(t, "Hello, please restart Outlook.", regen["ai_response"])
	assert.Equal(t, "high", regen["urgency"])

	w = api.do(t, http.MethodPost, "/api/v1/tickets/"+uuid.NewString()+"/regenerate-ai-response", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSimilarEndpoint(t *testing.T) {
	api := newTestAPI(t)
	ctx := context.Background()
	a := &model.Ticket{Body: "VPN disconnects at home", ResolutionNotes: "Updated VPN client"}
	b := &model.Ticket{Body: "VPN will not connect from home"}
	require.NoError(t, api.tickets.Create(ctx, a))
	require.NoError(t, api.tickets.Create(ctx, b))
	require.NoError(t, api.index.IndexTicket(ctx, a))
	require.NoError(t, api.index.IndexTicket(ctx, b))

	w := api.do(t, http.MethodGet, "/api/v1/tickets/"+b.ID.String()+"/similar?limit=1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode(t, w)["similar_tickets"].([]any)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID.String(), got[0].(map[string]any)["ticket_id"])
}

func TestDashboardEndpoint(t *testing.T) {
	api := newTestAPI(t)
	require.NoError(t, api.tickets.Create(context.Background(), &model.Ticket{Body: "Monitor flickers", Category: "Hardware"}))

	w := api.do(t, http.MethodGet, "/api/v1/analytics/dashboard", nil)
	require.Equal(t, http.StatusOK, w.Code)
	overview := decode(t, w)["overview"].(map[string]any)
	assert.EqualValues(t, 1, overview["total_tickets"])

	w = api.do(t, http.MethodGet, "/api/v1/analytics/trends?days=3", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["daily"], 3)
}

func TestHealth(t *testing.T) {
	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name   string
		checks []Check
		code   int
		status string
	}{
		{"healthy", []Check{{Name: "database", Critical: true, Run: ok}}, http.StatusOK, "healthy"},
		{"degraded", []Check{{Name: "database", Critical: true, Run: ok}, {Name: "qdrant", Run: fail}}, http.StatusOK, "degraded"},
		{"unhealthy", []Check{{Name: "database", Critical: true, Run: fail}}, http.StatusServiceUnavailable, "unhealthy"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler("ticket-agent", "test", tt.checks...)
			r := gin.New()
			r.GET("/health", h.Health)
			r.GET("/ready", h.Ready)

			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.code, w.Code)
			body := decode(t, w)
			assert.Equal(t, tt.status, body["status"])
			assert.Equal(t, "ticket-agent", body["service"])
			assert.Len(t, body["checks"], len(tt.checks))

			w = httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
			assert.Equal(t, tt.code, w.Code)
		})
	}
}
