package glpi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/Rzx-x/Ticket-Agent/pkg/resilient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMappings(t *testing.T) {
	assert.Equal(t, model.TicketStatusOpen, StatusFromGLPI(1))
	assert.Equal(t, model.TicketStatusInProgress, StatusFromGLPI(3))
	assert.Equal(t, model.TicketStatusInProgress, StatusFromGLPI(4))
	assert.Equal(t, model.TicketStatusResolved, StatusFromGLPI(5))
	assert.Equal(t, model.TicketStatusClosed, StatusFromGLPI(6))
	assert.Equal(t, model.TicketStatusOpen, StatusFromGLPI(99))

	for glpi, want := range map[int]model.Urgency{1: model.UrgencyLow, 2: model.UrgencyLow, 3: model.UrgencyMedium, 4: model.UrgencyHigh, 5: model.UrgencyCritical} {
		assert.Equal(t, want, UrgencyFromGLPI(glpi))
	}
	assert.Equal(t, 5, UrgencyToGLPI(model.UrgencyCritical))
	assert.Equal(t, 2, UrgencyToGLPI(model.UrgencyLow))
	assert.Equal(t, 3, UrgencyToGLPI(""))
}

func TestStripHTML(t *testing.T) {
	in := "&lt;p&gt;Printer   on floor 3&lt;/p&gt;&lt;p&gt;shows &amp;quot;offline&amp;quot;&lt;br /&gt;since Monday&lt;/p&gt;"
	assert.Equal(t, "Printer on floor 3\nshows \"offline\"\nsince Monday", StripHTML(in))
	assert.Equal(t, "plain", StripHTML("plain"))
}

func TestTicketToModel(t *testing.T) {
	var gt Ticket
	require.NoError(t, json.Unmarshal([]byte(`{
		"id": 42, "name": "", "content": "&lt;p&gt;Outlook crashes on start&lt;/p&gt;",
		"status": 2, "urgency": 4, "date": "2025-02-01 10:30:00",
		"itilcategories_id": "Software > Office", "users_id_recipient": "asha@corp.test"
	}`), &gt))

	m := gt.ToModel()
	assert.Equal(t, "42", m.ExternalID)
	assert.Equal(t, model.SourceGLPI, m.Source)
	assert.Equal(t, "Outlook crashes on start", m.Title)
	assert.Equal(t, "Outlook crashes on start", m.Body)
	assert.Equal(t, model.TicketStatusInProgress, m.Status)
	assert.Equal(t, model.UrgencyHigh, m.Urgency)
	assert.Equal(t, 2, m.Priority)
	assert.Equal(t, "asha@corp.test", m.UserEmail)
	assert.Equal(t, "Software > Office", m.Metadata["glpi_category"])
	assert.Equal(t, 2025, m.CreatedAt.Year())

	var numeric Ticket
	require.NoError(t, json.Unmarshal([]byte(`{"id":7,"name":"VPN","itilcategories_id":0,"users_id_recipient":12}`), &numeric))
	nm := numeric.ToModel()
	assert.Equal(t, "VPN", nm.Body)
	assert.Equal(t, "12", nm.UserName)
	assert.NotContains(t, nm.Metadata, "glpi_category")
}

func TestClientSessionListAndCreate(t *testing.T) {
	var killed bool
	mux := http.NewServeMux()
	mux.HandleFunc("/apirest.php/initSession", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "user_token ut", r.Header.Get("Authorization"))
		assert.Equal(t, "at", r.Header.Get("App-Token"))
		_, _ = w.Write([]byte(`{"session_token":"sess-1"}`))
	})
	mux.HandleFunc("/apirest.php/Ticket", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sess-1", r.Header.Get("Session-Token"))
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, "0-49", r.URL.Query().Get("range"))
			_, _ = w.Write([]byte(`[{"id":1,"name":"A","content":"a","status":1,"urgency":3}]`))
		case http.MethodPost:
			var body struct {
				Input struct {
					Name    string `json:"name"`
					Urgency int    `json:"urgency"`
				} `json:"input"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "Export me", body.Input.Name)
			assert.Equal(t, 5, body.Input.Urgency)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":99}`))
		}
	})
	mux.HandleFunc("/apirest.php/killSession", func(w http.ResponseWriter, r *http.Request) {
		killed = true
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c, err := New(Config{URL: srv.URL + "/apirest.php/", AppToken: "at", UserToken: "ut"}, resilient.New(resilient.WithMaxRetries(0)), nil)
	require.NoError(t, err)

	ctx := context.Background()
	tickets, err := c.ListTickets(ctx, 0, 49)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "A", tickets[0].Name)

	id, err := c.CreateTicket(ctx, &model.Ticket{Title: "Export me", Body: "b", Urgency: model.UrgencyCritical})
	require.NoError(t, err)
	assert.Equal(t, 99, id)

	require.NoError(t, c.KillSession(ctx))
	assert.True(t, killed)
}

func TestNewRequiresConfig(t *testing.T) {
	_, err := New(Config{URL: "http://glpi"}, nil, nil)
	assert.ErrorIs(t, err, ErrNotConfigured)
}
