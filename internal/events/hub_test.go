package events

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Rzx-x/Ticket-Agent/internal/model"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialHub(t *testing.T, hub *Hub) (*websocket.Conn, context.Context) {
	t.Helper()
	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

func readFrame(t *testing.T, ctx context.Context, conn *websocket.Conn) ServerFrame {
	t.Helper()
	var f ServerFrame
	require.NoError(t, wsjson.Read(ctx, conn, &f))
	return f
}

func TestHubDeliversToSubscribedTopic(t *testing.T) {
	hub := NewHub(nil, HubOptions{OriginPatterns: []string{"*"}})
	conn, ctx := dialHub(t, hub)

	id := uuid.New()
	require.NoError(t, wsjson.Write(ctx, conn, ClientFrame{Type: FrameSubscribe, TicketIDs: []string{id.String()}}))
	ack := readFrame(t, ctx, conn)
	assert.Equal(t, FrameSubscribed, ack.Type)
	assert.Equal(t, []string{TicketTopic(id)}, ack.Topics)
	assert.Equal(t, 1, hub.Clients())

	// an event for another ticket is not delivered
	require.NoError(t, hub.Publish(ctx, NewTicketEvent(TicketUpdated, &model.Ticket{ID: uuid.New()})))
	require.NoError(t, hub.Publish(ctx, NewTicketEvent(TicketUpdated, &model.Ticket{ID: id, Title: "VPN down"})))

	got := readFrame(t, ctx, conn)
	assert.Equal(t, FrameTicketUpdate, got.Type)
	assert.Equal(t, TicketTopic(id), got.Topic)
	assert.Equal(t, TicketUpdated, got.Event)
	require.NotNil(t, got.Ticket)
	assert.Equal(t, "VPN down", got.Ticket.Title)
}

func TestHubPingAndErrors(t *testing.T) {
	hub := NewHub(nil, HubOptions{OriginPatterns: []string{"*"}})
	conn, ctx := dialHub(t, hub)

	require.NoError(t, wsjson.Write(ctx, conn, ClientFrame{Type: FramePing}))
	assert.Equal(t, FramePong, readFrame(t, ctx, conn).Type)

	require.NoError(t, wsjson.Write(ctx, conn, ClientFrame{Type: FrameSubscribe, Topics: []string{"users"}}))
	f := readFrame(t, ctx, conn)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "users", f.Topic)

	require.NoError(t, wsjson.Write(ctx, conn, ClientFrame{Type: "shout"}))
	assert.Equal(t, FrameError, readFrame(t, ctx, conn).Type)
}

func TestHubUnsubscribe(t *testing.T) {
	var clients atomic.Int64
	hub := NewHub(nil, HubOptions{OriginPatterns: []string{"*"}, OnClients: func(n int) { clients.Store(int64(n)) }})
	conn, ctx := dialHub(t, hub)

	require.NoError(t, wsjson.Write(ctx, conn, ClientFrame{Type: FrameSubscribe, Topics: []string{TopicAll}}))
	assert.Equal(t, FrameSubscribed, readFrame(t, ctx, conn).Type)
	require.NoError(t, wsjson.Write(ctx, conn, ClientFrame{Type: FrameUnsubscribe, Topics: []string{TopicAll}}))
	assert.Equal(t, FrameUnsubscribed, readFrame(t, ctx, conn).Type)

	require.NoError(t, hub.Publish(ctx, NewTicketEvent(TicketCreated, &model.Ticket{ID: uuid.New()})))
	require.NoError(t, wsjson.Write(ctx, conn, ClientFrame{Type: FramePing}))
	// the next frame is the pong, proving the event was not queued
	assert.Equal(t, FramePong, readFrame(t, ctx, conn).Type)
	assert.Equal(t, int64(1), clients.Load())
}
