package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderloom/loom/pkg/monitor"
)

type fakeSource struct {
	ch           chan monitor.Update
	last         *monitor.Update
	unsubscribed bool
}

func (s *fakeSource) Subscribe(_ string) (<-chan monitor.Update, func()) {
	return s.ch, func() { s.unsubscribed = true }
}

func (s *fakeSource) GetProgress(_ string) (monitor.Update, bool) {
	if s.last == nil {
		return monitor.Update{}, false
	}
	return *s.last, true
}

type wsMessage struct {
	Type  string          `json:"type"`
	JobID string          `json:"job_id"`
	Data  *monitor.Update `json:"data"`
}

func dialManager(t *testing.T, mgr *ConnectionManager, jobID string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		require.NoError(t, err)
		mgr.HandleConnection(r.Context(), conn, jobID)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, strings.Replace(srv.URL, "http", "ws", 1), nil)
	require.NoError(t, err)
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var msg wsMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHandleConnectionDeliversUpdatesAndClosesOnTerminal(t *testing.T) {
	source := &fakeSource{
		ch:   make(chan monitor.Update, 4),
		last: &monitor.Update{JobID: "job-1", Status: monitor.StatusProcessing, ProgressPercent: 50},
	}
	mgr := NewConnectionManager(source, slog.Default())
	conn := dialManager(t, mgr, "job-1")

	msg := readMessage(t, conn)
	assert.Equal(t, "connection.established", msg.Type)
	assert.Equal(t, "job-1", msg.JobID)

	// Late subscriber receives the last known progress first.
	msg = readMessage(t, conn)
	require.Equal(t, "job.update", msg.Type)
	assert.Equal(t, monitor.StatusProcessing, msg.Data.Status)
	assert.Equal(t, 50.0, msg.Data.ProgressPercent)

	source.ch <- monitor.Update{JobID: "job-1", Status: monitor.StatusCompleted, ProgressPercent: 100}
	msg = readMessage(t, conn)
	require.Equal(t, "job.update", msg.Type)
	assert.Equal(t, monitor.StatusCompleted, msg.Data.Status)

	// Terminal update closes the socket from the server side.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _, err := conn.Read(ctx)
	assert.Error(t, err)

	assert.Eventually(t, func() bool {
		return mgr.ActiveConnections() == 0 && source.unsubscribed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleConnectionPingPong(t *testing.T) {
	source := &fakeSource{ch: make(chan monitor.Update)}
	mgr := NewConnectionManager(source, slog.Default())
	conn := dialManager(t, mgr, "job-2")

	msg := readMessage(t, conn)
	require.Equal(t, "connection.established", msg.Type)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"action":"ping"}`)))

	msg = readMessage(t, conn)
	assert.Equal(t, "pong", msg.Type)

	assert.Equal(t, 1, mgr.ActiveConnections())
	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool {
		return mgr.ActiveConnections() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleConnectionClientDisconnectUnsubscribes(t *testing.T) {
	source := &fakeSource{ch: make(chan monitor.Update)}
	mgr := NewConnectionManager(source, slog.Default())
	conn := dialManager(t, mgr, "job-3")

	msg := readMessage(t, conn)
	require.Equal(t, "connection.established", msg.Type)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))
	assert.Eventually(t, func() bool {
		return source.unsubscribed
	}, 2*time.Second, 10*time.Millisecond)
}
