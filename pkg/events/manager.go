// Package events pushes generation progress to WebSocket clients. One
// connection follows one job: the client connects to /ws/{job_id} and
// receives every monitor update until the job reaches a terminal status.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/renderloom/loom/pkg/monitor"
)

// writeTimeout bounds one WebSocket send so a stalled client cannot block
// the forwarding goroutine.
const defaultWriteTimeout = 5 * time.Second

// UpdateSource is the slice of the status monitor the manager consumes.
type UpdateSource interface {
	Subscribe(jobID string) (<-chan monitor.Update, func())
	GetProgress(jobID string) (monitor.Update, bool)
}

// ConnectionManager tracks live WebSocket connections per job.
type ConnectionManager struct {
	source       UpdateSource
	writeTimeout time.Duration
	logger       *slog.Logger

	mu          sync.RWMutex
	connections map[string]*connection
}

type connection struct {
	id     string
	jobID  string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// clientMessage is the only inbound protocol: pings.
type clientMessage struct {
	Action string `json:"action"`
}

// NewConnectionManager creates a manager over the given update source.
func NewConnectionManager(source UpdateSource, logger *slog.Logger) *ConnectionManager {
	return &ConnectionManager{
		source:       source,
		writeTimeout: defaultWriteTimeout,
		logger:       logger,
		connections:  map[string]*connection{},
	}
}

// ActiveConnections returns the number of open WebSocket connections.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// HandleConnection follows one job over an upgraded WebSocket. Blocks until
// the job reaches a terminal status or the client disconnects.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, jobID string) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &connection{
		id:     uuid.New().String(),
		jobID:  jobID,
		conn:   conn,
		ctx:    ctx,
		cancel: cancel,
	}

	m.register(c)
	defer m.unregister(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.id,
		"job_id":        jobID,
	})

	updates, unsubscribe := m.source.Subscribe(jobID)
	defer unsubscribe()

	// Late subscribers get the last known progress immediately.
	if last, ok := m.source.GetProgress(jobID); ok {
		m.sendUpdate(c, last)
	}

	// Forward monitor updates; the read loop below owns connection teardown.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					cancel()
					return
				}
				m.sendUpdate(c, update)
				if terminalStatus(update.Status) {
					_ = conn.Close(websocket.StatusNormalClosure, "job finished")
					cancel()
					return
				}
			}
		}
	}()

	// Read loop: pings only, everything else is ignored. Exits when the
	// client disconnects or the forwarder closed the socket.
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Warn("Invalid WebSocket message",
				"connection_id", c.id, "error", err)
			continue
		}
		if msg.Action == "ping" {
			m.sendJSON(c, map[string]string{"type": "pong"})
		}
	}
}

func terminalStatus(status string) bool {
	return status == monitor.StatusCompleted || status == monitor.StatusFailed
}

func (m *ConnectionManager) register(c *connection) {
	m.mu.Lock()
	m.connections[c.id] = c
	m.mu.Unlock()
}

func (m *ConnectionManager) unregister(c *connection) {
	m.mu.Lock()
	delete(m.connections, c.id)
	m.mu.Unlock()
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) sendUpdate(c *connection, update monitor.Update) {
	m.sendJSON(c, map[string]any{
		"type":   "job.update",
		"job_id": c.jobID,
		"data":   update,
	})
}

func (m *ConnectionManager) sendJSON(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		m.logger.Warn("Failed to marshal WebSocket message",
			"connection_id", c.id, "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		m.logger.Warn("Failed to send WebSocket message",
			"connection_id", c.id, "error", err)
	}
}
