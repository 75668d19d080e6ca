package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/capitalize-ai/ai-pipeline/internal/model"
)

const sendBuffer = 64

// ErrConnClosed is returned when sending to a closed connection.
var ErrConnClosed = errors.New("connection closed")

// Conn is one admitted client session. Outbound frames are queued on a
// single FIFO channel drained by one writer.
type Conn struct {
	ID          string
	IdentityID  string
	ConnectedAt time.Time

	send   chan model.Envelope
	ctx    context.Context
	cancel context.CancelFunc

	// rooms is guarded by the owning Hub's lock.
	rooms map[string]struct{}

	mu      sync.Mutex
	streams map[string]context.CancelFunc
}

// NewConn creates a connection for identityID. Cancelling parent closes it.
func NewConn(parent context.Context, identityID string) *Conn {
	ctx, cancel := context.WithCancel(parent)
	return &Conn{
		ID:          uuid.Must(uuid.NewV7()).String(),
		IdentityID:  identityID,
		ConnectedAt: time.Now().UTC(),
		send:        make(chan model.Envelope, sendBuffer),
		ctx:         ctx,
		cancel:      cancel,
		rooms:       make(map[string]struct{}),
		streams:     make(map[string]context.CancelFunc),
	}
}

// Outbound is the queue the writer drains.
func (c *Conn) Outbound() <-chan model.Envelope {
	return c.send
}

// Done is closed when the connection is torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.ctx.Done()
}

// Close tears the connection down and cancels every stream it owns.
func (c *Conn) Close() {
	c.cancel()
}

// Entry is the registry record for this connection.
func (c *Conn) Entry() model.Connection {
	return model.Connection{SocketID: c.ID, IdentityID: c.IdentityID, ConnectedAt: c.ConnectedAt}
}

// TrySend queues env without blocking. It reports false when the buffer is
// full or the connection is closed.
func (c *Conn) TrySend(env model.Envelope) bool {
	select {
	case <-c.ctx.Done():
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// Send queues env, waiting for buffer space until the connection closes.
func (c *Conn) Send(env model.Envelope) error {
	select {
	case <-c.ctx.Done():
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	case <-c.ctx.Done():
		return ErrConnClosed
	}
}

// beginStream registers a stream for conversationID and returns its
// context, or false when one is already active.
func (c *Conn) beginStream(conversationID string) (context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.streams[conversationID]; ok {
		return nil, false
	}
	ctx, cancel := context.WithCancel(c.ctx)
	c.streams[conversationID] = cancel
	return ctx, true
}

func (c *Conn) endStream(conversationID string) {
	c.mu.Lock()
	cancel, ok := c.streams[conversationID]
	delete(c.streams, conversationID)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

// cancelStream cancels the active stream for conversationID, if any.
func (c *Conn) cancelStream(conversationID string) bool {
	c.mu.Lock()
	cancel, ok := c.streams[conversationID]
	c.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// activeStreams returns the number of in-flight streams.
func (c *Conn) activeStreams() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.streams)
}
