// Package hub provides per-conversation fan-out to WebSocket subscribers.
package hub

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// maxBuffered caps events held for a connection between joining its group
// and activation.
const maxBuffered = 256

// Connection represents a single subscriber connection. A connection belongs
// to exactly one conversation's broadcast group for its whole lifetime.
//
// A new connection starts in a buffering state: publishes are held back until
// Activate queues the join-time snapshot and replays the buffer. An append
// landing between the snapshot read and activation is buffered, not lost,
// and events already covered by the snapshot are filtered out by sequence
// number.
type Connection struct {
	ID             string
	ConversationID string
	Conn           *websocket.Conn
	Send           chan []byte

	writeMu sync.Mutex

	stateMu  sync.Mutex
	live     bool
	closed   bool
	buffered [][]byte
}

// deliver queues one published event. Returns false when the subscriber can
// no longer keep up and should be dropped.
func (c *Connection) deliver(data []byte) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if c.closed {
		return true
	}
	if !c.live {
		if len(c.buffered) >= maxBuffered {
			return false
		}
		c.buffered = append(c.buffered, data)
		return true
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// Hub manages subscriber connections grouped by conversation id.
//
// Delivery is best-effort per subscriber: a full send buffer drops that
// subscriber instead of blocking publishes to the rest of the group. The
// store is the durability authority; the hub only mirrors accepted mutations.
type Hub struct {
	// Connections indexed by connection ID
	connections map[string]*Connection

	// groups maps conversation_id to the set of connection IDs joined to it
	groups map[string]map[string]bool

	register   chan *registration
	unregister chan *Connection
	publish    chan *groupMessage

	mu sync.RWMutex
}

type registration struct {
	conn *Connection
	done chan struct{}
}

type groupMessage struct {
	conversationID string
	data           []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		groups:      make(map[string]map[string]bool),
		register:    make(chan *registration),
		unregister:  make(chan *Connection),
		publish:     make(chan *groupMessage, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case reg := <-h.register:
			conn := reg.conn
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if h.groups[conn.ConversationID] == nil {
				h.groups[conn.ConversationID] = make(map[string]bool)
			}
			h.groups[conn.ConversationID][conn.ID] = true
			h.mu.Unlock()
			close(reg.done)
			log.Printf("Subscriber joined: %s (conversation: %s)", conn.ID, conn.ConversationID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if group := h.groups[conn.ConversationID]; group != nil {
					delete(group, conn.ID)
					if len(group) == 0 {
						delete(h.groups, conn.ConversationID)
					}
				}
				conn.markClosed()
			}
			h.mu.Unlock()
			log.Printf("Subscriber left: %s", conn.ID)

		case msg := <-h.publish:
			h.mu.RLock()
			for connID := range h.groups[msg.conversationID] {
				conn, exists := h.connections[connID]
				if !exists {
					continue
				}
				if !conn.deliver(msg.data) {
					// Slow subscriber, drop it rather than stall the group.
					log.Printf("Subscriber %s buffer full, closing", connID)
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection creates a connection bound to one conversation's group. The
// connection buffers publishes until Activate is called.
func (h *Hub) NewConnection(ws *websocket.Conn, conversationID string) *Connection {
	return &Connection{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Conn:           ws,
		Send:           make(chan []byte, 256),
	}
}

// Register adds a connection to its conversation's group. It returns once
// the connection is joined, so a snapshot read after Register sees a state
// no newer than the first buffered event.
func (h *Hub) Register(conn *Connection) {
	reg := &registration{conn: conn, done: make(chan struct{})}
	h.register <- reg
	<-reg.done
}

// Unregister removes a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Activate queues the join-time snapshot, replays events buffered since
// Register that the snapshot does not already cover, and switches the
// connection to live delivery. afterSeq is the highest message sequence
// contained in the snapshot.
func (h *Hub) Activate(conn *Connection, snapshot []byte, afterSeq int64) error {
	conn.stateMu.Lock()
	defer conn.stateMu.Unlock()

	if conn.closed {
		return ErrBufferFull
	}
	select {
	case conn.Send <- snapshot:
	default:
		return ErrBufferFull
	}
	for _, data := range conn.buffered {
		if seq, ok := eventSeq(data); ok && seq <= afterSeq {
			continue
		}
		select {
		case conn.Send <- data:
		default:
			return ErrBufferFull
		}
	}
	conn.buffered = nil
	conn.live = true
	return nil
}

// markClosed closes the send channel under the same lock that guards sends,
// so no deliver or Activate can write to a closed channel.
func (c *Connection) markClosed() {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}

// eventSeq extracts the message sequence from a published event payload.
// Events without a sequence (renames, snapshots) report false.
func eventSeq(data []byte) (int64, bool) {
	var event struct {
		Message struct {
			Seq int64 `json:"seq"`
		} `json:"message"`
	}
	if err := json.Unmarshal(data, &event); err != nil || event.Message.Seq == 0 {
		return 0, false
	}
	return event.Message.Seq, true
}

// Publish sends raw data to every subscriber of a conversation.
func (h *Hub) Publish(conversationID string, data []byte) {
	h.publish <- &groupMessage{conversationID: conversationID, data: data}
}

// PublishJSON marshals v and publishes it to a conversation's group.
func (h *Hub) PublishJSON(conversationID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.Publish(conversationID, data)
	return nil
}

// SubscriberCount returns the number of subscribers for a conversation.
func (h *Hub) SubscriberCount(conversationID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[conversationID])
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// SetWriteDeadline sets the write deadline for the connection.
func (c *Connection) SetWriteDeadline(t time.Time) error {
	return c.Conn.SetWriteDeadline(t)
}

// SetReadDeadline sets the read deadline for the connection.
func (c *Connection) SetReadDeadline(t time.Time) error {
	return c.Conn.SetReadDeadline(t)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}

// ErrBufferFull is returned when the send buffer is full.
var ErrBufferFull = &BufferFullError{}

// BufferFullError represents a buffer full error.
type BufferFullError struct{}

func (e *BufferFullError) Error() string {
	return "send buffer full"
}
