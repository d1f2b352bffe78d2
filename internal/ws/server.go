// Package ws serves the per-conversation WebSocket subscription endpoint.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/tempora-app/tempora/internal/config"
	"github.com/tempora-app/tempora/internal/domain"
	"github.com/tempora-app/tempora/internal/hub"
	"github.com/tempora-app/tempora/internal/store"
)

// Server handles WebSocket subscriber connections. Subscribers are read-only:
// they receive the join-time snapshot and every subsequent accepted mutation,
// and send nothing but control frames.
type Server struct {
	cfg      *config.Config
	hub      *hub.Hub
	store    store.Store
	upgrader websocket.Upgrader
}

// NewServer creates a new WebSocket server.
func NewServer(cfg *config.Config, h *hub.Hub, st store.Store) *Server {
	return &Server{
		cfg:   cfg,
		hub:   h,
		store: st,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Allow all origins for MVP
				return true
			},
		},
	}
}

// HandleWebSocket upgrades the request and joins the conversation's group.
// The connection joins its group before the snapshot is read, then Activate
// queues the snapshot ahead of any live events, so a late joiner sees full
// history first and misses nothing accepted after the join.
func (s *Server) HandleWebSocket(c echo.Context) error {
	conversationID := c.Param("conversation_id")

	if _, err := s.store.GetConversation(c.Request().Context(), conversationID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load conversation")
	}

	ws, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return err
	}

	conn := s.hub.NewConnection(ws, conversationID)
	s.hub.Register(conn)

	// Read after joining: anything newer than this snapshot reaches the
	// connection as a buffered or live event.
	conv, err := s.store.GetConversation(context.Background(), conversationID)
	if err != nil {
		log.Printf("ERROR: failed to load snapshot for %s: %v", conversationID, err)
		s.hub.Unregister(conn)
		ws.Close()
		return nil
	}
	snapshot, err := json.Marshal(domain.NewSnapshotEvent(*conv))
	if err != nil {
		log.Printf("ERROR: failed to encode snapshot for %s: %v", conversationID, err)
		s.hub.Unregister(conn)
		ws.Close()
		return nil
	}
	var afterSeq int64
	if n := len(conv.Messages); n > 0 {
		afterSeq = conv.Messages[n-1].Seq
	}
	if err := s.hub.Activate(conn, snapshot, afterSeq); err != nil {
		log.Printf("ERROR: failed to activate subscriber for %s: %v", conversationID, err)
		s.hub.Unregister(conn)
		ws.Close()
		return nil
	}

	ws.SetReadLimit(s.cfg.MaxMessageSize)

	go s.writePump(conn)
	go s.readPump(conn)

	return nil
}

// readPump drains the connection. Subscribers have no application messages;
// reading only services pong frames and detects the close.
func (s *Server) readPump(conn *hub.Connection) {
	defer func() {
		s.hub.Unregister(conn)
		conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
	conn.Conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		return nil
	})

	for {
		if _, _, err := conn.Conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}
	}
}

// writePump forwards queued events to the socket and keeps the connection
// alive with pings.
func (s *Server) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case message, ok := <-conn.Send:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				// Hub closed the channel
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("Failed to write message: %v", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
