package httpapi

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/hub"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// clients are mobile apps and browsers on any origin
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWS identifies the caller before upgrading; a failed handshake never
// becomes a live connection.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	connID := uuid.NewString()
	actorID, err := s.authn.Identify(auth.HandshakeFromRequest(r), connID)
	if err != nil {
		s.logger.Warn("websocket handshake refused", "conn_id", connID, "remote_addr", remoteIP(r), "error", err)
		writeJSON(w, http.StatusUnauthorized, envelope{Message: "User not authenticated", Error: err.Error()})
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "conn_id", connID, "error", err)
		return
	}

	client := hub.NewClient(conn, s.sendBuffer)
	ctx := r.Context()
	if err := s.gateway.Connect(ctx, connID, actorID, client); err != nil {
		s.logger.Error("register connection", "conn_id", connID, "actor_id", actorID, "error", err)
		client.Close()
		_ = conn.Close()
		return
	}
	go client.WritePump()
	client.ReadPump(ctx, func(ctx context.Context, frame []byte) {
		s.gateway.Handle(ctx, connID, frame)
	})
	s.gateway.Disconnect(connID)
}
