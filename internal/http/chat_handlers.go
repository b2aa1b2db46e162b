package httpapi

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/example/ride-dispatch/internal/chat"
	"github.com/example/ride-dispatch/internal/hub"
	"github.com/example/ride-dispatch/internal/models"
)

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	role := models.RoleRider
	switch strings.ToLower(r.URL.Query().Get("userType")) {
	case "driver":
		role = models.RoleDriver
	case "", "user", "passenger":
	default:
		role = models.RoleNone
	}
	threads, err := s.chat.ThreadsFor(r.Context(), actorFrom(r.Context()), role)
	if threads == nil {
		threads = []models.Thread{}
	}
	s.respond(w, r, "Threads retrieved successfully", "Failed to get threads", threads, err)
}

func (s *Server) handleThread(w http.ResponseWriter, r *http.Request) {
	t, err := s.chat.Thread(r.Context(), actorFrom(r.Context()), mux.Vars(r)["threadId"])
	s.respond(w, r, "Thread retrieved successfully", "Failed to get thread", t, err)
}

func (s *Server) handleThreadByRequest(w http.ResponseWriter, r *http.Request) {
	t, err := s.chat.ThreadByRideRequest(r.Context(), actorFrom(r.Context()), mux.Vars(r)["rideRequestId"])
	s.respond(w, r, "Thread retrieved successfully", "Failed to get thread", t, err)
}

func (s *Server) handleThreadMessages(w http.ResponseWriter, r *http.Request) {
	page, err := s.chat.Messages(r.Context(), models.ThreadHandoff, mux.Vars(r)["threadId"], actorFrom(r.Context()),
		queryInt(r, "page", 1), queryInt(r, "limit", 50))
	s.respond(w, r, "Messages retrieved successfully", "Failed to get messages", page, err)
}

func (s *Server) handleRideMessages(w http.ResponseWriter, r *http.Request) {
	page, err := s.chat.Messages(r.Context(), models.ThreadRide, mux.Vars(r)["rideId"], actorFrom(r.Context()),
		queryInt(r, "page", 1), queryInt(r, "limit", 50))
	s.respond(w, r, "Ride messages retrieved successfully", "Failed to get ride messages", page, err)
}

func (s *Server) handleCloseThread(w http.ResponseWriter, r *http.Request) {
	err := s.chat.CloseThread(r.Context(), actorFrom(r.Context()), mux.Vars(r)["threadId"])
	s.respond(w, r, "Thread closed successfully", "Failed to close thread", nil, err)
}

func (s *Server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	err := s.chat.DeleteMessage(r.Context(), mux.Vars(r)["messageId"], actorFrom(r.Context()))
	s.respond(w, r, "Message deleted successfully", "Failed to delete message", nil, err)
}

type markReadBody struct {
	ThreadID   string   `json:"threadId"`
	RideID     string   `json:"rideId"`
	MessageIDs []string `json:"messageIds"`
}

// handleMarkRead takes a threadId for handoff conversations or a rideId for
// ride conversations. The receipt is pushed to the conversation's room.
func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	var in markReadBody
	if !s.decode(w, r, &in) {
		return
	}
	kind, owner, room := models.ThreadHandoff, in.ThreadID, hub.ChatThreadGroup(in.ThreadID)
	if in.RideID != "" {
		kind, owner, room = models.ThreadRide, in.RideID, hub.RideChatGroup(in.RideID)
	}
	rc, err := s.chat.MarkRead(r.Context(), kind, owner, actorFrom(r.Context()), in.MessageIDs)
	if err == nil && s.hub != nil {
		s.hub.Broadcast(room, chat.EventMessagesRead, rc)
	}
	s.respond(w, r, "Messages marked as read", "Failed to mark messages as read", rc, err)
}
