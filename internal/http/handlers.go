package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/chat"
	"github.com/example/ride-dispatch/internal/fault"
	"github.com/example/ride-dispatch/internal/gateway"
	"github.com/example/ride-dispatch/internal/hub"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/rides"
)

// Notifications is the pull side of the notification dispatcher.
type Notifications interface {
	Pending(ctx context.Context, actorID string, limit int) ([]models.Notification, error)
}

type Deps struct {
	Rides         *rides.Service
	Chat          *chat.Service
	Notifications Notifications
	Gateway       *gateway.Gateway
	Hub           *hub.Hub
	// Verifier checks bearer tokens on the REST surface.
	Verifier auth.Verifier
	// Authenticator identifies live connections at handshake time.
	Authenticator *auth.Authenticator
	SendBuffer    int
	Logger        *slog.Logger
}

type Server struct {
	rides         *rides.Service
	chat          *chat.Service
	notifications Notifications
	gateway       *gateway.Gateway
	hub           *hub.Hub
	verifier      auth.Verifier
	authn         *auth.Authenticator
	sendBuffer    int
	logger        *slog.Logger
	mux           *mux.Router
}

func NewServer(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		rides:         d.Rides,
		chat:          d.Chat,
		notifications: d.Notifications,
		gateway:       d.Gateway,
		hub:           d.Hub,
		verifier:      d.Verifier,
		authn:         d.Authenticator,
		sendBuffer:    d.SendBuffer,
		logger:        logger,
		mux:           mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws", s.handleWS).Methods(http.MethodGet)

	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.Use(s.authMiddleware)

	rd := api.PathPrefix("/rides").Subrouter()
	rd.HandleFunc("/request", trigger(s, "Ride request sent to available drivers", "Failed to create ride request", s.rides.CreateRequest)).Methods(http.MethodPost)
	rd.HandleFunc("/bid", trigger(s, "Driver bid submitted successfully", "Failed to submit bid", s.rides.SubmitBid)).Methods(http.MethodPost)
	rd.HandleFunc("/accept-bid", trigger(s, "Driver bid accepted successfully", "Failed to accept bid", s.rides.AcceptBid)).Methods(http.MethodPost)
	rd.HandleFunc("/reached-pickup", trigger(s, "Pickup point reached successfully", "Failed to update pickup status", s.rides.ReachedPickup)).Methods(http.MethodPost)
	rd.HandleFunc("/start", trigger(s, "Ride started successfully", "Failed to start ride", s.rides.StartRide)).Methods(http.MethodPost)
	rd.HandleFunc("/completed", trigger(s, "Ride completed successfully", "Failed to complete ride", s.rides.CompleteRide)).Methods(http.MethodPost)
	rd.HandleFunc("/update-location", trigger(s, "Ride location updated successfully", "Failed to update ride location", s.rides.UpdateLocation)).Methods(http.MethodPost)
	rd.HandleFunc("/cancel", trigger(s, "Ride cancelled successfully", "Failed to cancel ride", s.rides.CancelRide)).Methods(http.MethodPost)
	rd.HandleFunc("/{rideId}/cancel", s.handleCancelByPath).Methods(http.MethodPost)

	ch := api.PathPrefix("/chat").Subrouter()
	ch.HandleFunc("/thread", trigger(s, "Chat thread created successfully", "Failed to create chat thread", s.chat.CreateThread)).Methods(http.MethodPost)
	ch.HandleFunc("/threads", s.handleThreads).Methods(http.MethodGet)
	ch.HandleFunc("/thread/ride-request/{rideRequestId}", s.handleThreadByRequest).Methods(http.MethodGet)
	ch.HandleFunc("/thread/{threadId}", s.handleThread).Methods(http.MethodGet)
	ch.HandleFunc("/thread/{threadId}/messages", s.handleThreadMessages).Methods(http.MethodGet)
	ch.HandleFunc("/thread/{threadId}/close", s.handleCloseThread).Methods(http.MethodPost)
	ch.HandleFunc("/message", trigger(s, "Message sent successfully", "Failed to send message", s.chat.SendThreadMessage)).Methods(http.MethodPost)
	ch.HandleFunc("/message/{messageId}/delete", s.handleDeleteMessage).Methods(http.MethodPost)
	ch.HandleFunc("/messages/read", s.handleMarkRead).Methods(http.MethodPost)
	ch.HandleFunc("/ride/message", trigger(s, "Ride message sent successfully", "Failed to send ride message", s.chat.SendRideMessage)).Methods(http.MethodPost)
	ch.HandleFunc("/ride/{rideId}/messages", s.handleRideMessages).Methods(http.MethodGet)

	api.HandleFunc("/notifications/pending", s.handlePending).Methods(http.MethodGet)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// envelope is the body of every API answer.
type envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// respond maps a service result onto the envelope. Refusals are answered
// with 200 and success=false; anything else is a 500.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, okMsg, failMsg string, data any, err error) {
	if err == nil {
		writeJSON(w, http.StatusOK, envelope{Success: true, Message: okMsg, Data: data})
		return
	}
	if f, ok := fault.As(err); ok {
		detail := f.Detail
		if detail == "" {
			detail = f.Message
		}
		writeJSON(w, http.StatusOK, envelope{Message: f.Message, Error: detail})
		return
	}
	s.logger.Error(failMsg, "route", routeTemplate(r), "actor_id", actorFrom(r.Context()), "request_id", requestIDFromContext(r.Context()), "error", err)
	writeJSON(w, http.StatusInternalServerError, envelope{Message: failMsg, Error: "internal error"})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(v); err != nil {
		msg := err.Error()
		if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		writeJSON(w, http.StatusBadRequest, envelope{Message: "Invalid request body", Error: msg})
		return false
	}
	return true
}

// trigger adapts an authenticated service call taking a JSON body.
func trigger[In, Out any](s *Server, okMsg, failMsg string, fn func(context.Context, string, In) (Out, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in In
		if !s.decode(w, r, &in) {
			return
		}
		out, err := fn(r.Context(), actorFrom(r.Context()), in)
		s.respond(w, r, okMsg, failMsg, out, err)
	}
}

func (s *Server) handleCancelByPath(w http.ResponseWriter, r *http.Request) {
	var in rides.CancelInput
	if !s.decode(w, r, &in) {
		return
	}
	in.RideID = mux.Vars(r)["rideId"]
	res, err := s.rides.CancelRide(r.Context(), actorFrom(r.Context()), in)
	s.respond(w, r, "Ride cancelled successfully", "Failed to cancel ride", res, err)
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	out, err := s.notifications.Pending(r.Context(), actorFrom(r.Context()), limit)
	if out == nil {
		out = []models.Notification{}
	}
	s.respond(w, r, "Pending notifications retrieved successfully", "Failed to get notifications", out, err)
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
