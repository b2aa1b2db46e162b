// Package chat persists and delivers conversations. Handoff threads hang off
// a ride request; ride threads hang off an accepted ride and share its ID.
// Both kinds go through the same send, read and delete paths.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/fault"
	"github.com/example/ride-dispatch/internal/hub"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

const (
	EventNewChatMessage = "new_chat_message"
	EventNewRideMessage = "new_ride_message"
	EventMessagesRead   = "messages_read"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

type Store interface {
	storage.ThreadStore
	storage.MessageStore
	GetRide(ctx context.Context, id string) (*models.Ride, error)
}

// Gate is the membership oracle, see access.Gate.
type Gate interface {
	IsMember(ctx context.Context, rideID, actorID string) bool
	RoleInThread(ctx context.Context, threadID, actorID string) models.Role
	RoleInRide(ctx context.Context, rideID, actorID string) models.Role
}

type Rooms interface {
	Broadcast(g hub.Group, event string, payload any) int
}

var (
	errThreadDenied = fault.New(fault.Unauthorized, "User not authorized for this chat thread", "")
	errRideDenied   = fault.New(fault.Unauthorized, "User not authorized for this ride", "")
	errEmptyMessage = fault.New(fault.Validation, "Invalid message", "Message body or file is required")
)

type Service struct {
	store  Store
	gate   Gate
	rooms  Rooms
	logger *slog.Logger

	now   func() time.Time
	newID func() string
}

func New(store Store, gate Gate, rooms Rooms, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, gate: gate, rooms: rooms, logger: logger, now: time.Now, newID: uuid.NewString}
}

type CreateThreadInput struct {
	RideRequestID  string `json:"rideRequestId"`
	UserID         string `json:"userId"`
	DriverID       string `json:"driverId"`
	InitialMessage string `json:"initialMessage"`
}

// CreateThread opens a handoff conversation between a rider and a driver.
// Creating it again for the same request and pair returns the existing one.
func (s *Service) CreateThread(ctx context.Context, actorID string, in CreateThreadInput) (*models.Thread, error) {
	if in.RideRequestID == "" || in.UserID == "" || in.DriverID == "" {
		return nil, fault.New(fault.Validation, "Invalid chat thread", "Ride request, user and driver IDs are required")
	}
	if in.UserID == in.DriverID {
		return nil, fault.New(fault.Validation, "Invalid chat thread", "User and driver must differ")
	}
	if actorID != in.UserID && actorID != in.DriverID {
		return nil, errThreadDenied
	}

	existing, err := s.store.ThreadByRideRequest(ctx, in.RideRequestID)
	switch {
	case err == nil:
		if existing.UserID == in.UserID && existing.DriverID == in.DriverID {
			return existing, nil
		}
		return nil, fault.New(fault.Conflict, "Chat thread already exists", "Another conversation is open for this ride request")
	case !errors.Is(err, storage.ErrNotFound):
		return nil, fmt.Errorf("lookup thread for request %s: %w", in.RideRequestID, err)
	}

	now := s.now()
	t := &models.Thread{
		ID:            s.newID(),
		Kind:          models.ThreadHandoff,
		RideRequestID: in.RideRequestID,
		UserID:        in.UserID,
		DriverID:      in.DriverID,
		Status:        models.ThreadActive,
		IsActive:      true,
		LastMessageAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateThread(ctx, t); err != nil {
		return nil, fmt.Errorf("create thread: %w", err)
	}
	s.logger.Info("chat thread created", "thread_id", t.ID, "ride_request_id", in.RideRequestID)

	if body := strings.TrimSpace(in.InitialMessage); body != "" {
		msg, err := s.persist(ctx, t, in.UserID, models.RoleRider, MessageInput{Message: body})
		if err != nil {
			return nil, err
		}
		s.rooms.Broadcast(hub.ChatThreadGroup(t.ID), EventNewChatMessage, msg)
		if t, err = s.store.GetThread(ctx, t.ID); err != nil {
			return nil, fmt.Errorf("reload thread: %w", err)
		}
	}
	return t, nil
}

// Thread returns a conversation the actor takes part in.
func (s *Service) Thread(ctx context.Context, actorID, threadID string) (*models.Thread, error) {
	if s.gate.RoleInThread(ctx, threadID, actorID) == models.RoleNone {
		return nil, errThreadDenied
	}
	return s.loadThread(ctx, threadID)
}

func (s *Service) ThreadByRideRequest(ctx context.Context, actorID, rideRequestID string) (*models.Thread, error) {
	t, err := s.store.ThreadByRideRequest(ctx, rideRequestID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fault.New(fault.NotFound, "No chat thread found for this ride request", "")
	}
	if err != nil {
		return nil, fmt.Errorf("lookup thread for request %s: %w", rideRequestID, err)
	}
	if t.RoleOf(actorID) == models.RoleNone {
		return nil, errThreadDenied
	}
	return t, nil
}

// ThreadsFor lists the actor's conversations under role, most recent first.
func (s *Service) ThreadsFor(ctx context.Context, actorID string, role models.Role) ([]models.Thread, error) {
	if role != models.RoleRider && role != models.RoleDriver {
		return nil, fault.New(fault.Validation, "Invalid user type", "User type must be passenger or driver")
	}
	return s.store.ThreadsFor(ctx, actorID, role)
}

func (s *Service) CloseThread(ctx context.Context, actorID, threadID string) error {
	if s.gate.RoleInThread(ctx, threadID, actorID) == models.RoleNone {
		return errThreadDenied
	}
	if err := s.store.CloseThread(ctx, threadID); err != nil {
		return fmt.Errorf("close thread %s: %w", threadID, err)
	}
	s.logger.Info("chat thread closed", "thread_id", threadID, "actor_id", actorID)
	return nil
}

func (s *Service) loadThread(ctx context.Context, id string) (*models.Thread, error) {
	t, err := s.store.GetThread(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fault.New(fault.NotFound, "Chat thread not found", "")
	}
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", id, err)
	}
	return t, nil
}

// MessageInput is the body shared by thread and ride sends.
type MessageInput struct {
	ThreadID         string `json:"threadId,omitempty"`
	RideID           string `json:"rideId,omitempty"`
	Message          string `json:"message"`
	MessageType      string `json:"messageType,omitempty"`
	FileURL          string `json:"fileUrl,omitempty"`
	FileName         string `json:"fileName,omitempty"`
	ReplyToMessageID string `json:"replyToMessageId,omitempty"`
}

func (in MessageInput) empty() bool {
	return strings.TrimSpace(in.Message) == "" && in.FileURL == ""
}

// SendThreadMessage posts into a conversation the actor takes part in and
// pushes it to the thread's room.
func (s *Service) SendThreadMessage(ctx context.Context, actorID string, in MessageInput) (*models.Message, error) {
	if in.ThreadID == "" {
		return nil, fault.New(fault.Validation, "Invalid message", "Thread ID is required")
	}
	if in.empty() {
		return nil, errEmptyMessage
	}
	role := s.gate.RoleInThread(ctx, in.ThreadID, actorID)
	if role == models.RoleNone {
		return nil, errThreadDenied
	}
	t, err := s.loadThread(ctx, in.ThreadID)
	if err != nil {
		return nil, err
	}
	if !t.IsActive {
		return nil, fault.New(fault.Conflict, "Chat thread is closed", "Messages cannot be sent to a closed thread")
	}
	msg, err := s.persist(ctx, t, actorID, role, in)
	if err != nil {
		return nil, err
	}
	s.rooms.Broadcast(hub.ChatThreadGroup(t.ID), EventNewChatMessage, msg)
	return msg, nil
}

// RideMessage is a message as pushed to a ride's chat room.
type RideMessage struct {
	RideID string `json:"rideId"`
	*models.Message
}

// SendRideMessage posts into the conversation of a ride the actor belongs
// to, creating that conversation on first use.
func (s *Service) SendRideMessage(ctx context.Context, actorID string, in MessageInput) (*RideMessage, error) {
	if in.RideID == "" {
		return nil, fault.New(fault.Validation, "Invalid message", "Ride ID is required")
	}
	if in.empty() {
		return nil, errEmptyMessage
	}
	if !s.gate.IsMember(ctx, in.RideID, actorID) {
		return nil, errRideDenied
	}
	t, err := s.rideThread(ctx, in.RideID)
	if err != nil {
		return nil, err
	}
	msg, err := s.persist(ctx, t, actorID, t.RoleOf(actorID), in)
	if err != nil {
		return nil, err
	}
	out := &RideMessage{RideID: in.RideID, Message: msg}
	s.rooms.Broadcast(hub.RideChatGroup(in.RideID), EventNewRideMessage, out)
	return out, nil
}

// SystemRideMessage records a lifecycle line in a ride's conversation. The
// sender is the participant whose trigger caused it.
func (s *Service) SystemRideMessage(ctx context.Context, rideID, senderID, body string) (*models.Message, error) {
	t, err := s.rideThread(ctx, rideID)
	if err != nil {
		return nil, err
	}
	msg, err := s.persist(ctx, t, senderID, t.RoleOf(senderID), MessageInput{Message: body, MessageType: models.MessageSystem})
	if err != nil {
		return nil, err
	}
	s.rooms.Broadcast(hub.RideChatGroup(rideID), EventNewRideMessage, &RideMessage{RideID: rideID, Message: msg})
	return msg, nil
}

// rideThread loads the ride's conversation, creating it from the ride's
// participants when missing. Losing a creation race is fine: the winner's
// thread is read back.
func (s *Service) rideThread(ctx context.Context, rideID string) (*models.Thread, error) {
	t, err := s.store.GetThread(ctx, rideID)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load ride thread %s: %w", rideID, err)
	}

	now := s.now()
	t = &models.Thread{
		ID:        rideID,
		Kind:      models.ThreadRide,
		Status:    models.ThreadActive,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	ride, err := s.store.GetRide(ctx, rideID)
	switch {
	case err == nil:
		t.UserID, t.DriverID = ride.PassengerID, ride.DriverID
	case errors.Is(err, storage.ErrNotFound):
		// only reachable when malformed ride IDs are let through
		s.logger.Warn("ride thread without a ride record", "ride_id", rideID)
	default:
		return nil, fmt.Errorf("load ride %s: %w", rideID, err)
	}

	if err := s.store.CreateThread(ctx, t); err != nil {
		if errors.Is(err, storage.ErrConflict) {
			return s.store.GetThread(ctx, rideID)
		}
		return nil, fmt.Errorf("create ride thread %s: %w", rideID, err)
	}
	return t, nil
}

func (s *Service) persist(ctx context.Context, t *models.Thread, senderID string, role models.Role, in MessageInput) (*models.Message, error) {
	msgType := in.MessageType
	if msgType == "" {
		msgType = models.MessageText
	}
	msg := &models.Message{
		ID:               s.newID(),
		ThreadID:         t.ID,
		Kind:             t.Kind,
		SenderID:         senderID,
		SenderRole:       role,
		Body:             in.Message,
		Type:             msgType,
		FileURL:          in.FileURL,
		FileName:         in.FileName,
		ReplyToMessageID: in.ReplyToMessageID,
		CreatedAt:        s.now(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save message: %w", err)
	}
	if err := s.store.RecordMessage(ctx, t.ID, senderID, role, summary(msg), msg.CreatedAt); err != nil {
		// the message is stored; a stale summary is not worth failing the send
		s.logger.Error("update thread summary", "thread_id", t.ID, "error", err)
	}
	observability.ChatMessagesTotal.WithLabelValues(string(t.Kind)).Inc()
	return msg, nil
}

func summary(m *models.Message) string {
	if m.Body == "" && m.FileName != "" {
		return m.FileName
	}
	return m.Body
}

// ReadReceipt is what peers see after a mark-as-read.
type ReadReceipt struct {
	ThreadID   string    `json:"threadId"`
	MessageIDs []string  `json:"messageIds"`
	ReadBy     string    `json:"readBy"`
	Marked     int       `json:"marked"`
	Timestamp  time.Time `json:"timestamp"`
}

// MarkRead flags messages of a conversation as read by the actor and clears
// the actor's unread counter. Messages the actor wrote are never flipped.
// ownerID is the thread ID, or the ride ID for ride conversations.
func (s *Service) MarkRead(ctx context.Context, kind models.ThreadKind, ownerID, actorID string, messageIDs []string) (*ReadReceipt, error) {
	if ownerID == "" {
		return nil, fault.New(fault.Validation, "Invalid read receipt", "Thread ID is required")
	}
	var role models.Role
	if kind == models.ThreadRide {
		role = s.gate.RoleInRide(ctx, ownerID, actorID)
		if role == models.RoleNone {
			return nil, errRideDenied
		}
	} else {
		role = s.gate.RoleInThread(ctx, ownerID, actorID)
		if role == models.RoleNone {
			return nil, errThreadDenied
		}
	}

	now := s.now()
	n, err := s.store.MarkRead(ctx, ownerID, messageIDs, actorID, now)
	if err != nil {
		return nil, fmt.Errorf("mark read in %s: %w", ownerID, err)
	}
	if err := s.store.ResetUnread(ctx, ownerID, role); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("reset unread in %s: %w", ownerID, err)
	}
	return &ReadReceipt{ThreadID: ownerID, MessageIDs: messageIDs, ReadBy: actorID, Marked: n, Timestamp: now}, nil
}

// DeleteMessage soft-deletes a message its sender no longer wants shown.
// Missing and foreign messages are refused alike.
func (s *Service) DeleteMessage(ctx context.Context, messageID, actorID string) error {
	err := s.store.SoftDelete(ctx, messageID, actorID, s.now())
	if errors.Is(err, storage.ErrNotFound) {
		return fault.New(fault.NotFound, "Message not found", "Message not found or not authorized to delete")
	}
	if err != nil {
		return fmt.Errorf("delete message %s: %w", messageID, err)
	}
	s.logger.Info("chat message deleted", "message_id", messageID, "actor_id", actorID)
	return nil
}

type Pagination struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

type MessagePage struct {
	Messages   []models.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

// Messages returns one page of a conversation, newest page first and each
// page in chronological order. Deleted messages are left out.
func (s *Service) Messages(ctx context.Context, kind models.ThreadKind, ownerID, actorID string, page, limit int) (*MessagePage, error) {
	if kind == models.ThreadRide {
		if !s.gate.IsMember(ctx, ownerID, actorID) {
			return nil, errRideDenied
		}
	} else if s.gate.RoleInThread(ctx, ownerID, actorID) == models.RoleNone {
		return nil, errThreadDenied
	}
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	msgs, total, err := s.store.ListMessages(ctx, ownerID, (page-1)*limit, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages of %s: %w", ownerID, err)
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	return &MessagePage{
		Messages:   msgs,
		Pagination: Pagination{Page: page, Limit: limit, Total: total, Pages: (total + limit - 1) / limit},
	}, nil
}
