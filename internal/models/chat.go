package models

import "time"

// ThreadKind identifies what a conversation hangs off.
type ThreadKind string

const (
	// ThreadHandoff is a conversation opened around a ride request.
	ThreadHandoff ThreadKind = "handoff"
	// ThreadRide is the conversation of an accepted ride; its ID is the ride ID.
	ThreadRide ThreadKind = "ride"
)

const (
	ThreadActive = "active"
	ThreadClosed = "closed"
)

type Thread struct {
	ID                  string     `json:"threadId" db:"id"`
	Kind                ThreadKind `json:"kind" db:"kind"`
	RideRequestID       string     `json:"rideRequestId,omitempty" db:"ride_request_id"`
	UserID              string     `json:"userId" db:"user_id"`
	DriverID            string     `json:"driverId" db:"driver_id"`
	Status              string     `json:"status" db:"status"`
	IsActive            bool       `json:"isActive" db:"is_active"`
	LastMessage         string     `json:"lastMessage,omitempty" db:"last_message"`
	LastMessageAt       *time.Time `json:"lastMessageAt,omitempty" db:"last_message_at"`
	LastMessageSenderID string     `json:"lastMessageSenderId,omitempty" db:"last_message_sender_id"`
	UnreadUser          int        `json:"unreadCountUser" db:"unread_user"`
	UnreadDriver        int        `json:"unreadCountDriver" db:"unread_driver"`
	CreatedAt           time.Time  `json:"createdAt" db:"created_at"`
	UpdatedAt           time.Time  `json:"updatedAt" db:"updated_at"`
}

// RoleOf returns the role actorID holds in the thread.
func (t *Thread) RoleOf(actorID string) Role {
	switch {
	case actorID == "":
		return RoleNone
	case t.UserID == actorID:
		return RoleRider
	case t.DriverID == actorID:
		return RoleDriver
	default:
		return RoleNone
	}
}

const (
	MessageText     = "text"
	MessageImage    = "image"
	MessageFile     = "file"
	MessageLocation = "location"
	MessageSystem   = "system"
)

// DeletedMarker replaces the body of a soft-deleted message.
const DeletedMarker = "[Message deleted]"

type Message struct {
	ID               string     `json:"messageId" db:"id"`
	ThreadID         string     `json:"threadId" db:"thread_id"`
	Kind             ThreadKind `json:"kind" db:"kind"`
	SenderID         string     `json:"senderId" db:"sender_id"`
	SenderRole       Role       `json:"senderType" db:"sender_role"`
	Body             string     `json:"message" db:"body"`
	Type             string     `json:"messageType" db:"message_type"`
	FileURL          string     `json:"fileUrl,omitempty" db:"file_url"`
	FileName         string     `json:"fileName,omitempty" db:"file_name"`
	ReplyToMessageID string     `json:"replyToMessageId,omitempty" db:"reply_to_message_id"`
	IsRead           bool       `json:"isRead" db:"is_read"`
	ReadAt           *time.Time `json:"readAt,omitempty" db:"read_at"`
	IsDeleted        bool       `json:"isDeleted" db:"is_deleted"`
	DeletedAt        *time.Time `json:"deletedAt,omitempty" db:"deleted_at"`
	CreatedAt        time.Time  `json:"createdAt" db:"created_at"`
}
