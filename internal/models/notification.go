package models

import "time"

type NotificationType string

const (
	NotifyRideRequest         NotificationType = "ride_request"
	NotifyRideAccepted        NotificationType = "ride_accepted"
	NotifyRideCancelled       NotificationType = "ride_cancelled"
	NotifyRideCompleted       NotificationType = "ride_completed"
	NotifyDriverArrived       NotificationType = "driver_arrived"
	NotifyMessageReceived     NotificationType = "message_received"
	NotifyBidAccepted         NotificationType = "bid_accepted"
	NotifyRideConfirmed       NotificationType = "ride_confirmed"
	NotifyDriverReachedPickup NotificationType = "driver_reached_pickup"
	NotifyRideStarted         NotificationType = "ride_started"
)

type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"recipientId"`
	Type        NotificationType `json:"type"`
	Title       string           `json:"title"`
	Message     string           `json:"message"`
	RideID      string           `json:"rideId,omitempty"`
	SenderID    string           `json:"senderId,omitempty"`
	Data        map[string]any   `json:"data,omitempty"`
	Delivered   bool             `json:"delivered"`
	DeliveredAt *time.Time       `json:"deliveredAt,omitempty"`
	CreatedAt   time.Time        `json:"timestamp"`
}

// Profile is the slice of a user record the dispatch core reads.
type Profile struct {
	ID          string `json:"id" db:"id"`
	FullName    string `json:"fullName" db:"full_name"`
	PhoneNumber string `json:"phoneNumber" db:"phone_number"`
}

// DisplayName falls back to fallback when the profile has no name.
func (p *Profile) DisplayName(fallback string) string {
	if p == nil || p.FullName == "" {
		return fallback
	}
	return p.FullName
}

type Vehicle struct {
	ID           string `json:"id" db:"id"`
	UserID       string `json:"userId" db:"user_id"`
	LicensePlate string `json:"licensePlateNum" db:"license_plate"`
	MakeModel    string `json:"makeModel" db:"make_model"`
	Category     string `json:"category" db:"category"`
	Active       bool   `json:"isActive" db:"is_active"`
}
