package models

import "time"

type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Location struct {
	Address    string      `json:"address"`
	Coordinate *Coordinate `json:"coordinate,omitempty"`
}

// CurrentLocation is the last reported position of a ride.
type CurrentLocation struct {
	Address    string      `json:"address,omitempty"`
	Coordinate *Coordinate `json:"coordinate,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// RideRequest only ever exists as a broadcast payload.
type RideRequest struct {
	RideRequestID   string         `json:"rideRequestId"`
	UserID          string         `json:"userId"`
	CurrentLocation Location       `json:"currentLocation"`
	Destination     Location       `json:"destination"`
	Stops           []Location     `json:"stops,omitempty"`
	RideType        string         `json:"rideType,omitempty"`
	VehicleType     string         `json:"vehicleType,omitempty"`
	Fare            float64        `json:"fare"`
	RideDetails     map[string]any `json:"rideDetails,omitempty"`
	Timestamp       time.Time      `json:"timestamp"`
}

// Bid is a driver's offer against a RideRequest. Not persisted.
type Bid struct {
	RideRequestID           string    `json:"rideRequestId"`
	DriverID                string    `json:"driverId"`
	DriverName              string    `json:"driverName"`
	DriverPhone             string    `json:"driverPhone,omitempty"`
	BidAmount               float64   `json:"bidAmount"`
	Message                 string    `json:"message,omitempty"`
	EstimatedArrivalMinutes float64   `json:"estimatedArrivalTime"`
	VehicleType             string    `json:"vehicleType,omitempty"`
	VehicleName             string    `json:"vehicleName,omitempty"`
	VehicleNumberPlate      string    `json:"vehicleNumberPlate,omitempty"`
	Timestamp               time.Time `json:"timestamp"`
}

type Ride struct {
	ID                  string           `json:"id"`
	RideRequestID       string           `json:"rideRequestId,omitempty"`
	DriverID            string           `json:"driverId"`
	PassengerID         string           `json:"passengerId"`
	Status              RideStatus       `json:"status"`
	VehicleType         string           `json:"vehicleType"`
	PickupLocation      *Location        `json:"pickupLocation,omitempty"`
	DestinationLocation *Location        `json:"destinationLocation,omitempty"`
	Stops               []Location       `json:"stops,omitempty"`
	CurrentLocation     *CurrentLocation `json:"currentLocation,omitempty"`
	EstimatedFare       float64          `json:"estimatedFare"`
	ActualFare          float64          `json:"actualFare"`
	Distance            float64          `json:"distance,omitempty"`
	Duration            float64          `json:"duration,omitempty"`
	CancelReason        string           `json:"cancelReason,omitempty"`
	CancelledBy         Role             `json:"cancelledBy,omitempty"`
	CancelledByID       string           `json:"cancelledById,omitempty"`
	CancelledAt         *time.Time       `json:"cancelledAt,omitempty"`
	StartedAt           *time.Time       `json:"startedAt,omitempty"`
	RideDetails         map[string]any   `json:"rideDetails,omitempty"`
	CreatedAt           time.Time        `json:"createdAt"`
	UpdatedAt           time.Time        `json:"updatedAt"`
}

// IsParticipant reports whether actorID is the ride's driver or passenger.
func (r *Ride) IsParticipant(actorID string) bool {
	return actorID != "" && (r.DriverID == actorID || r.PassengerID == actorID)
}

// RoleOf returns the role actorID plays in the ride.
func (r *Ride) RoleOf(actorID string) Role {
	switch {
	case actorID == "":
		return RoleNone
	case r.DriverID == actorID:
		return RoleDriver
	case r.PassengerID == actorID:
		return RoleRider
	default:
		return RoleNone
	}
}

// LocationSample is the latest position one participant reported for a ride.
type LocationSample struct {
	UserID    string    `json:"userId"`
	RideID    string    `json:"rideId"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Speed     float64   `json:"speed,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type DriverPosition struct {
	DriverID string     `json:"driverId"`
	Loc      Coordinate `json:"loc"`
	Updated  time.Time  `json:"updated"`
}

// RideEvent is the audit record emitted for every applied lifecycle step.
type RideEvent struct {
	RideID    string     `json:"rideId"`
	Type      string     `json:"type"`
	ActorID   string     `json:"actorId"`
	Status    RideStatus `json:"status"`
	Timestamp time.Time  `json:"timestamp"`
}
