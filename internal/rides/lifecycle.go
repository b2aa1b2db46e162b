package rides

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/fault"
	"github.com/example/ride-dispatch/internal/hub"
	"github.com/example/ride-dispatch/internal/models"
)

// TransitionResult is what the triggers below hand back and broadcast.
type TransitionResult struct {
	RideID          string                  `json:"rideId"`
	Status          models.RideStatus       `json:"status"`
	DriverID        string                  `json:"driverId"`
	DriverName      string                  `json:"driverName,omitempty"`
	PassengerID     string                  `json:"passengerId"`
	PassengerName   string                  `json:"passengerName,omitempty"`
	Message         string                  `json:"message,omitempty"`
	CurrentLocation *models.CurrentLocation `json:"currentLocation,omitempty"`
	FinalFare       float64                 `json:"finalFare,omitempty"`
	Distance        float64                 `json:"distance,omitempty"`
	Duration        float64                 `json:"duration,omitempty"`
	CancelledBy     models.Role             `json:"cancelledBy,omitempty"`
	CancelledByID   string                  `json:"cancelledById,omitempty"`
	CancelledByName string                  `json:"cancelledByName,omitempty"`
	Reason          string                  `json:"reason,omitempty"`
	Timestamp       time.Time               `json:"timestamp"`
}

func (s *Service) result(r *models.Ride, driverName, passengerName, message string) *TransitionResult {
	return &TransitionResult{
		RideID:          r.ID,
		Status:          r.Status,
		DriverID:        r.DriverID,
		DriverName:      driverName,
		PassengerID:     r.PassengerID,
		PassengerName:   passengerName,
		Message:         message,
		CurrentLocation: r.CurrentLocation,
		Timestamp:       r.UpdatedAt,
	}
}

func point(lat, lon *float64) *models.Coordinate {
	if lat == nil || lon == nil {
		return nil
	}
	return &models.Coordinate{Latitude: *lat, Longitude: *lon}
}

type PickupInput struct {
	RideID    string   `json:"rideId"`
	Message   string   `json:"message"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// ReachedPickup moves an accepted ride to in_progress.
func (s *Service) ReachedPickup(ctx context.Context, driverID string, in PickupInput) (res *TransitionResult, err error) {
	defer func() { outcome("reached_pickup", err) }()

	r, driver, err := s.loadForDriver(ctx, in.RideID, driverID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusAccepted {
		return nil, reject(fault.Conflict, "Invalid ride status", "Ride must be accepted before reaching the pickup point")
	}
	now := s.now()
	r.Status = models.StatusInProgress
	if c := point(in.Latitude, in.Longitude); c != nil {
		r.CurrentLocation = &models.CurrentLocation{Coordinate: c, Timestamp: now}
	}
	if err := s.apply(ctx, r, models.StatusAccepted, "reached_pickup", driverID); err != nil {
		return nil, err
	}

	driverName := driver.DisplayName("Driver")
	passenger := s.optionalProfile(ctx, r.PassengerID)
	body := firstNonEmpty(strings.TrimSpace(in.Message), "I have reached the pickup location")
	s.notify(ctx, models.Notification{
		RecipientID: r.PassengerID,
		Type:        models.NotifyDriverReachedPickup,
		Title:       "Driver Arrived!",
		Message:     fmt.Sprintf("%s has reached your pickup location", driverName),
		RideID:      r.ID,
		SenderID:    driverID,
	})
	s.systemMessage(ctx, r.ID, driverID, body)

	res = s.result(r, driverName, passenger.DisplayName("User"), body)
	s.rooms.BroadcastAll(EventDriverReachedPickup, res)
	return res, nil
}

type StartInput struct {
	RideID  string `json:"rideId"`
	Message string `json:"message"`
}

// StartRide stamps the start of an in_progress ride. The status does not
// change; a second start is a conflict.
func (s *Service) StartRide(ctx context.Context, driverID string, in StartInput) (res *TransitionResult, err error) {
	defer func() { outcome("start_ride", err) }()

	r, driver, err := s.loadForDriver(ctx, in.RideID, driverID)
	if err != nil {
		return nil, err
	}
	switch {
	case r.Status != models.StatusInProgress:
		return nil, reject(fault.Conflict, "Invalid ride status", "Ride must be in progress to start. Please reach pickup point first.")
	case r.StartedAt != nil:
		return nil, reject(fault.Conflict, "Ride already started", "This ride has already been started")
	}
	now := s.now()
	r.StartedAt = &now
	if err := s.apply(ctx, r, models.StatusInProgress, "start_ride", driverID); err != nil {
		return nil, err
	}

	driverName := driver.DisplayName("Driver")
	passenger := s.optionalProfile(ctx, r.PassengerID)
	body := firstNonEmpty(strings.TrimSpace(in.Message), "Ride has started. Let's go!")
	s.notify(ctx, models.Notification{
		RecipientID: r.PassengerID,
		Type:        models.NotifyRideStarted,
		Title:       "Ride Started!",
		Message:     fmt.Sprintf("Your ride with %s has started", driverName),
		RideID:      r.ID,
		SenderID:    driverID,
	})
	s.systemMessage(ctx, r.ID, driverID, body)

	res = s.result(r, driverName, passenger.DisplayName("User"), body)
	s.rooms.BroadcastAll(EventRideStarted, res)
	return res, nil
}

type CompleteInput struct {
	RideID         string   `json:"rideId"`
	Message        string   `json:"message"`
	FinalFare      *float64 `json:"finalFare"`
	Distance       *float64 `json:"distance"`
	Duration       *float64 `json:"duration"`
	FinalLatitude  *float64 `json:"finalLatitude"`
	FinalLongitude *float64 `json:"finalLongitude"`
	FinalAddress   string   `json:"finalAddress"`
}

// CompleteRide finishes an in_progress ride. Without a final fare the
// estimate becomes the actual fare.
func (s *Service) CompleteRide(ctx context.Context, driverID string, in CompleteInput) (res *TransitionResult, err error) {
	defer func() { outcome("complete_ride", err) }()

	r, driver, err := s.loadForDriver(ctx, in.RideID, driverID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.StatusInProgress {
		return nil, reject(fault.Conflict, "Invalid ride status", "Ride must be in progress to complete")
	}
	if in.FinalFare != nil && *in.FinalFare < 0 {
		return nil, reject(fault.Validation, "Invalid ride completion", "Final fare must not be negative")
	}
	now := s.now()
	r.Status = models.StatusCompleted
	r.ActualFare = r.EstimatedFare
	if in.FinalFare != nil {
		r.ActualFare = *in.FinalFare
	}
	if in.Distance != nil {
		r.Distance = *in.Distance
	}
	if in.Duration != nil {
		r.Duration = *in.Duration
	}
	if c := point(in.FinalLatitude, in.FinalLongitude); c != nil || in.FinalAddress != "" {
		r.CurrentLocation = &models.CurrentLocation{Address: in.FinalAddress, Coordinate: c, Timestamp: now}
	}
	if err := s.apply(ctx, r, models.StatusInProgress, "complete_ride", driverID); err != nil {
		return nil, err
	}

	driverName := driver.DisplayName("Driver")
	passenger := s.optionalProfile(ctx, r.PassengerID)
	body := firstNonEmpty(strings.TrimSpace(in.Message), "Ride completed successfully. Thank you!")
	s.notify(ctx, models.Notification{
		RecipientID: r.PassengerID,
		Type:        models.NotifyRideCompleted,
		Title:       "Ride Completed!",
		Message:     fmt.Sprintf("Your ride with %s has been completed", driverName),
		RideID:      r.ID,
		SenderID:    driverID,
		Data:        map[string]any{"finalFare": r.ActualFare},
	})
	s.systemMessage(ctx, r.ID, driverID, body)

	res = s.result(r, driverName, passenger.DisplayName("User"), body)
	res.FinalFare = r.ActualFare
	res.Distance = r.Distance
	res.Duration = r.Duration
	s.rooms.BroadcastAll(EventRideCompleted, res)
	return res, nil
}

type LocationInput struct {
	RideID    string   `json:"rideId"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Address   string   `json:"address"`
}

// UpdateLocation records the current position of a live ride and pushes
// it to the ride's room.
func (s *Service) UpdateLocation(ctx context.Context, actorID string, in LocationInput) (res *TransitionResult, err error) {
	defer func() { outcome("update_location", err) }()

	c := point(in.Latitude, in.Longitude)
	if c == nil {
		return nil, reject(fault.Validation, "Invalid location", "Latitude and longitude are required")
	}
	r, err := s.loadRide(ctx, in.RideID)
	if err != nil {
		return nil, err
	}
	if !r.IsParticipant(actorID) {
		return nil, errNotParticipant
	}
	if r.Status.Terminal() {
		return nil, reject(fault.Conflict, "Invalid ride status", "Ride is no longer active")
	}
	r.CurrentLocation = &models.CurrentLocation{Address: in.Address, Coordinate: c, Timestamp: s.now()}
	if err := s.apply(ctx, r, r.Status, "update_location", actorID); err != nil {
		return nil, err
	}
	res = s.result(r, "", "", "")
	s.rooms.Broadcast(hub.RideGroup(r.ID), EventRideUpdated, map[string]any{
		"rideId":          r.ID,
		"currentLocation": r.CurrentLocation,
		"updatedBy":       actorID,
		"timestamp":       r.UpdatedAt,
	})
	return res, nil
}

type CancelInput struct {
	RideID string `json:"rideId"`
	Reason string `json:"reason"`
}

// CancelRide is open to both parties from any non-terminal status. The
// other party and the canceller each get a notification.
func (s *Service) CancelRide(ctx context.Context, actorID string, in CancelInput) (res *TransitionResult, err error) {
	defer func() { outcome("cancel_ride", err) }()

	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, reject(fault.Validation, "Invalid cancellation", "A cancellation reason is required")
	}
	r, err := s.loadRide(ctx, in.RideID)
	if err != nil {
		return nil, err
	}
	role := r.RoleOf(actorID)
	if role == models.RoleNone {
		return nil, errNotParticipant
	}
	switch r.Status {
	case models.StatusCompleted:
		return nil, reject(fault.Conflict, "Cannot cancel ride", "Ride has already been completed")
	case models.StatusCancelled:
		return nil, reject(fault.Conflict, "Ride already cancelled", "This ride has already been cancelled")
	}

	expected := r.Status
	now := s.now()
	r.Status = models.StatusCancelled
	r.CancelReason = reason
	r.CancelledBy = role
	r.CancelledByID = actorID
	r.CancelledAt = &now
	if err := s.apply(ctx, r, expected, "cancel_ride", actorID); err != nil {
		return nil, err
	}

	driver := s.optionalProfile(ctx, r.DriverID)
	passenger := s.optionalProfile(ctx, r.PassengerID)
	driverName, passengerName := driver.DisplayName("Driver"), passenger.DisplayName("User")
	cancellerName, otherID := passengerName, r.DriverID
	if role == models.RoleDriver {
		cancellerName, otherID = driverName, r.PassengerID
	}

	data := map[string]any{"reason": reason, "cancelledBy": role}
	s.notify(ctx, models.Notification{
		RecipientID: otherID,
		Type:        models.NotifyRideCancelled,
		Title:       "Ride Cancelled",
		Message:     fmt.Sprintf("%s has cancelled the ride", cancellerName),
		RideID:      r.ID,
		SenderID:    actorID,
		Data:        data,
	})
	s.notify(ctx, models.Notification{
		RecipientID: actorID,
		Type:        models.NotifyRideCancelled,
		Title:       "Ride Cancelled",
		Message:     "You have cancelled the ride",
		RideID:      r.ID,
		SenderID:    actorID,
		Data:        data,
	})
	s.systemMessage(ctx, r.ID, actorID, reason)

	res = s.result(r, driverName, passengerName, "")
	res.CancelledBy = role
	res.CancelledByID = actorID
	res.CancelledByName = cancellerName
	res.Reason = reason
	s.rooms.BroadcastAll(EventRideCancelled, res)
	s.logger.Info("ride cancelled", "ride_id", r.ID, "actor_id", actorID, "role", string(role))
	return res, nil
}
