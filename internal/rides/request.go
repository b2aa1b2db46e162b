package rides

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/fault"
	"github.com/example/ride-dispatch/internal/hub"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

type RequestInput struct {
	CurrentLocation models.Location   `json:"currentLocation"`
	Destination     models.Location   `json:"destination"`
	Stops           []json.RawMessage `json:"stops"`
	RideType        string            `json:"rideType"`
	VehicleType     string            `json:"vehicleType"`
	Fare            float64           `json:"fare"`
	RideDetails     map[string]any    `json:"rideDetails"`
}

// CreateRequest broadcasts a new ride request to the drivers' pool of the
// requested category. Nothing is persisted; the request lives only in the
// pushed payload and in the rider's request room.
func (s *Service) CreateRequest(ctx context.Context, riderID string, in RequestInput) (req *models.RideRequest, err error) {
	defer func() { outcome("create_request", err) }()

	if strings.TrimSpace(in.CurrentLocation.Address) == "" || strings.TrimSpace(in.Destination.Address) == "" {
		return nil, reject(fault.Validation, "Invalid ride request", "Current location and destination addresses are required")
	}
	if in.Fare < 0 {
		return nil, reject(fault.Validation, "Invalid ride request", "Fare must not be negative")
	}
	req = &models.RideRequest{
		RideRequestID:   uuid.NewString(),
		UserID:          riderID,
		CurrentLocation: in.CurrentLocation,
		Destination:     in.Destination,
		Stops:           normalizeStops(in.Stops),
		RideType:        in.RideType,
		VehicleType:     hub.NormalizeCategory(in.VehicleType),
		Fare:            in.Fare,
		RideDetails:     in.RideDetails,
		Timestamp:       s.now(),
	}
	n := s.rooms.Broadcast(hub.DriverCategoryGroup(req.VehicleType), EventNewRideRequest, req)
	s.logger.Info("ride request broadcast", "ride_request_id", req.RideRequestID, "actor_id", riderID, "vehicle_type", req.VehicleType, "drivers", n)
	return req, nil
}

// normalizeStops keeps the stops that carry an address. A coordinate is kept
// only when both of its components are numbers.
func normalizeStops(raw []json.RawMessage) []models.Location {
	var out []models.Location
	for _, r := range raw {
		var stop struct {
			Address    string `json:"address"`
			Coordinate *struct {
				Latitude  json.RawMessage `json:"latitude"`
				Longitude json.RawMessage `json:"longitude"`
			} `json:"coordinate"`
		}
		if err := json.Unmarshal(r, &stop); err != nil || strings.TrimSpace(stop.Address) == "" {
			continue
		}
		loc := models.Location{Address: stop.Address}
		if c := stop.Coordinate; c != nil {
			var lat, lon float64
			if json.Unmarshal(c.Latitude, &lat) == nil && json.Unmarshal(c.Longitude, &lon) == nil {
				loc.Coordinate = &models.Coordinate{Latitude: lat, Longitude: lon}
			}
		}
		out = append(out, loc)
	}
	return out
}

type BidInput struct {
	RideRequestID           string  `json:"rideRequestId"`
	BidAmount               float64 `json:"bidAmount"`
	Message                 string  `json:"message"`
	EstimatedArrivalMinutes float64 `json:"estimatedArrivalTime"`
	VehicleType             string  `json:"vehicleType"`
	// Pickup lets the server estimate the arrival time when the driver
	// did not supply one.
	Pickup *models.Coordinate `json:"pickupCoordinate,omitempty"`
}

// SubmitBid pushes a driver's offer to everyone watching the request.
func (s *Service) SubmitBid(ctx context.Context, driverID string, in BidInput) (bid *models.Bid, err error) {
	defer func() { outcome("submit_bid", err) }()

	if in.RideRequestID == "" {
		return nil, reject(fault.Validation, "Invalid bid", "Ride request ID is required")
	}
	if in.BidAmount <= 0 {
		return nil, reject(fault.Validation, "Invalid bid", "Bid amount must be positive")
	}
	driver, err := s.profile(ctx, driverID)
	if err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, errDriverNotFound
	}
	vehicle, err := s.vehicleFor(ctx, driverID, in.VehicleType)
	if err != nil {
		return nil, err
	}

	bid = &models.Bid{
		RideRequestID:           in.RideRequestID,
		DriverID:                driverID,
		DriverName:              driver.DisplayName("Driver"),
		DriverPhone:             driver.PhoneNumber,
		BidAmount:               in.BidAmount,
		Message:                 in.Message,
		EstimatedArrivalMinutes: in.EstimatedArrivalMinutes,
		VehicleType:             hub.NormalizeCategory(in.VehicleType),
		Timestamp:               s.now(),
	}
	if vehicle != nil {
		bid.VehicleName = vehicle.MakeModel
		bid.VehicleNumberPlate = vehicle.LicensePlate
		if bid.VehicleType == "" {
			bid.VehicleType = hub.NormalizeCategory(vehicle.Category)
		}
	}
	if bid.EstimatedArrivalMinutes <= 0 && in.Pickup != nil {
		bid.EstimatedArrivalMinutes = s.arrivalMinutes(ctx, driverID, *in.Pickup)
	}

	s.rooms.Broadcast(hub.RideRequestGroup(in.RideRequestID), EventDriverBidReceived, bid)
	return bid, nil
}

// vehicleFor picks the driver's active vehicle of the given category, or the
// first active one. A driver without vehicles gets nil.
func (s *Service) vehicleFor(ctx context.Context, driverID, category string) (*models.Vehicle, error) {
	vs, err := s.store.Vehicles(ctx, driverID)
	if err != nil {
		return nil, fmt.Errorf("load vehicles for %s: %w", driverID, err)
	}
	if len(vs) == 0 {
		s.logger.Warn("driver has no active vehicle", "actor_id", driverID)
		return nil, nil
	}
	want := hub.NormalizeCategory(category)
	if want == "" {
		return &vs[0], nil
	}
	for i := range vs {
		if hub.NormalizeCategory(vs[i].Category) == want {
			return &vs[i], nil
		}
	}
	s.logger.Warn("no vehicle of requested category, using first", "actor_id", driverID, "vehicle_type", want)
	return &vs[0], nil
}

func (s *Service) arrivalMinutes(ctx context.Context, driverID string, pickup models.Coordinate) float64 {
	if s.drivers == nil || s.eta == nil {
		return 0
	}
	pos, ok, err := s.drivers.Position(ctx, driverID)
	if err != nil {
		s.logger.Warn("driver position lookup failed", "actor_id", driverID, "error", err)
		return 0
	}
	if !ok {
		return 0
	}
	return s.eta.Minutes(pos.Loc, pickup)
}

type AcceptInput struct {
	RideRequestID       string            `json:"rideRequestId"`
	DriverID            string            `json:"driverId"`
	AcceptedBidAmount   float64           `json:"acceptedBidAmount"`
	Message             string            `json:"message"`
	RideType            string            `json:"rideType"`
	VehicleType         string            `json:"vehicleType"`
	RideDetails         map[string]any    `json:"rideDetails"`
	PickupLocation      *models.Location  `json:"pickupLocation"`
	DestinationLocation *models.Location  `json:"destinationLocation"`
	Stops               []json.RawMessage `json:"stops"`
}

type AcceptResult struct {
	RideRequestID      string            `json:"rideRequestId"`
	RideID             string            `json:"rideId"`
	DriverID           string            `json:"driverId"`
	DriverName         string            `json:"driverName"`
	DriverPhone        string            `json:"driverPhone,omitempty"`
	PassengerID        string            `json:"passengerId"`
	PassengerName      string            `json:"passengerName"`
	AcceptedBidAmount  float64           `json:"acceptedBidAmount"`
	Status             models.RideStatus `json:"status"`
	VehicleNumberPlate string            `json:"vehicleNumberPlate,omitempty"`
	VehicleName        string            `json:"vehicleName,omitempty"`
	Timestamp          time.Time         `json:"timestamp"`
}

// AcceptBid turns a bid into a ride. The request identifier is claimed
// first, so among concurrent acceptances of one request exactly one
// creates a ride and the rest are rejected as conflicts.
func (s *Service) AcceptBid(ctx context.Context, riderID string, in AcceptInput) (res *AcceptResult, err error) {
	defer func() { outcome("accept_bid", err) }()
	start := time.Now()

	switch {
	case in.RideRequestID == "" || in.DriverID == "":
		return nil, reject(fault.Validation, "Invalid bid acceptance", "Ride request ID and driver ID are required")
	case in.AcceptedBidAmount <= 0:
		return nil, reject(fault.Validation, "Invalid bid acceptance", "Accepted bid amount must be positive")
	case in.DriverID == riderID:
		return nil, reject(fault.Validation, "Invalid bid acceptance", "A rider cannot accept their own bid")
	}

	rider, err := s.profile(ctx, riderID)
	if err != nil {
		return nil, err
	}
	if rider == nil {
		return nil, errUserNotFound
	}
	driver, err := s.profile(ctx, in.DriverID)
	if err != nil {
		return nil, err
	}
	if driver == nil {
		return nil, errDriverNotFound
	}
	vehicle, err := s.vehicleFor(ctx, in.DriverID, in.VehicleType)
	if err != nil {
		return nil, err
	}

	rideID := s.newRideID()
	claimed, err := s.store.Claim(ctx, in.RideRequestID, rideID)
	if err != nil {
		return nil, fmt.Errorf("claim ride request %s: %w", in.RideRequestID, err)
	}
	if !claimed {
		return nil, reject(fault.Conflict, "Ride request already accepted", "Another bid has already been accepted for this ride request")
	}

	now := s.now()
	ride := &models.Ride{
		ID:                  rideID,
		RideRequestID:       in.RideRequestID,
		DriverID:            in.DriverID,
		PassengerID:         riderID,
		Status:              models.StatusAccepted,
		VehicleType:         hub.NormalizeCategory(in.VehicleType),
		PickupLocation:      in.PickupLocation,
		DestinationLocation: in.DestinationLocation,
		Stops:               normalizeStops(in.Stops),
		EstimatedFare:       in.AcceptedBidAmount,
		RideDetails:         in.RideDetails,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if ride.VehicleType == "" && vehicle != nil {
		ride.VehicleType = hub.NormalizeCategory(vehicle.Category)
	}
	if err := s.store.CreateRide(ctx, ride); err != nil {
		if rerr := s.store.Release(ctx, in.RideRequestID); rerr != nil {
			s.logger.Error("release ride request claim", "ride_request_id", in.RideRequestID, "error", rerr)
		}
		return nil, fmt.Errorf("create ride for request %s: %w", in.RideRequestID, err)
	}
	s.publish(ctx, ride, "accepted", riderID)

	riderName := rider.DisplayName("User")
	driverName := driver.DisplayName("Driver")
	res = &AcceptResult{
		RideRequestID:     in.RideRequestID,
		RideID:            rideID,
		DriverID:          in.DriverID,
		DriverName:        driverName,
		DriverPhone:       driver.PhoneNumber,
		PassengerID:       riderID,
		PassengerName:     riderName,
		AcceptedBidAmount: in.AcceptedBidAmount,
		Status:            ride.Status,
		Timestamp:         now,
	}
	if vehicle != nil {
		res.VehicleNumberPlate = vehicle.LicensePlate
		res.VehicleName = vehicle.MakeModel
	}

	data := map[string]any{
		"rideRequestId":     in.RideRequestID,
		"rideId":            rideID,
		"acceptedBidAmount": in.AcceptedBidAmount,
	}
	s.notify(ctx, models.Notification{
		RecipientID: in.DriverID,
		Type:        models.NotifyBidAccepted,
		Title:       "Bid Accepted!",
		Message:     fmt.Sprintf("Your bid has been accepted by %s", riderName),
		RideID:      rideID,
		SenderID:    riderID,
		Data:        data,
	})
	s.notify(ctx, models.Notification{
		RecipientID: riderID,
		Type:        models.NotifyRideConfirmed,
		Title:       "Ride Confirmed!",
		Message:     fmt.Sprintf("Your ride with %s has been confirmed", driverName),
		RideID:      rideID,
		SenderID:    in.DriverID,
		Data:        data,
	})
	s.rooms.BroadcastAll(EventBidAccepted, res)

	observability.RidesAccepted.Inc()
	observability.AcceptLatency.Observe(time.Since(start).Seconds())
	s.logger.Info("bid accepted", "ride_id", rideID, "ride_request_id", in.RideRequestID, "actor_id", riderID, "driver_id", in.DriverID)
	return res, nil
}
