package rides

import "github.com/example/ride-dispatch/internal/fault"

func reject(kind fault.Kind, msg, detail string) error {
	return fault.New(kind, msg, detail)
}

var (
	errInvalidRideID     = fault.New(fault.Validation, "Invalid ride ID format", "Ride ID must be a valid object id")
	errRideNotFound      = fault.New(fault.NotFound, "Ride not found", "Ride not found in database")
	errDriverNotFound    = fault.New(fault.NotFound, "Driver not found", "Driver not found in database")
	errUserNotFound      = fault.New(fault.NotFound, "User not found", "User not found in database")
	errNotAssignedDriver = fault.New(fault.Unauthorized, "Unauthorized", "Driver not assigned to this ride")
	errNotParticipant    = fault.New(fault.Unauthorized, "Unauthorized", "User not part of this ride")
	errConcurrentUpdate  = fault.New(fault.Conflict, "Ride changed concurrently", "The ride was updated by another request, reload and retry")
	errIllegalTransition = fault.New(fault.Conflict, "Invalid ride status", "The ride cannot move to that status")
)
