package hub

import "strings"

type groupKind string

const (
	kindActor       groupKind = "actor"
	kindRide        groupKind = "ride"
	kindRideRequest groupKind = "ride-request"
	kindDrivers     groupKind = "drivers"
	kindChatThread  groupKind = "chat-thread"
	kindRideChat    groupKind = "ride-chat"
)

// Group names a broadcast set. Its fields are unexported so a Group can
// only come from one of the constructors below, which keeps the families
// apart: RideGroup("x") and RideChatGroup("x") are different values.
type Group struct {
	kind groupKind
	id   string
}

// ActorGroup is the personal mailbox of one actor.
func ActorGroup(actorID string) Group { return Group{kind: kindActor, id: actorID} }

// RideGroup carries location, status and system events of one ride.
func RideGroup(rideID string) Group { return Group{kind: kindRide, id: rideID} }

// RideRequestGroup is joined by the rider waiting for bids on a request.
func RideRequestGroup(rideRequestID string) Group {
	return Group{kind: kindRideRequest, id: rideRequestID}
}

// DriversGroup is the pool every connected driver joins.
func DriversGroup() Group { return Group{kind: kindDrivers} }

// DriverCategoryGroup is the pool of drivers owning a vehicle of category.
// An empty category falls back to DriversGroup.
func DriverCategoryGroup(category string) Group {
	c := NormalizeCategory(category)
	if c == "" {
		return DriversGroup()
	}
	return Group{kind: kindDrivers, id: c}
}

func ChatThreadGroup(threadID string) Group { return Group{kind: kindChatThread, id: threadID} }

func RideChatGroup(rideID string) Group { return Group{kind: kindRideChat, id: rideID} }

// String renders the conventional wire name, e.g. "ride-chat:42".
func (g Group) String() string {
	if g.id == "" {
		return string(g.kind)
	}
	return string(g.kind) + ":" + g.id
}

// Kind is the family name, used as a metrics label.
func (g Group) Kind() string { return string(g.kind) }

// ID is the identifier part of the group, empty for the driver pool.
func (g Group) ID() string { return g.id }

func (g Group) valid() bool {
	switch g.kind {
	case kindDrivers:
		return true
	case kindActor, kindRide, kindRideRequest, kindChatThread, kindRideChat:
		return g.id != ""
	}
	return false
}

// NormalizeCategory lower-cases a vehicle category and collapses
// whitespace runs into a single underscore: " Mini  Van " -> "mini_van".
func NormalizeCategory(category string) string {
	return strings.Join(strings.Fields(strings.ToLower(category)), "_")
}

// IsRide reports whether g is a ride event room.
func (g Group) IsRide() bool { return g.kind == kindRide }
