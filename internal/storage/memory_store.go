package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// MemoryStore is the in-process Store used when no PG_DSN is configured
// and by tests.
type MemoryStore struct {
	mu            sync.RWMutex
	rides         map[string]*models.Ride
	threads       map[string]*models.Thread
	messages      map[string]*models.Message
	notifications map[string]*models.Notification
	locations     map[string]models.LocationSample
	profiles      map[string]models.Profile
	vehicles      map[string][]models.Vehicle
	claims        map[string]string
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rides:         make(map[string]*models.Ride),
		threads:       make(map[string]*models.Thread),
		messages:      make(map[string]*models.Message),
		notifications: make(map[string]*models.Notification),
		locations:     make(map[string]models.LocationSample),
		profiles:      make(map[string]models.Profile),
		vehicles:      make(map[string][]models.Vehicle),
		claims:        make(map[string]string),
	}
}

// PutProfile seeds the directory.
func (m *MemoryStore) PutProfile(p models.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.ID] = p
}

// PutVehicle seeds the directory.
func (m *MemoryStore) PutVehicle(v models.Vehicle) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vehicles[v.UserID] = append(m.vehicles[v.UserID], v)
}

func (m *MemoryStore) CreateRide(_ context.Context, r *models.Ride) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rides[r.ID]; ok {
		return ErrConflict
	}
	m.rides[r.ID] = cloneRide(r)
	return nil
}

func (m *MemoryStore) GetRide(_ context.Context, id string) (*models.Ride, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rides[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRide(r), nil
}

func (m *MemoryStore) UpdateRide(_ context.Context, r *models.Ride, expected models.RideStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.rides[r.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Status != expected || cur.DriverID != r.DriverID || cur.PassengerID != r.PassengerID {
		return ErrConflict
	}
	m.rides[r.ID] = cloneRide(r)
	return nil
}

func (m *MemoryStore) CreateThread(_ context.Context, t *models.Thread) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.threads[t.ID]; ok {
		return ErrConflict
	}
	c := *t
	m.threads[t.ID] = &c
	return nil
}

func (m *MemoryStore) GetThread(_ context.Context, id string) (*models.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.threads[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *t
	return &c, nil
}

func (m *MemoryStore) ThreadByRideRequest(_ context.Context, rideRequestID string) (*models.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.threads {
		if t.Kind == models.ThreadHandoff && t.RideRequestID == rideRequestID {
			c := *t
			return &c, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ThreadsFor(_ context.Context, actorID string, role models.Role) ([]models.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Thread
	for _, t := range m.threads {
		if t.RoleOf(actorID) == role && role != models.RoleNone {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return lastActivity(&out[i]).After(lastActivity(&out[j])) })
	return out, nil
}

func (m *MemoryStore) RecordMessage(_ context.Context, threadID, senderID string, senderRole models.Role, body string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	t.LastMessage = body
	t.LastMessageAt = &at
	t.LastMessageSenderID = senderID
	t.UpdatedAt = at
	switch senderRole {
	case models.RoleRider:
		t.UnreadDriver++
	case models.RoleDriver:
		t.UnreadUser++
	}
	return nil
}

func (m *MemoryStore) ResetUnread(_ context.Context, threadID string, role models.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	switch role {
	case models.RoleRider:
		t.UnreadUser = 0
	case models.RoleDriver:
		t.UnreadDriver = 0
	}
	return nil
}

func (m *MemoryStore) CloseThread(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.threads[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = models.ThreadClosed
	t.IsActive = false
	t.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CreateMessage(_ context.Context, msg *models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[msg.ID]; ok {
		return ErrConflict
	}
	c := *msg
	m.messages[msg.ID] = &c
	return nil
}

func (m *MemoryStore) GetMessage(_ context.Context, id string) (*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msg, ok := m.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	c := *msg
	return &c, nil
}

func (m *MemoryStore) MarkRead(_ context.Context, threadID string, ids []string, readerID string, at time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, id := range ids {
		msg, ok := m.messages[id]
		if !ok || msg.ThreadID != threadID || msg.SenderID == readerID {
			continue
		}
		if !msg.IsRead {
			n++
		}
		msg.IsRead = true
		ts := at
		msg.ReadAt = &ts
	}
	return n, nil
}

func (m *MemoryStore) SoftDelete(_ context.Context, id, senderID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[id]
	if !ok || msg.SenderID != senderID {
		return ErrNotFound
	}
	msg.IsDeleted = true
	msg.DeletedAt = &at
	msg.Body = models.DeletedMarker
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, threadID string, offset, limit int) ([]models.Message, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []models.Message
	for _, msg := range m.messages {
		if msg.ThreadID == threadID && !msg.IsDeleted {
			all = append(all, *msg)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.Before(all[j].CreatedAt) })
	total := len(all)
	// newest page first, returned in chronological order
	end := total - offset
	if end <= 0 {
		return nil, total, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return all[start:end], total, nil
}

func (m *MemoryStore) CreateNotification(_ context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := *n
	m.notifications[n.ID] = &c
	return nil
}

func (m *MemoryStore) MarkDelivered(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n, ok := m.notifications[id]
	if !ok {
		return ErrNotFound
	}
	n.Delivered = true
	n.DeliveredAt = &at
	return nil
}

func (m *MemoryStore) Undelivered(_ context.Context, recipientID string, limit int) ([]models.Notification, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Notification
	for _, n := range m.notifications {
		if n.RecipientID == recipientID && !n.Delivered {
			out = append(out, *n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) UpsertLocation(_ context.Context, s models.LocationSample) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[s.RideID+"/"+s.UserID] = s
	return nil
}

func (m *MemoryStore) Locations(_ context.Context, rideID string) ([]models.LocationSample, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.LocationSample
	for _, s := range m.locations {
		if s.RideID == rideID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *MemoryStore) Profile(_ context.Context, id string) (*models.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (m *MemoryStore) Vehicles(_ context.Context, userID string) ([]models.Vehicle, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []models.Vehicle
	for _, v := range m.vehicles[userID] {
		if v.Active {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *MemoryStore) Claim(_ context.Context, rideRequestID, rideID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, taken := m.claims[rideRequestID]; taken {
		return false, nil
	}
	m.claims[rideRequestID] = rideID
	return true, nil
}

func (m *MemoryStore) Release(_ context.Context, rideRequestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.claims, rideRequestID)
	return nil
}

func cloneRide(r *models.Ride) *models.Ride {
	c := *r
	if r.Stops != nil {
		c.Stops = append([]models.Location(nil), r.Stops...)
	}
	if r.CurrentLocation != nil {
		cl := *r.CurrentLocation
		c.CurrentLocation = &cl
	}
	return &c
}

func lastActivity(t *models.Thread) time.Time {
	if t.LastMessageAt != nil {
		return *t.LastMessageAt
	}
	return t.CreatedAt
}
