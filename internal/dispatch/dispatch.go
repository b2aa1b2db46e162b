package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/storage"
)

// EventNotification is the live event carrying a Notification.
const EventNotification = "notification"

// Mailbox pushes an event to every live connection of an actor and
// reports how many received it.
type Mailbox interface {
	Unicast(actorID, event string, payload any) int
}

// Fallback hands a notification to an offline channel (push provider,
// message broker) when the recipient has no live connection.
type Fallback interface {
	Deliver(ctx context.Context, n models.Notification) error
}

// Dispatcher persists every notification before pushing it and marks it
// delivered only when a live connection took it. Undelivered records stay
// available through Pending and are replayed on the next connect.
type Dispatcher struct {
	store    storage.NotificationStore
	live     Mailbox
	fallback Fallback
	logger   *slog.Logger
	now      func() time.Time
}

func New(store storage.NotificationStore, live Mailbox, fallback Fallback, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{store: store, live: live, fallback: fallback, logger: logger, now: time.Now}
}

// Notify never fails the caller: store and fallback errors are logged.
// It returns the stored record and whether it reached a live connection.
func (d *Dispatcher) Notify(ctx context.Context, n models.Notification) (models.Notification, bool) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = d.now()
	}
	log := d.logger.With("notification_id", n.ID, "recipient_id", n.RecipientID, "type", string(n.Type))

	stored := true
	if err := d.store.CreateNotification(ctx, &n); err != nil {
		stored = false
		log.Error("persist notification", "error", err)
	}

	if d.live.Unicast(n.RecipientID, EventNotification, n) > 0 {
		observability.NotificationsTotal.WithLabelValues("live").Inc()
		at := d.now()
		n.Delivered, n.DeliveredAt = true, &at
		if stored {
			if err := d.store.MarkDelivered(ctx, n.ID, at); err != nil {
				log.Error("mark notification delivered", "error", err)
			}
		}
		return n, true
	}

	if d.fallback == nil {
		observability.NotificationsTotal.WithLabelValues("pending").Inc()
		log.Debug("recipient offline, notification left pending")
		return n, false
	}
	if err := d.fallback.Deliver(ctx, n); err != nil {
		observability.NotificationsTotal.WithLabelValues("fallback_error").Inc()
		log.Warn("fallback delivery failed", "error", err)
		return n, false
	}
	observability.NotificationsTotal.WithLabelValues("fallback").Inc()
	return n, false
}

// Pending returns the notifications actorID has not received live, oldest
// first, and marks them delivered: reading them is the catch-up.
func (d *Dispatcher) Pending(ctx context.Context, actorID string, limit int) ([]models.Notification, error) {
	list, err := d.store.Undelivered(ctx, actorID, limit)
	if err != nil {
		return nil, err
	}
	at := d.now()
	for i := range list {
		if err := d.store.MarkDelivered(ctx, list[i].ID, at); err != nil {
			d.logger.Error("mark notification delivered", "notification_id", list[i].ID, "error", err)
			continue
		}
		list[i].Delivered, list[i].DeliveredAt = true, &at
	}
	return list, nil
}

// Replay pushes pending notifications to a freshly connected actor.
func (d *Dispatcher) Replay(ctx context.Context, actorID string) int {
	list, err := d.store.Undelivered(ctx, actorID, 100)
	if err != nil {
		d.logger.Error("load pending notifications", "actor_id", actorID, "error", err)
		return 0
	}
	sent := 0
	for _, n := range list {
		if d.live.Unicast(actorID, EventNotification, n) == 0 {
			break
		}
		sent++
		if err := d.store.MarkDelivered(ctx, n.ID, d.now()); err != nil {
			d.logger.Error("mark notification delivered", "notification_id", n.ID, "error", err)
		}
	}
	if sent > 0 {
		observability.NotificationsTotal.WithLabelValues("replayed").Add(float64(sent))
	}
	return sent
}
