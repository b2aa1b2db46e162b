package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// FCMFallback posts to an FCM HTTPv1 send endpoint. Devices subscribe to a
// per-actor topic, so no device token registry is needed here.
type FCMFallback struct {
	Endpoint string
	Key      string
	Client   *http.Client
}

func NewFCMFallback(endpoint, key string) *FCMFallback {
	return &FCMFallback{Endpoint: endpoint, Key: key, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (f *FCMFallback) Deliver(ctx context.Context, n models.Notification) error {
	// FCM data values must be strings
	data := map[string]string{
		"notification_id": n.ID,
		"type":            string(n.Type),
		"ride_id":         n.RideID,
	}
	if len(n.Data) > 0 {
		if raw, err := json.Marshal(n.Data); err == nil {
			data["payload"] = string(raw)
		}
	}
	body := map[string]any{"message": map[string]any{
		"topic":        "actor-" + n.RecipientID,
		"notification": map[string]string{"title": n.Title, "body": n.Message},
		"data":         data,
	}}
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return postJSON(ctx, f.Client, f.Endpoint, f.Key, b)
}
