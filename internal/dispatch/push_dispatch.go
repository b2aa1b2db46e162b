package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// PushFallback posts undelivered notifications to a push gateway as JSON.
type PushFallback struct {
	Endpoint string // e.g. provider HTTP endpoint
	Client   *http.Client
}

func NewPushFallback(endpoint string) *PushFallback {
	return &PushFallback{Endpoint: endpoint, Client: &http.Client{Timeout: 3 * time.Second}}
}

func (p *PushFallback) Deliver(ctx context.Context, n models.Notification) error {
	b, err := json.Marshal(map[string]any{"recipient_id": n.RecipientID, "notification": n})
	if err != nil {
		return err
	}
	return postJSON(ctx, p.Client, p.Endpoint, "", b)
}

func postJSON(ctx context.Context, client *http.Client, endpoint, bearer string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("push endpoint returned %s", resp.Status)
	}
	return nil
}
