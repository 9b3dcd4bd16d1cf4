package webhooks

import (
	"encoding/json"
	"fmt"
	"time"

	"routeplanner/internal/events"
)

// Envelope is the JSON body POSTed to the webhook endpoint.
type Envelope struct {
	ID     string       `json:"id"`
	Type   string       `json:"type"`
	TS     string       `json:"ts"`
	Reason string       `json:"reason,omitempty"`
	Data   events.Event `json:"data"`
}

func encode(evt events.Event, now time.Time) ([]byte, error) {
	ts := evt.Timestamp
	if ts.IsZero() {
		ts = now
	}
	env := Envelope{
		ID:     fmt.Sprintf("evt_%d", now.UnixNano()),
		Type:   evt.Type,
		TS:     ts.UTC().Format(time.RFC3339),
		Reason: evt.Reason,
		Data:   evt,
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode webhook: %w", err)
	}
	return body, nil
}
