package v1

import (
	"encoding/json"
	"fmt"
	"time"
)

// Envelope v1: one queued activation.
//   - activation_id: identifier recorded in the ledger and attached to logs
//   - params: invocation params, forwarded to the action untouched
//   - enqueued_at: producer timestamp, used to report queue latency
type Envelope struct {
	ActivationID string          `json:"activation_id"`
	Params       json.RawMessage `json:"params"`
	EnqueuedAt   time.Time       `json:"enqueued_at"`
}

// Decode parses a queued payload and checks the required fields.
func Decode(b []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("activation envelope: %w", err)
	}
	if e.ActivationID == "" {
		return nil, fmt.Errorf("activation envelope: missing activation_id")
	}
	if len(e.Params) == 0 {
		return nil, fmt.Errorf("activation envelope %s: missing params", e.ActivationID)
	}
	return &e, nil
}
