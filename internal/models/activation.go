package models

import (
	"encoding/json"
	"time"
)

type ActivationStatus string

const (
	ActivationRunning ActivationStatus = "running"
	ActivationDone    ActivationStatus = "done"
	ActivationFailed  ActivationStatus = "failed"
)

// Activation is one ledger row: a queued invocation and how it ended.
type Activation struct {
	ID         string           `json:"id"`
	Status     ActivationStatus `json:"status"`
	Params     json.RawMessage  `json:"params,omitempty"`
	Mode       string           `json:"mode,omitempty"`
	Renditions int              `json:"renditions"`
	ErrorCode  string           `json:"error_code,omitempty"`
	Error      string           `json:"error,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}
