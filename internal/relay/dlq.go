package relay

import (
	"time"

	"github.com/austindbirch/event_relay/internal/events"
)

const DLQType = "event_batch.dlq"

type DeadLetter struct {
	Type       string `json:"type"`    // "event_batch.dlq"
	Version    string `json:"version"` // schema version
	At         string `json:"at"`      // RFC3339 time the DLQ was emitted
	Reason     string `json:"reason"`
	Attempts   int    `json:"attempts"`
	HTTPStatus int    `json:"http_status,omitempty"`
	Failure    string `json:"failure"`
	PayloadID  string `json:"payload_id,omitempty"`
	Task       Task   `json:"task"` // full batch snapshot
}

func NewDeadLetter(t Task, res events.Result, reason string) DeadLetter {
	return DeadLetter{
		Type:       DLQType,
		Version:    "v1",
		At:         time.Now().UTC().Format(time.RFC3339Nano),
		Reason:     reason,
		Attempts:   res.Attempts,
		HTTPStatus: res.StatusCode,
		Failure:    res.Failure.String(),
		PayloadID:  res.PayloadID,
		Task:       t,
	}
}
