// Package progress broadcasts batch progress snapshots over NATS and serves
// them to observers as Server-Sent Events.
//
// Delivery is at most once. Observers that attach mid-batch see only the live
// tail; nothing is buffered or replayed.
package progress

import (
	"time"
)

// Status is the lifecycle stage an event reports.
type Status string

const (
	StatusStarted    Status = "started"
	StatusProcessing Status = "processing"
	StatusCompiling  Status = "compiling"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Terminal reports whether no further events follow for the batch.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Event is one progress snapshot. Seq and Timestamp are assigned on publish.
type Event struct {
	BatchID        string    `json:"batch_id"`
	Seq            uint64    `json:"seq"`
	Completed      int       `json:"completed"`
	Total          int       `json:"total"`
	Percentage     int       `json:"percentage"`
	CurrentProduct string    `json:"current_product,omitempty"`
	CurrentModel   string    `json:"current_model,omitempty"`
	Iteration      int       `json:"iteration,omitempty"`
	Status         Status    `json:"status"`
	Message        string    `json:"message,omitempty"`
	Artifact       string    `json:"artifact,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
