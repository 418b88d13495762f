package statecache

import "time"

// Snapshot is the cached status view of one project, order or print job.
type Snapshot struct {
	ID            string    `json:"id"`
	Kind          string    `json:"kind"`
	Status        string    `json:"status"`
	PaymentStatus string    `json:"payment_status,omitempty"`
	Version       int64     `json:"version"`
	UpdatedAt     time.Time `json:"updated_at"`
}
