package protocol

import "encoding/json"

// --- Core -> subscribers ---

type EntityCreated struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Owner  string `json:"owner"`
	Status string `json:"status,omitempty"`
	Actor  string `json:"actor"`
}

// EntityTransitioned reports one committed status change. Axis is empty for
// single-axis entities.
type EntityTransitioned struct {
	ID      string `json:"id"`
	Kind    string `json:"kind"`
	Axis    string `json:"axis,omitempty"`
	From    string `json:"from"`
	To      string `json:"to"`
	Actor   string `json:"actor"`
	Version int64  `json:"version"`
}

type EntityDeleted struct {
	ID    string `json:"id"`
	Kind  string `json:"kind"`
	Actor string `json:"actor"`
}

// CascadeEffect is one dependent change made on behalf of a trigger.
type CascadeEffect struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Action string `json:"action"`
	From   string `json:"from,omitempty"`
	To     string `json:"to,omitempty"`
	Rule   string `json:"rule"`
}

type CascadeApplied struct {
	TriggerID string          `json:"trigger_id"`
	Trigger   string          `json:"trigger"`
	Effects   []CascadeEffect `json:"effects"`
}

// --- Print farm -> Core ---

// JobProgress is an inbound progress sample. Telemetry (temperatures,
// fan speeds and the like) is stored without interpretation.
type JobProgress struct {
	JobID        string          `json:"job_id"`
	Progress     int             `json:"progress"`
	CurrentLayer int             `json:"current_layer,omitempty"`
	TotalLayers  int             `json:"total_layers,omitempty"`
	ETASeconds   int             `json:"eta_s,omitempty"`
	Telemetry    json.RawMessage `json:"telemetry,omitempty"`
}

// JobStatus requests a print job status change from the printer side.
type JobStatus struct {
	JobID  string `json:"job_id"`
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}
