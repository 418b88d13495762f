package protocol

// Message types carried on the events and telemetry topics.
const (
	// Core -> subscribers (events topic, written through the outbox)
	TypeEntityCreated      = "entity.created"
	TypeEntityTransitioned = "entity.transitioned"
	TypeEntityDeleted      = "entity.deleted"
	TypeCascadeApplied     = "cascade.applied"

	// Print farm -> Core (telemetry topic)
	TypeJobProgress = "job.progress"
	TypeJobStatus   = "job.status"
)

// Roles for Address.Role.
const (
	RoleCore      = "core"
	RolePrintFarm = "printfarm"
)

// Protocol version.
const Version = 1
