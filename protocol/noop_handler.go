package protocol

// NoOpHandler implements MessageHandler with no-op methods.
type NoOpHandler struct{}

func (NoOpHandler) HandleJobProgress(*Envelope, *JobProgress)               {}
func (NoOpHandler) HandleJobStatus(*Envelope, *JobStatus)                   {}
func (NoOpHandler) HandleEntityCreated(*Envelope, *EntityCreated)           {}
func (NoOpHandler) HandleEntityTransitioned(*Envelope, *EntityTransitioned) {}
func (NoOpHandler) HandleEntityDeleted(*Envelope, *EntityDeleted)           {}
func (NoOpHandler) HandleCascadeApplied(*Envelope, *CascadeApplied)         {}

var _ MessageHandler = NoOpHandler{}
