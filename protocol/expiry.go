package protocol

import "time"

var defaultTTLs = map[string]time.Duration{
	// Progress samples are superseded quickly; a stale one is worthless.
	TypeJobProgress: 2 * time.Minute,
	TypeJobStatus:   30 * time.Minute,

	TypeEntityCreated:      24 * time.Hour,
	TypeEntityTransitioned: 24 * time.Hour,
	TypeEntityDeleted:      24 * time.Hour,
	TypeCascadeApplied:     24 * time.Hour,
}

// FallbackTTL is used when no specific TTL is configured.
const FallbackTTL = 10 * time.Minute

func DefaultTTLFor(msgType string) time.Duration {
	if ttl, ok := defaultTTLs[msgType]; ok {
		return ttl
	}
	return FallbackTTL
}

// IsExpired returns true if the envelope has passed its expiry time.
func IsExpired(env *Envelope) bool {
	if env.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().UTC().After(env.ExpiresAt)
}

func IsExpiredHeader(hdr *RawHeader) bool {
	if hdr.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().UTC().After(hdr.ExpiresAt)
}
