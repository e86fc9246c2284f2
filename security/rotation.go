// Package security provides signing-secret sources for webhook verification:
// scheduled rotation between secret versions, failover across sources, and a
// cached bridge to external secret managers.
package security

import "time"

// KeyRotationWindow gates when a secret version may be used for verification.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}
