package security

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// SecretVersion is one entry in a rotation schedule. Window bounds when the
// version is eligible; a zero window means always eligible.
type SecretVersion struct {
	KeyID   string
	Version int
	Secret  string
	Window  KeyRotationWindow
}

type RotatingOption func(*RotatingSecretProvider)

// RotatingSecretProvider serves the highest eligible secret version at call
// time. Cutover is scheduled, not deployed: register the incoming secret with
// a NotBefore and the outgoing one with a matching NotAfter, and verification
// flips between them without a restart.
type RotatingSecretProvider struct {
	versions []SecretVersion
	now      func() time.Time
}

func NewRotatingSecretProvider(versions []SecretVersion, opts ...RotatingOption) (*RotatingSecretProvider, error) {
	if len(versions) == 0 {
		return nil, fmt.Errorf("security: at least one secret version is required")
	}
	cleaned := make([]SecretVersion, 0, len(versions))
	for _, version := range versions {
		if strings.TrimSpace(version.Secret) == "" {
			return nil, fmt.Errorf("security: secret version %d has no secret material", version.Version)
		}
		if version.Version <= 0 {
			return nil, fmt.Errorf("security: secret versions must be positive, got %d", version.Version)
		}
		if strings.TrimSpace(version.KeyID) == "" {
			version.KeyID = "webhook-secret"
		}
		cleaned = append(cleaned, version)
	}
	provider := &RotatingSecretProvider{
		versions: cleaned,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	if provider.now == nil {
		provider.now = func() time.Time { return time.Now().UTC() }
	}
	return provider, nil
}

func WithRotationClock(now func() time.Time) RotatingOption {
	return func(p *RotatingSecretProvider) {
		if p == nil {
			return
		}
		p.now = now
	}
}

func (p *RotatingSecretProvider) WebhookSecret(_ context.Context) (string, error) {
	active, ok := p.activeVersion()
	if !ok {
		return "", fmt.Errorf("security: no secret version is eligible at the current time")
	}
	return active.Secret, nil
}

// Metadata reports which key version is currently active.
func (p *RotatingSecretProvider) Metadata() (string, int) {
	active, ok := p.activeVersion()
	if !ok {
		return "", 0
	}
	return active.KeyID, active.Version
}

func (p *RotatingSecretProvider) activeVersion() (SecretVersion, bool) {
	if p == nil || len(p.versions) == 0 {
		return SecretVersion{}, false
	}
	at := time.Now().UTC()
	if p.now != nil {
		at = p.now().UTC()
	}
	var active SecretVersion
	found := false
	for _, version := range p.versions {
		if !version.Window.Allows(at) {
			continue
		}
		if !found || version.Version > active.Version {
			active = version
			found = true
		}
	}
	return active, found
}
