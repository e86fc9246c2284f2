package security

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-billing-webhooks/signature"
)

// SecretSource is the narrow client surface of an external secret manager.
type SecretSource interface {
	FetchSecret(ctx context.Context) (string, error)
}

type SecretSourceFunc func(ctx context.Context) (string, error)

func (f SecretSourceFunc) FetchSecret(ctx context.Context) (string, error) {
	return f(ctx)
}

type ManagedOption func(*ManagedSecretProvider)

// ManagedSecretProvider bridges an external secret manager into signature
// verification. Fetches are cached for a TTL; when a refresh fails, the last
// known secret is served stale rather than failing every delivery during a
// secret-manager outage.
type ManagedSecretProvider struct {
	source     SecretSource
	ttl        time.Duration
	serveStale bool
	now        func() time.Time

	mu        sync.Mutex
	cached    string
	fetchedAt time.Time
}

const DefaultManagedSecretTTL = 5 * time.Minute

func NewManagedSecretProvider(source SecretSource, opts ...ManagedOption) (*ManagedSecretProvider, error) {
	if source == nil {
		return nil, fmt.Errorf("security: secret source is required")
	}
	provider := &ManagedSecretProvider{
		source:     source,
		ttl:        DefaultManagedSecretTTL,
		serveStale: true,
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	if provider.ttl <= 0 {
		provider.ttl = DefaultManagedSecretTTL
	}
	if provider.now == nil {
		provider.now = func() time.Time { return time.Now().UTC() }
	}
	return provider, nil
}

func WithManagedSecretTTL(ttl time.Duration) ManagedOption {
	return func(p *ManagedSecretProvider) {
		if p == nil {
			return
		}
		p.ttl = ttl
	}
}

// WithManagedStrictRefresh disables stale serving: a failed refresh fails the
// read once the cached secret expires.
func WithManagedStrictRefresh() ManagedOption {
	return func(p *ManagedSecretProvider) {
		if p == nil {
			return
		}
		p.serveStale = false
	}
}

func WithManagedClock(now func() time.Time) ManagedOption {
	return func(p *ManagedSecretProvider) {
		if p == nil {
			return
		}
		p.now = now
	}
}

func (p *ManagedSecretProvider) WebhookSecret(ctx context.Context) (string, error) {
	if p == nil || p.source == nil {
		return "", fmt.Errorf("security: managed secret provider is not configured")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now().UTC()
	if p.cached != "" && now.Sub(p.fetchedAt) < p.ttl {
		return p.cached, nil
	}

	secret, err := p.source.FetchSecret(ctx)
	if err != nil {
		if p.serveStale && p.cached != "" {
			return p.cached, nil
		}
		return "", fmt.Errorf("security: fetch secret: %w", err)
	}
	secret = strings.TrimSpace(secret)
	if secret == "" {
		if p.serveStale && p.cached != "" {
			return p.cached, nil
		}
		return "", fmt.Errorf("security: secret source returned an empty secret")
	}

	p.cached = secret
	p.fetchedAt = now
	return secret, nil
}

var _ signature.SecretProvider = (*ManagedSecretProvider)(nil)
