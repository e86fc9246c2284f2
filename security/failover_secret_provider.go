package security

import (
	"context"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/goliatone/go-billing-webhooks/signature"
)

type SecretProviderFailurePolicy string

const (
	SecretProviderFailurePolicyStrict   SecretProviderFailurePolicy = "strict_fail"
	SecretProviderFailurePolicyFallback SecretProviderFailurePolicy = "fallback_allowed"
)

type SecretProviderDiagnostic struct {
	OccurredAt time.Time
	Policy     SecretProviderFailurePolicy
	Outcome    string
	Primary    string
	Fallback   string
	Error      string
}

type SecretProviderDiagnosticHook func(event SecretProviderDiagnostic)

type FailoverOption func(*FailoverSecretProvider)

// FailoverSecretProvider reads the signing secret from a primary source and,
// under the fallback policy, from a secondary one when the primary fails.
// Strict policy surfaces primary failures unchanged so verification degrades
// to 500s instead of silently verifying against a stale secret.
type FailoverSecretProvider struct {
	primary        signature.SecretProvider
	fallback       signature.SecretProvider
	policy         SecretProviderFailurePolicy
	diagnosticHook SecretProviderDiagnosticHook
	now            func() time.Time
}

func NewFailoverSecretProvider(primary signature.SecretProvider, opts ...FailoverOption) (*FailoverSecretProvider, error) {
	if primary == nil {
		return nil, fmt.Errorf("security: primary secret provider is required")
	}
	provider := &FailoverSecretProvider{
		primary: primary,
		policy:  SecretProviderFailurePolicyStrict,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(provider)
	}
	provider.policy = normalizeFailurePolicy(provider.policy)
	if provider.policy == SecretProviderFailurePolicyFallback && provider.fallback == nil {
		return nil, fmt.Errorf("security: fallback policy requires a configured fallback secret provider")
	}
	if provider.now == nil {
		provider.now = func() time.Time { return time.Now().UTC() }
	}
	return provider, nil
}

func WithFallbackSecretProvider(provider signature.SecretProvider) FailoverOption {
	return func(f *FailoverSecretProvider) {
		if f == nil {
			return
		}
		f.fallback = provider
	}
}

func WithSecretProviderFailurePolicy(policy SecretProviderFailurePolicy) FailoverOption {
	return func(f *FailoverSecretProvider) {
		if f == nil {
			return
		}
		f.policy = normalizeFailurePolicy(policy)
	}
}

func WithSecretProviderDiagnostics(hook SecretProviderDiagnosticHook) FailoverOption {
	return func(f *FailoverSecretProvider) {
		if f == nil {
			return
		}
		f.diagnosticHook = hook
	}
}

func WithFailoverClock(now func() time.Time) FailoverOption {
	return func(f *FailoverSecretProvider) {
		if f == nil {
			return
		}
		f.now = now
	}
}

func (p *FailoverSecretProvider) WebhookSecret(ctx context.Context) (string, error) {
	if p == nil {
		return "", fmt.Errorf("security: secret provider is nil")
	}
	secret, err := p.primary.WebhookSecret(ctx)
	if err == nil && strings.TrimSpace(secret) != "" {
		return secret, nil
	}
	if err == nil {
		err = fmt.Errorf("security: primary secret provider returned an empty secret")
	}
	p.emit("primary_failed", err)
	if p.policy == SecretProviderFailurePolicyStrict || p.fallback == nil {
		return "", fmt.Errorf("security: primary secret load failed with %s policy: %w", p.policy, err)
	}
	fallbackSecret, fallbackErr := p.fallback.WebhookSecret(ctx)
	if fallbackErr != nil {
		p.emit("fallback_failed", fallbackErr)
		return "", fmt.Errorf("security: primary secret load failed: %v; fallback failed: %w", err, fallbackErr)
	}
	p.emit("fallback_succeeded", err)
	return fallbackSecret, nil
}

func (p *FailoverSecretProvider) emit(outcome string, err error) {
	if p == nil || p.diagnosticHook == nil {
		return
	}
	now := p.now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	p.diagnosticHook(SecretProviderDiagnostic{
		OccurredAt: now().UTC(),
		Policy:     p.policy,
		Outcome:    outcome,
		Primary:    describeSecretProvider(p.primary),
		Fallback:   describeSecretProvider(p.fallback),
		Error:      msg,
	})
}

func normalizeFailurePolicy(policy SecretProviderFailurePolicy) SecretProviderFailurePolicy {
	normalized := SecretProviderFailurePolicy(strings.ToLower(strings.TrimSpace(string(policy))))
	switch normalized {
	case SecretProviderFailurePolicyFallback:
		return SecretProviderFailurePolicyFallback
	default:
		return SecretProviderFailurePolicyStrict
	}
}

func describeSecretProvider(provider signature.SecretProvider) string {
	if provider == nil {
		return ""
	}
	label := reflect.TypeOf(provider).String()
	if metadataProvider, ok := provider.(interface{ Metadata() (string, int) }); ok {
		keyID, version := metadataProvider.Metadata()
		if strings.TrimSpace(keyID) != "" && version > 0 {
			return fmt.Sprintf("%s(%s:%d)", label, keyID, version)
		}
	}
	return label
}

var _ signature.SecretProvider = (*FailoverSecretProvider)(nil)
