// Package signature authenticates raw webhook payloads before anything else
// touches them. Verification runs on the exact bytes received; re-encoding a
// decoded payload is never byte-stable enough to survive an HMAC check.
package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goliatone/go-billing-webhooks/core"
	goerrors "github.com/goliatone/go-errors"
)

const DefaultSignatureHeader = "X-Signature"

// SecretProvider supplies the shared webhook secret out of band.
type SecretProvider interface {
	WebhookSecret(ctx context.Context) (string, error)
}

type StaticSecretProvider struct {
	Secret string
}

func (p StaticSecretProvider) WebhookSecret(context.Context) (string, error) {
	return strings.TrimSpace(p.Secret), nil
}

type Verifier struct {
	Secrets SecretProvider
	Header  string
}

func NewVerifier(secrets SecretProvider) *Verifier {
	return &Verifier{
		Secrets: secrets,
		Header:  DefaultSignatureHeader,
	}
}

// Verify authenticates rawBody against signatureHeader and parses the event.
// The error envelope carries the HTTP status the transport should surface:
// missing secret is a 500-class configuration failure, missing or mismatched
// signatures are 400-class rejections that must never reach dispatch.
func (v *Verifier) Verify(ctx context.Context, rawBody []byte, signatureHeader string) (core.Event, error) {
	if v == nil {
		return core.Event{}, verifierInternal("signature: verifier is nil")
	}

	secret := ""
	if v.Secrets != nil {
		loaded, err := v.Secrets.WebhookSecret(ctx)
		if err != nil {
			return core.Event{}, goerrors.Wrap(err, goerrors.CategoryInternal, "signature: load webhook secret").
				WithCode(http.StatusInternalServerError).
				WithTextCode(core.ErrorSecretMissing)
		}
		secret = strings.TrimSpace(loaded)
	}
	if secret == "" {
		return core.Event{}, goerrors.New("signature: webhook secret is not configured", goerrors.CategoryInternal).
			WithCode(http.StatusInternalServerError).
			WithTextCode(core.ErrorSecretMissing)
	}

	signatureHeader = strings.TrimSpace(signatureHeader)
	if signatureHeader == "" {
		return core.Event{}, goerrors.New("signature: signature header is missing", goerrors.CategoryAuth).
			WithCode(http.StatusBadRequest).
			WithTextCode(core.ErrorSignatureMissing)
	}

	expected := ComputeSignature(rawBody, secret)
	if !hmac.Equal([]byte(expected), []byte(normalizeSignature(signatureHeader))) {
		return core.Event{}, goerrors.New("signature: signature mismatch", goerrors.CategoryAuth).
			WithCode(http.StatusBadRequest).
			WithTextCode(core.ErrorSignatureInvalid).
			WithMetadata(map[string]any{"header": v.HeaderName()})
	}

	event, err := parseEvent(rawBody)
	if err != nil {
		return core.Event{}, err
	}
	return event, nil
}

// ComputeSignature returns the hex HMAC-SHA256 of body under secret. Exposed
// so senders and tests can produce valid headers.
func ComputeSignature(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// HeaderName reports the header the verifier reads signatures from.
func (v *Verifier) HeaderName() string {
	if v != nil && strings.TrimSpace(v.Header) != "" {
		return strings.TrimSpace(v.Header)
	}
	return DefaultSignatureHeader
}

// normalizeSignature tolerates a "sha256=<hex>" prefix, which several
// providers send, without weakening the comparison.
func normalizeSignature(value string) string {
	value = strings.TrimSpace(value)
	if rest, ok := strings.CutPrefix(value, "sha256="); ok {
		return strings.TrimSpace(rest)
	}
	return value
}

type eventEnvelope struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Account string `json:"account"`
	Data    struct {
		Object map[string]any `json:"object"`
	} `json:"data"`
}

func parseEvent(rawBody []byte) (core.Event, error) {
	var envelope eventEnvelope
	if err := json.Unmarshal(rawBody, &envelope); err != nil {
		return core.Event{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "signature: malformed event payload").
			WithCode(http.StatusBadRequest).
			WithTextCode(core.ErrorBadInput)
	}

	event := core.Event{
		ID:       strings.TrimSpace(envelope.ID),
		Type:     strings.TrimSpace(envelope.Type),
		TenantID: resolveTenantID(envelope),
		Raw:      append([]byte(nil), rawBody...),
		Object:   envelope.Data.Object,
	}
	if envelope.Created > 0 {
		event.CreatedAt = time.Unix(envelope.Created, 0).UTC()
	}
	if err := event.Validate(); err != nil {
		return core.Event{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "signature: event envelope is incomplete").
			WithCode(http.StatusBadRequest).
			WithTextCode(core.ErrorBadInput)
	}
	return event, nil
}

// resolveTenantID routes the event to a tenant: object metadata first, then
// the provider account field. Empty is allowed; not every event is scoped.
func resolveTenantID(envelope eventEnvelope) string {
	if metadata, ok := envelope.Data.Object["metadata"].(map[string]any); ok {
		if value := strings.TrimSpace(fmt.Sprint(metadata["tenant_id"])); value != "" && value != "<nil>" {
			return value
		}
	}
	if value := strings.TrimSpace(fmt.Sprint(envelope.Data.Object["tenant_id"])); value != "" && value != "<nil>" {
		return value
	}
	return strings.TrimSpace(envelope.Account)
}

func verifierInternal(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
}

// IsMissingSecret reports a fatal configuration failure: the pipeline must
// not accept traffic unauthenticated.
func IsMissingSecret(err error) bool { return hasTextCode(err, core.ErrorSecretMissing) }

func IsMissingSignature(err error) bool { return hasTextCode(err, core.ErrorSignatureMissing) }

func IsInvalidSignature(err error) bool { return hasTextCode(err, core.ErrorSignatureInvalid) }

func hasTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return strings.EqualFold(richErr.TextCode, textCode)
}
