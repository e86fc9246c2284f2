package webhooks

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/goliatone/go-billing-webhooks/core"
	"github.com/goliatone/go-billing-webhooks/signature"
)

// DefaultMaxBodyBytes bounds delivery payloads. Provider events are small;
// anything past this is either misconfiguration or abuse.
const DefaultMaxBodyBytes = 1 << 20

type httpResponse struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	EventID   string `json:"event_id,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Handler returns the endpoint for POST deliveries. The raw body is passed to
// verification byte-exact: any re-serialization before the HMAC check would
// break signatures over payloads with non-canonical JSON.
func (p *Processor) Handler() http.Handler {
	return p.HandlerWithLimit(DefaultMaxBodyBytes)
}

func (p *Processor) HandlerWithLimit(maxBodyBytes int64) http.Handler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = DefaultMaxBodyBytes
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, httpResponse{
				Error: "method not allowed",
			})
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			status := http.StatusBadRequest
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				status = http.StatusRequestEntityTooLarge
			}
			core.LogWarn(r.Context(), p.Logger, "failed to read delivery body", map[string]any{
				"error": err.Error(),
			})
			writeJSON(w, status, httpResponse{Error: "unreadable request body"})
			return
		}

		signatureHeader := r.Header.Get(p.signatureHeaderName())
		result, processErr := p.Process(r.Context(), body, signatureHeader)

		response := httpResponse{
			Received:  result.Accepted,
			Duplicate: result.Duplicate,
			EventID:   result.EventID,
		}
		if processErr != nil && !result.Accepted {
			response.Error = core.MapError(processErr).Message
		}
		status := result.StatusCode
		if status == 0 {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, response)
	})
}

func (p *Processor) signatureHeaderName() string {
	if named, ok := p.Verifier.(interface{ HeaderName() string }); ok {
		if header := named.HeaderName(); header != "" {
			return header
		}
	}
	return signature.DefaultSignatureHeader
}

func writeJSON(w http.ResponseWriter, status int, body httpResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
