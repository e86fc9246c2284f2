package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorBadInput         = "WEBHOOK_BAD_INPUT"
	ErrorSecretMissing    = "WEBHOOK_SECRET_MISSING"
	ErrorSignatureMissing = "WEBHOOK_SIGNATURE_MISSING"
	ErrorSignatureInvalid = "WEBHOOK_SIGNATURE_INVALID"
	ErrorValidation       = "WEBHOOK_PAYLOAD_INVALID"
	ErrorConflict         = "WEBHOOK_CONFLICT"
	ErrorNotFound         = "WEBHOOK_NOT_FOUND"
	ErrorRetryExhausted   = "WEBHOOK_RETRY_EXHAUSTED"
	ErrorOperationFailed  = "WEBHOOK_OPERATION_FAILED"
	ErrorInternal         = "WEBHOOK_INTERNAL_ERROR"
)

func newCoreError(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithCode(http.StatusBadRequest).
		WithTextCode(ErrorBadInput)
}

// MapError normalizes any error into a pipeline error envelope with a
// category, HTTP status, and text code populated.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"):
		return ensureErrorEnvelope(
			goerrors.New(err.Error(), goerrors.CategoryAuth).
				WithCode(http.StatusBadRequest).
				WithTextCode(ErrorSignatureInvalid),
		)
	case strings.Contains(msg, "secret"):
		return ensureErrorEnvelope(
			goerrors.New(err.Error(), goerrors.CategoryInternal).
				WithTextCode(ErrorSecretMissing),
		)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"):
		return ensureErrorEnvelope(
			goerrors.New(err.Error(), goerrors.CategoryBadInput).
				WithTextCode(ErrorBadInput),
		)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = httpStatusFor(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

// IsNotFound reports whether err represents a missing record, used by
// handlers that create-on-demand when a read misses.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		if richErr.Category == goerrors.CategoryNotFound {
			return true
		}
		if strings.EqualFold(richErr.TextCode, ErrorNotFound) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

// StatusFor resolves the HTTP status to surface for err, defaulting to 500.
func StatusFor(err error) int {
	mapped := MapError(err)
	if mapped == nil {
		return http.StatusOK
	}
	if mapped.Code > 0 {
		return mapped.Code
	}
	return http.StatusInternalServerError
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput:
		return ErrorBadInput
	case goerrors.CategoryValidation:
		return ErrorValidation
	case goerrors.CategoryNotFound:
		return ErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorSignatureInvalid
	case goerrors.CategoryConflict:
		return ErrorConflict
	case goerrors.CategoryOperation:
		return ErrorOperationFailed
	default:
		return ErrorInternal
	}
}

func httpStatusFor(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		// Provider webhook rejections are 400-class: the caller is the event
		// source, and 4xx tells it the delivery will never verify.
		return http.StatusBadRequest
	case goerrors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
