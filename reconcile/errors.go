package reconcile

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-billing-webhooks/core"
)

// Validation failures are permanent: the payload will never succeed, so the
// pipeline accepts the delivery and surfaces the problem through audit
// instead of provoking redelivery.
func validationError(message string, metadata map[string]any) error {
	err := goerrors.New(message, goerrors.CategoryValidation).
		WithCode(http.StatusBadRequest).
		WithTextCode(core.ErrorValidation)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func dependencyError(message string) error {
	return goerrors.New(message, goerrors.CategoryInternal).
		WithCode(http.StatusInternalServerError).
		WithTextCode(core.ErrorInternal)
}
