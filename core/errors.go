package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ServiceErrorBadInput           = "CRMSYNC_BAD_INPUT"
	ServiceErrorEventNotFound      = "CRMSYNC_EVENT_NOT_FOUND"
	ServiceErrorGradeNotFound      = "CRMSYNC_GRADE_NOT_FOUND"
	ServiceErrorInvalidTransition  = "CRMSYNC_INVALID_TRANSITION"
	ServiceErrorNotCleanupEligible = "CRMSYNC_NOT_CLEANUP_ELIGIBLE"
	ServiceErrorClaimConflict      = "CRMSYNC_CLAIM_CONFLICT"
	ServiceErrorDeliveryFailed     = "CRMSYNC_DELIVERY_FAILED"
	ServiceErrorNotConfigured      = "CRMSYNC_NOT_CONFIGURED"
	ServiceErrorInternal           = "CRMSYNC_INTERNAL_ERROR"
)

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrEventNotFound):
		return newServiceError(err, goerrors.CategoryNotFound, ServiceErrorEventNotFound)
	case errors.Is(err, ErrGradeRecordNotFound):
		return newServiceError(err, goerrors.CategoryNotFound, ServiceErrorGradeNotFound)
	case errors.Is(err, ErrInvalidEventTransition), errors.Is(err, ErrInvalidGradeTransition):
		return newServiceError(err, goerrors.CategoryConflict, ServiceErrorInvalidTransition)
	case errors.Is(err, ErrEventNotCleanupEligible):
		return newServiceError(err, goerrors.CategoryConflict, ServiceErrorNotCleanupEligible)
	case errors.Is(err, ErrEventClaimConflict):
		return newServiceError(err, goerrors.CategoryConflict, ServiceErrorClaimConflict)
	case errors.Is(err, ErrUnknownEventType), errors.Is(err, ErrInvalidGradeCompositeKey):
		return newServiceError(err, goerrors.CategoryBadInput, ServiceErrorBadInput)
	case errors.Is(err, ErrDeliveryEndpointMissing),
		errors.Is(err, ErrDerivationNotConfigured),
		errors.Is(err, ErrTokenStoreNotConfigured),
		errors.Is(err, ErrStoreProviderNotAvailable):
		return newServiceError(err, goerrors.CategoryOperation, ServiceErrorNotConfigured)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	if strings.Contains(msg, "required") || strings.Contains(msg, "invalid") {
		return newServiceError(err, goerrors.CategoryBadInput, ServiceErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

// MapError converts a core error into the go-errors envelope used by the
// command and query layers.
func MapError(err error) *goerrors.Error {
	return serviceErrorMapper(err)
}

func newServiceError(source error, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.Wrap(source, category, source.Error()).
			WithCode(serviceHTTPStatus(category)).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorEventNotFound
	case goerrors.CategoryConflict:
		return ServiceErrorInvalidTransition
	case goerrors.CategoryExternal:
		return ServiceErrorDeliveryFailed
	case goerrors.CategoryOperation:
		return ServiceErrorNotConfigured
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	case goerrors.CategoryOperation:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
