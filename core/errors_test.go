package core

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	goerrors "github.com/goliatone/go-errors"
)

func TestServiceErrorMapper_AssignsStableCodes(t *testing.T) {
	cases := []struct {
		err      error
		textCode string
		category goerrors.Category
		status   int
	}{
		{fmt.Errorf("get: %w", ErrEventNotFound), ServiceErrorEventNotFound, goerrors.CategoryNotFound, http.StatusNotFound},
		{ErrGradeRecordNotFound, ServiceErrorGradeNotFound, goerrors.CategoryNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: sent", ErrInvalidEventTransition), ServiceErrorInvalidTransition, goerrors.CategoryConflict, http.StatusConflict},
		{ErrEventNotCleanupEligible, ServiceErrorNotCleanupEligible, goerrors.CategoryConflict, http.StatusConflict},
		{ErrEventClaimConflict, ServiceErrorClaimConflict, goerrors.CategoryConflict, http.StatusConflict},
		{ErrUnknownEventType, ServiceErrorBadInput, goerrors.CategoryBadInput, http.StatusBadRequest},
		{ErrTokenStoreNotConfigured, ServiceErrorNotConfigured, goerrors.CategoryOperation, http.StatusServiceUnavailable},
		{stderrors.New("core: event id is required"), ServiceErrorBadInput, goerrors.CategoryBadInput, http.StatusBadRequest},
	}
	for _, tc := range cases {
		mapped := serviceErrorMapper(tc.err)
		if mapped.TextCode != tc.textCode {
			t.Fatalf("%v: expected text code %q, got %q", tc.err, tc.textCode, mapped.TextCode)
		}
		if mapped.Category != tc.category {
			t.Fatalf("%v: expected category %q, got %q", tc.err, tc.category, mapped.Category)
		}
		if mapped.Code != tc.status {
			t.Fatalf("%v: expected status %d, got %d", tc.err, tc.status, mapped.Code)
		}
	}
}

func TestServiceErrorMapper_KeepsRichErrors(t *testing.T) {
	rich := &goerrors.Error{Category: goerrors.CategoryExternal, Message: "crm unreachable"}
	mapped := serviceErrorMapper(rich)
	if mapped.TextCode != ServiceErrorDeliveryFailed {
		t.Fatalf("expected delivery failed text code, got %q", mapped.TextCode)
	}
	if mapped.Code != http.StatusBadGateway {
		t.Fatalf("expected bad gateway, got %d", mapped.Code)
	}
	if serviceErrorMapper(nil) != nil {
		t.Fatalf("expected nil for nil error")
	}
}
