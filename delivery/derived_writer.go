package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/goliatone/go-crmsync/core"
	goerrors "github.com/goliatone/go-errors"
)

const derivedEventType = "grade_derived"

// DerivedRecordWriter posts derived fail or referral records to the CRM
// backend through the same single-attempt client used for webhooks.
type DerivedRecordWriter struct {
	client   core.DeliveryClient
	endpoint string
}

func NewDerivedRecordWriter(client core.DeliveryClient, endpoint string) (*DerivedRecordWriter, error) {
	if client == nil {
		return nil, fmt.Errorf("delivery: delivery client is required")
	}
	if strings.TrimSpace(endpoint) == "" {
		return nil, core.ErrDeliveryEndpointMissing
	}
	return &DerivedRecordWriter{client: client, endpoint: strings.TrimSpace(endpoint)}, nil
}

type derivedRecordBody struct {
	EventType    string `json:"event_type"`
	Action       string `json:"action"`
	Reason       string `json:"reason,omitempty"`
	CompositeKey string `json:"composite_key"`
	GradeID      string `json:"grade_id,omitempty"`
	StudentID    string `json:"student_id"`
	AssignmentID string `json:"assignment_id"`
	Attempt      int    `json:"attempt"`
}

// CreateDerived returns the CRM record id from the response, or "" when the
// backend did not echo one.
func (w *DerivedRecordWriter) CreateDerived(
	ctx context.Context,
	record core.GradeQueueRecord,
	decision core.DerivationDecision,
) (string, error) {
	if w == nil || w.client == nil {
		return "", fmt.Errorf("delivery: derived record writer is not configured")
	}
	body, err := json.Marshal(derivedRecordBody{
		EventType:    derivedEventType,
		Action:       string(decision.Action),
		Reason:       decision.Reason,
		CompositeKey: record.CompositeKey,
		GradeID:      record.GradeID,
		StudentID:    record.StudentID,
		AssignmentID: record.AssignmentID,
		Attempt:      record.Attempt,
	})
	if err != nil {
		return "", fmt.Errorf("delivery: encode derived record: %w", err)
	}
	response, err := w.client.Deliver(ctx, core.DeliveryRequest{URL: w.endpoint, Body: body})
	if err != nil {
		return "", err
	}
	if core.ClassifyDelivery(response.StatusCode, nil) != core.DeliveryOutcomeSent {
		return "", deliveryError(
			fmt.Sprintf("delivery: derived record rejected with HTTP %d", response.StatusCode),
			goerrors.CategoryExternal,
			http.StatusBadGateway,
			map[string]any{"composite_key": record.CompositeKey, "status_code": response.StatusCode},
		)
	}
	return core.ParseZohoRecordID(response.Body), nil
}

var _ core.DerivedRecordWriter = (*DerivedRecordWriter)(nil)
