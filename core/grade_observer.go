package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// GradeSyncObserver feeds real-time grade_updated deliveries into the grade
// queue. Successes against a FAILED row are logged and dropped until an
// operator resets the row.
type GradeSyncObserver struct {
	queue     *GradeQueue
	telemetry telemetry
}

func NewGradeSyncObserver(queue *GradeQueue, logger Logger) *GradeSyncObserver {
	return &GradeSyncObserver{queue: queue, telemetry: newTelemetry(logger, nil)}
}

func (o *GradeSyncObserver) OnDelivery(ctx context.Context, event Event, result DeliveryResult) {
	if o == nil || o.queue == nil || event.EventType != EventGradeUpdated {
		return
	}
	input, err := gradeSyncInputFromPayload(event.Payload)
	if err != nil {
		o.telemetry.logWarn(ctx, "grade payload not usable for queue", map[string]any{
			"event_id": event.ID,
			"error":    err.Error(),
		})
		return
	}

	switch result.Status {
	case EventStatusSent:
		input.ZohoRecordID = ParseZohoRecordID(result.Body)
		_, err = o.queue.ConfirmSynced(ctx, input)
	case EventStatusFailed:
		_, err = o.queue.RecordFailure(ctx, input, deliveryErrorMessage(result.StatusCode, result.Body, result.Err))
	default:
		return
	}
	if err != nil {
		o.telemetry.logWarn(ctx, "grade queue update failed", map[string]any{
			"event_id": event.ID,
			"status":   string(result.Status),
			"error":    err.Error(),
		})
	}
}

func gradeSyncInputFromPayload(payload []byte) (GradeSyncInput, error) {
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	values := map[string]any{}
	if err := decoder.Decode(&values); err != nil {
		return GradeSyncInput{}, fmt.Errorf("core: decode grade payload: %w", err)
	}
	input := GradeSyncInput{
		GradeID:      payloadString(values["grade_id"]),
		StudentID:    payloadString(values["user_id"]),
		AssignmentID: payloadString(values["item_id"]),
	}
	if raw := payloadString(values["attempt"]); raw != "" {
		attempt, err := strconv.Atoi(raw)
		if err != nil {
			return GradeSyncInput{}, fmt.Errorf("core: invalid attempt %q", raw)
		}
		input.Attempt = attempt
	}
	if _, err := input.CompositeKey(); err != nil {
		return GradeSyncInput{}, err
	}
	return input, nil
}

// ParseZohoRecordID reads the CRM record id from a webhook response, trying
// zoho_record_id, record_id and data.id in that order.
func ParseZohoRecordID(body []byte) string {
	if len(bytes.TrimSpace(body)) == 0 {
		return ""
	}
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	values := map[string]any{}
	if err := decoder.Decode(&values); err != nil {
		return ""
	}
	for _, key := range []string{"zoho_record_id", "record_id"} {
		if value := payloadString(values[key]); value != "" {
			return value
		}
	}
	if data, ok := values["data"].(map[string]any); ok {
		return payloadString(data["id"])
	}
	return ""
}

func payloadString(value any) string {
	switch typed := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(typed)
	case json.Number:
		return typed.String()
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64)
	case int:
		return strconv.Itoa(typed)
	case int64:
		return strconv.FormatInt(typed, 10)
	default:
		return strings.TrimSpace(fmt.Sprint(typed))
	}
}

var _ DeliveryObserver = (*GradeSyncObserver)(nil)
