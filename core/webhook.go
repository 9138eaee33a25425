package core

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxStoredResponseBody caps the response body kept on the ledger row.
	MaxStoredResponseBody = 4 << 10
	maxLastErrorLength    = 1024
)

// WebhookBody is the envelope POSTed to the CRM backend.
type WebhookBody struct {
	EventID       string          `json:"event_id"`
	EventType     EventType       `json:"event_type"`
	EventData     json.RawMessage `json:"event_data"`
	MoodleEventID *int64          `json:"moodle_event_id"`
	Timestamp     int64           `json:"timestamp"`
}

// BuildWebhookBody renders the envelope from the stored row only, so a
// redelivery sends the same bytes as the first attempt.
func BuildWebhookBody(event Event) ([]byte, error) {
	if strings.TrimSpace(event.ID) == "" {
		return nil, fmt.Errorf("core: event id is required")
	}
	if !json.Valid(event.Payload) {
		return nil, fmt.Errorf("core: stored payload for event %q is not valid json", event.ID)
	}
	body := WebhookBody{
		EventID:       event.ID,
		EventType:     event.EventType,
		EventData:     json.RawMessage(event.Payload),
		MoodleEventID: event.HostEventID,
		Timestamp:     event.CreatedAt.Unix(),
	}
	return json.Marshal(body)
}

func EncodePayload(payload Payload) ([]byte, error) {
	if payload == nil {
		payload = Payload{}
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("core: encode payload: %w", err)
	}
	return encoded, nil
}

// ClassifyDelivery maps one attempt to an outcome. Transport errors and 5xx
// are retryable; any other non-2xx is terminal.
func ClassifyDelivery(statusCode int, err error) DeliveryOutcome {
	if err != nil {
		return DeliveryOutcomeRetryable
	}
	switch {
	case statusCode >= 200 && statusCode < 300:
		return DeliveryOutcomeSent
	case statusCode >= 500:
		return DeliveryOutcomeRetryable
	default:
		return DeliveryOutcomeTerminal
	}
}

func deliveryErrorMessage(statusCode int, body []byte, err error) string {
	var message string
	if err != nil {
		message = err.Error()
	} else {
		message = fmt.Sprintf("HTTP %d", statusCode)
		if snippet := strings.TrimSpace(string(body)); snippet != "" {
			message += ": " + snippet
		}
	}
	return truncateString(message, maxLastErrorLength)
}

// truncateString caps value at limit bytes without splitting a rune. Invalid
// UTF-8 is replaced so the result is always safe to store as text.
func truncateString(value string, limit int) string {
	value = strings.ToValidUTF8(value, "\uFFFD")
	if limit <= 0 || len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
