package core

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestParseEventType(t *testing.T) {
	got, err := ParseEventType(" Grade_Updated ")
	if err != nil || got != EventGradeUpdated {
		t.Fatalf("expected grade_updated, got %q err=%v", got, err)
	}
	if _, err := ParseEventType("course_viewed"); !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected unknown event type, got %v", err)
	}
	if len(EventTypes()) != 7 {
		t.Fatalf("expected seven routed event types, got %d", len(EventTypes()))
	}
}

func TestRecordInput_Validate(t *testing.T) {
	if err := (RecordInput{EventType: "bogus", Payload: []byte(`{}`)}).Validate(); !errors.Is(err, ErrUnknownEventType) {
		t.Fatalf("expected unknown type error, got %v", err)
	}
	if err := (RecordInput{EventType: EventUserCreated}).Validate(); err == nil {
		t.Fatalf("expected empty payload to be rejected")
	}
	if err := (RecordInput{EventType: EventUserCreated, Payload: []byte(`{}`)}).Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBuildWebhookBody_UsesStoredRow(t *testing.T) {
	hostID := int64(991)
	created := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	event := Event{
		ID:          "evt_1",
		EventType:   EventGradeUpdated,
		Payload:     []byte(`{"grade_id":"g1","finalgrade_numeric":92}`),
		HostEventID: &hostID,
		CreatedAt:   created,
	}
	body, err := BuildWebhookBody(event)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	var decoded struct {
		EventID       string         `json:"event_id"`
		EventType     string         `json:"event_type"`
		EventData     map[string]any `json:"event_data"`
		MoodleEventID *int64         `json:"moodle_event_id"`
		Timestamp     int64          `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.EventID != "evt_1" || decoded.EventType != "grade_updated" {
		t.Fatalf("unexpected envelope: %+v", decoded)
	}
	if decoded.MoodleEventID == nil || *decoded.MoodleEventID != 991 {
		t.Fatalf("expected host event id, got %v", decoded.MoodleEventID)
	}
	if decoded.Timestamp != created.Unix() {
		t.Fatalf("expected creation timestamp, got %d", decoded.Timestamp)
	}
	if decoded.EventData["finalgrade_numeric"] != float64(92) {
		t.Fatalf("unexpected event data: %+v", decoded.EventData)
	}

	again, err := BuildWebhookBody(event)
	if err != nil || string(again) != string(body) {
		t.Fatalf("expected byte-identical rebuild")
	}

	event.Payload = []byte(`{broken`)
	if _, err := BuildWebhookBody(event); err == nil {
		t.Fatalf("expected invalid stored payload to fail")
	}
}

func TestDeliveryErrorMessage(t *testing.T) {
	if got := deliveryErrorMessage(503, []byte(" busy "), nil); got != "HTTP 503: busy" {
		t.Fatalf("unexpected message %q", got)
	}
	if got := deliveryErrorMessage(0, nil, errors.New("dial tcp: timeout")); got != "dial tcp: timeout" {
		t.Fatalf("unexpected message %q", got)
	}
	long := make([]byte, 4000)
	for i := range long {
		long[i] = 'x'
	}
	if got := deliveryErrorMessage(500, long, nil); len(got) != maxLastErrorLength {
		t.Fatalf("expected truncation to %d, got %d", maxLastErrorLength, len(got))
	}
}

func TestTruncateString_KeepsValidUTF8(t *testing.T) {
	cases := []struct {
		name  string
		value string
		limit int
		want  string
	}{
		{name: "ascii", value: "abcdef", limit: 4, want: "abcd"},
		{name: "cut inside two byte rune", value: "aé", limit: 2, want: "a"},
		{name: "cut inside four byte rune", value: "ok😀", limit: 5, want: "ok"},
		{name: "boundary is kept", value: "éé", limit: 2, want: "é"},
		{name: "invalid bytes replaced", value: "a\xffb", limit: 0, want: "a\uFFFDb"},
		{name: "short value", value: "ü", limit: 10, want: "ü"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := truncateString(tc.value, tc.limit)
			if got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
			if !utf8.ValidString(got) {
				t.Fatalf("expected valid utf-8, got %q", got)
			}
		})
	}

	body := []byte(strings.Repeat("é", MaxStoredResponseBody))
	got := truncateString(string(body), MaxStoredResponseBody-1)
	if !utf8.ValidString(got) || len(got) > MaxStoredResponseBody-1 {
		t.Fatalf("expected valid capped body, got %d bytes valid=%v", len(got), utf8.ValidString(got))
	}
	message := deliveryErrorMessage(500, []byte(strings.Repeat("ñ", maxLastErrorLength)), nil)
	if !utf8.ValidString(message) || len(message) > maxLastErrorLength {
		t.Fatalf("expected valid capped message, got %d bytes", len(message))
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
	cfg.Delivery.EndpointURL = "://bad"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected invalid url to fail")
	}
	cfg = DefaultConfig()
	cfg.Retry.MaxRetries = -1
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected negative retries to fail")
	}
}
