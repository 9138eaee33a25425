package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type DispatcherConfig struct {
	Enabled   bool
	Policy    DeliveryPolicy
	Logger    Logger
	Metrics   MetricsRecorder
	Observers []DeliveryObserver
	Now       func() time.Time
}

// Dispatcher runs inline with the host action that produced a domain event:
// extract, write the ledger row, then attempt one delivery.
type Dispatcher struct {
	enabled    bool
	ledger     EventLedger
	extractors map[EventType]Extractor
	deliverer  *eventDeliverer
	telemetry  telemetry
}

func NewDispatcher(
	ledger EventLedger,
	client DeliveryClient,
	extractors map[EventType]Extractor,
	config DispatcherConfig,
) (*Dispatcher, error) {
	if ledger == nil {
		return nil, fmt.Errorf("core: event ledger is required")
	}
	if client == nil {
		return nil, fmt.Errorf("core: delivery client is required")
	}
	table := make(map[EventType]Extractor, len(extractors))
	for eventType, extractor := range extractors {
		if !eventType.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
		}
		if extractor != nil {
			table[eventType] = extractor
		}
	}
	now := config.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	tel := newTelemetry(config.Logger, config.Metrics)
	return &Dispatcher{
		enabled:    config.Enabled,
		ledger:     ledger,
		extractors: table,
		deliverer: &eventDeliverer{
			ledger:    ledger,
			client:    client,
			policy:    config.Policy.withDefaults(),
			observers: append([]DeliveryObserver(nil), config.Observers...),
			now:       now,
			telemetry: tel,
		},
		telemetry: tel,
	}, nil
}

// Handle never returns delivery failures. Only invalid input and ledger
// write errors reach the caller.
func (d *Dispatcher) Handle(ctx context.Context, event DomainEvent) (DispatchResult, error) {
	if d == nil {
		return DispatchResult{}, fmt.Errorf("core: dispatcher is not configured")
	}
	if err := event.Validate(); err != nil {
		return DispatchResult{}, err
	}
	if !d.enabled {
		return DispatchResult{State: DispatchStateDisabled, Reason: "dispatch disabled"}, nil
	}

	fields := map[string]any{
		"event_type": string(event.Type),
		"object_id":  event.ObjectID,
	}
	extractor, ok := d.extractors[event.Type]
	if !ok {
		return d.skip(ctx, event, "no extractor registered", fields), nil
	}
	payload, applicable, err := extractor.Extract(ctx, event.ObjectID)
	if err != nil {
		fields["error"] = err.Error()
		return d.skip(ctx, event, "extraction failed", fields), nil
	}
	if !applicable {
		return d.skip(ctx, event, "not applicable", fields), nil
	}
	encoded, err := EncodePayload(payload)
	if err != nil {
		fields["error"] = err.Error()
		return d.skip(ctx, event, "payload encoding failed", fields), nil
	}

	relatedID := strings.TrimSpace(event.RelatedID)
	if relatedID == "" {
		relatedID = strings.TrimSpace(event.ObjectID)
	}
	id, err := d.ledger.Record(ctx, RecordInput{
		EventType:       event.Type,
		Payload:         encoded,
		RelatedObjectID: relatedID,
		HostEventID:     event.HostEventID,
		UserID:          event.UserID,
	})
	if err != nil {
		fields["error"] = err.Error()
		d.telemetry.logError(ctx, "crm event record failed", fields)
		return DispatchResult{}, fmt.Errorf("core: record event: %w", err)
	}
	d.telemetry.recordCounter(ctx, MetricEventsRecorded, 1, map[string]string{"event_type": string(event.Type)})

	stored, err := d.ledger.Get(ctx, id)
	if err != nil {
		return DispatchResult{EventID: id}, fmt.Errorf("core: load recorded event: %w", err)
	}

	result, err := d.deliverer.deliver(ctx, stored)
	if err != nil {
		// The row stays pending and is picked up by stale recovery.
		return DispatchResult{EventID: id, State: DispatchStateRetrying, Reason: err.Error()}, nil
	}
	out := DispatchResult{EventID: id, StatusCode: result.StatusCode}
	switch result.Status {
	case EventStatusSent:
		out.State = DispatchStateSent
	case EventStatusRetrying:
		out.State = DispatchStateRetrying
	default:
		out.State = DispatchStateFailed
	}
	if result.Err != nil {
		out.Reason = result.Err.Error()
	}
	return out, nil
}

func (d *Dispatcher) skip(ctx context.Context, event DomainEvent, reason string, fields map[string]any) DispatchResult {
	fields["reason"] = reason
	d.telemetry.recordCounter(ctx, MetricExtractionSkipped, 1, map[string]string{"event_type": string(event.Type)})
	if _, failed := fields["error"]; failed {
		d.telemetry.logWarn(ctx, "crm event skipped", fields)
	} else {
		d.telemetry.logDebug(ctx, "crm event skipped", fields)
	}
	return DispatchResult{State: DispatchStateSkipped, Reason: reason}
}
