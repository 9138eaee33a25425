package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const HeaderEventID = "X-Crmsync-Event-Id"

// DeliveryPolicy controls how a single attempt is settled on the ledger.
type DeliveryPolicy struct {
	EndpointURL string
	MaxRetries  int
	RetryDelay  time.Duration
}

func (p DeliveryPolicy) withDefaults() DeliveryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.RetryDelay <= 0 {
		p.RetryDelay = DefaultRetryDelay
	}
	return p
}

// NextRetryDelay is linear: the n-th failed attempt waits n*RetryDelay.
func (p DeliveryPolicy) NextRetryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	return p.withDefaults().RetryDelay * time.Duration(attempt)
}

// eventDeliverer performs one attempt for a stored row and settles it. The
// dispatcher and the sweeper share it so both paths agree on outcomes.
type eventDeliverer struct {
	ledger    EventLedger
	client    DeliveryClient
	policy    DeliveryPolicy
	observers []DeliveryObserver
	now       func() time.Time
	telemetry telemetry
}

func (d *eventDeliverer) deliver(ctx context.Context, event Event) (DeliveryResult, error) {
	startedAt := time.Now()
	attempt := event.RetryCount + 1
	result := DeliveryResult{EventID: event.ID, Attempt: attempt}

	var (
		response DeliveryResponse
		sendErr  error
	)
	body, buildErr := BuildWebhookBody(event)
	switch {
	case buildErr != nil:
		sendErr = buildErr
	case d.client == nil:
		sendErr = fmt.Errorf("core: delivery client is not configured")
	case strings.TrimSpace(d.policy.EndpointURL) == "":
		sendErr = ErrDeliveryEndpointMissing
	default:
		response, sendErr = d.client.Deliver(ctx, DeliveryRequest{
			URL:     d.policy.EndpointURL,
			Body:    body,
			Headers: map[string]string{HeaderEventID: event.ID},
		})
	}

	result.StatusCode = response.StatusCode
	result.Body = response.Body
	result.Err = sendErr
	result.Outcome = ClassifyDelivery(response.StatusCode, sendErr)
	if buildErr != nil {
		result.Outcome = DeliveryOutcomeTerminal
	}

	settleErr := d.settle(ctx, event, &result)

	fields := map[string]any{
		"event_id":   event.ID,
		"event_type": string(event.EventType),
		"attempt":    attempt,
		"outcome":    string(result.Outcome),
		"status":     string(result.Status),
	}
	if result.StatusCode > 0 {
		fields["http_status"] = result.StatusCode
	}
	tags := map[string]string{
		"event_type": string(event.EventType),
		"outcome":    string(result.Outcome),
	}
	d.telemetry.recordCounter(ctx, MetricDeliveryAttempts, 1, tags)
	d.telemetry.recordHistogram(ctx, MetricDeliveryDuration, float64(time.Since(startedAt).Milliseconds()), tags)
	switch {
	case settleErr != nil:
		fields["error"] = settleErr.Error()
		d.telemetry.logError(ctx, "crm event settle failed", fields)
		return result, settleErr
	case result.Outcome == DeliveryOutcomeSent:
		d.telemetry.logInfo(ctx, "crm event delivered", fields)
	default:
		if sendErr != nil {
			fields["error"] = sendErr.Error()
		}
		d.telemetry.logWarn(ctx, "crm event delivery failed", fields)
	}

	for _, observer := range d.observers {
		if observer != nil {
			observer.OnDelivery(ctx, event, result)
		}
	}
	return result, nil
}

func (d *eventDeliverer) settle(ctx context.Context, event Event, result *DeliveryResult) error {
	if d.ledger == nil {
		return fmt.Errorf("core: event ledger is not configured")
	}
	if result.Outcome == DeliveryOutcomeSent {
		result.Status = EventStatusSent
		return d.ledger.MarkSent(ctx, event.ID, result.StatusCode)
	}

	failure := FailureInput{
		Cause: errors.New(deliveryErrorMessage(result.StatusCode, result.Body, result.Err)),
	}
	if result.StatusCode > 0 {
		status := result.StatusCode
		failure.HTTPStatus = &status
	}
	if result.Outcome == DeliveryOutcomeTerminal {
		failure.ResponseBody = truncateString(string(result.Body), MaxStoredResponseBody)
	}

	policy := d.policy.withDefaults()
	if result.Outcome == DeliveryOutcomeRetryable && result.Attempt < policy.MaxRetries {
		failure.NextRetryAt = d.now().Add(policy.NextRetryDelay(result.Attempt))
		result.Status = EventStatusRetrying
	} else {
		result.Status = EventStatusFailed
	}
	return d.ledger.MarkFailed(ctx, event.ID, failure)
}
