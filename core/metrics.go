package core

import "context"

const (
	MetricEventsRecorded    = "crmsync.events.recorded.total"
	MetricDeliveryAttempts  = "crmsync.delivery.attempts.total"
	MetricDeliveryDuration  = "crmsync.delivery.duration_ms"
	MetricSweepClaimed      = "crmsync.sweep.claimed.total"
	MetricSweepContended    = "crmsync.sweep.contended.total"
	MetricSweepRecovered    = "crmsync.sweep.recovered.total"
	MetricCleanupDeleted    = "crmsync.cleanup.deleted.total"
	MetricGradeTransitions  = "crmsync.grades.transitions.total"
	MetricExtractionSkipped = "crmsync.extract.skipped.total"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func cloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var _ MetricsRecorder = NopMetricsRecorder{}
