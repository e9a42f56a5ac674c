// Package telemetry exports scheduler state as Prometheus metrics.
// It has no dependency on sched/; the scheduler pushes plain values into a Recorder.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "vtc_sched"

	// Label names
	LabelClient  = "client"
	LabelPhase   = "phase"
	LabelKind    = "kind"
	LabelOutcome = "outcome"

	// Outcome values
	OutcomeFinished = "finished"
	OutcomeAborted  = "aborted"
	OutcomeRejected = "rejected"
)

// Recorder holds all Prometheus metrics for one scheduler instance.
// All methods are safe to call on a nil *Recorder (no-op).
type Recorder struct {
	BatchEntries     prometheus.Histogram
	BatchTokens      prometheus.Histogram
	QueueDepth       *prometheus.GaugeVec
	ClientCounter    *prometheus.GaugeVec
	ServedTokens     *prometheus.CounterVec
	RequestsFinished *prometheus.CounterVec
	Preemptions      prometheus.Counter
	Rebases          prometheus.Counter
	Ticks            prometheus.Counter
}

// NewRecorder creates a Recorder and registers its metrics with reg.
// Use a dedicated prometheus.NewRegistry() per scheduler when running several in one process.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		BatchEntries: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_entries",
			Help:      "Number of requests in each submitted batch.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		BatchTokens: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_tokens",
			Help:      "Tokens assigned in each submitted batch.",
			Buckets:   prometheus.ExponentialBuckets(16, 2, 10),
		}),
		QueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Outstanding requests by phase after the last tick.",
		}, []string{LabelPhase}),
		ClientCounter: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "client_virtual_counter",
			Help:      "Absolute virtual token counter per client.",
		}, []string{LabelClient}),
		ServedTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "served_tokens_total",
			Help:      "Tokens served per client, by kind (prefill or decode).",
		}, []string{LabelClient, LabelKind}),
		RequestsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Requests leaving the scheduler, by client and outcome.",
		}, []string{LabelClient, LabelOutcome}),
		Preemptions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "prefill_preemptions_total",
			Help:      "Partially prefilled requests displaced by a lower-counter request.",
		}),
		Rebases: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "counter_rebases_total",
			Help:      "Counter rebase operations.",
		}),
		Ticks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Scheduling ticks that submitted a non-empty batch.",
		}),
	}
}

// ObserveBatch records the size of a submitted batch.
func (r *Recorder) ObserveBatch(entries int, tokens int64) {
	if r == nil {
		return
	}
	r.Ticks.Inc()
	r.BatchEntries.Observe(float64(entries))
	r.BatchTokens.Observe(float64(tokens))
}

// SetQueueDepth records the number of outstanding requests in a phase.
func (r *Recorder) SetQueueDepth(phase string, n int) {
	if r == nil {
		return
	}
	r.QueueDepth.WithLabelValues(phase).Set(float64(n))
}

// SetCounter records a client's absolute virtual counter.
func (r *Recorder) SetCounter(client string, value float64) {
	if r == nil {
		return
	}
	r.ClientCounter.WithLabelValues(client).Set(value)
}

// AddServedTokens adds tokens served to a client.
func (r *Recorder) AddServedTokens(client, kind string, n int64) {
	if r == nil || n <= 0 {
		return
	}
	r.ServedTokens.WithLabelValues(client, kind).Add(float64(n))
}

// IncRequests counts a request leaving the scheduler with the given outcome.
func (r *Recorder) IncRequests(client, outcome string) {
	if r == nil {
		return
	}
	r.RequestsFinished.WithLabelValues(client, outcome).Inc()
}

// AddPreemptions counts displaced partial prefills.
func (r *Recorder) AddPreemptions(n int) {
	if r == nil || n <= 0 {
		return
	}
	r.Preemptions.Add(float64(n))
}

// IncRebase counts one counter rebase.
func (r *Recorder) IncRebase() {
	if r == nil {
		return
	}
	r.Rebases.Inc()
}
