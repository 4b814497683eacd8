package authflow

import (
	"sort"
	"sync/atomic"
	"time"
)

// MetricID identifies one engine counter.
type MetricID uint16

const (
	// MetricFlowStarted counts flows created by the engine.
	MetricFlowStarted MetricID = iota
	// MetricFlowCancelled counts flows reset to idle by Cancel or Back.
	MetricFlowCancelled
	// MetricFlowClosed counts torn-down flows.
	MetricFlowClosed
	// MetricValidationRejected counts inputs rejected before any external call.
	MetricValidationRejected
	// MetricCodeSent counts successful sends and resends.
	MetricCodeSent
	// MetricCodeSendFailure counts failed sends and resends.
	MetricCodeSendFailure
	// MetricResendRejected counts resends refused because the cooldown was running.
	MetricResendRejected
	// MetricSignupVerified counts signup flows that reached the verified state.
	MetricSignupVerified
	// MetricSignupVerifyFailure counts failed signup verifications.
	MetricSignupVerifyFailure
	// MetricResetCompleted counts password resets that committed a new password.
	MetricResetCompleted
	// MetricResetCodeFailure counts reset submissions sent back to code entry.
	MetricResetCodeFailure
	// MetricResetOtherFailure counts reset submissions kept on the password form.
	MetricResetOtherFailure
	// MetricStaleResponseDropped counts responses ignored because the flow moved on.
	MetricStaleResponseDropped
	// MetricSignInSuccess counts successful credential sign-ins.
	MetricSignInSuccess
	// MetricSignInFailure counts failed credential sign-ins.
	MetricSignInFailure
	// MetricExternalCallLatency is the latency histogram of SendCode and VerifyCode calls.
	MetricExternalCallLatency
	metricIDCount
)

// LatencyBucketBounds are the inclusive upper bounds of the external-call
// latency histogram. A final overflow bucket catches everything slower.
var LatencyBucketBounds = []time.Duration{
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	2500 * time.Millisecond,
}

const histBucketCount = 8

// counter sits alone on its cache line so hot IDs do not false-share.
type counter struct {
	atomic.Uint64
	_ [56]byte
}

// Metrics holds lock-free engine counters. A nil or disabled Metrics ignores updates.
type Metrics struct {
	enabled bool
	latency bool
	counts  [metricIDCount]counter
	calls   [histBucketCount]atomic.Uint64
}

// MetricsSnapshot is a point-in-time copy of every counter and histogram.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics returns counters configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled: cfg.Enabled,
		latency: cfg.Enabled && cfg.EnableLatencyHistograms,
	}
}

// Enabled reports whether counters are recorded.
func (m *Metrics) Enabled() bool { return m != nil && m.enabled }

// LatencyEnabled reports whether the latency histogram is recorded.
func (m *Metrics) LatencyEnabled() bool { return m != nil && m.latency }

// Inc increments a counter.
func (m *Metrics) Inc(id MetricID) {
	if m.Enabled() && id < MetricExternalCallLatency {
		m.counts[id].Add(1)
	}
}

// Observe records d in the histogram for id. Only MetricExternalCallLatency has buckets.
func (m *Metrics) Observe(id MetricID, d time.Duration) {
	if m.LatencyEnabled() && id == MetricExternalCallLatency {
		m.calls[latencyBucket(d)].Add(1)
	}
}

// Value returns the current value of a counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricExternalCallLatency {
		return 0
	}
	return m.counts[id].Load()
}

// Snapshot copies every counter. Disabled metrics yield empty maps.
func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Counters:   map[MetricID]uint64{},
		Histograms: map[MetricID][]uint64{},
	}
	if !m.Enabled() {
		return s
	}
	for id := MetricID(0); id < MetricExternalCallLatency; id++ {
		s.Counters[id] = m.counts[id].Load()
	}
	if m.latency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = m.calls[i].Load()
		}
		s.Histograms[MetricExternalCallLatency] = buckets
	}
	return s
}

func latencyBucket(d time.Duration) int {
	return sort.Search(len(LatencyBucketBounds), func(i int) bool {
		return d <= LatencyBucketBounds[i]
	})
}
