package authcore

import "sync/atomic"

// MetricID identifies a counter in the in-process metrics system.
type MetricID uint16

const (
	// MetricLoginSuccess counts completed logins.
	MetricLoginSuccess MetricID = iota
	// MetricLoginFailure counts credential mismatches.
	MetricLoginFailure
	// MetricLoginAttemptLimited counts logins refused by the attempt limit.
	MetricLoginAttemptLimited
	// MetricMFAChallengeIssued counts issued MFA challenges.
	MetricMFAChallengeIssued
	// MetricMFASuccess counts confirmed challenges.
	MetricMFASuccess
	// MetricMFAFailure counts rejected codes.
	MetricMFAFailure
	// MetricRefreshSuccess counts successful refreshes.
	MetricRefreshSuccess
	// MetricRefreshFailure counts rejected refresh tokens.
	MetricRefreshFailure
	// MetricVerifySuccess counts access tokens accepted by VerifyAccess.
	MetricVerifySuccess
	// MetricVerifyDenied counts access tokens rejected by VerifyAccess.
	MetricVerifyDenied
	// MetricSessionCreated counts created sessions.
	MetricSessionCreated
	// MetricSessionRevoked counts revoked sessions.
	MetricSessionRevoked
	// MetricLogout counts explicit logouts.
	MetricLogout
	// MetricPasswordChanged counts applied password changes.
	MetricPasswordChanged
	// MetricSnapshotHit counts snapshot cache hits.
	MetricSnapshotHit
	// MetricSnapshotMiss counts snapshot cache rebuilds.
	MetricSnapshotMiss
	// MetricPermissionDenied counts failed permission checks.
	MetricPermissionDenied
	metricIDCount
)

const cacheLineSize = 64

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Metrics holds atomic counters. When disabled, all operations are
// no-ops.
type Metrics struct {
	enabled  bool
	counters [metricIDCount]paddedCounter
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot struct {
	Counters map[MetricID]uint64
}

// NewMetrics creates a Metrics instance configured by cfg.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{enabled: cfg.Enabled}
}

// Enabled reports whether counting is active.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	if m == nil || !m.enabled || id >= metricIDCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, 1)
}

// Value reads a single counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= metricIDCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies all counters.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{Counters: map[MetricID]uint64{}}
	}

	s := MetricsSnapshot{Counters: make(map[MetricID]uint64, int(metricIDCount))}
	for id := MetricID(0); id < metricIDCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	return s
}
