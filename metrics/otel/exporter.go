// Package otel bridges the engine's in-process counters to an
// OpenTelemetry meter. Counters are exported as observable instruments
// read from a snapshot on each collection, so the hot path stays a
// single atomic add.
package otel

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/metric"

	"github.com/authcore-dev/authcore"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Source is the subset of the engine the exporter reads.
type Source interface {
	MetricsSnapshot() authcore.MetricsSnapshot
	AuditDropped() uint64
}

type counterDef struct {
	id   authcore.MetricID
	name string
	help string
}

var counterDefs = []counterDef{
	{authcore.MetricLoginSuccess, "authcore_login_success_total", "Completed logins."},
	{authcore.MetricLoginFailure, "authcore_login_failure_total", "Failed logins."},
	{authcore.MetricLoginAttemptLimited, "authcore_login_attempt_limited_total", "Logins refused by the attempt limit."},
	{authcore.MetricMFAChallengeIssued, "authcore_mfa_challenge_issued_total", "Issued MFA challenges."},
	{authcore.MetricMFASuccess, "authcore_mfa_success_total", "Confirmed MFA challenges."},
	{authcore.MetricMFAFailure, "authcore_mfa_failure_total", "Rejected MFA codes."},
	{authcore.MetricRefreshSuccess, "authcore_refresh_success_total", "Successful refreshes."},
	{authcore.MetricRefreshFailure, "authcore_refresh_failure_total", "Rejected refresh tokens."},
	{authcore.MetricVerifySuccess, "authcore_verify_success_total", "Accepted access tokens."},
	{authcore.MetricVerifyDenied, "authcore_verify_denied_total", "Rejected access tokens."},
	{authcore.MetricSessionCreated, "authcore_session_created_total", "Created sessions."},
	{authcore.MetricSessionRevoked, "authcore_session_revoked_total", "Revoked sessions."},
	{authcore.MetricLogout, "authcore_logout_total", "Explicit logouts."},
	{authcore.MetricPasswordChanged, "authcore_password_changed_total", "Applied password changes."},
	{authcore.MetricSnapshotHit, "authcore_snapshot_hit_total", "Snapshot cache hits."},
	{authcore.MetricSnapshotMiss, "authcore_snapshot_miss_total", "Snapshot cache rebuilds."},
	{authcore.MetricPermissionDenied, "authcore_permission_denied_total", "Failed permission checks."},
}

type observedCounter struct {
	id         authcore.MetricID
	instrument metric.Int64ObservableCounter
}

// Exporter registers observable counters on a meter and feeds them from
// engine snapshots. Close unregisters the callback.
type Exporter struct {
	source       Source
	registration metric.Registration
	counters     []observedCounter
	auditDropped metric.Int64ObservableCounter
}

// NewExporter wires every engine counter plus the audit-drop counter
// into meter.
func NewExporter(meter metric.Meter, source Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	exporter := &Exporter{
		source:   source,
		counters: make([]observedCounter, 0, len(counterDefs)),
	}
	observables := make([]metric.Observable, 0, len(counterDefs)+1)

	for _, def := range counterDefs {
		ins, err := meter.Int64ObservableCounter(def.name, metric.WithDescription(def.help))
		if err != nil {
			return nil, fmt.Errorf("create observable counter %s: %w", def.name, err)
		}
		exporter.counters = append(exporter.counters, observedCounter{id: def.id, instrument: ins})
		observables = append(observables, ins)
	}

	auditDropped, err := meter.Int64ObservableCounter(
		"authcore_audit_dropped_total",
		metric.WithDescription("Audit events discarded under dispatcher backpressure."),
	)
	if err != nil {
		return nil, fmt.Errorf("create audit dropped counter: %w", err)
	}
	exporter.auditDropped = auditDropped
	observables = append(observables, auditDropped)

	registration, err := meter.RegisterCallback(func(_ context.Context, observer metric.Observer) error {
		snapshot := exporter.source.MetricsSnapshot()
		for _, c := range exporter.counters {
			observer.ObserveInt64(c.instrument, int64(snapshot.Counters[c.id]))
		}
		observer.ObserveInt64(exporter.auditDropped, int64(exporter.source.AuditDropped()))
		return nil
	}, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}

	exporter.registration = registration
	return exporter, nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
