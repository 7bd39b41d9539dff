// Package metrics holds the Prometheus collectors exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SignIns counts sign-in attempts by outcome (ok, invalid_credentials, pending_approval, ...).
	SignIns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "sign_ins_total",
		Help:      "Sign-in attempts by outcome.",
	}, []string{"outcome"})

	// SignUps counts registration attempts by outcome.
	SignUps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "sign_ups_total",
		Help:      "Registration attempts by outcome.",
	}, []string{"outcome"})

	// StudentMutations counts successful writes to the students table.
	StudentMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "student_mutations_total",
		Help:      "Student record writes by operation.",
	}, []string{"op"})

	// AttendanceRows counts bulk attendance rows by result (applied, unmatched, failed).
	AttendanceRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "attendance_rows_total",
		Help:      "Bulk attendance rows by result.",
	}, []string{"result"})

	// RosterRefreshes counts full refetches of the live student roster.
	RosterRefreshes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "roster_refreshes_total",
		Help:      "Full refetches of the live student roster.",
	})

	// RosterSize is the number of records in the live roster after the last refresh.
	RosterSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "portal",
		Name:      "roster_size",
		Help:      "Records held by the live student roster.",
	})

	// Exports counts generated export files by format.
	Exports = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "portal",
		Name:      "exports_total",
		Help:      "Generated export files by format.",
	}, []string{"format"})
)
