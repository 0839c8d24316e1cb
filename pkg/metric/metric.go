// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metric defines the service's prometheus instruments.
package metric

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every instrument the service exports.
type Metrics struct {
	// Requests counts API calls by endpoint and outcome
	// (ok / no_data / low_confidence / failed).
	Requests *prometheus.CounterVec

	// ResolveDuration times the full resolve pipeline per endpoint,
	// warehouse fetch included.
	ResolveDuration *prometheus.HistogramVec

	// CreditedConversions counts episodes surviving dedupe.
	CreditedConversions prometheus.Counter

	// DroppedFlagRows counts over-attributed rows collapsed away.
	DroppedFlagRows prometheus.Counter

	// Household join outcomes. The unmatched count is a first-class
	// signal: identity resolution is lossy on purpose and the loss must
	// stay visible.
	HouseholdMatched   prometheus.Counter
	HouseholdUnmatched prometheus.Counter

	// SnapshotRefreshes counts reference-config reloads.
	SnapshotRefreshes prometheus.Counter

	// CacheOps counts response-cache lookups by result (hit / miss).
	CacheOps *prometheus.CounterVec
}

// New registers all instruments on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attribution",
			Name:      "requests_total",
			Help:      "API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		ResolveDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "attribution",
			Name:      "resolve_duration_seconds",
			Help:      "End-to-end resolve pipeline duration.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"endpoint"}),
		CreditedConversions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "attribution",
			Name:      "credited_conversions_total",
			Help:      "Conversion episodes credited after dedupe.",
		}),
		DroppedFlagRows: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "attribution",
			Name:      "dropped_flag_rows_total",
			Help:      "Over-attributed conversion flag rows collapsed by dedupe.",
		}),
		HouseholdMatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "attribution",
			Name:      "household_matched_total",
			Help:      "Conversions matched to an exposed household.",
		}),
		HouseholdUnmatched: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "attribution",
			Name:      "household_unmatched_total",
			Help:      "Conversions dropped from household-level views.",
		}),
		SnapshotRefreshes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "attribution",
			Name:      "snapshot_refreshes_total",
			Help:      "Reference config snapshot reloads.",
		}),
		CacheOps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "attribution",
			Name:      "cache_ops_total",
			Help:      "Response cache lookups by result.",
		}, []string{"result"}),
	}
}

// NewUnregistered returns instruments on a private registry, for
// tests and tools that never scrape.
func NewUnregistered() *Metrics {
	return New(prometheus.NewRegistry())
}
