// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package reallocation scores rolled-up dimension rows and produces
// tiered budget-reallocation recommendations with guardrails.
package reallocation

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/luxfi/attribution/pkg/aggregate"
)

// ErrInternalConsistency signals structurally impossible input, such
// as negative impression counts. Always fatal to the request.
var ErrInternalConsistency = errors.New("reallocation internal consistency violation")

var (
	hundred  = decimal.NewFromInt(100)
	thousand = decimal.NewFromInt(1000)
)

// ScoredRow is a dimension row with its reallocation scores. Higher
// priority means over-delivering to an under-performer, the prime
// candidate for pulling budget.
type ScoredRow struct {
	aggregate.DimensionRow

	// ImpressionShare is this row's share of total impressions.
	ImpressionShare decimal.Decimal `json:"impression_share"`

	// PerformanceIndex is 100 at baseline, below 100 for
	// under-performers. Zero when the baseline rate is zero.
	PerformanceIndex int64 `json:"performance_index"`

	// PopWeightedIndex is 100 when impressions land proportionally to
	// where the population lives. Zero when no population reference is
	// available for the row.
	PopWeightedIndex int64 `json:"pop_weighted_index,omitempty"`

	Priority int64 `json:"priority"`
}

// Scored is the scored form of one rollup, ready for Recommend.
type Scored struct {
	Dimension aggregate.Dimension `json:"dimension"`
	Rows      []ScoredRow         `json:"rows"`
	Baseline  aggregate.Baseline  `json:"baseline"`

	// TotalPopulation sums the population reference over all rows;
	// zero unless the rollup is geographic.
	TotalPopulation int64 `json:"total_population,omitempty"`
}

// Score computes performance and priority scores for every row of a
// rollup. For geographic rows with population data the priority is
// delivery-vs-population weighted; all other rows use the generic
// share-vs-performance formula. Scores round half-up to integers so
// results audit identically across reruns.
func Score(res aggregate.Result) (Scored, error) {
	scored := Scored{
		Dimension: res.Dimension,
		Baseline:  res.Baseline,
		Rows:      make([]ScoredRow, 0, len(res.Rows)),
	}
	for _, row := range res.Rows {
		if row.Impressions < 0 || row.Visits < 0 {
			return Scored{}, fmt.Errorf("%w: row %q has negative counts", ErrInternalConsistency, row.Key)
		}
		scored.TotalPopulation += row.Population
	}

	baseline := res.Baseline.VisitRate
	totalImps := decimal.NewFromInt(res.Baseline.Impressions)
	totalPop := decimal.NewFromInt(scored.TotalPopulation)

	for _, row := range res.Rows {
		s := ScoredRow{DimensionRow: row}

		// performance_index = round(100 * rate / baseline)
		relative := decimal.Zero
		if baseline.IsPositive() {
			relative = row.VisitRate.Div(baseline)
			s.PerformanceIndex = relative.Mul(hundred).Round(0).IntPart()
		}

		if totalImps.IsPositive() {
			s.ImpressionShare = decimal.NewFromInt(row.Impressions).Div(totalImps)
		}

		// priority = round(1000*share - 100*(rate/baseline))
		generic := thousand.Mul(s.ImpressionShare).Sub(hundred.Mul(relative)).Round(0).IntPart()

		if row.Population > 0 && totalPop.IsPositive() {
			popShare := decimal.NewFromInt(row.Population).Div(totalPop)
			if popShare.IsPositive() {
				s.PopWeightedIndex = s.ImpressionShare.Div(popShare).Mul(hundred).Round(0).IntPart()
			}
		}
		if s.PopWeightedIndex > 0 {
			s.Priority = s.PopWeightedIndex - s.PerformanceIndex
		} else {
			s.Priority = generic
		}

		scored.Rows = append(scored.Rows, s)
	}
	return scored, nil
}
