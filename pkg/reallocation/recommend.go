// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package reallocation

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/luxfi/attribution/pkg/aggregate"
)

// Tier names. Both tiers are always computed and returned together so
// the caller can present a spectrum.
const (
	TierConservative = "conservative"
	TierAggressive   = "aggressive"
)

const (
	conservativeLimit  = 5
	aggressiveLimit    = 10
	aggressiveGeoLimit = 8

	// aggressiveFloor admits mild under-performers the conservative
	// tier would skip.
	aggressiveFloor = -100
)

// Guardrails bound how much one recommendation pass may exclude.
// Values vary per agency in practice, so they are caller-configurable
// with per-dimension defaults.
type Guardrails struct {
	// MinImpressions is the eligibility floor: smaller rows are too
	// noisy to reallocate away from.
	MinImpressions int64 `yaml:"min_impressions" json:"min_impressions"`

	// MaxExcludedFraction caps the share of total impressions one pass
	// may exclude, preventing single-pass overcorrection.
	MaxExcludedFraction decimal.Decimal `yaml:"max_excluded_fraction" json:"max_excluded_fraction"`

	// MinSurvivorsPerGroup keeps at least this many rows active per
	// higher-level grouping (market area for geography). Zero disables
	// the check.
	MinSurvivorsPerGroup int `yaml:"min_survivors_per_group" json:"min_survivors_per_group"`
}

// DefaultGuardrails returns the stock guardrails for a dimension.
func DefaultGuardrails(d aggregate.Dimension) Guardrails {
	g := Guardrails{
		MinImpressions:      aggregate.DefaultThreshold(d),
		MaxExcludedFraction: decimal.RequireFromString("0.3"),
	}
	if d == aggregate.DimensionGeography {
		g.MinSurvivorsPerGroup = 3
	}
	return g
}

// RecommendationSet is one tier's selection with its projected effect.
type RecommendationSet struct {
	Tier                string          `json:"tier"`
	Rows                []ScoredRow     `json:"rows"`
	ExcludedImpressions int64           `json:"excluded_impressions"`
	ExcludedVisits      int64           `json:"excluded_visits"`
	NewRate             decimal.Decimal `json:"new_rate"`
	ImprovementPct      decimal.Decimal `json:"improvement_pct"`

	// Reason is set when the tier is empty, distinguishing "nothing to
	// optimize" from "no data above threshold".
	Reason string `json:"reason,omitempty"`
}

// Recommendations carries both tiers for one scored rollup.
type Recommendations struct {
	Conservative RecommendationSet `json:"conservative"`
	Aggressive   RecommendationSet `json:"aggressive"`
}

// Recommend selects exclusion candidates for both tiers. Conservative
// takes over-delivering under-performers with nonzero visits, top 5 by
// priority; aggressive loosens the priority floor and takes up to 10
// rows (8 for geography). Selection walks rows in priority order:
// rows whose exclusion would empty a group below the survivor floor
// are never taken, and the walk stops at the largest prefix that
// respects the max-excluded fraction.
func Recommend(scored Scored, g Guardrails) Recommendations {
	if len(scored.Rows) == 0 {
		reason := "no rows above the impression threshold"
		return Recommendations{
			Conservative: RecommendationSet{Tier: TierConservative, Rows: []ScoredRow{}, Reason: reason},
			Aggressive:   RecommendationSet{Tier: TierAggressive, Rows: []ScoredRow{}, Reason: reason},
		}
	}

	byPriority := make([]ScoredRow, len(scored.Rows))
	copy(byPriority, scored.Rows)
	sort.Slice(byPriority, func(i, j int) bool {
		if byPriority[i].Priority != byPriority[j].Priority {
			return byPriority[i].Priority > byPriority[j].Priority
		}
		return byPriority[i].Key < byPriority[j].Key
	})

	aggLimit := aggressiveLimit
	if scored.Dimension == aggregate.DimensionGeography {
		aggLimit = aggressiveGeoLimit
	}

	conservative := selectTier(scored, byPriority, g, tierSpec{
		name:  TierConservative,
		limit: conservativeLimit,
		admit: func(r ScoredRow) bool { return r.Priority > 0 && r.Visits > 0 },
	})
	aggressive := selectTier(scored, byPriority, g, tierSpec{
		name:  TierAggressive,
		limit: aggLimit,
		admit: func(r ScoredRow) bool { return r.Priority > aggressiveFloor },
	})

	return Recommendations{Conservative: conservative, Aggressive: aggressive}
}

type tierSpec struct {
	name  string
	limit int
	admit func(ScoredRow) bool
}

func selectTier(scored Scored, byPriority []ScoredRow, g Guardrails, spec tierSpec) RecommendationSet {
	set := RecommendationSet{Tier: spec.name, Rows: []ScoredRow{}}

	// Truncation can leave a positive fraction with a zero budget on
	// tiny totals; that still means "exclude nothing", not "uncapped".
	capped := g.MaxExcludedFraction.IsPositive()
	maxExcluded := int64(0)
	if capped {
		maxExcluded = g.MaxExcludedFraction.
			Mul(decimal.NewFromInt(scored.Baseline.Impressions)).
			IntPart()
	}

	// Remaining active rows per higher-level grouping.
	survivors := map[string]int{}
	if g.MinSurvivorsPerGroup > 0 {
		for _, r := range scored.Rows {
			if r.MarketArea != "" {
				survivors[r.MarketArea]++
			}
		}
	}

	for _, row := range byPriority {
		if len(set.Rows) == spec.limit {
			break
		}
		if !spec.admit(row) || row.Impressions < g.MinImpressions {
			continue
		}
		if g.MinSurvivorsPerGroup > 0 && row.MarketArea != "" &&
			survivors[row.MarketArea]-1 < g.MinSurvivorsPerGroup {
			continue
		}
		if capped && set.ExcludedImpressions+row.Impressions > maxExcluded {
			break
		}

		set.Rows = append(set.Rows, row)
		set.ExcludedImpressions += row.Impressions
		set.ExcludedVisits += row.Visits
		if row.MarketArea != "" {
			survivors[row.MarketArea]--
		}
	}

	if len(set.Rows) == 0 {
		set.Reason = "no rows qualified under the guardrails"
		return set
	}

	remainingImps := scored.Baseline.Impressions - set.ExcludedImpressions
	remainingVisits := scored.Baseline.Visits - set.ExcludedVisits
	if remainingImps > 0 {
		set.NewRate = decimal.NewFromInt(remainingVisits).
			Div(decimal.NewFromInt(remainingImps)).
			Round(6)
	}
	if scored.Baseline.VisitRate.IsPositive() {
		set.ImprovementPct = set.NewRate.Div(scored.Baseline.VisitRate).
			Sub(decimal.NewFromInt(1)).
			Mul(hundred).
			Round(2)
	}
	return set
}
