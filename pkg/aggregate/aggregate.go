// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package aggregate rolls credited conversions and impressions up per
// grouping dimension, producing the per-row metrics the reallocation
// engine and lift calculator consume.
package aggregate

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/luxfi/attribution/pkg/attribution"
	"github.com/luxfi/attribution/pkg/refconfig"
)

// ratePlaces is the scale visit rates are rounded to. Rates audit back
// to the warehouse, so rounding has to be fixed and reproducible.
const ratePlaces = 6

// PopulationLookup supplies reference population and market-area data
// for geography rows.
type PopulationLookup interface {
	Population(postalCode string) (pop int64, marketArea string, ok bool)
}

// PopulationEntry is one postal code's reference record.
type PopulationEntry struct {
	Population int64
	MarketArea string
}

// StaticPopulation is an in-memory PopulationLookup over materialized
// reference rows.
type StaticPopulation map[string]PopulationEntry

func (s StaticPopulation) Population(postalCode string) (int64, string, bool) {
	e, ok := s[postalCode]
	return e.Population, e.MarketArea, ok
}

// DimensionRow is one group's rollup. VisitRate can exceed 1.0 when a
// device converts more than once per impression window; that is data,
// not an error.
type DimensionRow struct {
	Key         string          `json:"key"`
	Name        string          `json:"name,omitempty"`
	Impressions int64           `json:"impressions"`
	Visits      int64           `json:"visits"`
	VisitRate   decimal.Decimal `json:"visit_rate"`

	// Geography only.
	Population int64  `json:"population,omitempty"`
	MarketArea string `json:"market_area,omitempty"`
}

// Baseline is the ungrouped advertiser-wide rate over the same rows.
type Baseline struct {
	Impressions int64           `json:"impressions"`
	Visits      int64           `json:"visits"`
	VisitRate   decimal.Decimal `json:"visit_rate"`
}

// Result is a per-dimension rollup plus its baseline.
type Result struct {
	Dimension Dimension      `json:"dimension"`
	Rows      []DimensionRow `json:"rows"`
	Baseline  Baseline       `json:"baseline"`
}

// Request shapes one aggregation call.
type Request struct {
	Dimension Dimension

	// MinImpressions drops groups below the floor from the output
	// entirely. Zero means the dimension default.
	MinImpressions int64

	// Config selects the publisher column and decode policy for
	// publisher-type dimensions.
	Config refconfig.EffectiveConfig

	// Population is consulted for geography rows and required to key
	// market-area rows; may be nil, in which case geography rows carry
	// no population and market-area rollups come back empty.
	Population PopulationLookup
}

// Aggregate groups impressions and credited conversions by the
// requested dimension. Groups below the impression floor are omitted,
// not zeroed; groups with credited visits but zero impressions are
// omitted as well, so rates never divide by zero. The baseline is
// computed over all input rows regardless of grouping.
func Aggregate(imps []attribution.ImpressionEvent, credited []attribution.CreditedConversion, req Request) (Result, error) {
	if !req.Dimension.Valid() {
		return Result{}, ErrUnknownDimension
	}
	floor := req.MinImpressions
	if floor <= 0 {
		floor = DefaultThreshold(req.Dimension)
	}

	type group struct {
		name        string
		impressions int64
		visits      int64

		// Distinct contributing postal codes, kept only for market-area
		// rollups so reference population counts once per code.
		postalCodes map[string]struct{}
	}
	groups := make(map[string]*group)

	for _, imp := range imps {
		key, name := impressionKey(imp, req)
		if key == "" {
			continue
		}
		g := groups[key]
		if g == nil {
			g = &group{name: name}
			groups[key] = g
		}
		g.impressions++
		if g.name == "" {
			g.name = name
		}
		if req.Dimension == DimensionMarketArea {
			if g.postalCodes == nil {
				g.postalCodes = make(map[string]struct{})
			}
			g.postalCodes[imp.PostalCode] = struct{}{}
		}
	}

	for _, c := range credited {
		key := conversionKey(c.Flag, req)
		if key == "" {
			continue
		}
		// Visits only count against groups that actually delivered;
		// a visit keyed to a group with no impressions is dropped so
		// the rate division stays guarded.
		if g, ok := groups[key]; ok {
			g.visits++
		}
	}

	rows := make([]DimensionRow, 0, len(groups))
	for key, g := range groups {
		if g.impressions < floor {
			continue
		}
		row := DimensionRow{
			Key:         key,
			Name:        g.name,
			Impressions: g.impressions,
			Visits:      g.visits,
			VisitRate:   rate(g.visits, g.impressions),
		}
		if req.Dimension == DimensionGeography && req.Population != nil {
			if pop, market, ok := req.Population.Population(key); ok {
				row.Population = pop
				row.MarketArea = market
			}
		}
		if req.Dimension == DimensionMarketArea && req.Population != nil {
			for code := range g.postalCodes {
				if pop, _, ok := req.Population.Population(code); ok {
					row.Population += pop
				}
			}
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Impressions != rows[j].Impressions {
			return rows[i].Impressions > rows[j].Impressions
		}
		return rows[i].Key < rows[j].Key
	})

	return Result{
		Dimension: req.Dimension,
		Rows:      rows,
		Baseline: Baseline{
			Impressions: int64(len(imps)),
			Visits:      int64(len(credited)),
			VisitRate:   rate(int64(len(credited)), int64(len(imps))),
		},
	}, nil
}

func impressionKey(imp attribution.ImpressionEvent, req Request) (key, name string) {
	switch req.Dimension {
	case DimensionCampaign:
		return imp.CampaignID, attribution.NormalizeAdvertiserName(imp.CampaignName)
	case DimensionLineItem:
		return imp.LineItemID, imp.LineItemName
	case DimensionCreative:
		return imp.CreativeID, imp.CreativeName
	case DimensionGeography:
		return imp.PostalCode, ""
	case DimensionMarketArea:
		return marketKey(imp.PostalCode, req), ""
	case DimensionPublisher, DimensionTrafficSource:
		raw := imp.PublisherValue(req.Config.PublisherColumn)
		return decodeKey(req.Config.DecodePolicy, raw), ""
	}
	return "", ""
}

func conversionKey(f attribution.ConversionFlag, req Request) string {
	switch req.Dimension {
	case DimensionCampaign:
		return f.CampaignID
	case DimensionLineItem:
		return f.LineItemID
	case DimensionCreative:
		return f.CreativeID
	case DimensionGeography:
		return f.PostalCode
	case DimensionMarketArea:
		return marketKey(f.PostalCode, req)
	case DimensionPublisher, DimensionTrafficSource:
		return decodeKey(req.Config.DecodePolicy, f.PublisherKey)
	}
	return ""
}

// marketKey rolls a postal code up to its market area through the
// population reference. Codes outside the reference have no market and
// are skipped rather than pooled into a synthetic group.
func marketKey(postalCode string, req Request) string {
	if req.Population == nil || postalCode == "" {
		return ""
	}
	_, market, ok := req.Population.Population(postalCode)
	if !ok {
		return ""
	}
	return market
}

// decodeKey canonicalizes a publisher key, falling back to the raw
// value on a malformed escape so one bad row cannot poison a rollup.
func decodeKey(policy refconfig.DecodePolicy, raw string) string {
	out, err := attribution.ApplyDecode(policy, raw)
	if err != nil {
		return raw
	}
	return out
}

func rate(visits, impressions int64) decimal.Decimal {
	if impressions == 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(visits).
		Div(decimal.NewFromInt(impressions)).
		Round(ratePlaces)
}
