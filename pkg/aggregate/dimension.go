// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package aggregate

import "errors"

var ErrUnknownDimension = errors.New("unknown grouping dimension")

// Dimension is a grouping axis for rollups and recommendations.
type Dimension string

const (
	DimensionCampaign      Dimension = "campaign"
	DimensionLineItem      Dimension = "lineitem"
	DimensionCreative      Dimension = "creative"
	DimensionPublisher     Dimension = "publisher"
	DimensionGeography     Dimension = "geography"
	DimensionMarketArea    Dimension = "marketarea"
	DimensionTrafficSource Dimension = "trafficsource"
)

// Valid reports whether d is a known dimension.
func (d Dimension) Valid() bool {
	switch d {
	case DimensionCampaign, DimensionLineItem, DimensionCreative,
		DimensionPublisher, DimensionGeography, DimensionMarketArea,
		DimensionTrafficSource:
		return true
	}
	return false
}

// DefaultThreshold is the minimum-impressions floor applied when the
// caller does not supply one. Traffic sources are long-tail and need a
// much higher floor to be statistically useful; line items and postal
// codes are naturally smaller groups. Market areas aggregate many
// postal codes and take the standard floor.
func DefaultThreshold(d Dimension) int64 {
	switch d {
	case DimensionLineItem, DimensionGeography:
		return 50
	case DimensionTrafficSource:
		return 500
	default:
		return 100
	}
}
