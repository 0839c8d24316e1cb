// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package aggregate

import (
	"fmt"

	"github.com/luxfi/attribution/pkg/attribution"
	"github.com/luxfi/attribution/pkg/refconfig"
)

// Cardinality floors below which a dimension is not worth presenting.
const (
	minPublishers = 2
	minPostcodes  = 10
	minCreatives  = 1
)

// DimensionStatus says whether one dimension has enough distinct
// members to present, with a human-readable reason when it does not.
type DimensionStatus struct {
	Available bool   `json:"available"`
	Count     int    `json:"count"`
	Reason    string `json:"reason,omitempty"`
}

// AvailabilityReport gates the optional dimensions for one advertiser
// window so downstream consumers can grey out empty views instead of
// rendering a single-row table.
type AvailabilityReport struct {
	Publisher DimensionStatus `json:"publisher"`
	Geography DimensionStatus `json:"geography"`
	Creative  DimensionStatus `json:"creative"`
}

// Availability counts distinct publishers, postal codes and creatives
// in the impression set and compares each against its floor. The
// publisher column and decode policy come from the resolved config.
func Availability(imps []attribution.ImpressionEvent, cfg refconfig.EffectiveConfig) AvailabilityReport {
	publishers := make(map[string]struct{})
	postcodes := make(map[string]struct{})
	creatives := make(map[string]struct{})

	for _, imp := range imps {
		if key := decodeKey(cfg.DecodePolicy, imp.PublisherValue(cfg.PublisherColumn)); key != "" {
			publishers[key] = struct{}{}
		}
		if imp.PostalCode != "" {
			postcodes[imp.PostalCode] = struct{}{}
		}
		if imp.CreativeID != "" {
			creatives[imp.CreativeID] = struct{}{}
		}
	}

	return AvailabilityReport{
		Publisher: status(len(publishers), minPublishers, "publishers"),
		Geography: status(len(postcodes), minPostcodes, "postal codes"),
		Creative:  status(len(creatives), minCreatives, "creatives"),
	}
}

func status(count, floor int, noun string) DimensionStatus {
	s := DimensionStatus{Available: count >= floor, Count: count}
	if !s.Available {
		s.Reason = fmt.Sprintf("need at least %d distinct %s, found %d", floor, noun, count)
	}
	return s
}
