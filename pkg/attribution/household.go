// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package attribution

// HouseholdLookup resolves identifiers to household ids. It is the
// only legal bridge between the raw and synthetic device namespaces:
// impression-side records resolve via IP, conversion-side records
// arrive with a household attached upstream (or resolve via their
// synthetic id). Raw-value device joins across the namespaces are
// deliberately not expressible here.
type HouseholdLookup interface {
	HouseholdForIP(ip string) (string, bool)
	HouseholdForDevice(d DeviceID) (string, bool)
}

// StaticHouseholds is an in-memory HouseholdLookup over materialized
// reference rows from the warehouse.
type StaticHouseholds struct {
	ByIP     map[string]string
	ByDevice map[string]string // keyed by DeviceID.String()
}

func (s StaticHouseholds) HouseholdForIP(ip string) (string, bool) {
	hh, ok := s.ByIP[ip]
	return hh, ok
}

func (s StaticHouseholds) HouseholdForDevice(d DeviceID) (string, bool) {
	hh, ok := s.ByDevice[d.String()]
	return hh, ok
}

// ResolutionStats reports how household matching went. Resolution in
// the 5-20% range is normal; unmatched rows are dropped from
// household-level views but kept in device/episode-level views, and
// the drop is surfaced here rather than hidden.
type ResolutionStats struct {
	ImpressionsTotal      int
	ImpressionsResolved   int
	ConversionsTotal      int
	ConversionsResolved   int
	HouseholdsExposed     int
	HouseholdsConverted   int
	MatchedConversions    int
	UnmatchedConversions  int
}

// Rate returns the conversion-side household resolution rate in [0,1].
func (s ResolutionStats) Rate() float64 {
	if s.ConversionsTotal == 0 {
		return 0
	}
	return float64(s.ConversionsResolved) / float64(s.ConversionsTotal)
}

// HouseholdMatch pairs a credited conversion with the household that
// both saw an impression and converted.
type HouseholdMatch struct {
	HouseholdID string
	Conversion  CreditedConversion
}

// JoinHouseholds joins impression-side and conversion-side records at
// the household level. Impressions resolve IP -> household through the
// lookup; conversions use the upstream-attached household id, falling
// back to a synthetic-device lookup. The join key is the household id,
// never a raw device value.
//
// Returns ErrIdentityUnresolved only when both sides are nonzero and
// not a single conversion household resolved, which indicates a
// systemic key mismatch rather than ordinary lossiness.
func JoinHouseholds(imps []ImpressionEvent, credited []CreditedConversion, lookup HouseholdLookup) ([]HouseholdMatch, ResolutionStats, error) {
	stats := ResolutionStats{
		ImpressionsTotal: len(imps),
		ConversionsTotal: len(credited),
	}

	exposed := make(map[string]struct{})
	for _, imp := range imps {
		hh, ok := lookup.HouseholdForIP(imp.IP)
		if !ok || hh == "" {
			continue
		}
		stats.ImpressionsResolved++
		exposed[hh] = struct{}{}
	}
	stats.HouseholdsExposed = len(exposed)

	matches := make([]HouseholdMatch, 0, len(credited))
	converted := make(map[string]struct{})
	for _, c := range credited {
		hh := c.Flag.HouseholdID
		if hh == "" {
			if resolved, ok := lookup.HouseholdForDevice(c.Flag.Device); ok {
				hh = resolved
			}
		}
		if hh == "" {
			stats.UnmatchedConversions++
			continue
		}
		stats.ConversionsResolved++
		converted[hh] = struct{}{}

		if _, saw := exposed[hh]; saw {
			stats.MatchedConversions++
			matches = append(matches, HouseholdMatch{HouseholdID: hh, Conversion: c})
		} else {
			stats.UnmatchedConversions++
		}
	}
	stats.HouseholdsConverted = len(converted)

	if len(imps) > 0 && len(credited) > 0 && stats.ConversionsResolved == 0 {
		return nil, stats, ErrIdentityUnresolved
	}

	return matches, stats, nil
}
