// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package refconfig

import (
	"errors"
	"sync/atomic"
	"time"
)

var (
	ErrInvalidPlatformType = errors.New("platform type must not be negative")
	ErrInvalidAgencyID     = errors.New("agency id must not be negative")
	ErrInvalidAdvertiserID = errors.New("advertiser id must not be negative")
	ErrEmptySnapshot       = errors.New("no reference config snapshot loaded")
)

// Snapshot is an immutable view of the reference tables. It is never
// mutated after construction; refreshes install a whole new snapshot.
type Snapshot struct {
	Platforms   map[int]PlatformConfig
	Agencies    map[int64]Override
	Advertisers map[int64]Override
	Default     PlatformConfig
	LoadedAt    time.Time
}

// Resolver resolves effective configs against the current snapshot.
// Concurrent readers share the snapshot without locking; Refresh swaps
// the pointer atomically.
type Resolver struct {
	snap atomic.Pointer[Snapshot]
}

// NewResolver creates a resolver seeded with the given snapshot.
func NewResolver(snap *Snapshot) *Resolver {
	r := &Resolver{}
	r.snap.Store(normalize(snap))
	return r
}

// Refresh atomically installs a new snapshot. In-flight resolutions
// keep reading the snapshot they started with.
func (r *Resolver) Refresh(snap *Snapshot) {
	r.snap.Store(normalize(snap))
}

// Current returns the active snapshot.
func (r *Resolver) Current() *Snapshot {
	return r.snap.Load()
}

// Resolve returns the effective handling record for a
// (platform, agency, advertiser) triple. Precedence, most specific
// first: advertiser override, agency override, platform config, global
// default. Overrides merge field-by-field; unset fields inherit from
// the next level down. Unknown platform types resolve to the global
// default flagged LowConfidence rather than failing.
func (r *Resolver) Resolve(platformType int, agencyID, advertiserID int64) (EffectiveConfig, error) {
	switch {
	case platformType < 0:
		return EffectiveConfig{}, ErrInvalidPlatformType
	case agencyID < 0:
		return EffectiveConfig{}, ErrInvalidAgencyID
	case advertiserID < 0:
		return EffectiveConfig{}, ErrInvalidAdvertiserID
	}

	snap := r.snap.Load()
	if snap == nil {
		return EffectiveConfig{}, ErrEmptySnapshot
	}

	base := snap.Default
	eff := EffectiveConfig{
		PublisherColumn:    base.PublisherColumn,
		DecodePolicy:       base.DecodePolicy,
		AttributionSource:  base.AttributionSource,
		CoverageConfidence: base.CoverageConfidence,
		Capabilities:       base.Capabilities,
	}

	platform, known := snap.Platforms[platformType]
	if known {
		eff.PublisherColumn = platform.PublisherColumn
		eff.DecodePolicy = platform.DecodePolicy
		eff.AttributionSource = platform.AttributionSource
		eff.CoverageConfidence = platform.CoverageConfidence
		eff.Capabilities = platform.Capabilities
	} else {
		eff.LowConfidence = true
	}

	if ov, ok := snap.Agencies[agencyID]; ok {
		applyOverride(&eff, ov)
	}
	if ov, ok := snap.Advertisers[advertiserID]; ok {
		applyOverride(&eff, ov)
	}

	return eff, nil
}

// applyOverride copies the set fields of ov onto eff. Called in
// ascending precedence order so the most specific level lands last.
func applyOverride(eff *EffectiveConfig, ov Override) {
	if ov.PublisherColumn != nil {
		eff.PublisherColumn = *ov.PublisherColumn
	}
	if ov.DecodePolicy != nil {
		eff.DecodePolicy = *ov.DecodePolicy
	}
	if ov.AttributionSource != nil {
		eff.AttributionSource = *ov.AttributionSource
	}
	if ov.CoverageConfidence != nil {
		eff.CoverageConfidence = *ov.CoverageConfidence
	}
	if ov.HasStoreVisits != nil {
		eff.Capabilities.HasStoreVisits = *ov.HasStoreVisits
	}
	if ov.HasWebVisits != nil {
		eff.Capabilities.HasWebVisits = *ov.HasWebVisits
	}
	if ov.HasImpressions != nil {
		eff.Capabilities.HasImpressions = *ov.HasImpressions
	}
}

func normalize(snap *Snapshot) *Snapshot {
	if snap == nil {
		snap = &Snapshot{}
	}
	out := *snap
	if out.Platforms == nil {
		out.Platforms = map[int]PlatformConfig{}
	}
	if out.Agencies == nil {
		out.Agencies = map[int64]Override{}
	}
	if out.Advertisers == nil {
		out.Advertisers = map[int64]Override{}
	}
	if out.Default.PublisherColumn == "" {
		out.Default = GlobalDefault
	}
	if out.LoadedAt.IsZero() {
		out.LoadedAt = time.Now()
	}
	return &out
}
