// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package refconfig

// AttributionSource selects which warehouse table family supplies
// impression joins for an entity.
type AttributionSource string

const (
	// SourceRowLevel queries the row-level impression log directly.
	SourceRowLevel AttributionSource = "row_level"
	// SourcePreAggregated queries the pre-aggregated weekly rollup.
	SourcePreAggregated AttributionSource = "preagg"
	// SourceWebDirect uses web pixel data with no impression join.
	SourceWebDirect AttributionSource = "web_direct"
)

// DecodePolicy identifies the value transform a consumer must apply to
// publisher identity values before grouping. The resolver returns the
// identifier only; invocation belongs to the attribution layer.
type DecodePolicy string

const (
	DecodeNone        DecodePolicy = "none"
	DecodeURL         DecodePolicy = "urldecode"
	DecodeURLTwice    DecodePolicy = "urldecode2"
	DecodeLowerNoDash DecodePolicy = "lower_nodash"
)

// Capabilities describes which attribution feeds exist for an entity.
type Capabilities struct {
	HasStoreVisits bool `yaml:"has_store_visits"`
	HasWebVisits   bool `yaml:"has_web_visits"`
	HasImpressions bool `yaml:"has_impressions"`
}

// PlatformConfig is the full per-platform handling record.
type PlatformConfig struct {
	PlatformType       int               `yaml:"platform_type"`
	PlatformName       string            `yaml:"platform_name"`
	PublisherColumn    string            `yaml:"publisher_column"`
	DecodePolicy       DecodePolicy      `yaml:"decode_policy"`
	AttributionSource  AttributionSource `yaml:"attribution_source"`
	CoverageConfidence float64           `yaml:"coverage_confidence"`
	Capabilities       Capabilities      `yaml:"capabilities"`
}

// Override is a partial config record. Nil fields inherit from the next
// level down in the resolution chain.
type Override struct {
	PublisherColumn    *string            `yaml:"publisher_column,omitempty"`
	DecodePolicy       *DecodePolicy      `yaml:"decode_policy,omitempty"`
	AttributionSource  *AttributionSource `yaml:"attribution_source,omitempty"`
	CoverageConfidence *float64           `yaml:"coverage_confidence,omitempty"`
	HasStoreVisits     *bool              `yaml:"has_store_visits,omitempty"`
	HasWebVisits       *bool              `yaml:"has_web_visits,omitempty"`
	HasImpressions     *bool              `yaml:"has_impressions,omitempty"`
}

// EffectiveConfig is the fully resolved handling record for one
// (platform, agency, advertiser) triple. Resolution is total: every
// structurally valid triple yields a config, degraded entries carry
// LowConfidence instead of failing.
type EffectiveConfig struct {
	PublisherColumn    string
	DecodePolicy       DecodePolicy
	AttributionSource  AttributionSource
	CoverageConfidence float64
	Capabilities       Capabilities

	// LowConfidence marks a configuration gap: the platform type was
	// unknown and the global default was used.
	LowConfidence bool
}

// GlobalDefault is the bottom of the resolution chain.
var GlobalDefault = PlatformConfig{
	PlatformType:       0,
	PlatformName:       "unknown",
	PublisherColumn:    "site_domain",
	DecodePolicy:       DecodeNone,
	AttributionSource:  SourcePreAggregated,
	CoverageConfidence: 0.5,
	Capabilities: Capabilities{
		HasStoreVisits: true,
		HasWebVisits:   false,
		HasImpressions: true,
	},
}
