// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package refconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileSchema is the on-disk shape of the reference tables.
type fileSchema struct {
	Platforms   []PlatformConfig   `yaml:"platforms"`
	Agencies    map[int64]Override `yaml:"agencies"`
	Advertisers map[int64]Override `yaml:"advertisers"`
}

// LoadFile reads a reference-table snapshot from a YAML file.
func LoadFile(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference config: %w", err)
	}
	return parse(raw)
}

func parse(raw []byte) (*Snapshot, error) {
	var file fileSchema
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse reference config: %w", err)
	}

	snap := &Snapshot{
		Platforms:   make(map[int]PlatformConfig, len(file.Platforms)),
		Agencies:    file.Agencies,
		Advertisers: file.Advertisers,
		Default:     GlobalDefault,
		LoadedAt:    time.Now(),
	}
	for _, p := range file.Platforms {
		snap.Platforms[p.PlatformType] = p
	}
	return snap, nil
}

// ConfigRow is one row of the warehouse-side reference config table,
// used when the snapshot is refreshed from the warehouse instead of a
// file. One row per (platform, agency, advertiser) config entry.
type ConfigRow struct {
	PlatformType       int
	PlatformName       string
	AgencyID           int64
	AdvertiserID       int64
	PublisherColumn    string
	DecodePolicy       string
	AttributionSource  string
	CoverageConfidence float64
	HasStoreVisits     bool
	HasWebVisits       bool
	HasImpressions     bool
}

// FromRows builds a snapshot from warehouse reference rows. Platform
// records are taken from rows with zero agency and advertiser ids;
// nonzero ids become agency/advertiser overrides of the full record.
func FromRows(rows []ConfigRow) *Snapshot {
	snap := &Snapshot{
		Platforms:   map[int]PlatformConfig{},
		Agencies:    map[int64]Override{},
		Advertisers: map[int64]Override{},
		Default:     GlobalDefault,
		LoadedAt:    time.Now(),
	}

	for _, row := range rows {
		switch {
		case row.AgencyID == 0 && row.AdvertiserID == 0:
			snap.Platforms[row.PlatformType] = PlatformConfig{
				PlatformType:       row.PlatformType,
				PlatformName:       row.PlatformName,
				PublisherColumn:    row.PublisherColumn,
				DecodePolicy:       DecodePolicy(row.DecodePolicy),
				AttributionSource:  AttributionSource(row.AttributionSource),
				CoverageConfidence: row.CoverageConfidence,
				Capabilities: Capabilities{
					HasStoreVisits: row.HasStoreVisits,
					HasWebVisits:   row.HasWebVisits,
					HasImpressions: row.HasImpressions,
				},
			}
		case row.AdvertiserID != 0:
			snap.Advertisers[row.AdvertiserID] = rowOverride(row)
		default:
			snap.Agencies[row.AgencyID] = rowOverride(row)
		}
	}
	return snap
}

func rowOverride(row ConfigRow) Override {
	ov := Override{}
	if row.PublisherColumn != "" {
		ov.PublisherColumn = &row.PublisherColumn
	}
	if row.DecodePolicy != "" {
		p := DecodePolicy(row.DecodePolicy)
		ov.DecodePolicy = &p
	}
	if row.AttributionSource != "" {
		s := AttributionSource(row.AttributionSource)
		ov.AttributionSource = &s
	}
	if row.CoverageConfidence > 0 {
		ov.CoverageConfidence = &row.CoverageConfidence
	}
	ov.HasStoreVisits = &row.HasStoreVisits
	ov.HasWebVisits = &row.HasWebVisits
	ov.HasImpressions = &row.HasImpressions
	return ov
}
