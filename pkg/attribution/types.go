// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package attribution

import (
	"fmt"
	"strings"
	"time"
)

// IDKind tags which identifier namespace a device id belongs to. Raw
// ids come from the impression log; synthetic ids are derived by IP
// enrichment on the conversion side. The two namespaces never
// intersect in practice, so a raw-value join between them is a bug the
// type system should prevent.
type IDKind uint8

const (
	// KindRaw is a stable device identifier from the impression log.
	KindRaw IDKind = iota + 1
	// KindSynthetic is an identifier derived by IP enrichment.
	KindSynthetic
)

func (k IDKind) String() string {
	switch k {
	case KindRaw:
		return "raw"
	case KindSynthetic:
		return "synthetic"
	default:
		return "unknown"
	}
}

// DeviceID is a tagged device identifier. Cross-namespace joins must
// go through household resolution; see JoinHouseholds.
type DeviceID struct {
	Kind  IDKind
	Value string
}

// RawDevice tags a stable impression-side identifier.
func RawDevice(value string) DeviceID {
	return DeviceID{Kind: KindRaw, Value: value}
}

// SyntheticDevice tags an IP-enriched conversion-side identifier.
func SyntheticDevice(value string) DeviceID {
	return DeviceID{Kind: KindSynthetic, Value: value}
}

// Normalized returns the canonical form used for grouping: lowercase
// with dashes stripped, matching the warehouse-side normalization.
func (d DeviceID) Normalized() string {
	return strings.ToLower(strings.ReplaceAll(d.Value, "-", ""))
}

func (d DeviceID) String() string {
	return d.Kind.String() + ":" + d.Normalized()
}

// IsZero reports whether the id is unset.
func (d DeviceID) IsZero() bool {
	return d.Kind == 0 || d.Value == ""
}

// ConversionType distinguishes physical store visits from web
// visits/leads/purchases.
type ConversionType string

const (
	ConversionStore ConversionType = "store"
	ConversionWeb   ConversionType = "web"
)

// ImpressionEvent is one ad serve, produced upstream and immutable.
type ImpressionEvent struct {
	Device       DeviceID
	IP           string
	Timestamp    time.Time
	PlatformType int
	AgencyID     int64
	AdvertiserID int64
	CampaignID   string
	CampaignName string
	LineItemID   string
	LineItemName string
	CreativeID   string
	CreativeName string
	PostalCode   string

	// Publisher identity; which field is authoritative depends on the
	// resolved config's PublisherColumn.
	SiteDomain string
	Publisher  string
	AppBundle  string
}

// PublisherValue returns the publisher identity from the column the
// effective config selected for this platform.
func (e ImpressionEvent) PublisherValue(column string) string {
	switch column {
	case "site_domain":
		return e.SiteDomain
	case "publisher":
		return e.Publisher
	case "app_bundle":
		return e.AppBundle
	default:
		return e.SiteDomain
	}
}

// ConversionFlag marks a device as having preceded a conversion on a
// given episode. Upstream flags every preceding impression, so one
// episode arrives as many flag rows; Dedupe collapses them.
type ConversionFlag struct {
	// RowID is the source row identifier, used as the deterministic
	// tie-break when two flags share a timestamp.
	RowID string

	Device DeviceID
	Type   ConversionType

	// ConversionDate keys store-visit episodes.
	ConversionDate time.Time
	// VisitEpisodeID keys web-visit episodes.
	VisitEpisodeID string

	// EventTime is the timestamp of the flagged impression; last-touch
	// ranking keeps the most recent one.
	EventTime time.Time

	// HouseholdID is attached upstream on the conversion side when the
	// enrichment pipeline could resolve one. Empty when unresolved.
	HouseholdID string

	AgencyID     int64
	AdvertiserID int64
	CampaignID   string
	LineItemID   string
	CreativeID   string
	PublisherKey string
	PostalCode   string
}

// EpisodeKey identifies the conversion episode this flag belongs to:
// (device, visit_episode_id) for web visits, (device, conversion date)
// for store visits.
func (f ConversionFlag) EpisodeKey() string {
	if f.Type == ConversionWeb && f.VisitEpisodeID != "" {
		return fmt.Sprintf("%s|web|%s", f.Device.Normalized(), f.VisitEpisodeID)
	}
	return fmt.Sprintf("%s|%s|%s", f.Device.Normalized(), f.Type, f.ConversionDate.Format("2006-01-02"))
}

// CreditedConversion is the single credited event for one episode
// after last-touch dedupe.
type CreditedConversion struct {
	Episode string
	Flag    ConversionFlag
}
