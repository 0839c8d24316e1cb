// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/luxfi/attribution/pkg/aggregate"
	"github.com/luxfi/attribution/pkg/attribution"
	"github.com/luxfi/attribution/pkg/log"
	"github.com/luxfi/attribution/pkg/refconfig"
)

// ErrPreAggregatedSource is returned when a row-level fetch is asked
// of a platform whose attribution source is pre-aggregated; callers
// must use FetchPreAggregated for those.
var ErrPreAggregatedSource = errors.New("platform source is pre-aggregated, row-level fetch unavailable")

// Source tables. Row-level platforms log one row per serve; web-direct
// platforms log sessions; pre-aggregated platforms only ship daily
// rollups keyed by the four campaign dimensions.
const (
	tableImpressions   = "IMPRESSION_EVENTS"
	tableWebSessions   = "WEB_DIRECT_SESSIONS"
	tablePreAggregated = "DAILY_DELIVERY_ROLLUPS"
	tableFlags         = "CONVERSION_FLAGS"
	tableIPHouseholds  = "IP_HOUSEHOLD_GRAPH"
	tableDevHouseholds = "DEVICE_HOUSEHOLD_GRAPH"
	tablePopulation    = "ZIP_POPULATION_REFERENCE"
	tableConfig        = "PLATFORM_ATTRIBUTION_CONFIG"
)

// Query scopes one advertiser window.
type Query struct {
	AgencyID     int64
	AdvertiserID int64
	Start        time.Time
	End          time.Time
	Source       refconfig.AttributionSource
}

func (q Query) dates() (string, string) {
	return q.Start.UTC().Format("2006-01-02"), q.End.UTC().Format("2006-01-02")
}

// FetchImpressions materializes impression rows for one advertiser
// window, routed by attribution source. Pre-aggregated platforms have
// no row-level impressions to fetch.
func (c *Client) FetchImpressions(ctx context.Context, q Query) ([]attribution.ImpressionEvent, error) {
	var table string
	switch q.Source {
	case refconfig.SourceRowLevel:
		table = tableImpressions
	case refconfig.SourceWebDirect:
		table = tableWebSessions
	case refconfig.SourcePreAggregated:
		return nil, ErrPreAggregatedSource
	default:
		return nil, fmt.Errorf("unknown attribution source %q", q.Source)
	}

	start, end := q.dates()
	query := fmt.Sprintf(`
		SELECT DEVICE_ID, IP_ADDRESS, EVENT_TS, PLATFORM_TYPE,
		       AGENCY_ID, ADVERTISER_ID,
		       CAMPAIGN_ID, CAMPAIGN_NAME,
		       LINE_ITEM_ID, LINE_ITEM_NAME,
		       CREATIVE_ID, CREATIVE_NAME,
		       ZIP_CODE, SITE_DOMAIN, PUBLISHER, APP_BUNDLE
		FROM %s
		WHERE ADVERTISER_ID = ? AND EVENT_TS >= ? AND EVENT_TS < DATEADD(day, 1, ?)`, table)

	rows, err := c.db.QueryContext(ctx, query, q.AdvertiserID, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch impressions: %w", err)
	}
	defer rows.Close()

	var out []attribution.ImpressionEvent
	for rows.Next() {
		var (
			e        attribution.ImpressionEvent
			deviceID string
			ip, zip, site, pub, bundle,
			campName, liName, crName sql.NullString
		)
		if err := rows.Scan(
			&deviceID, &ip, &e.Timestamp, &e.PlatformType,
			&e.AgencyID, &e.AdvertiserID,
			&e.CampaignID, &campName,
			&e.LineItemID, &liName,
			&e.CreativeID, &crName,
			&zip, &site, &pub, &bundle,
		); err != nil {
			return nil, fmt.Errorf("scan impression row: %w", err)
		}
		e.Device = attribution.RawDevice(deviceID)
		e.IP = ip.String
		e.CampaignName = campName.String
		e.LineItemName = liName.String
		e.CreativeName = crName.String
		e.PostalCode = zip.String
		e.SiteDomain = site.String
		e.Publisher = pub.String
		e.AppBundle = bundle.String
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate impression rows: %w", err)
	}

	c.log.Debug("fetched impressions",
		log.Int64("advertiser_id", q.AdvertiserID),
		log.Int("rows", len(out)))
	return out, nil
}

// FetchConversionFlags materializes the over-attributed flag rows for
// one advertiser window. One conversion episode arrives as many rows;
// deduplication is the resolution layer's job, not SQL's.
func (c *Client) FetchConversionFlags(ctx context.Context, q Query) ([]attribution.ConversionFlag, error) {
	start, end := q.dates()
	query := fmt.Sprintf(`
		SELECT ROW_ID, DEVICE_ID, ID_TYPE, CONVERSION_TYPE,
		       CONVERSION_DATE, VISIT_EPISODE_ID, EVENT_TS, HOUSEHOLD_ID,
		       AGENCY_ID, ADVERTISER_ID,
		       CAMPAIGN_ID, LINE_ITEM_ID, CREATIVE_ID,
		       PUBLISHER_KEY, ZIP_CODE
		FROM %s
		WHERE ADVERTISER_ID = ? AND CONVERSION_DATE >= ? AND CONVERSION_DATE <= ?`, tableFlags)

	rows, err := c.db.QueryContext(ctx, query, q.AdvertiserID, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch conversion flags: %w", err)
	}
	defer rows.Close()

	var out []attribution.ConversionFlag
	for rows.Next() {
		var (
			f        attribution.ConversionFlag
			deviceID string
			idType   string
			convType string
			episode, household, publisher, zip sql.NullString
		)
		if err := rows.Scan(
			&f.RowID, &deviceID, &idType, &convType,
			&f.ConversionDate, &episode, &f.EventTime, &household,
			&f.AgencyID, &f.AdvertiserID,
			&f.CampaignID, &f.LineItemID, &f.CreativeID,
			&publisher, &zip,
		); err != nil {
			return nil, fmt.Errorf("scan conversion flag: %w", err)
		}
		if idType == "raw" {
			f.Device = attribution.RawDevice(deviceID)
		} else {
			f.Device = attribution.SyntheticDevice(deviceID)
		}
		f.Type = attribution.ConversionType(convType)
		f.VisitEpisodeID = episode.String
		f.HouseholdID = household.String
		f.PublisherKey = publisher.String
		f.PostalCode = zip.String
		out = append(out, f)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversion flags: %w", err)
	}

	c.log.Debug("fetched conversion flags",
		log.Int64("advertiser_id", q.AdvertiserID),
		log.Int("rows", len(out)))
	return out, nil
}

// FetchPreAggregated materializes already-rolled-up delivery rows for
// platforms that only ship daily rollups. The grouping key column is
// selected per dimension; the baseline comes back in the same pass.
func (c *Client) FetchPreAggregated(ctx context.Context, q Query, dim aggregate.Dimension) (aggregate.Result, error) {
	keyCol, nameCol, ok := preaggColumns(dim)
	if !ok {
		return aggregate.Result{}, fmt.Errorf("%w: %q", aggregate.ErrUnknownDimension, dim)
	}

	start, end := q.dates()
	query := fmt.Sprintf(`
		SELECT %s, %s, SUM(IMPRESSIONS), SUM(VISITS)
		FROM %s
		WHERE ADVERTISER_ID = ? AND DELIVERY_DATE >= ? AND DELIVERY_DATE <= ?
		GROUP BY %s, %s`, keyCol, nameCol, tablePreAggregated, keyCol, nameCol)

	rows, err := c.db.QueryContext(ctx, query, q.AdvertiserID, start, end)
	if err != nil {
		return aggregate.Result{}, fmt.Errorf("fetch pre-aggregated delivery: %w", err)
	}
	defer rows.Close()

	res := aggregate.Result{Dimension: dim}
	for rows.Next() {
		var (
			row  aggregate.DimensionRow
			name sql.NullString
		)
		if err := rows.Scan(&row.Key, &name, &row.Impressions, &row.Visits); err != nil {
			return aggregate.Result{}, fmt.Errorf("scan pre-aggregated row: %w", err)
		}
		row.Name = name.String
		if row.Impressions > 0 {
			row.VisitRate = decimal.NewFromInt(row.Visits).
				Div(decimal.NewFromInt(row.Impressions)).
				Round(6)
		}
		res.Baseline.Impressions += row.Impressions
		res.Baseline.Visits += row.Visits
		res.Rows = append(res.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return aggregate.Result{}, fmt.Errorf("iterate pre-aggregated rows: %w", err)
	}
	if res.Baseline.Impressions > 0 {
		res.Baseline.VisitRate = decimal.NewFromInt(res.Baseline.Visits).
			Div(decimal.NewFromInt(res.Baseline.Impressions)).
			Round(6)
	}
	return res, nil
}

func preaggColumns(dim aggregate.Dimension) (key, name string, ok bool) {
	switch dim {
	case aggregate.DimensionCampaign:
		return "CAMPAIGN_ID", "CAMPAIGN_NAME", true
	case aggregate.DimensionLineItem:
		return "LINE_ITEM_ID", "LINE_ITEM_NAME", true
	case aggregate.DimensionCreative:
		return "CREATIVE_ID", "CREATIVE_NAME", true
	case aggregate.DimensionPublisher:
		return "PUBLISHER_KEY", "PUBLISHER_KEY", true
	}
	return "", "", false
}

// FetchHouseholds materializes the IP and device household graphs for
// one advertiser window.
func (c *Client) FetchHouseholds(ctx context.Context, q Query) (attribution.StaticHouseholds, error) {
	hh := attribution.StaticHouseholds{
		ByIP:     map[string]string{},
		ByDevice: map[string]string{},
	}

	start, end := q.dates()
	ipQuery := fmt.Sprintf(`
		SELECT IP_ADDRESS, HOUSEHOLD_ID FROM %s
		WHERE OBSERVED_DATE >= ? AND OBSERVED_DATE <= ?`, tableIPHouseholds)
	rows, err := c.db.QueryContext(ctx, ipQuery, start, end)
	if err != nil {
		return hh, fmt.Errorf("fetch ip households: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ip, household string
		if err := rows.Scan(&ip, &household); err != nil {
			return hh, fmt.Errorf("scan ip household: %w", err)
		}
		hh.ByIP[ip] = household
	}
	if err := rows.Err(); err != nil {
		return hh, fmt.Errorf("iterate ip households: %w", err)
	}

	devQuery := fmt.Sprintf(`
		SELECT DEVICE_ID, ID_TYPE, HOUSEHOLD_ID FROM %s
		WHERE OBSERVED_DATE >= ? AND OBSERVED_DATE <= ?`, tableDevHouseholds)
	devRows, err := c.db.QueryContext(ctx, devQuery, start, end)
	if err != nil {
		return hh, fmt.Errorf("fetch device households: %w", err)
	}
	defer devRows.Close()
	for devRows.Next() {
		var deviceID, idType, household string
		if err := devRows.Scan(&deviceID, &idType, &household); err != nil {
			return hh, fmt.Errorf("scan device household: %w", err)
		}
		d := attribution.SyntheticDevice(deviceID)
		if idType == "raw" {
			d = attribution.RawDevice(deviceID)
		}
		hh.ByDevice[d.String()] = household
	}
	if err := devRows.Err(); err != nil {
		return hh, fmt.Errorf("iterate device households: %w", err)
	}

	return hh, nil
}

// FetchPopulation materializes the postal-code population reference.
func (c *Client) FetchPopulation(ctx context.Context) (aggregate.StaticPopulation, error) {
	query := fmt.Sprintf(`SELECT ZIP_CODE, POPULATION, MARKET_AREA FROM %s`, tablePopulation)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetch population reference: %w", err)
	}
	defer rows.Close()

	pop := aggregate.StaticPopulation{}
	for rows.Next() {
		var (
			zip    string
			entry  aggregate.PopulationEntry
			market sql.NullString
		)
		if err := rows.Scan(&zip, &entry.Population, &market); err != nil {
			return nil, fmt.Errorf("scan population row: %w", err)
		}
		entry.MarketArea = market.String
		pop[zip] = entry
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate population rows: %w", err)
	}
	return pop, nil
}

// FetchConfigRows materializes the platform/agency/advertiser
// attribution config table for snapshot refresh.
func (c *Client) FetchConfigRows(ctx context.Context) ([]refconfig.ConfigRow, error) {
	query := fmt.Sprintf(`
		SELECT PLATFORM_TYPE, PLATFORM_NAME, AGENCY_ID, ADVERTISER_ID,
		       PUBLISHER_COLUMN, DECODE_POLICY, ATTRIBUTION_SOURCE,
		       COVERAGE_CONFIDENCE,
		       HAS_STORE_VISITS, HAS_WEB_VISITS, HAS_IMPRESSIONS
		FROM %s`, tableConfig)

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("fetch attribution config: %w", err)
	}
	defer rows.Close()

	var out []refconfig.ConfigRow
	for rows.Next() {
		var (
			row                     refconfig.ConfigRow
			name, col, policy, src  sql.NullString
			agency, advertiser      sql.NullInt64
			confidence              sql.NullFloat64
		)
		if err := rows.Scan(
			&row.PlatformType, &name, &agency, &advertiser,
			&col, &policy, &src, &confidence,
			&row.HasStoreVisits, &row.HasWebVisits, &row.HasImpressions,
		); err != nil {
			return nil, fmt.Errorf("scan config row: %w", err)
		}
		row.PlatformName = name.String
		row.AgencyID = agency.Int64
		row.AdvertiserID = advertiser.Int64
		row.PublisherColumn = col.String
		row.DecodePolicy = policy.String
		row.AttributionSource = src.String
		row.CoverageConfidence = confidence.Float64
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate config rows: %w", err)
	}
	return out, nil
}
