// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package aggregate

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/attribution/pkg/attribution"
	"github.com/luxfi/attribution/pkg/refconfig"
)

var day = time.Date(2026, 8, 10, 12, 0, 0, 0, time.UTC)

func testConfig() refconfig.EffectiveConfig {
	return refconfig.EffectiveConfig{
		PublisherColumn:   "site_domain",
		DecodePolicy:      refconfig.DecodeURL,
		AttributionSource: refconfig.SourceRowLevel,
	}
}

func impressions(n int, mutate func(i int, e *attribution.ImpressionEvent)) []attribution.ImpressionEvent {
	out := make([]attribution.ImpressionEvent, 0, n)
	for i := 0; i < n; i++ {
		e := attribution.ImpressionEvent{
			Device:     attribution.RawDevice(fmt.Sprintf("dev-%d", i)),
			Timestamp:  day,
			CampaignID: "c-1",
			SiteDomain: "news.example.com",
			PostalCode: "30301",
			CreativeID: "cr-1",
		}
		if mutate != nil {
			mutate(i, &e)
		}
		out = append(out, e)
	}
	return out
}

func visits(n int, mutate func(i int, f *attribution.ConversionFlag)) []attribution.CreditedConversion {
	out := make([]attribution.CreditedConversion, 0, n)
	for i := 0; i < n; i++ {
		f := attribution.ConversionFlag{
			RowID:          fmt.Sprintf("row-%d", i),
			Device:         attribution.SyntheticDevice(fmt.Sprintf("sdev-%d", i)),
			Type:           attribution.ConversionStore,
			ConversionDate: day,
			EventTime:      day,
			CampaignID:     "c-1",
			PublisherKey:   "news.example.com",
			PostalCode:     "30301",
			CreativeID:     "cr-1",
		}
		if mutate != nil {
			mutate(i, &f)
		}
		out = append(out, attribution.CreditedConversion{Episode: f.EpisodeKey(), Flag: f})
	}
	return out
}

func TestAggregateThresholdOmitsSmallGroups(t *testing.T) {
	require := require.New(t)

	// 120 impressions on one campaign, 30 on another; floor of 100
	// keeps only the first, omitted not zeroed.
	imps := impressions(150, func(i int, e *attribution.ImpressionEvent) {
		if i >= 120 {
			e.CampaignID = "c-small"
		}
	})
	res, err := Aggregate(imps, visits(3, nil), Request{
		Dimension:      DimensionCampaign,
		MinImpressions: 100,
		Config:         testConfig(),
	})
	require.NoError(err)
	require.Len(res.Rows, 1)
	require.Equal("c-1", res.Rows[0].Key)
	require.EqualValues(120, res.Rows[0].Impressions)
	for _, row := range res.Rows {
		require.GreaterOrEqual(row.Impressions, int64(100))
	}
}

func TestAggregateGuardsZeroImpressionGroups(t *testing.T) {
	require := require.New(t)

	// A credited visit keyed to a campaign with no impressions must not
	// produce a row (no divide-by-zero, no infinite rate).
	vs := visits(2, func(i int, f *attribution.ConversionFlag) {
		if i == 1 {
			f.CampaignID = "c-ghost"
		}
	})
	res, err := Aggregate(impressions(200, nil), vs, Request{
		Dimension: DimensionCampaign,
		Config:    testConfig(),
	})
	require.NoError(err)
	require.Len(res.Rows, 1)
	require.Equal("c-1", res.Rows[0].Key)
	require.EqualValues(1, res.Rows[0].Visits)
}

func TestAggregateBaseline(t *testing.T) {
	require := require.New(t)

	res, err := Aggregate(impressions(1000, nil), visits(4, nil), Request{
		Dimension: DimensionCampaign,
		Config:    testConfig(),
	})
	require.NoError(err)
	require.EqualValues(1000, res.Baseline.Impressions)
	require.EqualValues(4, res.Baseline.Visits)
	require.True(res.Baseline.VisitRate.Equal(decimal.RequireFromString("0.004")))
}

func TestAggregatePublisherDecode(t *testing.T) {
	require := require.New(t)

	// Encoded and plain forms of the same domain land in one group.
	imps := impressions(200, func(i int, e *attribution.ImpressionEvent) {
		if i%2 == 0 {
			e.SiteDomain = "news.example.com%2Fsports"
		} else {
			e.SiteDomain = "news.example.com/sports"
		}
	})
	res, err := Aggregate(imps, nil, Request{
		Dimension: DimensionPublisher,
		Config:    testConfig(),
	})
	require.NoError(err)
	require.Len(res.Rows, 1)
	require.Equal("news.example.com/sports", res.Rows[0].Key)
	require.EqualValues(200, res.Rows[0].Impressions)
}

func TestAggregateGeographyPopulation(t *testing.T) {
	require := require.New(t)

	imps := impressions(200, func(i int, e *attribution.ImpressionEvent) {
		if i >= 100 {
			e.PostalCode = "30305"
		}
	})
	pop := StaticPopulation{
		"30301": {Population: 12000, MarketArea: "Atlanta"},
		"30305": {Population: 26000, MarketArea: "Atlanta"},
	}
	res, err := Aggregate(imps, visits(2, nil), Request{
		Dimension:  DimensionGeography,
		Population: pop,
		Config:     testConfig(),
	})
	require.NoError(err)
	require.Len(res.Rows, 2)
	for _, row := range res.Rows {
		require.Equal("Atlanta", row.MarketArea)
		require.NotZero(row.Population)
	}
}

func TestAggregateMarketArea(t *testing.T) {
	require := require.New(t)

	// Four ZIPs across three markets plus one ZIP the reference does
	// not know. Macon stays under the default floor of 100; the unknown
	// ZIP has no market and is skipped.
	imps := impressions(360, func(i int, e *attribution.ImpressionEvent) {
		switch {
		case i < 100: // 30301, Atlanta
		case i < 200:
			e.PostalCode = "30305" // Atlanta
		case i < 300:
			e.PostalCode = "31401" // Savannah
		case i < 340:
			e.PostalCode = "31201" // Macon
		default:
			e.PostalCode = "99999"
		}
	})
	vs := visits(4, func(i int, f *attribution.ConversionFlag) {
		if i == 3 {
			f.PostalCode = "31401"
		}
	})
	pop := StaticPopulation{
		"30301": {Population: 12000, MarketArea: "Atlanta"},
		"30305": {Population: 26000, MarketArea: "Atlanta"},
		"31401": {Population: 9000, MarketArea: "Savannah"},
		"31201": {Population: 5000, MarketArea: "Macon"},
	}
	res, err := Aggregate(imps, vs, Request{
		Dimension:  DimensionMarketArea,
		Population: pop,
		Config:     testConfig(),
	})
	require.NoError(err)
	require.Len(res.Rows, 2)

	atlanta := res.Rows[0]
	require.Equal("Atlanta", atlanta.Key)
	require.EqualValues(200, atlanta.Impressions)
	require.EqualValues(3, atlanta.Visits)
	// Reference population counts once per contributing ZIP.
	require.EqualValues(38000, atlanta.Population)

	savannah := res.Rows[1]
	require.Equal("Savannah", savannah.Key)
	require.EqualValues(100, savannah.Impressions)
	require.EqualValues(1, savannah.Visits)
	require.EqualValues(9000, savannah.Population)

	// The baseline still covers every input row, dropped or not.
	require.EqualValues(360, res.Baseline.Impressions)
}

func TestAggregateMarketAreaWithoutReference(t *testing.T) {
	require := require.New(t)

	// No population reference means no market keys at all.
	res, err := Aggregate(impressions(200, nil), visits(2, nil), Request{
		Dimension: DimensionMarketArea,
		Config:    testConfig(),
	})
	require.NoError(err)
	require.Empty(res.Rows)
}

func TestAggregateUnknownDimension(t *testing.T) {
	require := require.New(t)

	_, err := Aggregate(nil, nil, Request{Dimension: "device"})
	require.ErrorIs(err, ErrUnknownDimension)
}

func TestSummarize(t *testing.T) {
	require := require.New(t)

	imps := impressions(1000, func(i int, e *attribution.ImpressionEvent) {
		e.Timestamp = day.Add(time.Duration(i%5) * 24 * time.Hour)
	})
	vs := visits(10, func(i int, f *attribution.ConversionFlag) {
		if i >= 6 {
			f.Type = attribution.ConversionWeb
			f.VisitEpisodeID = fmt.Sprintf("v-%d", i)
		}
	})

	s := Summarize(imps, vs)
	require.EqualValues(1000, s.Impressions)
	require.EqualValues(6, s.StoreVisits)
	require.EqualValues(4, s.WebVisits)
	require.True(s.StoreVisitRate.Equal(decimal.RequireFromString("0.006")))
	require.Equal(day, s.FirstDate)
	require.Equal(day.Add(4*24*time.Hour), s.LastDate)
}

func TestTimeseriesSortedByDay(t *testing.T) {
	require := require.New(t)

	imps := impressions(300, func(i int, e *attribution.ImpressionEvent) {
		e.Timestamp = day.Add(time.Duration(i%3) * 24 * time.Hour)
	})
	rows := Timeseries(imps, visits(3, nil))
	require.Len(rows, 3)
	for i := 1; i < len(rows); i++ {
		require.True(rows[i].Date.After(rows[i-1].Date))
	}
	require.EqualValues(100, rows[0].Impressions)
	require.EqualValues(3, rows[0].Visits)
}

func TestAvailability(t *testing.T) {
	require := require.New(t)

	// One publisher, one ZIP, one creative: only the creative view has
	// enough members.
	report := Availability(impressions(50, nil), testConfig())
	require.False(report.Publisher.Available)
	require.NotEmpty(report.Publisher.Reason)
	require.False(report.Geography.Available)
	require.True(report.Creative.Available)

	imps := impressions(50, func(i int, e *attribution.ImpressionEvent) {
		e.SiteDomain = fmt.Sprintf("pub-%d.example.com", i%3)
		e.PostalCode = fmt.Sprintf("303%02d", i%12)
	})
	report = Availability(imps, testConfig())
	require.True(report.Publisher.Available)
	require.Equal(3, report.Publisher.Count)
	require.True(report.Geography.Available)
	require.Equal(12, report.Geography.Count)
}
