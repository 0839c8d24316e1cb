// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/attribution/pkg/aggregate"
	"github.com/luxfi/attribution/pkg/attribution"
	"github.com/luxfi/attribution/pkg/refconfig"
	"github.com/luxfi/attribution/pkg/warehouse"
)

var day = time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)

type fixtureStore struct {
	imps       []attribution.ImpressionEvent
	flags      []attribution.ConversionFlag
	preagg     aggregate.Result
	households attribution.StaticHouseholds
	population aggregate.StaticPopulation

	preaggCalls int
}

func (f *fixtureStore) FetchImpressions(ctx context.Context, q warehouse.Query) ([]attribution.ImpressionEvent, error) {
	if q.Source == refconfig.SourcePreAggregated {
		return nil, warehouse.ErrPreAggregatedSource
	}
	return f.imps, nil
}

func (f *fixtureStore) FetchConversionFlags(ctx context.Context, q warehouse.Query) ([]attribution.ConversionFlag, error) {
	return f.flags, nil
}

func (f *fixtureStore) FetchPreAggregated(ctx context.Context, q warehouse.Query, dim aggregate.Dimension) (aggregate.Result, error) {
	f.preaggCalls++
	return f.preagg, nil
}

func (f *fixtureStore) FetchHouseholds(ctx context.Context, q warehouse.Query) (attribution.StaticHouseholds, error) {
	return f.households, nil
}

func (f *fixtureStore) FetchPopulation(ctx context.Context) (aggregate.StaticPopulation, error) {
	return f.population, nil
}

func fixtures() *fixtureStore {
	store := &fixtureStore{
		households: attribution.StaticHouseholds{
			ByIP:     map[string]string{},
			ByDevice: map[string]string{},
		},
		population: aggregate.StaticPopulation{
			"30301": {Population: 12000, MarketArea: "Atlanta"},
		},
	}

	// 200 impressions on one campaign, 10 exposed households.
	for i := 0; i < 200; i++ {
		ip := fmt.Sprintf("10.0.0.%d", i%10+1)
		store.imps = append(store.imps, attribution.ImpressionEvent{
			Device:       attribution.RawDevice(fmt.Sprintf("raw-%d", i)),
			IP:           ip,
			Timestamp:    day,
			PlatformType: 7,
			AgencyID:     1480,
			AdvertiserID: 9001,
			CampaignID:   "c-1",
			CampaignName: "Acme August",
			CreativeID:   "cr-1",
			PostalCode:   "30301",
			SiteDomain:   "news.example.com",
		})
		store.households.ByIP[ip] = fmt.Sprintf("hh-%d", i%10+1)
	}

	// One store-visit episode flagged 20 times plus three clean ones.
	for i := 0; i < 20; i++ {
		store.flags = append(store.flags, attribution.ConversionFlag{
			RowID:          fmt.Sprintf("dup-%02d", i),
			Device:         attribution.SyntheticDevice("sdev-dup"),
			Type:           attribution.ConversionStore,
			ConversionDate: day,
			EventTime:      day.Add(-time.Duration(20-i) * time.Hour),
			HouseholdID:    "hh-1",
			CampaignID:     "c-1",
			PublisherKey:   "news.example.com",
			PostalCode:     "30301",
		})
	}
	for i := 0; i < 3; i++ {
		household := fmt.Sprintf("hh-9%d", i) // converted, never exposed
		if i == 0 {
			household = "hh-2" // exposed and converted
		}
		store.flags = append(store.flags, attribution.ConversionFlag{
			RowID:          fmt.Sprintf("clean-%d", i),
			Device:         attribution.SyntheticDevice(fmt.Sprintf("sdev-%d", i)),
			Type:           attribution.ConversionStore,
			ConversionDate: day,
			EventTime:      day.Add(time.Duration(i) * time.Minute),
			HouseholdID:    household,
			CampaignID:     "c-1",
			PublisherKey:   "news.example.com",
			PostalCode:     "30301",
		})
	}

	// Control-side households that never saw an impression.
	for i := 0; i < 30; i++ {
		store.households.ByIP[fmt.Sprintf("10.9.9.%d", i)] = fmt.Sprintf("hh-9%d", i)
	}
	return store
}

func testServer(t *testing.T, store Store) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	resolver := refconfig.NewResolver(&refconfig.Snapshot{
		Platforms: map[int]refconfig.PlatformConfig{
			7: {
				PlatformType:      7,
				PlatformName:      "ctv",
				PublisherColumn:   "site_domain",
				DecodePolicy:      refconfig.DecodeNone,
				AttributionSource: refconfig.SourceRowLevel,
				Capabilities:      refconfig.Capabilities{HasStoreVisits: true, HasImpressions: true},
			},
			3: {
				PlatformType:      3,
				PlatformName:      "display",
				PublisherColumn:   "publisher",
				AttributionSource: refconfig.SourcePreAggregated,
			},
		},
	})

	return New(Config{Store: store, Resolver: resolver}).Router()
}

func get(t *testing.T, router *gin.Engine, path string) (int, Envelope) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	router.ServeHTTP(w, req)

	var env Envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	return w.Code, env
}

func TestDimensionEndpoint(t *testing.T) {
	require := require.New(t)
	router := testServer(t, fixtures())

	code, env := get(t, router,
		"/api/v1/advertisers/9001/dimensions/campaign?platform_type=7&agency_id=1480&start=2026-08-01&end=2026-08-14&min_impressions=100")
	require.Equal(http.StatusOK, code)
	require.Equal(StatusOK, env.Status)
	require.NotEmpty(env.RequestID)

	data := env.Data.(map[string]any)
	rows := data["rows"].([]any)
	require.Len(rows, 1)
	row := rows[0].(map[string]any)
	require.Equal("c-1", row["key"])
	require.EqualValues(200, row["impressions"])
	// 20 duplicate flags collapse to one credit; 4 episodes total.
	require.EqualValues(4, row["visits"])
}

func TestDimensionMarketArea(t *testing.T) {
	require := require.New(t)
	router := testServer(t, fixtures())

	// ZIP rows roll up to their market through the population reference.
	code, env := get(t, router,
		"/api/v1/advertisers/9001/dimensions/marketarea?platform_type=7&agency_id=1480&start=2026-08-01&end=2026-08-14&min_impressions=100")
	require.Equal(http.StatusOK, code)
	require.Equal(StatusOK, env.Status)

	data := env.Data.(map[string]any)
	rows := data["rows"].([]any)
	require.Len(rows, 1)
	row := rows[0].(map[string]any)
	require.Equal("Atlanta", row["key"])
	require.EqualValues(200, row["impressions"])
	require.EqualValues(4, row["visits"])
	require.EqualValues(12000, row["population"])
}

func TestDimensionUnknown(t *testing.T) {
	require := require.New(t)
	router := testServer(t, fixtures())

	code, env := get(t, router, "/api/v1/advertisers/9001/dimensions/device?platform_type=7")
	require.Equal(http.StatusBadRequest, code)
	require.Equal(StatusFailed, env.Status)
}

func TestDimensionLowConfidence(t *testing.T) {
	require := require.New(t)
	router := testServer(t, fixtures())

	// Unknown platform type degrades to defaults, flagged not failed.
	code, env := get(t, router,
		"/api/v1/advertisers/9001/dimensions/campaign?platform_type=999&start=2026-08-01&end=2026-08-14")
	require.Equal(http.StatusOK, code)
	require.Equal(StatusLowConfidence, env.Status)
	require.NotEmpty(env.Reason)
}

func TestDimensionNoData(t *testing.T) {
	require := require.New(t)
	router := testServer(t, &fixtureStore{})

	code, env := get(t, router,
		"/api/v1/advertisers/9001/dimensions/campaign?platform_type=7&start=2026-08-01&end=2026-08-14")
	require.Equal(http.StatusOK, code)
	require.Equal(StatusNoData, env.Status)
	require.NotEmpty(env.Reason)
}

func TestDimensionPreAggregatedRouting(t *testing.T) {
	require := require.New(t)
	store := fixtures()
	store.preagg = aggregate.Result{
		Dimension: aggregate.DimensionCampaign,
		Rows:      []aggregate.DimensionRow{{Key: "c-9", Impressions: 5000, Visits: 10}},
		Baseline:  aggregate.Baseline{Impressions: 5000, Visits: 10},
	}
	router := testServer(t, store)

	// Platform 3 resolves to the pre-aggregated source.
	code, env := get(t, router,
		"/api/v1/advertisers/9001/dimensions/campaign?platform_type=3&start=2026-08-01&end=2026-08-14")
	require.Equal(http.StatusOK, code)
	require.Equal(StatusOK, env.Status)
	require.Equal(1, store.preaggCalls)
}

func TestRecommendationsEndpoint(t *testing.T) {
	require := require.New(t)
	router := testServer(t, fixtures())

	code, env := get(t, router,
		"/api/v1/advertisers/9001/recommendations/campaign?platform_type=7&start=2026-08-01&end=2026-08-14&min_impressions=100")
	require.Equal(http.StatusOK, code)
	require.Equal(StatusOK, env.Status)

	data := env.Data.(map[string]any)
	recs := data["recommendations"].(map[string]any)
	require.Contains(recs, "conservative")
	require.Contains(recs, "aggressive")
}

func TestLiftEndpoint(t *testing.T) {
	require := require.New(t)
	router := testServer(t, fixtures())

	code, env := get(t, router,
		"/api/v1/advertisers/9001/lift?platform_type=7&start=2026-08-01&end=2026-08-14")
	require.Equal(http.StatusOK, code)
	require.Equal(StatusOK, env.Status)

	data := env.Data.(map[string]any)
	liftData := data["lift"].(map[string]any)
	require.Contains(liftData, "lift_pct")
	resolution := data["resolution"].(map[string]any)
	require.NotZero(resolution["MatchedConversions"])
}

func TestLiftZeroResolutionFails(t *testing.T) {
	require := require.New(t)
	store := fixtures()
	for i := range store.flags {
		store.flags[i].HouseholdID = ""
	}
	router := testServer(t, store)

	code, env := get(t, router,
		"/api/v1/advertisers/9001/lift?platform_type=7&start=2026-08-01&end=2026-08-14")
	require.Equal(http.StatusUnprocessableEntity, code)
	require.Equal(StatusFailed, env.Status)
}

func TestSummaryEndpoint(t *testing.T) {
	require := require.New(t)
	router := testServer(t, fixtures())

	code, env := get(t, router,
		"/api/v1/advertisers/9001/summary?platform_type=7&start=2026-08-01&end=2026-08-14")
	require.Equal(http.StatusOK, code)
	require.Equal(StatusOK, env.Status)

	data := env.Data.(map[string]any)
	require.EqualValues(200, data["impressions"])
	require.EqualValues(4, data["store_visits"])
}

func TestAvailabilityEndpoint(t *testing.T) {
	require := require.New(t)
	router := testServer(t, fixtures())

	code, env := get(t, router,
		"/api/v1/advertisers/9001/availability?platform_type=7&start=2026-08-01&end=2026-08-14")
	require.Equal(http.StatusOK, code)
	require.Equal(StatusOK, env.Status)

	data := env.Data.(map[string]any)
	publisher := data["publisher"].(map[string]any)
	require.Equal(false, publisher["available"])
}

func TestHealthAndMetrics(t *testing.T) {
	require := require.New(t)
	router := testServer(t, fixtures())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(http.StatusOK, w.Code)
}
