// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/luxfi/attribution/pkg/aggregate"
	"github.com/luxfi/attribution/pkg/attribution"
	"github.com/luxfi/attribution/pkg/cache"
	"github.com/luxfi/attribution/pkg/lift"
	"github.com/luxfi/attribution/pkg/log"
	"github.com/luxfi/attribution/pkg/reallocation"
	"github.com/luxfi/attribution/pkg/refconfig"
	"github.com/luxfi/attribution/pkg/warehouse"
)

// cachedDimensions are the slow warehouse scans worth a TTL cache.
var cachedDimensions = map[aggregate.Dimension]bool{
	aggregate.DimensionTrafficSource: true,
	aggregate.DimensionGeography:     true,
	aggregate.DimensionMarketArea:    true,
}

type requestParams struct {
	AdvertiserID   int64
	AgencyID       int64
	PlatformType   int
	Start          time.Time
	End            time.Time
	MinImpressions int64
}

func (p requestParams) query(src refconfig.AttributionSource) warehouse.Query {
	return warehouse.Query{
		AgencyID:     p.AgencyID,
		AdvertiserID: p.AdvertiserID,
		Start:        p.Start,
		End:          p.End,
		Source:       src,
	}
}

func parseParams(c *gin.Context) (requestParams, error) {
	var p requestParams

	advertiser, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return p, fmt.Errorf("invalid advertiser id %q", c.Param("id"))
	}
	p.AdvertiserID = advertiser

	if raw := c.Query("agency_id"); raw != "" {
		if p.AgencyID, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return p, fmt.Errorf("invalid agency_id %q", raw)
		}
	}
	if raw := c.Query("platform_type"); raw != "" {
		if p.PlatformType, err = strconv.Atoi(raw); err != nil {
			return p, fmt.Errorf("invalid platform_type %q", raw)
		}
	}
	if raw := c.Query("min_impressions"); raw != "" {
		if p.MinImpressions, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return p, fmt.Errorf("invalid min_impressions %q", raw)
		}
	}

	// Date range defaults to the trailing two weeks.
	p.End = time.Now().UTC().Truncate(24 * time.Hour)
	p.Start = p.End.AddDate(0, 0, -14)
	if raw := c.Query("start"); raw != "" {
		if p.Start, err = time.Parse("2006-01-02", raw); err != nil {
			return p, fmt.Errorf("invalid start date %q", raw)
		}
	}
	if raw := c.Query("end"); raw != "" {
		if p.End, err = time.Parse("2006-01-02", raw); err != nil {
			return p, fmt.Errorf("invalid end date %q", raw)
		}
	}
	if p.End.Before(p.Start) {
		return p, fmt.Errorf("end date %s precedes start date %s",
			p.End.Format("2006-01-02"), p.Start.Format("2006-01-02"))
	}
	return p, nil
}

func (s *Server) resolveConfig(p requestParams) (refconfig.EffectiveConfig, error) {
	return s.resolver.Resolve(p.PlatformType, p.AgencyID, p.AdvertiserID)
}

// fetchCredited materializes flags and collapses them, recording how
// many over-attributed rows were dropped.
func (s *Server) fetchCredited(c *gin.Context, q warehouse.Query) ([]attribution.CreditedConversion, error) {
	flags, err := s.store.FetchConversionFlags(c.Request.Context(), q)
	if err != nil {
		return nil, err
	}
	credited, err := attribution.Dedupe(flags)
	if err != nil {
		return nil, err
	}
	s.metrics.CreditedConversions.Add(float64(len(credited)))
	s.metrics.DroppedFlagRows.Add(float64(len(flags) - len(credited)))
	return credited, nil
}

// rollup runs the fetch+dedupe+aggregate pipeline for one dimension,
// routing pre-aggregated platforms straight to their rollup table.
func (s *Server) rollup(c *gin.Context, p requestParams, cfg refconfig.EffectiveConfig, dim aggregate.Dimension) (aggregate.Result, error) {
	ctx := c.Request.Context()

	if cfg.AttributionSource == refconfig.SourcePreAggregated {
		return s.store.FetchPreAggregated(ctx, p.query(cfg.AttributionSource), dim)
	}

	imps, err := s.store.FetchImpressions(ctx, p.query(cfg.AttributionSource))
	if err != nil {
		return aggregate.Result{}, err
	}
	credited, err := s.fetchCredited(c, p.query(cfg.AttributionSource))
	if err != nil {
		return aggregate.Result{}, err
	}

	req := aggregate.Request{
		Dimension:      dim,
		MinImpressions: p.MinImpressions,
		Config:         cfg,
	}
	if dim == aggregate.DimensionGeography || dim == aggregate.DimensionMarketArea {
		pop, err := s.store.FetchPopulation(ctx)
		if err != nil {
			return aggregate.Result{}, err
		}
		req.Population = pop
	}
	return aggregate.Aggregate(imps, credited, req)
}

// cachedRollup serves slow dimensions through the TTL cache when one
// is configured.
func (s *Server) cachedRollup(c *gin.Context, p requestParams, cfg refconfig.EffectiveConfig, dim aggregate.Dimension) (aggregate.Result, error) {
	if s.cache == nil || !cachedDimensions[dim] {
		return s.rollup(c, p, cfg, dim)
	}

	key := cache.Key(
		strconv.FormatInt(p.AdvertiserID, 10),
		string(dim),
		p.Start.Format("2006-01-02"),
		p.End.Format("2006-01-02"),
		strconv.FormatInt(p.MinImpressions, 10),
	)
	var res aggregate.Result
	if hit, err := s.cache.Get(c.Request.Context(), key, &res); err == nil && hit {
		s.metrics.CacheOps.WithLabelValues("hit").Inc()
		return res, nil
	}
	s.metrics.CacheOps.WithLabelValues("miss").Inc()

	res, err := s.rollup(c, p, cfg, dim)
	if err != nil {
		return res, err
	}
	if err := s.cache.Set(c.Request.Context(), key, res); err != nil {
		s.log.Warn("cache store failed", log.Error(err))
	}
	return res, nil
}

func (s *Server) handleDimension(c *gin.Context) {
	const endpoint = "dimensions"

	p, err := parseParams(c)
	if err != nil {
		s.fail(c, endpoint, http.StatusBadRequest, err)
		return
	}
	dim := aggregate.Dimension(c.Param("dimension"))
	if !dim.Valid() {
		s.fail(c, endpoint, http.StatusBadRequest, fmt.Errorf("%w: %q", aggregate.ErrUnknownDimension, dim))
		return
	}
	cfg, err := s.resolveConfig(p)
	if err != nil {
		s.fail(c, endpoint, http.StatusBadRequest, err)
		return
	}

	res, err := s.cachedRollup(c, p, cfg, dim)
	if err != nil {
		s.fail(c, endpoint, http.StatusInternalServerError, err)
		return
	}

	switch {
	case len(res.Rows) == 0:
		s.reply(c, endpoint, StatusNoData, "no groups above the impression threshold", res)
	case cfg.LowConfidence:
		s.reply(c, endpoint, StatusLowConfidence, "no platform mapping, resolved with global defaults", res)
	default:
		s.reply(c, endpoint, StatusOK, "", res)
	}
}

func (s *Server) handleRecommendations(c *gin.Context) {
	const endpoint = "recommendations"

	p, err := parseParams(c)
	if err != nil {
		s.fail(c, endpoint, http.StatusBadRequest, err)
		return
	}
	dim := aggregate.Dimension(c.Param("dimension"))
	if !dim.Valid() {
		s.fail(c, endpoint, http.StatusBadRequest, fmt.Errorf("%w: %q", aggregate.ErrUnknownDimension, dim))
		return
	}
	cfg, err := s.resolveConfig(p)
	if err != nil {
		s.fail(c, endpoint, http.StatusBadRequest, err)
		return
	}

	guardrails := reallocation.DefaultGuardrails(dim)
	if raw := c.Query("max_excluded_fraction"); raw != "" {
		frac, err := decimal.NewFromString(raw)
		if err != nil {
			s.fail(c, endpoint, http.StatusBadRequest, fmt.Errorf("invalid max_excluded_fraction %q", raw))
			return
		}
		guardrails.MaxExcludedFraction = frac
	}
	if raw := c.Query("min_survivors"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.fail(c, endpoint, http.StatusBadRequest, fmt.Errorf("invalid min_survivors %q", raw))
			return
		}
		guardrails.MinSurvivorsPerGroup = n
	}

	res, err := s.cachedRollup(c, p, cfg, dim)
	if err != nil {
		s.fail(c, endpoint, http.StatusInternalServerError, err)
		return
	}
	scored, err := reallocation.Score(res)
	if err != nil {
		s.fail(c, endpoint, http.StatusInternalServerError, err)
		return
	}
	recs := reallocation.Recommend(scored, guardrails)

	data := gin.H{"scored": scored, "recommendations": recs}
	switch {
	case len(res.Rows) == 0:
		s.reply(c, endpoint, StatusNoData, "no groups above the impression threshold", data)
	case cfg.LowConfidence:
		s.reply(c, endpoint, StatusLowConfidence, "no platform mapping, resolved with global defaults", data)
	default:
		s.reply(c, endpoint, StatusOK, "", data)
	}
}

func (s *Server) handleLift(c *gin.Context) {
	const endpoint = "lift"

	p, err := parseParams(c)
	if err != nil {
		s.fail(c, endpoint, http.StatusBadRequest, err)
		return
	}
	cfg, err := s.resolveConfig(p)
	if err != nil {
		s.fail(c, endpoint, http.StatusBadRequest, err)
		return
	}

	ctx := c.Request.Context()
	q := p.query(cfg.AttributionSource)

	imps, err := s.store.FetchImpressions(ctx, q)
	if err != nil {
		s.fail(c, endpoint, http.StatusInternalServerError, err)
		return
	}
	credited, err := s.fetchCredited(c, q)
	if err != nil {
		s.fail(c, endpoint, http.StatusInternalServerError, err)
		return
	}
	households, err := s.store.FetchHouseholds(ctx, q)
	if err != nil {
		s.fail(c, endpoint, http.StatusInternalServerError, err)
		return
	}

	matches, stats, err := attribution.JoinHouseholds(imps, credited, households)
	if err != nil {
		s.fail(c, endpoint, http.StatusUnprocessableEntity, err)
		return
	}
	s.metrics.HouseholdMatched.Add(float64(stats.MatchedConversions))
	s.metrics.HouseholdUnmatched.Add(float64(stats.UnmatchedConversions))

	exposed, control := cohorts(households, matches, stats)
	result, err := lift.ComputeGated(exposed, control, stats)
	if err != nil {
		if errors.Is(err, lift.ErrZeroControlRate) || errors.Is(err, lift.ErrEmptyCohort) {
			s.fail(c, endpoint, http.StatusUnprocessableEntity, err)
			return
		}
		s.fail(c, endpoint, http.StatusInternalServerError, err)
		return
	}

	data := gin.H{"lift": result, "resolution": stats}
	if cfg.LowConfidence {
		s.reply(c, endpoint, StatusLowConfidence, "no platform mapping, resolved with global defaults", data)
		return
	}
	s.reply(c, endpoint, StatusOK, "", data)
}

// cohorts splits the household graph into exposed and control sides.
// Exposed households saw at least one impression; the control side is
// everyone else in the graph for the same window and geography.
func cohorts(hh attribution.StaticHouseholds, matches []attribution.HouseholdMatch, stats attribution.ResolutionStats) (lift.Cohort, lift.Cohort) {
	total := make(map[string]struct{}, len(hh.ByIP))
	for _, id := range hh.ByIP {
		total[id] = struct{}{}
	}
	for _, id := range hh.ByDevice {
		total[id] = struct{}{}
	}

	exposedConverted := make(map[string]struct{})
	for _, m := range matches {
		exposedConverted[m.HouseholdID] = struct{}{}
	}

	exposed := lift.Cohort{
		Households: int64(stats.HouseholdsExposed),
		Converters: int64(len(exposedConverted)),
	}
	control := lift.Cohort{
		Households: int64(len(total) - stats.HouseholdsExposed),
		Converters: int64(stats.HouseholdsConverted - len(exposedConverted)),
	}
	return exposed, control
}

func (s *Server) handleSummary(c *gin.Context) {
	const endpoint = "summary"

	_, cfg, imps, credited, ok := s.windowRows(c, endpoint)
	if !ok {
		return
	}

	summary := aggregate.Summarize(imps, credited)
	if summary.Impressions == 0 {
		s.reply(c, endpoint, StatusNoData, "no delivery in the requested window", summary)
		return
	}
	if cfg.LowConfidence {
		s.reply(c, endpoint, StatusLowConfidence, "no platform mapping, resolved with global defaults", summary)
		return
	}
	s.reply(c, endpoint, StatusOK, "", summary)
}

func (s *Server) handleTimeseries(c *gin.Context) {
	const endpoint = "timeseries"

	_, cfg, imps, credited, ok := s.windowRows(c, endpoint)
	if !ok {
		return
	}

	rows := aggregate.Timeseries(imps, credited)
	switch {
	case len(rows) == 0:
		s.reply(c, endpoint, StatusNoData, "no delivery in the requested window", rows)
	case cfg.LowConfidence:
		s.reply(c, endpoint, StatusLowConfidence, "no platform mapping, resolved with global defaults", rows)
	default:
		s.reply(c, endpoint, StatusOK, "", rows)
	}
}

func (s *Server) handleAvailability(c *gin.Context) {
	const endpoint = "availability"

	p, err := parseParams(c)
	if err != nil {
		s.fail(c, endpoint, http.StatusBadRequest, err)
		return
	}
	cfg, err := s.resolveConfig(p)
	if err != nil {
		s.fail(c, endpoint, http.StatusBadRequest, err)
		return
	}
	imps, err := s.store.FetchImpressions(c.Request.Context(), p.query(cfg.AttributionSource))
	if err != nil {
		s.fail(c, endpoint, http.StatusInternalServerError, err)
		return
	}

	report := aggregate.Availability(imps, cfg)
	s.reply(c, endpoint, StatusOK, "", report)
}

// windowRows is the shared fetch for the summary-style endpoints.
func (s *Server) windowRows(c *gin.Context, endpoint string) (requestParams, refconfig.EffectiveConfig, []attribution.ImpressionEvent, []attribution.CreditedConversion, bool) {
	p, err := parseParams(c)
	if err != nil {
		s.fail(c, endpoint, http.StatusBadRequest, err)
		return p, refconfig.EffectiveConfig{}, nil, nil, false
	}
	cfg, err := s.resolveConfig(p)
	if err != nil {
		s.fail(c, endpoint, http.StatusBadRequest, err)
		return p, cfg, nil, nil, false
	}

	imps, err := s.store.FetchImpressions(c.Request.Context(), p.query(cfg.AttributionSource))
	if err != nil {
		s.fail(c, endpoint, http.StatusInternalServerError, err)
		return p, cfg, nil, nil, false
	}
	credited, err := s.fetchCredited(c, p.query(cfg.AttributionSource))
	if err != nil {
		s.fail(c, endpoint, http.StatusInternalServerError, err)
		return p, cfg, nil, nil, false
	}
	return p, cfg, imps, credited, true
}
