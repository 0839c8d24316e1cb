// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package aggregate

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/luxfi/attribution/pkg/attribution"
)

// Summary is the advertiser-wide rollup over one date range.
type Summary struct {
	Impressions    int64           `json:"impressions"`
	StoreVisits    int64           `json:"store_visits"`
	WebVisits      int64           `json:"web_visits"`
	StoreVisitRate decimal.Decimal `json:"store_visit_rate"`
	WebVisitRate   decimal.Decimal `json:"web_visit_rate"`
	FirstDate      time.Time       `json:"first_date"`
	LastDate       time.Time       `json:"last_date"`
}

// Summarize computes the ungrouped summary for one advertiser window.
func Summarize(imps []attribution.ImpressionEvent, credited []attribution.CreditedConversion) Summary {
	s := Summary{Impressions: int64(len(imps))}

	for _, imp := range imps {
		if s.FirstDate.IsZero() || imp.Timestamp.Before(s.FirstDate) {
			s.FirstDate = imp.Timestamp
		}
		if imp.Timestamp.After(s.LastDate) {
			s.LastDate = imp.Timestamp
		}
	}
	for _, c := range credited {
		switch c.Flag.Type {
		case attribution.ConversionWeb:
			s.WebVisits++
		default:
			s.StoreVisits++
		}
	}
	s.StoreVisitRate = rate(s.StoreVisits, s.Impressions)
	s.WebVisitRate = rate(s.WebVisits, s.Impressions)
	return s
}

// DayRow is one calendar day of the timeseries.
type DayRow struct {
	Date        time.Time       `json:"date"`
	Impressions int64           `json:"impressions"`
	Visits      int64           `json:"visits"`
	VisitRate   decimal.Decimal `json:"visit_rate"`
}

// Timeseries buckets impressions by serve day and credited conversions
// by conversion day (store) or event day (web), UTC. Output is sorted
// by date ascending.
func Timeseries(imps []attribution.ImpressionEvent, credited []attribution.CreditedConversion) []DayRow {
	type bucket struct{ impressions, visits int64 }
	days := make(map[string]*bucket)

	get := func(t time.Time) *bucket {
		key := t.UTC().Format("2006-01-02")
		b := days[key]
		if b == nil {
			b = &bucket{}
			days[key] = b
		}
		return b
	}

	for _, imp := range imps {
		get(imp.Timestamp).impressions++
	}
	for _, c := range credited {
		day := c.Flag.ConversionDate
		if day.IsZero() {
			day = c.Flag.EventTime
		}
		get(day).visits++
	}

	keys := make([]string, 0, len(days))
	for key := range days {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([]DayRow, 0, len(keys))
	for _, key := range keys {
		b := days[key]
		date, _ := time.Parse("2006-01-02", key)
		rows = append(rows, DayRow{
			Date:        date,
			Impressions: b.impressions,
			Visits:      b.visits,
			VisitRate:   rate(b.visits, b.impressions),
		})
	}
	return rows
}
