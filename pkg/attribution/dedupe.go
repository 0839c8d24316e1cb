// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package attribution

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrInternalConsistency signals a resolver bug: two rows survived
	// rank 1 for the same episode after the tie-break, or an input row
	// was structurally impossible. Always fatal to the request.
	ErrInternalConsistency = errors.New("attribution internal consistency violation")

	// ErrIdentityUnresolved signals a systemic join-key mismatch: a
	// nonzero cohort resolved zero households. Partial resolution is
	// expected and reported as stats, never as an error.
	ErrIdentityUnresolved = errors.New("household identity resolution failed for entire cohort")
)

// Dedupe collapses over-attributed conversion flags to exactly one
// credited event per (device, episode). Within an episode, flags are
// ranked by event timestamp descending and only rank 1 is kept
// (last touch). Ties on identical timestamps keep the row with the
// lexicographically smaller RowID so reruns are reproducible.
//
// Empty input yields empty output. Output order is deterministic:
// sorted by episode key.
func Dedupe(flags []ConversionFlag) ([]CreditedConversion, error) {
	if len(flags) == 0 {
		return []CreditedConversion{}, nil
	}

	episodes := make(map[string][]ConversionFlag)
	for _, f := range flags {
		if f.Device.IsZero() {
			return nil, fmt.Errorf("%w: conversion flag %q has no device identifier", ErrInternalConsistency, f.RowID)
		}
		key := f.EpisodeKey()
		episodes[key] = append(episodes[key], f)
	}

	keys := make([]string, 0, len(episodes))
	for key := range episodes {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	credited := make([]CreditedConversion, 0, len(keys))
	for _, key := range keys {
		group := episodes[key]
		sort.Slice(group, func(i, j int) bool {
			if !group[i].EventTime.Equal(group[j].EventTime) {
				return group[i].EventTime.After(group[j].EventTime)
			}
			return group[i].RowID < group[j].RowID
		})

		winner := group[0]
		if len(group) > 1 {
			next := group[1]
			if next.EventTime.Equal(winner.EventTime) && next.RowID == winner.RowID {
				return nil, fmt.Errorf("%w: duplicate rank-1 rows for episode %s (row %q)",
					ErrInternalConsistency, key, winner.RowID)
			}
		}

		credited = append(credited, CreditedConversion{Episode: key, Flag: winner})
	}

	return credited, nil
}

// Flags converts credited conversions back to flag rows, one per
// episode. Dedupe of the result is the identity.
func Flags(credited []CreditedConversion) []ConversionFlag {
	out := make([]ConversionFlag, 0, len(credited))
	for _, c := range credited {
		out = append(out, c.Flag)
	}
	return out
}
