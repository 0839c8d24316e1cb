// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Dimension string `json:"dimension"`
	Rows      int    `json:"rows"`
}

func testCache(t *testing.T, ttl time.Duration) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c := NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ttl)
	t.Cleanup(func() { c.Close() })
	return c, mr
}

func TestRoundTrip(t *testing.T) {
	require := require.New(t)
	c, _ := testCache(t, time.Minute)
	ctx := context.Background()

	key := Key("9001", "trafficsource", "2026-08-01", "2026-08-14")
	require.NoError(c.Set(ctx, key, payload{Dimension: "trafficsource", Rows: 42}))

	var got payload
	hit, err := c.Get(ctx, key, &got)
	require.NoError(err)
	require.True(hit)
	require.Equal(42, got.Rows)
}

func TestMiss(t *testing.T) {
	require := require.New(t)
	c, _ := testCache(t, time.Minute)

	var got payload
	hit, err := c.Get(context.Background(), Key("nope"), &got)
	require.NoError(err)
	require.False(hit)
}

func TestExpiry(t *testing.T) {
	require := require.New(t)
	c, mr := testCache(t, time.Minute)
	ctx := context.Background()

	key := Key("9001", "geography")
	require.NoError(c.Set(ctx, key, payload{Rows: 1}))

	mr.FastForward(2 * time.Minute)

	var got payload
	hit, err := c.Get(ctx, key, &got)
	require.NoError(err)
	require.False(hit)
}

func TestInvalidate(t *testing.T) {
	require := require.New(t)
	c, mr := testCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(c.Set(ctx, Key("9001", "publisher"), payload{Rows: 7}))
	require.NoError(c.Set(ctx, Key("9001", "geography"), payload{Rows: 9}))
	require.NoError(mr.Set("other:key", "kept"))

	require.NoError(c.Invalidate(ctx))

	var got payload
	hit, err := c.Get(ctx, Key("9001", "publisher"), &got)
	require.NoError(err)
	require.False(hit)
	hit, err = c.Get(ctx, Key("9001", "geography"), &got)
	require.NoError(err)
	require.False(hit)

	// The sweep stays inside the namespace.
	require.True(mr.Exists("other:key"))
}
