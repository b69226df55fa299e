/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type caseView struct {
	CaseNumber string
	Status     string
}

func newTestCache(t *testing.T) *RedisCache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	return NewRedisCache(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 0)
}

func TestSetAndGet(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "case:1", caseView{CaseNumber: "OBC-1", Status: "DRAFT"}, time.Minute))

	var got caseView
	found, err := c.Get(ctx, "case:1", &got)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "OBC-1", got.CaseNumber)
}

func TestGetNonExistentKey(t *testing.T) {
	c := newTestCache(t)

	var got caseView
	found, err := c.Get(context.Background(), "missing", &got)
	assert.NoError(t, err)
	assert.False(t, found)
}

func TestOnceLoadsOnlyOnMiss(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	loads := 0
	load := func() (interface{}, error) {
		loads++
		return &caseView{CaseNumber: "OBC-2", Status: "SUBMITTED"}, nil
	}

	var first, second caseView
	require.NoError(t, c.Once(ctx, "case:2", &first, time.Minute, load))
	require.NoError(t, c.Once(ctx, "case:2", &second, time.Minute, load))

	assert.Equal(t, 1, loads)
	assert.Equal(t, "SUBMITTED", second.Status)
}

func TestDelete(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "case:3", caseView{CaseNumber: "OBC-3"}, time.Minute))
	require.NoError(t, c.Delete(ctx, "case:3"))
	require.NoError(t, c.Delete(ctx, "case:3"), "deleting a missing key is not an error")

	var got caseView
	found, err := c.Get(ctx, "case:3", &got)
	assert.NoError(t, err)
	assert.False(t, found)
}
