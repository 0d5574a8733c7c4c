// Copyright 2019 SpotHero
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scan

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/spothero/trifecta/kclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeFetcher is an in-memory Fetcher over a fixed slice of messages, with
// optional gaps (empty-batch offsets) and a fixed committed-offset table.
type fakeFetcher struct {
	mu        sync.Mutex
	messages  []kclient.MessageData // sorted by Offset, may have gaps
	first     int64
	last      int64
	committed map[string]int64
	closed    bool
}

func newFakeFetcher(first, last int64, messages []kclient.MessageData) *fakeFetcher {
	return &fakeFetcher{first: first, last: last, messages: messages, committed: map[string]int64{}}
}

func (f *fakeFetcher) Fetch(offset int64, fetchSize int32) ([]kclient.MessageData, error) {
	var out []kclient.MessageData
	for _, m := range f.messages {
		if m.Offset == offset {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeFetcher) GetFirstOffset() (int64, error) { return f.first, nil }
func (f *fakeFetcher) GetLastOffset() (int64, error)  { return f.last, nil }

func (f *fakeFetcher) FetchOffset(groupID string) (int64, error) {
	if v, ok := f.committed[groupID]; ok {
		return v, nil
	}
	return -1, nil
}

func (f *fakeFetcher) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func msg(partition int32, offset int64, value string) kclient.MessageData {
	return kclient.MessageData{Partition: partition, Offset: offset, NextOffset: offset + 1, Value: []byte(value)}
}

func containsValue(s string) Predicate {
	return func(value, key []byte) bool {
		return len(value) > 0 && string(value) == s
	}
}

func alwaysTrue() Predicate {
	return func(value, key []byte) bool { return true }
}

func TestCountAcrossPartitions(t *testing.T) {
	fetchers := map[int32]*fakeFetcher{
		0: newFakeFetcher(0, 2, []kclient.MessageData{msg(0, 0, "a"), msg(0, 1, "b"), msg(0, 2, "a")}),
		1: newFakeFetcher(0, 0, []kclient.MessageData{msg(1, 0, "a")}),
	}
	engine := NewEngine(func(ctx context.Context, partition int32) (Fetcher, error) {
		return fetchers[partition], nil
	}, 4)

	count, err := engine.Count(context.Background(), []int32{0, 1}, containsValue("a"))
	require.NoError(t, err)
	assert.EqualValues(t, 3, count)

	for _, f := range fetchers {
		assert.True(t, f.closed)
	}
}

// TestCountAdvancesPastEmptyBatch verifies an offset with no message in the
// fetch response advances the cursor by one rather than looping forever.
func TestCountAdvancesPastEmptyBatch(t *testing.T) {
	fetcher := newFakeFetcher(0, 3, []kclient.MessageData{msg(0, 0, "x"), msg(0, 3, "x")})
	engine := NewEngine(func(ctx context.Context, partition int32) (Fetcher, error) {
		return fetcher, nil
	}, 1)

	count, err := engine.Count(context.Background(), []int32{0}, alwaysTrue())
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)
}

func TestFindOneReturnsFirstMatch(t *testing.T) {
	fetchers := map[int32]*fakeFetcher{
		0: newFakeFetcher(0, 0, []kclient.MessageData{msg(0, 0, "no")}),
		1: newFakeFetcher(0, 0, []kclient.MessageData{msg(1, 0, "yes")}),
	}
	engine := NewEngine(func(ctx context.Context, partition int32) (Fetcher, error) {
		return fetchers[partition], nil
	}, 4)

	found, err := engine.FindOne(context.Background(), []int32{0, 1}, containsValue("yes"))
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "yes", string(found.Value))
}

func TestFindOneNoMatch(t *testing.T) {
	fetcher := newFakeFetcher(0, 0, []kclient.MessageData{msg(0, 0, "no")})
	engine := NewEngine(func(ctx context.Context, partition int32) (Fetcher, error) {
		return fetcher, nil
	}, 1)

	found, err := engine.FindOne(context.Background(), []int32{0}, containsValue("yes"))
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestFindManyOrdersByPartitionAndTruncatesToLimit(t *testing.T) {
	fetchers := map[int32]*fakeFetcher{
		2: newFakeFetcher(0, 1, []kclient.MessageData{msg(2, 0, "a"), msg(2, 1, "a")}),
		0: newFakeFetcher(0, 1, []kclient.MessageData{msg(0, 0, "a"), msg(0, 1, "a")}),
		1: newFakeFetcher(0, 1, []kclient.MessageData{msg(1, 0, "a"), msg(1, 1, "a")}),
	}
	engine := NewEngine(func(ctx context.Context, partition int32) (Fetcher, error) {
		return fetchers[partition], nil
	}, 4)

	counter := &ReadCounter{}
	results, err := engine.FindMany(context.Background(), []int32{2, 0, 1}, Restrictions{}, 4, counter, alwaysTrue())
	require.NoError(t, err)
	require.Len(t, results, 4)
	assert.EqualValues(t, 0, results[0].Partition)
	assert.EqualValues(t, 0, results[1].Partition)
	assert.EqualValues(t, 1, results[2].Partition)
	assert.EqualValues(t, 1, results[3].Partition)
	assert.EqualValues(t, 6, counter.Read())
}

func TestFindManyZeroLimitIsUnbounded(t *testing.T) {
	fetcher := newFakeFetcher(0, 2, []kclient.MessageData{msg(0, 0, "a"), msg(0, 1, "a"), msg(0, 2, "a")})
	engine := NewEngine(func(ctx context.Context, partition int32) (Fetcher, error) {
		return fetcher, nil
	}, 1)

	results, err := engine.FindMany(context.Background(), []int32{0}, Restrictions{}, 0, nil, alwaysTrue())
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestGetStartingOffsetWithGroupRestriction(t *testing.T) {
	fetcher := newFakeFetcher(5, 20, nil)
	fetcher.committed["grp"] = 12

	start, err := getStartingOffset(fetcher, Restrictions{GroupID: "grp"})
	require.NoError(t, err)
	assert.EqualValues(t, 12, start)
}

func TestGetStartingOffsetGroupMissingFallsBackToMinimum(t *testing.T) {
	fetcher := newFakeFetcher(5, 20, nil)

	start, err := getStartingOffset(fetcher, Restrictions{GroupID: "grp"})
	require.NoError(t, err)
	assert.EqualValues(t, 5, start)
}

func TestGetStartingOffsetDeltaClampsToMinimum(t *testing.T) {
	fetcher := newFakeFetcher(5, 20, nil)

	start, err := getStartingOffset(fetcher, Restrictions{Delta: 100})
	require.NoError(t, err)
	assert.EqualValues(t, 5, start)
}

func TestCountRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	fetcher := newFakeFetcher(0, 100, []kclient.MessageData{msg(0, 0, "a")})
	engine := NewEngine(func(ctx context.Context, partition int32) (Fetcher, error) {
		return fetcher, nil
	}, 1)

	count, err := engine.Count(ctx, []int32{0}, alwaysTrue())
	require.NoError(t, err)
	assert.EqualValues(t, 0, count)
}

func TestObserveSinkReceivesEveryMessage(t *testing.T) {
	fetcher := newFakeFetcher(0, 1, []kclient.MessageData{msg(0, 0, "a"), msg(0, 1, "b")})
	engine := NewEngine(func(ctx context.Context, partition int32) (Fetcher, error) {
		return fetcher, nil
	}, 1)

	var mu sync.Mutex
	var seen []string
	err := engine.Observe(context.Background(), []int32{0}, func(m kclient.MessageData) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, string(m.Value))
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, seen)
}

func TestMatchesPanicIsNonMatching(t *testing.T) {
	panics := func(value, key []byte) bool {
		panic(fmt.Sprintf("boom: %d", len(value)))
	}
	assert.False(t, matches([]Predicate{panics}, []byte("x"), []byte("y")))
}
