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

// Package scan implements the partition-parallel scan engine: count,
// findOne, findNext, findMany, and observe, built above a per-partition
// fetcher. Every scan resolves its partition list once, constructs one
// fetcher per partition, and fans the work out across a bounded pool.
package scan

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/spothero/trifecta/kclient"
)

// Fetcher is the per-partition capability the scan engine drives. It is
// satisfied by *kclient.PartitionConsumer; tests substitute a fake.
type Fetcher interface {
	Fetch(offset int64, fetchSize int32) ([]kclient.MessageData, error)
	GetFirstOffset() (int64, error)
	GetLastOffset() (int64, error)
	FetchOffset(groupID string) (int64, error)
	Close()
}

// FetcherFactory constructs a Fetcher bound to a single partition. The scan
// engine calls it once per partition at the start of a scan and closes the
// result before returning.
type FetcherFactory func(ctx context.Context, partition int32) (Fetcher, error)

// Predicate evaluates a message's key and value. Predicates are pure,
// side-effect-free, and must be safe for concurrent evaluation; a panic or
// error inside one is treated as "does not match" rather than propagated.
type Predicate func(value, key []byte) bool

// Restrictions are per-scan offset modifiers.
type Restrictions struct {
	// GroupID anchors the starting offset to a consumer group's committed
	// offset instead of the partition's earliest available offset.
	GroupID string
	// Delta rewinds the starting offset by this many messages, clamped to
	// the partition's earliest available offset.
	Delta int64
}

const fetchSize = 1 << 20 // 1 MiB, per partition fetch request

// matches evaluates the conjunction of predicates; an empty list matches
// everything. A predicate that panics is treated as non-matching.
func matches(predicates []Predicate, value, key []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	for _, p := range predicates {
		if !p(value, key) {
			return false
		}
	}
	return true
}

// getStartingOffset computes a partition's starting offset per the
// restrictions rules: the group's committed offset if GroupID is set (a
// sentinel of -1 is replaced by the partition minimum), else the partition
// minimum; Delta then rewinds it, clamped to the minimum.
func getStartingOffset(f Fetcher, r Restrictions) (int64, error) {
	first, err := f.GetFirstOffset()
	if err != nil {
		return 0, err
	}
	min := first
	if min < 0 {
		min = 0
	}
	start := min
	if r.GroupID != "" {
		committed, err := f.FetchOffset(r.GroupID)
		if err != nil {
			return 0, err
		}
		if committed < 0 {
			start = min
		} else {
			start = committed
		}
	}
	if r.Delta != 0 {
		start -= r.Delta
		if start < min {
			start = min
		}
	}
	return start, nil
}

// partitionEnd samples a partition's scan boundary: the last offset visible
// at the moment the partition task begins, not refreshed afterward (observe
// is the sole exception, which re-samples its own boundary on exhaustion).
func partitionEnd(f Fetcher) (int64, error) {
	return f.GetLastOffset()
}

// Engine runs scans across the partitions of a topic using a FetcherFactory
// to construct one Fetcher per partition and a bounded Pool to run them
// concurrently.
type Engine struct {
	Factory FetcherFactory
	Pool    *Pool
}

// NewEngine creates a scan Engine with a pool of the given concurrency bound.
func NewEngine(factory FetcherFactory, poolSize int) *Engine {
	return &Engine{Factory: factory, Pool: NewPool("scan", poolSize)}
}

// Count returns the total number of matching messages across every
// partition, scanning each to its sampled end.
func (e *Engine) Count(ctx context.Context, partitions []int32, predicates ...Predicate) (int64, error) {
	var total int64
	var firstErr error
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, partition := range partitions {
		partition := partition
		wg.Add(1)
		e.Pool.Go(ctx, func(ctx context.Context) {
			defer wg.Done()
			n, err := e.countPartition(ctx, partition, predicates)
			mu.Lock()
			defer mu.Unlock()
			if err != nil && firstErr == nil {
				firstErr = err
			}
			total += n
		})
	}
	wg.Wait()
	return total, firstErr
}

func (e *Engine) countPartition(ctx context.Context, partition int32, predicates []Predicate) (int64, error) {
	f, err := e.Factory(ctx, partition)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	start, err := getStartingOffset(f, Restrictions{})
	if err != nil {
		return 0, nil //nolint:nilerr // a transport failure zeroes this partition's contribution
	}
	end, err := partitionEnd(f)
	if err != nil {
		return 0, nil //nolint:nilerr
	}

	var count int64
	for start <= end {
		if ctx.Err() != nil {
			return count, nil
		}
		msgs, err := f.Fetch(start, fetchSize)
		if err != nil {
			return count, nil //nolint:nilerr // transport/protocol errors abort only this partition
		}
		if len(msgs) == 0 {
			start++
			continue
		}
		maxOffset := start
		for _, m := range msgs {
			if matches(predicates, m.Value, m.Key) {
				count++
			}
			if m.Offset > maxOffset {
				maxOffset = m.Offset
			}
		}
		start = maxOffset + 1
	}
	return count, nil
}

// FindOne returns the first matching message observed across any partition.
// Partitions race; the first non-empty result wins and every other partition
// task is signalled to stop. Ordering across partitions is not guaranteed.
func (e *Engine) FindOne(ctx context.Context, partitions []int32, predicates ...Predicate) (*kclient.MessageData, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var found int32
	var result kclient.MessageData
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, partition := range partitions {
		partition := partition
		wg.Add(1)
		e.Pool.Go(ctx, func(ctx context.Context) {
			defer wg.Done()
			msg, ok := e.findInPartition(ctx, partition, predicates)
			if !ok {
				return
			}
			if atomic.CompareAndSwapInt32(&found, 0, 1) {
				mu.Lock()
				result = msg
				mu.Unlock()
				cancel()
			}
		})
	}
	wg.Wait()
	if atomic.LoadInt32(&found) == 0 {
		return nil, nil
	}
	return &result, nil
}

// FindNext returns the first matching message within a single partition.
func (e *Engine) FindNext(ctx context.Context, partition int32, predicates ...Predicate) (*kclient.MessageData, error) {
	msg, ok := e.findInPartition(ctx, partition, predicates)
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

func (e *Engine) findInPartition(ctx context.Context, partition int32, predicates []Predicate) (kclient.MessageData, bool) {
	f, err := e.Factory(ctx, partition)
	if err != nil {
		return kclient.MessageData{}, false
	}
	defer f.Close()

	start, err := getStartingOffset(f, Restrictions{})
	if err != nil {
		return kclient.MessageData{}, false
	}
	end, err := partitionEnd(f)
	if err != nil {
		return kclient.MessageData{}, false
	}

	for start <= end {
		if ctx.Err() != nil {
			return kclient.MessageData{}, false
		}
		msgs, err := f.Fetch(start, fetchSize)
		if err != nil {
			return kclient.MessageData{}, false
		}
		if len(msgs) == 0 {
			start++
			continue
		}
		maxOffset := start
		for _, m := range msgs {
			if matches(predicates, m.Value, m.Key) {
				return m, true
			}
			if m.Offset > maxOffset {
				maxOffset = m.Offset
			}
		}
		start = maxOffset + 1
	}
	return kclient.MessageData{}, false
}

// ReadCounter tracks the number of messages read so far across a findMany
// scan, updated as batches flow in from every partition.
type ReadCounter struct {
	n int64
}

// Read returns the current count.
func (c *ReadCounter) Read() int64 { return atomic.LoadInt64(&c.n) }

func (c *ReadCounter) add(n int64) { atomic.AddInt64(&c.n, n) }

// FindMany returns up to limit matching messages, sorted by partition id
// ascending and, within a partition, in ascending offset order. A limit of 0
// means unbounded. counter, if non-nil, is updated with the number of
// messages read (not necessarily matched) as batches are processed.
func (e *Engine) FindMany(
	ctx context.Context,
	partitions []int32,
	restrictions Restrictions,
	limit int,
	counter *ReadCounter,
	predicates ...Predicate,
) ([]kclient.MessageData, error) {
	type partitionResult struct {
		partition int32
		messages  []kclient.MessageData
	}
	results := make([]partitionResult, len(partitions))
	var wg sync.WaitGroup
	for i, partition := range partitions {
		i, partition := i, partition
		wg.Add(1)
		e.Pool.Go(ctx, func(ctx context.Context) {
			defer wg.Done()
			msgs := e.findManyInPartition(ctx, partition, restrictions, predicates, counter)
			results[i] = partitionResult{partition: partition, messages: msgs}
		})
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].partition < results[j].partition })
	var all []kclient.MessageData
	for _, r := range results {
		all = append(all, r.messages...)
	}
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (e *Engine) findManyInPartition(
	ctx context.Context,
	partition int32,
	restrictions Restrictions,
	predicates []Predicate,
	counter *ReadCounter,
) []kclient.MessageData {
	f, err := e.Factory(ctx, partition)
	if err != nil {
		return nil
	}
	defer f.Close()

	start, err := getStartingOffset(f, restrictions)
	if err != nil {
		return nil
	}
	end, err := partitionEnd(f)
	if err != nil {
		return nil
	}

	var out []kclient.MessageData
	for start <= end {
		if ctx.Err() != nil {
			return out
		}
		msgs, err := f.Fetch(start, fetchSize)
		if err != nil {
			return out
		}
		if counter != nil {
			counter.add(int64(len(msgs)))
		}
		if len(msgs) == 0 {
			start++
			continue
		}
		maxOffset := start
		for _, m := range msgs {
			if matches(predicates, m.Value, m.Key) {
				out = append(out, m)
			}
			if m.Offset > maxOffset {
				maxOffset = m.Offset
			}
		}
		start = maxOffset + 1
	}
	return out
}

// Sink receives messages delivered by Observe. It must be safe for
// concurrent use: one partition task calls it per message.
type Sink func(kclient.MessageData)

// Observe delivers every message across every partition to sink,
// fire-and-forget, bounded by each partition's end sampled at scan start.
// Unlike the other operations, Observe re-samples its partition boundary
// whenever a fetch is exhausted, so it can continue to track new messages
// appended after the scan began.
func (e *Engine) Observe(ctx context.Context, partitions []int32, sink Sink) error {
	var wg sync.WaitGroup
	for _, partition := range partitions {
		partition := partition
		wg.Add(1)
		e.Pool.Go(ctx, func(ctx context.Context) {
			defer wg.Done()
			e.observePartition(ctx, partition, sink)
		})
	}
	wg.Wait()
	return nil
}

func (e *Engine) observePartition(ctx context.Context, partition int32, sink Sink) {
	f, err := e.Factory(ctx, partition)
	if err != nil {
		return
	}
	defer f.Close()

	start, err := getStartingOffset(f, Restrictions{})
	if err != nil {
		return
	}
	end, err := partitionEnd(f)
	if err != nil {
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		if start > end {
			refreshed, err := partitionEnd(f)
			if err != nil || refreshed <= end {
				return
			}
			end = refreshed
		}
		msgs, err := f.Fetch(start, fetchSize)
		if err != nil {
			return
		}
		if len(msgs) == 0 {
			start++
			continue
		}
		maxOffset := start
		for _, m := range msgs {
			sink(m)
			if m.Offset > maxOffset {
				maxOffset = m.Offset
			}
		}
		start = maxOffset + 1
	}
}
