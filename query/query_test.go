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

package query

import (
	"context"
	"testing"

	"github.com/spothero/trifecta/kclient"
	"github.com/spothero/trifecta/scan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSelectFull(t *testing.T) {
	q, err := Parse(`select key,value from orders where value = 'b' and amount > 5 limit 10 with groupId = grp, delta = 3`)
	require.NoError(t, err)
	assert.Equal(t, "orders", q.Topic)
	assert.Equal(t, []string{"key", "value"}, q.Projection)
	assert.Equal(t, 10, q.Limit)
	assert.Equal(t, "grp", q.Restrictions.GroupID)
	assert.EqualValues(t, 3, q.Restrictions.Delta)
	require.NotNil(t, q.Where)
}

func TestParseRejectsUnknownClause(t *testing.T) {
	_, err := Parse(`select value from orders bogus`)
	assert.Error(t, err)
}

func TestCompilePredicateMatchesOnValue(t *testing.T) {
	q, err := Parse(`select key,value from t where value = 'b'`)
	require.NoError(t, err)
	predicate := q.Compile(nil)
	assert.True(t, predicate([]byte("b"), []byte("k")))
	assert.False(t, predicate([]byte("a"), []byte("k")))
}

type fakeFetcher struct {
	first, last int64
	messages    []kclient.MessageData
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
func (f *fakeFetcher) GetFirstOffset() (int64, error)        { return f.first, nil }
func (f *fakeFetcher) GetLastOffset() (int64, error)         { return f.last, nil }
func (f *fakeFetcher) FetchOffset(groupID string) (int64, error) { return -1, nil }
func (f *fakeFetcher) Close()                                 {}

func msg(partition int32, offset int64, value string) kclient.MessageData {
	return kclient.MessageData{Partition: partition, Offset: offset, NextOffset: offset + 1, Value: []byte(value)}
}

// TestEndToEndSelectScenario drives the query package against a faked
// two-partition topic: partition 0 has values ["a","b","c"], partition 1
// has ["b","b"]. select key,value from t where value = 'b' limit 10 must
// return 3 rows ordered (0,1), (1,0), (1,1).
func TestEndToEndSelectScenario(t *testing.T) {
	fetchers := map[int32]*fakeFetcher{
		0: {first: 0, last: 2, messages: []kclient.MessageData{msg(0, 0, "a"), msg(0, 1, "b"), msg(0, 2, "c")}},
		1: {first: 0, last: 1, messages: []kclient.MessageData{msg(1, 0, "b"), msg(1, 1, "b")}},
	}
	engine := scan.NewEngine(func(ctx context.Context, partition int32) (scan.Fetcher, error) {
		return fetchers[partition], nil
	}, 4)

	q, err := Parse(`select key,value from t where value = 'b' limit 10`)
	require.NoError(t, err)

	rows, err := Execute(context.Background(), q, engine, []int32{0, 1}, nil)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.EqualValues(t, 0, rows[0].Partition)
	assert.EqualValues(t, 1, rows[0].Offset)
	assert.EqualValues(t, 1, rows[1].Partition)
	assert.EqualValues(t, 0, rows[1].Offset)
	assert.EqualValues(t, 1, rows[2].Partition)
	assert.EqualValues(t, 1, rows[2].Offset)
	assert.Equal(t, "b", rows[0].Fields["value"])
}
