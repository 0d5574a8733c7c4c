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

package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitFor(t *testing.T, m *Manager, id ID, want Status) Job {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		j, ok := m.Get(id)
		require.True(t, ok)
		if j.Status != StatusRunning {
			return j
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("job %d did not leave %q state", id, want)
	return Job{}
}

func TestSubmitCompletesSuccessfully(t *testing.T) {
	m := NewManager()
	id := m.Submit(context.Background(), "count", func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	job := waitFor(t, m, id, StatusDone)
	assert.Equal(t, StatusDone, job.Status)
	assert.Equal(t, 42, job.Result)
}

func TestSubmitRecordsFailure(t *testing.T) {
	m := NewManager()
	id := m.Submit(context.Background(), "count", func(ctx context.Context) (interface{}, error) {
		return nil, errors.New("boom")
	})
	job := waitFor(t, m, id, StatusFailed)
	assert.Equal(t, StatusFailed, job.Status)
	assert.EqualError(t, job.Err, "boom")
}

func TestCancelStopsJob(t *testing.T) {
	m := NewManager()
	started := make(chan struct{})
	id := m.Submit(context.Background(), "scan", func(ctx context.Context) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	<-started
	assert.True(t, m.Cancel(id))
	job := waitFor(t, m, id, StatusCancelled)
	assert.Equal(t, StatusCancelled, job.Status)
}

func TestCancelUnknownJobIsNoop(t *testing.T) {
	m := NewManager()
	assert.False(t, m.Cancel(999))
}

func TestListReturnsAllJobs(t *testing.T) {
	m := NewManager()
	id1 := m.Submit(context.Background(), "a", func(ctx context.Context) (interface{}, error) { return nil, nil })
	id2 := m.Submit(context.Background(), "b", func(ctx context.Context) (interface{}, error) { return nil, nil })
	waitFor(t, m, id1, StatusDone)
	waitFor(t, m, id2, StatusDone)
	assert.Len(t, m.List(), 2)
}
