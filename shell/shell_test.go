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

package shell

import (
	"bytes"
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spothero/trifecta/kclient"
	"github.com/spothero/trifecta/query"
	"github.com/spothero/trifecta/runtime"
	"github.com/spothero/trifecta/scan"
	"github.com/spothero/trifecta/shell/jobs"
	"github.com/spothero/trifecta/shell/parser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyInvalidArgs(t *testing.T) {
	err := &parser.InvalidArgs{Command: "zget", Reason: "missing required argument key"}
	assert.Equal(t, "InvalidArgs", classify(err))
}

func TestClassifyUnknownErrorIsInternal(t *testing.T) {
	assert.Equal(t, "Internal", classify(assertError("boom")))
}

func TestClassifyErrorMatchesUnexportedClassify(t *testing.T) {
	err := &parser.InvalidArgs{Command: "zget", Reason: "missing required argument key"}
	assert.Equal(t, classify(err), ClassifyError(err))
}

func assertError(msg string) error { return &simpleErr{msg} }

type simpleErr struct{ msg string }

func (e *simpleErr) Error() string { return e.msg }

func TestPrintErrorFormatsSyntaxError(t *testing.T) {
	var out bytes.Buffer
	s := &Shell{Out: &out}
	s.printError(&parser.InvalidArgs{Command: "zget", Reason: "missing required argument key"})
	assert.Contains(t, out.String(), "Syntax error:")
}

func TestPrintErrorFormatsRuntimeError(t *testing.T) {
	var out bytes.Buffer
	s := &Shell{Out: &out}
	s.printError(assertError("boom"))
	assert.Contains(t, out.String(), "Runtime error:")
}

func TestRunSelectWithoutResolverFails(t *testing.T) {
	rt := runtime.New(runtime.Config{}, &bytes.Buffer{}, nil)
	var out bytes.Buffer
	s := New(rt, nil, &out)
	err := s.runSelect(context.Background(), "select * from t")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Kafka module")
}

func TestRunSelectInvalidStatementIsInvalidArgs(t *testing.T) {
	rt := runtime.New(runtime.Config{}, &bytes.Buffer{}, nil)
	s := New(rt, nil, &bytes.Buffer{})
	s.Resolver = nil
	err := s.runSelect(context.Background(), "select from")
	require.Error(t, err)
	assert.True(t, isInvalidArgs(err))
}

// fakeJobFetcher is a single-partition scan.Fetcher over a fixed message
// slice, used to drive count/find/observe through the job manager without a
// real Kafka broker. When grow is non-nil, GetLastOffset reports an
// ever-increasing boundary instead of a fixed one, simulating a partition
// that keeps receiving new messages so observe never runs dry on its own.
type fakeJobFetcher struct {
	messages []kclient.MessageData
	last     int64
	grow     *int64
}

func (f *fakeJobFetcher) Fetch(offset int64, fetchSize int32) ([]kclient.MessageData, error) {
	var out []kclient.MessageData
	for _, m := range f.messages {
		if m.Offset == offset {
			out = append(out, m)
		}
	}
	return out, nil
}
func (f *fakeJobFetcher) GetFirstOffset() (int64, error) { return 0, nil }
func (f *fakeJobFetcher) GetLastOffset() (int64, error) {
	if f.grow != nil {
		return atomic.AddInt64(f.grow, 1), nil
	}
	return f.last, nil
}
func (f *fakeJobFetcher) FetchOffset(groupID string) (int64, error) { return -1, nil }
func (f *fakeJobFetcher) Close()                                    {}

type fakeJobResolver struct {
	messages []kclient.MessageData
	grow     bool
}

func (r *fakeJobResolver) ResolveTopic(ctx context.Context, topic string) ([]int32, scan.FetcherFactory, query.Decoder, error) {
	factory := func(ctx context.Context, partition int32) (scan.Fetcher, error) {
		f := &fakeJobFetcher{messages: r.messages, last: int64(len(r.messages) - 1)}
		if r.grow {
			var n int64 = -1
			f.grow = &n
		}
		return f, nil
	}
	return []int32{0}, factory, nil, nil
}

func waitForJob(t *testing.T, rt *runtime.Context, id jobs.ID) jobs.Job {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		job, ok := rt.Jobs.Get(id)
		require.True(t, ok)
		if job.Status != jobs.StatusRunning || time.Now().After(deadline) {
			return job
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRunJobQuerySubmitsCountJob(t *testing.T) {
	rt := runtime.New(runtime.Config{}, &bytes.Buffer{}, nil)
	var out bytes.Buffer
	s := New(rt, nil, &out)
	s.Resolver = &fakeJobResolver{messages: []kclient.MessageData{
		{Partition: 0, Offset: 0, NextOffset: 1, Value: []byte("a")},
		{Partition: 0, Offset: 1, NextOffset: 2, Value: []byte("b")},
	}}

	err := s.dispatch(context.Background(), "count from mytopic")
	require.NoError(t, err)
	assert.Contains(t, out.String(), "submitted")

	job := waitForJob(t, rt, jobs.ID(1))
	assert.Equal(t, jobs.StatusDone, job.Status)
	assert.Equal(t, int64(2), job.Result)
}

func TestRunJobQueryFindReturnsMatchedRow(t *testing.T) {
	rt := runtime.New(runtime.Config{}, &bytes.Buffer{}, nil)
	s := New(rt, nil, &bytes.Buffer{})
	s.Resolver = &fakeJobResolver{messages: []kclient.MessageData{
		{Partition: 0, Offset: 0, NextOffset: 1, Value: []byte("a")},
	}}

	err := s.dispatch(context.Background(), "find from mytopic")
	require.NoError(t, err)

	job := waitForJob(t, rt, jobs.ID(1))
	assert.Equal(t, jobs.StatusDone, job.Status)
	row, ok := job.Result.(query.Row)
	require.True(t, ok)
	assert.Equal(t, "a", row.Fields["value"])
}

func TestRunJobQueryWithoutResolverFails(t *testing.T) {
	rt := runtime.New(runtime.Config{}, &bytes.Buffer{}, nil)
	s := New(rt, nil, &bytes.Buffer{})
	err := s.dispatch(context.Background(), "count from mytopic")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no Kafka module installed")
}

func TestCancelJobStopsObserve(t *testing.T) {
	rt := runtime.New(runtime.Config{}, &bytes.Buffer{}, nil)
	s := New(rt, nil, &bytes.Buffer{})
	s.Resolver = &fakeJobResolver{grow: true}

	err := s.dispatch(context.Background(), "observe from mytopic")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		job, ok := rt.Jobs.Get(jobs.ID(1))
		return ok && job.Status == jobs.StatusRunning
	}, time.Second, time.Millisecond)

	assert.True(t, rt.Jobs.Cancel(jobs.ID(1)))
	job := waitForJob(t, rt, jobs.ID(1))
	assert.Equal(t, jobs.StatusCancelled, job.Status)
}
