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

// Package shell implements the REPL driver: reading command lines,
// dispatching them to the module registry or the query planner, and
// classifying and printing errors.
package shell

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"

	"github.com/spothero/trifecta/kclient"
	"github.com/spothero/trifecta/log"
	"github.com/spothero/trifecta/query"
	"github.com/spothero/trifecta/runtime"
	"github.com/spothero/trifecta/scan"
	"github.com/spothero/trifecta/shell/parser"
	"github.com/spothero/trifecta/zkview"
	"go.uber.org/zap"
	"golang.org/x/xerrors"
)

// Shell is the REPL loop: it reads lines from In, dispatches them, and
// writes rendered results to Out. It is single-threaded by design; command
// handlers that need concurrency submit work to rt.Jobs.
type Shell struct {
	rt     *runtime.Context
	In     io.Reader
	Out    io.Writer
	Debug  bool
	// History, if set, receives one copy of every interpreted line.
	History io.Writer
	// Resolver resolves a topic name to its partitions and a value
	// decoder, for select statements. Supplied by the Kafka module.
	Resolver TopicResolver
}

// TopicResolver resolves a topic name into the partition set and message
// decoder a select statement needs to run against it.
type TopicResolver interface {
	ResolveTopic(ctx context.Context, topic string) (partitions []int32, factory scan.FetcherFactory, decode query.Decoder, err error)
}

// New creates a Shell bound to rt, reading from in and writing to out.
func New(rt *runtime.Context, in io.Reader, out io.Writer) *Shell {
	return &Shell{rt: rt, In: in, Out: out}
}

// Run reads and interprets lines from s.In until EOF or ctx is cancelled.
// Blank lines are skipped; no prompt is printed.
func (s *Shell) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.In)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return nil
		}
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if s.History != nil {
			fmt.Fprintln(s.History, line)
		}
		s.interpretLine(ctx, line)
	}
	return scanner.Err()
}

// RunOne interprets a single command line, for the "exec" one-shot
// invocation. It returns the error a handler failed with, if any, so the
// caller can set a non-zero process exit code.
func (s *Shell) RunOne(ctx context.Context, line string) error {
	return s.dispatch(ctx, line)
}

func (s *Shell) interpretLine(ctx context.Context, line string) {
	if err := s.dispatch(ctx, line); err != nil {
		s.printError(err)
	}
}

func (s *Shell) dispatch(ctx context.Context, line string) error {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "`") && strings.HasSuffix(trimmed, "`") && len(trimmed) >= 2 {
		return s.runShellCommand(trimmed[1 : len(trimmed)-1])
	}
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "select"):
		return s.runSelect(ctx, trimmed)
	case strings.HasPrefix(lower, "count"):
		return s.runJobQuery(ctx, "count", strings.TrimSpace(trimmed[len("count"):]))
	case strings.HasPrefix(lower, "find"):
		return s.runJobQuery(ctx, "find", strings.TrimSpace(trimmed[len("find"):]))
	case strings.HasPrefix(lower, "observe"):
		return s.runJobQuery(ctx, "observe", strings.TrimSpace(trimmed[len("observe"):]))
	}
	return s.runCommand(ctx, line)
}

func (s *Shell) runShellCommand(command string) error {
	cmd := exec.Command("/bin/sh", "-c", command)
	out, err := cmd.CombinedOutput()
	fmt.Fprint(s.Out, string(out))
	if err != nil {
		return xerrors.Errorf("shell command failed: %w", err)
	}
	return nil
}

func (s *Shell) runCommand(ctx context.Context, line string) error {
	reg := s.rt.Registry()
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	_, cmd, ok := reg.Lookup(fields[0])
	if !ok {
		return &parser.InvalidArgs{Command: fields[0], Reason: "unknown command"}
	}
	args, err := parser.Parse(line, cmd.Schema)
	if err != nil {
		return err
	}

	log.Get(ctx).Debug("dispatching command", zap.String("command", fields[0]))
	result, switchTo, err := reg.Dispatch(ctx, fields[0], args)
	if err != nil {
		return err
	}
	if switchTo != "" {
		s.rt.SetActiveModule(switchTo)
	}
	fmt.Fprintln(s.Out, Render(result).String())
	return nil
}

func (s *Shell) runSelect(ctx context.Context, line string) error {
	q, err := query.Parse(line)
	if err != nil {
		return &parser.InvalidArgs{Command: "select", Reason: err.Error()}
	}
	if s.Resolver == nil {
		return xerrors.Errorf("no Kafka module installed to run select statements")
	}
	partitions, factory, decode, err := s.Resolver.ResolveTopic(ctx, q.Topic)
	if err != nil {
		return err
	}
	engine := scan.NewEngine(factory, scan.DefaultWorkerCount)
	rows, err := query.Execute(ctx, q, engine, partitions, decode)
	if err != nil {
		log.Get(ctx).Error("select failed", zap.String("topic", q.Topic), zap.Error(err))
		return err
	}
	fmt.Fprintln(s.Out, ResultSet{Rows: rows}.String())
	return nil
}

// runJobQuery backs the count/find/observe statements: each names a topic
// and an optional where clause exactly like a select statement with its
// field list omitted ("count from topic where value='x'"), compiles it with
// the same query planner select uses, and submits the scan to the job
// manager instead of running it inline. The REPL gets the job handle back
// immediately; "jobs" and "canceljob" inspect and stop it from there.
func (s *Shell) runJobQuery(ctx context.Context, kind, rest string) error {
	q, err := query.Parse("select * " + rest)
	if err != nil {
		return &parser.InvalidArgs{Command: kind, Reason: err.Error()}
	}
	if s.Resolver == nil {
		return xerrors.Errorf("no Kafka module installed to run %s statements", kind)
	}
	partitions, factory, decode, err := s.Resolver.ResolveTopic(ctx, q.Topic)
	if err != nil {
		return err
	}
	engine := scan.NewEngine(factory, scan.DefaultWorkerCount)
	predicate := q.Compile(decode)

	var fn func(ctx context.Context) (interface{}, error)
	switch kind {
	case "count":
		fn = func(ctx context.Context) (interface{}, error) {
			return engine.Count(ctx, partitions, predicate)
		}
	case "find":
		fn = func(ctx context.Context) (interface{}, error) {
			msg, err := engine.FindOne(ctx, partitions, predicate)
			if err != nil || msg == nil {
				return nil, err
			}
			return q.Project(decode, *msg), nil
		}
	case "observe":
		fn = func(ctx context.Context) (interface{}, error) {
			var mu sync.Mutex
			var rows []query.Row
			sink := func(m kclient.MessageData) {
				if !predicate(m.Value, m.Key) {
					return
				}
				row := q.Project(decode, m)
				mu.Lock()
				rows = append(rows, row)
				mu.Unlock()
			}
			err := engine.Observe(ctx, partitions, sink)
			mu.Lock()
			defer mu.Unlock()
			return rows, err
		}
	default:
		return xerrors.Errorf("unknown job query kind %q", kind)
	}

	id := s.rt.Jobs.Submit(ctx, fmt.Sprintf("%s %s", kind, q.Topic), fn)
	fmt.Fprintln(s.Out, Render(Pending{ID: id, Label: fmt.Sprintf("%s %s", kind, q.Topic)}).String())
	return nil
}

func (s *Shell) printError(err error) {
	switch {
	case xerrors.Is(err, zkview.ErrConnectionLost):
		fmt.Fprintf(s.Out, "Connection lost: %s (try zreconnect)\n", err)
	case isInvalidArgs(err):
		fmt.Fprintf(s.Out, "Syntax error: %s\n", err)
	default:
		fmt.Fprintf(s.Out, "Runtime error: %s\n", err)
	}
	if s.Debug {
		fmt.Fprintf(s.Out, "%+v\n", err)
	}
}

func isInvalidArgs(err error) bool {
	var invalid *parser.InvalidArgs
	return xerrors.As(err, &invalid)
}

// ClassifyError reports a coarse, machine-readable error-kind label. The
// exec subcommand prints this alongside the error text so a script driving
// trifecta can branch on the failure kind (e.g. retry on ZKConnectionLost)
// without parsing message text.
func ClassifyError(err error) string {
	return classify(err)
}

// classify is ClassifyError's unexported implementation. printError does not
// use it; it applies its own three-way classification.
func classify(err error) string {
	switch {
	case err == nil:
		return ""
	case xerrors.Is(err, zkview.ErrConnectionLost):
		return "ZKConnectionLost"
	case xerrors.Is(err, zkview.ErrNotFound):
		return "ZKNotFound"
	case xerrors.Is(err, zkview.ErrDeleteFailed):
		return "ZKDeleteFailed"
	case xerrors.Is(err, kclient.ErrLeaderUnavailable):
		return "LeaderUnavailable"
	case xerrors.Is(err, kclient.ErrTransport):
		return "Transport"
	case isInvalidArgs(err):
		return "InvalidArgs"
	default:
		return "Internal"
	}
}
