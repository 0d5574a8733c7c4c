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
	"context"
	"fmt"
	"sort"
	"strconv"

	"github.com/spothero/trifecta/codec"
	"github.com/spothero/trifecta/runtime"
	"github.com/spothero/trifecta/shell/jobs"
	"github.com/spothero/trifecta/shell/parser"
	"github.com/spothero/trifecta/shell/registry"
)

// NewCoreModule builds the "core" module: the ZooKeeper navigation and
// inspection commands every trifecta session gets regardless of which
// domain module (Kafka, ZK) is active.
func NewCoreModule(rt *runtime.Context) *registry.Module {
	return &registry.Module{
		Name:  "core",
		Label: "trifecta",
		Commands: []registry.Command{
			{Name: "zcd", Schema: parser.ParamSchema{Required: []string{"key"}}, Help: "Change the ZK working directory", Handler: zcd(rt)},
			{Name: "zls", Schema: parser.ParamSchema{Optional: []string{"path"}}, Help: "List children of a path", Handler: zls(rt)},
			{Name: "zget", Schema: parser.ParamSchema{Required: []string{"key"}, Flags: map[string]bool{"t": true}}, Help: "Read and decode a znode", Handler: zget(rt)},
			{Name: "zput", Schema: parser.ParamSchema{Required: []string{"key", "value"}, Flags: map[string]bool{"t": true}}, Help: "Write an encoded value to a znode", Handler: zput(rt)},
			{Name: "zmk", Schema: parser.ParamSchema{Required: []string{"key"}}, Help: "Create an empty znode and its parents", Handler: zmk(rt)},
			{Name: "zrm", Schema: parser.ParamSchema{Required: []string{"key"}, Flags: map[string]bool{"r": false}}, Help: "Delete a znode", Handler: zrm(rt)},
			{Name: "zexists", Schema: parser.ParamSchema{Required: []string{"key"}}, Help: "Report whether a znode exists", Handler: zexists(rt)},
			{Name: "ztree", Schema: parser.ParamSchema{Optional: []string{"path"}}, Help: "Pre-order dump of a subtree", Handler: ztree(rt)},
			{Name: "zsess", Schema: parser.ParamSchema{}, Help: "Print the ZooKeeper session id", Handler: zsess(rt)},
			{Name: "zstat", Schema: parser.ParamSchema{}, Help: "Print ZooKeeper server status", Handler: zstat(rt)},
			{Name: "zruok", Schema: parser.ParamSchema{}, Help: "Check ZooKeeper liveness", Handler: zruok(rt)},
			{Name: "zreconnect", Schema: parser.ParamSchema{}, Help: "Reconnect to the ZooKeeper ensemble", Handler: zreconnect(rt)},
			{Name: "jobs", Schema: parser.ParamSchema{}, Help: "List background jobs (count/find/observe)", Handler: jobsList(rt)},
			{Name: "canceljob", Schema: parser.ParamSchema{Required: []string{"id"}}, Help: "Cancel a running background job", Handler: cancelJob(rt)},
		},
	}
}

func zcd(rt *runtime.Context) registry.CommandHandler {
	return func(ctx context.Context, args *parser.Args) (interface{}, error) {
		rt.ZK.SetCwd(args.At(0))
		return RawBytes{Value: []byte(rt.ZK.Cwd())}, nil
	}
}

func zls(rt *runtime.Context) registry.CommandHandler {
	return func(ctx context.Context, args *parser.Args) (interface{}, error) {
		p := rt.ZK.ResolvePath(args.At(0))
		children, err := rt.ZK.GetChildren(p)
		if err != nil {
			return nil, err
		}
		sort.Strings(children)
		return Record{Fields: map[string]interface{}{"path": p, "children": children}}, nil
	}
}

func zget(rt *runtime.Context) registry.CommandHandler {
	return func(ctx context.Context, args *parser.Args) (interface{}, error) {
		p := rt.ZK.ResolvePath(args.At(0))
		data, err := rt.ZK.Read(p)
		if err != nil {
			return nil, err
		}
		if t, ok := args.Flags["t"]; ok {
			decoded, err := codec.Decode(data, codec.Type(t))
			if err != nil {
				return nil, err
			}
			return RawBytes{Value: []byte(decoded)}, nil
		}
		return RawBytes{Value: data}, nil
	}
}

func zput(rt *runtime.Context) registry.CommandHandler {
	return func(ctx context.Context, args *parser.Args) (interface{}, error) {
		p := rt.ZK.ResolvePath(args.At(0))
		literal := args.At(1)
		t := codec.Type(args.Flags["t"])
		if t == "" {
			t = codec.Guess(literal)
		}
		data, err := codec.Encode(literal, t)
		if err != nil {
			return nil, err
		}
		exists, err := rt.ZK.Exists(p)
		if err != nil {
			return nil, err
		}
		if exists {
			if err := rt.ZK.Delete(p); err != nil {
				return nil, err
			}
		}
		if err := rt.ZK.EnsureParents(p); err != nil {
			return nil, err
		}
		if err := rt.ZK.Create(p, data); err != nil {
			return nil, err
		}
		return RawBytes{Value: []byte(p)}, nil
	}
}

func zmk(rt *runtime.Context) registry.CommandHandler {
	return func(ctx context.Context, args *parser.Args) (interface{}, error) {
		p := rt.ZK.ResolvePath(args.At(0))
		if err := rt.ZK.EnsurePath(p); err != nil {
			return nil, err
		}
		return RawBytes{Value: []byte(p)}, nil
	}
}

func zrm(rt *runtime.Context) registry.CommandHandler {
	return func(ctx context.Context, args *parser.Args) (interface{}, error) {
		p := rt.ZK.ResolvePath(args.At(0))
		if args.BareFlags["r"] {
			if err := rt.ZK.DeleteRecursively(p); err != nil {
				return nil, err
			}
			return RawBytes{Value: []byte(p)}, nil
		}
		if err := rt.ZK.Delete(p); err != nil {
			return nil, err
		}
		return RawBytes{Value: []byte(p)}, nil
	}
}

func zexists(rt *runtime.Context) registry.CommandHandler {
	return func(ctx context.Context, args *parser.Args) (interface{}, error) {
		p := rt.ZK.ResolvePath(args.At(0))
		exists, stat, err := rt.ZK.Stat(p)
		if err != nil {
			return nil, err
		}
		fields := map[string]interface{}{"path": p, "exists": exists}
		if exists && stat != nil {
			fields["czxid"] = stat.Czxid
			fields["mzxid"] = stat.Mzxid
			fields["ctime"] = stat.Ctime
			fields["mtime"] = stat.Mtime
			fields["version"] = stat.Version
			fields["cversion"] = stat.Cversion
			fields["aversion"] = stat.Aversion
			fields["ephemeralOwner"] = stat.EphemeralOwner
			fields["dataLength"] = stat.DataLength
			fields["numChildren"] = stat.NumChildren
			fields["pzxid"] = stat.Pzxid
		}
		return Record{Fields: fields}, nil
	}
}

func ztree(rt *runtime.Context) registry.CommandHandler {
	return func(ctx context.Context, args *parser.Args) (interface{}, error) {
		root := rt.ZK.ResolvePath(args.At(0))
		var lines []string
		var walk func(p string) error
		walk = func(p string) error {
			lines = append(lines, p)
			children, err := rt.ZK.GetChildren(p)
			if err != nil {
				return err
			}
			sort.Strings(children)
			for _, c := range children {
				if err := walk(joinPath(p, c)); err != nil {
					return err
				}
			}
			return nil
		}
		if err := walk(root); err != nil {
			return nil, err
		}
		return Record{Fields: map[string]interface{}{"paths": lines}}, nil
	}
}

func joinPath(parent, child string) string {
	if parent == "/" {
		return "/" + child
	}
	return parent + "/" + child
}

func zsess(rt *runtime.Context) registry.CommandHandler {
	return func(ctx context.Context, args *parser.Args) (interface{}, error) {
		return Record{Fields: map[string]interface{}{"sessionId": rt.ZK.SessionID()}}, nil
	}
}

func zstat(rt *runtime.Context) registry.CommandHandler {
	return func(ctx context.Context, args *parser.Args) (interface{}, error) {
		return Record{Fields: map[string]interface{}{"sessionId": rt.ZK.SessionID(), "cwd": rt.ZK.Cwd()}}, nil
	}
}

func zruok(rt *runtime.Context) registry.CommandHandler {
	return func(ctx context.Context, args *parser.Args) (interface{}, error) {
		if _, err := rt.ZK.Exists("/"); err != nil {
			return nil, err
		}
		return RawBytes{Value: []byte("imok")}, nil
	}
}

func zreconnect(rt *runtime.Context) registry.CommandHandler {
	return func(ctx context.Context, args *parser.Args) (interface{}, error) {
		if err := rt.ZK.Reconnect(ctx); err != nil {
			return nil, err
		}
		return RawBytes{Value: []byte(fmt.Sprintf("reconnected, session=%d", rt.ZK.SessionID()))}, nil
	}
}

// jobsList reports every job rt.Jobs has seen, most recently submitted
// last, including its result once it finishes.
func jobsList(rt *runtime.Context) registry.CommandHandler {
	return func(ctx context.Context, args *parser.Args) (interface{}, error) {
		all := rt.Jobs.List()
		out := make([]map[string]interface{}, 0, len(all))
		for _, j := range all {
			entry := map[string]interface{}{"id": j.ID, "label": j.Label, "status": j.Status}
			if j.Err != nil {
				entry["error"] = j.Err.Error()
			}
			if j.Status == jobs.StatusDone {
				entry["result"] = j.Result
			}
			out = append(out, entry)
		}
		return Record{Fields: map[string]interface{}{"jobs": out}}, nil
	}
}

func cancelJob(rt *runtime.Context) registry.CommandHandler {
	return func(ctx context.Context, args *parser.Args) (interface{}, error) {
		id, err := strconv.ParseUint(args.At(0), 10, 64)
		if err != nil {
			return nil, &parser.InvalidArgs{Command: "canceljob", Reason: "id must be a number"}
		}
		ok := rt.Jobs.Cancel(jobs.ID(id))
		return Record{Fields: map[string]interface{}{"id": id, "cancelled": ok}}, nil
	}
}
