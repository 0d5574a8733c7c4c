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

	"github.com/spothero/trifecta/kclient"
	"github.com/spothero/trifecta/scan"
)

// Row is one projected result of a select statement.
type Row struct {
	Partition int32
	Offset    int64
	Key       string
	Fields    map[string]interface{}
}

// Compile turns q's where clause into a scan.Predicate. decode, if non-nil,
// decodes a message's value into a field map for field comparisons and
// projection; a nil decode means only "key"/"value" comparisons and a raw
// byte-string projection are available.
func (q *Query) Compile(decode Decoder) scan.Predicate {
	if q.Where == nil {
		return func(value, key []byte) bool { return true }
	}
	where := q.Where
	return func(value, key []byte) bool {
		var record map[string]interface{}
		if decode != nil {
			r, err := decode(value)
			if err != nil {
				return false
			}
			record = r
		}
		return where.eval(record, key, value)
	}
}

// Project applies q's field list to a matched message, decoding its value
// with decode when the projection needs more than "key"/"value".
func (q *Query) Project(decode Decoder, m kclient.MessageData) Row {
	row := Row{Partition: m.Partition, Offset: m.Offset, Key: string(m.Key)}
	needsRecord := false
	for _, f := range q.Projection {
		if f != "*" && f != "key" && f != "value" {
			needsRecord = true
			break
		}
	}
	var record map[string]interface{}
	if (needsRecord || len(q.Projection) == 1 && q.Projection[0] == "*") && decode != nil {
		record, _ = decode(m.Value)
	}

	row.Fields = make(map[string]interface{}, len(q.Projection))
	for _, f := range q.Projection {
		switch f {
		case "*":
			for k, v := range record {
				row.Fields[k] = v
			}
			row.Fields["key"] = string(m.Key)
			row.Fields["value"] = string(m.Value)
		case "key":
			row.Fields["key"] = string(m.Key)
		case "value":
			row.Fields["value"] = string(m.Value)
		default:
			if record != nil {
				row.Fields[f] = record[f]
			}
		}
	}
	return row
}

// Execute resolves partitions through a FetcherFactory, runs the compiled
// predicate across them with scan.FindMany, and projects every match.
func Execute(ctx context.Context, q *Query, engine *scan.Engine, partitions []int32, decode Decoder) ([]Row, error) {
	matches, err := engine.FindMany(ctx, partitions, q.Restrictions, q.Limit, nil, q.Compile(decode))
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(matches))
	for _, m := range matches {
		rows = append(rows, q.Project(decode, m))
	}
	return rows, nil
}
