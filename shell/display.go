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
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spothero/trifecta/query"
	"github.com/spothero/trifecta/shell/jobs"
)

// DisplayValue renders a command result for the REPL. Each concrete result
// shape gets its own constructor rather than reflecting over the result at
// print time.
type DisplayValue interface {
	String() string
	JSON() ([]byte, error)
}

// Pending wraps a submitted background job handle.
type Pending struct {
	ID    jobs.ID
	Label string
}

func (p Pending) String() string {
	return fmt.Sprintf("job %d (%s) submitted", p.ID, p.Label)
}

func (p Pending) JSON() ([]byte, error) {
	return json.Marshal(struct {
		ID    jobs.ID `json:"id"`
		Label string  `json:"label"`
	}{p.ID, p.Label})
}

// Option wraps a result that may be absent, such as findOne/findNext
// turning up nothing.
type Option struct {
	Value   interface{}
	Present bool
}

func (o Option) String() string {
	if !o.Present {
		return "(none)"
	}
	return fmt.Sprintf("%v", o.Value)
}

func (o Option) JSON() ([]byte, error) {
	if !o.Present {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// ResultSet wraps the rows returned by a select statement.
type ResultSet struct {
	Rows []query.Row
}

func (r ResultSet) String() string {
	if len(r.Rows) == 0 {
		return "(0 rows)"
	}
	var sb strings.Builder
	for _, row := range r.Rows {
		fmt.Fprintf(&sb, "partition=%d offset=%d %v\n", row.Partition, row.Offset, row.Fields)
	}
	fmt.Fprintf(&sb, "(%d rows)", len(r.Rows))
	return sb.String()
}

func (r ResultSet) JSON() ([]byte, error) {
	return json.Marshal(r.Rows)
}

// RawBytes wraps an undecoded byte payload, such as a zget with no type tag.
type RawBytes struct {
	Value []byte
}

func (b RawBytes) String() string {
	return string(b.Value)
}

func (b RawBytes) JSON() ([]byte, error) {
	return json.Marshal(string(b.Value))
}

// Record wraps an arbitrary named-field result, such as znode stat output.
type Record struct {
	Fields map[string]interface{}
}

func (r Record) String() string {
	return fmt.Sprintf("%v", r.Fields)
}

func (r Record) JSON() ([]byte, error) {
	return json.Marshal(r.Fields)
}

// Render converts an arbitrary command result into a DisplayValue. Results
// that are already a DisplayValue pass through unchanged; everything else
// is wrapped as a RawBytes/Record fallback so every command handler can
// return whatever shape is natural to it.
func Render(v interface{}) DisplayValue {
	switch t := v.(type) {
	case DisplayValue:
		return t
	case nil:
		return Option{Present: false}
	case string:
		return RawBytes{Value: []byte(t)}
	case []byte:
		return RawBytes{Value: t}
	case map[string]interface{}:
		return Record{Fields: t}
	default:
		return RawBytes{Value: []byte(fmt.Sprintf("%v", t))}
	}
}
