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

// Package query implements the select statement parser/planner: it turns
// "select <fields> from <topic> [where <expr>] [limit <n>] [with
// <restrictions>]" into a compiled predicate, projection, restrictions, and
// limit, then hands the result to the scan engine.
package query

import (
	"strconv"
	"strings"

	"github.com/spothero/trifecta/scan"
	"golang.org/x/xerrors"
)

// Query is the planner's compiled output.
type Query struct {
	Topic        string
	Projection   []string // "*" means every field
	Where        expr     // nil means unconditional match
	Restrictions scan.Restrictions
	Limit        int
}

// expr evaluates against a decoded record plus the raw key/value.
type expr interface {
	eval(record map[string]interface{}, key, value []byte) bool
}

type andExpr struct{ left, right expr }

func (e andExpr) eval(r map[string]interface{}, key, value []byte) bool {
	return e.left.eval(r, key, value) && e.right.eval(r, key, value)
}

type orExpr struct{ left, right expr }

func (e orExpr) eval(r map[string]interface{}, key, value []byte) bool {
	return e.left.eval(r, key, value) || e.right.eval(r, key, value)
}

type comparison struct {
	field string
	op    string
	value interface{}
}

func (c comparison) eval(r map[string]interface{}, key, value []byte) bool {
	actual := fieldValue(c.field, r, key, value)
	return compare(actual, c.op, c.value)
}

func fieldValue(field string, r map[string]interface{}, key, value []byte) interface{} {
	switch field {
	case "key":
		return string(key)
	case "value":
		return string(value)
	default:
		if r == nil {
			return nil
		}
		return r[field]
	}
}

func compare(actual interface{}, op string, want interface{}) bool {
	switch a := actual.(type) {
	case string:
		w, ok := want.(string)
		if !ok {
			return false
		}
		return stringCompare(a, op, w)
	case float64:
		w, ok := toFloat(want)
		if !ok {
			return false
		}
		return numberCompare(a, op, w)
	default:
		return false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	}
	return 0, false
}

func stringCompare(a, op, b string) bool {
	switch op {
	case "=":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case ">":
		return a > b
	case "<=":
		return a <= b
	case ">=":
		return a >= b
	}
	return false
}

func numberCompare(a float64, op string, b float64) bool {
	switch op {
	case "=":
		return a == b
	case "!=":
		return a != b
	case "<":
		return a < b
	case ">":
		return a > b
	case "<=":
		return a <= b
	case ">=":
		return a >= b
	}
	return false
}

// parser is a hand-written recursive-descent parser over the token stream;
// no third-party grammar library fits the scale of this grammar.
type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token  { return p.tokens[p.pos] }
func (p *parser) advance() token {
	t := p.tokens[p.pos]
	if p.pos < len(p.tokens)-1 {
		p.pos++
	}
	return t
}

func (p *parser) expectIdent(want string) error {
	t := p.advance()
	if t.kind != tokIdent || !strings.EqualFold(t.text, want) {
		return xerrors.Errorf("expected %q, got %q", want, t.text)
	}
	return nil
}

// Parse compiles a select statement into a Query. The where clause, if
// present, is left as an internal expr tree; call Compile to turn it into a
// scan.Predicate bound to a record decoder.
func Parse(statement string) (*Query, error) {
	tokens, err := lex(statement)
	if err != nil {
		return nil, xerrors.Errorf("lex error: %w", err)
	}
	p := &parser{tokens: tokens}

	if err := p.expectIdent("select"); err != nil {
		return nil, err
	}
	fields, err := p.parseFieldList()
	if err != nil {
		return nil, err
	}
	if err := p.expectIdent("from"); err != nil {
		return nil, err
	}
	topicTok := p.advance()
	if topicTok.kind != tokIdent {
		return nil, xerrors.Errorf("expected topic name, got %q", topicTok.text)
	}

	q := &Query{Topic: topicTok.text, Projection: fields}

	for {
		t := p.peek()
		if t.kind == tokEOF {
			break
		}
		if t.kind != tokIdent {
			return nil, xerrors.Errorf("unexpected token %q", t.text)
		}
		switch strings.ToLower(t.text) {
		case "where":
			p.advance()
			e, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			q.Where = e
		case "limit":
			p.advance()
			n := p.advance()
			if n.kind != tokNumber {
				return nil, xerrors.Errorf("expected number after limit, got %q", n.text)
			}
			limit, err := strconv.Atoi(n.text)
			if err != nil {
				return nil, xerrors.Errorf("invalid limit %q: %w", n.text, err)
			}
			q.Limit = limit
		case "with":
			p.advance()
			if err := p.parseRestrictions(q); err != nil {
				return nil, err
			}
		default:
			return nil, xerrors.Errorf("unexpected clause %q", t.text)
		}
	}
	return q, nil
}

func (p *parser) parseFieldList() ([]string, error) {
	var fields []string
	for {
		t := p.advance()
		if t.kind != tokIdent {
			return nil, xerrors.Errorf("expected field name, got %q", t.text)
		}
		fields = append(fields, t.text)
		if p.peek().kind != tokComma {
			break
		}
		p.advance()
	}
	return fields, nil
}

func (p *parser) parseOr() (expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && strings.EqualFold(p.peek().text, "or") {
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (expr, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for p.peek().kind == tokIdent && strings.EqualFold(p.peek().text, "and") {
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = andExpr{left, right}
	}
	return left, nil
}

func (p *parser) parseComparison() (expr, error) {
	if p.peek().kind == tokLParen {
		p.advance()
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, xerrors.Errorf("expected ), got %q", p.peek().text)
		}
		p.advance()
		return e, nil
	}

	field := p.advance()
	if field.kind != tokIdent {
		return nil, xerrors.Errorf("expected field name, got %q", field.text)
	}
	op := p.advance()
	if op.kind != tokOp {
		return nil, xerrors.Errorf("expected comparison operator, got %q", op.text)
	}
	lit := p.advance()
	var value interface{}
	switch lit.kind {
	case tokString:
		value = lit.text
	case tokNumber:
		f, err := strconv.ParseFloat(lit.text, 64)
		if err != nil {
			return nil, xerrors.Errorf("invalid numeric literal %q: %w", lit.text, err)
		}
		value = f
	default:
		return nil, xerrors.Errorf("expected literal, got %q", lit.text)
	}
	return comparison{field: field.text, op: op.text, value: value}, nil
}

func (p *parser) parseRestrictions(q *Query) error {
	for {
		key := p.advance()
		if key.kind != tokIdent {
			return xerrors.Errorf("expected restriction name, got %q", key.text)
		}
		op := p.advance()
		if op.kind != tokOp || op.text != "=" {
			return xerrors.Errorf("expected '=' after restriction name, got %q", op.text)
		}
		val := p.advance()
		switch strings.ToLower(key.text) {
		case "groupid":
			if val.kind != tokIdent && val.kind != tokString {
				return xerrors.Errorf("expected groupId value, got %q", val.text)
			}
			q.Restrictions.GroupID = val.text
		case "delta":
			if val.kind != tokNumber {
				return xerrors.Errorf("expected numeric delta, got %q", val.text)
			}
			n, err := strconv.ParseInt(val.text, 10, 64)
			if err != nil {
				return xerrors.Errorf("invalid delta %q: %w", val.text, err)
			}
			q.Restrictions.Delta = n
		default:
			return xerrors.Errorf("unknown restriction %q", key.text)
		}
		if p.peek().kind != tokComma {
			break
		}
		p.advance()
	}
	return nil
}
