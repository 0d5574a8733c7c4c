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

// Package parser tokenizes a shell command line and assembles the tokens
// into a command name, positional arguments, and flags against a command's
// declared ParamSchema.
package parser

import (
	"strings"

	"github.com/google/shlex"
	"golang.org/x/xerrors"
)

// ParamSchema declares the arguments a command accepts. Required and
// Optional are positional parameter names, in order; Flags maps a flag name
// to whether it takes a value (true) or is a bare boolean switch (false).
type ParamSchema struct {
	Required []string
	Optional []string
	Flags    map[string]bool
}

// Args is the result of assembling a command line against a ParamSchema.
type Args struct {
	Command    string
	Positional []string
	Flags      map[string]string
	BareFlags  map[string]bool
	// Shell holds the inner text of a backtick-quoted run, when present.
	Shell   string
	IsShell bool
}

// InvalidArgs reports a command line that does not satisfy its ParamSchema.
// It carries the command name so callers can suggest "syntax <cmd>".
type InvalidArgs struct {
	Command string
	Reason  string
}

func (e *InvalidArgs) Error() string {
	return xerrors.Errorf("invalid arguments for %q: %s", e.Command, e.Reason).Error()
}

// Parse tokenizes and assembles a raw command line. A line whose trimmed
// form starts and ends with a backtick is treated entirely as a shell
// command and returned with IsShell set; schema is ignored in that case.
func Parse(line string, schema ParamSchema) (*Args, error) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "`") && strings.HasSuffix(trimmed, "`") && len(trimmed) >= 2 {
		return &Args{Shell: trimmed[1 : len(trimmed)-1], IsShell: true}, nil
	}

	tokens, err := shlex.Split(line)
	if err != nil {
		return nil, xerrors.Errorf("failed to tokenize command line: %w", err)
	}
	if len(tokens) == 0 {
		return nil, xerrors.Errorf("empty command line")
	}

	args := &Args{
		Command:   tokens[0],
		Flags:     map[string]string{},
		BareFlags: map[string]bool{},
	}

	rest := tokens[1:]
	for i := 0; i < len(rest); i++ {
		tok := rest[i]
		if strings.HasPrefix(tok, "-") && len(tok) > 1 {
			name := strings.TrimLeft(tok, "-")
			takesValue, known := schema.Flags[name]
			if !known {
				return nil, &InvalidArgs{Command: args.Command, Reason: "unknown flag " + tok}
			}
			if !takesValue {
				args.BareFlags[name] = true
				continue
			}
			if i+1 >= len(rest) {
				return nil, &InvalidArgs{Command: args.Command, Reason: "flag " + tok + " requires a value"}
			}
			i++
			args.Flags[name] = rest[i]
			continue
		}
		args.Positional = append(args.Positional, tok)
	}

	if len(args.Positional) < len(schema.Required) {
		return nil, &InvalidArgs{
			Command: args.Command,
			Reason:  "missing required argument " + schema.Required[len(args.Positional)],
		}
	}
	maxPositional := len(schema.Required) + len(schema.Optional)
	if len(args.Positional) > maxPositional {
		return nil, &InvalidArgs{Command: args.Command, Reason: "too many positional arguments"}
	}
	return args, nil
}

// At returns the i-th positional argument, or "" if absent.
func (a *Args) At(i int) string {
	if i < 0 || i >= len(a.Positional) {
		return ""
	}
	return a.Positional[i]
}
