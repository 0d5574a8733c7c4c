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

// Package registry holds the shell's modules and commands: what a module
// contributes to the prompt, what session variables it owns, and how a
// command line is dispatched to a handler.
package registry

import (
	"context"
	"fmt"

	"github.com/spothero/trifecta/shell/parser"
)

// CommandHandler runs a parsed command line and returns a result for
// display.
type CommandHandler func(ctx context.Context, args *parser.Args) (interface{}, error)

// Command is one entry a Module contributes to the registry.
type Command struct {
	Name   string
	Schema parser.ParamSchema
	Help   string
	// PromptAware commands cause the shell to switch its active module to
	// the owning module after a successful run, even if the module isn't
	// "core".
	PromptAware bool
	Handler     CommandHandler
}

// Module is a self-contained set of commands sharing a prompt label and
// session-variable namespace.
type Module struct {
	Name            string
	Label           string
	Prompt          string
	Commands        []Command
	SessionVars     []string
	SourceFactories map[string]func() interface{}
	Shutdown        func(ctx context.Context) error
}

// Registry resolves command names to handlers across every registered
// module and tracks which module "owns" each command.
type Registry struct {
	modules  map[string]*Module
	commands map[string]ownedCommand
}

type ownedCommand struct {
	module  string
	command Command
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{modules: map[string]*Module{}, commands: map[string]ownedCommand{}}
}

// Register adds a module's commands to the registry. It fails at boot if
// any command name collides with one already registered by another module.
func (r *Registry) Register(m *Module) error {
	for _, cmd := range m.Commands {
		if existing, ok := r.commands[cmd.Name]; ok {
			return fmt.Errorf("command %q already registered by module %q", cmd.Name, existing.module)
		}
	}
	r.modules[m.Name] = m
	for _, cmd := range m.Commands {
		r.commands[cmd.Name] = ownedCommand{module: m.Name, command: cmd}
	}
	return nil
}

// Module looks up a registered module by name.
func (r *Registry) Module(name string) (*Module, bool) {
	m, ok := r.modules[name]
	return m, ok
}

// Lookup resolves a command name to its owning module name and Command.
func (r *Registry) Lookup(name string) (string, Command, bool) {
	oc, ok := r.commands[name]
	return oc.module, oc.command, ok
}

// Dispatch resolves name, runs its handler, and reports whether the active
// module should switch as a result: a command owned by a non-"core" module,
// or any promptAware command, switches the active module to the owner.
func (r *Registry) Dispatch(ctx context.Context, name string, args *parser.Args) (result interface{}, switchTo string, err error) {
	moduleName, cmd, ok := r.Lookup(name)
	if !ok {
		return nil, "", fmt.Errorf("unknown command %q", name)
	}
	result, err = cmd.Handler(ctx, args)
	if err != nil {
		return nil, "", err
	}
	if cmd.PromptAware || moduleName != "core" {
		switchTo = moduleName
	}
	return result, switchTo, nil
}
