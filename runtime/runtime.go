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

// Package runtime holds the shell's process-wide state: the module
// registry, the active ZooKeeper view, session variables, the active
// module name, and the correlation-id counter shared by every kclient
// connection the shell opens.
//
// Construction is two-phase to break the cycle between the registry and
// its modules: a Context is built first with no registry installed, then
// modules (which hold only the context, never a pointer back into the
// registry) are constructed and handed to Install.
package runtime

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/spothero/trifecta/kclient"
	"github.com/spothero/trifecta/shell/jobs"
	"github.com/spothero/trifecta/shell/registry"
	"github.com/spothero/trifecta/zkview"
)

// Config bundles the connection settings a Context needs to construct its
// ZooKeeper view and Kafka clients.
type Config struct {
	ZK    zkview.Config
	Kafka kclient.Config
	Debug bool
}

// Context is the shell's process-wide runtime state. It is safe for
// concurrent use by command handlers and background jobs.
type Context struct {
	Config      Config
	Output      io.Writer
	ZK          *zkview.View
	Jobs        *jobs.Manager
	correlation  kclient.CorrelationCounter
	sessionVars  sync.Map
	activeModule atomic.Value // string

	registry *registry.Registry
}

// New constructs a Context with no registry installed. Call Install once
// every module has been constructed against this Context.
func New(cfg Config, output io.Writer, zk *zkview.View) *Context {
	c := &Context{Config: cfg, Output: output, ZK: zk, Jobs: jobs.NewManager()}
	c.activeModule.Store("core")
	return c
}

// Install attaches the module registry to the context. It must be called
// exactly once, after every module has been registered.
func (c *Context) Install(r *registry.Registry) {
	c.registry = r
}

// Registry returns the installed module registry.
func (c *Context) Registry() *registry.Registry {
	return c.registry
}

// NextCorrelationID returns the next process-wide Kafka correlation id.
func (c *Context) NextCorrelationID() int32 {
	return c.correlation.Next()
}

// CorrelationCounter returns the process-wide correlation-id counter shared
// by every kclient connection this Context opens.
func (c *Context) CorrelationCounter() *kclient.CorrelationCounter {
	return &c.correlation
}

// ActiveModule returns the name of the module currently driving the prompt.
func (c *Context) ActiveModule() string {
	return c.activeModule.Load().(string)
}

// SetActiveModule switches the prompt-owning module.
func (c *Context) SetActiveModule(name string) {
	c.activeModule.Store(name)
}

// SessionVar returns a session variable's value and whether it was set.
func (c *Context) SessionVar(name string) (interface{}, bool) {
	return c.sessionVars.Load(name)
}

// SetSessionVar sets a session variable's value.
func (c *Context) SetSessionVar(name string, value interface{}) {
	c.sessionVars.Store(name, value)
}

// SessionVarString is a typed convenience accessor over SessionVar.
func (c *Context) SessionVarString(name, fallback string) string {
	v, ok := c.SessionVar(name)
	if !ok {
		return fallback
	}
	s, ok := v.(string)
	if !ok {
		return fallback
	}
	return s
}
