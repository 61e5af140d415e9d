// Package hooks dispatches lifecycle callbacks to externally supplied
// plugins. Plugins are untrusted, optional extensions: a hook that fails or
// panics is logged and skipped, never allowed to abort the loop.
package hooks

import (
	"fmt"

	"agentloop/pkg/config"
	"agentloop/pkg/logx"
	"agentloop/pkg/session"
)

// Hook names, also the function names a plugin file may export.
const (
	HookBeforeRun       = "BeforeRun"
	HookBeforeIteration = "BeforeIteration"
	HookAfterIteration  = "AfterIteration"
	HookDone            = "Done"
	HookOnError         = "OnError"
)

// Context is the information handed to every hook. Iteration-scoped fields
// are zero for run-scoped hooks; Err is set only for OnError.
type Context struct {
	Config          *config.Config
	Session         *session.Session
	RepoRoot        string
	Branch          string
	Verbose         bool
	DryRun          bool
	Iteration       int
	TotalIterations int
	Result          *session.IterationRecord
	Err             error
}

// HookFunc is one lifecycle callback.
type HookFunc func(Context) error

// Plugin is a named capability set. Any subset of hooks may be nil; an
// absent hook is not an error.
type Plugin struct {
	Name            string
	BeforeRun       HookFunc
	BeforeIteration HookFunc
	AfterIteration  HookFunc
	Done            HookFunc
	OnError         HookFunc
}

// Dispatcher invokes plugin hooks in registration order.
type Dispatcher struct {
	plugins []Plugin
	logger  *logx.Logger
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{logger: logx.NewLogger("hooks")}
}

// Register appends a plugin. Order of registration is order of invocation.
func (d *Dispatcher) Register(p Plugin) {
	d.plugins = append(d.plugins, p)
}

// PluginCount returns the number of registered plugins.
func (d *Dispatcher) PluginCount() int {
	return len(d.plugins)
}

// BeforeRun fires once, after session creation or resume, before the first attempt.
func (d *Dispatcher) BeforeRun(ctx Context) {
	d.fire(HookBeforeRun, ctx, func(p *Plugin) HookFunc { return p.BeforeRun })
}

// BeforeIteration fires before every attempt, retries included.
func (d *Dispatcher) BeforeIteration(ctx Context) {
	d.fire(HookBeforeIteration, ctx, func(p *Plugin) HookFunc { return p.BeforeIteration })
}

// AfterIteration fires after every attempt, before the policy decision is acted on.
func (d *Dispatcher) AfterIteration(ctx Context) {
	d.fire(HookAfterIteration, ctx, func(p *Plugin) HookFunc { return p.AfterIteration })
}

// Done fires once on any non-error terminal decision.
func (d *Dispatcher) Done(ctx Context) {
	d.fire(HookDone, ctx, func(p *Plugin) HookFunc { return p.Done })
}

// OnError fires on an unrecoverable error; ctx.Err carries it.
func (d *Dispatcher) OnError(ctx Context) {
	d.fire(HookOnError, ctx, func(p *Plugin) HookFunc { return p.OnError })
}

func (d *Dispatcher) fire(name string, ctx Context, pick func(*Plugin) HookFunc) {
	for i := range d.plugins {
		p := &d.plugins[i]
		fn := pick(p)
		if fn == nil {
			continue
		}
		if err := d.safeCall(fn, ctx); err != nil {
			d.logger.Warn("plugin %s hook %s failed: %v", p.Name, name, err)
		}
	}
}

// safeCall contains a hook's panic so one bad plugin cannot take down the run.
func (d *Dispatcher) safeCall(fn HookFunc, ctx Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
