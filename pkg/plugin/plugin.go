package plugin

import (
	"context"

	"merilcat/pkg/api"
	"merilcat/pkg/event"
)

// Callback signatures, one per event kind a plugin can subscribe to.
type (
	GroupFunc     func(ctx context.Context, ev *event.GroupMessageEvent, act api.Actions) error
	PrivateFunc   func(ctx context.Context, ev *event.PrivateMessageEvent, act api.Actions) error
	HeartbeatFunc func(ctx context.Context, ev *event.HeartBeatEvent, act api.Actions) error
	LifeCycleFunc func(ctx context.Context, ev *event.LifeCycleEvent, act api.Actions) error
	HookFunc      func(ctx context.Context) error
)

// Plugin is a named set of callbacks gated by a Trigger. Build it with New
// and the With*/On* methods before registering; it must not be changed
// afterwards.
type Plugin struct {
	name        string
	description string
	version     string
	author      string
	trigger     Trigger
	concurrent  bool

	onGroup     GroupFunc
	onPrivate   PrivateFunc
	onHeartbeat HeartbeatFunc
	onLifeCycle LifeCycleFunc
	onLoad      HookFunc
	onUnload    HookFunc
}

// New creates a plugin with default metadata and an Always trigger.
func New(name string) *Plugin {
	return &Plugin{
		name:        name,
		description: "None",
		version:     "0.0.0",
		author:      "None",
		trigger:     Always(),
	}
}

func (p *Plugin) WithDescription(description string) *Plugin {
	p.description = description
	return p
}

func (p *Plugin) WithVersion(version string) *Plugin {
	p.version = version
	return p
}

func (p *Plugin) WithAuthor(author string) *Plugin {
	p.author = author
	return p
}

// WithTrigger gates the message callbacks. Heartbeat and lifecycle
// callbacks are not gated.
func (p *Plugin) WithTrigger(t Trigger) *Plugin {
	p.trigger = t
	return p
}

// Concurrent runs every callback invocation in its own goroutine instead
// of inline in the plugin's dispatch loop. The plugin must then guard its
// own state.
func (p *Plugin) Concurrent() *Plugin {
	p.concurrent = true
	return p
}

func (p *Plugin) OnGroupMessage(fn GroupFunc) *Plugin {
	p.onGroup = fn
	return p
}

func (p *Plugin) OnPrivateMessage(fn PrivateFunc) *Plugin {
	p.onPrivate = fn
	return p
}

// OnHeartbeat subscribes to gateway heartbeats, typically for periodic
// housekeeping.
func (p *Plugin) OnHeartbeat(fn HeartbeatFunc) *Plugin {
	p.onHeartbeat = fn
	return p
}

func (p *Plugin) OnLifeCycle(fn LifeCycleFunc) *Plugin {
	p.onLifeCycle = fn
	return p
}

// OnLoad runs once before the dispatch loop starts.
func (p *Plugin) OnLoad(fn HookFunc) *Plugin {
	p.onLoad = fn
	return p
}

// OnUnload runs once after the dispatch loop stops.
func (p *Plugin) OnUnload(fn HookFunc) *Plugin {
	p.onUnload = fn
	return p
}

func (p *Plugin) Name() string {
	return p.name
}

func (p *Plugin) Trigger() Trigger {
	return p.trigger
}

// Info returns the plugin metadata.
func (p *Plugin) Info() api.PluginInfo {
	return api.PluginInfo{
		Name:        p.name,
		Description: p.description,
		Version:     p.version,
		Author:      p.author,
		Trigger:     p.trigger.String(),
	}
}
