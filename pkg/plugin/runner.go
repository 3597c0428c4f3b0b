package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"merilcat/pkg/api"
	"merilcat/pkg/event"
	"merilcat/pkg/signal"
)

// runner is the dispatch loop of a single plugin. Ports for callbacks the
// plugin does not register stay nil and never fire in the select.
type runner struct {
	plugin  *Plugin
	actions api.Actions

	group     *signal.Port[*event.GroupMessageEvent]
	private   *signal.Port[*event.PrivateMessageEvent]
	heartbeat *signal.Port[*event.HeartBeatEvent]
	lifecycle *signal.Port[*event.LifeCycleEvent]

	inflight sync.WaitGroup
}

func (r *runner) run(ctx context.Context) {
	p := r.plugin
	log := slog.With("plugin", p.name)
	defer r.closePorts()

	if p.onLoad != nil {
		if err := r.guard(func() error { return p.onLoad(ctx) }); err != nil {
			log.Error("Plugin failed to load, not dispatching", "error", err)
			return
		}
	}
	log.Info("Plugin started")

	r.loop(ctx, log)
	r.inflight.Wait()

	if p.onUnload != nil {
		// ctx is already done here; unload hooks get a fresh one.
		if err := r.guard(func() error { return p.onUnload(context.WithoutCancel(ctx)) }); err != nil {
			log.Error("Plugin unload failed", "error", err)
		}
	}
	log.Info("Plugin stopped")
}

func (r *runner) loop(ctx context.Context, log *slog.Logger) {
	p := r.plugin
	for {
		select {
		case <-ctx.Done():
			return

		case ev, ok := <-chanOf(r.group):
			if !ok {
				return
			}
			r.checkLag(log, "group", r.group)
			if !p.trigger.Match(ev.RawMessage) {
				continue
			}
			r.invoke(log, "group", func() error { return p.onGroup(ctx, ev, r.actions) })

		case ev, ok := <-chanOf(r.private):
			if !ok {
				return
			}
			r.checkLag(log, "private", r.private)
			if !p.trigger.Match(ev.RawMessage) {
				continue
			}
			r.invoke(log, "private", func() error { return p.onPrivate(ctx, ev, r.actions) })

		case ev, ok := <-chanOf(r.heartbeat):
			if !ok {
				return
			}
			r.checkLag(log, "heartbeat", r.heartbeat)
			r.invoke(log, "heartbeat", func() error { return p.onHeartbeat(ctx, ev, r.actions) })

		case ev, ok := <-chanOf(r.lifecycle):
			if !ok {
				return
			}
			r.checkLag(log, "lifecycle", r.lifecycle)
			r.invoke(log, "lifecycle", func() error { return p.onLifeCycle(ctx, ev, r.actions) })
		}
	}
}

func (r *runner) invoke(log *slog.Logger, kind string, fn func() error) {
	call := func() {
		if err := r.guard(fn); err != nil {
			log.Error("Plugin callback failed", "event", kind, "error", err)
		}
	}
	if !r.plugin.concurrent {
		call()
		return
	}
	r.inflight.Add(1)
	go func() {
		defer r.inflight.Done()
		call()
	}()
}

// guard turns a panic in plugin code into an error.
func (r *runner) guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Debug("Plugin panic stack", "plugin", r.plugin.name, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}

func (r *runner) checkLag(log *slog.Logger, kind string, lagger interface{ TakeLag() uint64 }) {
	if n := lagger.TakeLag(); n > 0 {
		log.Warn("Plugin fell behind, events dropped", "event", kind, "skipped", n)
	}
}

func (r *runner) closePorts() {
	if r.group != nil {
		r.group.Close()
	}
	if r.private != nil {
		r.private.Close()
	}
	if r.heartbeat != nil {
		r.heartbeat.Close()
	}
	if r.lifecycle != nil {
		r.lifecycle.Close()
	}
}

// chanOf returns nil for a nil port so the select case blocks forever.
func chanOf[T any](p *signal.Port[T]) <-chan T {
	if p == nil {
		return nil
	}
	return p.C()
}
