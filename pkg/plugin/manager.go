package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"merilcat/pkg/api"
	"merilcat/pkg/event"
)

// Manager owns the registered plugins and runs one dispatch loop per
// plugin. Plugins are isolated from each other: a slow or failing plugin
// only lags its own ports.
type Manager struct {
	nexus   *event.Nexus
	actions api.Actions

	mu      sync.RWMutex
	plugins []*Plugin
	names   map[string]struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewManager creates a Manager that subscribes plugins to nexus and hands
// them actions.
func NewManager(nexus *event.Nexus, actions api.Actions) *Manager {
	return &Manager{
		nexus:   nexus,
		actions: actions,
		names:   make(map[string]struct{}),
	}
}

// Register adds a plugin. Names must be unique. A plugin registered while
// the manager is running starts immediately.
func (m *Manager) Register(p *Plugin) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.names[p.name]; ok {
		return fmt.Errorf("plugin %q already registered", p.name)
	}
	m.names[p.name] = struct{}{}
	m.plugins = append(m.plugins, p)
	slog.Info("Plugin registered", "plugin", p.name, "version", p.version, "trigger", p.trigger.String())

	if m.running {
		m.launch(p)
	}
	return nil
}

// List returns plugin metadata in registration order.
func (m *Manager) List() []api.PluginInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	infos := make([]api.PluginInfo, 0, len(m.plugins))
	for _, p := range m.plugins {
		infos = append(infos, p.Info())
	}
	return infos
}

// Start runs OnLoad and the dispatch loop of every registered plugin.
// It returns immediately; loops stop when ctx ends or Stop is called.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.running = true
	for _, p := range m.plugins {
		m.launch(p)
	}
}

// Stop cancels all dispatch loops, waits for them and runs OnUnload hooks.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.cancel()
	m.mu.Unlock()

	m.wg.Wait()
}

// launch is called with m.mu held.
func (m *Manager) launch(p *Plugin) {
	r := &runner{plugin: p, actions: m.actions}
	if p.onGroup != nil {
		r.group = m.nexus.GroupMessages()
	}
	if p.onPrivate != nil {
		r.private = m.nexus.PrivateMessages()
	}
	if p.onHeartbeat != nil {
		r.heartbeat = m.nexus.Heartbeats()
	}
	if p.onLifeCycle != nil {
		r.lifecycle = m.nexus.LifeCycles()
	}

	ctx := m.ctx
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		r.run(ctx)
	}()
}
