package bot

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"merilcat/pkg/action"
	"merilcat/pkg/adapter"
	"merilcat/pkg/api"
	"merilcat/pkg/config"
	"merilcat/pkg/event"
	"merilcat/pkg/monitor"
	"merilcat/pkg/plugin"
	"merilcat/pkg/plugins/help"
	"merilcat/pkg/signal"
)

// PluginLoader builds plugins once the plugin registry exists, for plugins
// that need to list their peers.
type PluginLoader func(lister api.PluginLister) []*plugin.Plugin

// BotBuilder provides a fluent interface for assembling a Bot. Every
// component is created in Build; nothing runs until Bot.Start.
type BotBuilder struct {
	cfg     *config.Config
	sys     *config.SystemConfig
	monitor monitor.Monitor
	plugins []*plugin.Plugin
	loader  PluginLoader
}

// NewBotBuilder creates an empty builder.
func NewBotBuilder() *BotBuilder {
	return &BotBuilder{}
}

// WithConfig sets the application configuration. Required.
func (b *BotBuilder) WithConfig(cfg *config.Config) *BotBuilder {
	b.cfg = cfg
	return b
}

// WithSystemConfig sets the technical parameters. Defaults are used when
// it is never called.
func (b *BotBuilder) WithSystemConfig(sys *config.SystemConfig) *BotBuilder {
	b.sys = sys
	return b
}

// WithMonitor mirrors chat traffic to m.
func (b *BotBuilder) WithMonitor(m monitor.Monitor) *BotBuilder {
	b.monitor = m
	return b
}

// WithPlugins adds pre-built plugins, registered after help in order.
func (b *BotBuilder) WithPlugins(ps ...*plugin.Plugin) *BotBuilder {
	b.plugins = append(b.plugins, ps...)
	return b
}

// WithPluginLoader adds plugins built from the registry, after the ones
// given to WithPlugins.
func (b *BotBuilder) WithPluginLoader(fn PluginLoader) *BotBuilder {
	b.loader = fn
	return b
}

// Build wires buses, transport and managers, and registers the plugins.
func (b *BotBuilder) Build() (*Bot, error) {
	if b.cfg == nil {
		return nil, errors.New("bot: missing config")
	}
	if err := b.cfg.Validate(); err != nil {
		return nil, err
	}
	sys := b.sys
	if sys == nil {
		sys = config.DefaultSystemConfig()
	}

	capacity := signal.WithCapacity(sys.BusCapacity)
	bot := &Bot{
		cfg:     b.cfg,
		monitor: b.monitor,
		events:  signal.New[[]byte](capacity),
		actions: signal.New[[]byte](capacity),
		nexus:   event.NewNexus(capacity),
	}
	bot.eventMgr = event.NewManager(bot.events.Port(), bot.nexus)
	bot.actionMgr = action.NewManager(bot.actions.Port(),
		action.WithDefaultTimeout(time.Duration(sys.ActionTimeoutMs)*time.Millisecond),
		action.WithObserver(bot.observe))
	bot.pluginMgr = plugin.NewManager(bot.nexus, bot.actionMgr)
	if b.monitor != nil {
		bot.traffic = bot.nexus.AllEvents()
	}

	gw := b.cfg.Gateway
	switch gw.Mode {
	case config.GatewayModeClient:
		header := http.Header{}
		if gw.AccessToken != "" {
			header.Set("Authorization", "Bearer "+gw.AccessToken)
		}
		client := adapter.NewClient(gw.URL, header, bot.events, bot.actions)
		client.SetBackoff(time.Duration(sys.ReconnectDelayMs)*time.Millisecond,
			time.Duration(sys.MaxReconnectDelayMs)*time.Millisecond)
		client.OnState(bot.onState)
		bot.client = client
	default:
		server := adapter.NewServer(gw.ListenAddr, gw.Path, bot.events, bot.actions)
		server.OnState(bot.onState)
		bot.server = server
	}

	ps := append([]*plugin.Plugin{help.New(bot.pluginMgr)}, b.plugins...)
	if b.loader != nil {
		ps = append(ps, b.loader(bot.pluginMgr)...)
	}
	for _, p := range ps {
		if err := bot.pluginMgr.Register(p); err != nil {
			return nil, fmt.Errorf("register plugin: %w", err)
		}
	}
	return bot, nil
}
