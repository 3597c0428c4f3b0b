// Package bot owns every component of a running bot: the buses, the
// gateway transport, the event, action and plugin managers.
package bot

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"merilcat/pkg/action"
	"merilcat/pkg/adapter"
	"merilcat/pkg/config"
	"merilcat/pkg/event"
	"merilcat/pkg/message"
	"merilcat/pkg/monitor"
	"merilcat/pkg/plugin"
	"merilcat/pkg/signal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Bot is built by BotBuilder.
type Bot struct {
	cfg     *config.Config
	monitor monitor.Monitor
	traffic *signal.Port[event.Event]

	events    *signal.Bus[[]byte]
	actions   *signal.Bus[[]byte]
	nexus     *event.Nexus
	eventMgr  *event.Manager
	actionMgr *action.Manager
	pluginMgr *plugin.Manager

	server *adapter.Server
	client *adapter.Client

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// Start launches the managers, the plugins and the transport, in that
// order. In server mode the listener is bound before Start returns.
func (b *Bot) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return errors.New("bot: already started")
	}

	if b.monitor != nil {
		if err := b.monitor.Start(); err != nil {
			return err
		}
	}
	if b.server != nil {
		if err := b.server.Listen(); err != nil {
			return err
		}
	}

	ctx, b.cancel = context.WithCancel(ctx)
	b.started = true

	b.goRun(ctx, "event manager", b.eventMgr.Run)
	b.goRun(ctx, "action manager", b.actionMgr.Run)
	if b.traffic != nil {
		b.goRun(ctx, "monitor", b.watchTraffic)
	}
	b.pluginMgr.Start(ctx)

	if b.server != nil {
		b.goRun(ctx, "gateway server", b.server.Serve)
	} else {
		b.goRun(ctx, "gateway client", b.client.Run)
	}
	slog.Info("Bot started", "bot_id", b.cfg.BotID, "mode", b.cfg.Gateway.Mode, "addr", b.Addr())
	return nil
}

func (b *Bot) goRun(ctx context.Context, name string, fn func(context.Context) error) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := fn(ctx); err != nil {
			slog.Error("Component stopped with error", "component", name, "error", err)
		}
	}()
}

// Stop tears everything down in reverse order and waits for it. Requests
// still waiting for a response are abandoned.
func (b *Bot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.started {
		return
	}
	b.started = false

	b.cancel()
	b.pluginMgr.Stop()
	b.wg.Wait()

	b.nexus.Close()
	b.events.Close()
	b.actions.Close()
	if b.monitor != nil {
		if err := b.monitor.Stop(); err != nil {
			slog.Warn("Failed to stop monitor", "error", err)
		}
	}
	slog.Info("Bot stopped")
}

// ApplySystemConfig applies the settings that can change at runtime.
func (b *Bot) ApplySystemConfig(sys *config.SystemConfig) {
	if sys == nil {
		return
	}
	b.actionMgr.SetTimeout(time.Duration(sys.ActionTimeoutMs) * time.Millisecond)
	monitor.SetLevel(sys.LogLevel)
	slog.Info("System config applied", "action_timeout_ms", sys.ActionTimeoutMs, "log_level", sys.LogLevel)
}

func (b *Bot) Actions() *action.Manager {
	return b.actionMgr
}

func (b *Bot) Nexus() *event.Nexus {
	return b.nexus
}

func (b *Bot) Plugins() *plugin.Manager {
	return b.pluginMgr
}

// Addr is the bound listen address in server mode, the gateway URL in
// client mode.
func (b *Bot) Addr() string {
	if b.server != nil {
		return b.server.Addr()
	}
	return b.client.Addr()
}

func (b *Bot) onState(state adapter.State, connID string) {
	slog.Info("Gateway connection state changed", "state", state.String(), "conn", connID)
}

func (b *Bot) watchTraffic(ctx context.Context) error {
	defer b.traffic.Close()
	for {
		ev, err := b.traffic.Recv(ctx)
		if err != nil {
			var lagged *signal.LaggedError
			if errors.As(err, &lagged) {
				continue
			}
			if errors.Is(err, signal.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}

		switch e := ev.(type) {
		case *event.PrivateMessageEvent:
			b.monitor.OnMessage(monitor.MonitorMessage{
				Timestamp: time.Now(),
				Direction: monitor.DirectionIn,
				Scope:     "private",
				TargetID:  e.Sender.UserID,
				Username:  e.Sender.Nickname,
				Content:   e.RawMessage,
			})
		case *event.GroupMessageEvent:
			b.monitor.OnMessage(monitor.MonitorMessage{
				Timestamp: time.Now(),
				Direction: monitor.DirectionIn,
				Scope:     "group",
				TargetID:  e.GroupID,
				Username:  e.Sender.DisplayName(),
				Content:   e.RawMessage,
			})
		}
	}
}

// sendParams covers both message-sending actions.
type sendParams struct {
	UserID  int64           `json:"user_id"`
	GroupID int64           `json:"group_id"`
	Message message.Message `json:"message"`
}

// observe mirrors outgoing messages to the monitor.
func (b *Bot) observe(req action.Request) {
	if b.monitor == nil {
		return
	}
	var scope string
	switch req.Action {
	case action.ActionSendPrivateMsg:
		scope = "private"
	case action.ActionSendGroupMsg:
		scope = "group"
	default:
		return
	}

	data, err := json.Marshal(req.Params)
	if err != nil {
		return
	}
	var p sendParams
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	target := p.UserID
	if scope == "group" {
		target = p.GroupID
	}
	b.monitor.OnMessage(monitor.MonitorMessage{
		Timestamp: time.Now(),
		Direction: monitor.DirectionOut,
		Scope:     scope,
		TargetID:  target,
		Content:   p.Message.PlainText(),
	})
}
