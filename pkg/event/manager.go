package event

import (
	"context"
	"errors"
	"log/slog"

	"merilcat/pkg/signal"
)

// Nexus groups the typed event buses and hands out ports onto them.
type Nexus struct {
	all       *signal.Bus[Event]
	group     *signal.Bus[*GroupMessageEvent]
	private   *signal.Bus[*PrivateMessageEvent]
	heartbeat *signal.Bus[*HeartBeatEvent]
	lifecycle *signal.Bus[*LifeCycleEvent]
}

// NewNexus creates the typed buses with the given options.
func NewNexus(opts ...signal.Option) *Nexus {
	return &Nexus{
		all:       signal.New[Event](opts...),
		group:     signal.New[*GroupMessageEvent](opts...),
		private:   signal.New[*PrivateMessageEvent](opts...),
		heartbeat: signal.New[*HeartBeatEvent](opts...),
		lifecycle: signal.New[*LifeCycleEvent](opts...),
	}
}

func (n *Nexus) AllEvents() *signal.Port[Event] {
	return n.all.Port()
}

func (n *Nexus) GroupMessages() *signal.Port[*GroupMessageEvent] {
	return n.group.Port()
}

func (n *Nexus) PrivateMessages() *signal.Port[*PrivateMessageEvent] {
	return n.private.Port()
}

func (n *Nexus) Heartbeats() *signal.Port[*HeartBeatEvent] {
	return n.heartbeat.Port()
}

func (n *Nexus) LifeCycles() *signal.Port[*LifeCycleEvent] {
	return n.lifecycle.Port()
}

// Close tears every bus down; subscribers drain and then see signal.ErrClosed.
func (n *Nexus) Close() {
	n.all.Close()
	n.group.Close()
	n.private.Close()
	n.heartbeat.Close()
	n.lifecycle.Close()
}

// Manager decodes raw event frames and fans them out through a Nexus.
type Manager struct {
	frames *signal.Port[[]byte]
	nexus  *Nexus
}

// NewManager reads frames from the given port of the adapter's event bus.
func NewManager(frames *signal.Port[[]byte], nexus *Nexus) *Manager {
	return &Manager{
		frames: frames,
		nexus:  nexus,
	}
}

// Nexus returns the typed buses fed by this manager.
func (m *Manager) Nexus() *Nexus {
	return m.nexus
}

// Run consumes frames until ctx is done or the event bus closes.
func (m *Manager) Run(ctx context.Context) error {
	for {
		raw, err := m.frames.Recv(ctx)
		if err != nil {
			var lagged *signal.LaggedError
			if errors.As(err, &lagged) {
				slog.Warn("Event manager fell behind, frames dropped", "skipped", lagged.Skipped)
				continue
			}
			if errors.Is(err, signal.ErrClosed) {
				return nil
			}
			return err
		}
		m.Dispatch(raw)
	}
}

// Dispatch decodes one frame and publishes it to the all-events bus and to
// the bus matching its kind. It returns the decoded event.
func (m *Manager) Dispatch(raw []byte) Event {
	ev := Decode(raw)
	m.nexus.all.Publish(ev)

	switch e := ev.(type) {
	case *GroupMessageEvent:
		m.nexus.group.Publish(e)
		slog.Info("Group message",
			"group", e.GroupName, "group_id", e.GroupID,
			"sender", e.Sender.DisplayName(), "user_id", e.Sender.UserID,
			"text", e.RawMessage)
	case *PrivateMessageEvent:
		m.nexus.private.Publish(e)
		slog.Info("Private message",
			"sender", e.Sender.Nickname, "user_id", e.Sender.UserID,
			"text", e.RawMessage)
	case *LifeCycleEvent:
		m.nexus.lifecycle.Publish(e)
		slog.Info("Gateway lifecycle", "self_id", e.SelfID, "sub_type", e.SubType)
	case *HeartBeatEvent:
		m.nexus.heartbeat.Publish(e)
		slog.Debug("Gateway heartbeat", "self_id", e.SelfID, "online", e.Status.Online, "good", e.Status.Good)
	case *NoticeEvent:
		if e.StatusText != "" {
			slog.Info("Notice", "type", e.NoticeType, "self_id", e.SelfID, "user_id", e.UserID, "status", e.StatusText)
		}
	case *OtherEvent:
		slog.Debug("Unrecognized event", "post_type", e.PostType, "raw", string(e.Raw))
	}
	return ev
}
