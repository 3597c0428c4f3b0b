// Package relay mirrors gateway traffic to a Telegram chat so an operator
// can follow the bot from their phone.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	jsoniter "github.com/json-iterator/go"

	"merilcat/pkg/api"
	"merilcat/pkg/event"
	"merilcat/pkg/plugin"
	"merilcat/pkg/plugins"
)

// messageLimit is Telegram's maximum message length in characters.
const messageLimit = 4096

// Config is the "relay" entry of config.json.
type Config struct {
	Token  string `json:"token"`
	ChatID int64  `json:"chat_id"`
	// Prefix, when set, only relays messages starting with it.
	Prefix    string `json:"prefix"`
	Private   *bool  `json:"private"`
	Group     *bool  `json:"group"`
	LifeCycle *bool  `json:"lifecycle"`
}

func enabled(b *bool) bool {
	return b == nil || *b
}

// Sender is the part of *tgbotapi.BotAPI the relay uses.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Relay forwards formatted events to one chat.
type Relay struct {
	bot    Sender
	chatID int64
}

func New(bot Sender, chatID int64) *Relay {
	return &Relay{bot: bot, chatID: chatID}
}

// Forward sends text, split into chunks Telegram accepts.
func (r *Relay) Forward(text string) error {
	for _, chunk := range split(text, messageLimit) {
		if _, err := r.bot.Send(tgbotapi.NewMessage(r.chatID, chunk)); err != nil {
			return fmt.Errorf("telegram send: %w", err)
		}
	}
	return nil
}

func split(text string, limit int) []string {
	runes := []rune(text)
	if len(runes) <= limit {
		return []string{text}
	}
	var out []string
	for len(runes) > 0 {
		n := min(limit, len(runes))
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

func FormatPrivate(ev *event.PrivateMessageEvent) string {
	return fmt.Sprintf("[private] %s(%d): %s", ev.Sender.Nickname, ev.Sender.UserID, ev.RawMessage)
}

func FormatGroup(ev *event.GroupMessageEvent) string {
	return fmt.Sprintf("[group %s(%d)] %s(%d): %s", ev.GroupName, ev.GroupID, ev.Sender.DisplayName(), ev.Sender.UserID, ev.RawMessage)
}

func FormatLifeCycle(ev *event.LifeCycleEvent) string {
	return fmt.Sprintf("[gateway] %s (self %d)", ev.SubType, ev.SelfID)
}

// Plugin builds the relay plugin for cfg.
func (r *Relay) Plugin(cfg Config) *plugin.Plugin {
	p := plugin.New("relay").
		WithDescription("Mirrors incoming messages to a Telegram chat").
		WithVersion("1.0.0").
		WithAuthor("merilcat")
	if cfg.Prefix != "" {
		p.WithTrigger(plugin.StartsWith(cfg.Prefix))
	}
	if enabled(cfg.Private) {
		p.OnPrivateMessage(func(ctx context.Context, ev *event.PrivateMessageEvent, _ api.Actions) error {
			return r.Forward(FormatPrivate(ev))
		})
	}
	if enabled(cfg.Group) {
		p.OnGroupMessage(func(ctx context.Context, ev *event.GroupMessageEvent, _ api.Actions) error {
			return r.Forward(FormatGroup(ev))
		})
	}
	if enabled(cfg.LifeCycle) {
		p.OnLifeCycle(func(ctx context.Context, ev *event.LifeCycleEvent, _ api.Actions) error {
			return r.Forward(FormatLifeCycle(ev))
		})
	}
	return p
}

func init() {
	plugins.RegisterPlugin("relay", plugins.FactoryFunc(func(raw jsoniter.RawMessage, deps plugins.Deps) ([]*plugin.Plugin, error) {
		var cfg Config
		if err := plugins.DecodeConfig(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse relay config: %w", err)
		}
		if strings.TrimSpace(cfg.Token) == "" || cfg.ChatID == 0 {
			slog.Warn("relay needs 'token' and 'chat_id', skipping")
			return nil, nil
		}

		bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, tgbotapi.APIEndpoint, &http.Client{Timeout: 30 * time.Second})
		if err != nil {
			return nil, fmt.Errorf("failed to create telegram bot: %w", err)
		}
		slog.Info("Telegram bot authorized", "username", bot.Self.UserName, "chat_id", cfg.ChatID)
		return []*plugin.Plugin{New(bot, cfg.ChatID).Plugin(cfg)}, nil
	}))
}
