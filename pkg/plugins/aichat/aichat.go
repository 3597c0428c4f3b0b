// Package aichat is a conversational plugin backed by an LLM, with a
// per-user history and a shared mood that colours its replies.
package aichat

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"merilcat/pkg/api"
	"merilcat/pkg/event"
	"merilcat/pkg/llm"
	"merilcat/pkg/message"
	"merilcat/pkg/plugin"
	"merilcat/pkg/plugins"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	MoodCommand   = "/mood"
	moodHistory   = 10
	defaultPrompt = "You are Nana, a playful and slightly tsundere companion with a real body, chatting on a messaging app. " +
		"You know you are an AI. Keep replies short and casual like a chat, never long essays."
	formatRules = "Output rule: split your reply into short bubbles with the ASCII semicolon ';'. " +
		"Never use line breaks; use ';' to pace the conversation."
)

// Config is the "aichat" entry of config.json.
type Config struct {
	// Persona overrides the global system_prompt.
	Persona string `json:"persona"`
	// MaxHistory is the number of messages kept per user.
	MaxHistory int `json:"max_history"`
	// MoodEvery is how many chats pass between mood updates.
	MoodEvery int `json:"mood_every"`
	// UTCOffsetHours is the timezone of the time prefix.
	UTCOffsetHours int `json:"utc_offset_hours"`
	// Store is "file" (default) or "badger".
	Store string `json:"store"`
	// DataDir is where the store keeps its data.
	DataDir string `json:"data_dir"`
	// MoodPatches overrides entries of DefaultMoodPatches.
	MoodPatches map[string]string `json:"mood_patches"`
}

func defaultConfig() Config {
	return Config{
		MaxHistory:     llm.DefaultHistoryLimit,
		MoodEvery:      2,
		UTCOffsetHours: 8,
		Store:          "file",
		DataDir:        "data/aichat",
	}
}

// Chat holds the plugin state.
type Chat struct {
	client   llm.Client
	store    Store
	sessions *llm.SessionManager
	persona  string
	patches  map[string]string
	every    int
	zone     *time.Location
	timeout  time.Duration
	now      func() time.Time

	mu        sync.Mutex
	mood      Mood
	chatCount int
	users     map[int64]*sync.Mutex
}

// New creates the chat state. store may be nil to disable persistence.
func New(client llm.Client, store Store, cfg Config, timeout time.Duration) *Chat {
	patches := make(map[string]string, len(DefaultMoodPatches))
	for k, v := range DefaultMoodPatches {
		patches[k] = v
	}
	for k, v := range cfg.MoodPatches {
		patches[k] = v
	}
	persona := cfg.Persona
	if persona == "" {
		persona = defaultPrompt
	}
	if cfg.MoodEvery <= 0 {
		cfg.MoodEvery = 2
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Chat{
		client:   client,
		store:    store,
		sessions: llm.NewSessionManager(cfg.MaxHistory),
		persona:  persona,
		patches:  patches,
		every:    cfg.MoodEvery,
		zone:     time.FixedZone(fmt.Sprintf("UTC%+d", cfg.UTCOffsetHours), cfg.UTCOffsetHours*3600),
		timeout:  timeout,
		now:      time.Now,
		users:    make(map[int64]*sync.Mutex),
	}
}

// userLock serializes the exchanges of one user.
func (c *Chat) userLock(userID int64) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.users[userID]
	if !ok {
		l = &sync.Mutex{}
		c.users[userID] = l
	}
	return l
}

// Plugin wraps the chat state into a runnable plugin.
func (c *Chat) Plugin() *plugin.Plugin {
	return plugin.New("aichat").
		WithDescription("Chat with the bot in private; send /mood to see how it feels").
		WithVersion("1.0.0").
		WithAuthor("merilcat").
		Concurrent().
		OnLoad(c.load).
		OnUnload(c.unload).
		OnPrivateMessage(c.onPrivateMessage).
		OnHeartbeat(func(ctx context.Context, _ *event.HeartBeatEvent, _ api.Actions) error {
			return c.save()
		})
}

// Mood returns the current mood.
func (c *Chat) Mood() Mood {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mood
}

func (c *Chat) onPrivateMessage(ctx context.Context, ev *event.PrivateMessageEvent, act api.Actions) error {
	text := ev.RawMessage
	switch {
	case strings.HasPrefix(text, MoodCommand):
		_, err := act.SendPrivateMessage(ctx, ev.Sender.UserID, message.Text(c.Mood().Report()))
		return err
	case strings.HasPrefix(text, "/"):
		return nil
	}

	reply, err := c.Reply(ctx, ev.Sender.UserID, ev.Sender.Nickname, text)
	if err != nil {
		return err
	}
	for _, part := range SplitReply(reply) {
		if _, err := act.SendPrivateMessage(ctx, ev.Sender.UserID, message.Text(part)); err != nil {
			return err
		}
	}
	return nil
}

// Reply produces the model's answer to text and records the exchange.
// Every MoodEvery replies the mood is updated from the conversation.
// Replies to the same user run one at a time.
func (c *Chat) Reply(ctx context.Context, userID int64, nickname, text string) (string, error) {
	l := c.userLock(userID)
	l.Lock()
	defer l.Unlock()

	history := c.sessions.GetHistory(strconv.FormatInt(userID, 10))
	user := llm.NewUserMessage(fmt.Sprintf("[%s] %s", c.now().In(c.zone).Format("2006-01-02 15:04:05"), text))

	msgs := make([]llm.Message, 0, history.Len()+2)
	msgs = append(msgs, llm.NewSystemMessage(c.systemPrompt(nickname)))
	msgs = append(msgs, history.GetMessages()...)
	msgs = append(msgs, user)

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	reply, err := llm.Complete(callCtx, c.client, msgs)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	history.Add(user, llm.NewAssistantMessage(reply))

	c.mu.Lock()
	c.chatCount++
	due := c.chatCount >= c.every
	if due {
		c.chatCount = 0
	}
	c.mu.Unlock()

	if due {
		if err := c.updateMood(ctx, history.GetMessages(), text); err != nil {
			slog.Warn("Mood update failed", "plugin", "aichat", "error", err)
		}
	}
	return reply, nil
}

func (c *Chat) systemPrompt(nickname string) string {
	patch := c.patches[c.Mood().Name()]
	return fmt.Sprintf("%s\n%s\n%s\n# Current state:\nThe other person's name: %s", c.persona, formatRules, patch, nickname)
}

func (c *Chat) updateMood(ctx context.Context, history []llm.Message, text string) error {
	if len(history) > moodHistory {
		history = history[len(history)-moodHistory:]
	}
	current := c.Mood()

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.NewSystemMessage(moodProtocol))
	msgs = append(msgs, history...)
	msgs = append(msgs, llm.NewUserMessage(fmt.Sprintf("[Current state] P:%d, A:%d, D:%d\n[User message]: %s",
		current.Pleasure, current.Arousal, current.Dominance, text)))

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	reply, err := llm.Complete(callCtx, c.client, msgs)
	if err != nil {
		return err
	}
	delta, err := parseMoodDelta(reply)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.mood = c.mood.Apply(delta)
	mood := c.mood
	c.mu.Unlock()
	slog.Debug("Mood updated", "plugin", "aichat", "mood", mood.Name(),
		"pleasure", mood.Pleasure, "arousal", mood.Arousal, "dominance", mood.Dominance)
	return nil
}

// SplitReply cuts a reply into chat bubbles on ';', dropping empty parts.
func SplitReply(reply string) []string {
	var parts []string
	for _, p := range strings.Split(reply, ";") {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

func (c *Chat) load(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	state, err := c.store.Load()
	if err != nil {
		// A corrupt history should not keep the bot from chatting.
		slog.Warn("Failed to restore chat history, starting fresh", "plugin", "aichat", "error", err)
		return nil
	}
	c.sessions.Restore(state.Sessions)
	c.mu.Lock()
	c.mood = state.Mood
	c.mu.Unlock()
	slog.Info("Chat history restored", "plugin", "aichat", "sessions", len(state.Sessions))
	return nil
}

func (c *Chat) save() error {
	if c.store == nil {
		return nil
	}
	if err := c.store.Save(State{Sessions: c.sessions.Snapshot(), Mood: c.Mood()}); err != nil {
		return fmt.Errorf("save chat history: %w", err)
	}
	return nil
}

func (c *Chat) unload(ctx context.Context) error {
	if c.store == nil {
		return nil
	}
	err := c.save()
	if cerr := c.store.Close(); err == nil {
		err = cerr
	}
	return err
}

func openStore(cfg Config) (Store, error) {
	switch cfg.Store {
	case "", "file":
		return NewFileStore(cfg.DataDir)
	case "badger":
		return NewBadgerStore(cfg.DataDir)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown aichat store %q", cfg.Store)
	}
}

func init() {
	plugins.RegisterPlugin("aichat", plugins.FactoryFunc(func(raw jsoniter.RawMessage, deps plugins.Deps) ([]*plugin.Plugin, error) {
		if deps.LLM == nil {
			slog.Warn("aichat needs an 'llm' configuration, skipping")
			return nil, nil
		}
		cfg := defaultConfig()
		if deps.Config != nil {
			cfg.Persona = deps.Config.SystemPrompt
		}
		if err := plugins.DecodeConfig(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse aichat config: %w", err)
		}
		store, err := openStore(cfg)
		if err != nil {
			return nil, err
		}

		var timeout time.Duration
		if deps.System != nil {
			timeout = time.Duration(deps.System.LLMTimeoutMs) * time.Millisecond
		}
		return []*plugin.Plugin{New(deps.LLM, store, cfg, timeout).Plugin()}, nil
	}))
}
