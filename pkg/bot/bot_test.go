package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"merilcat/pkg/api"
	"merilcat/pkg/config"
	"merilcat/pkg/monitor"
	"merilcat/pkg/plugin"
)

type recordingMonitor struct {
	mu   sync.Mutex
	msgs []monitor.MonitorMessage
}

func (m *recordingMonitor) Start() error { return nil }
func (m *recordingMonitor) Stop() error  { return nil }

func (m *recordingMonitor) OnMessage(msg monitor.MonitorMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.msgs = append(m.msgs, msg)
}

func (m *recordingMonitor) snapshot() []monitor.MonitorMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]monitor.MonitorMessage(nil), m.msgs...)
}

func serverConfig() *config.Config {
	return &config.Config{
		BotID: 1,
		Gateway: config.GatewayConfig{
			Mode:       config.GatewayModeServer,
			ListenAddr: "127.0.0.1:0",
			Path:       "/ws",
		},
	}
}

func startBot(t *testing.T, b *BotBuilder) *Bot {
	t.Helper()
	bot, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := bot.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(bot.Stop)
	return bot
}

func TestBuildRegistersHelpFirst(t *testing.T) {
	extra := plugin.New("extra")
	bot, err := NewBotBuilder().
		WithConfig(serverConfig()).
		WithPlugins(extra).
		WithPluginLoader(func(lister api.PluginLister) []*plugin.Plugin {
			return []*plugin.Plugin{plugin.New("loaded")}
		}).
		Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var names []string
	for _, info := range bot.Plugins().List() {
		names = append(names, info.Name)
	}
	if strings.Join(names, ",") != "help,extra,loaded" {
		t.Errorf("plugins = %v", names)
	}
}

func TestBuildRejectsDuplicatePluginsAndBadConfig(t *testing.T) {
	if _, err := NewBotBuilder().WithConfig(serverConfig()).WithPlugins(plugin.New("help")).Build(); err == nil {
		t.Error("expected duplicate plugin error")
	}
	if _, err := NewBotBuilder().Build(); err == nil {
		t.Error("expected missing config error")
	}
	cfg := serverConfig()
	cfg.Gateway.Mode = config.GatewayModeClient
	if _, err := NewBotBuilder().WithConfig(cfg).Build(); err == nil {
		t.Error("expected error for client mode without url")
	}
}

func TestHelpRoundTripThroughGateway(t *testing.T) {
	mon := &recordingMonitor{}
	bot := startBot(t, NewBotBuilder().WithConfig(serverConfig()).WithMonitor(mon))

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+bot.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	frame := `{"post_type":"message","message_type":"private","raw_message":"/help",` +
		`"sender":{"user_id":7,"nickname":"alice"},"message":[{"type":"text","data":{"text":"/help"}}]}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
		t.Fatalf("write: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, out, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got := jsoniter.Get(out, "action").ToString(); got != "send_private_msg" {
		t.Fatalf("action = %q in %s", got, out)
	}
	if got := jsoniter.Get(out, "params", "user_id").ToInt64(); got != 7 {
		t.Errorf("user_id = %d", got)
	}
	text := jsoniter.Get(out, "params", "message", 0, "data", "text").ToString()
	if !strings.HasPrefix(text, "[PluginList]\n->[help]") {
		t.Errorf("listing = %q", text)
	}

	echo := jsoniter.Get(out, "echo").ToString()
	resp := `{"status":"ok","retcode":0,"data":{"message_id":1},"echo":"` + echo + `"}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(resp)); err != nil {
		t.Fatalf("write response: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for bot.Actions().Pending() != 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n := bot.Actions().Pending(); n != 0 {
		t.Errorf("%d requests still pending", n)
	}

	var in, outbound bool
	for time.Now().Before(deadline) && !(in && outbound) {
		for _, m := range mon.snapshot() {
			in = in || (m.Direction == monitor.DirectionIn && m.Content == "/help" && m.Username == "alice")
			outbound = outbound || (m.Direction == monitor.DirectionOut && m.TargetID == 7 && m.Scope == "private")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !in || !outbound {
		t.Errorf("monitor saw inbound=%v outbound=%v", in, outbound)
	}
}

func TestApplySystemConfig(t *testing.T) {
	bot, err := NewBotBuilder().WithConfig(serverConfig()).Build()
	if err != nil {
		t.Fatal(err)
	}
	sys := config.DefaultSystemConfig()
	sys.ActionTimeoutMs = 1500
	bot.ApplySystemConfig(sys)
	if got := bot.Actions().Timeout(); got != 1500*time.Millisecond {
		t.Errorf("timeout = %v", got)
	}
}
