package monitor

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestCustomHandlerFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewCustomHandler(&buf, slog.HandlerOptions{Level: slog.LevelDebug}))

	logger.With("conn", "abc").WithGroup("req").Info("Action sent", "action", "send_like", "echo", 7)

	line := buf.String()
	for _, want := range []string{"] [INFO] Action sent", ` conn="abc"`, ` req.action="send_like"`, " req.echo=7"} {
		if !strings.Contains(line, want) {
			t.Errorf("log line %q missing %q", line, want)
		}
	}
	if !strings.HasSuffix(line, "\n") {
		t.Error("log line not newline terminated")
	}
}

func TestLevelVarFiltersAtRuntime(t *testing.T) {
	var lv slog.LevelVar
	lv.Set(slog.LevelWarn)
	var buf bytes.Buffer
	logger := slog.New(NewCustomHandler(&buf, slog.HandlerOptions{Level: &lv}))

	logger.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
	lv.Set(slog.LevelDebug)
	logger.Debug("shown")
	if !strings.Contains(buf.String(), "shown") {
		t.Fatalf("debug not logged after lowering level: %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"chatty":  slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestCLIMonitorOnMessage(t *testing.T) {
	var buf bytes.Buffer
	m := NewCLIMonitorTo(&buf)
	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	m.OnMessage(MonitorMessage{Timestamp: ts, Direction: DirectionIn, Scope: "group", TargetID: 42, Username: "alice", Content: "/help"})
	m.OnMessage(MonitorMessage{Timestamp: ts, Direction: DirectionOut, Scope: "private", TargetID: 7, Content: "hi"})

	out := buf.String()
	if !strings.Contains(out, "[group:42] alice > /help") {
		t.Errorf("inbound line missing: %q", out)
	}
	if !strings.Contains(out, "[private:7] [BOT] > hi") {
		t.Errorf("outbound line missing: %q", out)
	}
	if !strings.Contains(out, "2024-05-01 12:00:00") {
		t.Errorf("timestamp missing: %q", out)
	}
}
