package script

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"merilcat/pkg/action"
	"merilcat/pkg/event"
	"merilcat/pkg/message"
)

type sentActions struct {
	mu   sync.Mutex
	sent []string
}

func (a *sentActions) add(s string) (*action.Response, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sent = append(a.sent, s)
	return &action.Response{Status: "ok"}, nil
}

func (a *sentActions) Request(ctx context.Context, name string, params any, opts ...action.CallOption) (*action.Response, error) {
	return a.add(name)
}

func (a *sentActions) SendPrivateMessage(ctx context.Context, userID int64, msg message.Message) (*action.Response, error) {
	return a.add("private:" + msg.PlainText())
}

func (a *sentActions) SendGroupMessage(ctx context.Context, groupID int64, msg message.Message) (*action.Response, error) {
	return a.add("group:" + msg.PlainText())
}

func (a *sentActions) SendLike(ctx context.Context, userID int64, times int) (*action.Response, error) {
	return a.add("like")
}

func (a *sentActions) FriendPoke(ctx context.Context, userID int64) (*action.Response, error) {
	return a.add("poke")
}

func (a *sentActions) GroupPoke(ctx context.Context, groupID, userID int64) (*action.Response, error) {
	return a.add("poke")
}

func writePlugin(t *testing.T, root, name, manifest, source string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestName), []byte(manifest), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "main.lua"), []byte(source), 0644); err != nil {
		t.Fatal(err)
	}
}

const echoManifest = `
name: echo
description: Echoes /echo messages
version: 1.2.0
author: tester
trigger:
  type: starts_with
  value: /echo
`

const echoSource = `
function on_private_message(ev)
  send_private_msg(ev.user_id, "you said " .. string.sub(ev.text, 7))
end

function on_group_message(ev)
  local ok = send_group_msg(ev.group_id, ev.nickname .. ": " .. ev.text)
  if not ok then error("send failed") end
end
`

func TestLoadDirBuildsPlugins(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "echo", echoManifest, echoSource)
	writePlugin(t, root, "broken", "name: broken\n", "this is not lua")

	ps, err := LoadDir(root, time.Second)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(ps) != 1 {
		t.Fatalf("loaded %d plugins, want 1", len(ps))
	}
	info := ps[0].Info()
	if info.Name != "echo" || info.Version != "1.2.0" || info.Author != "tester" || info.Trigger != `starts_with("/echo")` {
		t.Errorf("info = %+v", info)
	}
}

func TestHandlersUseHostFunctions(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "echo", echoManifest, echoSource)
	m, err := LoadManifest(filepath.Join(root, "echo"))
	if err != nil {
		t.Fatal(err)
	}
	s, err := Load(m, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	act := &sentActions{}
	ctx := context.Background()
	if err := s.Invoke(ctx, act, privateHandler, privateFields(&event.PrivateMessageEvent{
		RawMessage: "/echo hello",
		Sender:     event.Sender{UserID: 7},
	})); err != nil {
		t.Fatalf("private handler: %v", err)
	}
	if err := s.Invoke(ctx, act, groupHandler, groupFields(&event.GroupMessageEvent{
		GroupID:    42,
		RawMessage: "/echo hi",
		Sender:     event.Sender{UserID: 7, Nickname: "n", Card: "card"},
	})); err != nil {
		t.Fatalf("group handler: %v", err)
	}

	want := "private:you said hello|group:card: /echo hi"
	if got := strings.Join(act.sent, "|"); got != want {
		t.Errorf("sent = %q, want %q", got, want)
	}
}

func TestScriptTimeout(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "spin", "name: spin\n", "function on_private_message(ev)\n  while true do end\nend\n")
	m, err := LoadManifest(filepath.Join(root, "spin"))
	if err != nil {
		t.Fatal(err)
	}
	s, err := Load(m, 50*time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	start := time.Now()
	err = s.Invoke(context.Background(), &sentActions{}, privateHandler, privateFields(&event.PrivateMessageEvent{}))
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout took %v", time.Since(start))
	}
}

func TestSandboxHidesUnsafeLibraries(t *testing.T) {
	root := t.TempDir()
	writePlugin(t, root, "sandbox", "name: sandbox\n", `
function on_private_message(ev)
  if os ~= nil or io ~= nil or require ~= nil or dofile ~= nil then
    error("unsafe global visible")
  end
end
`)
	m, err := LoadManifest(filepath.Join(root, "sandbox"))
	if err != nil {
		t.Fatal(err)
	}
	s, err := Load(m, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	if err := s.Invoke(context.Background(), &sentActions{}, privateHandler, privateFields(&event.PrivateMessageEvent{})); err != nil {
		t.Errorf("sandbox leak: %v", err)
	}
	if s.Has(groupHandler) {
		t.Error("Has reports an undefined handler")
	}
}

func TestTriggerConfig(t *testing.T) {
	if _, err := (TriggerConfig{Type: "fuzzy"}).Build(); err == nil {
		t.Error("expected error for unknown trigger type")
	}
	tr, err := TriggerConfig{Type: "pattern", Value: `^\d+$`}.Build()
	if err != nil || !tr.Match("123") || tr.Match("abc") {
		t.Errorf("pattern trigger misbehaves: %v", err)
	}
	tr, _ = TriggerConfig{}.Build()
	if !tr.Match("anything") {
		t.Error("empty trigger should match everything")
	}
}
