// Package script runs plugins written in Lua. Every subdirectory of the
// configured directory holding a plugin.yaml becomes one plugin with its
// own sandboxed interpreter.
package script

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	lua "github.com/yuin/gopher-lua"

	"merilcat/pkg/api"
	"merilcat/pkg/event"
	"merilcat/pkg/message"
	"merilcat/pkg/plugin"
	"merilcat/pkg/plugins"
)

const (
	privateHandler = "on_private_message"
	groupHandler   = "on_group_message"
)

// ErrStateClosed is returned by calls on a closed Script.
var ErrStateClosed = errors.New("script: state closed")

// Script is one loaded Lua plugin. Calls into the interpreter are
// serialized.
type Script struct {
	manifest *Manifest
	timeout  time.Duration

	mu     sync.Mutex
	L      *lua.LState
	ctx    context.Context
	act    api.Actions
	closed bool
}

// Load compiles the manifest's script and runs its top level.
func Load(m *Manifest, timeout time.Duration) (*Script, error) {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	s := &Script{manifest: m, timeout: timeout, L: newState()}
	s.register()

	err := s.call(context.Background(), nil, func() error {
		return s.L.DoFile(m.ScriptPath())
	})
	if err != nil {
		s.L.Close()
		return nil, fmt.Errorf("load script %s: %w", m.Name, err)
	}
	return s, nil
}

func newState() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	lua.OpenBase(L)
	lua.OpenTable(L)
	lua.OpenString(L)
	lua.OpenMath(L)
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

func (s *Script) register() {
	s.L.SetGlobal("send_private_msg", s.L.NewFunction(func(L *lua.LState) int {
		userID := L.CheckInt64(1)
		text := L.CheckString(2)
		return s.reply(L, func(ctx context.Context, act api.Actions) error {
			_, err := act.SendPrivateMessage(ctx, userID, message.Text(text))
			return err
		})
	}))
	s.L.SetGlobal("send_group_msg", s.L.NewFunction(func(L *lua.LState) int {
		groupID := L.CheckInt64(1)
		text := L.CheckString(2)
		return s.reply(L, func(ctx context.Context, act api.Actions) error {
			_, err := act.SendGroupMessage(ctx, groupID, message.Text(text))
			return err
		})
	}))
	s.L.SetGlobal("log", s.L.NewFunction(func(L *lua.LState) int {
		slog.Info(L.CheckString(1), "plugin", s.manifest.Name)
		return 0
	}))
}

// reply runs a send with the actions of the current call and pushes
// (true) or (false, message) for the script.
func (s *Script) reply(L *lua.LState, send func(context.Context, api.Actions) error) int {
	if s.act == nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString("no gateway outside of an event handler"))
		return 2
	}
	if err := send(s.ctx, s.act); err != nil {
		L.Push(lua.LFalse)
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LTrue)
	return 1
}

// call runs fn with the interpreter bound to ctx, bounded by the script
// timeout.
func (s *Script) call(ctx context.Context, act api.Actions, fn func() error) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStateClosed
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	s.ctx, s.act = ctx, act
	s.L.SetContext(ctx)
	defer func() {
		s.L.RemoveContext()
		s.ctx, s.act = nil, nil
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
	}()
	return fn()
}

// Has reports whether the script defines the global function name.
func (s *Script) Has(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.L.GetGlobal(name).Type() == lua.LTFunction
}

// Invoke calls the global function name with one table argument.
func (s *Script) Invoke(ctx context.Context, act api.Actions, name string, fields map[string]lua.LValue) error {
	return s.call(ctx, act, func() error {
		fn := s.L.GetGlobal(name)
		if fn.Type() != lua.LTFunction {
			return fmt.Errorf("%q is not a function", name)
		}
		arg := s.L.NewTable()
		for k, v := range fields {
			s.L.SetField(arg, k, v)
		}
		return s.L.CallByParam(lua.P{Fn: fn, NRet: 0, Protect: true}, arg)
	})
}

// Close releases the interpreter.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.L.Close()
	}
}

// Plugin wraps the script into a runnable plugin.
func (s *Script) Plugin() (*plugin.Plugin, error) {
	m := s.manifest
	trigger, err := m.Trigger.Build()
	if err != nil {
		return nil, fmt.Errorf("script %s: %w", m.Name, err)
	}

	p := plugin.New(m.Name).WithTrigger(trigger).
		OnUnload(func(context.Context) error {
			s.Close()
			return nil
		})
	if m.Description != "" {
		p.WithDescription(m.Description)
	}
	if m.Version != "" {
		p.WithVersion(m.Version)
	}
	if m.Author != "" {
		p.WithAuthor(m.Author)
	}

	if s.Has(privateHandler) {
		p.OnPrivateMessage(func(ctx context.Context, ev *event.PrivateMessageEvent, act api.Actions) error {
			return s.Invoke(ctx, act, privateHandler, privateFields(ev))
		})
	}
	if s.Has(groupHandler) {
		p.OnGroupMessage(func(ctx context.Context, ev *event.GroupMessageEvent, act api.Actions) error {
			return s.Invoke(ctx, act, groupHandler, groupFields(ev))
		})
	}
	return p, nil
}

func privateFields(ev *event.PrivateMessageEvent) map[string]lua.LValue {
	return map[string]lua.LValue{
		"message_id": lua.LNumber(ev.MessageID),
		"user_id":    lua.LNumber(ev.Sender.UserID),
		"nickname":   lua.LString(ev.Sender.Nickname),
		"text":       lua.LString(ev.RawMessage),
		"time":       lua.LNumber(ev.Time),
	}
}

func groupFields(ev *event.GroupMessageEvent) map[string]lua.LValue {
	return map[string]lua.LValue{
		"message_id": lua.LNumber(ev.MessageID),
		"group_id":   lua.LNumber(ev.GroupID),
		"group_name": lua.LString(ev.GroupName),
		"user_id":    lua.LNumber(ev.Sender.UserID),
		"nickname":   lua.LString(ev.Sender.DisplayName()),
		"text":       lua.LString(ev.RawMessage),
		"time":       lua.LNumber(ev.Time),
	}
}

// Config is the "script" entry of config.json.
type Config struct {
	Dir string `json:"dir"`
}

// LoadDir loads every script plugin under dir. Broken scripts are logged
// and skipped.
func LoadDir(dir string, timeout time.Duration) ([]*plugin.Plugin, error) {
	manifests, err := Discover(dir)
	if err != nil {
		return nil, err
	}

	var out []*plugin.Plugin
	for _, m := range manifests {
		s, err := Load(m, timeout)
		if err != nil {
			slog.Error("Failed to load script plugin", "name", m.Name, "error", err)
			continue
		}
		p, err := s.Plugin()
		if err != nil {
			s.Close()
			slog.Error("Failed to load script plugin", "name", m.Name, "error", err)
			continue
		}
		slog.Info("Script plugin loaded", "name", m.Name, "script", m.ScriptPath())
		out = append(out, p)
	}
	return out, nil
}

func init() {
	plugins.RegisterPlugin("script", plugins.FactoryFunc(func(raw jsoniter.RawMessage, deps plugins.Deps) ([]*plugin.Plugin, error) {
		cfg := Config{Dir: "plugins"}
		if err := plugins.DecodeConfig(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse script config: %w", err)
		}
		var timeout time.Duration
		if deps.System != nil {
			timeout = time.Duration(deps.System.ScriptTimeoutMs) * time.Millisecond
		}
		return LoadDir(cfg.Dir, timeout)
	}))
}
