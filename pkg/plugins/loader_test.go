package plugins

import (
	"errors"
	"testing"

	jsoniter "github.com/json-iterator/go"

	"merilcat/pkg/plugin"
)

func TestLoadFromConfig(t *testing.T) {
	RegisterPlugin("test_echo", FactoryFunc(func(raw jsoniter.RawMessage, deps Deps) ([]*plugin.Plugin, error) {
		var cfg struct {
			Names []string `json:"names"`
		}
		if err := DecodeConfig(raw, &cfg); err != nil {
			return nil, err
		}
		var ps []*plugin.Plugin
		for _, n := range cfg.Names {
			ps = append(ps, plugin.New(n))
		}
		return ps, nil
	}))
	RegisterPlugin("test_broken", FactoryFunc(func(jsoniter.RawMessage, Deps) ([]*plugin.Plugin, error) {
		return nil, errors.New("boom")
	}))

	got := LoadFromConfig(map[string]jsoniter.RawMessage{
		"test_echo":    jsoniter.RawMessage(`{"names":["a","b"]}`),
		"test_broken":  nil,
		"test_unknown": jsoniter.RawMessage(`{}`),
	}, Deps{})

	if len(got) != 2 || got[0].Name() != "a" || got[1].Name() != "b" {
		t.Fatalf("loaded %d plugins", len(got))
	}
}

func TestDecodeConfigKeepsDefaults(t *testing.T) {
	cfg := struct {
		Dir string `json:"dir"`
	}{Dir: "plugins"}
	for _, raw := range []string{"", "null"} {
		if err := DecodeConfig(jsoniter.RawMessage(raw), &cfg); err != nil {
			t.Fatalf("DecodeConfig(%q): %v", raw, err)
		}
	}
	if cfg.Dir != "plugins" {
		t.Errorf("Dir = %q", cfg.Dir)
	}
	if err := DecodeConfig(jsoniter.RawMessage(`{"dir":"x"}`), &cfg); err != nil || cfg.Dir != "x" {
		t.Errorf("Dir = %q, err %v", cfg.Dir, err)
	}
}
