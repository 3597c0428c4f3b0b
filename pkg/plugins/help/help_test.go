package help

import (
	"testing"

	"merilcat/pkg/api"
)

func TestListing(t *testing.T) {
	got := Listing([]api.PluginInfo{
		{Name: "help", Description: "Send /help to list the loaded plugins"},
		{Name: "aichat", Description: "Chat"},
	})
	want := "[PluginList]\n->[help]\n-->Send /help to list the loaded plugins\n\n->[aichat]\n-->Chat"
	if got != want {
		t.Errorf("Listing =\n%q\nwant\n%q", got, want)
	}

	if got := Listing(nil); got != "[PluginList]" {
		t.Errorf("empty Listing = %q", got)
	}
}

func TestHelpTrigger(t *testing.T) {
	p := New(nil)
	if !p.Trigger().Match("/help") || !p.Trigger().Match("/help plugins") {
		t.Error("help trigger does not match /help")
	}
	if p.Trigger().Match("help") || p.Trigger().Match("/mood") {
		t.Error("help trigger matches other commands")
	}
}
