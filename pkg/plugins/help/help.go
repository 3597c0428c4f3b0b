// Package help answers "/help" with the list of registered plugins.
package help

import (
	"context"
	"strings"

	"merilcat/pkg/api"
	"merilcat/pkg/event"
	"merilcat/pkg/message"
	"merilcat/pkg/plugin"
)

const Command = "/help"

// Listing renders the reply sent for Command.
func Listing(infos []api.PluginInfo) string {
	var sb strings.Builder
	sb.WriteString("[PluginList]\n")
	for _, info := range infos {
		sb.WriteString(info.Summary())
		sb.WriteString("\n\n")
	}
	return strings.TrimSpace(sb.String())
}

// New creates the help plugin over lister.
func New(lister api.PluginLister) *plugin.Plugin {
	return plugin.New("help").
		WithDescription("Send /help to list the loaded plugins").
		WithVersion("1.0.0").
		WithAuthor("merilcat").
		WithTrigger(plugin.StartsWith(Command)).
		OnPrivateMessage(func(ctx context.Context, ev *event.PrivateMessageEvent, act api.Actions) error {
			_, err := act.SendPrivateMessage(ctx, ev.Sender.UserID, message.Text(Listing(lister.List())))
			return err
		})
}
