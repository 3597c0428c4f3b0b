package api

import (
	"context"

	"merilcat/pkg/action"
	"merilcat/pkg/message"
)

// Actions is the handle plugins use to talk back to the gateway.
// *action.Manager implements it.
type Actions interface {
	Request(ctx context.Context, name string, params any, opts ...action.CallOption) (*action.Response, error)
	SendPrivateMessage(ctx context.Context, userID int64, msg message.Message) (*action.Response, error)
	SendGroupMessage(ctx context.Context, groupID int64, msg message.Message) (*action.Response, error)
	SendLike(ctx context.Context, userID int64, times int) (*action.Response, error)
	FriendPoke(ctx context.Context, userID int64) (*action.Response, error)
	GroupPoke(ctx context.Context, groupID, userID int64) (*action.Response, error)
}

var _ Actions = (*action.Manager)(nil)

// PluginInfo is the public metadata of a registered plugin.
type PluginInfo struct {
	Name        string
	Description string
	Version     string
	Author      string
	Trigger     string
}

// Summary renders the two-line form used in help listings.
func (i PluginInfo) Summary() string {
	return "->[" + i.Name + "]\n-->" + i.Description
}

// PluginLister exposes the registered plugins in registration order.
type PluginLister interface {
	List() []PluginInfo
}
