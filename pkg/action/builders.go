package action

import (
	"context"

	"merilcat/pkg/message"
)

// Action names understood by the gateway.
const (
	ActionSendPrivateMsg = "send_private_msg"
	ActionSendGroupMsg   = "send_group_msg"
	ActionSendLike       = "send_like"
	ActionFriendPoke     = "friend_poke"
	ActionGroupPoke      = "group_poke"
)

type privateMessageParams struct {
	UserID  int64           `json:"user_id"`
	Message message.Message `json:"message"`
}

type groupMessageParams struct {
	GroupID int64           `json:"group_id"`
	Message message.Message `json:"message"`
}

type likeParams struct {
	UserID int64 `json:"user_id"`
	Times  int   `json:"times"`
}

type pokeParams struct {
	UserID  int64 `json:"user_id"`
	GroupID int64 `json:"group_id,omitempty"`
}

// SendPrivateMessage sends msg to a user.
func (m *Manager) SendPrivateMessage(ctx context.Context, userID int64, msg message.Message) (*Response, error) {
	return m.Request(ctx, ActionSendPrivateMsg, privateMessageParams{UserID: userID, Message: msg})
}

// SendGroupMessage sends msg to a group.
func (m *Manager) SendGroupMessage(ctx context.Context, groupID int64, msg message.Message) (*Response, error) {
	return m.Request(ctx, ActionSendGroupMsg, groupMessageParams{GroupID: groupID, Message: msg})
}

// SendLike gives a user's profile the given number of likes.
func (m *Manager) SendLike(ctx context.Context, userID int64, times int) (*Response, error) {
	return m.Request(ctx, ActionSendLike, likeParams{UserID: userID, Times: times})
}

func (m *Manager) FriendPoke(ctx context.Context, userID int64) (*Response, error) {
	return m.Request(ctx, ActionFriendPoke, pokeParams{UserID: userID})
}

func (m *Manager) GroupPoke(ctx context.Context, groupID, userID int64) (*Response, error) {
	return m.Request(ctx, ActionGroupPoke, pokeParams{UserID: userID, GroupID: groupID})
}
