package event

import (
	jsoniter "github.com/json-iterator/go"

	"merilcat/pkg/message"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind identifies the variant of a decoded event.
type Kind string

const (
	KindGroupMessage   Kind = "message.group"
	KindPrivateMessage Kind = "message.private"
	KindLifeCycle      Kind = "meta_event.lifecycle"
	KindHeartBeat      Kind = "meta_event.heartbeat"
	KindNotice         Kind = "notice"
	KindOther          Kind = "other"
)

// Event is the decoded event union. Values are shared by pointer between
// every subscriber of a broadcast and must be treated as read-only.
type Event interface {
	Kind() Kind
}

// Sender identifies the author of a message.
type Sender struct {
	UserID   int64  `json:"user_id"`
	Nickname string `json:"nickname"`
	Card     string `json:"card"`
}

// DisplayName prefers the group card over the nickname.
func (s Sender) DisplayName() string {
	if s.Card != "" {
		return s.Card
	}
	return s.Nickname
}

type PrivateMessageEvent struct {
	MessageID  int64           `json:"message_id"`
	SelfID     int64           `json:"self_id"`
	Time       int64           `json:"time"`
	RawMessage string          `json:"raw_message"`
	Sender     Sender          `json:"sender"`
	Message    message.Message `json:"message"`
}

func (*PrivateMessageEvent) Kind() Kind { return KindPrivateMessage }

type GroupMessageEvent struct {
	GroupID    int64           `json:"group_id"`
	GroupName  string          `json:"group_name"`
	MessageID  int64           `json:"message_id"`
	SelfID     int64           `json:"self_id"`
	Time       int64           `json:"time"`
	RawMessage string          `json:"raw_message"`
	Sender     Sender          `json:"sender"`
	Message    message.Message `json:"message"`
}

func (*GroupMessageEvent) Kind() Kind { return KindGroupMessage }

// LifeCycleEvent is sent by the gateway when it connects ("connect") or
// changes state ("enable", "disable").
type LifeCycleEvent struct {
	SelfID  int64  `json:"self_id"`
	SubType string `json:"sub_type"`
	Time    int64  `json:"time"`
}

func (*LifeCycleEvent) Kind() Kind { return KindLifeCycle }

type HeartBeatStatus struct {
	Good   bool `json:"good"`
	Online bool `json:"online"`
}

type HeartBeatEvent struct {
	Interval int64           `json:"interval"`
	SelfID   int64           `json:"self_id"`
	Status   HeartBeatStatus `json:"status"`
	Time     int64           `json:"time"`
}

func (*HeartBeatEvent) Kind() Kind { return KindHeartBeat }

type NoticeEvent struct {
	GroupID    int64  `json:"group_id"`
	NoticeType string `json:"notice_type"`
	SelfID     int64  `json:"self_id"`
	StatusText string `json:"status_text"`
	Time       int64  `json:"time"`
	UserID     int64  `json:"user_id"`
}

func (*NoticeEvent) Kind() Kind { return KindNotice }

// OtherEvent carries any frame that did not match a known variant.
type OtherEvent struct {
	PostType string
	Raw      jsoniter.RawMessage
}

func (*OtherEvent) Kind() Kind { return KindOther }
