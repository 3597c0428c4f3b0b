package event

import "log/slog"

// Discriminator values used by the gateway.
const (
	postMessage   = "message"
	postMetaEvent = "meta_event"
	postNotice    = "notice"

	messageGroup   = "group"
	messagePrivate = "private"

	metaLifeCycle = "lifecycle"
	metaHeartBeat = "heartbeat"
)

type discriminators struct {
	PostType      string `json:"post_type"`
	MessageType   string `json:"message_type"`
	MetaEventType string `json:"meta_event_type"`
}

// Decode turns a raw frame into an Event. It never fails: frames with an
// unknown discriminator, or whose payload does not fit the variant, decode
// to *OtherEvent.
func Decode(raw []byte) Event {
	var d discriminators
	if err := json.Unmarshal(raw, &d); err != nil {
		slog.Debug("Event discriminator unreadable", "error", err)
		return other(d.PostType, raw)
	}

	var target Event
	switch d.PostType {
	case postMessage:
		switch d.MessageType {
		case messageGroup:
			target = &GroupMessageEvent{}
		case messagePrivate:
			target = &PrivateMessageEvent{}
		}
	case postMetaEvent:
		switch d.MetaEventType {
		case metaLifeCycle:
			target = &LifeCycleEvent{}
		case metaHeartBeat:
			target = &HeartBeatEvent{}
		}
	case postNotice:
		target = &NoticeEvent{}
	}

	if target == nil {
		return other(d.PostType, raw)
	}
	if err := json.Unmarshal(raw, target); err != nil {
		slog.Debug("Event payload mismatch", "post_type", d.PostType, "error", err)
		return other(d.PostType, raw)
	}
	return target
}

func other(postType string, raw []byte) *OtherEvent {
	cp := make([]byte, len(raw))
	copy(cp, raw)
	return &OtherEvent{PostType: postType, Raw: cp}
}
