package event

import (
	"context"
	"reflect"
	"testing"
	"time"

	"merilcat/pkg/signal"
)

const privateFrame = `{"post_type":"message","message_type":"private","message_id":11,"self_id":1,"time":1700000000,
	"raw_message":"/help","sender":{"user_id":123,"nickname":"alice","card":""},
	"message":[{"type":"text","data":{"text":"/help"}}]}`

const groupFrame = `{"post_type":"message","message_type":"group","group_id":555,"group_name":"devs","message_id":12,
	"self_id":1,"time":1700000001,"raw_message":"hi all","sender":{"user_id":9,"nickname":"bob","card":"Bobby"},
	"message":[{"type":"text","data":{"text":"hi all"}}]}`

const heartbeatFrame = `{"post_type":"meta_event","meta_event_type":"heartbeat","interval":30000,"self_id":1,
	"status":{"good":true,"online":true},"time":1700000002}`

func TestDecodeVariants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Kind
	}{
		{"private", privateFrame, KindPrivateMessage},
		{"group", groupFrame, KindGroupMessage},
		{"quoted reply with string id", `{"post_type":"message","message_type":"private","raw_message":"/help","sender":{"user_id":1},
			"message":[{"type":"reply","data":{"id":"99"}},{"type":"face","data":{"id":"14"}},{"type":"text","data":{"text":"/help"}}]}`, KindPrivateMessage},
		{"heartbeat", heartbeatFrame, KindHeartBeat},
		{"lifecycle", `{"post_type":"meta_event","meta_event_type":"lifecycle","self_id":1,"sub_type":"connect","time":1}`, KindLifeCycle},
		{"notice", `{"post_type":"notice","notice_type":"group_increase","group_id":5,"user_id":6,"self_id":1,"time":1,"status_text":""}`, KindNotice},
		{"unknown post type", `{"post_type":"request","request_type":"friend"}`, KindOther},
		{"unknown message type", `{"post_type":"message","message_type":"guild","raw_message":"x"}`, KindOther},
		{"unknown meta type", `{"post_type":"meta_event","meta_event_type":"reload"}`, KindOther},
		{"missing post type", `{"foo":1}`, KindOther},
		{"payload type mismatch", `{"post_type":"message","message_type":"private","sender":"nobody"}`, KindOther},
		{"not json", `not json at all`, KindOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev := Decode([]byte(tt.raw))
			if ev.Kind() != tt.want {
				t.Fatalf("Decode kind = %s, want %s", ev.Kind(), tt.want)
			}
		})
	}
}

func TestDecodeIsDeterministic(t *testing.T) {
	for _, raw := range []string{privateFrame, groupFrame, heartbeatFrame, `{"post_type":"weird"}`} {
		a := Decode([]byte(raw))
		b := Decode([]byte(raw))
		if !reflect.DeepEqual(a, b) {
			t.Errorf("decoding twice differs:\n%#v\n%#v", a, b)
		}
	}
}

func TestDecodePrivateFields(t *testing.T) {
	ev, ok := Decode([]byte(privateFrame)).(*PrivateMessageEvent)
	if !ok {
		t.Fatal("expected *PrivateMessageEvent")
	}
	if ev.Sender.UserID != 123 || ev.Sender.Nickname != "alice" || ev.RawMessage != "/help" {
		t.Errorf("unexpected fields: %+v", ev)
	}
	if got := ev.Message.PlainText(); got != "/help" {
		t.Errorf("segments text = %q", got)
	}
}

func TestDispatchRoutesToTypedBuses(t *testing.T) {
	nexus := NewNexus()
	defer nexus.Close()
	mgr := NewManager(signal.New[[]byte]().Port(), nexus)

	all := nexus.AllEvents()
	private := nexus.PrivateMessages()
	group := nexus.GroupMessages()
	heartbeat := nexus.Heartbeats()

	frames := []string{privateFrame, groupFrame, heartbeatFrame, `{"post_type":"notice","notice_type":"x"}`, `{"post_type":"?"}`}
	for _, f := range frames {
		mgr.Dispatch([]byte(f))
	}

	if all.Len() != len(frames) {
		t.Fatalf("all-events got %d, want %d", all.Len(), len(frames))
	}
	if private.Len() != 1 || group.Len() != 1 || heartbeat.Len() != 1 {
		t.Fatalf("typed buses got private=%d group=%d heartbeat=%d, want 1 each",
			private.Len(), group.Len(), heartbeat.Len())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	first, err := all.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv error: %v", err)
	}
	p, err := private.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv error: %v", err)
	}
	if first != Event(p) {
		t.Error("all-events and private bus should share the same event pointer")
	}
}

func TestRunConsumesFramesUntilClosed(t *testing.T) {
	frames := signal.New[[]byte]()
	nexus := NewNexus()
	defer nexus.Close()

	mgr := NewManager(frames.Port(), nexus)
	private := nexus.PrivateMessages()

	done := make(chan error, 1)
	go func() { done <- mgr.Run(context.Background()) }()

	frames.Publish([]byte(privateFrame))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, err := private.Recv(ctx)
	if err != nil {
		t.Fatalf("Recv error: %v", err)
	}
	if ev.Sender.UserID != 123 {
		t.Errorf("user id = %d", ev.Sender.UserID)
	}

	frames.Close()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after the bus closed")
	}
}
