package message

import (
	"testing"

	jsoniter "github.com/json-iterator/go"
)

func TestBuilderEncodesWireShape(t *testing.T) {
	msg := New().Reply(42).At("10001").Text(" hi").Dice()

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	want := `[{"type":"reply","data":{"id":42}},{"type":"at","data":{"qq":"10001"}},{"type":"text","data":{"text":" hi"}},{"type":"dice","data":{}}]`
	if string(raw) != want {
		t.Fatalf("got  %s\nwant %s", raw, want)
	}
}

func TestDecodeGatewayMessage(t *testing.T) {
	input := `[
		{"type":"text","data":{"text":"look "}},
		{"type":"image","data":{"file":"abc.jpg","url":"http://x/abc.jpg"}},
		{"type":"music","data":{"type":"custom","url":"u","audio":"a","title":"t"}},
		{"type":"rps","data":{}},
		{"type":"mface","data":{"emoji_id":"1"}},
		{"type":"reply","data":{"id":"99"}},
		{"type":"face","data":{"id":14}},
		{"type":"face","data":{"id":"not a number"}}
	]`

	var msg Message
	if err := json.Unmarshal([]byte(input), &msg); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if len(msg) != 8 {
		t.Fatalf("got %d segments, want 8", len(msg))
	}

	if img, ok := msg[1].Data.(FileData); !ok || img.File != "abc.jpg" {
		t.Errorf("image segment = %#v", msg[1].Data)
	}
	music, ok := msg[2].Data.(MusicData)
	if !ok || !music.IsCustom() || music.Title != "t" {
		t.Errorf("music segment = %#v", msg[2].Data)
	}
	if _, ok := msg[3].Data.(EmptyData); !ok {
		t.Errorf("rps segment = %#v", msg[3].Data)
	}
	if _, ok := msg[4].Data.(jsoniter.RawMessage); !ok {
		t.Errorf("unknown segment should keep raw data, got %T", msg[4].Data)
	}
	if reply, ok := msg[5].Data.(ReplyData); !ok || reply.ID != 99 {
		t.Errorf("reply segment = %#v", msg[5].Data)
	}
	if face, ok := msg[6].Data.(FaceData); !ok || face.ID != 14 {
		t.Errorf("face segment = %#v", msg[6].Data)
	}
	if _, ok := msg[7].Data.(jsoniter.RawMessage); !ok {
		t.Errorf("malformed face segment should keep raw data, got %T", msg[7].Data)
	}
	if got := msg.PlainText(); got != "look " {
		t.Errorf("PlainText = %q", got)
	}
}

func TestPlatformMusicCardOmitsCustomFields(t *testing.T) {
	raw, err := json.Marshal(New().Music("163", "28949444"))
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}
	want := `[{"type":"music","data":{"type":"163","id":"28949444"}}]`
	if string(raw) != want {
		t.Fatalf("got %s, want %s", raw, want)
	}
}
