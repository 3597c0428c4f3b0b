package message

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Segment type constants as used on the wire.
const (
	TypeText   = "text"
	TypeAt     = "at"
	TypeImage  = "image"
	TypeFace   = "face"
	TypeJSON   = "json"
	TypeRecord = "record"
	TypeVideo  = "video"
	TypeReply  = "reply"
	TypeDice   = "dice"
	TypeRPS    = "rps"
	TypeFile   = "file"
	TypeMusic  = "music"
)

// Segment is one element of a chat message: {"type": ..., "data": {...}}.
// Data holds one of the *Data structs below, or jsoniter.RawMessage for
// segment types this package does not model.
type Segment struct {
	Type string
	Data any
}

type TextData struct {
	Text string `json:"text"`
}

type AtData struct {
	QQ string `json:"qq"`
}

// FileData is shared by image, record, video and file segments. File may be
// a local path, a URL or a base64:// payload.
type FileData struct {
	File string `json:"file"`
}

// NumericID is a segment id. Gateways send it as a number or as a numeric
// string; it is always written back as a number.
type NumericID int

func (id *NumericID) UnmarshalJSON(b []byte) error {
	b = bytes.Trim(b, `"`)
	if len(b) == 0 || string(b) == "null" {
		*id = 0
		return nil
	}
	n, err := strconv.Atoi(string(b))
	if err != nil {
		return fmt.Errorf("segment id %s: %w", b, err)
	}
	*id = NumericID(n)
	return nil
}

type FaceData struct {
	ID NumericID `json:"id"`
}

type JSONData struct {
	Data string `json:"data"`
}

type ReplyData struct {
	ID NumericID `json:"id"`
}

type EmptyData struct{}

// MusicData covers both platform music cards ("qq", "163") which only carry
// an ID, and custom cards which carry URL, Audio and Title.
type MusicData struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	URL   string `json:"url,omitempty"`
	Audio string `json:"audio,omitempty"`
	Title string `json:"title,omitempty"`
	Image string `json:"image,omitempty"`
}

// IsCustom reports whether the card is a custom one.
func (m MusicData) IsCustom() bool {
	return m.Type == "custom"
}

type wireSegment struct {
	Type string              `json:"type"`
	Data jsoniter.RawMessage `json:"data"`
}

func (s Segment) MarshalJSON() ([]byte, error) {
	data := s.Data
	if data == nil {
		data = EmptyData{}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s segment: %w", s.Type, err)
	}
	return json.Marshal(wireSegment{Type: s.Type, Data: raw})
}

func (s *Segment) UnmarshalJSON(b []byte) error {
	var w wireSegment
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	s.Type = w.Type

	var target any
	switch w.Type {
	case TypeText:
		target = &TextData{}
	case TypeAt:
		target = &AtData{}
	case TypeImage, TypeRecord, TypeVideo, TypeFile:
		target = &FileData{}
	case TypeFace:
		target = &FaceData{}
	case TypeJSON:
		target = &JSONData{}
	case TypeReply:
		target = &ReplyData{}
	case TypeDice, TypeRPS:
		s.Data = EmptyData{}
		return nil
	case TypeMusic:
		target = &MusicData{}
	default:
		s.Data = w.Data
		return nil
	}

	// A payload that does not fit its known type is kept raw, like an
	// unknown segment, so the rest of the message still decodes.
	if len(w.Data) > 0 && string(w.Data) != "null" {
		if err := json.Unmarshal(w.Data, target); err != nil {
			s.Data = w.Data
			return nil
		}
	}

	switch v := target.(type) {
	case *TextData:
		s.Data = *v
	case *AtData:
		s.Data = *v
	case *FileData:
		s.Data = *v
	case *FaceData:
		s.Data = *v
	case *JSONData:
		s.Data = *v
	case *ReplyData:
		s.Data = *v
	case *MusicData:
		s.Data = *v
	}
	return nil
}

// Message is an ordered sequence of segments. It marshals as a bare JSON
// array, which is what the gateway expects in the "message" param.
type Message []Segment

// New starts an empty message.
func New() Message {
	return Message{}
}

// Text is shorthand for New().Text(s).
func Text(s string) Message {
	return New().Text(s)
}

func (m Message) Text(text string) Message {
	return append(m, Segment{Type: TypeText, Data: TextData{Text: text}})
}

// At mentions a user; use "all" to mention everyone.
func (m Message) At(qq string) Message {
	return append(m, Segment{Type: TypeAt, Data: AtData{QQ: qq}})
}

func (m Message) Image(file string) Message {
	return append(m, Segment{Type: TypeImage, Data: FileData{File: file}})
}

func (m Message) Face(id int) Message {
	return append(m, Segment{Type: TypeFace, Data: FaceData{ID: NumericID(id)}})
}

func (m Message) JSON(data string) Message {
	return append(m, Segment{Type: TypeJSON, Data: JSONData{Data: data}})
}

// Reply quotes an earlier message by id.
func (m Message) Reply(messageID int) Message {
	return append(m, Segment{Type: TypeReply, Data: ReplyData{ID: NumericID(messageID)}})
}

func (m Message) Record(file string) Message {
	return append(m, Segment{Type: TypeRecord, Data: FileData{File: file}})
}

func (m Message) Video(file string) Message {
	return append(m, Segment{Type: TypeVideo, Data: FileData{File: file}})
}

func (m Message) Dice() Message {
	return append(m, Segment{Type: TypeDice, Data: EmptyData{}})
}

func (m Message) RPS() Message {
	return append(m, Segment{Type: TypeRPS, Data: EmptyData{}})
}

func (m Message) File(path string) Message {
	return append(m, Segment{Type: TypeFile, Data: FileData{File: path}})
}

// Music appends a platform music card (kind is "qq" or "163").
func (m Message) Music(kind, id string) Message {
	return append(m, Segment{Type: TypeMusic, Data: MusicData{Type: kind, ID: id}})
}

// CustomMusic appends a custom music card.
func (m Message) CustomMusic(url, audio, title, image string) Message {
	return append(m, Segment{Type: TypeMusic, Data: MusicData{
		Type:  "custom",
		URL:   url,
		Audio: audio,
		Title: title,
		Image: image,
	}})
}

// PlainText concatenates the text segments.
func (m Message) PlainText() string {
	var sb strings.Builder
	for _, seg := range m {
		if t, ok := seg.Data.(TextData); ok {
			sb.WriteString(t.Text)
		}
	}
	return sb.String()
}

// Types lists the segment types in order, mostly for logging.
func (m Message) Types() []string {
	types := make([]string, len(m))
	for i, seg := range m {
		types[i] = seg.Type
	}
	return types
}
