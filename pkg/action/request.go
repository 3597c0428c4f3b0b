package action

import (
	"errors"
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrTimeout is returned when no response arrived before the deadline.
	ErrTimeout = errors.New("action: request timed out")
	// ErrActionFailed is returned by Response.Err for non-ok responses.
	ErrActionFailed = errors.New("action: gateway reported failure")
)

// Request is an outbound action frame. Echo is always assigned by the
// Manager; callers never set it.
type Request struct {
	Action string `json:"action"`
	Echo   string `json:"echo"`
	Params any    `json:"params"`
}

// Response is an inbound action response frame.
type Response struct {
	Status  string              `json:"status"`
	RetCode int                 `json:"retcode"`
	Data    jsoniter.RawMessage `json:"data"`
	Message string              `json:"message"`
	Wording string              `json:"wording"`
	Echo    string              `json:"-"`

	// Raw is the complete frame as received.
	Raw jsoniter.RawMessage `json:"-"`
}

// OK reports whether the gateway accepted the action. Responses without a
// status field are treated as accepted.
func (r *Response) OK() bool {
	return r.Status == "" || r.Status == "ok" || r.Status == "async"
}

// Err converts a failed response into an error wrapping ErrActionFailed.
func (r *Response) Err() error {
	if r.OK() {
		return nil
	}
	msg := r.Wording
	if msg == "" {
		msg = r.Message
	}
	return fmt.Errorf("%w: retcode=%d %s", ErrActionFailed, r.RetCode, msg)
}

// DecodeData unmarshals the data payload into v.
func (r *Response) DecodeData(v any) error {
	if len(r.Data) == 0 {
		return fmt.Errorf("response %s carries no data", r.Echo)
	}
	return json.Unmarshal(r.Data, v)
}

// parseResponse keeps whatever it can: a frame whose fields do not match the
// usual shape still resolves its request with Raw populated.
func parseResponse(frame []byte) (*Response, error) {
	var resp Response
	err := json.Unmarshal(frame, &resp)
	if err != nil {
		resp = Response{}
	}
	resp.Echo = jsoniter.Get(frame, "echo").ToString()
	resp.Raw = frame
	return &resp, err
}
