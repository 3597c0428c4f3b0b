// Package adapter bridges one gateway WebSocket connection onto the event
// and action buses.
package adapter

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"

	"merilcat/pkg/signal"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrConnectionLost ends Run when the connection can no longer be read.
// The owner decides whether to accept or dial a new one.
var ErrConnectionLost = errors.New("adapter: connection lost")

const writeWait = 10 * time.Second

// State is the lifecycle of a gateway connection.
type State int

const (
	StateConnected State = iota
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// StateFunc is notified with the connection id on every state change.
type StateFunc func(state State, connID string)

// Adapter owns a single connection. Inbound frames carrying an "echo" key
// are action responses and go to the action bus; everything else is an
// event and goes to the event bus. Frames sent into either bus's fan-in
// are written to the connection.
type Adapter struct {
	id      string
	conn    *websocket.Conn
	events  *signal.Bus[[]byte]
	actions *signal.Bus[[]byte]
}

// New wraps an established connection.
func New(conn *websocket.Conn, events, actions *signal.Bus[[]byte]) *Adapter {
	return &Adapter{
		id:      uuid.NewString(),
		conn:    conn,
		events:  events,
		actions: actions,
	}
}

// ID identifies the connection in logs.
func (a *Adapter) ID() string {
	return a.id
}

type inbound struct {
	kind int
	data []byte
}

// Run pumps frames until ctx is done, a bus closes (both return nil) or
// the connection fails (ErrConnectionLost). The connection is closed on
// return.
func (a *Adapter) Run(ctx context.Context) error {
	log := slog.With("conn", a.id)
	frames := make(chan inbound)
	readErr := make(chan error, 1)
	stop := make(chan struct{})
	defer close(stop)
	defer a.conn.Close()

	go func() {
		for {
			kind, data, err := a.conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			select {
			case frames <- inbound{kind: kind, data: data}:
			case <-stop:
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			a.closeGracefully()
			return nil

		case err := <-readErr:
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("Gateway closed the connection")
			} else {
				log.Warn("Gateway connection read failed", "error", err)
			}
			return ErrConnectionLost

		case in := <-frames:
			a.route(log, in)

		case frame := <-a.events.Incoming():
			a.write(log, "event", frame)

		case frame := <-a.actions.Incoming():
			if !a.actions.Keep(frame) {
				log.Debug("Dropping expired action request", "raw", string(frame))
				continue
			}
			a.write(log, "action", frame)

		case <-a.events.Done():
			a.closeGracefully()
			return nil

		case <-a.actions.Done():
			a.closeGracefully()
			return nil
		}
	}
}

func (a *Adapter) route(log *slog.Logger, in inbound) {
	if in.kind != websocket.TextMessage {
		log.Warn("Dropping non-text frame", "type", in.kind, "size", len(in.data))
		return
	}

	var obj map[string]jsoniter.RawMessage
	if err := json.Unmarshal(in.data, &obj); err != nil {
		log.Warn("Dropping frame that is not a JSON object", "error", err, "raw", string(in.data))
		return
	}

	if _, ok := obj["echo"]; ok {
		if _, err := a.actions.Publish(in.data); err != nil {
			log.Debug("Action bus closed, response dropped", "error", err)
		}
		return
	}
	if _, err := a.events.Publish(in.data); err != nil {
		log.Debug("Event bus closed, event dropped", "error", err)
	}
}

func (a *Adapter) write(log *slog.Logger, source string, frame []byte) {
	if !json.Valid(frame) {
		log.Error("Dropping outbound frame that is not valid JSON", "source", source, "raw", string(frame))
		return
	}
	a.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := a.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		log.Warn("Failed to write frame to gateway", "source", source, "error", err)
	}
}

func (a *Adapter) closeGracefully() {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	a.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
