package action

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"

	"merilcat/pkg/signal"
)

// DefaultTimeout bounds how long Request waits for a response.
const DefaultTimeout = 10 * time.Second

// Manager turns fire-and-forget frames on the action bus into awaitable
// request/response calls correlated by echo.
//
// Echo ids come from a 64-bit counter and are never reused within a
// process. Every pending entry is resolved exactly once: by its response,
// by its deadline, or by the caller's context. Pending requests are simply
// abandoned on shutdown. A request whose entry is gone is never written to
// the gateway afterwards: the manager filters the action fan-in so frames
// that expired while queued are dropped.
type Manager struct {
	port     *signal.Port[[]byte]
	counter  atomic.Uint64
	timeout  atomic.Int64
	observer func(Request)

	mu      sync.Mutex
	pending map[string]chan *Response
}

// Option configures a Manager.
type Option func(*Manager)

// WithDefaultTimeout sets the manager-wide deadline.
func WithDefaultTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.SetTimeout(d)
	}
}

// WithObserver registers a function called with every request sent.
func WithObserver(fn func(Request)) Option {
	return func(m *Manager) {
		m.observer = fn
	}
}

// NewManager uses port both to send requests (fan-in towards the adapter)
// and to receive responses (broadcast from the adapter).
func NewManager(port *signal.Port[[]byte], opts ...Option) *Manager {
	m := &Manager{
		port:    port,
		pending: make(map[string]chan *Response),
	}
	m.timeout.Store(int64(DefaultTimeout))
	for _, opt := range opts {
		opt(m)
	}
	port.SetFilter(m.live)
	return m
}

// live reports whether an outbound frame still has a caller waiting for it.
// Frames without an echo are not requests and always pass.
func (m *Manager) live(frame []byte) bool {
	echo := jsoniter.Get(frame, "echo").ToString()
	if echo == "" {
		return true
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.pending[echo]
	return ok
}

// SetTimeout changes the default deadline for subsequent requests.
func (m *Manager) SetTimeout(d time.Duration) {
	if d > 0 {
		m.timeout.Store(int64(d))
	}
}

// Timeout returns the current default deadline.
func (m *Manager) Timeout() time.Duration {
	return time.Duration(m.timeout.Load())
}

// Pending returns the number of in-flight requests.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// CallOption tunes a single Request.
type CallOption func(*callOptions)

type callOptions struct {
	timeout time.Duration
}

// WithTimeout overrides the deadline of one call.
func WithTimeout(d time.Duration) CallOption {
	return func(o *callOptions) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// Request sends an action and waits for its response. It returns an error
// wrapping ErrTimeout when the deadline passes first, or the context error
// when ctx ends first. A response with a failed status is still returned
// as a Response; use Response.Err to inspect it.
func (m *Manager) Request(ctx context.Context, action string, params any, opts ...CallOption) (*Response, error) {
	co := callOptions{timeout: m.Timeout()}
	for _, opt := range opts {
		opt(&co)
	}

	echo := strconv.FormatUint(m.counter.Add(1), 10)
	req := Request{Action: action, Echo: echo, Params: params}

	frame, err := json.Marshal(req)
	if err != nil {
		slog.Error("Failed to encode action request", "action", action, "error", err)
		return nil, fmt.Errorf("encode %s request: %w", action, err)
	}

	ch := make(chan *Response, 1)
	m.mu.Lock()
	m.pending[echo] = ch
	m.mu.Unlock()

	if err := m.port.Send(frame); err != nil {
		m.remove(echo)
		return nil, fmt.Errorf("send %s: %w", action, err)
	}
	slog.Debug("Action sent", "action", action, "echo", echo)
	if m.observer != nil {
		m.observer(req)
	}

	timer := time.NewTimer(co.timeout)
	defer timer.Stop()

	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		if m.remove(echo) {
			slog.Warn("Action timed out", "action", action, "echo", echo, "timeout", co.timeout)
			return nil, fmt.Errorf("%s (echo %s): %w", action, echo, ErrTimeout)
		}
		// The response loop claimed the entry first; its response is buffered.
		return <-ch, nil
	case <-ctx.Done():
		if m.remove(echo) {
			return nil, ctx.Err()
		}
		return <-ch, nil
	}
}

// remove deletes a pending entry and reports whether it was still present.
// Removing an absent id is a no-op.
func (m *Manager) remove(echo string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.pending[echo]; !ok {
		return false
	}
	delete(m.pending, echo)
	return true
}

// Run resolves pending requests from incoming responses until ctx is done
// or the action bus closes.
func (m *Manager) Run(ctx context.Context) error {
	for {
		frame, err := m.port.Recv(ctx)
		if err != nil {
			var lagged *signal.LaggedError
			if errors.As(err, &lagged) {
				slog.Warn("Action manager fell behind, responses dropped", "skipped", lagged.Skipped)
				continue
			}
			if errors.Is(err, signal.ErrClosed) {
				return nil
			}
			return err
		}
		m.resolve(frame)
	}
}

func (m *Manager) resolve(frame []byte) {
	resp, err := parseResponse(frame)
	if err != nil {
		slog.Debug("Action response has an unexpected shape", "error", err)
	}
	if resp.Echo == "" {
		slog.Warn("Discarding action response without echo", "raw", string(frame))
		return
	}

	m.mu.Lock()
	ch, ok := m.pending[resp.Echo]
	if ok {
		delete(m.pending, resp.Echo)
	}
	m.mu.Unlock()

	if !ok {
		slog.Warn("Discarding unmatched action response", "echo", resp.Echo)
		return
	}
	slog.Debug("Action response", "echo", resp.Echo, "status", resp.Status, "retcode", resp.RetCode)
	ch <- resp
}
