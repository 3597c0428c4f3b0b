// Package signal provides the generic publish/subscribe bridge used between
// the gateway connection and its consumers.
//
// A Bus composes two primitives:
//
//   - a bounded broadcast stream: every Port derived from the bus owns an
//     independent cursor and receives every message published after the
//     port was created, in publish order;
//   - an unbounded fan-in queue: any Port may Send into it and the single
//     owner of the bus reads it through Incoming or Recv.
//
// A fan-in filter (SetFilter) lets the owner discard queued messages that
// went stale before anyone read them.
//
// Overflow policy: when a port's broadcast buffer is full the oldest queued
// message is dropped and the drop is counted. The next Recv on that port
// returns a *LaggedError carrying the number of skipped messages, so readers
// can decide to resync or log the data loss.
package signal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// DefaultCapacity is the broadcast buffer size of every port.
const DefaultCapacity = 256

// ErrClosed is returned once the bus has been torn down.
var ErrClosed = errors.New("signal: bus closed")

// LaggedError reports that a port fell behind the broadcast buffer.
type LaggedError struct {
	Skipped uint64
}

func (e *LaggedError) Error() string {
	return fmt.Sprintf("signal: port lagged, %d message(s) dropped", e.Skipped)
}

// Option configures a Bus.
type Option func(*options)

type options struct {
	capacity int
}

// WithCapacity sets the per-port broadcast buffer size.
func WithCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// Bus is a broadcast fan-out plus an unbounded fan-in queue.
type Bus[T any] struct {
	capacity int

	mu     sync.Mutex
	ports  map[*Port[T]]struct{}
	closed bool

	in   chan T
	out  chan T
	done chan struct{}

	keep atomic.Pointer[func(T) bool]
}

// New creates a bus and starts its fan-in pump.
func New[T any](opts ...Option) *Bus[T] {
	o := options{capacity: DefaultCapacity}
	for _, opt := range opts {
		opt(&o)
	}

	b := &Bus[T]{
		capacity: o.capacity,
		ports:    make(map[*Port[T]]struct{}),
		in:       make(chan T),
		out:      make(chan T),
		done:     make(chan struct{}),
	}
	go b.pump()
	return b
}

// pump buffers fan-in messages so a Send never waits for the reader.
func (b *Bus[T]) pump() {
	var queue []T
	for {
		var out chan T
		var head T
		if len(queue) > 0 {
			out = b.out
			head = queue[0]
		}

		select {
		case v := <-b.in:
			queue = append(b.prune(queue), v)
		case out <- head:
			var zero T
			queue[0] = zero
			queue = queue[1:]
		case <-b.done:
			return
		}
	}
}

// prune drops queued messages the filter no longer keeps.
func (b *Bus[T]) prune(queue []T) []T {
	if b.keep.Load() == nil {
		return queue
	}
	kept := queue[:0]
	for _, v := range queue {
		if b.Keep(v) {
			kept = append(kept, v)
		}
	}
	var zero T
	for i := len(kept); i < len(queue); i++ {
		queue[i] = zero
	}
	return kept
}

// SetFilter installs keep as the fan-in filter. Queued messages it rejects
// are discarded on the next Send, skipped by Recv, and should be skipped by
// readers of Incoming through Keep. A nil keep removes the filter.
func (b *Bus[T]) SetFilter(keep func(T) bool) {
	if keep == nil {
		b.keep.Store(nil)
		return
	}
	b.keep.Store(&keep)
}

// Keep reports whether v passes the fan-in filter.
func (b *Bus[T]) Keep(v T) bool {
	keep := b.keep.Load()
	return keep == nil || (*keep)(v)
}

// Port derives a new port. The port only observes messages published after
// this call returns.
func (b *Bus[T]) Port() *Port[T] {
	p := &Port[T]{bus: b, ch: make(chan T, b.capacity)}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(p.ch)
		return p
	}
	b.ports[p] = struct{}{}
	return p
}

// Publish broadcasts v to every live port and returns how many ports were
// reached. Publishers are serialized so every port sees the same order.
func (b *Bus[T]) Publish(v T) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, ErrClosed
	}
	for p := range b.ports {
		p.deliver(v)
	}
	return len(b.ports), nil
}

// Incoming exposes the fan-in queue for select loops. Only the owner of the
// bus should read it. Pair it with Done to notice teardown.
func (b *Bus[T]) Incoming() <-chan T {
	return b.out
}

// Done is closed when the bus is torn down.
func (b *Bus[T]) Done() <-chan struct{} {
	return b.done
}

// Recv waits for the next fan-in message that passes the filter.
func (b *Bus[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	for {
		select {
		case v := <-b.out:
			if b.Keep(v) {
				return v, nil
			}
		case <-b.done:
			return zero, ErrClosed
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
}

// Subscribers returns the number of live ports.
func (b *Bus[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.ports)
}

// Close tears the bus down. Ports drain what they already hold and then
// report ErrClosed; queued fan-in messages are discarded.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for p := range b.ports {
		delete(b.ports, p)
		close(p.ch)
	}
	close(b.done)
}

func (b *Bus[T]) enqueue(v T) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}
	select {
	case b.in <- v:
		return nil
	case <-b.done:
		return ErrClosed
	}
}

// Port is a handle onto a Bus: an independent broadcast cursor plus a write
// handle into the fan-in queue.
type Port[T any] struct {
	bus    *Bus[T]
	ch     chan T
	lagged atomic.Uint64
}

// deliver is called with the bus lock held.
func (p *Port[T]) deliver(v T) {
	select {
	case p.ch <- v:
		return
	default:
	}

	// Buffer full: drop the oldest message to make room.
	select {
	case <-p.ch:
		p.lagged.Add(1)
	default:
	}
	select {
	case p.ch <- v:
	default:
		p.lagged.Add(1)
	}
}

// Send queues v on the bus fan-in. It only fails once the bus is closed.
func (p *Port[T]) Send(v T) error {
	return p.bus.enqueue(v)
}

// SetFilter installs the fan-in filter of the port's bus.
func (p *Port[T]) SetFilter(keep func(T) bool) {
	p.bus.SetFilter(keep)
}

// Publish broadcasts v directly, for ports held by the writer side.
func (p *Port[T]) Publish(v T) (int, error) {
	return p.bus.Publish(v)
}

// Recv waits for the next broadcast message. A pending lag is reported
// first as a *LaggedError; the following call resumes with the oldest
// message still buffered.
func (p *Port[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	if n := p.TakeLag(); n > 0 {
		return zero, &LaggedError{Skipped: n}
	}

	select {
	case v, ok := <-p.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// C exposes the broadcast queue for multi-port select loops. The channel is
// closed when the port or its bus is closed. Callers using C should check
// TakeLag after each receive.
func (p *Port[T]) C() <-chan T {
	return p.ch
}

// TakeLag returns and resets the number of messages dropped since the last
// call.
func (p *Port[T]) TakeLag() uint64 {
	return p.lagged.Swap(0)
}

// Len reports how many messages are buffered for this port.
func (p *Port[T]) Len() int {
	return len(p.ch)
}

// Port derives a sibling port on the same bus with its own cursor.
func (p *Port[T]) Port() *Port[T] {
	return p.bus.Port()
}

// Close detaches the port from the bus. It is safe to call more than once.
func (p *Port[T]) Close() {
	b := p.bus
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.ports[p]; ok {
		delete(b.ports, p)
		close(p.ch)
	}
}
