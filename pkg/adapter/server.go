package adapter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"merilcat/pkg/signal"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the gateway connects from wherever it runs
	},
}

// Server accepts the gateway's reverse WebSocket connection. Only one
// gateway is served at a time: a newer connection replaces the current one.
type Server struct {
	addr    string
	path    string
	events  *signal.Bus[[]byte]
	actions *signal.Bus[[]byte]
	onState StateFunc

	listener net.Listener
	server   *http.Server

	mu      sync.Mutex
	ctx     context.Context
	current *session
}

type session struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// NewServer creates a Server for addr (host:port) and path.
func NewServer(addr, path string, events, actions *signal.Bus[[]byte]) *Server {
	if path == "" {
		path = "/ws"
	}
	return &Server{
		addr:    addr,
		path:    path,
		events:  events,
		actions: actions,
		ctx:     context.Background(),
	}
}

// OnState registers the connection state hook. Call before Serve.
func (s *Server) OnState(fn StateFunc) {
	s.onState = fn
}

// Handler returns the HTTP handler serving the WebSocket path.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleWebSocket)
	return mux
}

// Listen binds the address so Addr is known before Serve.
func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	return nil
}

// Addr returns the bound address, or the configured one before Listen.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Serve accepts connections until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		if err := s.Listen(); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	s.server = &http.Server{Handler: s.Handler()}
	slog.Info("Waiting for gateway connection", "addr", s.Addr(), "path", s.path)

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(s.listener)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
		s.dropCurrent()
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve gateway: %w", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS Upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	a := New(conn, s.events, s.actions)

	s.mu.Lock()
	parent := s.ctx
	prev := s.current
	ctx, cancel := context.WithCancel(parent)
	sess := &session{id: a.ID(), cancel: cancel, done: make(chan struct{})}
	s.current = sess
	s.mu.Unlock()

	if prev != nil {
		slog.Info("Newer gateway connection replaces the current one", "old", prev.id, "new", sess.id)
		prev.cancel()
		<-prev.done
	}

	slog.Info("Gateway connected", "conn", sess.id, "remote", r.RemoteAddr)
	s.notify(StateConnected, sess.id)

	// Run in the handler goroutine; net/http keeps the hijacked connection
	// alive until we return.
	err = a.Run(ctx)
	cancel()
	close(sess.done)

	s.mu.Lock()
	if s.current == sess {
		s.current = nil
	}
	s.mu.Unlock()

	slog.Info("Gateway disconnected", "conn", sess.id, "error", err)
	s.notify(StateDisconnected, sess.id)
}

func (s *Server) dropCurrent() {
	s.mu.Lock()
	cur := s.current
	s.mu.Unlock()
	if cur != nil {
		cur.cancel()
		<-cur.done
	}
}

func (s *Server) notify(state State, id string) {
	if s.onState != nil {
		s.onState(state, id)
	}
}
