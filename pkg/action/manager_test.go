package action

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"

	"merilcat/pkg/message"
	"merilcat/pkg/signal"
)

// fakeGateway plays the adapter side of the action bus.
type fakeGateway struct {
	bus *signal.Bus[[]byte]
}

func (g *fakeGateway) next(t *testing.T) Request {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frame, err := g.bus.Recv(ctx)
	if err != nil {
		t.Fatalf("no outbound request: %v", err)
	}
	var req Request
	if err := json.Unmarshal(frame, &req); err != nil {
		t.Fatalf("outbound frame is not a request: %v", err)
	}
	return req
}

func (g *fakeGateway) reply(frame string) {
	g.bus.Publish([]byte(frame))
}

func setup(t *testing.T, opts ...Option) (*Manager, *fakeGateway) {
	t.Helper()
	bus := signal.New[[]byte]()
	mgr := NewManager(bus.Port(), opts...)

	ctx, cancel := context.WithCancel(context.Background())
	go mgr.Run(ctx)
	t.Cleanup(func() {
		cancel()
		bus.Close()
	})
	return mgr, &fakeGateway{bus: bus}
}

func TestRequestResolvesWithMatchingResponse(t *testing.T) {
	mgr, gw := setup(t)

	type result struct {
		resp *Response
		err  error
	}
	done := make(chan result, 1)
	go func() {
		resp, err := mgr.SendPrivateMessage(context.Background(), 123, message.Text("hello"))
		done <- result{resp, err}
	}()

	req := gw.next(t)
	if req.Action != ActionSendPrivateMsg {
		t.Fatalf("action = %q", req.Action)
	}
	if req.Echo == "" {
		t.Fatal("request was not stamped with an echo")
	}
	params, _ := json.Marshal(req.Params)
	if got := jsoniter.Get(params, "user_id").ToInt64(); got != 123 {
		t.Errorf("user_id param = %d", got)
	}

	gw.reply(fmt.Sprintf(`{"echo":%q,"message":"ok"}`, req.Echo))

	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("Request error: %v", r.err)
		}
		if r.resp.Message != "ok" || r.resp.Echo != req.Echo {
			t.Errorf("response = %+v", r.resp)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Request did not resolve")
	}
	if n := mgr.Pending(); n != 0 {
		t.Errorf("Pending = %d after resolution", n)
	}
}

func TestRequestTimesOutAndDiscardsLateResponse(t *testing.T) {
	mgr, gw := setup(t, WithDefaultTimeout(time.Hour))

	start := time.Now()
	_, err := mgr.Request(context.Background(), "get_status", nil, WithTimeout(50*time.Millisecond))
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("timed out too early: %v", elapsed)
	}
	if n := mgr.Pending(); n != 0 {
		t.Fatalf("Pending = %d after timeout", n)
	}

	gw.reply(`{"echo":"1","status":"ok"}`)
	time.Sleep(20 * time.Millisecond)
	if n := mgr.Pending(); n != 0 {
		t.Errorf("late response changed Pending to %d", n)
	}
}

func TestExpiredRequestIsNeverWritten(t *testing.T) {
	mgr, gw := setup(t)

	// Nobody drains the fan-in while these requests expire.
	for i := 0; i < 3; i++ {
		if _, err := mgr.Request(context.Background(), ActionSendPrivateMsg, nil, WithTimeout(20*time.Millisecond)); !errors.Is(err, ErrTimeout) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if frame, err := gw.bus.Recv(ctx); err == nil {
		t.Fatalf("expired request was written: %s", frame)
	}

	done := make(chan error, 1)
	go func() {
		_, err := mgr.FriendPoke(context.Background(), 2)
		done <- err
	}()
	req := gw.next(t)
	if req.Action != ActionFriendPoke {
		t.Fatalf("action = %q, want the live request", req.Action)
	}
	gw.reply(fmt.Sprintf(`{"echo":%q,"status":"ok"}`, req.Echo))
	if err := <-done; err != nil {
		t.Errorf("live request: %v", err)
	}
}

func TestConcurrentRequestsResolveIndependently(t *testing.T) {
	mgr, gw := setup(t)
	const n = 50

	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := mgr.Request(context.Background(), "echo_n", map[string]int{"n": i})
			if err != nil {
				errs <- err
				return
			}
			var data struct {
				N int `json:"n"`
			}
			if err := resp.DecodeData(&data); err != nil {
				errs <- err
				return
			}
			if data.N != i {
				errs <- fmt.Errorf("request %d resolved with response for %d", i, data.N)
			}
		}(i)
	}

	reqs := make([]Request, 0, n)
	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		req := gw.next(t)
		if seen[req.Echo] {
			t.Fatalf("echo %s issued twice", req.Echo)
		}
		seen[req.Echo] = true
		reqs = append(reqs, req)
	}

	// Answer in reverse order.
	for i := len(reqs) - 1; i >= 0; i-- {
		params, _ := json.Marshal(reqs[i].Params)
		gw.reply(fmt.Sprintf(`{"echo":%q,"status":"ok","retcode":0,"data":%s}`, reqs[i].Echo, params))
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	if p := mgr.Pending(); p != 0 {
		t.Errorf("Pending = %d after all calls resolved", p)
	}
}

func TestRequestHonoursContext(t *testing.T) {
	mgr, _ := setup(t)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	if _, err := mgr.Request(ctx, "get_status", nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if n := mgr.Pending(); n != 0 {
		t.Errorf("Pending = %d after cancel", n)
	}
}

func TestUnmatchedResponsesAreIgnored(t *testing.T) {
	mgr, gw := setup(t)

	gw.reply(`{"echo":"does-not-exist","status":"ok"}`)
	gw.reply(`{"status":"ok"}`)

	done := make(chan error, 1)
	go func() {
		_, err := mgr.FriendPoke(context.Background(), 1)
		done <- err
	}()
	req := gw.next(t)
	gw.reply(fmt.Sprintf(`{"echo":%q,"status":"ok"}`, req.Echo))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("FriendPoke error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("manager stopped resolving after unmatched responses")
	}
}

func TestResponseErr(t *testing.T) {
	resp, _ := parseResponse([]byte(`{"status":"failed","retcode":1400,"wording":"user not found","echo":"9"}`))
	if resp.OK() {
		t.Fatal("failed status reported as OK")
	}
	if err := resp.Err(); !errors.Is(err, ErrActionFailed) {
		t.Fatalf("expected ErrActionFailed, got %v", err)
	}
	if resp.Echo != "9" {
		t.Errorf("Echo = %q", resp.Echo)
	}
}
