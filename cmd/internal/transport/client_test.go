package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	v1 "chatsync/shared/contracts/sync/v1"

	"github.com/coder/websocket"
)

// fakeServer answers invoke envelopes from a method table and pushes one update batch after the
// handshake.
type fakeServer struct {
	t       *testing.T
	calls   sync.Map // method -> *atomic.Int32
	afterID atomic.Value
}

func (f *fakeServer) count(method string) int32 {
	v, _ := f.calls.LoadOrStore(method, new(atomic.Int32))
	return v.(*atomic.Int32).Load()
}

func (f *fakeServer) hit(method string) int32 {
	v, _ := f.calls.LoadOrStore(method, new(atomic.Int32))
	return v.(*atomic.Int32).Add(1)
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{Subprotocols: []string{v1.Subprotocol}})
	if err != nil {
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()
	ctx := r.Context()

	write := func(typ, id string, payload any) {
		b, _ := json.Marshal(payload)
		_ = writeEnvelope(ctx, conn, newEnvelope(typ, id, b, time.Now().UTC()), time.Second)
	}

	for {
		env, err := readEnvelope(ctx, conn)
		if err != nil {
			return
		}
		switch env.Type {
		case v1.TypeHello:
			write(v1.TypeHelloAck, "", v1.HelloAckPayload{SessionID: "s1", SelfID: 77})
			write(v1.TypeUpdates, "", v1.UpdatesPayload{Updates: []v1.UpdateFrame{{Kind: v1.UpdateChannelTooLong, ChannelID: 5, Data: json.RawMessage(`{}`)}}})

		case v1.TypeInvoke:
			var p v1.InvokePayload
			_ = json.Unmarshal(env.Payload, &p)
			n := f.hit(p.Method)
			if p.AfterID != "" {
				f.afterID.Store(p.AfterID)
			}
			switch p.Method {
			case "echo":
				write(v1.TypeResult, env.ID, v1.ResultPayload{Result: p.Params})
			case "flaky":
				if n == 1 {
					write(v1.TypeError, env.ID, v1.ErrorPayload{Code: 420, Type: "FLOOD_WAIT_0"})
					continue
				}
				write(v1.TypeResult, env.ID, v1.ResultPayload{Result: json.RawMessage(`{"ok":true}`)})
			case "flood":
				write(v1.TypeError, env.ID, v1.ErrorPayload{Code: 420, Type: "FLOOD_WAIT_3600"})
			default:
				write(v1.TypeError, env.ID, v1.ErrorPayload{Code: 400, Type: TypeMessageEmpty, Message: "empty"})
			}
		}
	}
}

func startClient(t *testing.T) (*Client, *fakeServer) {
	t.Helper()

	fs := &fakeServer{t: t}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)

	c := New(nil, Options{
		URL:          "ws" + strings.TrimPrefix(srv.URL, "http"),
		RetryRate:    1000,
		RetryBurst:   10,
		MaxAttempts:  3,
		ReconnectMin: 10 * time.Millisecond,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Run(ctx)
	}()
	t.Cleanup(func() {
		c.Close()
		cancel()
		<-done
	})
	return c, fs
}

func TestClient_InvokeRoundTrip(t *testing.T) {
	t.Parallel()

	c, _ := startClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out v1.GetMessagesRequest
	if err := c.Invoke(ctx, "echo", v1.GetMessagesRequest{PeerID: 7, IDs: []int32{1, 2}}, &out); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.PeerID != 7 || len(out.IDs) != 2 {
		t.Fatalf("Invoke()=%+v", out)
	}
	if c.SelfID() != 77 || c.SessionID() != "s1" {
		t.Fatalf("handshake self=%d session=%q", c.SelfID(), c.SessionID())
	}
	if err := c.Ready(); err != nil {
		t.Fatalf("Ready()=%v", err)
	}
}

func TestClient_RetriesTransientErrors(t *testing.T) {
	t.Parallel()

	c, fs := startClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Invoke(ctx, "flaky", nil, nil); err != nil {
		t.Fatalf("Invoke(flaky): %v", err)
	}
	if got := fs.count("flaky"); got != 2 {
		t.Fatalf("flaky attempts=%d want=2", got)
	}

	err := c.Invoke(ctx, "reject", nil, nil)
	if !IsType(err, TypeMessageEmpty) {
		t.Fatalf("Invoke(reject)=%v want %s", err, TypeMessageEmpty)
	}
	if got := fs.count("reject"); got != 1 {
		t.Fatalf("reject attempts=%d want=1", got)
	}

	// a flood wait above the cap is returned instead of slept through
	err = c.Invoke(ctx, "flood", nil, nil)
	e, ok := AsRPCError(err)
	if !ok || e.FloodWait() != time.Hour {
		t.Fatalf("Invoke(flood)=%v", err)
	}
	if got := fs.count("flood"); got != 1 {
		t.Fatalf("flood attempts=%d want=1", got)
	}
}

func TestClient_InvokeCallCarriesAfterID(t *testing.T) {
	t.Parallel()

	c, fs := startClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.InvokeCall(ctx, Call{Method: "echo", Params: 1, ID: "second", AfterID: "first"}, nil); err != nil {
		t.Fatalf("InvokeCall: %v", err)
	}
	if got, _ := fs.afterID.Load().(string); got != "first" {
		t.Fatalf("after_id=%q want=first", got)
	}
}

func TestClient_InvokeCached(t *testing.T) {
	t.Parallel()

	c, fs := startClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		var out int
		if err := c.InvokeCached(ctx, "echo", 5, &out, time.Minute); err != nil {
			t.Fatalf("InvokeCached: %v", err)
		}
		if out != 5 {
			t.Fatalf("InvokeCached()=%d want=5", out)
		}
	}
	if got := fs.count("echo"); got != 1 {
		t.Fatalf("echo calls=%d want=1", got)
	}

	c.ClearCache("echo", func(p json.RawMessage) bool { return string(p) == "5" })
	if err := c.InvokeCached(ctx, "echo", 5, nil, time.Minute); err != nil {
		t.Fatalf("InvokeCached: %v", err)
	}
	if got := fs.count("echo"); got != 2 {
		t.Fatalf("echo calls after clear=%d want=2", got)
	}
}

func TestClient_UpdatesStream(t *testing.T) {
	t.Parallel()

	c, _ := startClient(t)
	select {
	case p := <-c.Updates():
		if len(p.Updates) != 1 || p.Updates[0].Kind != v1.UpdateChannelTooLong || p.Updates[0].ChannelID != 5 {
			t.Fatalf("updates=%+v", p)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no updates delivered")
	}
}

func TestClient_Closed(t *testing.T) {
	t.Parallel()

	c := New(nil, Options{URL: "ws://127.0.0.1:1/none"}, nil)
	c.Close()
	c.Close()

	if err := c.Invoke(context.Background(), "echo", nil, nil); !errors.Is(err, ErrClosed) {
		t.Fatalf("Invoke after Close=%v want=%v", err, ErrClosed)
	}
	if err := c.Ready(); !errors.Is(err, ErrClosed) {
		t.Fatalf("Ready after Close=%v", err)
	}
}

func TestRPCError_Classification(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err       *RPCError
		transient bool
		wait      time.Duration
	}{
		{err: &RPCError{Code: 420, Type: "FLOOD_WAIT_7"}, transient: true, wait: 7 * time.Second},
		{err: &RPCError{Code: 500, Type: "INTERNAL"}, transient: true},
		{err: &RPCError{Code: 400, Type: TypeTimeout}, transient: true},
		{err: &RPCError{Code: 400, Type: TypeMessageNotModified}},
		{err: &RPCError{Code: 403, Type: TypeChannelPrivate}},
		{err: &RPCError{Code: 420, Type: "FLOOD_WAIT_x"}, transient: true},
	}
	for _, tc := range cases {
		if got := tc.err.Transient(); got != tc.transient {
			t.Fatalf("%v.Transient()=%v want=%v", tc.err, got, tc.transient)
		}
		if got := tc.err.FloodWait(); got != tc.wait {
			t.Fatalf("%v.FloodWait()=%v want=%v", tc.err, got, tc.wait)
		}
	}

	wrapped := errors.Join(errors.New("context"), &RPCError{Code: 400, Type: TypeMessageEmpty})
	if !IsType(wrapped, TypeMessageEmpty) || IsTransient(wrapped) {
		t.Fatalf("wrapped classification failed: %v", wrapped)
	}
	if !IsTransient(ErrDisconnected) {
		t.Fatalf("ErrDisconnected must be transient")
	}
}
