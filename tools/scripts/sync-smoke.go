// Package main provides a CI-friendly smoke test for a server speaking the chatsync RPC protocol.
//
// It validates:
//   - handshake + subprotocol selection
//   - hello/ack session establishment
//   - messages.getPeerDialogs round trip
//   - messages.getHistory round trip and descending id order
//   - rpc_error answers keep the envelope id
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "chatsync/shared/contracts/sync/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 4 << 20

type smokeClient struct {
	conn      *websocket.Conn
	sessionID string
	selfID    int64

	inbox chan v1.Envelope
	errCh chan error
	seq   int
}

func main() {
	var (
		wsURL    = flag.String("url", "ws://127.0.0.1:8080/rpc", "sync server WebSocket URL")
		clientID = flag.String("client-id", "chatsync-smoke", "client id sent in hello")
		peer     = flag.Int64("peer", 0, "peer to fetch dialog and history for")
		limit    = flag.Int("limit", 20, "history page size")
		timeout  = flag.Duration("timeout", 7*time.Second, "per-step timeout")
		verbose  = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if *peer == 0 {
		fatalf("-peer is required")
	}

	root := context.Background()
	c := mustConnect(root, *wsURL, *clientID, *timeout)
	defer func() { _ = c.conn.Close(websocket.StatusNormalClosure, "done") }()
	if *verbose {
		fmt.Printf("connected: session=%s self=%d\n", c.sessionID, c.selfID)
	}

	var dialogs v1.PeerDialogsResponse
	c.mustInvoke(root, v1.MethodGetPeerDialogs, v1.GetPeerDialogsRequest{PeerIDs: []int64{*peer}}, &dialogs, *timeout)
	if len(dialogs.Dialogs) == 0 {
		fatalf("getPeerDialogs: no dialog for peer %d", *peer)
	}
	d := dialogs.Dialogs[0]
	if d.PeerID != *peer {
		fatalf("getPeerDialogs: peer mismatch: got=%d want=%d", d.PeerID, *peer)
	}

	var hist v1.MessagesResponse
	c.mustInvoke(root, v1.MethodGetHistory, v1.GetHistoryRequest{PeerID: *peer, Limit: *limit}, &hist, *timeout)
	for i := 1; i < len(hist.Messages); i++ {
		if hist.Messages[i].ID >= hist.Messages[i-1].ID {
			fatalf("getHistory: ids not descending at %d: %d >= %d", i, hist.Messages[i].ID, hist.Messages[i-1].ID)
		}
	}
	if len(hist.Messages) > 0 && hist.Messages[0].ID > d.TopMessage {
		fatalf("getHistory: newest id %d above dialog top %d", hist.Messages[0].ID, d.TopMessage)
	}

	c.mustFail(root, "smoke.unknownMethod", *timeout)

	count := len(hist.Messages)
	if hist.Count != nil {
		count = int(*hist.Count)
	}
	fmt.Printf("OK: session=%s peer=%d top=%d history_count=%d page=%d\n", c.sessionID, *peer, d.TopMessage, count, len(hist.Messages))
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, wsURL, clientID string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect: %v", err)
	}
	if got := conn.Subprotocol(); got != "" && got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		conn:  conn,
		inbox: make(chan v1.Envelope, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	c.mustWrite(parent, v1.TypeHello, "hello", v1.HelloPayload{ClientID: clientID}, stepTimeout)
	ack := c.mustReadUntil(parent, stepTimeout, func(env v1.Envelope) bool { return env.Type == v1.TypeHelloAck })

	var p v1.HelloAckPayload
	if err := json.Unmarshal(ack.Payload, &p); err != nil {
		fatalf("unmarshal hello_ack payload: %v", err)
	}
	if strings.TrimSpace(p.SessionID) == "" {
		fatalf("hello_ack missing session_id")
	}
	c.sessionID, c.selfID = p.SessionID, p.SelfID
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)
		for {
			_, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				c.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				c.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}
			select {
			case c.inbox <- env:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) nextID(prefix string) string {
	c.seq++
	return fmt.Sprintf("smoke-%s-%d", prefix, c.seq)
}

func (c *smokeClient) mustWrite(parent context.Context, typ, id string, payload any, stepTimeout time.Duration) {
	env := v1.Envelope{V: v1.Version, Type: typ, ID: id, TS: time.Now().UTC(), Payload: mustJSON(payload)}
	b := mustJSON(env)

	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, b); err != nil {
		fatalf("write %s: %v", typ, err)
	}
}

// mustReadUntil returns the first envelope accepted by match. Pushed updates are skipped.
func (c *smokeClient) mustReadUntil(parent context.Context, stepTimeout time.Duration, match func(v1.Envelope) bool) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for answer")
		case err := <-c.errCh:
			fatalf("read: %v", err)
		case env, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed")
			}
			if match(env) {
				return env
			}
		}
	}
}

func (c *smokeClient) call(parent context.Context, method string, params any, stepTimeout time.Duration) v1.Envelope {
	id := c.nextID("call")
	c.mustWrite(parent, v1.TypeInvoke, id, v1.InvokePayload{Method: method, Params: mustJSON(params)}, stepTimeout)
	return c.mustReadUntil(parent, stepTimeout, func(env v1.Envelope) bool {
		return env.ID == id && (env.Type == v1.TypeResult || env.Type == v1.TypeError)
	})
}

func (c *smokeClient) mustInvoke(parent context.Context, method string, params, out any, stepTimeout time.Duration) {
	env := c.call(parent, method, params, stepTimeout)
	if env.Type == v1.TypeError {
		var p v1.ErrorPayload
		_ = json.Unmarshal(env.Payload, &p)
		fatalf("%s: rpc_error %d %s %s", method, p.Code, p.Type, p.Message)
	}
	var p v1.ResultPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("%s: unmarshal result: %v", method, err)
	}
	if err := json.Unmarshal(p.Result, out); err != nil {
		fatalf("%s: decode result: %v", method, err)
	}
}

func (c *smokeClient) mustFail(parent context.Context, method string, stepTimeout time.Duration) {
	env := c.call(parent, method, struct{}{}, stepTimeout)
	if env.Type != v1.TypeError {
		fatalf("%s: expected rpc_error, got %s", method, env.Type)
	}
	var p v1.ErrorPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.Type == "" {
		fatalf("%s: rpc_error without type", method)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		fatalf("marshal: %v", err)
	}
	return b
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
