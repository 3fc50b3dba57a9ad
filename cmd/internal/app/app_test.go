package app

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	v1 "chatsync/shared/contracts/sync/v1"

	"chatsync/cmd/internal/engine"
	"chatsync/cmd/internal/history"
	"chatsync/cmd/internal/model"
	"chatsync/cmd/internal/transport"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	mu sync.Mutex

	dialogs []*model.Dialog
	history engine.HistoryResult
	sendErr error

	lastQuery  engine.HistoryQuery
	sent       []string
	sendOpts   engine.SendOptions
	read       [][3]int64
	deleted    []int64
	applied    int
	reconciled int
}

func (f *fakeEngine) Dialogs() []*model.Dialog { return f.dialogs }

func (f *fakeEngine) GetDialog(peer model.PeerID) (*model.Dialog, error) {
	for _, d := range f.dialogs {
		if d.PeerID == peer {
			return d, nil
		}
	}
	return nil, &engine.OpError{Op: "engine.GetDialog", Kind: engine.ErrNotFound}
}

func (f *fakeEngine) GetHistory(_ context.Context, q engine.HistoryQuery) (engine.HistoryResult, error) {
	f.lastQuery = q
	return f.history, nil
}

func (f *fakeEngine) SendText(_ context.Context, peer model.PeerID, text string, opts engine.SendOptions) (*model.Message, error) {
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	f.sent = append(f.sent, text)
	f.sendOpts = opts
	return &model.Message{ID: 77, PeerID: peer, Text: text, Flags: model.FlagOut | model.FlagPending}, nil
}

func (f *fakeEngine) MarkRead(_ context.Context, peer model.PeerID, thread, maxID int64) error {
	f.read = append(f.read, [3]int64{int64(peer), thread, maxID})
	return nil
}

func (f *fakeEngine) Delete(_ context.Context, _ model.PeerID, ids []int64, _ bool) error {
	f.deleted = append(f.deleted, ids...)
	return nil
}

func (f *fakeEngine) TotalUnread() int64 { return 4 }

func (f *fakeEngine) Apply(v1.UpdatesPayload) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.applied++
}

func (f *fakeEngine) Reconcile(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconciled++
	return 0, nil
}

func (f *fakeEngine) counts() (applied, reconciled int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.applied, f.reconciled
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func serve(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRouter_Dialogs(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{dialogs: []*model.Dialog{
		{PeerID: 7, TopMessage: 1 << 20, UnreadCount: 2, Pinned: true},
		{PeerID: -500, TopMessage: 3 << 20},
	}}
	h := newRouter(discardLogger(), eng, routerOptions{})

	rr := serve(t, h, http.MethodGet, "/v1/dialogs", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "no-store", rr.Header().Get("Cache-Control"))

	var out struct {
		Dialogs []dialogView `json:"dialogs"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Len(t, out.Dialogs, 2)
	require.Equal(t, int64(7), out.Dialogs[0].PeerID)
	require.Equal(t, int32(2), out.Dialogs[0].UnreadCount)
	require.True(t, out.Dialogs[0].Pinned)

	rr = serve(t, h, http.MethodGet, "/v1/peers/9/", "")
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Contains(t, rr.Body.String(), `"not_found"`)

	rr = serve(t, h, http.MethodGet, "/v1/unread", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"total_unread":4}`, rr.Body.String())
}

func TestRouter_History(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{history: engine.HistoryResult{
		Count: 2,
		IDs:   []int64{2 << 20, 1 << 20},
		End:   history.EndBoth,
		Messages: []*model.Message{
			{ID: 2 << 20, PeerID: 7, Text: "b", Flags: model.FlagUnread},
			{ID: 1 << 20, PeerID: 7, Text: "a"},
		},
	}}
	h := newRouter(discardLogger(), eng, routerOptions{})

	rr := serve(t, h, http.MethodGet, "/v1/peers/7/history?limit=10&offset_id=99&add_offset=-5", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, engine.HistoryQuery{Peer: 7, Limit: 10, OffsetID: 99, AddOffset: -5}, eng.lastQuery)

	var out historyView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Equal(t, int32(2), out.Count)
	require.True(t, out.TopEnd)
	require.True(t, out.BottomEnd)
	require.Len(t, out.Messages, 2)
	require.True(t, out.Messages[0].Unread)

	rr = serve(t, h, http.MethodGet, "/v1/peers/7/history?limit=1000", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(t, h, http.MethodGet, "/v1/peers/abc/history", "")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "invalid_peer")
}

func TestRouter_Send(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	h := newRouter(discardLogger(), eng, routerOptions{})

	rr := serve(t, h, http.MethodPost, "/v1/peers/7/messages", `{"text":"hi","silent":true,"reply_to":5}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	require.Equal(t, []string{"hi"}, eng.sent)
	require.True(t, eng.sendOpts.Silent)
	require.Equal(t, int64(5), eng.sendOpts.ReplyTo)

	var out messageView
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &out))
	require.Equal(t, int64(77), out.ID)
	require.True(t, out.Pending)
	require.True(t, out.Out)

	rr = serve(t, h, http.MethodPost, "/v1/peers/7/messages", `{"text":"hi","bogus":1}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "invalid_json")
}

func TestRouter_SendErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		code int
		want string
	}{
		{err: &engine.OpError{Op: "engine.SendText", Kind: engine.ErrEmptyMessage}, code: http.StatusBadRequest, want: "empty_message"},
		{err: engine.ErrClosed, code: http.StatusServiceUnavailable, want: "unavailable"},
		{err: transport.ErrDisconnected, code: http.StatusServiceUnavailable, want: "unavailable"},
		{err: &transport.RPCError{Code: 403, Type: "CHAT_WRITE_FORBIDDEN"}, code: http.StatusBadGateway, want: "CHAT_WRITE_FORBIDDEN"},
		{err: errors.New("boom"), code: http.StatusBadGateway, want: "upstream_error"},
	}
	for _, tc := range cases {
		h := newRouter(discardLogger(), &fakeEngine{sendErr: tc.err}, routerOptions{})
		rr := serve(t, h, http.MethodPost, "/v1/peers/7/messages", `{"text":"x"}`)
		require.Equal(t, tc.code, rr.Code, "err %v", tc.err)
		require.Contains(t, rr.Body.String(), tc.want)
	}
}

func TestRouter_ReadAndDelete(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	h := newRouter(discardLogger(), eng, routerOptions{})

	rr := serve(t, h, http.MethodPost, "/v1/peers/-500/read", `{"max_id":42}`)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, [][3]int64{{-500, 0, 42}}, eng.read)

	rr = serve(t, h, http.MethodPost, "/v1/peers/7/messages/delete", `{"ids":[1,2]}`)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, []int64{1, 2}, eng.deleted)

	rr = serve(t, h, http.MethodPost, "/v1/peers/7/messages/delete", `{"ids":[]}`)
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRouter_ProbesAndMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	probe := prometheus.NewCounter(prometheus.CounterOpts{Name: "chatsync_probe_total", Help: "probe"})
	reg.MustRegister(probe)
	probe.Inc()

	var failing bool
	h := newRouter(discardLogger(), &fakeEngine{}, routerOptions{
		Gatherer: reg,
		Checks: []ReadinessCheck{{Name: "readmodel", Check: func(context.Context) error {
			if failing {
				return errors.New("down")
			}
			return nil
		}}},
	})

	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/healthz", "").Code)
	require.Equal(t, http.StatusOK, serve(t, h, http.MethodGet, "/readyz", "").Code)

	failing = true
	rr := serve(t, h, http.MethodGet, "/readyz", "")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	require.Contains(t, rr.Body.String(), "readmodel not ready")

	rr = serve(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "chatsync_probe_total 1")
}

func TestPumpUpdates(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	ch := make(chan v1.UpdatesPayload, 3)
	ch <- v1.UpdatesPayload{}
	ch <- v1.UpdatesPayload{}
	close(ch)

	require.NoError(t, pumpUpdates(context.Background(), ch, eng))
	applied, _ := eng.counts()
	require.Equal(t, 2, applied)
}

func TestReconcileLoop_Kick(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	kick := make(chan struct{}, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- reconcileLoop(ctx, discardLogger(), "", eng, kick, time.Now) }()

	kick <- struct{}{}
	require.Eventually(t, func() bool {
		_, n := eng.counts()
		return n == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
