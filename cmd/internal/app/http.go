package app

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"chatsync/cmd/internal/engine"
	"chatsync/cmd/internal/model"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Engine is the part of the sync engine the admin API exposes.
type Engine interface {
	Dialogs() []*model.Dialog
	GetDialog(peer model.PeerID) (*model.Dialog, error)
	GetHistory(ctx context.Context, q engine.HistoryQuery) (engine.HistoryResult, error)
	SendText(ctx context.Context, peer model.PeerID, text string, opts engine.SendOptions) (*model.Message, error)
	MarkRead(ctx context.Context, peer model.PeerID, thread, maxID int64) error
	Delete(ctx context.Context, peer model.PeerID, ids []int64, revoke bool) error
	TotalUnread() int64
}

// ReadinessCheck is one dependency probed by /readyz.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

const (
	maxHistoryLimit = 100
	readyTimeout    = 2 * time.Second
)

type routerOptions struct {
	Gatherer prometheus.Gatherer
	Checks   []ReadinessCheck
	// CallTimeout bounds every /v1 request.
	CallTimeout time.Duration
}

func newRouter(log *slog.Logger, eng Engine, opts routerOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(WithRequestLogging(log))
	r.Use(WithSecurityHeaders)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Get("/readyz", readyHandler(log, opts.Checks))
	if opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	h := &handler{eng: eng}
	r.Route("/v1", func(r chi.Router) {
		if opts.CallTimeout > 0 {
			r.Use(middleware.Timeout(opts.CallTimeout))
		}
		r.Get("/dialogs", h.listDialogs)
		r.Get("/unread", h.totalUnread)
		r.Route("/peers/{peer}", func(r chi.Router) {
			r.Get("/", h.getDialog)
			r.Get("/history", h.getHistory)
			r.Post("/messages", h.sendMessage)
			r.Post("/messages/delete", h.deleteMessages)
			r.Post("/read", h.markRead)
		})
	})
	return r
}

func readyHandler(log *slog.Logger, checks []ReadinessCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()

		for _, c := range checks {
			if err := c.Check(ctx); err != nil {
				log.Info("readyz.not_ready", "check", c.Name, "err", err)
				http.Error(w, c.Name+" not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	}
}

type handler struct {
	eng Engine
}

func (h *handler) listDialogs(w http.ResponseWriter, _ *http.Request) {
	list := h.eng.Dialogs()
	out := make([]dialogView, 0, len(list))
	for _, d := range list {
		out = append(out, newDialogView(d))
	}
	writeJSON(w, http.StatusOK, map[string]any{"dialogs": out})
}

func (h *handler) totalUnread(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int64{"total_unread": h.eng.TotalUnread()})
}

func (h *handler) getDialog(w http.ResponseWriter, r *http.Request) {
	peer, ok := peerParam(w, r)
	if !ok {
		return
	}
	d, err := h.eng.GetDialog(peer)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newDialogView(d))
}

func (h *handler) getHistory(w http.ResponseWriter, r *http.Request) {
	peer, ok := peerParam(w, r)
	if !ok {
		return
	}

	q := engine.HistoryQuery{Peer: peer, Limit: 20}
	var err error
	query := r.URL.Query()
	if q.OffsetID, err = int64Query(query.Get("offset_id"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_offset_id", err.Error())
		return
	}
	if q.ThreadID, err = int64Query(query.Get("thread_id"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_thread_id", err.Error())
		return
	}
	if q.AddOffset, err = intQuery(query.Get("add_offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_add_offset", err.Error())
		return
	}
	if q.Limit, err = intQuery(query.Get("limit"), q.Limit); err != nil || q.Limit <= 0 || q.Limit > maxHistoryLimit {
		writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be between 1 and "+strconv.Itoa(maxHistoryLimit))
		return
	}
	q.Filter = strings.TrimSpace(query.Get("filter"))

	res, err := h.eng.GetHistory(r.Context(), q)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newHistoryView(res))
}

type sendRequest struct {
	Text       string `json:"text"`
	ReplyTo    int64  `json:"reply_to,omitempty"`
	ThreadID   int64  `json:"thread_id,omitempty"`
	Silent     bool   `json:"silent,omitempty"`
	NoWebpage  bool   `json:"no_webpage,omitempty"`
	ClearDraft bool   `json:"clear_draft,omitempty"`
	Schedule   int64  `json:"schedule_date,omitempty"`
}

func (h *handler) sendMessage(w http.ResponseWriter, r *http.Request) {
	peer, ok := peerParam(w, r)
	if !ok {
		return
	}
	var req sendRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	msg, err := h.eng.SendText(r.Context(), peer, req.Text, engine.SendOptions{
		ReplyTo:      req.ReplyTo,
		ThreadID:     req.ThreadID,
		Silent:       req.Silent,
		NoWebpage:    req.NoWebpage,
		ClearDraft:   req.ClearDraft,
		ScheduleDate: req.Schedule,
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMessageView(msg))
}

type deleteRequest struct {
	IDs    []int64 `json:"ids"`
	Revoke bool    `json:"revoke,omitempty"`
}

func (h *handler) deleteMessages(w http.ResponseWriter, r *http.Request) {
	peer, ok := peerParam(w, r)
	if !ok {
		return
	}
	var req deleteRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_input", "ids are required")
		return
	}
	if err := h.eng.Delete(r.Context(), peer, req.IDs, req.Revoke); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type readRequest struct {
	MaxID    int64 `json:"max_id"`
	ThreadID int64 `json:"thread_id,omitempty"`
}

func (h *handler) markRead(w http.ResponseWriter, r *http.Request) {
	peer, ok := peerParam(w, r)
	if !ok {
		return
	}
	var req readRequest
	if err := decodeJSON(w, r, maxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if err := h.eng.MarkRead(r.Context(), peer, req.ThreadID, req.MaxID); err != nil {
		writeEngineError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func peerParam(w http.ResponseWriter, r *http.Request) (model.PeerID, bool) {
	n, err := strconv.ParseInt(chi.URLParam(r, "peer"), 10, 64)
	if err != nil || n == 0 {
		writeError(w, http.StatusBadRequest, "invalid_peer", "peer must be a non-zero integer")
		return model.NoPeer, false
	}
	return model.PeerID(n), true
}

func int64Query(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func intQuery(s string, def int) (int, error) {
	if s == "" {
		return def, nil
	}
	return strconv.Atoi(s)
}
