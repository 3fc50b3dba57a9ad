// Package media is the pass-through boundary to photo/document/poll managers.
package media

import (
	"strings"
	"sync"

	"chatsync/cmd/internal/model"
	v1 "chatsync/shared/contracts/sync/v1"
)

// Manager turns raw media payloads into local handles and back.
type Manager interface {
	Save(raw v1.Media) *model.MediaHandle
	Get(ref string) (*model.MediaHandle, bool)
	Input(h *model.MediaHandle) v1.Media
}

// Registry is the in-memory Manager: one handle per (kind, id), updated in place on re-save.
type Registry struct {
	mu      sync.Mutex
	handles map[string]*model.MediaHandle
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{handles: make(map[string]*model.MediaHandle)}
}

// Save implements Manager.
func (r *Registry) Save(raw v1.Media) *model.MediaHandle {
	ref := raw.Kind + ":" + raw.ID
	if raw.ID == "" {
		return &model.MediaHandle{Kind: raw.Kind, Attr: copyAttr(raw.Attr)}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	h := r.handles[ref]
	if h == nil {
		h = &model.MediaHandle{Kind: raw.Kind, Ref: ref}
		r.handles[ref] = h
	}
	if len(raw.Attr) > 0 {
		h.Attr = copyAttr(raw.Attr)
	}
	return h
}

// Get implements Manager.
func (r *Registry) Get(ref string) (*model.MediaHandle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.handles[ref]
	return h, ok
}

// Input implements Manager.
func (r *Registry) Input(h *model.MediaHandle) v1.Media {
	if h == nil {
		return v1.Media{}
	}
	_, id, _ := strings.Cut(h.Ref, ":")
	return v1.Media{Kind: h.Kind, ID: id, Attr: copyAttr(h.Attr)}
}

func copyAttr(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
