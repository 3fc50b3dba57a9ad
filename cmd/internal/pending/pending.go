// Package pending tracks outgoing messages between the optimistic insert and the server's answer.
//
// Every send moves through
//
//	Composing -> Sent -> Confirmed | Failed | Cancelled
//
// A record is keyed by the random correlation id the client chose; the server echoes it back in a
// message-id update, which binds the final id to the record before the confirmed message arrives.
package pending

import (
	"errors"
	"fmt"
	"sort"

	"chatsync/cmd/internal/model"
	"chatsync/cmd/internal/store"
)

// State is the lifecycle state of an outgoing message.
type State uint8

const (
	Composing State = iota
	Sent
	Confirmed
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Composing:
		return "composing"
	case Sent:
		return "sent"
	case Confirmed:
		return "confirmed"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

var (
	ErrDuplicate  = errors.New("pending: duplicate correlation id")
	ErrNotFound   = errors.New("pending: unknown correlation id")
	ErrTransition = errors.New("pending: invalid state transition")
)

// Request is what it takes to (re)send a message: the RPC method and its parameters.
type Request struct {
	Method string
	Params any
}

// Record is one outgoing message.
type Record struct {
	RandomID   int64
	Peer       model.PeerID
	TempID     int64
	ThreadID   int64
	Storage    store.Key
	Sequential bool
	State      State

	// CallID is the envelope id of the send call; later sequential sends run after it.
	CallID  string
	Request Request
	// FinalID is the confirmed local id once the server bound it.
	FinalID int64
	Err     error
}

// Callback runs once the message behind a temporary id is confirmed.
type Callback func(msg *model.Message)

// Tracker holds the in-flight records. It is not safe for concurrent use.
type Tracker struct {
	byRandom    map[int64]*Record
	byMessageID map[int64]int64
	failed      map[int64]*Record
	after       map[int64][]Callback
}

// NewTracker constructs an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{
		byRandom:    make(map[int64]*Record),
		byMessageID: make(map[int64]int64),
		failed:      make(map[int64]*Record),
		after:       make(map[int64][]Callback),
	}
}

// Add registers a composed message.
func (t *Tracker) Add(r *Record) error {
	if r == nil || r.RandomID == 0 {
		return ErrNotFound
	}
	if _, ok := t.byRandom[r.RandomID]; ok {
		return ErrDuplicate
	}
	r.State = Composing
	t.byRandom[r.RandomID] = r
	delete(t.failed, r.TempID)
	return nil
}

// MarkSent moves a record to Sent once its call went out.
func (t *Tracker) MarkSent(randomID int64, callID string) error {
	r := t.byRandom[randomID]
	if r == nil {
		return ErrNotFound
	}
	if r.State != Composing && r.State != Sent {
		return ErrTransition
	}
	r.State = Sent
	r.CallID = callID
	return nil
}

// Get returns the in-flight record of randomID or nil.
func (t *Tracker) Get(randomID int64) *Record { return t.byRandom[randomID] }

// ByTempID returns the in-flight record owning tempID or nil.
func (t *Tracker) ByTempID(peer model.PeerID, tempID int64) *Record {
	for _, r := range t.byRandom {
		if r.Peer == peer && r.TempID == tempID {
			return r
		}
	}
	return nil
}

// Bind records the confirmed id the server assigned to randomID and reports whether the record
// is known.
func (t *Tracker) Bind(randomID, finalID int64) bool {
	r := t.byRandom[randomID]
	if r == nil {
		return false
	}
	r.FinalID = finalID
	t.byMessageID[finalID] = randomID
	return true
}

// ByMessageID returns the record a confirmed message finalizes, if the server bound one.
func (t *Tracker) ByMessageID(finalID int64) *Record {
	rid, ok := t.byMessageID[finalID]
	if !ok {
		return nil
	}
	return t.byRandom[rid]
}

// After registers cb to run when the message behind tempID is settled. A send that fails or is
// cancelled passes nil.
func (t *Tracker) After(tempID int64, cb Callback) {
	t.after[tempID] = append(t.after[tempID], cb)
}

// Finalize removes the record as Confirmed and returns it with the callbacks waiting on it.
func (t *Tracker) Finalize(randomID int64) (*Record, []Callback) {
	r := t.remove(randomID)
	if r == nil {
		return nil, nil
	}
	r.State = Confirmed
	return r, t.takeAfter(r.TempID)
}

func (t *Tracker) takeAfter(tempID int64) []Callback {
	cbs := t.after[tempID]
	delete(t.after, tempID)
	return cbs
}

// Fail removes the record as Failed and parks it for a retry. The callbacks waiting on it are
// returned.
func (t *Tracker) Fail(randomID int64, err error) (*Record, []Callback) {
	r := t.remove(randomID)
	if r == nil {
		return nil, nil
	}
	r.State = Failed
	r.Err = err
	t.failed[r.TempID] = r
	return r, t.takeAfter(r.TempID)
}

// Cancel removes an in-flight or failed record as Cancelled and returns the callbacks waiting on it.
func (t *Tracker) Cancel(randomID int64) (*Record, []Callback) {
	r := t.remove(randomID)
	if r == nil {
		for temp, f := range t.failed {
			if f.RandomID == randomID {
				r = f
				delete(t.failed, temp)
				break
			}
		}
	}
	if r == nil {
		return nil, nil
	}
	r.State = Cancelled
	return r, t.takeAfter(r.TempID)
}

// TakeFailed removes and returns the failed record of tempID so it can be sent again.
func (t *Tracker) TakeFailed(tempID int64) *Record {
	r := t.failed[tempID]
	if r != nil {
		delete(t.failed, tempID)
	}
	return r
}

// Failed returns the failed record of tempID or nil.
func (t *Tracker) Failed(tempID int64) *Record { return t.failed[tempID] }

// LastSequential returns the newest in-flight sequential send of peer, the one the next sequential
// send must run after.
func (t *Tracker) LastSequential(peer model.PeerID) *Record {
	var last *Record
	for _, r := range t.byRandom {
		if r.Peer != peer || !r.Sequential || r.CallID == "" {
			continue
		}
		if last == nil || r.TempID > last.TempID {
			last = r
		}
	}
	return last
}

// Pending returns the in-flight records of peer, oldest first.
func (t *Tracker) Pending(peer model.PeerID) []*Record {
	var out []*Record
	for _, r := range t.byRandom {
		if r.Peer == peer {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TempID < out[j].TempID })
	return out
}

// Len returns the number of in-flight records.
func (t *Tracker) Len() int { return len(t.byRandom) }

func (t *Tracker) remove(randomID int64) *Record {
	r := t.byRandom[randomID]
	if r == nil {
		return nil
	}
	delete(t.byRandom, randomID)
	if r.FinalID != 0 {
		delete(t.byMessageID, r.FinalID)
	}
	return r
}
