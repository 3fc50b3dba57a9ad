package updates

import "sync"

// Verdict is the sequencer's decision for one frame.
type Verdict uint8

const (
	// Apply means the frame is the next one in order.
	Apply Verdict = iota
	// Duplicate means the frame was already applied.
	Duplicate
	// Gap means frames are missing before this one; the affected peer must be reloaded.
	Gap
)

func (v Verdict) String() string {
	switch v {
	case Apply:
		return "apply"
	case Duplicate:
		return "duplicate"
	default:
		return "gap"
	}
}

// Sequencer tracks the pts of the common box (channel 0) and of every channel.
type Sequencer struct {
	mu  sync.Mutex
	pts map[int64]int32
}

// NewSequencer constructs an empty Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{pts: make(map[int64]int32)}
}

// Check decides what to do with a frame carrying (pts, ptsCount) for channelID. Frames without
// pts are always applied. The first frame seen for a box seeds it. A gap moves the box to pts, so
// the reload it triggers is the only recovery attempted.
func (s *Sequencer) Check(channelID int64, pts, ptsCount int32) Verdict {
	if pts == 0 {
		return Apply
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.pts[channelID]
	if !ok {
		s.pts[channelID] = pts
		return Apply
	}
	switch {
	case cur+ptsCount == pts:
		s.pts[channelID] = pts
		return Apply
	case cur+ptsCount > pts:
		return Duplicate
	default:
		s.pts[channelID] = pts
		return Gap
	}
}

// Set seeds the pts of a box, e.g. from a reloaded dialog.
func (s *Sequencer) Set(channelID int64, pts int32) {
	if pts <= 0 {
		return
	}
	s.mu.Lock()
	s.pts[channelID] = pts
	s.mu.Unlock()
}

// Pts returns the current pts of a box.
func (s *Sequencer) Pts(channelID int64) (int32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.pts[channelID]
	return v, ok
}

// Forget drops a box (channel left or forbidden).
func (s *Sequencer) Forget(channelID int64) {
	s.mu.Lock()
	delete(s.pts, channelID)
	s.mu.Unlock()
}
