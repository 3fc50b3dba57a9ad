// Package history is the per-peer index of cached message ids.
//
// A history is a SlicedArray: a set of disjoint slices, each a contiguous run of ids sorted newest
// first. A slice boundary is only known to be the end of the history when it carries an end marker;
// everything else is "not fetched yet".
package history

import "sort"

// SliceEnd marks which boundaries of a slice are the real ends of the history.
type SliceEnd uint8

const (
	EndNone SliceEnd = 0
	// EndTop marks the oldest end.
	EndTop SliceEnd = 1 << 0
	// EndBottom marks the newest end.
	EndBottom SliceEnd = 1 << 1
	EndBoth            = EndTop | EndBottom
)

func (e SliceEnd) String() string {
	switch e {
	case EndTop:
		return "top"
	case EndBottom:
		return "bottom"
	case EndBoth:
		return "both"
	default:
		return "none"
	}
}

// Slice is a contiguous run of ids, newest first.
type Slice struct {
	IDs []int64
	End SliceEnd
}

// Len returns the number of ids.
func (s *Slice) Len() int { return len(s.IDs) }

// IsEnd reports whether every bit of e is set.
func (s *Slice) IsEnd(e SliceEnd) bool { return s.End&e == e }

// SetEnd marks e.
func (s *Slice) SetEnd(e SliceEnd) { s.End |= e }

// UnsetEnd clears e.
func (s *Slice) UnsetEnd(e SliceEnd) { s.End &^= e }

// Newest returns the newest id or 0.
func (s *Slice) Newest() int64 {
	if len(s.IDs) == 0 {
		return 0
	}
	return s.IDs[0]
}

// Oldest returns the oldest id or 0.
func (s *Slice) Oldest() int64 {
	if len(s.IDs) == 0 {
		return 0
	}
	return s.IDs[len(s.IDs)-1]
}

// IndexOf returns the position of id or -1.
func (s *Slice) IndexOf(id int64) int {
	i := s.offsetOf(id)
	if i < len(s.IDs) && s.IDs[i] == id {
		return i
	}
	return -1
}

// Includes reports whether the slice holds id.
func (s *Slice) Includes(id int64) bool { return s.IndexOf(id) >= 0 }

// offsetOf returns the first position whose id is <= id.
func (s *Slice) offsetOf(id int64) int {
	return sort.Search(len(s.IDs), func(i int) bool { return s.IDs[i] <= id })
}

// covers reports whether the gap right below id falls inside what the slice knows.
func (s *Slice) covers(id int64) bool {
	if len(s.IDs) == 0 {
		return s.End == EndBoth
	}
	upper := id <= s.IDs[0] || s.IsEnd(EndBottom)
	lower := id >= s.IDs[len(s.IDs)-1] || s.IsEnd(EndTop)
	return upper && lower
}

// Clone copies the slice.
func (s *Slice) Clone() *Slice {
	return &Slice{IDs: append([]int64(nil), s.IDs...), End: s.End}
}

// SlicedArray is a history index. The first slice (index 0) always exists and is the one new
// messages are appended to.
type SlicedArray struct {
	slices []*Slice
}

// NewSlicedArray returns an array holding one empty first slice.
func NewSlicedArray() *SlicedArray {
	return &SlicedArray{slices: []*Slice{{}}}
}

// First returns the newest slice.
func (a *SlicedArray) First() *Slice { return a.slices[0] }

// Last returns the oldest slice.
func (a *SlicedArray) Last() *Slice { return a.slices[len(a.slices)-1] }

// Slices returns the slices, newest first. Callers must not modify the result.
func (a *SlicedArray) Slices() []*Slice { return a.slices }

// Len returns the total number of cached ids.
func (a *SlicedArray) Len() int {
	n := 0
	for _, s := range a.slices {
		n += len(s.IDs)
	}
	return n
}

// FindSlice returns the slice holding id and the position of id in it.
func (a *SlicedArray) FindSlice(id int64) (*Slice, int) {
	for _, s := range a.slices {
		if i := s.IndexOf(id); i >= 0 {
			return s, i
		}
	}
	return nil, -1
}

// Includes reports whether any slice holds id.
func (a *SlicedArray) Includes(id int64) bool {
	s, _ := a.FindSlice(id)
	return s != nil
}

// Insert merges a page of ids into the array and returns the slice now holding them. Ids may come
// in any order; duplicates are dropped. Slices overlapping the page are merged into one.
func (a *SlicedArray) Insert(page []int64) *Slice {
	ids := normalize(page)
	if len(ids) == 0 {
		return nil
	}
	merged := &Slice{IDs: ids}

	// an empty first slice is a placeholder; a page newer than everything else takes its place
	replaceFirst := len(a.slices[0].IDs) == 0 &&
		(len(a.slices) == 1 || merged.Newest() > a.slices[1].Newest())

	keep := make([]*Slice, 0, len(a.slices)+1)
	for i, s := range a.slices {
		if i == 0 && replaceFirst {
			continue
		}
		if len(s.IDs) > 0 && s.Oldest() <= merged.Newest() && s.Newest() >= merged.Oldest() {
			merged = mergeSlices(merged, s)
			continue
		}
		keep = append(keep, s)
	}
	a.slices = append(keep, merged)
	a.sort()
	return merged
}

// sort orders slices newest first. An empty first slice stays in front.
func (a *SlicedArray) sort() {
	rest := a.slices
	if len(rest) > 1 && len(rest[0].IDs) == 0 {
		rest = rest[1:]
	}
	sort.SliceStable(rest, func(i, j int) bool { return rest[i].Newest() > rest[j].Newest() })
}

// Unshift appends the newest ids to the bottom of the history. If the first slice is not known to
// reach the bottom a new bottom slice is started, leaving the gap unfetched.
func (a *SlicedArray) Unshift(ids ...int64) {
	if len(ids) == 0 {
		return
	}
	first := a.slices[0]
	switch {
	case len(first.IDs) == 0:
		first.SetEnd(EndBottom)
	case !first.IsEnd(EndBottom):
		first = &Slice{End: EndBottom}
		a.slices = append([]*Slice{first}, a.slices...)
	}
	for _, id := range ids {
		a.insertSorted(first, id)
	}
}

// InsertSorted places id into the first slice at its ordered position.
func (a *SlicedArray) InsertSorted(id int64) {
	a.insertSorted(a.slices[0], id)
}

func (a *SlicedArray) insertSorted(s *Slice, id int64) {
	i := s.offsetOf(id)
	if i < len(s.IDs) && s.IDs[i] == id {
		return
	}
	s.IDs = append(s.IDs, 0)
	copy(s.IDs[i+1:], s.IDs[i:])
	s.IDs[i] = id
}

// Push appends older ids to the oldest slice.
func (a *SlicedArray) Push(ids ...int64) {
	last := a.Last()
	for _, id := range ids {
		a.insertSorted(last, id)
	}
}

// Delete removes id. A slice left empty is dropped unless it is the first one. Deleting a missing
// id is a no-op and reports false.
func (a *SlicedArray) Delete(id int64) bool {
	for i, s := range a.slices {
		j := s.IndexOf(id)
		if j < 0 {
			continue
		}
		s.IDs = append(s.IDs[:j], s.IDs[j+1:]...)
		if len(s.IDs) == 0 && i != 0 {
			a.slices = append(a.slices[:i], a.slices[i+1:]...)
		}
		return true
	}
	return false
}

// DeleteSlice removes s. The array always keeps a first slice.
func (a *SlicedArray) DeleteSlice(s *Slice) {
	for i, cur := range a.slices {
		if cur == s {
			a.slices = append(a.slices[:i], a.slices[i+1:]...)
			break
		}
	}
	if len(a.slices) == 0 {
		a.slices = []*Slice{{}}
	}
}

// FindSliceOffset returns the slice covering the position right below offsetID and the index of the
// first id older than offsetID in it. offsetID 0 means "from the newest message" and is only
// covered by a first slice that reaches the bottom.
func (a *SlicedArray) FindSliceOffset(offsetID int64) (*Slice, int) {
	if offsetID == 0 {
		first := a.slices[0]
		if first.IsEnd(EndBottom) || (len(first.IDs) == 0 && first.End == EndBoth) {
			return first, 0
		}
		return nil, -1
	}
	for _, s := range a.slices {
		if !s.covers(offsetID) {
			continue
		}
		i := s.offsetOf(offsetID)
		if i < len(s.IDs) && s.IDs[i] == offsetID {
			i++
		}
		return s, i
	}
	return nil, -1
}

// Window is a page cut from the cache.
type Window struct {
	IDs []int64
	// End holds the ends of history the page reaches.
	End SliceEnd
	// OffsetIDOffset is the number of cached ids newer than the offset.
	OffsetIDOffset int
	// Fulfilled holds the sides the cache could fully serve.
	Fulfilled SliceEnd
}

// SliceMe cuts the window (offsetID, addOffset, limit) from the cache. Offsets follow the server's
// semantics: offsetID itself is excluded unless addOffset <= -1, and negative addOffset extends the
// window towards newer messages. ok is false when no slice covers offsetID.
func (a *SlicedArray) SliceMe(offsetID int64, addOffset, limit int) (w Window, ok bool) {
	s, offset := a.FindSliceOffset(offsetID)
	if s == nil {
		return Window{}, false
	}

	start := offset + addOffset
	end := start + limit
	from, to := max(start, 0), min(end, len(s.IDs))
	if from > to {
		from = to
	}
	w.IDs = append([]int64(nil), s.IDs[from:to]...)
	w.OffsetIDOffset = offset

	if end <= len(s.IDs) {
		w.Fulfilled |= EndTop
	}
	if end >= len(s.IDs) && s.IsEnd(EndTop) {
		w.Fulfilled |= EndTop
		w.End |= EndTop
	}
	if start >= 0 {
		w.Fulfilled |= EndBottom
	}
	if start <= 0 && s.IsEnd(EndBottom) {
		w.Fulfilled |= EndBottom
		w.End |= EndBottom
	}
	return w, true
}

// Served reports whether the window can answer a request for limit ids without the network.
func (w Window) Served(limit int) bool {
	return len(w.IDs) == limit || w.Fulfilled == EndBoth
}

func normalize(page []int64) []int64 {
	out := make([]int64, 0, len(page))
	for _, id := range page {
		if id > 0 {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}

// mergeSlices unions two overlapping slices. Each end marker comes from the side that extends
// furthest in that direction.
func mergeSlices(x, y *Slice) *Slice {
	ids := normalize(append(append([]int64(nil), x.IDs...), y.IDs...))
	out := &Slice{IDs: ids}

	switch {
	case x.Newest() > y.Newest():
		out.End |= x.End & EndBottom
	case y.Newest() > x.Newest():
		out.End |= y.End & EndBottom
	default:
		out.End |= (x.End | y.End) & EndBottom
	}
	switch {
	case x.Oldest() < y.Oldest():
		out.End |= x.End & EndTop
	case y.Oldest() < x.Oldest():
		out.End |= y.End & EndTop
	default:
		out.End |= (x.End | y.End) & EndTop
	}
	return out
}
