package history

import (
	"slices"

	"chatsync/cmd/internal/ids"
)

// Request is one page request expressed in local ids.
type Request struct {
	OffsetID  int64
	AddOffset int
	Limit     int
	// Global marks a search across all peers; its results are not ordered by id.
	Global bool
}

// Page is a server answer expressed in local ids, newest first.
type Page struct {
	IDs            []int64
	Count          *int32
	OffsetIDOffset *int32
}

// Suspicious reports whether the server claimed an empty history while returning messages.
func (p Page) Suspicious() bool {
	return p.Count != nil && *p.Count == 0 && len(p.IDs) > 0
}

// Ends is the outcome of end-of-history detection for one page.
type Ends struct {
	Count          int32
	OffsetIDOffset int32
	IsTopEnd       bool
	IsBottomEnd    bool
	IDs            []int64

	TopWant      int
	BottomWant   int
	TopLoaded    int
	BottomLoaded int
}

// IsResultEnd decides whether page reached the oldest (top) and newest (bottom) end of the history.
//
// The decision prefers the server's offset_id_offset; without it, it compares how many ids landed on
// each side of the offset with how many were asked for; without an offset, a page holding the whole
// count reaches both ends.
func IsResultEnd(req Request, page Page) Ends {
	list := append([]int64(nil), page.IDs...)

	count := int32(len(list))
	if page.Count != nil && *page.Count != 0 {
		count = *page.Count
	}

	e := Ends{
		Count:     count,
		IDs:       list,
		TopWant:   req.Limit,
		TopLoaded: len(list),
	}
	if req.AddOffset < 0 {
		e.TopWant = req.Limit + req.AddOffset
		e.BottomWant = -req.AddOffset
	} else {
		e.BottomWant = req.AddOffset
	}

	offsetID := req.OffsetID
	if req.Global {
		offsetID = 0
	}
	e.IsBottomEnd = offsetID == 0

	serverOffset := offsetID != 0 && ids.ServerID(offsetID) != 0
	included := false
	if serverOffset {
		i := 0
		for ; i < len(list); i++ {
			if offsetID > list[i] {
				break
			}
		}
		included = slices.Contains(list, offsetID)
		e.TopLoaded = len(list) - i
		e.BottomLoaded = i
	}

	var offset *int32
	if page.OffsetIDOffset != nil {
		v := *page.OffsetIDOffset
		offset = &v
	}

	switch {
	case offset != nil:
		o := *offset
		e.IsTopEnd = o >= count-int32(e.TopWant) || count < int32(e.TopWant)
		e.IsBottomEnd = o == 0 || (req.AddOffset < 0 && o+int32(req.AddOffset) <= 0)
	case serverOffset:
		if e.TopWant > 0 {
			e.IsTopEnd = e.TopLoaded < e.TopWant
		}
		if e.BottomWant > 0 {
			e.IsBottomEnd = e.BottomLoaded < e.BottomWant
		}
		if e.IsTopEnd || e.IsBottomEnd {
			var o int32
			if e.IsTopEnd {
				o = count - int32(e.TopLoaded)
			} else {
				o = int32(e.BottomLoaded)
				if included {
					o--
				}
			}
			offset = &o
		}
	case int32(len(list)) >= count:
		e.IsTopEnd = true
		e.IsBottomEnd = true
	}

	if offset != nil {
		e.OffsetIDOffset = *offset
	}
	return e
}

// Migration describes how the requested history links to a migrated group.
type Migration struct {
	// HasPrev is set when the peer continues a basic group; its top end is never final on its own.
	HasPrev bool
	// NextFirstID is the first id of the supergroup the requested basic group became, or 0.
	NextFirstID int64
}

// Merged is the result of merging one page into a SlicedArray.
type Merged struct {
	Ends
	Slice *Slice
}

// Merge runs end detection for page, links it across a migration boundary, and inserts it into arr.
// The returned slice carries every end the page proved.
func Merge(arr *SlicedArray, req Request, page Page, mig Migration) Merged {
	e := IsResultEnd(req, page)

	if mig.HasPrev {
		e.IsTopEnd = false
	} else if mig.NextFirstID != 0 && e.IsBottomEnd {
		e.IDs = append([]int64{mig.NextFirstID}, e.IDs...)
		e.IsBottomEnd = false
	}

	// offset_id is only returned when add_offset <= -1, so the bound is added by hand
	if req.OffsetID != 0 && ids.IsServer(req.OffsetID) && !slices.Contains(e.IDs, req.OffsetID) &&
		e.OffsetIDOffset < e.Count {
		i := 0
		for ; i < len(e.IDs); i++ {
			if req.OffsetID > e.IDs[i] {
				break
			}
		}
		e.IDs = slices.Insert(e.IDs, i, req.OffsetID)
	}

	s := arr.Insert(e.IDs)
	if s == nil {
		s = emptyPageSlice(arr, req.OffsetID)
	}
	if e.IsTopEnd {
		s.SetEnd(EndTop)
	}
	if e.IsBottomEnd {
		s.SetEnd(EndBottom)
	}
	return Merged{Ends: e, Slice: s}
}

// emptyPageSlice picks the slice an empty page's ends belong to. Without an anchor the ends are not
// recorded.
func emptyPageSlice(arr *SlicedArray, offsetID int64) *Slice {
	if offsetID == 0 {
		return arr.First()
	}
	if s, _ := arr.FindSlice(offsetID); s != nil {
		return s
	}
	return &Slice{}
}
