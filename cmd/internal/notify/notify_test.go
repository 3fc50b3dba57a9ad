package notify

import (
	"strings"
	"testing"
)

func TestBus_FlushDeliversInOrder(t *testing.T) {
	t.Parallel()

	b := NewBus()
	var got []string
	cancel := b.Subscribe(func(ev Event) { got = append(got, ev.Name()) })

	b.Emit(HistoryAppend{Peer: 1})
	b.Emit(DialogUpdate{Peer: 1})
	if len(got) != 0 {
		t.Fatalf("events delivered before Flush: %v", got)
	}
	if n := b.Flush(); n != 2 {
		t.Fatalf("Flush()=%d want=2", n)
	}
	want := "history_append,dialog_update"
	if strings.Join(got, ",") != want {
		t.Fatalf("delivered=%v want=%s", got, want)
	}

	cancel()
	b.Emit(DialogUpdate{Peer: 2})
	b.Flush()
	if len(got) != 2 {
		t.Fatalf("unsubscribed handler still called: %v", got)
	}
}

func TestBatcher_CoalescesKeys(t *testing.T) {
	t.Parallel()

	views := map[string]int32{"1_10": 1}
	resolve := func(keys []string, first map[string]any) Event {
		ev := MessagesViews{}
		for _, k := range keys {
			ev.Items = append(ev.Items, ViewsItem{Views: views[k]})
		}
		return ev
	}

	b := NewBatcher()
	captures := 0
	capture := func() any { captures++; return nil }
	b.Push("views", resolve, "1_10", capture)
	views["1_10"] = 5
	b.Push("views", resolve, "1_10", capture)
	if !b.Pending() {
		t.Fatalf("Pending()=false after Push")
	}

	bus := NewBus()
	var events []Event
	bus.Subscribe(func(ev Event) { events = append(events, ev) })
	b.Flush(bus)
	bus.Flush()

	if captures != 1 {
		t.Fatalf("capture called %d times want=1", captures)
	}
	if len(events) != 1 {
		t.Fatalf("events=%d want=1", len(events))
	}
	mv := events[0].(MessagesViews)
	if len(mv.Items) != 1 || mv.Items[0].Views != 5 {
		t.Fatalf("items=%+v want one item with latest views=5", mv.Items)
	}
	if b.Pending() {
		t.Fatalf("Pending()=true after Flush")
	}
}
