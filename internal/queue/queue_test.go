package queue

import "testing"

func TestEnqueueFillsCurrentThenNextThenQueued(t *testing.T) {
	m := New()

	if slot := m.Enqueue(Entry{QueueEntryID: "a"}); slot != Current {
		t.Fatalf("first enqueue slot = %v, want Current", slot)
	}
	if slot := m.Enqueue(Entry{QueueEntryID: "b"}); slot != Next {
		t.Fatalf("second enqueue slot = %v, want Next", slot)
	}
	if slot := m.Enqueue(Entry{QueueEntryID: "c"}); slot != Queued {
		t.Fatalf("third enqueue slot = %v, want Queued", slot)
	}
	if slot := m.Enqueue(Entry{QueueEntryID: "d"}); slot != Queued {
		t.Fatalf("fourth enqueue slot = %v, want Queued", slot)
	}

	snap := m.Snapshot()
	if snap.Current == nil || snap.Current.QueueEntryID != "a" {
		t.Errorf("current = %+v, want a", snap.Current)
	}
	if snap.Next == nil || snap.Next.QueueEntryID != "b" {
		t.Errorf("next = %+v, want b", snap.Next)
	}
	if len(snap.Queued) != 2 || snap.Queued[0].QueueEntryID != "c" || snap.Queued[1].QueueEntryID != "d" {
		t.Errorf("queued = %+v, want [c d]", snap.Queued)
	}
}

func TestRemoveCurrentPromotesNextAndQueuedHead(t *testing.T) {
	m := New()
	m.Enqueue(Entry{QueueEntryID: "a"})
	m.Enqueue(Entry{QueueEntryID: "b"})
	m.Enqueue(Entry{QueueEntryID: "c"})
	m.Enqueue(Entry{QueueEntryID: "d"})

	slot := m.Remove("a")
	if slot != Current {
		t.Fatalf("Remove(a) slot = %v, want Current", slot)
	}

	snap := m.Snapshot()
	if snap.Current == nil || snap.Current.QueueEntryID != "b" {
		t.Errorf("current after promotion = %+v, want b", snap.Current)
	}
	if snap.Next == nil || snap.Next.QueueEntryID != "c" {
		t.Errorf("next after promotion = %+v, want c", snap.Next)
	}
	if len(snap.Queued) != 1 || snap.Queued[0].QueueEntryID != "d" {
		t.Errorf("queued after promotion = %+v, want [d]", snap.Queued)
	}
}

func TestRemoveNextPromotesQueuedHeadOnly(t *testing.T) {
	m := New()
	m.Enqueue(Entry{QueueEntryID: "a"})
	m.Enqueue(Entry{QueueEntryID: "b"})
	m.Enqueue(Entry{QueueEntryID: "c"})

	slot := m.Remove("b")
	if slot != Next {
		t.Fatalf("Remove(b) slot = %v, want Next", slot)
	}

	snap := m.Snapshot()
	if snap.Current == nil || snap.Current.QueueEntryID != "a" {
		t.Errorf("current should be unchanged = %+v, want a", snap.Current)
	}
	if snap.Next == nil || snap.Next.QueueEntryID != "c" {
		t.Errorf("next after promotion = %+v, want c", snap.Next)
	}
	if len(snap.Queued) != 0 {
		t.Errorf("queued after promotion = %+v, want empty", snap.Queued)
	}
}

func TestRemoveFromQueuedDoesNotTouchCurrentOrNext(t *testing.T) {
	m := New()
	m.Enqueue(Entry{QueueEntryID: "a"})
	m.Enqueue(Entry{QueueEntryID: "b"})
	m.Enqueue(Entry{QueueEntryID: "c"})
	m.Enqueue(Entry{QueueEntryID: "d"})

	slot := m.Remove("c")
	if slot != Queued {
		t.Fatalf("Remove(c) slot = %v, want Queued", slot)
	}

	snap := m.Snapshot()
	if snap.Current.QueueEntryID != "a" || snap.Next.QueueEntryID != "b" {
		t.Errorf("current/next changed unexpectedly: %+v / %+v", snap.Current, snap.Next)
	}
	if len(snap.Queued) != 1 || snap.Queued[0].QueueEntryID != "d" {
		t.Errorf("queued = %+v, want [d]", snap.Queued)
	}
}

func TestRemoveUnknownIDIsNoSlot(t *testing.T) {
	m := New()
	m.Enqueue(Entry{QueueEntryID: "a"})

	if slot := m.Remove("nonexistent"); slot != NoSlot {
		t.Errorf("Remove(nonexistent) = %v, want NoSlot", slot)
	}
}

func TestClearQueuedLeavesCurrentAndNextAlone(t *testing.T) {
	m := New()
	m.Enqueue(Entry{QueueEntryID: "a"})
	m.Enqueue(Entry{QueueEntryID: "b"})
	m.Enqueue(Entry{QueueEntryID: "c"})

	m.ClearQueued()

	snap := m.Snapshot()
	if snap.Current.QueueEntryID != "a" || snap.Next.QueueEntryID != "b" {
		t.Errorf("current/next changed by ClearQueued: %+v / %+v", snap.Current, snap.Next)
	}
	if len(snap.Queued) != 0 {
		t.Errorf("queued after ClearQueued = %+v, want empty", snap.Queued)
	}
}

func TestReorderMovesWithinQueuedOnly(t *testing.T) {
	m := New()
	m.Enqueue(Entry{QueueEntryID: "a"})
	m.Enqueue(Entry{QueueEntryID: "b"})
	m.Enqueue(Entry{QueueEntryID: "c"})
	m.Enqueue(Entry{QueueEntryID: "d"})
	m.Enqueue(Entry{QueueEntryID: "e"})

	m.Reorder("c", 1) // queued is [c d e]; move c to index 1 -> [d c e]

	snap := m.Snapshot()
	if snap.Current.QueueEntryID != "a" || snap.Next.QueueEntryID != "b" {
		t.Errorf("current/next changed by Reorder: %+v / %+v", snap.Current, snap.Next)
	}
	want := []string{"d", "c", "e"}
	if len(snap.Queued) != len(want) {
		t.Fatalf("queued = %+v, want len %d", snap.Queued, len(want))
	}
	for i, id := range want {
		if snap.Queued[i].QueueEntryID != id {
			t.Errorf("queued[%d] = %s, want %s", i, snap.Queued[i].QueueEntryID, id)
		}
	}
}

func TestReorderUnknownIDIsNoop(t *testing.T) {
	m := New()
	m.Enqueue(Entry{QueueEntryID: "a"})
	m.Enqueue(Entry{QueueEntryID: "b"})
	m.Enqueue(Entry{QueueEntryID: "c"})

	m.Reorder("nonexistent", 0)

	snap := m.Snapshot()
	if len(snap.Queued) != 1 || snap.Queued[0].QueueEntryID != "c" {
		t.Errorf("queued = %+v, want unchanged [c]", snap.Queued)
	}
}

func TestLocateReportsCorrectSlot(t *testing.T) {
	m := New()
	m.Enqueue(Entry{QueueEntryID: "a"})
	m.Enqueue(Entry{QueueEntryID: "b"})
	m.Enqueue(Entry{QueueEntryID: "c"})

	cases := map[string]Slot{"a": Current, "b": Next, "c": Queued, "nope": NoSlot}
	for id, want := range cases {
		if got := m.Locate(id); got != want {
			t.Errorf("Locate(%s) = %v, want %v", id, got, want)
		}
	}
}

func TestSnapshotIsIndependentOfSubsequentMutation(t *testing.T) {
	m := New()
	m.Enqueue(Entry{QueueEntryID: "a"})

	snap := m.Snapshot()
	m.Remove("a")

	if snap.Current == nil || snap.Current.QueueEntryID != "a" {
		t.Errorf("snapshot mutated by later Remove: %+v", snap.Current)
	}
}
