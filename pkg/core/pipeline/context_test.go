package pipeline

import (
	"fmt"
	"testing"

	"github.com/voicelane/voicelane/pkg/core/types"
)

func TestContextStoreEviction(t *testing.T) {
	s := NewContextStore(3)
	for i := 0; i < 5; i++ {
		s.Commit(types.Turn{UserText: fmt.Sprintf("turn-%d", i), Status: types.StatusCompleted})
	}

	snap := s.Snapshot()
	if len(snap.Turns) != 3 {
		t.Fatalf("kept %d turns, want 3", len(snap.Turns))
	}
	want := []string{"turn-2", "turn-3", "turn-4"}
	for i, w := range want {
		if snap.Turns[i].UserText != w {
			t.Errorf("turn %d = %q, want %q", i, snap.Turns[i].UserText, w)
		}
	}
}

func TestContextStoreSnapshotIsolation(t *testing.T) {
	s := NewContextStore(0)
	s.SetGrounding(types.Grounding{StoreID: "store-1", StoreName: "Downtown"})
	s.Commit(types.Turn{UserText: "where is the oat milk"})

	snap := s.Snapshot()

	// Mutations after the snapshot must not be visible through it.
	s.Commit(types.Turn{UserText: "second question"})
	s.SetGrounding(types.Grounding{StoreID: "store-2"})
	snap.Turns[0].UserText = "mutated by caller"

	if len(snap.Turns) != 1 {
		t.Fatalf("snapshot grew to %d turns", len(snap.Turns))
	}
	if snap.Grounding.StoreID != "store-1" {
		t.Errorf("snapshot grounding = %q, want store-1", snap.Grounding.StoreID)
	}
	if fresh := s.Snapshot(); fresh.Turns[0].UserText != "where is the oat milk" {
		t.Errorf("store turn mutated through snapshot: %q", fresh.Turns[0].UserText)
	}
	if s.Grounding().StoreID != "store-2" {
		t.Errorf("grounding = %q, want store-2", s.Grounding().StoreID)
	}
}

func TestContextStoreDefaultDepth(t *testing.T) {
	s := NewContextStore(0)
	for i := 0; i < DefaultContextDepth+4; i++ {
		s.Commit(types.Turn{UserText: fmt.Sprintf("t%d", i)})
	}
	if got := s.Len(); got != DefaultContextDepth {
		t.Errorf("Len = %d, want %d", got, DefaultContextDepth)
	}
}
