package safe

import (
	"bytes"
	"context"
	"sync"
	"testing"
)

func TestRerandomizePreservesReadableSlices(t *testing.T) {
	s, err := newTestSafe()
	if err != nil {
		t.Fatal(err)
	}
	baseKey := basekey(s, "rerandomize me")
	sl, err := s.NewSlice(4)
	if err != nil {
		t.Fatal(err)
	}
	value := []byte("preserved across rerandomization")
	if len(value) > sl.Size() {
		value = value[:sl.Size()]
	}
	if err := sl.Store(baseKey, value, true); err != nil {
		t.Fatal(err)
	}

	before := make([]Block, len(s.Blocks))
	copy(before, s.Blocks)

	if _, err := s.Rerandomize(context.Background(), 2, nil); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadSlice(baseKey, sl.FirstIndex)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, value) {
		t.Fatalf("ReadSlice after Rerandomize = %q, want %q", got, value)
	}

	for _, i := range sl.Indices {
		if bytes.Equal(before[i].C1, s.Blocks[i].C1) && bytes.Equal(before[i].C2, s.Blocks[i].C2) {
			t.Fatalf("block %d ciphertext unchanged after rerandomize", i)
		}
		if !bytes.Equal(before[i].Pubkey, s.Blocks[i].Pubkey) {
			t.Fatalf("block %d pubkey changed, rerandomize must preserve ownership", i)
		}
	}
}

func TestRerandomizeLeavesFreeBlocksFree(t *testing.T) {
	s, err := newTestSafe()
	if err != nil {
		t.Fatal(err)
	}
	freeBefore := s.FreeCount()

	if _, err := s.Rerandomize(context.Background(), 0, nil); err != nil {
		t.Fatal(err)
	}

	if s.FreeCount() != freeBefore {
		t.Fatalf("FreeCount changed from %d to %d across rerandomize", freeBefore, s.FreeCount())
	}
	for i, b := range s.Blocks {
		if _, isFree := s.freeBlocks[i]; isFree && !b.Free() {
			t.Fatalf("block %d is tracked free but has a non-empty pubkey after rerandomize", i)
		}
	}
}

func TestRerandomizeReportsProgress(t *testing.T) {
	s, err := newTestSafe()
	if err != nil {
		t.Fatal(err)
	}
	var mu sync.Mutex
	var last float64
	_, err = s.Rerandomize(context.Background(), 3, func(fraction float64) {
		mu.Lock()
		if fraction > last {
			last = fraction
		}
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}
	if last != 1.0 {
		t.Fatalf("final progress fraction = %v, want 1.0", last)
	}
}
