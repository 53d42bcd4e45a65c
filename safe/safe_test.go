package safe

import "testing"

func TestCapacity(t *testing.T) {
	s, err := newTestSafe()
	if err != nil {
		t.Fatal(err)
	}
	// capacity(k) = k*(bytesPerBlock - blockIndexSize) - cipherBlockSize - sliceSize
	got := s.Capacity(3)
	want := 3*(testBytesPerBlock-testBlockIndexSize) - s.cipher.BlockSize() - testSliceSize
	if got != want {
		t.Fatalf("Capacity(3) = %d, want %d", got, want)
	}
}

func TestMarkFreeAndFreeCount(t *testing.T) {
	s, err := newTestSafe()
	if err != nil {
		t.Fatal(err)
	}
	if s.FreeCount() != testNBlocks {
		t.Fatalf("fresh safe should have all %d blocks free, got %d", testNBlocks, s.FreeCount())
	}

	sl, err := s.NewSlice(4)
	if err != nil {
		t.Fatal(err)
	}
	if s.FreeCount() != testNBlocks-4 {
		t.Fatalf("after NewSlice(4), free count = %d, want %d", s.FreeCount(), testNBlocks-4)
	}

	s.MarkFree(sl.Indices)
	if s.FreeCount() != testNBlocks {
		t.Fatalf("after MarkFree, free count = %d, want %d", s.FreeCount(), testNBlocks)
	}

	// out-of-range indices are ignored, not stored.
	s.MarkFree([]int{-1, testNBlocks, testNBlocks + 5})
	if s.FreeCount() != testNBlocks {
		t.Fatalf("out-of-range MarkFree changed free count to %d", s.FreeCount())
	}
}
