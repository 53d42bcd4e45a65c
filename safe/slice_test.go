package safe

import (
	"bytes"
	"errors"
	"testing"
)

func basekey(s *Safe, password string) []byte {
	key, err := s.KeyStretching().Stretch([]byte(password))
	if err != nil {
		panic(err)
	}
	return key
}

func TestStoreAndReadRoundTrip(t *testing.T) {
	s, err := newTestSafe()
	if err != nil {
		t.Fatal(err)
	}
	baseKey := basekey(s, "correct horse battery staple")

	sl, err := s.NewSlice(3)
	if err != nil {
		t.Fatal(err)
	}
	value := []byte("a small secret")
	if len(value) > sl.Size() {
		t.Fatalf("test value of %d bytes exceeds slice capacity %d", len(value), sl.Size())
	}
	if err := sl.Store(baseKey, value, true); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadSlice(baseKey, sl.FirstIndex)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, value) {
		t.Fatalf("ReadSlice = %q, want %q", got, value)
	}
}

func TestStoreAcrossMultipleBlocksRoundTrip(t *testing.T) {
	s, err := newTestSafe()
	if err != nil {
		t.Fatal(err)
	}
	baseKey := basekey(s, "another password")

	sl, err := s.NewSlice(6)
	if err != nil {
		t.Fatal(err)
	}
	value := bytes.Repeat([]byte("0123456789"), sl.Size()/10)
	if len(value) > sl.Size() {
		value = value[:sl.Size()]
	}
	if err := sl.Store(baseKey, value, true); err != nil {
		t.Fatal(err)
	}

	got, err := s.ReadSlice(baseKey, sl.FirstIndex)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, value) {
		t.Fatalf("ReadSlice across %d blocks returned %d bytes, want %d matching bytes", len(sl.Indices), len(got), len(value))
	}
}

func TestWrongKeyIsRejected(t *testing.T) {
	s, err := newTestSafe()
	if err != nil {
		t.Fatal(err)
	}
	ownerKey := basekey(s, "owner-password")
	attackerKey := basekey(s, "attacker-password")

	sl, err := s.NewSlice(3)
	if err != nil {
		t.Fatal(err)
	}
	if err := sl.Store(ownerKey, []byte("hidden"), true); err != nil {
		t.Fatal(err)
	}

	_, err = s.ReadSlice(attackerKey, sl.FirstIndex)
	if err == nil {
		t.Fatal("expected an error reading with the wrong key")
	}
	var wrongKey *WrongKeyError
	if !errors.As(err, &wrongKey) {
		t.Fatalf("expected *WrongKeyError, got %T: %v", err, err)
	}
}

func TestStoreWithoutAnnexFailsOnUnownedBlock(t *testing.T) {
	s, err := newTestSafe()
	if err != nil {
		t.Fatal(err)
	}
	ownerKey := basekey(s, "first-owner")
	otherKey := basekey(s, "second-owner")

	sl, err := s.NewSlice(3)
	if err != nil {
		t.Fatal(err)
	}
	if err := sl.Store(ownerKey, []byte("mine"), true); err != nil {
		t.Fatal(err)
	}

	s.MarkFree(sl.Indices)
	reopened := s.OpenSlice(sl.FirstIndex, sl.Indices)
	err = reopened.Store(otherKey, []byte("not mine"), false)
	if err == nil {
		t.Fatal("expected WrongKeyError storing without annex over another key's blocks")
	}
	var wrongKey *WrongKeyError
	if !errors.As(err, &wrongKey) {
		t.Fatalf("expected *WrongKeyError, got %T: %v", err, err)
	}
}

func TestNewSliceFailsWhenSafeIsFull(t *testing.T) {
	s, err := newTestSafe()
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.NewSlice(testNBlocks + 1)
	if err == nil {
		t.Fatal("expected SafeFullError")
	}
	var full *SafeFullError
	if !errors.As(err, &full) {
		t.Fatalf("expected *SafeFullError, got %T: %v", err, err)
	}
	if full.Requested != testNBlocks+1 || full.Free != testNBlocks {
		t.Fatalf("unexpected SafeFullError contents: %+v", full)
	}
}

func TestNewSliceRejectsZero(t *testing.T) {
	s, err := newTestSafe()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.NewSlice(0); err == nil {
		t.Fatal("expected an error for NewSlice(0)")
	}
}

func TestTrashDestroysSlice(t *testing.T) {
	s, err := newTestSafe()
	if err != nil {
		t.Fatal(err)
	}
	baseKey := basekey(s, "trash-me")

	sl, err := s.NewSlice(3)
	if err != nil {
		t.Fatal(err)
	}
	if err := sl.Store(baseKey, []byte("ephemeral"), true); err != nil {
		t.Fatal(err)
	}

	if err := sl.Trash(); err != nil {
		t.Fatal(err)
	}

	if _, err := s.ReadSlice(baseKey, sl.FirstIndex); err == nil {
		t.Fatal("expected reading a trashed slice under the old key to fail")
	}
}

func TestStoreRejectsValueLargerThanCapacity(t *testing.T) {
	s, err := newTestSafe()
	if err != nil {
		t.Fatal(err)
	}
	baseKey := basekey(s, "overflow")
	sl, err := s.NewSlice(2)
	if err != nil {
		t.Fatal(err)
	}
	tooBig := make([]byte, sl.Size()+1)
	if err := sl.Store(baseKey, tooBig, true); err == nil {
		t.Fatal("expected an error storing a value larger than slice capacity")
	}
}
