package safe

import (
	"bytes"
	"errors"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pombredanne/pol-1/elgamal"
)

func TestStoreLoadRoundTrip(t *testing.T) {
	s, err := newTestSafe()
	if err != nil {
		t.Fatal(err)
	}
	baseKey := basekey(s, "round trip password")
	sl, err := s.NewSlice(3)
	if err != nil {
		t.Fatal(err)
	}
	if err := sl.Store(baseKey, []byte("persisted"), true); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := s.Store(&buf); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(&buf)
	if err != nil {
		t.Fatal(err)
	}
	got, err := loaded.ReadSlice(baseKey, sl.FirstIndex)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("persisted")) {
		t.Fatalf("ReadSlice after Store/Load = %q, want %q", got, "persisted")
	}
}

func TestLoadRejectsMissingType(t *testing.T) {
	p := persistedSafe{}
	_, err := loadFromPersisted(t, p)
	expectFormatError(t, err)
}

func TestLoadRejectsUnknownType(t *testing.T) {
	p := validPersistedSafe(t)
	p.Type = "nonsense"
	_, err := loadFromPersisted(t, p)
	expectFormatError(t, err)
}

func TestLoadRejectsBadGroupParamsArity(t *testing.T) {
	p := validPersistedSafe(t)
	p.GroupParams = p.GroupParams[:1]
	_, err := loadFromPersisted(t, p)
	expectFormatError(t, err)
}

func TestLoadRejectsInvalidSliceSize(t *testing.T) {
	p := validPersistedSafe(t)
	p.SliceSize = 3
	_, err := loadFromPersisted(t, p)
	expectFormatError(t, err)
}

func TestLoadRejectsInvalidBlockIndexSize(t *testing.T) {
	p := validPersistedSafe(t)
	p.BlockIndexSize = 3
	_, err := loadFromPersisted(t, p)
	expectFormatError(t, err)
}

func TestLoadRejectsMismatchedBlockCount(t *testing.T) {
	p := validPersistedSafe(t)
	p.Blocks = p.Blocks[:len(p.Blocks)-1]
	_, err := loadFromPersisted(t, p)
	expectFormatError(t, err)
}

func TestLoadRejectsBytesPerBlockTooLargeForGroup(t *testing.T) {
	p := validPersistedSafe(t)
	p.BytesPerBlock = 4096
	_, err := loadFromPersisted(t, p)
	expectFormatError(t, err)
}

// validPersistedSafe builds a minimal, well-formed persistedSafe by
// generating a real Safe and inspecting what it would serialize to, so
// individual tests only need to corrupt one field at a time.
func validPersistedSafe(t *testing.T) persistedSafe {
	t.Helper()
	s, err := newTestSafe()
	if err != nil {
		t.Fatal(err)
	}
	return persistedSafe{
		Type:           s.Type,
		NBlocks:        s.NBlocks,
		BytesPerBlock:  s.BytesPerBlock,
		BlockIndexSize: s.BlockIndexSize,
		SliceSize:      s.SliceSize,
		GroupParams:    [][]byte{elgamal.ToBytes(s.GroupParams.G), elgamal.ToBytes(s.GroupParams.P)},
		KeyStretching:  s.ks.Params(),
		KeyDerivation:  s.kd.Params(),
		BlockCipher:    s.cipher.Params(),
		Blocks:         make([]persistedBlock, s.NBlocks),
	}
}

func loadFromPersisted(t *testing.T, p persistedSafe) (*Safe, error) {
	t.Helper()
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.UseArrayEncodedStructs(false)
	if err := enc.Encode(&p); err != nil {
		t.Fatal(err)
	}
	return Load(&buf)
}

func expectFormatError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected an error, got nil")
	}
	var fmtErr *SafeFormatError
	if !errors.As(err, &fmtErr) {
		t.Fatalf("expected *SafeFormatError, got %T: %v", err, err)
	}
}
