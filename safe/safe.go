// Package safe implements the on-disk deniable encrypted block store:
// per-block ElGamal keying, the slice abstraction linking blocks into
// variable-length logical buffers, and the bulk rerandomization
// pipeline. Everything outside the block-store engine (the container
// object model, CLI, password prompting, transport selection) is a
// collaborator's concern, not this package's.
package safe

import (
	"crypto/rand"

	"github.com/op/go-logging"

	"github.com/pombredanne/pol-1/blockcipher"
	"github.com/pombredanne/pol-1/elgamal"
	"github.com/pombredanne/pol-1/keyderive"
	"github.com/pombredanne/pol-1/keystretch"
)

var log = logging.MustGetLogger("safe")

// RandFunc returns n bytes of randomness. It is threaded through slice
// and block operations (allocation, shuffling, IVs, ElGamal encryption,
// trashing) so tests can substitute a deterministic source. Rerandomize
// and Generate draw from CryptoRandFunc directly.
type RandFunc func(n int) ([]byte, error)

// CryptoRandFunc is the default RandFunc, backed by crypto/rand.
func CryptoRandFunc(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Safe is the single aggregate: group parameters, format parameters,
// the block array, and (in memory only) the set of blocks no loaded
// slice currently claims.
type Safe struct {
	Type           string
	NBlocks        int
	BytesPerBlock  int
	BlockIndexSize int
	SliceSize      int
	GroupParams    elgamal.GroupParams
	Blocks         []Block

	ks     *keystretch.KeyStretching
	kd     *keyderive.KeyDerivation
	cipher *blockcipher.BlockCipher

	freeBlocks map[int]struct{}
	randfunc   RandFunc
}

// SetRandFunc overrides the safe's random source. Tests use this to
// supply a deterministic generator.
func (s *Safe) SetRandFunc(f RandFunc) {
	s.randfunc = f
}

// KeyStretching exposes the configured KS instance.
func (s *Safe) KeyStretching() *keystretch.KeyStretching { return s.ks }

// MarkFree marks the given indices as free. It never
// checks ownership: higher layers are expected to enumerate their own
// slices from known passwords and mark the leftovers free. The core never
// auto-populates this set from the persisted image.
func (s *Safe) MarkFree(indices []int) {
	if s.freeBlocks == nil {
		s.freeBlocks = make(map[int]struct{}, len(indices))
	}
	for _, i := range indices {
		if i < 0 || i >= s.NBlocks {
			continue
		}
		s.freeBlocks[i] = struct{}{}
	}
}

// FreeCount returns the number of blocks currently marked free.
func (s *Safe) FreeCount() int {
	return len(s.freeBlocks)
}

// Capacity returns the number of plaintext bytes a slice of k blocks can
// store.
func (s *Safe) Capacity(k int) int {
	return k*(s.BytesPerBlock-s.BlockIndexSize) - s.cipher.BlockSize() - s.SliceSize
}
