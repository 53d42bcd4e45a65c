// Package keyderive implements key derivation: KD(inputs..., length) ->
// bytes, used to turn a base key plus a domain-separation tag (and
// sometimes a block index) into a fixed-length key or private exponent.
// Like keystretch, this primitive is pluggable; the implementation here
// is real so the core is runnable.
package keyderive

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
)

// Params describes a KD instance as persisted under the safe envelope's
// "key-derivation" key.
type Params struct {
	Algorithm string `msgpack:"algorithm"`
}

// KeyDerivation expands a base key and a sequence of domain-separating
// byte strings into an arbitrary-length output stream using BLAKE2b in
// keyed mode as the compression primitive, clocked like an XOF: each
// 64-byte block is BLAKE2b-512(key=basekey, data= previous-block-hash ||
// counter || inputs...).
type KeyDerivation struct{}

// Setup reconstructs a KeyDerivation instance from persisted Params.
func Setup(p Params) (*KeyDerivation, error) {
	if p.Algorithm != "" && p.Algorithm != "blake2b-xof" {
		return nil, errNotSupported(p.Algorithm)
	}
	return &KeyDerivation{}, nil
}

// New builds the default KeyDerivation instance.
func New() *KeyDerivation {
	return &KeyDerivation{}
}

// Size is the natural length of a base key this KD instance works with,
// used when trashing a slice generates a fresh random base key. It has
// no bearing on Derive's output length, which is caller-specified.
const Size = 32

// Size returns the natural base-key length for this KD instance.
func (kd *KeyDerivation) Size() int { return Size }

// Params returns the instance's parameters for persistence.
func (kd *KeyDerivation) Params() Params {
	return Params{Algorithm: "blake2b-xof"}
}

// Derive implements KD(basekey, inputs..., length): it concatenates
// inputs (in order) as associated data, keys BLAKE2b-512 with basekey,
// and expands to length bytes by clocking a counter through the hash
// whenever more output is needed.
func (kd *KeyDerivation) Derive(basekey []byte, length int, inputs ...[]byte) ([]byte, error) {
	out := make([]byte, 0, length)
	var counter uint64
	var chain []byte
	for len(out) < length {
		h, err := blake2b.New512(basekey)
		if err != nil {
			return nil, err
		}
		if chain != nil {
			h.Write(chain)
		}
		var ctr [8]byte
		binary.BigEndian.PutUint64(ctr[:], counter)
		h.Write(ctr[:])
		for _, in := range inputs {
			h.Write(in)
		}
		chain = h.Sum(nil)
		out = append(out, chain...)
		counter++
	}
	return out[:length], nil
}

type errNotSupported string

func (e errNotSupported) Error() string {
	return "keyderive: unsupported algorithm " + string(e)
}
