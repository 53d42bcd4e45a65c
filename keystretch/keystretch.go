// Package keystretch turns a low-entropy password into a high-entropy
// base key expensive enough to make offline guessing impractical. The
// safe engine treats key stretching as a pluggable primitive; this
// package supplies a real implementation so the rest of the tree is
// runnable end to end.
package keystretch

import (
	"errors"

	"golang.org/x/crypto/scrypt"
)

// Params describes a KS instance in the form stored under the safe
// envelope's "key-stretching" key. It round-trips through
// msgpack the same way the rest of the envelope does.
type Params struct {
	Algorithm string `msgpack:"algorithm"`
	N         int    `msgpack:"n"`
	R         int    `msgpack:"r"`
	P         int    `msgpack:"p"`
	Salt      []byte `msgpack:"salt"`
	KeyLen    int    `msgpack:"keylen"`
}

// Default parameters: scrypt with N=2^15, r=8, p=1, a 16-byte salt and a
// 32-byte output, comparable to the cost krd's teacher lineage (the
// Krypton agent) budgeted for interactive unlocks.
const (
	DefaultN      = 1 << 15
	DefaultR      = 8
	DefaultP      = 1
	DefaultKeyLen = 32
	saltSize      = 16
)

// KeyStretching stretches passwords into base keys under a fixed set of
// scrypt parameters and salt.
type KeyStretching struct {
	params Params
}

// New builds a KeyStretching instance generating a fresh random salt,
// using randfunc for entropy (the same pluggable-RNG shape as the rest
// of the core).
func New(randfunc func(n int) ([]byte, error)) (*KeyStretching, error) {
	salt, err := randfunc(saltSize)
	if err != nil {
		return nil, err
	}
	return &KeyStretching{params: Params{
		Algorithm: "scrypt",
		N:         DefaultN,
		R:         DefaultR,
		P:         DefaultP,
		Salt:      salt,
		KeyLen:    DefaultKeyLen,
	}}, nil
}

// Setup reconstructs a KeyStretching instance from persisted Params,
// mirroring pol.ks.KeyStretching.setup in original_source/src/safe.py.
func Setup(p Params) (*KeyStretching, error) {
	if p.Algorithm != "scrypt" {
		return nil, errors.New("keystretch: unknown algorithm " + p.Algorithm)
	}
	if p.N <= 1 || p.R <= 0 || p.P <= 0 || p.KeyLen <= 0 || len(p.Salt) == 0 {
		return nil, errors.New("keystretch: invalid parameters")
	}
	return &KeyStretching{params: p}, nil
}

// Params returns the instance's parameters for persistence.
func (ks *KeyStretching) Params() Params {
	return ks.params
}

// Stretch derives a base key from password.
func (ks *KeyStretching) Stretch(password []byte) ([]byte, error) {
	return scrypt.Key(password, ks.params.Salt, ks.params.N, ks.params.R, ks.params.P, ks.params.KeyLen)
}
