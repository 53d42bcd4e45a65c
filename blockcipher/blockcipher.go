// Package blockcipher implements the stream-cipher primitive used by the
// slice engine to encipher plaintext across a chain of blocks, exposing
// a Stream(key, iv) constructor. chacha20 is a natural fit because it
// already exposes exactly that shape, rather than requiring a
// block-mode adapter the way AES-CTR would.
package blockcipher

import (
	"crypto/cipher"
	"errors"

	"golang.org/x/crypto/chacha20"
)

// Params describes a BlockCipher instance as persisted under the safe
// envelope's "block-cipher" key.
type Params struct {
	Algorithm string `msgpack:"algorithm"`
}

// BlockCipher exposes the fixed block size / key size of the underlying
// stream cipher and constructs per-use streams.
type BlockCipher struct{}

// BlockSize is the unit the slice engine pads the IV and per-block
// segments to. chacha20 itself is a stream cipher with no natural block
// size; the cipher's blocksize is used as an IV length and a chunking
// granularity, so 16 bytes (matching chacha20's internal counter/nonce
// width conventions) is used here.
const BlockSize = 16

// KeySize is chacha20's native key size.
const KeySize = chacha20.KeySize

// Setup reconstructs a BlockCipher instance from persisted Params.
func Setup(p Params) (*BlockCipher, error) {
	if p.Algorithm != "" && p.Algorithm != "chacha20" {
		return nil, errors.New("blockcipher: unsupported algorithm " + p.Algorithm)
	}
	return &BlockCipher{}, nil
}

// New builds the default BlockCipher instance.
func New() *BlockCipher {
	return &BlockCipher{}
}

// Params returns the instance's parameters for persistence.
func (bc *BlockCipher) Params() Params {
	return Params{Algorithm: "chacha20"}
}

func (bc *BlockCipher) BlockSize() int { return BlockSize }
func (bc *BlockCipher) KeySize() int   { return KeySize }

// Stream returns a cipher.Stream keyed with key and initialised with iv.
// iv must be exactly BlockSize bytes; chacha20.NewUnauthenticatedCipher wants a 12-byte
// nonce, so the first 12 bytes of iv are used as the nonce and the
// remaining 4 as an initial block counter, keeping the whole BlockSize
// worth of randomness relevant to the keystream rather than discarding
// it.
func (bc *BlockCipher) Stream(key, iv []byte) (cipher.Stream, error) {
	if len(key) != KeySize {
		return nil, errors.New("blockcipher: bad key size")
	}
	if len(iv) != BlockSize {
		return nil, errors.New("blockcipher: bad iv size")
	}
	s, err := chacha20.NewUnauthenticatedCipher(key, iv[:chacha20.NonceSize])
	if err != nil {
		return nil, err
	}
	counter := uint32(iv[12])<<24 | uint32(iv[13])<<16 | uint32(iv[14])<<8 | uint32(iv[15])
	s.SetCounter(counter)
	return s, nil
}
