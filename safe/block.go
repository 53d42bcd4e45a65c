package safe

import (
	"math/big"

	"github.com/pombredanne/pol-1/elgamal"
)

// Block is one cipher-block: an ElGamal ciphertext triple (c1, c2,
// pubkey), each a big-endian mpz byte string. A block whose
// Pubkey is empty is Free.
type Block struct {
	C1     []byte
	C2     []byte
	Pubkey []byte
}

// Free reports whether the block belongs to no one.
func (b *Block) Free() bool {
	return len(b.Pubkey) == 0
}

// indexBytes packs a block index into I bytes, big-endian.
func (s *Safe) indexBytes(i int) []byte {
	out := make([]byte, s.BlockIndexSize)
	v := uint64(i)
	for k := s.BlockIndexSize - 1; k >= 0; k-- {
		out[k] = byte(v)
		v >>= 8
	}
	return out
}

// indexFromBytes is the inverse of indexBytes. The original pol safe
// (original_source/src/safe.py, _index_from_bytes) discarded its own
// unpack result and was therefore unreachable; reassembling a slice needs
// a working inverse, which this provides.
func (s *Safe) indexFromBytes(b []byte) int {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return int(v)
}

// sliceSizeBytes packs a plaintext length into S bytes, big-endian.
func (s *Safe) sliceSizeBytes(n int) []byte {
	out := make([]byte, s.SliceSize)
	v := uint64(n)
	for k := s.SliceSize - 1; k >= 0; k-- {
		out[k] = byte(v)
		v >>= 8
	}
	return out
}

// sliceSizeFromBytes is the inverse of sliceSizeBytes. See indexFromBytes
// for why the original lacked a usable version of this.
func (s *Safe) sliceSizeFromBytes(b []byte) int {
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return int(v)
}

// privkeyForBlock derives the ElGamal private exponent for block i under
// baseKey:
//
//	privkey = to_mpz_be( KD(baseKey, TAG_ELGAMAL, index_bytes(i); length=B) || 0x00 )
//
// The appended zero byte multiplies the derived value by 256, so
// privkey < 2^(8B)*256; the exponent is not reduced mod p.
func (s *Safe) privkeyForBlock(baseKey []byte, i int) (*big.Int, error) {
	raw, err := s.kd.Derive(baseKey, s.BytesPerBlock, TagElGamal, s.indexBytes(i))
	if err != nil {
		return nil, err
	}
	raw = append(raw, 0x00)
	return elgamal.FromBytes(raw), nil
}

// pubkeyForBlock derives the public key matching privkeyForBlock.
func (s *Safe) pubkeyForBlock(baseKey []byte, i int) ([]byte, error) {
	x, err := s.privkeyForBlock(baseKey, i)
	if err != nil {
		return nil, err
	}
	pk := elgamal.PublicKeyFromPrivate(x, s.GroupParams)
	return elgamal.ToBytes(pk.Y), nil
}

// symmKey derives the single symmetric key reused across all blocks of a
// slice encrypted under baseKey.
func (s *Safe) symmKey(baseKey []byte) ([]byte, error) {
	return s.kd.Derive(baseKey, s.cipher.KeySize(), TagSymm)
}

// ownsBlock is the sole ownership test : a block belongs
// to baseKey iff its stored pubkey matches the one baseKey derives for
// that index.
func (s *Safe) ownsBlock(baseKey []byte, i int) (bool, error) {
	want, err := s.pubkeyForBlock(baseKey, i)
	if err != nil {
		return false, err
	}
	return bytesEqual(want, s.Blocks[i].Pubkey), nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// decryptBlock implements "Decrypt block": recompute the
// pubkey baseKey claims for index i; if it doesn't match the stored
// pubkey, fail WrongKeyError; otherwise ElGamal-decrypt and return the
// B-byte plaintext.
func (s *Safe) decryptBlock(baseKey []byte, i int) ([]byte, error) {
	x, err := s.privkeyForBlock(baseKey, i)
	if err != nil {
		return nil, err
	}
	pk := elgamal.PublicKeyFromPrivate(x, s.GroupParams)
	if !bytesEqual(elgamal.ToBytes(pk.Y), s.Blocks[i].Pubkey) {
		return nil, &WrongKeyError{Index: i}
	}
	c1 := elgamal.FromBytes(s.Blocks[i].C1)
	c2 := elgamal.FromBytes(s.Blocks[i].C2)
	m := elgamal.Decrypt(c1, c2, elgamal.PrivateKey{X: x}, s.GroupParams)
	return elgamal.ToFixedBytes(m, s.BytesPerBlock), nil
}

// encryptBlock implements "Encrypt block". plaintext must be
// exactly BytesPerBlock bytes; the slice engine is responsible for
// shaping its payload to that length.
func (s *Safe) encryptBlock(baseKey []byte, i int, plaintext []byte, annex bool) error {
	if len(plaintext) != s.BytesPerBlock {
		return argErrorf("encryptBlock: plaintext must be %d bytes, got %d", s.BytesPerBlock, len(plaintext))
	}
	x, err := s.privkeyForBlock(baseKey, i)
	if err != nil {
		return err
	}
	pk := elgamal.PublicKeyFromPrivate(x, s.GroupParams)
	pubBytes := elgamal.ToBytes(pk.Y)
	if !bytesEqual(pubBytes, s.Blocks[i].Pubkey) {
		if !annex {
			return &WrongKeyError{Index: i}
		}
		s.Blocks[i].Pubkey = pubBytes
	}
	m := elgamal.FromBytes(plaintext)
	c1, c2, err := elgamal.Encrypt(m, pk, s.GroupParams, s.randfunc)
	if err != nil {
		return err
	}
	s.Blocks[i].C1 = elgamal.ToBytes(c1)
	s.Blocks[i].C2 = elgamal.ToBytes(c2)
	return nil
}
