// Package elgamal implements the group arithmetic the safe engine builds
// on: Schnorr-style group parameter generation, key derivation from a
// private exponent, encryption, decryption and rerandomization of
// ciphertexts, and the big-endian minimum-length mpz byte encoding used
// throughout the on-disk format.
package elgamal

import (
	"crypto/rand"
	"errors"
	"math/big"
	"sync"

	"github.com/pombredanne/pol-1/parallel"
)

var (
	one = big.NewInt(1)
	two = big.NewInt(2)
)

// GroupParams holds the public parameters (g, p) of the multiplicative
// group blocks are encrypted under. p is prime; g generates the group.
type GroupParams struct {
	G, P *big.Int
}

// ErrMessageTooLarge is returned when a plaintext does not fit under the
// modulus.
var ErrMessageTooLarge = errors.New("elgamal: message too large for group modulus")

// PrivateKey is an ElGamal private exponent x.
type PrivateKey struct {
	X *big.Int
}

// PublicKey is an ElGamal public key y = g^x mod p.
type PublicKey struct {
	Y *big.Int
}

// PublicKeyFromPrivate derives y = g^x mod p.
func PublicKeyFromPrivate(x *big.Int, gp GroupParams) PublicKey {
	return PublicKey{Y: new(big.Int).Exp(gp.G, x, gp.P)}
}

// Encrypt encrypts the message m (0 <= m < p) under pubkey, drawing the
// ephemeral exponent r from randfunc. randfunc must return len bytes of
// randomness on each call, the same shape as the safe engine's pluggable
// RNG.
func Encrypt(m *big.Int, pubkey PublicKey, gp GroupParams, randfunc func(n int) ([]byte, error)) (c1, c2 *big.Int, err error) {
	if m.Cmp(gp.P) >= 0 {
		return nil, nil, ErrMessageTooLarge
	}
	r, err := randomExponent(gp, randfunc)
	if err != nil {
		return nil, nil, err
	}
	c1 = new(big.Int).Exp(gp.G, r, gp.P)
	c2 = new(big.Int).Exp(pubkey.Y, r, gp.P)
	c2.Mul(c2, m)
	c2.Mod(c2, gp.P)
	return c1, c2, nil
}

// Decrypt recovers the plaintext integer from a ciphertext (c1, c2) under
// privkey.
func Decrypt(c1, c2 *big.Int, privkey PrivateKey, gp GroupParams) *big.Int {
	s := new(big.Int).Exp(c1, privkey.X, gp.P)
	s.ModInverse(s, gp.P)
	m := new(big.Int).Mul(c2, s)
	m.Mod(m, gp.P)
	return m
}

// Rerandomize refreshes (c1, c2) under a fresh exponent s so that it still
// decrypts to the same plaintext under pubkey's matching private key,
// without knowledge of that private key. Returns the updated pair; the
// input pair is left untouched.
func Rerandomize(c1, c2 *big.Int, pubkey PublicKey, gp GroupParams, randfunc func(n int) ([]byte, error)) (*big.Int, *big.Int, error) {
	s, err := randomExponent(gp, randfunc)
	if err != nil {
		return nil, nil, err
	}
	newC1 := new(big.Int).Exp(gp.G, s, gp.P)
	newC1.Mul(newC1, c1)
	newC1.Mod(newC1, gp.P)

	newC2 := new(big.Int).Exp(pubkey.Y, s, gp.P)
	newC2.Mul(newC2, c2)
	newC2.Mod(newC2, gp.P)
	return newC1, newC2, nil
}

// randomExponent draws a uniform exponent in [2, p] using randfunc,
// rejecting biased samples the same way crypto/rand.Int does.
func randomExponent(gp GroupParams, randfunc func(n int) ([]byte, error)) (*big.Int, error) {
	upper := new(big.Int).Sub(gp.P, two)
	if upper.Sign() <= 0 {
		return nil, errors.New("elgamal: group modulus too small")
	}
	k := uint(upper.BitLen())
	nbytes := int(k+7) / 8
	for {
		buf, err := randfunc(nbytes)
		if err != nil {
			return nil, err
		}
		if excess := uint(nbytes*8) - k; excess > 0 {
			buf[0] &= uint8(0xff) >> excess
		}
		n := new(big.Int).SetBytes(buf)
		if n.Cmp(upper) <= 0 {
			return n.Add(n, two), nil
		}
	}
}

// ToBytes encodes x as a big-endian byte string of minimum length. The
// empty integer (nil or zero) encodes as the empty string, matching the
// "Free" block convention.
func ToBytes(x *big.Int) []byte {
	if x == nil || x.Sign() == 0 {
		return []byte{}
	}
	return x.Bytes()
}

// FromBytes decodes a big-endian byte string into an integer. The empty
// string decodes to zero.
func FromBytes(b []byte) *big.Int {
	return new(big.Int).SetBytes(b)
}

// ToFixedBytes encodes x as a big-endian byte string padded with leading
// zeros to exactly n bytes, for contexts (encrypted block plaintexts) that
// require a fixed-width encoding rather than the minimum-length one.
func ToFixedBytes(x *big.Int, n int) []byte {
	raw := x.Bytes()
	if len(raw) > n {
		raw = raw[len(raw)-n:]
	}
	out := make([]byte, n)
	copy(out[n-len(raw):], raw)
	return out
}

// GenerateGroupParams produces a fresh (g, p) pair where p is a safe prime
// of approximately bits length (p = 2q+1, q prime) and g generates the
// order-q subgroup. Candidate search is distributed across a worker
// pool; progress, if non-nil, is invoked with the running count of
// candidates tried (each one before its primality test) so a caller can
// render a spinner.
func GenerateGroupParams(bits int, nworkers int, progress func(attempts int)) (GroupParams, error) {
	if bits < 64 {
		return GroupParams{}, errors.New("elgamal: bits too small")
	}
	var (
		mu       sync.Mutex
		p        *big.Int
		attempts int64
	)
	resultReady := make(chan struct{})
	var once sync.Once

	work := func(workerID int, stop <-chan struct{}) {
		for {
			select {
			case <-stop:
				return
			default:
			}
			q, err := rand.Prime(rand.Reader, bits-1)
			if err != nil {
				continue
			}
			candidate := new(big.Int).Lsh(q, 1)
			candidate.Add(candidate, one)
			n := parallel.AtomicAddInt64(&attempts, 1)
			if progress != nil {
				progress(int(n))
			}
			if !candidate.ProbablyPrime(20) {
				continue
			}
			mu.Lock()
			if p == nil {
				p = candidate
				once.Do(func() { close(resultReady) })
			}
			mu.Unlock()
			return
		}
	}

	stop := parallel.Fanout(nworkers, work)
	<-resultReady
	close(stop)

	q := new(big.Int).Rsh(new(big.Int).Sub(p, one), 1)
	g, err := findGenerator(p, q)
	if err != nil {
		return GroupParams{}, err
	}
	return GroupParams{G: g, P: p}, nil
}

// findGenerator finds a generator of the order-q subgroup of (Z/pZ)* for a
// safe prime p = 2q+1.
func findGenerator(p, q *big.Int) (*big.Int, error) {
	pMinusOne := new(big.Int).Sub(p, one)
	for h := big.NewInt(2); h.Cmp(pMinusOne) < 0; h.Add(h, one) {
		g := new(big.Int).Exp(h, two, p)
		if g.Cmp(one) == 0 {
			continue
		}
		// g has order q (the only nontrivial proper divisor of 2q for
		// safe prime p=2q+1 besides 1 and 2).
		check := new(big.Int).Exp(g, q, p)
		if check.Cmp(one) == 0 {
			return g, nil
		}
	}
	return nil, errors.New("elgamal: no generator found")
}
