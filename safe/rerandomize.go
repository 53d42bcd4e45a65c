package safe

import (
	"context"
	"crypto/rand"
	"time"

	"github.com/pombredanne/pol-1/elgamal"
	"github.com/pombredanne/pol-1/parallel"
)

// RerandomizeStats summarizes a completed rerandomization pass.
// original_source/src/safe.py logs a KB/s throughput figure after
// rerandomizing; the core returns the raw numbers instead of depending on
// a logger, so callers (cmd/safectl among them) can render that
// themselves.
type RerandomizeStats struct {
	Blocks       int
	Duration     time.Duration
	BitsPerBlock int
}

// Rerandomize refreshes every block's (c1, c2) under a fresh random
// exponent, preserving what each block decrypts to while destroying
// ciphertext-level linkability. Work is distributed across nworkers
// goroutines (runtime.NumCPU() if nworkers <= 0) in chunks of ~16
// blocks; each worker reseeds its random source on start so no two
// workers share a random stream. If progress is non-nil it is invoked
// with the fraction of blocks completed so far.
func (s *Safe) Rerandomize(ctx context.Context, nworkers int, progress func(fraction float64)) (RerandomizeStats, error) {
	start := time.Now()
	gp := s.GroupParams

	var wrappedProgress func(done int)
	if progress != nil {
		wrappedProgress = func(done int) {
			progress(float64(done) / float64(s.NBlocks))
		}
	}

	results, err := parallel.Map(ctx, s.Blocks, func(b Block) (Block, error) {
		if b.Free() {
			return b, nil
		}
		c1 := elgamal.FromBytes(b.C1)
		c2 := elgamal.FromBytes(b.C2)
		pub := elgamal.PublicKey{Y: elgamal.FromBytes(b.Pubkey)}
		newC1, newC2, err := elgamal.Rerandomize(c1, c2, pub, gp, CryptoRandFunc)
		if err != nil {
			return b, err
		}
		return Block{C1: elgamal.ToBytes(newC1), C2: elgamal.ToBytes(newC2), Pubkey: b.Pubkey}, nil
	}, nworkers, parallel.DefaultChunkSize, func(workerID int) {
		reseedWorkerRNG()
	}, wrappedProgress)
	if err == nil {
		// A cancelled context stops dispatch and leaves unprocessed
		// results zeroed; keep the original blocks instead.
		err = ctx.Err()
	}
	if err != nil {
		return RerandomizeStats{}, err
	}
	s.Blocks = results
	if progress != nil {
		progress(1.0)
	}

	secs := time.Since(start)
	log.Debugf("rerandomized %d blocks in %s", s.NBlocks, secs)
	return RerandomizeStats{
		Blocks:       s.NBlocks,
		Duration:     secs,
		BitsPerBlock: s.GroupParams.P.BitLen(),
	}, nil
}

// reseedWorkerRNG is a no-op hook for the "workers reseed their random
// source on start" requirement: crypto/rand.Reader reads directly from
// the OS CSPRNG per call and
// carries no process-global state to reseed, unlike the original pol
// implementation's PyCrypto generator which required an explicit
// Crypto.Random.atfork() call after forking worker processes
// (original_source/src/safe.py, _eg_rerandomize_block_initializer). The
// hook is kept as an explicit no-op, rather than removed, so a future
// RandFunc backed by a stateful generator has an obvious place to plug
// in.
func reseedWorkerRNG() {
	_ = rand.Reader
}
