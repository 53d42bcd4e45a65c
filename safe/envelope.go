package safe

import (
	"io"
	"math/big"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pombredanne/pol-1/blockcipher"
	"github.com/pombredanne/pol-1/elgamal"
	"github.com/pombredanne/pol-1/keyderive"
	"github.com/pombredanne/pol-1/keystretch"
)

// TypeElGamal is the only registered safe kind this core implements.
// Load dispatches on the persisted "type" field the way
// original_source/src/safe.py's TYPE_MAP does, leaving room for future
// safe variants without the core's load path having to change shape.
const TypeElGamal = "elgamal"

type persistedBlock struct {
	_msgpack struct{} `msgpack:",asArray"`
	C1       []byte
	C2       []byte
	Pubkey   []byte
}

// persistedSafe is the self-describing binary container written to disk.
// Field names and shapes are normative; msgpack gives a compact binary
// format, the same role Python's msgpack library plays in
// original_source/src/safe.py.
type persistedSafe struct {
	Type           string              `msgpack:"type"`
	NBlocks        int                 `msgpack:"n-blocks"`
	BytesPerBlock  int                 `msgpack:"bytes-per-block"`
	BlockIndexSize int                 `msgpack:"block-index-size"`
	SliceSize      int                 `msgpack:"slice-size"`
	GroupParams    [][]byte            `msgpack:"group-params"`
	KeyStretching  keystretch.Params   `msgpack:"key-stretching"`
	KeyDerivation  keyderive.Params    `msgpack:"key-derivation"`
	BlockCipher    blockcipher.Params  `msgpack:"block-cipher"`
	Blocks         []persistedBlock    `msgpack:"blocks"`
}

// Store serialises the safe aggregate byte-exact to w.
func (s *Safe) Store(w io.Writer) error {
	p := persistedSafe{
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
	for i, b := range s.Blocks {
		p.Blocks[i] = persistedBlock{C1: b.C1, C2: b.C2, Pubkey: b.Pubkey}
	}
	enc := msgpack.NewEncoder(w)
	enc.UseArrayEncodedStructs(false)
	log.Debug("packing safe ...")
	if err := enc.Encode(&p); err != nil {
		return err
	}
	log.Debug("packed")
	return nil
}

// Load deserialises a safe from r. It requires a
// top-level "type" field naming a registered safe kind and dispatches
// construction to that kind's validator; missing or ill-typed required
// fields are reported as SafeFormatError.
func Load(r io.Reader) (*Safe, error) {
	var p persistedSafe
	dec := msgpack.NewDecoder(r)
	log.Debug("unpacking safe ...")
	if err := dec.Decode(&p); err != nil {
		return nil, formatErrorf("could not decode envelope: %v", err)
	}
	log.Debug("unpacked")

	switch p.Type {
	case "":
		return nil, formatErrorf("missing `type' attribute")
	case TypeElGamal:
		return loadElGamalSafe(p)
	default:
		return nil, formatErrorf("unknown safe type `%s'", p.Type)
	}
}

// validateSafeParams enforces the invariants any elgamal-kind Safe must
// satisfy regardless of whether it was just loaded or just generated:
// slice-size/block-index-size are in their allowed sets, n-blocks fits
// in block-index-size bytes, and bytes-per-block is small enough that
// every block plaintext encodes to an integer strictly below the group
// modulus (block.go's privkeyForBlock/encryptBlock assume this).
func validateSafeParams(nBlocks, bytesPerBlock, blockIndexSize, sliceSize int, g, p *big.Int) error {
	if nBlocks <= 0 {
		return formatErrorf("`n-blocks' must be positive")
	}
	switch sliceSize {
	case 2, 4:
	default:
		return formatErrorf("`slice-size' invalid: %d", sliceSize)
	}
	switch blockIndexSize {
	case 1, 2, 4:
	default:
		return formatErrorf("`block-index-size' invalid: %d", blockIndexSize)
	}
	if bytesPerBlock <= 0 {
		return formatErrorf("`bytes-per-block' must be positive")
	}
	maxN := uint64(1) << uint(8*blockIndexSize)
	if blockIndexSize == 4 {
		// The 4-byte case is capped at 2^32-1 blocks.
		maxN = 1<<32 - 1
	}
	if uint64(nBlocks) > maxN {
		return formatErrorf("`n-blocks' %d does not fit in `block-index-size' %d", nBlocks, blockIndexSize)
	}
	if g.Sign() == 0 || p.Sign() == 0 {
		return formatErrorf("`group-params' must be nonzero")
	}
	twoPow := new(big.Int).Lsh(big.NewInt(1), uint(8*bytesPerBlock))
	if twoPow.Cmp(p) >= 0 {
		return formatErrorf("`bytes-per-block' larger than `group-params' allow")
	}
	return nil
}

// loadElGamalSafe validates and constructs an elgamal-kind Safe from its
// persisted form, mirroring the invariant checks of
// original_source/src/safe.py's ElGamalSafe.__init__.
func loadElGamalSafe(p persistedSafe) (*Safe, error) {
	if len(p.Blocks) != p.NBlocks {
		return nil, formatErrorf("amount of blocks isn't `n-blocks'")
	}
	if len(p.GroupParams) != 2 {
		return nil, formatErrorf("`group-params' should contain 2 elements")
	}
	g := elgamal.FromBytes(p.GroupParams[0])
	pp := elgamal.FromBytes(p.GroupParams[1])
	if err := validateSafeParams(p.NBlocks, p.BytesPerBlock, p.BlockIndexSize, p.SliceSize, g, pp); err != nil {
		return nil, err
	}

	ks, err := keystretch.Setup(p.KeyStretching)
	if err != nil {
		return nil, formatErrorf("`key-stretching': %v", err)
	}
	kd, err := keyderive.Setup(p.KeyDerivation)
	if err != nil {
		return nil, formatErrorf("`key-derivation': %v", err)
	}
	cipher, err := blockcipher.Setup(p.BlockCipher)
	if err != nil {
		return nil, formatErrorf("`block-cipher': %v", err)
	}

	s := &Safe{
		Type:           p.Type,
		NBlocks:        p.NBlocks,
		BytesPerBlock:  p.BytesPerBlock,
		BlockIndexSize: p.BlockIndexSize,
		SliceSize:      p.SliceSize,
		GroupParams:    elgamal.GroupParams{G: g, P: pp},
		Blocks:         make([]Block, p.NBlocks),
		ks:             ks,
		kd:             kd,
		cipher:         cipher,
		freeBlocks:     make(map[int]struct{}),
		randfunc:       CryptoRandFunc,
	}
	for i, b := range p.Blocks {
		s.Blocks[i] = Block{C1: b.C1, C2: b.C2, Pubkey: b.Pubkey}
	}
	return s, nil
}

// GenerateOptions parameterizes Generate. GroupParams is optional: pass a
// precomputed pair (a pregenerated safe prime, shared across many safes of
// the same bit size) to skip the expensive safe-prime search that building
// fresh parameters from scratch requires.
type GenerateOptions struct {
	NBlocks        int
	BytesPerBlock  int
	BlockIndexSize int
	SliceSize      int
	GroupParams    *elgamal.GroupParams
	GroupBits      int
	Workers        int
}

// Generate builds a fresh, empty elgamal-kind safe: every block is free,
// keyed with newly generated KS/KD/cipher instances. If opts.GroupParams
// is nil, fresh group parameters are searched for at opts.GroupBits bits.
// If opts.BytesPerBlock is 0 it defaults from the resolved group's bit
// length, the way original_source/src/safe.py's generate does
// (bytes_per_block = (gp_bits-1)/8, rounded down to a cipher-block
// multiple). For groups of more than 128 bits that default satisfies the
// 2^(8*bytes-per-block) < p invariant; for smaller groups it falls back
// to one cipher block, which validateSafeParams then rejects.
func Generate(opts GenerateOptions) (*Safe, error) {
	if opts.NBlocks <= 0 {
		return nil, formatErrorf("NBlocks must be positive")
	}
	if opts.BlockIndexSize == 0 {
		opts.BlockIndexSize = 2
	}
	if opts.SliceSize == 0 {
		opts.SliceSize = 2
	}

	gp := opts.GroupParams
	if gp == nil {
		bits := opts.GroupBits
		if bits == 0 {
			bits = 512
		}
		params, err := elgamal.GenerateGroupParams(bits, opts.Workers, nil)
		if err != nil {
			return nil, err
		}
		gp = &params
	}

	if opts.BytesPerBlock == 0 {
		opts.BytesPerBlock = defaultBytesPerBlock(gp)
	}
	if err := validateSafeParams(opts.NBlocks, opts.BytesPerBlock, opts.BlockIndexSize, opts.SliceSize, gp.G, gp.P); err != nil {
		return nil, err
	}

	ks, err := keystretch.New(CryptoRandFunc)
	if err != nil {
		return nil, err
	}
	kd := keyderive.New()
	cipher := blockcipher.New()

	s := &Safe{
		Type:           TypeElGamal,
		NBlocks:        opts.NBlocks,
		BytesPerBlock:  opts.BytesPerBlock,
		BlockIndexSize: opts.BlockIndexSize,
		SliceSize:      opts.SliceSize,
		GroupParams:    *gp,
		Blocks:         make([]Block, opts.NBlocks),
		ks:             ks,
		kd:             kd,
		cipher:         cipher,
		freeBlocks:     make(map[int]struct{}, opts.NBlocks),
		randfunc:       CryptoRandFunc,
	}
	for i := 0; i < opts.NBlocks; i++ {
		s.freeBlocks[i] = struct{}{}
	}
	return s, nil
}

// defaultBytesPerBlock picks a bytes-per-block comfortably below the
// group modulus: (bits-1)/8, rounded down to a multiple of the block
// cipher's block size so the IV the slice engine stores alongside the
// first block's payload (slice.go's Slice.Store) always fits, or one
// cipher block if that rounds down to zero.
func defaultBytesPerBlock(gp *elgamal.GroupParams) int {
	natural := (gp.P.BitLen() - 1) / 8
	rounded := (natural / blockcipher.BlockSize) * blockcipher.BlockSize
	if rounded == 0 {
		rounded = blockcipher.BlockSize
	}
	return rounded
}

// OpenSlice wraps a caller-known set of block indices as a Slice, for
// re-deriving a handle on a slice a password already claims (e.g. to
// trash it) without drawing fresh indices from the free pool.
func (s *Safe) OpenSlice(firstIndex int, indices []int) *Slice {
	return &Slice{safe: s, FirstIndex: firstIndex, Indices: indices}
}
