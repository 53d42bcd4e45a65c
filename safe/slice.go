package safe

// Slice is the ephemeral abstraction of a set of block indices linked
// into one logical buffer, with a distinguished first index. It borrows
// its indices from the owning Safe and has no long-lived handle
// semantics beyond a single Store/Trash call.
type Slice struct {
	safe       *Safe
	FirstIndex int
	Indices    []int
}

// Size returns the number of plaintext bytes this slice can hold.
func (sl *Slice) Size() int {
	return sl.safe.Capacity(len(sl.Indices))
}

// NewSlice allocates nblocks free blocks for a new slice. It fails with
// SafeFullError if fewer than nblocks blocks are free, and rejects
// nblocks <= 0.
func (s *Safe) NewSlice(nblocks int) (*Slice, error) {
	if nblocks <= 0 {
		return nil, argErrorf("NewSlice: nblocks must be positive")
	}
	if len(s.freeBlocks) < nblocks {
		return nil, &SafeFullError{Requested: nblocks, Free: len(s.freeBlocks)}
	}

	all := make([]int, 0, len(s.freeBlocks))
	for i := range s.freeBlocks {
		all = append(all, i)
	}
	drawn, err := s.sampleWithoutReplacement(all, nblocks)
	if err != nil {
		return nil, err
	}
	for _, i := range drawn {
		delete(s.freeBlocks, i)
	}

	firstPos, err := s.randIndex(len(drawn))
	if err != nil {
		return nil, err
	}

	return &Slice{safe: s, FirstIndex: drawn[firstPos], Indices: drawn}, nil
}

// sampleWithoutReplacement draws k distinct elements from pool uniformly
// at random using s.randfunc, via a partial Fisher-Yates shuffle.
func (s *Safe) sampleWithoutReplacement(pool []int, k int) ([]int, error) {
	items := append([]int(nil), pool...)
	for i := 0; i < k; i++ {
		j, err := s.randIndexRange(i, len(items))
		if err != nil {
			return nil, err
		}
		items[i], items[j] = items[j], items[i]
	}
	return items[:k], nil
}

// randIndex returns a uniform random integer in [0, n).
func (s *Safe) randIndex(n int) (int, error) {
	return s.randIndexRange(0, n)
}

// randIndexRange returns a uniform random integer in [lo, hi).
func (s *Safe) randIndexRange(lo, hi int) (int, error) {
	span := hi - lo
	if span <= 0 {
		return lo, nil
	}
	// Rejection sampling over a full random byte width covering span,
	// avoiding modulo bias.
	nbytes := 1
	for (1 << uint(8*nbytes)) < span {
		nbytes++
	}
	limit := uint64(1) << uint(8*nbytes)
	limit -= limit % uint64(span)
	for {
		buf, err := s.randfunc(nbytes)
		if err != nil {
			return 0, err
		}
		var v uint64
		for _, b := range buf {
			v = v<<8 | uint64(b)
		}
		if v < limit {
			return lo + int(v%uint64(span)), nil
		}
	}
}

// shuffle randomizes the order of a slice of indices in place using the
// safe's random source.
func (s *Safe) shuffle(items []int) error {
	for i := len(items) - 1; i > 0; i-- {
		j, err := s.randIndex(i + 1)
		if err != nil {
			return err
		}
		items[i], items[j] = items[j], items[i]
	}
	return nil
}

// Store writes value into the slice under baseKey. When
// annex is true, blocks the slice doesn't already own under baseKey are
// claimed; when false, a mismatch anywhere in the chain fails
// WrongKeyError with no blocks mutated by this call beyond ones already
// written earlier in the same call.
func (sl *Slice) Store(baseKey, value []byte, annex bool) error {
	s := sl.safe
	capacity := sl.Size()
	if len(value) > capacity {
		return argErrorf("Slice.Store: value of %d bytes exceeds capacity %d", len(value), capacity)
	}

	bpb := s.BytesPerBlock
	totalSize := capacity + s.SliceSize
	raw := make([]byte, totalSize)
	copy(raw, s.sliceSizeBytes(len(value)))
	copy(raw[s.SliceSize:], value)

	iv, err := s.randfunc(s.cipher.BlockSize())
	if err != nil {
		return err
	}

	otherIndices := make([]int, 0, len(sl.Indices)-1)
	for _, i := range sl.Indices {
		if i != sl.FirstIndex {
			otherIndices = append(otherIndices, i)
		}
	}
	if err := s.shuffle(otherIndices); err != nil {
		return err
	}

	symm, err := s.symmKey(baseKey)
	if err != nil {
		return err
	}
	stream, err := s.cipher.Stream(symm, iv)
	if err != nil {
		return err
	}

	firstPlaintextSize := bpb - s.cipher.BlockSize() - s.BlockIndexSize
	var next int
	if len(otherIndices) > 0 {
		next = otherIndices[0]
	} else {
		next = sl.FirstIndex
	}

	// next_index_bytes are enciphered too, consuming keystream
	// contiguously with the payload that precedes them.
	firstSegment := make([]byte, firstPlaintextSize+s.BlockIndexSize)
	stream.XORKeyStream(firstSegment[:firstPlaintextSize], raw[:firstPlaintextSize])
	stream.XORKeyStream(firstSegment[firstPlaintextSize:], s.indexBytes(next))

	firstBlockPlaintext := append(append([]byte{}, iv...), firstSegment...)
	if len(firstBlockPlaintext) != bpb {
		return formatErrorf("Slice.Store: internal size mismatch building first block")
	}
	if err := s.encryptBlock(baseKey, sl.FirstIndex, firstBlockPlaintext, annex); err != nil {
		return err
	}

	offset := firstPlaintextSize
	rawChunk := bpb - s.BlockIndexSize // raw payload bytes consumed per non-first block
	for idx, blockIndex := range otherIndices {
		var nextIndex int
		if idx+1 < len(otherIndices) {
			nextIndex = otherIndices[idx+1]
		} else {
			nextIndex = blockIndex
		}
		segment := make([]byte, bpb)
		stream.XORKeyStream(segment[:rawChunk], raw[offset:offset+rawChunk])
		stream.XORKeyStream(segment[rawChunk:], s.indexBytes(nextIndex))
		if err := s.encryptBlock(baseKey, blockIndex, segment, annex); err != nil {
			return err
		}
		offset += rawChunk
	}

	return nil
}

// Trash destroys the slice's contents: generate a fresh random base key
// and capacity random bytes, then annex every block of the slice to
// that random key. This is the only path that removes contents; the
// blocks are not returned to freeBlocks, since they now belong to a key
// nobody retains.
func (sl *Slice) Trash() error {
	s := sl.safe
	key, err := s.randfunc(s.kd.Size())
	if err != nil {
		return err
	}
	payload, err := s.randfunc(sl.Size())
	if err != nil {
		return err
	}
	return sl.Store(key, payload, true)
}

// ReadSlice decrypts and reassembles the value stored in the slice
// starting at firstIndex under baseKey. It is the core's inverse of
// Store.
func (s *Safe) ReadSlice(baseKey []byte, firstIndex int) ([]byte, error) {
	symm, err := s.symmKey(baseKey)
	if err != nil {
		return nil, err
	}

	bpb := s.BytesPerBlock
	first, err := s.decryptBlock(baseKey, firstIndex)
	if err != nil {
		return nil, err
	}
	iv := first[:s.cipher.BlockSize()]
	rest := first[s.cipher.BlockSize():]

	stream, err := s.cipher.Stream(symm, iv)
	if err != nil {
		return nil, err
	}

	ptSize := len(rest) - s.BlockIndexSize
	segments := make([][]byte, 0)
	decrypted := make([]byte, len(rest))
	stream.XORKeyStream(decrypted[:ptSize], rest[:ptSize])
	stream.XORKeyStream(decrypted[ptSize:], rest[ptSize:])
	segments = append(segments, decrypted[:ptSize])

	next := s.indexFromBytes(decrypted[ptSize:])
	current := firstIndex
	for next != current {
		block, err := s.decryptBlock(baseKey, next)
		if err != nil {
			return nil, err
		}
		ctSize := len(block) - s.BlockIndexSize
		decBlock := make([]byte, len(block))
		stream.XORKeyStream(decBlock[:ctSize], block[:ctSize])
		stream.XORKeyStream(decBlock[ctSize:], block[ctSize:])
		segments = append(segments, decBlock[:ctSize])
		current = next
		next = s.indexFromBytes(decBlock[ctSize:])
	}

	total := make([]byte, 0, len(segments)*ptSize)
	for _, seg := range segments {
		total = append(total, seg...)
	}

	if len(total) < s.SliceSize {
		return nil, formatErrorf("ReadSlice: decrypted slice shorter than size prefix")
	}
	valueLen := s.sliceSizeFromBytes(total[:s.SliceSize])
	if valueLen < 0 || s.SliceSize+valueLen > len(total) {
		return nil, formatErrorf("ReadSlice: corrupt slice length prefix")
	}
	return total[s.SliceSize : s.SliceSize+valueLen], nil
}
