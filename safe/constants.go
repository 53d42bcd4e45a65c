package safe

import "encoding/hex"

// Domain-separation constants used in key derivation.
// TagElGamal and TagList are intentionally byte-identical: the original
// pol safe format (original_source/src/safe.py, KD_ELGAMAL == KD_LIST)
// collapsed the domain separation between per-block ElGamal private keys
// and the container layer's list-only access key, and safe images written
// under that collision must keep decoding the same way. See DESIGN.md for
// the open question this leaves for a future format revision.
var (
	TagElGamal = mustDecodeHex("d53d376a7db498956d7d7f5e570509d5")
	TagSymm    = mustDecodeHex("4110252b740b03c53b1c11d6373743fb")
	TagList    = mustDecodeHex("d53d376a7db498956d7d7f5e570509d5")
	TagAppend  = mustDecodeHex("76001c344cbd9e73a6b5bd48b67266d9")
)

// Access-slice constants, reserved for the container layer.
// The core never reads or writes these; they are exported only so a
// higher layer sharing this module can stay in sync with the format.
var AccessSliceMagic = mustDecodeHex("1a1a8ad7")

const (
	AccessSliceFull   = 0
	AccessSliceList   = 1
	AccessSliceAppend = 2
)

func mustDecodeHex(s string) []byte {
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}
