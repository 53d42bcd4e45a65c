package safe

import "fmt"

// The four error kinds below give callers typed values instead of
// opaque strings, so errors.As can tell them apart, while still reading
// naturally at the call site (WrongKeyError{Index: i}).

// WrongKeyError reports that a base key does not match the pubkey
// claiming a block, on decrypt or on encrypt with annex=false. Locally
// recoverable: the caller may try another key.
type WrongKeyError struct {
	Index int
}

func (e *WrongKeyError) Error() string {
	return fmt.Sprintf("safe: wrong key for block %d", e.Index)
}

// SafeFullError reports that a slice allocation requested more blocks
// than are free. Recoverable by trashing other slices or rerandomizing.
type SafeFullError struct {
	Requested, Free int
}

func (e *SafeFullError) Error() string {
	return fmt.Sprintf("safe: requested %d blocks, only %d free", e.Requested, e.Free)
}

// SafeFormatError reports that a persisted structure violates a required
// invariant. Terminal for that safe image.
type SafeFormatError struct {
	Reason string
}

func (e *SafeFormatError) Error() string {
	return "safe: invalid format: " + e.Reason
}

func formatErrorf(format string, args ...interface{}) error {
	return &SafeFormatError{Reason: fmt.Sprintf(format, args...)}
}

// InvalidArgumentError reports that a caller passed a value an operation
// rejects outright (a zero-length request, a value too large for a
// slice's capacity, a plaintext of the wrong size). Unlike
// SafeFormatError, it says nothing about the safe's on-disk state: the
// safe itself is fine, the call was wrong.
type InvalidArgumentError struct {
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return "safe: invalid argument: " + e.Reason
}

func argErrorf(format string, args ...interface{}) error {
	return &InvalidArgumentError{Reason: fmt.Sprintf(format, args...)}
}
