package verity

import (
	"fmt"
)

// CorruptionError is returned when a digest comparison fails,
// meaning the data or the tree content feeding it does not match
// the authenticated root.
//
// Corruption is never retried: re-reading tampered or rotted storage
// cannot make it match. Enforcement policy belongs to the caller.
type CorruptionError struct {
	// Byte position of the data block whose verification failed.
	Pos uint64

	// Level of the mismatching digest:
	// 0 is the data block itself,
	// 1 through the tree height are hash levels
	// counted from the leaf-hash level.
	Level int

	// The digest demanded by the already-trusted parent,
	// and the digest actually computed.
	Want, Got []byte
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf(
		"data corrupted: pos=%d level=%d want=%x got=%x",
		e.Pos, e.Level, e.Want, e.Got,
	)
}
