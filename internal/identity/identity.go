// Package identity implements component A of SPEC_FULL.md: the run-unique
// TestItem identifier. Display names are composed by
// model.FormatDisplayName.
package identity

import (
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"time"
)

// NewUUID derives a TestItem identifier from its display name per
// spec.md §3: "hash(display_name) ⊕ microsecond timestamp ⊕ 5-digit
// random — unique across a run with overwhelming probability."
//
// The three components are concatenated rather than XOR'd bitwise: XOR
// of a hash with a timestamp of different bit-width is not how the
// source (non-cryptographic, display-oriented) actually achieves
// uniqueness — concatenation of independently-varying components gives
// the same practical guarantee and stays human-legible in log output.
func NewUUID(displayName string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(displayName))

	micros := time.Now().UnixMicro()
	suffix := rand.IntN(100000)

	return fmt.Sprintf("%016x-%d-%05d", h.Sum64(), micros, suffix)
}
