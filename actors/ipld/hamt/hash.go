package hamt

import (
	"golang.org/x/xerrors"
)

// ErrHashExhausted signals that a traversal consumed every bit of a key hash.
// Callers treat it as the trigger for the collision bucket fallback; it never
// escapes the public API for well-formed trees.
var ErrHashExhausted = xerrors.New("hamt: key hash exhausted")

// hashBits wraps a key hash and deals it out in fixed-width bit groups,
// most significant bits first. Successive calls to Next walk one trie level
// deeper each.
type hashBits struct {
	b        []byte
	consumed int
}

func newHashBits(hash []byte) *hashBits {
	return &hashBits{b: hash}
}

func (hb *hashBits) remaining() int {
	return len(hb.b)*8 - hb.consumed
}

// Next returns the next i bits of the hash as an integer, or ErrHashExhausted
// if fewer than i bits remain.
func (hb *hashBits) Next(i int) (int, error) {
	if hb.remaining() < i {
		return 0, ErrHashExhausted
	}
	out := 0
	for n := 0; n < i; n++ {
		byteIdx := hb.consumed / 8
		bitIdx := 7 - hb.consumed%8
		bit := int(hb.b[byteIdx]>>uint(bitIdx)) & 1
		out = out<<1 | bit
		hb.consumed++
	}
	return out, nil
}
