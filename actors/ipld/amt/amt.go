// Package amt implements a persistent, content-addressed array mapped trie
// over an IPLD store: an integer-indexed collection whose flushed root CID is
// a pure function of the occupied index set and values.
//
// Index-to-path mapping is a fixed radix decomposition: at height h a node
// spans width^(h+1) consecutive indices and branches on digit h of the index
// in base width. The root grows by wrapping in a new parent when an index
// exceeds its span, and shrinks symmetrically on delete, so equal contents
// always produce equal roots. Deleting creates a hole; indices never shift.
package amt

import (
	"bytes"
	"context"

	"github.com/filecoin-project/go-state-types/cbor"
	cid "github.com/ipfs/go-cid"
	ipldcbor "github.com/ipfs/go-ipld-cbor"
	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"
)

const defaultBitWidth = 3

// MaxIndex is the highest index an array can address.
const MaxIndex = uint64(1)<<63 - 1

// ErrMalformed indicates a stored node violating canonical form. Never
// repaired; callers must abort.
var ErrMalformed = xerrors.New("amt: malformed node")

// ErrIndexOutOfRange is returned for indices beyond MaxIndex.
var ErrIndexOutOfRange = xerrors.New("amt: index out of range")

// Option configures a root at construction or load time.
type Option func(*Root)

// UseTreeBitWidth sets the branching factor to 2^bitWidth.
// All writers and readers of an array must agree on it.
func UseTreeBitWidth(bitWidth uint) Option {
	return func(r *Root) {
		r.bitWidth = bitWidth
	}
}

// Root is the handle to an array. It records the configured branching, the
// current tree height, and the count of live (non-hole) slots.
type Root struct {
	bitWidth uint
	height   int
	count    uint64

	node  *node
	store ipldcbor.IpldStore
}

// NewAMT creates a new, empty array rooted in memory (not yet stored).
func NewAMT(store ipldcbor.IpldStore, options ...Option) (*Root, error) {
	r := &Root{
		bitWidth: defaultBitWidth,
		node:     new(node),
		store:    store,
	}
	for _, opt := range options {
		opt(r)
	}
	if err := r.checkConfig(); err != nil {
		return nil, err
	}
	return r, nil
}

// LoadAMT fetches an array root from the store.
func LoadAMT(ctx context.Context, store ipldcbor.IpldStore, root cid.Cid, options ...Option) (*Root, error) {
	var r Root
	if err := store.Get(ctx, root, &r); err != nil {
		return nil, err
	}
	r.store = store
	// The branching factor travels with the stored root; an option that
	// disagrees with it is a caller bug, not something to paper over.
	stored := r.bitWidth
	for _, opt := range options {
		opt(&r)
	}
	if r.bitWidth != stored {
		return nil, xerrors.Errorf("amt: configured bit width %d does not match stored %d", r.bitWidth, stored)
	}
	if err := r.checkConfig(); err != nil {
		return nil, err
	}
	if err := r.node.validate(r.width(), r.height); err != nil {
		return nil, err
	}
	return &r, nil
}

func (r *Root) checkConfig() error {
	if r.bitWidth < 1 || r.bitWidth > 8 {
		return xerrors.Errorf("amt: bit width must be in [1, 8], got %d", r.bitWidth)
	}
	if r.height < 0 || uint(r.height)*r.bitWidth > 63 {
		return xerrors.Errorf("amt: height %d out of range: %w", r.height, ErrMalformed)
	}
	return nil
}

func (r *Root) width() int {
	return 1 << r.bitWidth
}

// span returns the number of indices one child of a node at the given height
// covers.
func span(bitWidth uint, height int) uint64 {
	return uint64(1) << (bitWidth * uint(height))
}

// rootSpan returns the number of indices a whole tree of the given height
// addresses, saturating rather than overflowing at the widest configurations.
func rootSpan(bitWidth uint, height int) uint64 {
	shift := bitWidth * uint(height+1)
	if shift > 63 {
		return MaxIndex + 1
	}
	return uint64(1) << shift
}

// Len returns the count of live slots. Holes left by Delete do not count.
func (r *Root) Len() uint64 {
	return r.count
}

// Get retrieves the value at an index into out (if non-nil), returning
// whether the slot is occupied. A hole is a normal result, not an error.
func (r *Root) Get(ctx context.Context, i uint64, out cbor.Unmarshaler) (bool, error) {
	if i > MaxIndex {
		return false, ErrIndexOutOfRange
	}
	if i >= rootSpan(r.bitWidth, r.height) {
		return false, nil
	}
	d, found, err := r.node.get(ctx, r.store, r.bitWidth, r.height, i)
	if err != nil || !found {
		return false, err
	}
	if out != nil {
		return true, out.UnmarshalCBOR(bytes.NewReader(d.Raw))
	}
	return true, nil
}

// Set writes a value at an index, growing the tree as needed.
func (r *Root) Set(ctx context.Context, i uint64, v cbor.Marshaler) error {
	if i > MaxIndex {
		return ErrIndexOutOfRange
	}
	d, err := marshalValue(v)
	if err != nil {
		return err
	}

	for i >= rootSpan(r.bitWidth, r.height) {
		if r.node.empty() {
			// An empty tree carries no nodes to re-root; raise the height
			// directly so empty subtrees are never materialized.
			r.height++
			continue
		}
		r.node = &node{links: map[int]*link{0: {cached: r.node, dirty: true}}}
		r.height++
	}

	added, err := r.node.set(ctx, r.store, r.bitWidth, r.height, i, d)
	if err != nil {
		return err
	}
	if added {
		r.count++
	}
	return nil
}

// Append writes a value at the first index past the highest occupied slot.
// Holes are never reused: after deleting an interior index, Append still
// assigns past the old tail. Returns the assigned index.
func (r *Root) Append(ctx context.Context, v cbor.Marshaler) (uint64, error) {
	next := uint64(0)
	last, occupied, err := r.lastIndex(ctx)
	if err != nil {
		return 0, err
	}
	if occupied {
		next = last + 1
	}
	return next, r.Set(ctx, next, v)
}

// Delete removes the value at an index, leaving a hole; subsequent indices do
// not shift. Returns whether the slot was previously occupied. Subtrees left
// empty are pruned and the root shrinks so that the canonical identifier
// depends only on the remaining occupied set.
func (r *Root) Delete(ctx context.Context, i uint64) (bool, error) {
	if i > MaxIndex {
		return false, ErrIndexOutOfRange
	}
	if i >= rootSpan(r.bitWidth, r.height) {
		return false, nil
	}
	found, err := r.node.delete(ctx, r.store, r.bitWidth, r.height, i)
	if err != nil || !found {
		return found, err
	}
	r.count--
	return true, r.shrink(ctx)
}

// BatchDelete removes the given indices. When strict, all must be present.
// Returns whether anything was removed.
func (r *Root) BatchDelete(ctx context.Context, indices []uint64, strict bool) (bool, error) {
	modified := false
	for _, i := range indices {
		found, err := r.Delete(ctx, i)
		if err != nil {
			return modified, err
		}
		if strict && !found {
			return modified, xerrors.Errorf("amt: cannot delete absent index %d", i)
		}
		modified = modified || found
	}
	return modified, nil
}

// ForEach visits all occupied slots in ascending index order. The callback
// receives the raw value bytes; returning an error halts traversal.
func (r *Root) ForEach(ctx context.Context, f func(i uint64, val *cbg.Deferred) error) error {
	return r.node.forEach(ctx, r.store, r.bitWidth, r.height, 0, f)
}

// Flush serializes and writes all modified nodes bottom-up, then writes and
// returns the root CID. Until flush, mutations are invisible outside this
// handle's cache.
func (r *Root) Flush(ctx context.Context) (cid.Cid, error) {
	if err := r.node.flush(ctx, r.store, r.width(), r.height); err != nil {
		return cid.Undef, err
	}
	return r.store.Put(ctx, r)
}

// shrink collapses the root downward while its whole population lives in the
// leftmost child, and resets an emptied tree to the canonical height 0.
func (r *Root) shrink(ctx context.Context) error {
	if r.count == 0 {
		r.node = new(node)
		r.height = 0
		return nil
	}
	for r.height > 0 {
		if len(r.node.links) != 1 {
			break
		}
		ln, ok := r.node.links[0]
		if !ok {
			break
		}
		child, err := ln.load(ctx, r.store, r.width(), r.height-1)
		if err != nil {
			return err
		}
		r.node = child
		r.height--
	}
	return nil
}

// lastIndex finds the highest occupied index by walking the rightmost
// occupied path.
func (r *Root) lastIndex(ctx context.Context) (uint64, bool, error) {
	if r.count == 0 {
		return 0, false, nil
	}
	n := r.node
	height := r.height
	idx := uint64(0)
	for {
		if height == 0 {
			slot, ok := maxKeyValue(n.values)
			if !ok {
				return 0, false, xerrors.Errorf("empty leaf on occupied path: %w", ErrMalformed)
			}
			return idx + uint64(slot), true, nil
		}
		slot, ok := maxKeyLink(n.links)
		if !ok {
			return 0, false, xerrors.Errorf("empty node on occupied path: %w", ErrMalformed)
		}
		idx += uint64(slot) * span(r.bitWidth, height)
		child, err := n.links[slot].load(ctx, r.store, r.width(), height-1)
		if err != nil {
			return 0, false, err
		}
		n = child
		height--
	}
}

func maxKeyValue(m map[int]*cbg.Deferred) (int, bool) {
	max, found := 0, false
	for k := range m {
		if !found || k > max {
			max, found = k, true
		}
	}
	return max, found
}

func maxKeyLink(m map[int]*link) (int, bool) {
	max, found := 0, false
	for k := range m {
		if !found || k > max {
			max, found = k, true
		}
	}
	return max, found
}

func marshalValue(v cbor.Marshaler) (*cbg.Deferred, error) {
	if v == nil {
		return &cbg.Deferred{Raw: []byte{0xf6}}, nil // cbor null
	}
	buf := new(bytes.Buffer)
	if err := v.MarshalCBOR(buf); err != nil {
		return nil, err
	}
	return &cbg.Deferred{Raw: buf.Bytes()}, nil
}
