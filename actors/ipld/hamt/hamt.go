// Package hamt implements a persistent, content-addressed hash array mapped
// trie over an IPLD store.
//
// Every mutation is a path copy: only nodes between the root and the touched
// leaf are rewritten, siblings are shared with prior versions by content
// identifier. A flushed root CID is a pure function of the logical key-value
// contents, independent of the order operations were applied in. The trie is
// consensus-critical state: any change to the node layout, bucket threshold or
// collapse rule changes every root CID.
package hamt

import (
	"bytes"
	"context"
	"math/big"
	"sort"

	"github.com/filecoin-project/go-state-types/cbor"
	cid "github.com/ipfs/go-cid"
	ipldcbor "github.com/ipfs/go-ipld-cbor"
	sha256 "github.com/minio/sha256-simd"
	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"
)

// BucketSize is the maximum number of entries held inline in a leaf bucket
// before it is split into a child node. This is a protocol constant: changing
// it changes the canonical form, and hence the root CID, of every non-trivial
// tree.
const BucketSize = 3

// Trees branch on 2^bitWidth-wide groups of key hash bits.
const defaultBitWidth = 5

// ErrMalformed indicates a stored node that decoded but violates the canonical
// form (bitfield/pointer mismatch, unsorted or empty buckets, padded
// bitfield). It is never repaired in place; callers must abort.
var ErrMalformed = xerrors.New("hamt: malformed node")

// Option configures a node at construction or load time.
type Option func(*Node)

// UseTreeBitWidth sets the branching factor to 2^bitWidth. All writers and
// readers of a tree must agree on it.
func UseTreeBitWidth(bitWidth int) Option {
	return func(n *Node) {
		n.bitWidth = bitWidth
	}
}

// UseHashFunction overrides the key hash function. The function must be
// deterministic and fixed-width. All writers and readers of a tree must agree
// on it.
func UseHashFunction(hash func([]byte) []byte) Option {
	return func(n *Node) {
		n.hash = hash
	}
}

func defaultHashFunction(input []byte) []byte {
	res := sha256.Sum256(input)
	return res[:]
}

// Node is a single trie node. The root node doubles as the handle for the
// whole tree, carrying the store and configuration for traversals.
type Node struct {
	bitfield *big.Int
	pointers []*Pointer

	bitWidth int
	hash     func([]byte) []byte
	store    ipldcbor.IpldStore
}

// Pointer is one slot of a node: either a link to a child node (shard) or an
// inline bucket of up to BucketSize key-value entries, sorted by key bytes.
type Pointer struct {
	KVs  []*KV
	Link cid.Cid

	// In-memory child for this call's lifetime; dirty when it diverges from
	// Link and must be rewritten on flush.
	cache *Node
	dirty bool
}

// KV is a single entry. The value is retained as raw canonical CBOR so that
// re-serializing a node is byte-stable regardless of the value's Go type.
type KV struct {
	Key   []byte
	Value *cbg.Deferred
}

func (p *Pointer) isShard() bool {
	return p.Link.Defined() || p.cache != nil
}

// NewNode creates a new, empty tree rooted in memory (not yet stored).
func NewNode(store ipldcbor.IpldStore, options ...Option) (*Node, error) {
	n := &Node{
		bitfield: big.NewInt(0),
		bitWidth: defaultBitWidth,
		hash:     defaultHashFunction,
		store:    store,
	}
	for _, opt := range options {
		opt(n)
	}
	if err := n.checkConfig(); err != nil {
		return nil, err
	}
	return n, nil
}

// LoadNode fetches a tree root from the store.
func LoadNode(ctx context.Context, store ipldcbor.IpldStore, root cid.Cid, options ...Option) (*Node, error) {
	var n Node
	if err := store.Get(ctx, root, &n); err != nil {
		return nil, err
	}
	n.bitWidth = defaultBitWidth
	n.hash = defaultHashFunction
	n.store = store
	for _, opt := range options {
		opt(&n)
	}
	if err := n.checkConfig(); err != nil {
		return nil, err
	}
	if err := n.validateBucketBound(0); err != nil {
		return nil, err
	}
	return &n, nil
}

func (n *Node) checkConfig() error {
	if n.bitWidth < 1 || n.bitWidth > 8 {
		return xerrors.Errorf("hamt: bit width must be in [1, 8], got %d", n.bitWidth)
	}
	if n.hash == nil {
		return xerrors.New("hamt: nil hash function")
	}
	return nil
}

// Find looks up a key, decoding the value into out if non-nil.
// A missing key is a normal result, not an error.
func (n *Node) Find(ctx context.Context, k string, out cbor.Unmarshaler) (bool, error) {
	hv := newHashBits(n.hash([]byte(k)))
	return n.getValue(ctx, hv, []byte(k), out)
}

// Set inserts or overwrites a key. Writing byte-identical content for an
// existing key leaves the canonical structure unchanged.
func (n *Node) Set(ctx context.Context, k string, v cbor.Marshaler) error {
	d, err := marshalValue(v)
	if err != nil {
		return err
	}
	hv := newHashBits(n.hash([]byte(k)))
	_, err = n.setValue(ctx, hv, []byte(k), d, true)
	return err
}

// SetIfAbsent inserts a key only if it is not already present.
// Returns whether the tree was modified.
func (n *Node) SetIfAbsent(ctx context.Context, k string, v cbor.Marshaler) (bool, error) {
	d, err := marshalValue(v)
	if err != nil {
		return false, err
	}
	hv := newHashBits(n.hash([]byte(k)))
	return n.setValue(ctx, hv, []byte(k), d, false)
}

// Delete removes a key, returning whether it was present. Nodes left with few
// enough entries collapse back to inline buckets so that the canonical form
// never depends on deletion history.
func (n *Node) Delete(ctx context.Context, k string) (bool, error) {
	hv := newHashBits(n.hash([]byte(k)))
	return n.deleteValue(ctx, hv, []byte(k))
}

// ForEach traverses all entries in deterministic trie order (ascending
// hash-fragment, then ascending key bytes within a bucket). The callback
// receives the raw value bytes; returning an error halts traversal.
func (n *Node) ForEach(ctx context.Context, f func(k string, val *cbg.Deferred) error) error {
	return n.forEach(ctx, 0, f)
}

func (n *Node) forEach(ctx context.Context, consumed int, f func(k string, val *cbg.Deferred) error) error {
	for _, p := range n.pointers {
		if p.isShard() {
			child, err := p.loadChild(ctx, n, consumed+n.bitWidth)
			if err != nil {
				return err
			}
			if err := child.forEach(ctx, consumed+n.bitWidth, f); err != nil {
				return err
			}
			continue
		}
		for _, kv := range p.KVs {
			if err := f(string(kv.Key), kv.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// Flush serializes and writes all modified nodes bottom-up. It must be called
// before the root is written or its CID taken; until then mutations are
// invisible outside this tree's in-memory cache.
func (n *Node) Flush(ctx context.Context) error {
	for _, p := range n.pointers {
		if p.cache != nil && p.dirty {
			if err := p.cache.Flush(ctx); err != nil {
				return err
			}
			c, err := n.store.Put(ctx, p.cache)
			if err != nil {
				return err
			}
			p.Link = c
			p.dirty = false
		}
	}
	return nil
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

func (n *Node) getValue(ctx context.Context, hv *hashBits, k []byte, out cbor.Unmarshaler) (bool, error) {
	idx, err := hv.Next(n.bitWidth)
	if err != nil {
		// A well-formed tree never outruns the key hash.
		return false, xerrors.Errorf("traversal exceeded hash length: %w", ErrMalformed)
	}
	if n.bitfield.Bit(idx) == 0 {
		return false, nil
	}
	p := n.pointers[n.indexForBitPos(idx)]
	if p.isShard() {
		child, err := p.loadChild(ctx, n, hv.consumed)
		if err != nil {
			return false, err
		}
		return child.getValue(ctx, hv, k, out)
	}
	// Linear scan; this also covers full-hash collisions sharing a bucket.
	for _, kv := range p.KVs {
		if bytes.Equal(kv.Key, k) {
			if out != nil {
				return true, out.UnmarshalCBOR(bytes.NewReader(kv.Value.Raw))
			}
			return true, nil
		}
	}
	return false, nil
}

func (n *Node) setValue(ctx context.Context, hv *hashBits, k []byte, v *cbg.Deferred, overwrite bool) (bool, error) {
	idx, err := hv.Next(n.bitWidth)
	if err != nil {
		return false, xerrors.Errorf("traversal exceeded hash length: %w", ErrMalformed)
	}

	if n.bitfield.Bit(idx) == 0 {
		n.insertPointer(idx, &Pointer{KVs: []*KV{{Key: k, Value: v}}})
		return true, nil
	}

	cindex := n.indexForBitPos(idx)
	p := n.pointers[cindex]
	if p.isShard() {
		child, err := p.loadChild(ctx, n, hv.consumed)
		if err != nil {
			return false, err
		}
		modified, err := child.setValue(ctx, hv, k, v, overwrite)
		if err != nil {
			return false, err
		}
		if modified {
			p.dirty = true
		}
		return modified, nil
	}

	for _, kv := range p.KVs {
		if bytes.Equal(kv.Key, k) {
			if !overwrite {
				return false, nil
			}
			kv.Value = v
			return true, nil
		}
	}

	// Buckets overflow into a child node, except when the hash is exhausted:
	// then all colliding keys stay in one oversized bucket and are scanned
	// linearly.
	if len(p.KVs) < BucketSize || hv.remaining() < n.bitWidth {
		p.KVs = insertKV(p.KVs, &KV{Key: k, Value: v})
		return true, nil
	}

	sub := &Node{
		bitfield: big.NewInt(0),
		bitWidth: n.bitWidth,
		hash:     n.hash,
		store:    n.store,
	}
	consumed := hv.consumed
	for _, kv := range p.KVs {
		chv := &hashBits{b: n.hash(kv.Key), consumed: consumed}
		if _, err := sub.setValue(ctx, chv, kv.Key, kv.Value, true); err != nil {
			return false, err
		}
	}
	if _, err := sub.setValue(ctx, hv, k, v, true); err != nil {
		return false, err
	}
	n.pointers[cindex] = &Pointer{cache: sub, dirty: true}
	return true, nil
}

func (n *Node) deleteValue(ctx context.Context, hv *hashBits, k []byte) (bool, error) {
	idx, err := hv.Next(n.bitWidth)
	if err != nil {
		return false, xerrors.Errorf("traversal exceeded hash length: %w", ErrMalformed)
	}
	if n.bitfield.Bit(idx) == 0 {
		return false, nil
	}

	cindex := n.indexForBitPos(idx)
	p := n.pointers[cindex]
	if p.isShard() {
		child, err := p.loadChild(ctx, n, hv.consumed)
		if err != nil {
			return false, err
		}
		found, err := child.deleteValue(ctx, hv, k)
		if err != nil || !found {
			return found, err
		}
		p.dirty = true
		return true, n.cleanChild(child, cindex)
	}

	for i, kv := range p.KVs {
		if bytes.Equal(kv.Key, k) {
			if len(p.KVs) == 1 {
				n.removePointer(idx, cindex)
			} else {
				p.KVs = append(p.KVs[:i], p.KVs[i+1:]...)
			}
			return true, nil
		}
	}
	return false, nil
}

// cleanChild restores the canonical form after a deletion inside a child: a
// child left holding only buckets with at most BucketSize entries in total
// collapses back into a single bucket in the parent. The canonical identifier
// of a tree thereby depends only on its final key set, not on how it got
// there.
func (n *Node) cleanChild(chnd *Node, cindex int) error {
	if len(chnd.pointers) == 0 {
		return xerrors.Errorf("child with no pointers: %w", ErrMalformed)
	}
	if len(chnd.pointers) > BucketSize {
		return nil
	}
	var kvs []*KV
	for _, p := range chnd.pointers {
		if p.isShard() {
			return nil
		}
		for _, kv := range p.KVs {
			if len(kvs) >= BucketSize {
				return nil
			}
			kvs = append(kvs, kv)
		}
	}
	sort.Slice(kvs, func(i, j int) bool {
		return bytes.Compare(kvs[i].Key, kvs[j].Key) < 0
	})
	n.pointers[cindex] = &Pointer{KVs: kvs}
	return nil
}

func insertKV(kvs []*KV, kv *KV) []*KV {
	i := sort.Search(len(kvs), func(i int) bool {
		return bytes.Compare(kvs[i].Key, kv.Key) >= 0
	})
	kvs = append(kvs, nil)
	copy(kvs[i+1:], kvs[i:])
	kvs[i] = kv
	return kvs
}

func (n *Node) insertPointer(idx int, p *Pointer) {
	cindex := n.indexForBitPos(idx)
	n.pointers = append(n.pointers, nil)
	copy(n.pointers[cindex+1:], n.pointers[cindex:])
	n.pointers[cindex] = p
	n.bitfield.SetBit(n.bitfield, idx, 1)
}

func (n *Node) removePointer(idx, cindex int) {
	n.pointers = append(n.pointers[:cindex], n.pointers[cindex+1:]...)
	n.bitfield.SetBit(n.bitfield, idx, 0)
}

// indexForBitPos maps a bit position in the bitfield to the compacted pointer
// index: the count of set bits below it.
func (n *Node) indexForBitPos(bp int) int {
	count := 0
	for i := 0; i < bp; i++ {
		if n.bitfield.Bit(i) == 1 {
			count++
		}
	}
	return count
}

func (p *Pointer) loadChild(ctx context.Context, parent *Node, consumed int) (*Node, error) {
	if p.cache != nil {
		return p.cache, nil
	}
	var child Node
	if err := parent.store.Get(ctx, p.Link, &child); err != nil {
		return nil, err
	}
	child.bitWidth = parent.bitWidth
	child.hash = parent.hash
	child.store = parent.store
	if err := child.validateBucketBound(consumed); err != nil {
		return nil, err
	}
	p.cache = &child
	return &child, nil
}

// validateBucketBound completes the canonical-form checks that need the tree
// configuration: buckets larger than BucketSize exist only where the key hash
// is exhausted; the write path never produces them higher up. consumed is the
// number of hash bits spent reaching this node from the root.
func (n *Node) validateBucketBound(consumed int) error {
	totalBits := len(n.hash(nil)) * 8
	if totalBits-consumed-n.bitWidth < n.bitWidth {
		return nil
	}
	for _, p := range n.pointers {
		if !p.isShard() && len(p.KVs) > BucketSize {
			return xerrors.Errorf("bucket of %d entries above hash exhaustion depth: %w", len(p.KVs), ErrMalformed)
		}
	}
	return nil
}
