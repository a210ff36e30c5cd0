package amt

import (
	"context"
	"io"
	"math/bits"

	cid "github.com/ipfs/go-cid"
	ipldcbor "github.com/ipfs/go-ipld-cbor"
	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"
)

// node is one trie node. Interior nodes (height > 0) hold links, leaves hold
// values; slots are keyed by the index digit at that height. Absent slots are
// holes.
type node struct {
	links  map[int]*link
	values map[int]*cbg.Deferred

	// retained from decoding to verify the stored bitmap matched the
	// configured width
	bmapLen int
}

// link references a child node, caching the loaded copy for this call's
// lifetime; dirty when the cache diverges from the stored cid.
type link struct {
	cid    cid.Cid
	cached *node
	dirty  bool
}

func (n *node) empty() bool {
	return len(n.links) == 0 && len(n.values) == 0
}

func (n *node) get(ctx context.Context, store ipldcbor.IpldStore, bitWidth uint, height int, i uint64) (*cbg.Deferred, bool, error) {
	if height == 0 {
		d, ok := n.values[int(i)]
		return d, ok, nil
	}
	sp := span(bitWidth, height)
	ln, ok := n.links[int(i/sp)]
	if !ok {
		return nil, false, nil
	}
	child, err := ln.load(ctx, store, 1<<bitWidth, height-1)
	if err != nil {
		return nil, false, err
	}
	return child.get(ctx, store, bitWidth, height-1, i%sp)
}

func (n *node) set(ctx context.Context, store ipldcbor.IpldStore, bitWidth uint, height int, i uint64, d *cbg.Deferred) (bool, error) {
	if height == 0 {
		if n.values == nil {
			n.values = make(map[int]*cbg.Deferred)
		}
		_, present := n.values[int(i)]
		n.values[int(i)] = d
		return !present, nil
	}

	sp := span(bitWidth, height)
	slot := int(i / sp)
	ln, ok := n.links[slot]
	if !ok {
		ln = &link{cached: new(node), dirty: true}
		if n.links == nil {
			n.links = make(map[int]*link)
		}
		n.links[slot] = ln
	}
	child, err := ln.load(ctx, store, 1<<bitWidth, height-1)
	if err != nil {
		return false, err
	}
	added, err := child.set(ctx, store, bitWidth, height-1, i%sp, d)
	if err != nil {
		return false, err
	}
	ln.dirty = true
	return added, nil
}

func (n *node) delete(ctx context.Context, store ipldcbor.IpldStore, bitWidth uint, height int, i uint64) (bool, error) {
	if height == 0 {
		if _, present := n.values[int(i)]; !present {
			return false, nil
		}
		delete(n.values, int(i))
		return true, nil
	}

	sp := span(bitWidth, height)
	slot := int(i / sp)
	ln, ok := n.links[slot]
	if !ok {
		return false, nil
	}
	child, err := ln.load(ctx, store, 1<<bitWidth, height-1)
	if err != nil {
		return false, err
	}
	found, err := child.delete(ctx, store, bitWidth, height-1, i%sp)
	if err != nil || !found {
		return found, err
	}
	if child.empty() {
		// Empty subtrees are pruned, not persisted.
		delete(n.links, slot)
	} else {
		ln.dirty = true
	}
	return true, nil
}

func (n *node) forEach(ctx context.Context, store ipldcbor.IpldStore, bitWidth uint, height int, offset uint64, f func(uint64, *cbg.Deferred) error) error {
	width := 1 << bitWidth
	if height == 0 {
		for i := 0; i < width; i++ {
			if d, ok := n.values[i]; ok {
				if err := f(offset+uint64(i), d); err != nil {
					return err
				}
			}
		}
		return nil
	}
	sp := span(bitWidth, height)
	for i := 0; i < width; i++ {
		ln, ok := n.links[i]
		if !ok {
			continue
		}
		child, err := ln.load(ctx, store, width, height-1)
		if err != nil {
			return err
		}
		if err := child.forEach(ctx, store, bitWidth, height-1, offset+uint64(i)*sp, f); err != nil {
			return err
		}
	}
	return nil
}

func (n *node) flush(ctx context.Context, store ipldcbor.IpldStore, width, height int) error {
	if height == 0 {
		return nil
	}
	for _, ln := range n.links {
		if ln.cached == nil || !ln.dirty {
			continue
		}
		if err := ln.cached.flush(ctx, store, width, height-1); err != nil {
			return err
		}
		c, err := store.Put(ctx, &nodeEnvelope{n: ln.cached, width: width})
		if err != nil {
			return err
		}
		ln.cid = c
		ln.dirty = false
	}
	return nil
}

func (ln *link) load(ctx context.Context, store ipldcbor.IpldStore, width, height int) (*node, error) {
	if ln.cached != nil {
		return ln.cached, nil
	}
	env := &nodeEnvelope{n: new(node), width: width}
	if err := store.Get(ctx, ln.cid, env); err != nil {
		return nil, err
	}
	if err := env.n.validate(width, height); err != nil {
		return nil, err
	}
	if env.n.empty() {
		return nil, xerrors.Errorf("empty non-root node: %w", ErrMalformed)
	}
	ln.cached = env.n
	return env.n, nil
}

func (n *node) validate(width, height int) error {
	if n.bmapLen != 0 && n.bmapLen != (width+7)/8 {
		return xerrors.Errorf("bitmap length %d does not match width %d: %w", n.bmapLen, width, ErrMalformed)
	}
	if height == 0 && len(n.links) > 0 {
		return xerrors.Errorf("links in leaf node: %w", ErrMalformed)
	}
	if height > 0 && len(n.values) > 0 {
		return xerrors.Errorf("values in interior node: %w", ErrMalformed)
	}
	for slot := range n.links {
		if slot < 0 || slot >= width {
			return xerrors.Errorf("slot %d out of width %d: %w", slot, width, ErrMalformed)
		}
	}
	for slot := range n.values {
		if slot < 0 || slot >= width {
			return xerrors.Errorf("slot %d out of width %d: %w", slot, width, ErrMalformed)
		}
	}
	return nil
}

// Wire form of a node: a 3-tuple [bitmap bytes, links, values] where the
// bitmap (little-endian bit order, fixed (width+7)/8 bytes) marks occupied
// slots and exactly one of the two compacted arrays is populated. The
// envelope exists because canonical serialization needs the configured width,
// which nodes do not carry at runtime.
type nodeEnvelope struct {
	n     *node
	width int
}

func (e *nodeEnvelope) MarshalCBOR(w io.Writer) error {
	return e.n.marshalCBOR(w, e.width)
}

func (e *nodeEnvelope) UnmarshalCBOR(r io.Reader) error {
	return e.n.unmarshalCBOR(r)
}

func (n *node) marshalCBOR(w io.Writer, width int) error {
	scratch := make([]byte, 9)
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajArray, 3); err != nil {
		return err
	}

	bmap := make([]byte, (width+7)/8)
	for i := 0; i < width; i++ {
		_, inLinks := n.links[i]
		_, inValues := n.values[i]
		if inLinks || inValues {
			bmap[i/8] |= 1 << uint(i%8)
		}
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajByteString, uint64(len(bmap))); err != nil {
		return err
	}
	if _, err := w.Write(bmap); err != nil {
		return err
	}

	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajArray, uint64(len(n.links))); err != nil {
		return err
	}
	for i := 0; i < width; i++ {
		ln, ok := n.links[i]
		if !ok {
			continue
		}
		if ln.dirty {
			return xerrors.New("amt: attempted to serialize node with unflushed child")
		}
		if err := cbg.WriteCidBuf(scratch, w, ln.cid); err != nil {
			return err
		}
	}

	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajArray, uint64(len(n.values))); err != nil {
		return err
	}
	for i := 0; i < width; i++ {
		d, ok := n.values[i]
		if !ok {
			continue
		}
		if _, err := w.Write(d.Raw); err != nil {
			return err
		}
	}
	return nil
}

func (n *node) unmarshalCBOR(r io.Reader) error {
	br := cbg.GetPeeker(r)
	scratch := make([]byte, 8)

	maj, extra, err := cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return err
	}
	if maj != cbg.MajArray || extra != 3 {
		return ErrMalformed
	}

	maj, extra, err = cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return err
	}
	if maj != cbg.MajByteString || extra > 32 {
		return ErrMalformed
	}
	bmap := make([]byte, extra)
	if _, err := io.ReadFull(br, bmap); err != nil {
		return err
	}
	n.bmapLen = len(bmap)

	var slots []int
	occupied := 0
	for i, b := range bmap {
		occupied += bits.OnesCount8(b)
		for j := 0; j < 8; j++ {
			if b&(1<<uint(j)) != 0 {
				slots = append(slots, i*8+j)
			}
		}
	}

	maj, nlinks, err := cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return err
	}
	if maj != cbg.MajArray || nlinks > 1<<8 {
		return ErrMalformed
	}
	if int(nlinks) > occupied {
		return xerrors.Errorf("bitmap occupancy %d does not cover %d links: %w", occupied, nlinks, ErrMalformed)
	}
	if nlinks > 0 {
		n.links = make(map[int]*link, nlinks)
		for i := uint64(0); i < nlinks; i++ {
			c, err := cbg.ReadCid(br)
			if err != nil {
				return err
			}
			n.links[slots[i]] = &link{cid: c}
		}
	}

	maj, nvals, err := cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return err
	}
	if maj != cbg.MajArray || nvals > 1<<8 {
		return ErrMalformed
	}
	if nlinks > 0 && nvals > 0 {
		return xerrors.Errorf("node holds both links and values: %w", ErrMalformed)
	}
	if int(nlinks+nvals) != occupied {
		return xerrors.Errorf("bitmap occupancy %d does not match %d entries: %w", occupied, nlinks+nvals, ErrMalformed)
	}
	if nvals > 0 {
		n.values = make(map[int]*cbg.Deferred, nvals)
		for i := uint64(0); i < nvals; i++ {
			var d cbg.Deferred
			if err := d.UnmarshalCBOR(br); err != nil {
				return err
			}
			n.values[slots[i]] = &d
		}
	}
	return nil
}
