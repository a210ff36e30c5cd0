package hamt

import (
	"bytes"
	"io"
	"math/big"
	"math/bits"

	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"
)

// Wire form of a node: a 2-tuple of the occupancy bitfield (minimal big-endian
// bytes) and the compacted pointer array. A pointer is kinded by its CBOR
// major type: a tagged CID for a child link, an array of [key, value] pairs
// for an inline bucket. There is no other header or framing; the encoding is
// canonical and any deviation is rejected on read.

const maxBitfieldBytes = 32 // 2^8 slots at the maximum bit width

func (n *Node) MarshalCBOR(w io.Writer) error {
	scratch := make([]byte, 9)

	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajArray, 2); err != nil {
		return err
	}

	bf := n.bitfield.Bytes()
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajByteString, uint64(len(bf))); err != nil {
		return err
	}
	if _, err := w.Write(bf); err != nil {
		return err
	}

	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajArray, uint64(len(n.pointers))); err != nil {
		return err
	}
	for _, p := range n.pointers {
		if err := p.marshalCBOR(scratch, w); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pointer) marshalCBOR(scratch []byte, w io.Writer) error {
	if p.dirty {
		return xerrors.New("hamt: attempted to serialize node with unflushed child")
	}
	if p.isShard() {
		return cbg.WriteCidBuf(scratch, w, p.Link)
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajArray, uint64(len(p.KVs))); err != nil {
		return err
	}
	for _, kv := range p.KVs {
		if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajArray, 2); err != nil {
			return err
		}
		if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajByteString, uint64(len(kv.Key))); err != nil {
			return err
		}
		if _, err := w.Write(kv.Key); err != nil {
			return err
		}
		if _, err := w.Write(kv.Value.Raw); err != nil {
			return err
		}
	}
	return nil
}

func (n *Node) UnmarshalCBOR(r io.Reader) error {
	br := cbg.GetPeeker(r)
	scratch := make([]byte, 8)

	maj, extra, err := cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return err
	}
	if maj != cbg.MajArray || extra != 2 {
		return ErrMalformed
	}

	maj, extra, err = cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return err
	}
	if maj != cbg.MajByteString || extra > maxBitfieldBytes {
		return ErrMalformed
	}
	bf := make([]byte, extra)
	if _, err := io.ReadFull(br, bf); err != nil {
		return err
	}
	if len(bf) > 0 && bf[0] == 0 {
		// Non-minimal bitfield encodings would open a second byte form for
		// the same logical node.
		return ErrMalformed
	}
	n.bitfield = new(big.Int).SetBytes(bf)

	maj, extra, err = cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return err
	}
	if maj != cbg.MajArray || extra > 1<<8 {
		return ErrMalformed
	}
	n.pointers = make([]*Pointer, 0, extra)
	for i := uint64(0); i < extra; i++ {
		p := new(Pointer)
		if err := p.unmarshalCBOR(br, scratch); err != nil {
			return err
		}
		n.pointers = append(n.pointers, p)
	}

	return n.validateCanonical()
}

func (p *Pointer) unmarshalCBOR(br cbg.BytePeeker, scratch []byte) error {
	b, err := br.ReadByte()
	if err != nil {
		return err
	}
	if err := br.UnreadByte(); err != nil {
		return err
	}

	switch b >> 5 {
	case cbg.MajTag:
		c, err := cbg.ReadCid(br)
		if err != nil {
			return err
		}
		if !c.Defined() {
			return ErrMalformed
		}
		p.Link = c
		return nil
	case cbg.MajArray:
		maj, extra, err := cbg.CborReadHeaderBuf(br, scratch)
		if err != nil {
			return err
		}
		if maj != cbg.MajArray || extra > 1<<10 {
			return ErrMalformed
		}
		p.KVs = make([]*KV, 0, extra)
		for i := uint64(0); i < extra; i++ {
			kv, err := unmarshalKV(br, scratch)
			if err != nil {
				return err
			}
			p.KVs = append(p.KVs, kv)
		}
		return nil
	default:
		return ErrMalformed
	}
}

func unmarshalKV(br cbg.BytePeeker, scratch []byte) (*KV, error) {
	maj, extra, err := cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return nil, err
	}
	if maj != cbg.MajArray || extra != 2 {
		return nil, ErrMalformed
	}
	maj, extra, err = cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return nil, err
	}
	if maj != cbg.MajByteString || extra > cbg.ByteArrayMaxLen {
		return nil, ErrMalformed
	}
	key := make([]byte, extra)
	if _, err := io.ReadFull(br, key); err != nil {
		return nil, err
	}
	var val cbg.Deferred
	if err := val.UnmarshalCBOR(br); err != nil {
		return nil, err
	}
	return &KV{Key: key, Value: &val}, nil
}

// validateCanonical rejects decoded nodes that could not have been produced
// by this implementation's write path.
func (n *Node) validateCanonical() error {
	count := 0
	for _, w := range n.bitfield.Bits() {
		count += bits.OnesCount(uint(w))
	}
	if count != len(n.pointers) {
		return xerrors.Errorf("bitfield occupancy %d does not match %d pointers: %w",
			count, len(n.pointers), ErrMalformed)
	}
	for _, p := range n.pointers {
		if p.isShard() {
			continue
		}
		if len(p.KVs) == 0 {
			return xerrors.Errorf("empty bucket: %w", ErrMalformed)
		}
		for i := 1; i < len(p.KVs); i++ {
			if bytes.Compare(p.KVs[i-1].Key, p.KVs[i].Key) >= 0 {
				return xerrors.Errorf("bucket keys out of order: %w", ErrMalformed)
			}
		}
	}
	return nil
}
