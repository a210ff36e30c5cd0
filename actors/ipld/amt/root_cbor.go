package amt

import (
	"io"

	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"
)

// Root wire form: a 4-tuple [bitWidth, height, count, node]. The branching
// factor rides with the data so a loaded array always decodes with the
// geometry it was written with.

func (r *Root) MarshalCBOR(w io.Writer) error {
	scratch := make([]byte, 9)
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajArray, 4); err != nil {
		return err
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajUnsignedInt, uint64(r.bitWidth)); err != nil {
		return err
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajUnsignedInt, uint64(r.height)); err != nil {
		return err
	}
	if err := cbg.WriteMajorTypeHeaderBuf(scratch, w, cbg.MajUnsignedInt, r.count); err != nil {
		return err
	}
	return r.node.marshalCBOR(w, r.width())
}

func (r *Root) UnmarshalCBOR(rd io.Reader) error {
	br := cbg.GetPeeker(rd)
	scratch := make([]byte, 8)

	maj, extra, err := cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return err
	}
	if maj != cbg.MajArray || extra != 4 {
		return ErrMalformed
	}

	maj, extra, err = cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return err
	}
	if maj != cbg.MajUnsignedInt || extra < 1 || extra > 8 {
		return xerrors.Errorf("invalid bit width %d: %w", extra, ErrMalformed)
	}
	r.bitWidth = uint(extra)

	maj, extra, err = cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return err
	}
	if maj != cbg.MajUnsignedInt || uint(extra)*r.bitWidth > 63 {
		return xerrors.Errorf("invalid height %d: %w", extra, ErrMalformed)
	}
	r.height = int(extra)

	maj, extra, err = cbg.CborReadHeaderBuf(br, scratch)
	if err != nil {
		return err
	}
	if maj != cbg.MajUnsignedInt {
		return ErrMalformed
	}
	r.count = extra

	r.node = new(node)
	return r.node.unmarshalCBOR(br)
}
