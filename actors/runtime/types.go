package runtime

import (
	"io"
	"io/ioutil"
)

// CBORBytes is a byte slice that passes through CBOR encoding unmodified, for
// forwarding already-encoded parameters.
type CBORBytes []byte

func (b CBORBytes) MarshalCBOR(w io.Writer) error {
	_, err := w.Write(b)
	return err
}

func (b *CBORBytes) UnmarshalCBOR(r io.Reader) error {
	var err error
	*b, err = ioutil.ReadAll(r)
	return err
}
