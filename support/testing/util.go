package testing

import (
	"testing"

	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"
)

type rooter interface {
	Root() (cid.Cid, error)
}

func MustRoot(t testing.TB, r rooter) cid.Cid {
	c, err := r.Root()
	require.NoError(t, err)
	return c
}
