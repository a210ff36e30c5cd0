package adt_test

import (
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/stretchr/testify/require"
	cbg "github.com/whyrusleeping/cbor-gen"

	"github.com/worlddbs/actor-runtime/actors/util/adt"
	"github.com/worlddbs/actor-runtime/support/mock"
)

func TestArrayNotFound(t *testing.T) {
	rt := mock.NewBuilder(address.Undef).Build(t)
	store := adt.AsStore(rt)
	arr, err := adt.MakeEmptyArray(store, 3)
	require.NoError(t, err)

	found, err := arr.Get(7, nil)
	require.NoError(t, err)
	require.False(t, found)
}

func TestArrayAppendSkipsHoles(t *testing.T) {
	rt := mock.NewBuilder(address.Undef).Build(t)
	store := adt.AsStore(rt)
	arr, err := adt.MakeEmptyArray(store, 3)
	require.NoError(t, err)

	for i := int64(0); i < 3; i++ {
		v := cbg.CborInt(i * 10)
		require.NoError(t, arr.Set(uint64(i), &v))
	}
	require.NoError(t, arr.Delete(1))
	require.Equal(t, uint64(2), arr.Length())

	v := cbg.CborInt(40)
	idx, err := arr.Append(&v)
	require.NoError(t, err)
	require.Equal(t, uint64(3), idx)

	found, err := arr.Get(1, nil)
	require.NoError(t, err)
	require.False(t, found)
}

func TestArrayRoundTrip(t *testing.T) {
	rt := mock.NewBuilder(address.Undef).Build(t)
	store := adt.AsStore(rt)
	arr, err := adt.MakeEmptyArray(store, 3)
	require.NoError(t, err)

	for i := int64(0); i < 50; i++ {
		v := cbg.CborInt(i)
		require.NoError(t, arr.Set(uint64(i*3), &v))
	}
	root, err := arr.Root()
	require.NoError(t, err)

	loaded, err := adt.AsArray(store, root, 3)
	require.NoError(t, err)
	require.Equal(t, arr.Length(), loaded.Length())

	var out cbg.CborInt
	found, err := loaded.Get(9, &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, cbg.CborInt(3), out)
}
