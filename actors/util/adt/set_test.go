package adt_test

import (
	"testing"

	"github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worlddbs/actor-runtime/actors/builtin"
	"github.com/worlddbs/actor-runtime/actors/util/adt"
	"github.com/worlddbs/actor-runtime/support/mock"
)

func TestSetPutHasDelete(t *testing.T) {
	rt := mock.NewBuilder(address.Undef).Build(t)
	store := adt.AsStore(rt)
	set, err := adt.MakeEmptySet(store, builtin.DefaultHamtBitwidth)
	require.NoError(t, err)

	k := abi.UIntKey(7)
	has, err := set.Has(k)
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, set.Put(k))
	has, err = set.Has(k)
	require.NoError(t, err)
	assert.True(t, has)

	// Put is idempotent.
	require.NoError(t, set.Put(k))

	removed, err := set.TryDelete(k)
	require.NoError(t, err)
	assert.True(t, removed)

	has, err = set.Has(k)
	require.NoError(t, err)
	assert.False(t, has)

	removed, err = set.TryDelete(k)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestSetCollectKeys(t *testing.T) {
	rt := mock.NewBuilder(address.Undef).Build(t)
	store := adt.AsStore(rt)
	set, err := adt.MakeEmptySet(store, builtin.DefaultHamtBitwidth)
	require.NoError(t, err)

	for i := uint64(0); i < 4; i++ {
		require.NoError(t, set.Put(abi.UIntKey(i)))
	}
	require.NoError(t, set.Delete(abi.UIntKey(2)))

	keys, err := set.CollectKeys()
	require.NoError(t, err)
	assert.Len(t, keys, 3)

	count := 0
	err = set.ForEach(func(string) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
}

func TestSetRootRoundTrip(t *testing.T) {
	rt := mock.NewBuilder(address.Undef).Build(t)
	store := adt.AsStore(rt)
	set, err := adt.MakeEmptySet(store, builtin.DefaultHamtBitwidth)
	require.NoError(t, err)

	require.NoError(t, set.Put(abi.UIntKey(1)))
	require.NoError(t, set.Put(abi.UIntKey(2)))
	root, err := set.Root()
	require.NoError(t, err)

	reloaded, err := adt.AsSet(store, root, builtin.DefaultHamtBitwidth)
	require.NoError(t, err)
	has, err := reloaded.Has(abi.UIntKey(2))
	require.NoError(t, err)
	assert.True(t, has)
}
