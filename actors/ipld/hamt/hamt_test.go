package hamt_test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"sort"
	"testing"

	cid "github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"

	"github.com/worlddbs/actor-runtime/actors/ipld/hamt"
	"github.com/worlddbs/actor-runtime/support/ipld"
)

func newStore(t *testing.T) *ipld.Store {
	t.Helper()
	return ipld.NewStore(context.Background())
}

func newHamt(t *testing.T, store *ipld.Store, options ...hamt.Option) *hamt.Node {
	t.Helper()
	n, err := hamt.NewNode(store, options...)
	require.NoError(t, err)
	return n
}

func flushRoot(t *testing.T, store *ipld.Store, n *hamt.Node) cid.Cid {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, n.Flush(ctx))
	c, err := store.Put(ctx, n)
	require.NoError(t, err)
	return c
}

func cborInt(i int64) *cbg.CborInt {
	v := cbg.CborInt(i)
	return &v
}

func TestSetGet(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	n := newHamt(t, store)

	require.NoError(t, n.Set(ctx, "cat", cborInt(1)))
	require.NoError(t, n.Set(ctx, "dog", cborInt(2)))

	var out cbg.CborInt
	found, err := n.Find(ctx, "cat", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, cbg.CborInt(1), out)

	found, err = n.Find(ctx, "bird", &out)
	require.NoError(t, err)
	require.False(t, found)

	// Overwrite.
	require.NoError(t, n.Set(ctx, "cat", cborInt(3)))
	found, err = n.Find(ctx, "cat", &out)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, cbg.CborInt(3), out)
}

func TestSetIfAbsent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	n := newHamt(t, store)

	modified, err := n.SetIfAbsent(ctx, "k", cborInt(1))
	require.NoError(t, err)
	require.True(t, modified)

	modified, err = n.SetIfAbsent(ctx, "k", cborInt(2))
	require.NoError(t, err)
	require.False(t, modified)

	var out cbg.CborInt
	_, err = n.Find(ctx, "k", &out)
	require.NoError(t, err)
	require.Equal(t, cbg.CborInt(1), out)
}

func TestReloadFromStore(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	n := newHamt(t, store)

	for i := 0; i < 200; i++ {
		require.NoError(t, n.Set(ctx, fmt.Sprintf("key-%d", i), cborInt(int64(i))))
	}
	root := flushRoot(t, store, n)

	reloaded, err := hamt.LoadNode(ctx, store, root)
	require.NoError(t, err)
	for i := 0; i < 200; i++ {
		var out cbg.CborInt
		found, err := reloaded.Find(ctx, fmt.Sprintf("key-%d", i), &out)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, cbg.CborInt(i), out)
	}
}

// Root CIDs depend only on contents, not on insertion order.
func TestInsertionOrderIndependence(t *testing.T) {
	ctx := context.Background()
	keys := make([]string, 100)
	for i := range keys {
		keys[i] = fmt.Sprintf("key-%d", i)
	}

	build := func(order []string) cid.Cid {
		store := newStore(t)
		n := newHamt(t, store)
		for _, k := range order {
			require.NoError(t, n.Set(ctx, k, cborInt(int64(len(k)))))
		}
		return flushRoot(t, store, n)
	}

	forward := build(keys)

	shuffled := append([]string{}, keys...)
	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 3; trial++ {
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		require.Equal(t, forward, build(shuffled))
	}
}

func TestTwoKeyOrderIndependence(t *testing.T) {
	ctx := context.Background()

	s1 := newStore(t)
	n1 := newHamt(t, s1)
	require.NoError(t, n1.Set(ctx, "a", cborInt(1)))
	require.NoError(t, n1.Set(ctx, "b", cborInt(2)))
	r1 := flushRoot(t, s1, n1)

	s2 := newStore(t)
	n2 := newHamt(t, s2)
	require.NoError(t, n2.Set(ctx, "b", cborInt(2)))
	require.NoError(t, n2.Set(ctx, "a", cborInt(1)))
	r2 := flushRoot(t, s2, n2)

	require.Equal(t, r1, r2)
}

// Deleting a key yields the same canonical root as never inserting it.
func TestDeleteCanonicalizes(t *testing.T) {
	ctx := context.Background()

	// Enough keys that subtrees form and must collapse again on delete.
	for _, size := range []int{2, 10, 100} {
		s1 := newStore(t)
		direct := newHamt(t, s1)
		for i := 0; i < size; i++ {
			require.NoError(t, direct.Set(ctx, fmt.Sprintf("k%d", i), cborInt(int64(i))))
		}
		want := flushRoot(t, s1, direct)

		s2 := newStore(t)
		viaDelete := newHamt(t, s2)
		for i := 0; i < size+20; i++ {
			require.NoError(t, viaDelete.Set(ctx, fmt.Sprintf("k%d", i), cborInt(int64(i))))
		}
		for i := size; i < size+20; i++ {
			found, err := viaDelete.Delete(ctx, fmt.Sprintf("k%d", i))
			require.NoError(t, err)
			require.True(t, found)
		}
		require.Equal(t, want, flushRoot(t, s2, viaDelete))
	}
}

func TestDeleteAllYieldsEmptyRoot(t *testing.T) {
	ctx := context.Background()

	s1 := newStore(t)
	empty := newHamt(t, s1)
	emptyRoot := flushRoot(t, s1, empty)

	s2 := newStore(t)
	n := newHamt(t, s2)
	for i := 0; i < 50; i++ {
		require.NoError(t, n.Set(ctx, fmt.Sprintf("k%d", i), cborInt(int64(i))))
	}
	for i := 0; i < 50; i++ {
		found, err := n.Delete(ctx, fmt.Sprintf("k%d", i))
		require.NoError(t, err)
		require.True(t, found)
	}
	require.Equal(t, emptyRoot, flushRoot(t, s2, n))
}

func TestDeleteAbsent(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	n := newHamt(t, store)
	require.NoError(t, n.Set(ctx, "present", cborInt(1)))

	found, err := n.Delete(ctx, "absent")
	require.NoError(t, err)
	require.False(t, found)

	// Unrelated delete attempts leave other entries intact.
	var out cbg.CborInt
	found, err = n.Find(ctx, "present", &out)
	require.NoError(t, err)
	require.True(t, found)
}

// Overwriting an entry with identical bytes leaves the root unchanged.
func TestIdempotentOverwrite(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	n := newHamt(t, store)
	for i := 0; i < 30; i++ {
		require.NoError(t, n.Set(ctx, fmt.Sprintf("k%d", i), cborInt(int64(i))))
	}
	before := flushRoot(t, store, n)

	require.NoError(t, n.Set(ctx, "k7", cborInt(7)))
	require.Equal(t, before, flushRoot(t, store, n))
}

func TestForEachVisitsAllDeterministically(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	n := newHamt(t, store)

	expected := map[string]int64{}
	for i := 0; i < 100; i++ {
		k := fmt.Sprintf("key-%d", i)
		expected[k] = int64(i)
		require.NoError(t, n.Set(ctx, k, cborInt(int64(i))))
	}

	collect := func(node *hamt.Node) []string {
		var keys []string
		err := node.ForEach(ctx, func(k string, _ *cbg.Deferred) error {
			keys = append(keys, k)
			return nil
		})
		require.NoError(t, err)
		return keys
	}

	first := collect(n)
	require.Len(t, first, len(expected))
	for _, k := range first {
		_, ok := expected[k]
		require.True(t, ok)
	}
	// Traversal order is stable across a flush/reload cycle.
	root := flushRoot(t, store, n)
	reloaded, err := hamt.LoadNode(ctx, store, root)
	require.NoError(t, err)
	require.Equal(t, first, collect(reloaded))

	// And it is a total enumeration: sorted copies match the key set.
	sorted := append([]string{}, first...)
	sort.Strings(sorted)
	var want []string
	for k := range expected {
		want = append(want, k)
	}
	sort.Strings(want)
	require.Equal(t, want, sorted)
}

func TestSharedSubtreesAcrossVersions(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	n := newHamt(t, store)
	for i := 0; i < 50; i++ {
		require.NoError(t, n.Set(ctx, fmt.Sprintf("k%d", i), cborInt(int64(i))))
	}
	v1 := flushRoot(t, store, n)

	// Mutate a new version loaded from the same store.
	v2n, err := hamt.LoadNode(ctx, store, v1)
	require.NoError(t, err)
	require.NoError(t, v2n.Set(ctx, "k7", cborInt(-7)))
	v2 := flushRoot(t, store, v2n)
	require.NotEqual(t, v1, v2)

	// The first version is untouched by the second's mutation.
	v1n, err := hamt.LoadNode(ctx, store, v1)
	require.NoError(t, err)
	var out cbg.CborInt
	found, err := v1n.Find(ctx, "k7", &out)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, cbg.CborInt(7), out)
}

func TestBitWidthsProduceDistinctButInternallyConsistentRoots(t *testing.T) {
	ctx := context.Background()
	roots := map[int]cid.Cid{}
	for _, bw := range []int{2, 5, 8} {
		store := newStore(t)
		n := newHamt(t, store, hamt.UseTreeBitWidth(bw))
		for i := 0; i < 64; i++ {
			require.NoError(t, n.Set(ctx, fmt.Sprintf("k%d", i), cborInt(int64(i))))
		}
		root := flushRoot(t, store, n)
		roots[bw] = root

		reloaded, err := hamt.LoadNode(ctx, store, root, hamt.UseTreeBitWidth(bw))
		require.NoError(t, err)
		var out cbg.CborInt
		found, err := reloaded.Find(ctx, "k33", &out)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, cbg.CborInt(33), out)
	}
	require.NotEqual(t, roots[2], roots[5])
	require.NotEqual(t, roots[5], roots[8])
}

// A constant hash forces every key into one collision bucket; lookups fall
// back to linear scans and all operations stay correct.
func TestFullHashCollisions(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	identicalHash := func([]byte) []byte { return []byte{0xaa, 0xbb} }
	n := newHamt(t, store, hamt.UseHashFunction(identicalHash), hamt.UseTreeBitWidth(5))

	for i := 0; i < 10; i++ {
		require.NoError(t, n.Set(ctx, fmt.Sprintf("c%d", i), cborInt(int64(i))))
	}
	for i := 0; i < 10; i++ {
		var out cbg.CborInt
		found, err := n.Find(ctx, fmt.Sprintf("c%d", i), &out)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, cbg.CborInt(i), out)
	}

	found, err := n.Delete(ctx, "c4")
	require.NoError(t, err)
	require.True(t, found)
	found, err = n.Find(ctx, "c4", nil)
	require.NoError(t, err)
	require.False(t, found)

	// Round-trips through the store.
	root := flushRoot(t, store, n)
	reloaded, err := hamt.LoadNode(ctx, store, root, hamt.UseHashFunction(identicalHash), hamt.UseTreeBitWidth(5))
	require.NoError(t, err)
	found, err = reloaded.Find(ctx, "c9", nil)
	require.NoError(t, err)
	require.True(t, found)
}

func TestInvalidConfig(t *testing.T) {
	store := newStore(t)
	_, err := hamt.NewNode(store, hamt.UseTreeBitWidth(0))
	require.Error(t, err)
	_, err = hamt.NewNode(store, hamt.UseTreeBitWidth(9))
	require.Error(t, err)
	_, err = hamt.NewNode(store, hamt.UseHashFunction(nil))
	require.Error(t, err)
}

// rawNode stores arbitrary pre-encoded bytes as an IPLD block.
type rawNode []byte

func (r rawNode) MarshalCBOR(w io.Writer) error {
	_, err := w.Write(r)
	return err
}

func TestLoadRejectsOversizedBucket(t *testing.T) {
	// A bucket above the split threshold is only canonical at hash exhaustion
	// depth; at the root, with 251 hash bits still unconsumed, the write path
	// could never have produced it.
	buf := new(bytes.Buffer)
	scratch := make([]byte, 9)
	require.NoError(t, cbg.WriteMajorTypeHeaderBuf(scratch, buf, cbg.MajArray, 2))
	require.NoError(t, cbg.WriteMajorTypeHeaderBuf(scratch, buf, cbg.MajByteString, 1))
	_, err := buf.Write([]byte{0x01}) // bit 0 occupied
	require.NoError(t, err)
	require.NoError(t, cbg.WriteMajorTypeHeaderBuf(scratch, buf, cbg.MajArray, 1))
	require.NoError(t, cbg.WriteMajorTypeHeaderBuf(scratch, buf, cbg.MajArray, hamt.BucketSize+1))
	for i := 0; i <= hamt.BucketSize; i++ {
		require.NoError(t, cbg.WriteMajorTypeHeaderBuf(scratch, buf, cbg.MajArray, 2))
		require.NoError(t, cbg.WriteMajorTypeHeaderBuf(scratch, buf, cbg.MajByteString, 1))
		_, err := buf.Write([]byte{byte('a' + i)})
		require.NoError(t, err)
		require.NoError(t, buf.WriteByte(0x01)) // cbor int 1
	}

	ctx := context.Background()
	store := newStore(t)
	c, err := store.Put(ctx, rawNode(buf.Bytes()))
	require.NoError(t, err)

	_, err = hamt.LoadNode(ctx, store, c)
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, hamt.ErrMalformed))
}
