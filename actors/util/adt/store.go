package adt

import (
	"context"

	"github.com/filecoin-project/go-state-types/cbor"
	cid "github.com/ipfs/go-cid"
	ipldcbor "github.com/ipfs/go-ipld-cbor"
	"github.com/pkg/errors"
)

// Store defines an interface required to back the ADTs in this package.
type Store interface {
	Context() context.Context
	ipldcbor.IpldStore
}

// Adapts a vanilla IPLD store as an ADT store.
func WrapStore(ctx context.Context, store ipldcbor.IpldStore) Store {
	return &wstore{
		ctx:       ctx,
		IpldStore: store,
	}
}

type wstore struct {
	ctx context.Context
	ipldcbor.IpldStore
}

var _ Store = &wstore{}

func (s *wstore) Context() context.Context {
	return s.ctx
}

// Adapts a block store as an ADT store.
func WrapBlockStore(ctx context.Context, bs ipldcbor.IpldBlockstore) Store {
	return WrapStore(ctx, ipldcbor.NewCborStore(bs))
}

// A minimal interface for the runtime's state store, to avoid a dependency
// on the full runtime interface.
type RuntimeStore interface {
	StoreGet(c cid.Cid, o cbor.Unmarshaler) bool
	StorePut(x cbor.Marshaler) cid.Cid
	Context() context.Context
}

// Adapts a runtime's state store as an ADT store.
// The runtime store traps its own failures, so errors surfacing here mean
// the object was simply absent.
func AsStore(rs RuntimeStore) Store {
	return rtStore{rs}
}

type rtStore struct {
	RuntimeStore
}

var _ Store = rtStore{}

func (r rtStore) Get(_ context.Context, c cid.Cid, out interface{}) error {
	um, ok := out.(cbor.Unmarshaler)
	if !ok {
		return errors.Errorf("object for %s is not CBOR-decodable", c)
	}
	if !r.StoreGet(c, um) {
		return errors.Errorf("not found: %s", c)
	}
	return nil
}

func (r rtStore) Put(_ context.Context, x interface{}) (cid.Cid, error) {
	m, ok := x.(cbor.Marshaler)
	if !ok {
		return cid.Undef, errors.Errorf("object is not CBOR-encodable")
	}
	return r.StorePut(m), nil
}
