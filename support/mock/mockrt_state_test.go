package mock

import (
	"io"
	"testing"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	cbg "github.com/whyrusleeping/cbor-gen"

	"github.com/worlddbs/actor-runtime/actors/builtin"
	"github.com/worlddbs/actor-runtime/actors/runtime"
	tutil "github.com/worlddbs/actor-runtime/support/testing"
)

type FakeActor struct{}

const (
	fakeMethodConstructor = abi.MethodNum(1)
	fakeMethodReadOnly    = abi.MethodNum(2)
	fakeMethodTransaction = abi.MethodNum(3)
	fakeMethodTwice       = abi.MethodNum(4)
)

func (a FakeActor) Exports() []runtime.Method {
	return []runtime.Method{{
		Num:       fakeMethodConstructor,
		Name:      "Constructor",
		NewParams: func() cbor.Er { return new(cbg.CborBool) },
		Apply: func(rt runtime.Runtime, params cbor.Er) cbor.Marshaler {
			return a.Constructor(rt, params.(*cbg.CborBool))
		},
	}, {
		Num:       fakeMethodReadOnly,
		Name:      "ReadOnlyState",
		NewParams: func() cbor.Er { return new(cbg.CborBool) },
		Apply: func(rt runtime.Runtime, params cbor.Er) cbor.Marshaler {
			return a.ReadOnlyState(rt, params.(*cbg.CborBool))
		},
	}, {
		Num:       fakeMethodTransaction,
		Name:      "TransactionState",
		NewParams: func() cbor.Er { return new(cbg.CborBool) },
		Apply: func(rt runtime.Runtime, params cbor.Er) cbor.Marshaler {
			return a.TransactionState(rt, params.(*cbg.CborBool))
		},
	}, {
		Num:       fakeMethodTwice,
		Name:      "TransactionStateTwice",
		NewParams: func() cbor.Er { return new(cbg.CborBool) },
		Apply: func(rt runtime.Runtime, params cbor.Er) cbor.Marshaler {
			return a.TransactionStateTwice(rt, params.(*cbg.CborBool))
		},
	}}
}

func (a FakeActor) Code() cid.Cid {
	builder := cid.V1Builder{Codec: cid.Raw, MhType: mh.IDENTITY}
	c, err := builder.Sum([]byte("fake"))
	if err != nil {
		panic(err)
	}
	return c
}

func (a FakeActor) IsSingleton() bool {
	return false
}

func (a FakeActor) State() cbor.Er {
	return new(State)
}

type State struct {
	Value int64
}

func (s State) MarshalCBOR(w io.Writer) error {
	cint := cbg.CborInt(s.Value)
	return cint.MarshalCBOR(w)
}

func (s State) UnmarshalCBOR(r io.Reader) error {
	var cint cbg.CborInt
	err := cint.UnmarshalCBOR(r)
	s.Value = int64(cint)
	return err
}

var _ runtime.VMActor = FakeActor{}

func (a FakeActor) Constructor(rt runtime.Runtime, mutate *cbg.CborBool) *abi.EmptyValue {
	st := State{Value: 0}
	rt.StateCreate(&st)
	if *mutate {
		st.Value = 1
	}
	return nil
}

func (a FakeActor) ReadOnlyState(rt runtime.Runtime, mutate *cbg.CborBool) *abi.EmptyValue {
	rt.ValidateImmediateCallerAcceptAny()
	var st State
	rt.StateReadonly(&st)
	if *mutate {
		// Illegal mutation of read-only state
		st.Value = st.Value + 1
	}
	return nil
}

func (a FakeActor) TransactionState(rt runtime.Runtime, mutate *cbg.CborBool) *abi.EmptyValue {
	rt.ValidateImmediateCallerAcceptAny()
	var st State
	rt.StateTransaction(&st, func() {
		st.Value = st.Value + 1
	})
	if *mutate {
		// Illegal mutation of state outside transaction.
		st.Value = st.Value + 1
	}
	return nil
}

func (a FakeActor) TransactionStateTwice(rt runtime.Runtime, mutate *cbg.CborBool) *abi.EmptyValue {
	rt.ValidateImmediateCallerAcceptAny()
	var st State
	rt.StateTransaction(&st, func() {
		st.Value = st.Value + 1
	})
	if *mutate {
		// Illegal mutation of state outside transaction.
		st.Value = st.Value + 1
	}
	rt.StateTransaction(&st, func() {
		if *mutate {
			panic("Can't get here")
		}
	})
	return nil
}

func TestIllegalStateModifications(t *testing.T) {
	actor := FakeActor{}
	receiver := tutil.NewIDAddr(t, 100)
	builder := NewBuilder(receiver).WithCaller(builtin.InitActorAddr, builtin.InitActorCodeID)

	t.Run("construction", func(t *testing.T) {
		rt := builder.Build(t)
		mutate := cbg.CborBool(false)
		rt.Call(actor, fakeMethodConstructor, &mutate)
	})

	t.Run("mutation after construction forbidden", func(t *testing.T) {
		rt := builder.Build(t)
		mutate := cbg.CborBool(true)
		rt.ExpectAbort(exitcode.SysErrorIllegalActor, func() {
			rt.Call(actor, fakeMethodConstructor, &mutate)
		})
	})

	t.Run("readonly", func(t *testing.T) {
		rt := builder.Build(t)
		mutate := cbg.CborBool(false)
		rt.Call(actor, fakeMethodConstructor, &mutate)

		rt.ExpectValidateCallerAny()
		rt.Call(actor, fakeMethodReadOnly, &mutate)

		mutate = true
		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(exitcode.SysErrorIllegalActor, func() {
			rt.Call(actor, fakeMethodReadOnly, &mutate)
		})
	})

	t.Run("transaction", func(t *testing.T) {
		rt := builder.Build(t)
		mutate := cbg.CborBool(false)
		rt.Call(actor, fakeMethodConstructor, &mutate)

		rt.ExpectValidateCallerAny()
		rt.Call(actor, fakeMethodTransaction, &mutate)

		mutate = true
		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(exitcode.SysErrorIllegalActor, func() {
			rt.Call(actor, fakeMethodTransaction, &mutate)
		})
	})

	t.Run("transaction twice", func(t *testing.T) {
		rt := builder.Build(t)
		mutate := cbg.CborBool(false)
		rt.Call(actor, fakeMethodConstructor, &mutate)

		rt.ExpectValidateCallerAny()
		rt.Call(actor, fakeMethodTwice, &mutate)

		mutate = true
		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(exitcode.SysErrorIllegalActor, func() {
			rt.Call(actor, fakeMethodTwice, &mutate)
		})
	})

	t.Run("unknown method number aborts", func(t *testing.T) {
		rt := builder.Build(t)
		mutate := cbg.CborBool(false)
		rt.Call(actor, fakeMethodConstructor, &mutate)

		rt.ExpectAbort(exitcode.SysErrInvalidMethod, func() {
			rt.Call(actor, abi.MethodNum(99), &mutate)
		})
	})

	t.Run("undecodable params abort", func(t *testing.T) {
		rt := builder.Build(t)
		mutate := cbg.CborBool(false)
		rt.Call(actor, fakeMethodConstructor, &mutate)

		// Decoding fails before the method body runs, so no caller validation happens.
		rt.ExpectAbort(exitcode.ErrSerialization, func() {
			rt.Call(actor, fakeMethodReadOnly, abi.Empty)
		})
	})
}
