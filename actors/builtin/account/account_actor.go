package account

import (
	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/ipfs/go-cid"

	"github.com/worlddbs/actor-runtime/actors/builtin"
	"github.com/worlddbs/actor-runtime/actors/runtime"
)

type Actor struct{}

func (a Actor) Exports() []runtime.Method {
	return []runtime.Method{{
		Num:       builtin.MethodsAccount.Constructor,
		Name:      "Constructor",
		NewParams: func() cbor.Er { return new(addr.Address) },
		Apply: func(rt runtime.Runtime, params cbor.Er) cbor.Marshaler {
			return a.Constructor(rt, params.(*addr.Address))
		},
	}, {
		Num:       builtin.MethodsAccount.PubkeyAddress,
		Name:      "PubkeyAddress",
		NewParams: func() cbor.Er { return new(abi.EmptyValue) },
		Apply: func(rt runtime.Runtime, params cbor.Er) cbor.Marshaler {
			return a.PubkeyAddress(rt, params.(*abi.EmptyValue))
		},
	}}
}

func (a Actor) Code() cid.Cid {
	return builtin.AccountActorCodeID
}

func (a Actor) IsSingleton() bool {
	return false
}

func (a Actor) State() cbor.Er {
	return new(State)
}

var _ runtime.VMActor = Actor{}

type State struct {
	Address addr.Address
}

func (a Actor) Constructor(rt runtime.Runtime, address *addr.Address) *abi.EmptyValue {
	// Account actors are created implicitly by sending a message to a pubkey-style address.
	// This constructor is not invoked by the InitActor, but by the system.
	rt.ValidateImmediateCallerIs(builtin.SystemActorAddr)
	switch address.Protocol() {
	case addr.SECP256K1:
	case addr.BLS:
		break // ok
	default:
		rt.Abortf(exitcode.ErrIllegalArgument, "address must use BLS or SECP protocol, got %v", address.Protocol())
	}
	st := State{Address: *address}
	rt.StateCreate(&st)
	return nil
}

// Fetches the pubkey-type address from this actor.
func (a Actor) PubkeyAddress(rt runtime.Runtime, _ *abi.EmptyValue) *addr.Address {
	rt.ValidateImmediateCallerAcceptAny()
	var st State
	rt.StateReadonly(&st)
	return &st.Address
}
