package system

import (
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/ipfs/go-cid"

	"github.com/worlddbs/actor-runtime/actors/builtin"
	"github.com/worlddbs/actor-runtime/actors/runtime"
)

type Actor struct{}

func (a Actor) Exports() []runtime.Method {
	return []runtime.Method{{
		Num:       builtin.MethodConstructor,
		Name:      "Constructor",
		NewParams: func() cbor.Er { return new(abi.EmptyValue) },
		Apply: func(rt runtime.Runtime, params cbor.Er) cbor.Marshaler {
			return a.Constructor(rt, params.(*abi.EmptyValue))
		},
	}}
}

func (a Actor) Code() cid.Cid {
	return builtin.SystemActorCodeID
}

func (a Actor) IsSingleton() bool {
	return true
}

func (a Actor) State() cbor.Er {
	return new(State)
}

var _ runtime.VMActor = Actor{}

func (a Actor) Constructor(rt runtime.Runtime, _ *abi.EmptyValue) *abi.EmptyValue {
	rt.ValidateImmediateCallerIs(builtin.SystemActorAddr)

	rt.StateCreate(&State{})
	return nil
}

type State struct{}
