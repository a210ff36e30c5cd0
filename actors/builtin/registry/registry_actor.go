package registry

import (
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	cid "github.com/ipfs/go-cid"

	"github.com/worlddbs/actor-runtime/actors/builtin"
	"github.com/worlddbs/actor-runtime/actors/runtime"
	"github.com/worlddbs/actor-runtime/actors/util/adt"
)

// The registry actor keeps a name-keyed table of user records. Persisting a
// name repeatedly bumps its update counter; every persist is also journalled
// against the user's allocated ID.
type Actor struct{}

func (a Actor) Exports() []runtime.Method {
	return []runtime.Method{{
		Num:       builtin.MethodsRegistry.Constructor,
		Name:      "Constructor",
		NewParams: func() cbor.Er { return new(abi.EmptyValue) },
		Apply: func(rt runtime.Runtime, params cbor.Er) cbor.Marshaler {
			return a.Constructor(rt, params.(*abi.EmptyValue))
		},
	}, {
		Num:       builtin.MethodsRegistry.Persist,
		Name:      "Persist",
		NewParams: func() cbor.Er { return new(PersistParams) },
		Apply: func(rt runtime.Runtime, params cbor.Er) cbor.Marshaler {
			return a.Persist(rt, params.(*PersistParams))
		},
	}, {
		Num:       builtin.MethodsRegistry.Lookup,
		Name:      "Lookup",
		NewParams: func() cbor.Er { return new(LookupParams) },
		Apply: func(rt runtime.Runtime, params cbor.Er) cbor.Marshaler {
			return a.Lookup(rt, params.(*LookupParams))
		},
	}, {
		Num:       builtin.MethodsRegistry.Revoke,
		Name:      "Revoke",
		NewParams: func() cbor.Er { return new(RevokeParams) },
		Apply: func(rt runtime.Runtime, params cbor.Er) cbor.Marshaler {
			return a.Revoke(rt, params.(*RevokeParams))
		},
	}}
}

func (a Actor) Code() cid.Cid {
	return builtin.RegistryActorCodeID
}

func (a Actor) IsSingleton() bool {
	return false
}

func (a Actor) State() cbor.Er {
	return new(State)
}

var _ runtime.VMActor = Actor{}

func (a Actor) Constructor(rt runtime.Runtime, _ *abi.EmptyValue) *abi.EmptyValue {
	// The genesis instance is constructed by the system; further instances
	// arrive through the init actor.
	rt.ValidateImmediateCallerIs(builtin.SystemActorAddr, builtin.InitActorAddr)

	st, err := ConstructState(adt.AsStore(rt))
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to construct state")
	rt.StateCreate(st)
	return nil
}

type PersistParams struct {
	Name string
}

type PersistReturn struct {
	Id      uint64
	Updates uint64
}

// Creates or updates the record for a name. New names are allocated the next
// user ID; existing names have their update counter bumped.
func (a Actor) Persist(rt runtime.Runtime, params *PersistParams) *PersistReturn {
	rt.ValidateImmediateCallerType(builtin.CallerTypesSignable...)
	builtin.RequireParam(rt, len(params.Name) > 0, "user name cannot be empty")

	var st State
	var entry *UserEntry
	rt.StateTransaction(&st, func() {
		var err error
		entry, err = st.PutUser(adt.AsStore(rt), params.Name, rt.CurrEpoch())
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to persist user %q", params.Name)
		st.CallCount++
	})

	return &PersistReturn{Id: entry.Id, Updates: entry.Updates}
}

type LookupParams struct {
	Name string
}

type LookupReturn struct {
	Id      uint64
	Updates uint64
}

// Fetches the record for a name, aborting if it is unknown.
func (a Actor) Lookup(rt runtime.Runtime, params *LookupParams) *LookupReturn {
	rt.ValidateImmediateCallerAcceptAny()

	var st State
	rt.StateReadonly(&st)
	entry, found, err := st.GetUser(adt.AsStore(rt), params.Name)
	builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to look up user %q", params.Name)
	if !found {
		rt.Abortf(exitcode.ErrNotFound, "no such user %q", params.Name)
	}
	return &LookupReturn{Id: entry.Id, Updates: entry.Updates}
}

type RevokeParams struct {
	Name string
}

// Removes the record for a name, releasing its ID and history.
// Aborts if the name is unknown.
func (a Actor) Revoke(rt runtime.Runtime, params *RevokeParams) *abi.EmptyValue {
	rt.ValidateImmediateCallerType(builtin.CallerTypesSignable...)

	var st State
	rt.StateTransaction(&st, func() {
		found, err := st.DeleteUser(adt.AsStore(rt), params.Name)
		builtin.RequireNoErr(rt, err, exitcode.ErrIllegalState, "failed to revoke user %q", params.Name)
		if !found {
			rt.Abortf(exitcode.ErrNotFound, "no such user %q", params.Name)
		}
		st.CallCount++
	})
	return nil
}
