package runtime

import (
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	cid "github.com/ipfs/go-cid"
)

// Method describes one exported actor method: its number, a constructor for
// its parameter object, and the implementation. Dispatch is driven entirely
// by this table; nothing is derived from reflection.
type Method struct {
	// The method number callers address this method by. Never zero, which is
	// reserved for plain value transfer.
	Num abi.MethodNum

	// Method name, for diagnostics only.
	Name string

	// NewParams allocates a zero-valued parameter object for the decoder to
	// fill. Required, even for methods taking no parameters (use
	// abi.EmptyValue).
	NewParams func() cbor.Er

	// Apply invokes the method with the decoded parameter object, which is
	// always one returned by NewParams. Unrecoverable failures surface by
	// aborting the runtime, not by returning.
	Apply func(rt Runtime, params cbor.Er) cbor.Marshaler
}

// VMActor is a concrete implementation of an actor, to be invoked by a VM.
type VMActor interface {
	// Exports returns this actor's method dispatch table.
	Exports() []Method

	// Code returns the code ID for this actor.
	Code() cid.Cid

	// IsSingleton returns whether the actor lives at exactly one, well-known address.
	IsSingleton() bool

	// State returns a new State object for this actor. This can be used to
	// decode the actor's state.
	State() cbor.Er
}
