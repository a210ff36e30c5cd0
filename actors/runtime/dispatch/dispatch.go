// Package dispatch routes method invocations to actor implementations through
// their exported method tables. It performs number lookup and strict
// parameter decoding; policy for the resulting errors (which exit codes they
// become) belongs to the caller.
package dispatch

import (
	"bytes"
	"fmt"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/cbor"
	"golang.org/x/xerrors"

	"github.com/worlddbs/actor-runtime/actors/runtime"
)

// MethodSend is the method number reserved for plain value transfer. It is
// never dispatchable.
const MethodSend = abi.MethodNum(0)

// UnknownMethodError indicates the receiver exports no method with the
// requested number.
type UnknownMethodError struct {
	Num abi.MethodNum
}

func (e *UnknownMethodError) Error() string {
	return fmt.Sprintf("unknown method %d", e.Num)
}

// MalformedParamsError indicates the parameter bytes could not be decoded as
// the method's declared parameter type, or carried trailing data.
type MalformedParamsError struct {
	Num abi.MethodNum
	Err error
}

func (e *MalformedParamsError) Error() string {
	return fmt.Sprintf("malformed params for method %d: %v", e.Num, e.Err)
}

func (e *MalformedParamsError) Unwrap() error {
	return e.Err
}

// Table is an actor's validated dispatch table.
type Table struct {
	methods map[abi.MethodNum]*runtime.Method
}

// TableFor builds a dispatch table from an actor's exports, rejecting
// reserved, duplicate, or incomplete entries. Export lists are static, so a
// failure here is a programming error in the actor.
func TableFor(actor runtime.VMActor) (*Table, error) {
	exports := actor.Exports()
	methods := make(map[abi.MethodNum]*runtime.Method, len(exports))
	for i := range exports {
		m := &exports[i]
		if m.Num == MethodSend {
			return nil, xerrors.Errorf("method number 0 is reserved for value transfer (%s)", m.Name)
		}
		if m.NewParams == nil || m.Apply == nil {
			return nil, xerrors.Errorf("incomplete export for method %d (%s)", m.Num, m.Name)
		}
		if _, dup := methods[m.Num]; dup {
			return nil, xerrors.Errorf("duplicate export of method %d (%s)", m.Num, m.Name)
		}
		methods[m.Num] = m
	}
	return &Table{methods: methods}, nil
}

// MustTableFor builds a dispatch table, panicking on invalid exports.
func MustTableFor(actor runtime.VMActor) *Table {
	t, err := TableFor(actor)
	if err != nil {
		panic(err)
	}
	return t
}

// Lookup returns the method with the given number, if exported.
func (t *Table) Lookup(num abi.MethodNum) (*runtime.Method, bool) {
	m, ok := t.methods[num]
	return m, ok
}

// Invoke decodes the raw parameter bytes for the numbered method and applies
// it. The decode is strict: the bytes must be exactly one encoding of the
// parameter type, with nothing trailing. An abort raised by the method
// propagates as the panic it is; the returned errors cover only routing and
// decoding.
func (t *Table) Invoke(rt runtime.Runtime, num abi.MethodNum, params []byte) (cbor.Marshaler, error) {
	m, ok := t.methods[num]
	if !ok {
		return nil, &UnknownMethodError{Num: num}
	}

	obj := m.NewParams()
	r := bytes.NewReader(params)
	if err := obj.UnmarshalCBOR(r); err != nil {
		return nil, &MalformedParamsError{Num: num, Err: err}
	}
	if r.Len() != 0 {
		return nil, &MalformedParamsError{Num: num, Err: xerrors.Errorf("%d trailing bytes", r.Len())}
	}

	return m.Apply(rt, obj), nil
}
