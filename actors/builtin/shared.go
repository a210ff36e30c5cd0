package builtin

import (
	"io"

	"github.com/filecoin-project/go-state-types/exitcode"

	"github.com/worlddbs/actor-runtime/actors/runtime"
)

///// Code shared by multiple built-in actors. /////

// Default log2 of branching factor for HAMTs.
const DefaultHamtBitwidth = 5

// Default log2 of branching factor for AMTs.
const DefaultAmtBitwidth = 3

// Maximum depth of nested sends processed within a single top-level message.
const MaxCallDepth = 1024

// Aborts with the given exit code if it is not Ok, for propagating failed sends.
func RequireSuccess(rt runtime.Runtime, e exitcode.ExitCode, msg string, args ...interface{}) {
	if !e.IsSuccess() {
		rt.Abortf(e, msg, args...)
	}
}

// Aborts with a formatted message and ErrIllegalArgument if the predicate is false.
func RequireParam(rt runtime.Runtime, predicate bool, msg string, args ...interface{}) {
	if !predicate {
		rt.Abortf(exitcode.ErrIllegalArgument, msg, args...)
	}
}

// Aborts with a formatted message and ErrIllegalState if the predicate is false.
func RequireState(rt runtime.Runtime, predicate bool, msg string, args ...interface{}) {
	if !predicate {
		rt.Abortf(exitcode.ErrIllegalState, msg, args...)
	}
}

// Discard is a send return target for callers that ignore the return value.
type Discard struct{}

func (d *Discard) MarshalCBOR(_ io.Writer) error {
	// serialize to nothing
	return nil
}

func (d *Discard) UnmarshalCBOR(_ io.Reader) error {
	// deserialize (and discard) anything
	return nil
}

// Aborts with an exit code drawn from the error if it carries one, else the
// default. The error message is appended to the formatted message.
func RequireNoErr(rt runtime.Runtime, err error, defaultExitCode exitcode.ExitCode, msg string, args ...interface{}) {
	if err != nil {
		newMsg := msg + ": %s"
		newArgs := append(args, err)
		code := exitcode.Unwrap(err, defaultExitCode)
		rt.Abortf(code, newMsg, newArgs...)
	}
}
