package init_test

import (
	"bytes"
	"strings"
	"testing"

	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/cbor"
	"github.com/filecoin-project/go-state-types/exitcode"
	cid "github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worlddbs/actor-runtime/actors/builtin"
	init_ "github.com/worlddbs/actor-runtime/actors/builtin/init"
	"github.com/worlddbs/actor-runtime/actors/runtime"
	"github.com/worlddbs/actor-runtime/actors/util/adt"
	"github.com/worlddbs/actor-runtime/support/mock"
	tutil "github.com/worlddbs/actor-runtime/support/testing"
)

func TestExports(t *testing.T) {
	mock.CheckActorExports(t, init_.Actor{})
}

func TestConstructor(t *testing.T) {
	actor := initHarness{init_.Actor{}, t}

	receiver := tutil.NewIDAddr(t, 1000)
	builder := mock.NewBuilder(receiver).WithCaller(builtin.SystemActorAddr, builtin.SystemActorCodeID)
	rt := builder.Build(t)
	actor.constructAndVerify(rt)

	var st init_.State
	rt.GetState(&st)
	assert.Equal(t, "mock", st.NetworkName)
	assert.Equal(t, abi.ActorID(builtin.FirstNonSingletonActorId), st.NextID)
	actor.checkState(rt)
}

func TestExec(t *testing.T) {
	callerAddr := tutil.NewIDAddr(t, 101)

	t.Run("happy path exec create registry", func(t *testing.T) {
		rt, h := setupExec(t, callerAddr, builtin.AccountActorCodeID)

		// The registry constructor will be invoked with the exec params passed through,
		// at the ID address allocated for it.
		uniqueAddr := tutil.NewActorAddr(t, "registry")
		rt.SetNewActorAddress(uniqueAddr)

		expIdAddr := tutil.NewIDAddr(t, builtin.FirstNonSingletonActorId)
		rt.ExpectCreateActor(builtin.RegistryActorCodeID, expIdAddr)

		rt.ExpectValidateCallerAny()
		rt.ExpectSend(expIdAddr, builtin.MethodConstructor, runtime.CBORBytes(marshal(t, abi.Empty)), big.Zero(), nil, exitcode.Ok)

		execRet := h.execAndVerify(rt, builtin.RegistryActorCodeID, abi.Empty)
		assert.Equal(t, expIdAddr, execRet.IDAddress)
		assert.Equal(t, uniqueAddr, execRet.RobustAddress)

		// The mapping from the robust address to the allocated ID is persisted.
		var st init_.State
		rt.GetState(&st)
		resolved, found, err := st.ResolveAddress(adt.AsStore(rt), uniqueAddr)
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, expIdAddr, resolved)
		h.checkState(rt)
	})

	t.Run("allocates distinct ids for successive execs", func(t *testing.T) {
		rt, h := setupExec(t, callerAddr, builtin.AccountActorCodeID)

		for i := 0; i < 3; i++ {
			uniqueAddr := tutil.NewActorAddr(t, strings.Repeat("x", i+1))
			rt.SetNewActorAddress(uniqueAddr)
			expIdAddr := tutil.NewIDAddr(t, builtin.FirstNonSingletonActorId+uint64(i))
			rt.ExpectCreateActor(builtin.RegistryActorCodeID, expIdAddr)
			rt.ExpectValidateCallerAny()
			rt.ExpectSend(expIdAddr, builtin.MethodConstructor, runtime.CBORBytes(marshal(t, abi.Empty)), big.Zero(), nil, exitcode.Ok)

			execRet := h.execAndVerify(rt, builtin.RegistryActorCodeID, abi.Empty)
			assert.Equal(t, expIdAddr, execRet.IDAddress)
		}
		h.checkState(rt)
	})

	t.Run("forbids creating singleton actors", func(t *testing.T) {
		rt, h := setupExec(t, callerAddr, builtin.AccountActorCodeID)

		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(exitcode.ErrForbidden, func() {
			h.exec(rt, builtin.SystemActorCodeID, abi.Empty)
		})
		rt.Verify()
	})

	t.Run("forbids non-signable callers", func(t *testing.T) {
		rt, h := setupExec(t, callerAddr, builtin.SystemActorCodeID)

		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(exitcode.ErrForbidden, func() {
			h.exec(rt, builtin.RegistryActorCodeID, abi.Empty)
		})
		rt.Verify()
	})

	t.Run("aborts if a constructor fails", func(t *testing.T) {
		rt, h := setupExec(t, callerAddr, builtin.AccountActorCodeID)

		uniqueAddr := tutil.NewActorAddr(t, "registry")
		rt.SetNewActorAddress(uniqueAddr)
		expIdAddr := tutil.NewIDAddr(t, builtin.FirstNonSingletonActorId)
		rt.ExpectCreateActor(builtin.RegistryActorCodeID, expIdAddr)

		rt.ExpectValidateCallerAny()
		rt.ExpectSend(expIdAddr, builtin.MethodConstructor, runtime.CBORBytes(marshal(t, abi.Empty)), big.Zero(), nil, exitcode.ErrIllegalState)

		rt.ExpectAbort(exitcode.ErrIllegalState, func() {
			h.exec(rt, builtin.RegistryActorCodeID, abi.Empty)
		})
		rt.Verify()
	})
}

func TestResolveAddress(t *testing.T) {
	receiver := tutil.NewIDAddr(t, 1000)
	rt := mock.NewBuilder(receiver).WithCaller(builtin.SystemActorAddr, builtin.SystemActorCodeID).Build(t)
	h := initHarness{init_.Actor{}, t}
	h.constructAndVerify(rt)

	var st init_.State
	rt.GetState(&st)
	store := adt.AsStore(rt)

	// An ID address passes through.
	idAddr := tutil.NewIDAddr(t, 500)
	resolved, found, err := st.ResolveAddress(store, idAddr)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, idAddr, resolved)

	// An unmapped non-ID address is not found.
	_, found, err = st.ResolveAddress(store, tutil.NewSECP256K1Addr(t, "unmapped"))
	require.NoError(t, err)
	assert.False(t, found)

	// A mapped address resolves to the allocated ID.
	pkAddr := tutil.NewSECP256K1Addr(t, "mapped")
	mapped, err := st.MapAddressToNewID(store, pkAddr)
	require.NoError(t, err)

	resolved, found, err = st.ResolveAddress(store, pkAddr)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, mapped, resolved)
}

type initHarness struct {
	init_.Actor
	t testing.TB
}

func (h *initHarness) constructAndVerify(rt *mock.Runtime) {
	rt.ExpectValidateCallerAddr(builtin.SystemActorAddr)
	ret := rt.Call(h.Actor, builtin.MethodsInit.Constructor, &init_.ConstructorParams{NetworkName: "mock"})
	assert.Nil(h.t, ret)
	rt.Verify()
}

func (h *initHarness) exec(rt *mock.Runtime, codeID cid.Cid, constructorParams cbor.Marshaler) *init_.ExecReturn {
	return rt.Call(h.Actor, builtin.MethodsInit.Exec, &init_.ExecParams{
		CodeCID:           codeID,
		ConstructorParams: marshal(h.t, constructorParams),
	}).(*init_.ExecReturn)
}

func (h *initHarness) execAndVerify(rt *mock.Runtime, codeID cid.Cid, constructorParams cbor.Marshaler) *init_.ExecReturn {
	ret := h.exec(rt, codeID, constructorParams)
	rt.Verify()
	return ret
}

func (h *initHarness) checkState(rt *mock.Runtime) {
	var st init_.State
	rt.GetState(&st)
	_, msgs := init_.CheckStateInvariants(&st, adt.AsStore(rt))
	assert.True(h.t, msgs.IsEmpty(), strings.Join(msgs.Messages(), "\n"))
}

func setupExec(t *testing.T, caller addr.Address, callerCode cid.Cid) (*mock.Runtime, initHarness) {
	receiver := tutil.NewIDAddr(t, 1000)
	rt := mock.NewBuilder(receiver).WithCaller(builtin.SystemActorAddr, builtin.SystemActorCodeID).Build(t)
	h := initHarness{init_.Actor{}, t}
	h.constructAndVerify(rt)
	rt.SetCaller(caller, callerCode)
	return rt, h
}

func marshal(t testing.TB, o cbor.Marshaler) []byte {
	var buf bytes.Buffer
	require.NoError(t, o.MarshalCBOR(&buf))
	return buf.Bytes()
}
