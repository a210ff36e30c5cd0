package registry_test

import (
	"strings"
	"testing"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worlddbs/actor-runtime/actors/builtin"
	"github.com/worlddbs/actor-runtime/actors/builtin/registry"
	"github.com/worlddbs/actor-runtime/actors/util/adt"
	"github.com/worlddbs/actor-runtime/support/mock"
	tutil "github.com/worlddbs/actor-runtime/support/testing"
)

func TestExports(t *testing.T) {
	mock.CheckActorExports(t, registry.Actor{})
}

func TestConstruction(t *testing.T) {
	actor := registry.Actor{}
	receiver := tutil.NewIDAddr(t, 1000)
	builder := mock.NewBuilder(receiver).WithCaller(builtin.SystemActorAddr, builtin.SystemActorCodeID)

	t.Run("simple construction", func(t *testing.T) {
		rt := builder.Build(t)
		rt.ExpectValidateCallerAddr(builtin.SystemActorAddr, builtin.InitActorAddr)

		ret := rt.Call(actor, builtin.MethodsRegistry.Constructor, nil)
		assert.Nil(t, ret)
		rt.Verify()

		var st registry.State
		rt.GetState(&st)
		assert.Equal(t, uint64(registry.FirstUserId), st.NextUserID)
		assert.Equal(t, uint64(0), st.CallCount)

		store := adt.AsStore(rt)
		users, err := adt.AsMap(store, st.Users, builtin.DefaultHamtBitwidth)
		require.NoError(t, err)
		keys, err := users.CollectKeys()
		require.NoError(t, err)
		assert.Empty(t, keys)

		count, err := st.UserIDs.Count()
		require.NoError(t, err)
		assert.Equal(t, uint64(0), count)

		checkState(t, rt)
	})

	t.Run("construction by init actor", func(t *testing.T) {
		rt := builder.WithCaller(builtin.InitActorAddr, builtin.InitActorCodeID).Build(t)
		rt.ExpectValidateCallerAddr(builtin.SystemActorAddr, builtin.InitActorAddr)

		rt.Call(actor, builtin.MethodsRegistry.Constructor, nil)
		rt.Verify()
		checkState(t, rt)
	})

	t.Run("construction rejects other callers", func(t *testing.T) {
		caller := tutil.NewIDAddr(t, 101)
		rt := builder.WithCaller(caller, builtin.AccountActorCodeID).Build(t)
		rt.ExpectValidateCallerAddr(builtin.SystemActorAddr, builtin.InitActorAddr)

		rt.ExpectAbort(exitcode.SysErrForbidden, func() {
			rt.Call(actor, builtin.MethodsRegistry.Constructor, nil)
		})
		rt.Verify()
	})
}

func TestPersist(t *testing.T) {
	caller := tutil.NewIDAddr(t, 101)

	t.Run("new name allocates the next id", func(t *testing.T) {
		rt, actor := constructRuntime(t)
		rt.SetCaller(caller, builtin.AccountActorCodeID)

		ret := persist(t, rt, actor, "alice")
		assert.Equal(t, uint64(registry.FirstUserId), ret.Id)
		assert.Equal(t, uint64(1), ret.Updates)

		ret = persist(t, rt, actor, "bob")
		assert.Equal(t, uint64(registry.FirstUserId+1), ret.Id)
		assert.Equal(t, uint64(1), ret.Updates)

		var st registry.State
		rt.GetState(&st)
		assert.Equal(t, uint64(registry.FirstUserId+2), st.NextUserID)
		assert.Equal(t, uint64(2), st.CallCount)
		checkState(t, rt)
	})

	t.Run("existing name keeps its id and bumps updates", func(t *testing.T) {
		rt, actor := constructRuntime(t)
		rt.SetCaller(caller, builtin.AccountActorCodeID)

		first := persist(t, rt, actor, "alice")
		second := persist(t, rt, actor, "alice")
		third := persist(t, rt, actor, "alice")

		assert.Equal(t, first.Id, second.Id)
		assert.Equal(t, first.Id, third.Id)
		assert.Equal(t, uint64(2), second.Updates)
		assert.Equal(t, uint64(3), third.Updates)

		var st registry.State
		rt.GetState(&st)
		assert.Equal(t, uint64(registry.FirstUserId+1), st.NextUserID)
		assert.Equal(t, uint64(3), st.CallCount)
		checkState(t, rt)
	})

	t.Run("records an event per persist", func(t *testing.T) {
		rt, actor := constructRuntime(t)
		rt.SetCaller(caller, builtin.AccountActorCodeID)

		rt.SetEpoch(abi.ChainEpoch(10))
		ret := persist(t, rt, actor, "alice")
		rt.SetEpoch(abi.ChainEpoch(20))
		persist(t, rt, actor, "alice")

		var st registry.State
		rt.GetState(&st)
		events, err := adt.AsMultimap(adt.AsStore(rt), st.Events, builtin.DefaultHamtBitwidth, builtin.DefaultAmtBitwidth)
		require.NoError(t, err)
		arr, found, err := events.Get(abi.UIntKey(ret.Id))
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, uint64(2), arr.Length())
		checkState(t, rt)
	})

	t.Run("rejects empty name", func(t *testing.T) {
		rt, actor := constructRuntime(t)
		rt.SetCaller(caller, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)

		rt.ExpectAbort(exitcode.ErrIllegalArgument, func() {
			rt.Call(actor, builtin.MethodsRegistry.Persist, &registry.PersistParams{Name: ""})
		})
		rt.Verify()
	})

	t.Run("rejects non-signable caller", func(t *testing.T) {
		rt, actor := constructRuntime(t)
		rt.SetCaller(caller, builtin.SystemActorCodeID)
		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)

		rt.ExpectAbort(exitcode.SysErrForbidden, func() {
			rt.Call(actor, builtin.MethodsRegistry.Persist, &registry.PersistParams{Name: "alice"})
		})
		rt.Verify()
	})
}

func TestLookup(t *testing.T) {
	caller := tutil.NewIDAddr(t, 101)

	t.Run("finds a persisted name", func(t *testing.T) {
		rt, actor := constructRuntime(t)
		rt.SetCaller(caller, builtin.AccountActorCodeID)
		persisted := persist(t, rt, actor, "alice")
		persist(t, rt, actor, "alice")

		rt.ExpectValidateCallerAny()
		ret := rt.Call(actor, builtin.MethodsRegistry.Lookup, &registry.LookupParams{Name: "alice"}).(*registry.LookupReturn)
		rt.Verify()

		assert.Equal(t, persisted.Id, ret.Id)
		assert.Equal(t, uint64(2), ret.Updates)
	})

	t.Run("does not count as a call", func(t *testing.T) {
		rt, actor := constructRuntime(t)
		rt.SetCaller(caller, builtin.AccountActorCodeID)
		persist(t, rt, actor, "alice")

		rt.ExpectValidateCallerAny()
		rt.Call(actor, builtin.MethodsRegistry.Lookup, &registry.LookupParams{Name: "alice"})
		rt.Verify()

		var st registry.State
		rt.GetState(&st)
		assert.Equal(t, uint64(1), st.CallCount)
	})

	t.Run("aborts on unknown name", func(t *testing.T) {
		rt, actor := constructRuntime(t)
		rt.SetCaller(caller, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerAny()

		rt.ExpectAbort(exitcode.ErrNotFound, func() {
			rt.Call(actor, builtin.MethodsRegistry.Lookup, &registry.LookupParams{Name: "nobody"})
		})
		rt.Verify()
	})
}

func TestRevoke(t *testing.T) {
	caller := tutil.NewIDAddr(t, 101)

	t.Run("removes the name and releases its id", func(t *testing.T) {
		rt, actor := constructRuntime(t)
		rt.SetCaller(caller, builtin.AccountActorCodeID)
		persisted := persist(t, rt, actor, "alice")

		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
		ret := rt.Call(actor, builtin.MethodsRegistry.Revoke, &registry.RevokeParams{Name: "alice"})
		assert.Nil(t, ret)
		rt.Verify()

		var st registry.State
		rt.GetState(&st)
		assert.Equal(t, uint64(2), st.CallCount)

		allocated, err := st.UserIDs.IsSet(persisted.Id)
		require.NoError(t, err)
		assert.False(t, allocated)

		rt.ExpectValidateCallerAny()
		rt.ExpectAbort(exitcode.ErrNotFound, func() {
			rt.Call(actor, builtin.MethodsRegistry.Lookup, &registry.LookupParams{Name: "alice"})
		})
		rt.Verify()
		checkState(t, rt)
	})

	t.Run("revoked id is not reused", func(t *testing.T) {
		rt, actor := constructRuntime(t)
		rt.SetCaller(caller, builtin.AccountActorCodeID)
		first := persist(t, rt, actor, "alice")

		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
		rt.Call(actor, builtin.MethodsRegistry.Revoke, &registry.RevokeParams{Name: "alice"})

		again := persist(t, rt, actor, "alice")
		assert.Equal(t, first.Id+1, again.Id)
		checkState(t, rt)
	})

	t.Run("aborts on unknown name", func(t *testing.T) {
		rt, actor := constructRuntime(t)
		rt.SetCaller(caller, builtin.AccountActorCodeID)
		rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)

		rt.ExpectAbort(exitcode.ErrNotFound, func() {
			rt.Call(actor, builtin.MethodsRegistry.Revoke, &registry.RevokeParams{Name: "nobody"})
		})
		rt.Verify()
	})
}

func constructRuntime(t *testing.T) (*mock.Runtime, registry.Actor) {
	actor := registry.Actor{}
	receiver := tutil.NewIDAddr(t, 1000)
	rt := mock.NewBuilder(receiver).
		WithCaller(builtin.SystemActorAddr, builtin.SystemActorCodeID).
		Build(t)
	rt.ExpectValidateCallerAddr(builtin.SystemActorAddr, builtin.InitActorAddr)
	rt.Call(actor, builtin.MethodsRegistry.Constructor, nil)
	rt.Verify()
	return rt, actor
}

func persist(t *testing.T, rt *mock.Runtime, actor registry.Actor, name string) *registry.PersistReturn {
	rt.ExpectValidateCallerType(builtin.CallerTypesSignable...)
	ret := rt.Call(actor, builtin.MethodsRegistry.Persist, &registry.PersistParams{Name: name}).(*registry.PersistReturn)
	rt.Verify()
	return ret
}

func checkState(t *testing.T, rt *mock.Runtime) {
	var st registry.State
	rt.GetState(&st)
	_, msgs := registry.CheckStateInvariants(&st, adt.AsStore(rt))
	assert.True(t, msgs.IsEmpty(), strings.Join(msgs.Messages(), "\n"))
}
