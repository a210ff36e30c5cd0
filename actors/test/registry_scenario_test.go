package test

import (
	"context"
	"testing"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"github.com/filecoin-project/go-state-types/exitcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worlddbs/actor-runtime/actors/builtin"
	"github.com/worlddbs/actor-runtime/actors/builtin/registry"
	"github.com/worlddbs/actor-runtime/actors/runtime"
	"github.com/worlddbs/actor-runtime/support/ipld"
	"github.com/worlddbs/actor-runtime/support/vm"
)

func TestRegistryPersistAndLookup(t *testing.T) {
	ctx := context.Background()
	v := vm.NewVMWithSingletons(ctx, t, ipld.NewBlockStoreInMemory())
	addrs := vm.CreateAccounts(ctx, t, v, 2, big.Mul(big.NewInt(10), vm.TokenUnit), 93837778)
	alice, bob := addrs[0], addrs[1]

	// persist a record for alice
	ret := vm.ApplyOk(t, v, alice, builtin.RegistryActorAddr, big.Zero(), builtin.MethodsRegistry.Persist, &registry.PersistParams{Name: "alice"})
	persistRet, ok := ret.(*registry.PersistReturn)
	require.True(t, ok)
	assert.Equal(t, uint64(registry.FirstUserId), persistRet.Id)
	assert.Equal(t, uint64(1), persistRet.Updates)

	vm.ExpectInvocation{
		To:       builtin.RegistryActorAddr,
		Method:   builtin.MethodsRegistry.Persist,
		Exitcode: exitcode.Ok,
		Ret:      vm.ExpectObject(persistRet),
	}.Matches(t, v.LastInvocation())

	// a second persist of the same name bumps the update count but keeps the ID
	ret = vm.ApplyOk(t, v, alice, builtin.RegistryActorAddr, big.Zero(), builtin.MethodsRegistry.Persist, &registry.PersistParams{Name: "alice"})
	persistRet = ret.(*registry.PersistReturn)
	assert.Equal(t, uint64(registry.FirstUserId), persistRet.Id)
	assert.Equal(t, uint64(2), persistRet.Updates)

	// a different name gets the next ID
	ret = vm.ApplyOk(t, v, bob, builtin.RegistryActorAddr, big.Zero(), builtin.MethodsRegistry.Persist, &registry.PersistParams{Name: "bob"})
	persistRet = ret.(*registry.PersistReturn)
	assert.Equal(t, uint64(registry.FirstUserId+1), persistRet.Id)

	// lookup sees the committed entries
	ret = vm.ApplyOk(t, v, bob, builtin.RegistryActorAddr, big.Zero(), builtin.MethodsRegistry.Lookup, &registry.LookupParams{Name: "alice"})
	lookupRet := ret.(*registry.LookupReturn)
	assert.Equal(t, uint64(registry.FirstUserId), lookupRet.Id)
	assert.Equal(t, uint64(2), lookupRet.Updates)

	entry, found := vm.GetRegistryUser(t, v, builtin.RegistryActorAddr, "bob")
	require.True(t, found)
	assert.Equal(t, "bob", entry.Name)

	// three mutating calls served
	state := vm.GetRegistryState(t, v, builtin.RegistryActorAddr)
	assert.Equal(t, uint64(3), state.CallCount)
}

func TestRegistryRevoke(t *testing.T) {
	ctx := context.Background()
	v := vm.NewVMWithSingletons(ctx, t, ipld.NewBlockStoreInMemory())
	addrs := vm.CreateAccounts(ctx, t, v, 1, big.Mul(big.NewInt(10), vm.TokenUnit), 93837778)
	caller := addrs[0]

	ret := vm.ApplyOk(t, v, caller, builtin.RegistryActorAddr, big.Zero(), builtin.MethodsRegistry.Persist, &registry.PersistParams{Name: "alice"})
	firstId := ret.(*registry.PersistReturn).Id

	vm.ApplyOk(t, v, caller, builtin.RegistryActorAddr, big.Zero(), builtin.MethodsRegistry.Revoke, &registry.RevokeParams{Name: "alice"})

	// the record is gone
	_, found := vm.GetRegistryUser(t, v, builtin.RegistryActorAddr, "alice")
	require.False(t, found)
	vm.ApplyCode(t, v, caller, builtin.RegistryActorAddr, big.Zero(), builtin.MethodsRegistry.Lookup, &registry.LookupParams{Name: "alice"}, exitcode.ErrNotFound)

	// persisting the name again allocates a fresh ID, revoked IDs are never reused
	ret = vm.ApplyOk(t, v, caller, builtin.RegistryActorAddr, big.Zero(), builtin.MethodsRegistry.Persist, &registry.PersistParams{Name: "alice"})
	assert.Equal(t, firstId+1, ret.(*registry.PersistReturn).Id)
}

func TestUnknownMethodLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	v := vm.NewVMWithSingletons(ctx, t, ipld.NewBlockStoreInMemory())
	addrs := vm.CreateAccounts(ctx, t, v, 1, big.Mul(big.NewInt(10), vm.TokenUnit), 93837778)
	caller := addrs[0]

	// commit pending genesis changes so the pre-call root is observable
	vm.ApplyOk(t, v, caller, builtin.RegistryActorAddr, big.Zero(), builtin.MethodsRegistry.Persist, &registry.PersistParams{Name: "alice"})
	priorRoot := v.StateRoot()

	vm.ApplyCode(t, v, caller, builtin.RegistryActorAddr, big.Zero(), abi.MethodNum(99), nil, exitcode.SysErrInvalidMethod)
	assert.Equal(t, priorRoot, v.StateRoot())

	// the failed call must not have touched the registry
	state := vm.GetRegistryState(t, v, builtin.RegistryActorAddr)
	assert.Equal(t, uint64(1), state.CallCount)
}

func TestMalformedParamsLeaveStateUnchanged(t *testing.T) {
	ctx := context.Background()
	v := vm.NewVMWithSingletons(ctx, t, ipld.NewBlockStoreInMemory())
	addrs := vm.CreateAccounts(ctx, t, v, 1, big.Mul(big.NewInt(10), vm.TokenUnit), 93837778)
	caller := addrs[0]

	vm.ApplyOk(t, v, caller, builtin.RegistryActorAddr, big.Zero(), builtin.MethodsRegistry.Persist, &registry.PersistParams{Name: "alice"})
	priorRoot := v.StateRoot()

	// a single-element array header with no payload is a truncated PersistParams encoding
	truncated := runtime.CBORBytes([]byte{0x81})
	vm.ApplyCode(t, v, caller, builtin.RegistryActorAddr, big.Zero(), builtin.MethodsRegistry.Persist, truncated, exitcode.ErrSerialization)
	assert.Equal(t, priorRoot, v.StateRoot())
}

func TestGasBudgetExhaustion(t *testing.T) {
	ctx := context.Background()
	v := vm.NewVMWithSingletons(ctx, t, ipld.NewBlockStoreInMemory())
	addrs := vm.CreateAccounts(ctx, t, v, 1, big.Mul(big.NewInt(10), vm.TokenUnit), 93837778)
	caller := addrs[0]

	vm.ApplyOk(t, v, caller, builtin.RegistryActorAddr, big.Zero(), builtin.MethodsRegistry.Persist, &registry.PersistParams{Name: "alice"})
	priorRoot := v.StateRoot()

	v.SetGasBudget(100)
	vm.ApplyCode(t, v, caller, builtin.RegistryActorAddr, big.Zero(), builtin.MethodsRegistry.Persist, &registry.PersistParams{Name: "bob"}, exitcode.SysErrOutOfGas)
	assert.Equal(t, priorRoot, v.StateRoot())
}

func TestCallStatsRecordStoreTraffic(t *testing.T) {
	ctx := context.Background()
	metrics := ipld.NewMetricsBlockStore(ipld.NewSyncBlockStore(ipld.NewBlockStoreInMemory()))
	v := vm.NewVMWithSingletons(ctx, t, metrics)
	v.SetStatsSource(metrics)
	addrs := vm.CreateAccounts(ctx, t, v, 1, big.Mul(big.NewInt(10), vm.TokenUnit), 93837778)
	caller := addrs[0]

	vm.ApplyOk(t, v, caller, builtin.RegistryActorAddr, big.Zero(), builtin.MethodsRegistry.Persist, &registry.PersistParams{Name: "alice"})
	vm.ApplyOk(t, v, caller, builtin.RegistryActorAddr, big.Zero(), builtin.MethodsRegistry.Persist, &registry.PersistParams{Name: "alice"})

	key := vm.MethodKey{Code: builtin.RegistryActorCodeID, Method: builtin.MethodsRegistry.Persist}
	stats, ok := v.GetCallStats()[key]
	require.True(t, ok)
	assert.Equal(t, uint64(2), stats.Calls)
	assert.True(t, stats.Reads > 0)
	assert.True(t, stats.Writes > 0)
}
