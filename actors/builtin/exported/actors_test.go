package exported

import (
	"reflect"
	"testing"

	"github.com/filecoin-project/go-state-types/abi"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/require"

	"github.com/worlddbs/actor-runtime/actors/builtin"
	"github.com/worlddbs/actor-runtime/actors/builtin/account"
	init_ "github.com/worlddbs/actor-runtime/actors/builtin/init"
	"github.com/worlddbs/actor-runtime/actors/builtin/registry"
	"github.com/worlddbs/actor-runtime/actors/builtin/system"
	"github.com/worlddbs/actor-runtime/actors/runtime"
	"github.com/worlddbs/actor-runtime/actors/runtime/dispatch"
)

func TestKnownActors(t *testing.T) {
	// Test all known actors. This ensures we:
	// * Export all the right actors.
	// * Don't get any method mismatches.

	// We can't test this in the builtin package due to cyclic imports, so
	// we test it here.
	builtins := BuiltinActors()
	actorInfos := []struct {
		actor     runtime.VMActor
		code      cid.Cid
		singleton bool
		methods   interface{}
	}{
		{account.Actor{}, builtin.AccountActorCodeID, false, builtin.MethodsAccount},
		{init_.Actor{}, builtin.InitActorCodeID, true, builtin.MethodsInit},
		{registry.Actor{}, builtin.RegistryActorCodeID, false, builtin.MethodsRegistry},
		{system.Actor{}, builtin.SystemActorCodeID, true, nil},
	}
	require.Equal(t, len(builtins), len(actorInfos))
	for i, info := range actorInfos {
		// check exported actors.
		require.Equal(t, info.actor, builtins[i])

		// check codes.
		require.Equal(t, info.code, info.actor.Code())
		require.Equal(t, info.singleton, info.actor.IsSingleton())

		// check the dispatch table builds.
		table, err := dispatch.TableFor(info.actor)
		require.NoError(t, err)

		// check method numbers and names against the declared methods.
		if info.methods == nil {
			continue
		}
		methodsVal := reflect.ValueOf(info.methods)
		methodsTyp := methodsVal.Type()
		require.Equal(t, methodsVal.NumField(), len(info.actor.Exports()))
		for j := 0; j < methodsVal.NumField(); j++ {
			num := methodsVal.Field(j).Interface().(abi.MethodNum)
			name := methodsTyp.Field(j).Name

			m, found := table.Lookup(num)
			require.True(t, found, "actor %v does not export method %d (%s)", info.code, num, name)
			require.Equal(t, name, m.Name)
		}
	}
}
