package mock

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/worlddbs/actor-runtime/actors/runtime"
	"github.com/worlddbs/actor-runtime/actors/runtime/dispatch"
)

// Checks that a VM actor exports a well-formed dispatch table.
func CheckActorExports(t *testing.T, act runtime.VMActor) {
	_, err := dispatch.TableFor(act)
	require.NoError(t, err)

	for _, m := range act.Exports() {
		require.NotEmpty(t, m.Name, "method %d has no name", m.Num)
		require.NotNil(t, m.NewParams, "method %d (%s) has no params constructor", m.Num, m.Name)
		require.NotNil(t, m.NewParams(), "method %d (%s) params constructor returned nil", m.Num, m.Name)
		require.NotNil(t, m.Apply, "method %d (%s) has no implementation", m.Num, m.Name)
	}
}
