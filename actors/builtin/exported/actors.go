package exported

import (
	"github.com/worlddbs/actor-runtime/actors/builtin/account"
	init_ "github.com/worlddbs/actor-runtime/actors/builtin/init"
	"github.com/worlddbs/actor-runtime/actors/builtin/registry"
	"github.com/worlddbs/actor-runtime/actors/builtin/system"
	"github.com/worlddbs/actor-runtime/actors/runtime"
)

// BuiltinActors returns all the builtin actor implementations.
func BuiltinActors() []runtime.VMActor {
	return []runtime.VMActor{
		account.Actor{},
		init_.Actor{},
		registry.Actor{},
		system.Actor{},
	}
}
