package main

import (
	gen "github.com/whyrusleeping/cbor-gen"

	"github.com/worlddbs/actor-runtime/actors/builtin/account"
	init_ "github.com/worlddbs/actor-runtime/actors/builtin/init"
	"github.com/worlddbs/actor-runtime/actors/builtin/registry"
	"github.com/worlddbs/actor-runtime/actors/builtin/system"
	"github.com/worlddbs/actor-runtime/actors/states"
)

func main() {
	// Common types
	if err := gen.WriteTupleEncodersToFile("./actors/states/cbor_gen.go", "states",
		states.Actor{},
	); err != nil {
		panic(err)
	}

	// Actors
	if err := gen.WriteTupleEncodersToFile("./actors/builtin/system/cbor_gen.go", "system",
		// actor state
		system.State{},
	); err != nil {
		panic(err)
	}

	if err := gen.WriteTupleEncodersToFile("./actors/builtin/account/cbor_gen.go", "account",
		// actor state
		account.State{},
	); err != nil {
		panic(err)
	}

	if err := gen.WriteTupleEncodersToFile("./actors/builtin/init/cbor_gen.go", "init",
		// actor state
		init_.State{},
		// method params and returns
		init_.ConstructorParams{},
		init_.ExecParams{},
		init_.ExecReturn{},
	); err != nil {
		panic(err)
	}

	if err := gen.WriteTupleEncodersToFile("./actors/builtin/registry/cbor_gen.go", "registry",
		// actor state
		registry.State{},
		registry.UserEntry{},
		// method params and returns
		registry.PersistParams{},
		registry.PersistReturn{},
		registry.LookupParams{},
		registry.LookupReturn{},
		registry.RevokeParams{},
	); err != nil {
		panic(err)
	}
}
