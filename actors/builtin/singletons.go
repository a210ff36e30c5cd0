package builtin

import (
	addr "github.com/filecoin-project/go-address"
	cid "github.com/ipfs/go-cid"
)

// Addresses for singleton system actors.
var (
	// Distinguished account actor that is the source of system implicit messages.
	SystemActorAddr = mustMakeAddress(0)
	InitActorAddr   = mustMakeAddress(1)

	// Well-known address of the registry instance installed at genesis.
	// Further instances may be created through the init actor.
	RegistryActorAddr = mustMakeAddress(2)

	// Distinguished account for the sink of irrecoverable funds.
	BurntFundsActorAddr = mustMakeAddress(99)
)

// The first non-singleton actor ID assigned by the init actor.
const FirstNonSingletonActorId = 100

func mustMakeAddress(id uint64) addr.Address {
	address, err := addr.NewIDAddress(id)
	if err != nil {
		panic(err)
	}
	return address
}

// IsSingletonActor returns whether the code belongs to an actor that may
// exist only at one well-known address.
func IsSingletonActor(code cid.Cid) bool {
	return code.Equals(SystemActorCodeID) ||
		code.Equals(InitActorCodeID)
}
