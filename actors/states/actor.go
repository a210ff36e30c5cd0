package states

import (
	"github.com/filecoin-project/go-state-types/big"
	"github.com/ipfs/go-cid"
)

// Value type of the top level of the state tree.
// Represents the on-chain state of a single actor.
type Actor struct {
	Code       cid.Cid // CID representing the code associated with the actor
	Head       cid.Cid // CID of the head state object for the actor
	CallSeqNum uint64  // CallSeqNum for the next message to be received by the actor (non-zero for accounts only)
	Balance    big.Int // Token balance of the actor
}
