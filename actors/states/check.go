package states

import (
	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	"golang.org/x/xerrors"

	"github.com/worlddbs/actor-runtime/actors/builtin"
	"github.com/worlddbs/actor-runtime/actors/builtin/account"
	init_ "github.com/worlddbs/actor-runtime/actors/builtin/init"
	"github.com/worlddbs/actor-runtime/actors/builtin/registry"
)

// Within this code, Go errors are not expected, but are often converted to messages so that execution
// can continue to find more errors rather than fail with no insight.
// Only errors thar are particularly troublesome to recover from should propagate as Go errors.
func CheckStateInvariants(tree *Tree, expectedBalanceTotal abi.TokenAmount) (*builtin.MessageAccumulator, error) {
	acc := &builtin.MessageAccumulator{}
	totalBalance := big.Zero()
	var initSummary *init_.StateSummary
	accountSummaries := make(map[addr.Address]*account.StateSummary)
	registrySummaries := make(map[addr.Address]*registry.StateSummary)

	if err := tree.ForEach(func(key addr.Address, actor *Actor) error {
		acc := acc.WithPrefix("%v ", key) // Intentional shadow
		if key.Protocol() != addr.ID {
			acc.Addf("unexpected address protocol in state tree root: %v", key)
		}
		acc.Require(actor.Balance.GreaterThanEqual(big.Zero()), "actor has negative balance %v", actor.Balance)
		totalBalance = big.Add(totalBalance, actor.Balance)

		switch actor.Code {
		case builtin.SystemActorCodeID:

		case builtin.InitActorCodeID:
			var st init_.State
			if err := tree.Store.Get(tree.Store.Context(), actor.Head, &st); err != nil {
				return err
			}
			summary, msgs := init_.CheckStateInvariants(&st, tree.Store)
			acc.WithPrefix("init: ").AddAll(msgs)
			initSummary = summary
		case builtin.AccountActorCodeID:
			var st account.State
			if err := tree.Store.Get(tree.Store.Context(), actor.Head, &st); err != nil {
				return err
			}
			summary, msgs := account.CheckStateInvariants(&st, key)
			acc.WithPrefix("account: ").AddAll(msgs)
			accountSummaries[key] = summary
		case builtin.RegistryActorCodeID:
			var st registry.State
			if err := tree.Store.Get(tree.Store.Context(), actor.Head, &st); err != nil {
				return err
			}
			summary, msgs := registry.CheckStateInvariants(&st, tree.Store)
			acc.WithPrefix("registry: ").AddAll(msgs)
			registrySummaries[key] = summary
		default:
			return xerrors.Errorf("unexpected actor code CID %v for address %v", actor.Code, key)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	//
	// Perform cross-actor checks from state summaries here.
	//

	CheckInitAgainstActors(acc, tree, initSummary)

	if !totalBalance.Equals(expectedBalanceTotal) {
		acc.Addf("total token balance is %v, expected %v", totalBalance, expectedBalanceTotal)
	}

	return acc, nil
}

// Checks that every address the init actor has mapped resolves to an actor present in the tree,
// and that no mapped ID is at or beyond the next to be allocated.
func CheckInitAgainstActors(acc *builtin.MessageAccumulator, tree *Tree, initSummary *init_.StateSummary) {
	if initSummary == nil {
		acc.Addf("no init actor found in state tree")
		return
	}

	for keyAddr, actorId := range initSummary.AddrIDs { // nolint:nomaprange
		acc.Require(actorId < initSummary.NextID, "mapped id %v for %v is not below next id %v",
			actorId, keyAddr, initSummary.NextID)

		idAddr, err := addr.NewIDAddress(uint64(actorId))
		if err != nil {
			acc.Addf("error building ID address for %v: %v", actorId, err)
			continue
		}
		_, found, err := tree.GetActor(idAddr)
		if err != nil {
			acc.Addf("error loading actor %v: %v", idAddr, err)
			continue
		}
		acc.Require(found, "address %v is mapped to %v but no actor exists there", keyAddr, idAddr)
	}
}
