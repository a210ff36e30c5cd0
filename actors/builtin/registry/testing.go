package registry

import (
	"github.com/filecoin-project/go-state-types/abi"

	"github.com/worlddbs/actor-runtime/actors/builtin"
	"github.com/worlddbs/actor-runtime/actors/util/adt"
)

type StateSummary struct {
	UserCount  uint64
	NextUserID uint64
}

// Checks internal invariants of registry state.
func CheckStateInvariants(st *State, store adt.Store) (*StateSummary, *builtin.MessageAccumulator) {
	acc := &builtin.MessageAccumulator{}
	summary := &StateSummary{NextUserID: st.NextUserID}

	acc.Require(st.NextUserID >= FirstUserId, "next user id %d is too low", st.NextUserID)

	users, err := adt.AsMap(store, st.Users, builtin.DefaultHamtBitwidth)
	if err != nil {
		acc.Addf("error loading users map: %v", err)
		return summary, acc
	}

	seenIds := map[uint64]string{}
	var entry UserEntry
	err = users.ForEach(&entry, func(key string) error {
		summary.UserCount++
		acc.Require(entry.Name == key, "user %q stored under key %q", entry.Name, key)
		acc.Require(entry.Id >= FirstUserId && entry.Id < st.NextUserID, "user %q has out-of-range id %d", entry.Name, entry.Id)

		if other, dup := seenIds[entry.Id]; dup {
			acc.Addf("duplicate id %d: %q, %q", entry.Id, entry.Name, other)
		}
		seenIds[entry.Id] = entry.Name

		allocated, err := st.UserIDs.IsSet(entry.Id)
		if err != nil {
			return err
		}
		acc.Require(allocated, "user %q id %d missing from allocated set", entry.Name, entry.Id)
		return nil
	})
	acc.RequireNoError(err, "error iterating users map")

	allocatedCount, err := st.UserIDs.Count()
	acc.RequireNoError(err, "error counting allocated ids")
	if err == nil {
		acc.Require(allocatedCount == summary.UserCount,
			"%d allocated ids for %d users", allocatedCount, summary.UserCount)
	}

	events, err := adt.AsMultimap(store, st.Events, builtin.DefaultHamtBitwidth, builtin.DefaultAmtBitwidth)
	if err != nil {
		acc.Addf("error loading events: %v", err)
		return summary, acc
	}
	err = events.ForAll(func(key string, arr *adt.Array) error {
		id, err := abi.ParseUIntKey(key)
		if err != nil {
			return err
		}
		allocated, err := st.UserIDs.IsSet(id)
		if err != nil {
			return err
		}
		acc.Require(allocated, "events recorded for unallocated id %d", id)
		acc.Require(arr.Length() > 0, "empty event log for id %d", id)
		return nil
	})
	acc.RequireNoError(err, "error iterating events")

	return summary, acc
}
