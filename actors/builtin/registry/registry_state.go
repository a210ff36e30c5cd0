package registry

import (
	"github.com/filecoin-project/go-bitfield"
	"github.com/filecoin-project/go-state-types/abi"
	cid "github.com/ipfs/go-cid"
	cbg "github.com/whyrusleeping/cbor-gen"
	"golang.org/x/xerrors"

	"github.com/worlddbs/actor-runtime/actors/builtin"
	"github.com/worlddbs/actor-runtime/actors/util/adt"
)

// The first user ID allocated by a registry. Zero is never a valid ID.
const FirstUserId = 1

type State struct {
	// Records indexed by user name.
	Users cid.Cid // HAMT[string]UserEntry

	// Epochs at which each user was persisted, in order.
	Events cid.Cid // Multimap: HAMT[UserID]AMT[ChainEpoch]

	// The set of user IDs currently allocated.
	UserIDs bitfield.BitField

	// The ID to allocate to the next new user.
	NextUserID uint64

	// Total mutating method invocations served, for audit.
	CallCount uint64
}

type UserEntry struct {
	Id   uint64
	Name string
	// Number of times the name has been persisted, starting at 1.
	Updates uint64
}

func ConstructState(store adt.Store) (*State, error) {
	emptyUsersCid, err := adt.StoreEmptyMap(store, builtin.DefaultHamtBitwidth)
	if err != nil {
		return nil, xerrors.Errorf("failed to create empty users map: %w", err)
	}
	emptyEventsCid, err := adt.StoreEmptyMultimap(store, builtin.DefaultHamtBitwidth, builtin.DefaultAmtBitwidth)
	if err != nil {
		return nil, xerrors.Errorf("failed to create empty events multimap: %w", err)
	}

	return &State{
		Users:      emptyUsersCid,
		Events:     emptyEventsCid,
		UserIDs:    bitfield.New(),
		NextUserID: FirstUserId,
	}, nil
}

// Fetches a user entry by name, if present.
func (st *State) GetUser(store adt.Store, name string) (*UserEntry, bool, error) {
	users, err := adt.AsMap(store, st.Users, builtin.DefaultHamtBitwidth)
	if err != nil {
		return nil, false, xerrors.Errorf("failed to load users map: %w", err)
	}
	var entry UserEntry
	found, err := users.Get(userKey(name), &entry)
	if err != nil {
		return nil, false, xerrors.Errorf("failed to get user %q: %w", name, err)
	}
	if !found {
		return nil, false, nil
	}
	return &entry, true, nil
}

// Writes a user entry, creating it if the name was previously unknown and
// allocating its ID.
// Returns the stored entry.
func (st *State) PutUser(store adt.Store, name string, epoch abi.ChainEpoch) (*UserEntry, error) {
	users, err := adt.AsMap(store, st.Users, builtin.DefaultHamtBitwidth)
	if err != nil {
		return nil, xerrors.Errorf("failed to load users map: %w", err)
	}

	var entry UserEntry
	found, err := users.Get(userKey(name), &entry)
	if err != nil {
		return nil, xerrors.Errorf("failed to get user %q: %w", name, err)
	}
	if found {
		entry.Updates++
	} else {
		entry = UserEntry{
			Id:      st.NextUserID,
			Name:    name,
			Updates: 1,
		}
		st.UserIDs.Set(entry.Id)
		st.NextUserID++
	}

	if err := users.Put(userKey(name), &entry); err != nil {
		return nil, xerrors.Errorf("failed to put user %q: %w", name, err)
	}
	if st.Users, err = users.Root(); err != nil {
		return nil, xerrors.Errorf("failed to flush users map: %w", err)
	}

	if err := st.recordEvent(store, entry.Id, epoch); err != nil {
		return nil, err
	}
	return &entry, nil
}

// Removes a user entry, releasing its ID and dropping its event history.
// Returns whether the name was present.
func (st *State) DeleteUser(store adt.Store, name string) (bool, error) {
	users, err := adt.AsMap(store, st.Users, builtin.DefaultHamtBitwidth)
	if err != nil {
		return false, xerrors.Errorf("failed to load users map: %w", err)
	}

	var entry UserEntry
	found, err := users.Pop(userKey(name), &entry)
	if err != nil {
		return false, xerrors.Errorf("failed to delete user %q: %w", name, err)
	}
	if !found {
		return false, nil
	}
	if st.Users, err = users.Root(); err != nil {
		return false, xerrors.Errorf("failed to flush users map: %w", err)
	}

	st.UserIDs.Unset(entry.Id)

	events, err := adt.AsMultimap(store, st.Events, builtin.DefaultHamtBitwidth, builtin.DefaultAmtBitwidth)
	if err != nil {
		return false, xerrors.Errorf("failed to load events: %w", err)
	}
	if err := events.RemoveAll(abi.UIntKey(entry.Id)); err != nil {
		return false, xerrors.Errorf("failed to drop events for user %d: %w", entry.Id, err)
	}
	if st.Events, err = events.Root(); err != nil {
		return false, xerrors.Errorf("failed to flush events: %w", err)
	}
	return true, nil
}

func (st *State) recordEvent(store adt.Store, id uint64, epoch abi.ChainEpoch) error {
	events, err := adt.AsMultimap(store, st.Events, builtin.DefaultHamtBitwidth, builtin.DefaultAmtBitwidth)
	if err != nil {
		return xerrors.Errorf("failed to load events: %w", err)
	}
	e := cborEpoch(epoch)
	if err := events.Add(abi.UIntKey(id), &e); err != nil {
		return xerrors.Errorf("failed to record event for user %d: %w", id, err)
	}
	if st.Events, err = events.Root(); err != nil {
		return xerrors.Errorf("failed to flush events: %w", err)
	}
	return nil
}

func userKey(name string) abi.Keyer {
	return stringKey(name)
}

type stringKey string

func (k stringKey) Key() string {
	return string(k)
}

type cborEpoch = cbg.CborInt
