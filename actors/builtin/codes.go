package builtin

import (
	cid "github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// The built-in actor code IDs
var (
	SystemActorCodeID   cid.Cid
	InitActorCodeID     cid.Cid
	AccountActorCodeID  cid.Cid
	RegistryActorCodeID cid.Cid
	CallerTypesSignable []cid.Cid
)

var builtinActors map[cid.Cid]string

func init() {
	builder := cid.V1Builder{Codec: cid.Raw, MhType: mh.IDENTITY}
	builtinActors = make(map[cid.Cid]string)

	for _, actor := range []struct {
		name string
		id   *cid.Cid
	}{
		{"worlddbs/1/system", &SystemActorCodeID},
		{"worlddbs/1/init", &InitActorCodeID},
		{"worlddbs/1/account", &AccountActorCodeID},
		{"worlddbs/1/registry", &RegistryActorCodeID},
	} {
		c, err := builder.Sum([]byte(actor.name))
		if err != nil {
			panic(err)
		}
		*actor.id = c
		builtinActors[c] = actor.name
	}

	// Set of actor code types that can represent external signing parties.
	CallerTypesSignable = []cid.Cid{AccountActorCodeID}
}

// IsBuiltinActor returns true if the code belongs to one of the actors defined in this repo.
func IsBuiltinActor(code cid.Cid) bool {
	_, isBuiltin := builtinActors[code]
	return isBuiltin
}

// ActorNameByCode returns the (string) name of the actor given the code.
func ActorNameByCode(code cid.Cid) string {
	if name, ok := builtinActors[code]; ok {
		return name
	}
	return "<unknown>"
}

// IsPrincipal returns true if the code belongs to an actor that can be an
// account-style party to value transfer.
func IsPrincipal(code cid.Cid) bool {
	for _, c := range CallerTypesSignable {
		if c.Equals(code) {
			return true
		}
	}
	return false
}
