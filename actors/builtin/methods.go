package builtin

import (
	"github.com/filecoin-project/go-state-types/abi"
)

const (
	MethodSend        = abi.MethodNum(0)
	MethodConstructor = abi.MethodNum(1)
)

type accountMethods struct {
	Constructor   abi.MethodNum
	PubkeyAddress abi.MethodNum
}

var MethodsAccount = accountMethods{MethodConstructor, 2}

type initMethods struct {
	Constructor abi.MethodNum
	Exec        abi.MethodNum
}

var MethodsInit = initMethods{MethodConstructor, 2}

type registryMethods struct {
	Constructor abi.MethodNum
	Persist     abi.MethodNum
	Lookup      abi.MethodNum
	Revoke      abi.MethodNum
}

var MethodsRegistry = registryMethods{MethodConstructor, 2, 3, 4}
