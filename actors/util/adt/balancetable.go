package adt

import (
	addr "github.com/filecoin-project/go-address"
	"github.com/filecoin-project/go-state-types/abi"
	"github.com/filecoin-project/go-state-types/big"
	cid "github.com/ipfs/go-cid"
	"github.com/pkg/errors"
)

// Bitwidth of balance table HAMTs, determining the branching factor.
const BalanceTableBitwidth = 5

// A specialization of a map of addresses to (positive) token amounts.
// Absent keys implicitly have a balance of zero; zero balances are not
// stored, so two tables with the same non-zero entries share a root.
type BalanceTable Map

// Interprets a store as a balance table with root `r`.
func AsBalanceTable(s Store, r cid.Cid) (*BalanceTable, error) {
	m, err := AsMap(s, r, BalanceTableBitwidth)
	if err != nil {
		return nil, err
	}
	return (*BalanceTable)(m), nil
}

// Returns the root cid of the underlying HAMT.
func (t *BalanceTable) Root() (cid.Cid, error) {
	return (*Map)(t).Root()
}

// Gets the balance for a key, which is zero if they have never been added to.
func (t *BalanceTable) Get(key addr.Address) (abi.TokenAmount, error) {
	var value abi.TokenAmount
	found, err := (*Map)(t).Get(abi.AddrKey(key), &value)
	if !found || err != nil {
		value = big.Zero()
	}
	return value, err
}

// Adds an amount to a balance, requiring the resulting balance to be non-negative.
func (t *BalanceTable) Add(key addr.Address, value abi.TokenAmount) error {
	prev, err := t.Get(key)
	if err != nil {
		return err
	}
	sum := big.Add(prev, value)
	sign := sum.Sign()
	switch {
	case sign < 0:
		return errors.Errorf("adding %v to balance %v would give negative %v", value, prev, sum)
	case sign == 0:
		_, err := (*Map)(t).TryDelete(abi.AddrKey(key))
		return err
	default:
		return (*Map)(t).Put(abi.AddrKey(key), &sum)
	}
}

// Subtracts up to the specified amount from a balance, without reducing the balance
// below some minimum.
// Returns the amount subtracted.
func (t *BalanceTable) SubtractWithMinimum(key addr.Address, req abi.TokenAmount, floor abi.TokenAmount) (abi.TokenAmount, error) {
	prev, err := t.Get(key)
	if err != nil {
		return big.Zero(), err
	}
	available := big.Max(big.Zero(), big.Sub(prev, floor))
	sub := big.Min(available, req)
	if err := t.Add(key, sub.Neg()); err != nil {
		return big.Zero(), err
	}
	return sub, nil
}

// MustSubtract subtracts the given amount from a balance, failing if the
// balance is insufficient.
func (t *BalanceTable) MustSubtract(key addr.Address, req abi.TokenAmount) error {
	prev, err := t.Get(key)
	if err != nil {
		return err
	}
	if req.GreaterThan(prev) {
		return errors.New("couldn't subtract the requested amount")
	}
	return t.Add(key, req.Neg())
}

// Returns the total balance held by this BalanceTable.
func (t *BalanceTable) Total() (abi.TokenAmount, error) {
	total := big.Zero()
	var cur abi.TokenAmount
	err := (*Map)(t).ForEach(&cur, func(key string) error {
		total = big.Add(total, cur)
		return nil
	})
	return total, err
}
