package distributor

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Account labels used in balance snapshots.
const (
	AccountRewardsManager = "rewardsManager"
	AccountStrategy       = "strategy"
)

// BalanceSnapshot is the want balance of every account touched by one transfer at one moment.
type BalanceSnapshot struct {
	Token   common.Address
	TakenAt time.Time
	Entries []BalanceEntry
}

type BalanceEntry struct {
	Account string
	Address common.Address
	Balance *big.Int
}

// Balance returns the balance recorded for account, or nil if the account is not in the snapshot.
func (s BalanceSnapshot) Balance(account string) *big.Int {
	for _, e := range s.Entries {
		if e.Account == account {
			return e.Balance
		}
	}
	return nil
}

type BalanceDelta struct {
	Account string
	Address common.Address
	Before  *big.Int
	After   *big.Int
	Delta   *big.Int
}

// Diff pairs up the accounts of two snapshots in the order of before. Accounts missing from after
// are treated as zero.
func Diff(before, after BalanceSnapshot) []BalanceDelta {
	deltas := make([]BalanceDelta, 0, len(before.Entries))
	for _, b := range before.Entries {
		a := after.Balance(b.Account)
		if a == nil {
			a = new(big.Int)
		}
		deltas = append(deltas, BalanceDelta{
			Account: b.Account,
			Address: b.Address,
			Before:  new(big.Int).Set(b.Balance),
			After:   new(big.Int).Set(a),
			Delta:   new(big.Int).Sub(a, b.Balance),
		})
	}
	return deltas
}

func (d *Distributor) snapshot(ctx context.Context, t target) (BalanceSnapshot, error) {
	accounts := []struct {
		label string
		addr  common.Address
	}{
		{AccountRewardsManager, d.cfg.Manager},
		{AccountStrategy, t.Strategy},
	}

	snap := BalanceSnapshot{
		Token:   t.Want,
		TakenAt: d.cfg.Clock.Now().UTC(),
		Entries: make([]BalanceEntry, 0, len(accounts)),
	}
	for _, acc := range accounts {
		bal, err := d.cfg.Ledger.BalanceOf(ctx, t.Want, acc.addr)
		if err != nil {
			return BalanceSnapshot{}, fmt.Errorf("failed to read %s balance of %s: %w", t.Want.Hex(), acc.label, err)
		}
		snap.Entries = append(snap.Entries, BalanceEntry{
			Account: acc.label,
			Address: acc.addr,
			Balance: bal,
		})
	}
	return snap, nil
}
