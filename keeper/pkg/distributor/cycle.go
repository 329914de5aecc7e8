package distributor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/badger-finance/sett-keeper/keeper/pkg/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Entry is one step of a distribution cycle.
type Entry struct {
	Key    string       `json:"key"`
	Policy AmountPolicy `json:"policy"`
	// Asset is the emission asset used by the daily policies, e.g. "badger".
	Asset    string `json:"asset,omitempty"`
	Decimals int    `json:"decimals,omitempty"`
}

// Failure records the entry a cycle halted on. Index is -1 when the cycle failed before its first
// entry. Submitted is set when the transfer was broadcast but could not be confirmed or verified
// afterwards; TxHash then names it.
type Failure struct {
	Index     int
	Entry     Entry
	Err       error
	Submitted bool
	TxHash    common.Hash
}

type CycleResult struct {
	ID         uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Transfers  []TransferResult
	Failure    *Failure
	Skipped    []Entry
}

func (r *CycleResult) Completed() bool {
	return r.Failure == nil
}

func (r *CycleResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// RunCycle runs entries strictly in order, waiting for each transfer before starting the next.
// It halts at the first failure: earlier transfers stand, later entries are skipped, and nothing is
// retried. The returned result describes the partial completion and is non-nil whenever the plan
// itself was valid; the error is a *CycleError in that case.
func (d *Distributor) RunCycle(ctx context.Context, entries []Entry) (*CycleResult, error) {
	if err := ValidatePlan(entries); err != nil {
		return nil, err
	}
	if d.cfg.Emissions == nil {
		for _, e := range entries {
			if e.Policy.needsEmissions() {
				return nil, fmt.Errorf("emissions provider is required for %s entry %q", e.Policy, e.Key)
			}
		}
	}

	result := &CycleResult{
		ID:        uuid.New(),
		StartedAt: d.cfg.Clock.Now().UTC(),
	}
	log := d.log.With("cycle", result.ID.String())
	log.Info("distributor: starting distribution cycle", "entries", len(entries))

	if err := d.checkKeeper(ctx); err != nil {
		return d.halt(result, entries, -1, nil, err)
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return d.halt(result, entries, i, nil, err)
		}

		res, err := d.runEntry(ctx, entry)
		if res != nil {
			result.Transfers = append(result.Transfers, *res)
		}
		if err != nil {
			return d.halt(result, entries, i, res, err)
		}
	}

	result.FinishedAt = d.cfg.Clock.Now().UTC()
	metrics.CyclesTotal.WithLabelValues("completed").Inc()
	metrics.CycleDuration.Observe(result.Duration().Seconds())
	log.Info("distributor: distribution cycle complete", "transfers", len(result.Transfers), "duration", result.Duration().String())
	return result, nil
}

// RunSingle runs Distribute as a one-entry cycle so a manual transfer is reported the same way a
// planned cycle is.
func (d *Distributor) RunSingle(ctx context.Context, key string, amount *big.Int, decimals int) (*CycleResult, error) {
	entries := []Entry{{Key: key, Decimals: decimals}}
	result := &CycleResult{
		ID:        uuid.New(),
		StartedAt: d.cfg.Clock.Now().UTC(),
	}
	d.log.Info("distributor: starting single transfer", "cycle", result.ID.String(), "key", key)

	res, err := d.Distribute(ctx, key, amount, decimals)
	if res != nil {
		result.Transfers = append(result.Transfers, *res)
	}
	if err != nil {
		return d.halt(result, entries, 0, res, err)
	}

	result.FinishedAt = d.cfg.Clock.Now().UTC()
	metrics.CyclesTotal.WithLabelValues("completed").Inc()
	metrics.CycleDuration.Observe(result.Duration().Seconds())
	return result, nil
}

func (d *Distributor) runEntry(ctx context.Context, entry Entry) (*TransferResult, error) {
	t, err := d.resolve(ctx, entry.Key)
	if err != nil {
		return nil, err
	}
	amount, err := d.amountFor(ctx, entry, t)
	if err != nil {
		return nil, err
	}
	return d.transfer(ctx, t, amount, entry.Decimals)
}

// amountFor computes the entry amount at the moment of the transfer. Full-balance amounts are read
// here, after every earlier transfer of the cycle has been mined.
func (d *Distributor) amountFor(ctx context.Context, entry Entry, t target) (*big.Int, error) {
	switch entry.Policy {
	case PolicyFullBalance:
		bal, err := d.cfg.Ledger.BalanceOf(ctx, t.Want, d.cfg.Manager)
		if err != nil {
			return nil, fmt.Errorf("failed to read rewards manager balance for %q: %w", entry.Key, err)
		}
		return bal, nil
	case PolicyDailyEmission, PolicyHalfDailyEmission:
		daily, err := d.cfg.Emissions.DailyAmount(entry.Key, entry.Asset)
		if err != nil {
			return nil, fmt.Errorf("failed to get daily %s emission for %q: %w", entry.Asset, entry.Key, err)
		}
		if entry.Policy == PolicyHalfDailyEmission {
			return new(big.Int).Quo(daily, big.NewInt(2)), nil
		}
		return daily, nil
	}
	return nil, fmt.Errorf("unknown amount policy %d for %q", entry.Policy, entry.Key)
}

// halt closes result at entries[index]. res is the partial transfer of the failing entry, if any.
func (d *Distributor) halt(result *CycleResult, entries []Entry, index int, res *TransferResult, err error) (*CycleResult, error) {
	result.FinishedAt = d.cfg.Clock.Now().UTC()
	result.Failure = &Failure{Index: index, Err: err}
	if res != nil {
		result.Failure.Submitted = true
		result.Failure.TxHash = res.TxHash
	}
	if index >= 0 {
		result.Failure.Entry = entries[index]
	}
	result.Skipped = append([]Entry(nil), entries[index+1:]...)

	metrics.CyclesTotal.WithLabelValues("halted").Inc()
	metrics.CycleDuration.Observe(result.Duration().Seconds())

	cycleErr := &CycleError{Index: index, Key: result.Failure.Entry.Key, Err: err}
	attrs := []any{
		"cycle", result.ID.String(),
		"index", index,
		"key", result.Failure.Entry.Key,
		"completed", len(result.Transfers),
		"skipped", len(result.Skipped),
		"error", err,
	}
	if result.Failure.Submitted {
		attrs = append(attrs, "tx", result.Failure.TxHash.Hex())
	}
	if errors.Is(err, context.Canceled) {
		d.log.Warn("distributor: distribution cycle cancelled", attrs...)
	} else {
		d.log.Error("distributor: distribution cycle halted", attrs...)
	}
	return result, cycleErr
}
