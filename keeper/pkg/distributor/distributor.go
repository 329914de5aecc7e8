package distributor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/badger-finance/sett-keeper/keeper/pkg/metrics"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Distributor moves want tokens from the rewards manager to strategies, one keeper-signed transfer
// at a time.
type Distributor struct {
	log *slog.Logger
	cfg Config
}

func NewDistributor(cfg Config) (*Distributor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Distributor{
		log: cfg.Logger,
		cfg: cfg,
	}, nil
}

// TransferResult describes one completed transfer.
type TransferResult struct {
	Key      string
	Strategy common.Address
	Want     common.Address
	Amount   *big.Int
	Decimals int
	TxHash   common.Hash
	Before   BalanceSnapshot
	After    BalanceSnapshot
	Deltas   []BalanceDelta
	Duration time.Duration
}

type target struct {
	Key      string
	Strategy common.Address
	Want     common.Address
}

// Distribute transfers amount of the strategy's want from the rewards manager to the strategy
// registered under key, then reports the balance diff. Decimals only affect reporting; zero means 18.
//
// A failed or reverted transfer is returned as is: there is no retry and no partial-amount fallback.
// A transfer that was broadcast but whose receipt never arrived comes back as a partial result
// without After or Deltas, alongside the error.
func (d *Distributor) Distribute(ctx context.Context, key string, amount *big.Int, decimals int) (*TransferResult, error) {
	if err := d.checkKeeper(ctx); err != nil {
		return nil, err
	}
	t, err := d.resolve(ctx, key)
	if err != nil {
		return nil, err
	}
	return d.transfer(ctx, t, amount, decimals)
}

func (d *Distributor) checkKeeper(ctx context.Context) error {
	ok, err := d.cfg.Ledger.IsKeeper(ctx)
	if err != nil {
		return fmt.Errorf("failed to check keeper role: %w", err)
	}
	if !ok {
		return ErrNotKeeper
	}
	return nil
}

func (d *Distributor) resolve(ctx context.Context, key string) (target, error) {
	strategy, err := d.cfg.Registry.Strategy(key)
	if err != nil {
		return target{}, fmt.Errorf("failed to resolve strategy %q: %w", key, err)
	}

	want, err := d.cfg.Ledger.StrategyWant(ctx, strategy)
	if err != nil {
		return target{}, fmt.Errorf("failed to read want of strategy %q: %w", key, err)
	}
	if want == (common.Address{}) {
		return target{}, fmt.Errorf("%w: strategy %q (%s) has no want", ErrInvalidTarget, key, strategy.Hex())
	}

	approved, err := d.cfg.Ledger.StrategyApproved(ctx, want, strategy)
	if err != nil {
		return target{}, fmt.Errorf("failed to read controller approval of strategy %q: %w", key, err)
	}
	if !approved {
		return target{}, fmt.Errorf("%w: strategy %q (%s) is not approved for want %s", ErrInvalidTarget, key, strategy.Hex(), want.Hex())
	}

	return target{Key: key, Strategy: strategy, Want: want}, nil
}

// transfer snapshots balances, submits exactly one transfer and snapshots again. If the transfer
// was broadcast but never confirmed, or went through but the follow-up snapshot failed, the partial
// result is returned with the error so the caller keeps its tx hash.
func (d *Distributor) transfer(ctx context.Context, t target, amount *big.Int, decimals int) (*TransferResult, error) {
	if amount == nil || amount.Sign() < 0 {
		return nil, fmt.Errorf("%w: %v for strategy %q", ErrInvalidAmount, amount, t.Key)
	}
	decimals = normalizeDecimals(decimals)

	d.log.Info("distributor: transferring amount for strategy",
		"key", t.Key, "strategy", t.Strategy.Hex(), "want", t.Want.Hex(), "amount", FormatUnits(amount, decimals))

	before, err := d.snapshot(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot balances before transfer for %q: %w", t.Key, err)
	}

	start := d.cfg.Clock.Now()
	txHash, err := d.cfg.Ledger.TransferWant(ctx, t.Want, t.Strategy, new(big.Int).Set(amount))
	if err != nil {
		metrics.TransfersTotal.WithLabelValues(t.Key, "error").Inc()
		err = fmt.Errorf("failed to transfer want to strategy %q: %w", t.Key, err)
		if txHash == (common.Hash{}) || errors.Is(err, ErrTransferReverted) {
			return nil, err
		}
		d.log.Warn("distributor: transfer broadcast but not confirmed", "key", t.Key, "tx", txHash.Hex(), "error", err)
		return &TransferResult{
			Key:      t.Key,
			Strategy: t.Strategy,
			Want:     t.Want,
			Amount:   new(big.Int).Set(amount),
			Decimals: decimals,
			TxHash:   txHash,
			Before:   before,
		}, err
	}
	duration := d.cfg.Clock.Since(start)
	metrics.TransfersTotal.WithLabelValues(t.Key, "success").Inc()
	metrics.TransferDuration.WithLabelValues(t.Key).Observe(duration.Seconds())
	metrics.LastTransferAmount.WithLabelValues(t.Key).Set(decimal.NewFromBigInt(amount, -int32(decimals)).InexactFloat64())

	res := &TransferResult{
		Key:      t.Key,
		Strategy: t.Strategy,
		Want:     t.Want,
		Amount:   new(big.Int).Set(amount),
		Decimals: decimals,
		TxHash:   txHash,
		Before:   before,
		Duration: duration,
	}

	after, err := d.snapshot(ctx, t)
	if err != nil {
		return res, fmt.Errorf("transfer %s for %q was mined but the balance snapshot failed: %w", txHash.Hex(), t.Key, err)
	}
	res.After = after
	res.Deltas = Diff(before, after)

	d.checkConservation(res)

	d.log.Info("distributor: transfer complete", "key", t.Key, "tx", txHash.Hex(), "duration", duration.String())
	for _, delta := range res.Deltas {
		d.log.Debug("distributor: balance diff",
			"key", t.Key, "account", delta.Account, "diff", FormatUnits(delta.Delta, decimals))
	}
	if err := WriteTransferReport(d.cfg.Output, res); err != nil {
		d.log.Warn("distributor: failed to write transfer report", "key", t.Key, "error", err)
	}

	return res, nil
}

// checkConservation warns when the manager did not lose, or the strategy did not gain, exactly the
// requested amount. Rebasing want tokens can legitimately trip this.
func (d *Distributor) checkConservation(res *TransferResult) {
	for _, delta := range res.Deltas {
		var expected *big.Int
		switch delta.Account {
		case AccountRewardsManager:
			expected = new(big.Int).Neg(res.Amount)
		case AccountStrategy:
			expected = res.Amount
		default:
			continue
		}
		if delta.Delta.Cmp(expected) != 0 {
			metrics.BalanceDeltaMismatchTotal.WithLabelValues(res.Key).Inc()
			d.log.Warn("distributor: balance delta does not match transfer amount",
				"key", res.Key, "account", delta.Account,
				"expected", FormatUnits(expected, res.Decimals), "observed", FormatUnits(delta.Delta, res.Decimals))
		}
	}
}
