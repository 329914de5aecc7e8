package distributor

import (
	"errors"
	"io"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jonboulle/clockwork"
)

type Config struct {
	Logger    *slog.Logger
	Clock     clockwork.Clock
	Ledger    Ledger
	Registry  StrategyRegistry
	Emissions AmountProvider // optional; required by cycles with daily emission entries

	// Manager is the rewards manager that funds every transfer.
	Manager common.Address

	// Output receives the per-transfer balance diff tables. Defaults to io.Discard.
	Output io.Writer
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Ledger == nil {
		return errors.New("ledger is required")
	}
	if cfg.Registry == nil {
		return errors.New("strategy registry is required")
	}
	if cfg.Manager == (common.Address{}) {
		return errors.New("rewards manager address is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Output == nil {
		cfg.Output = io.Discard
	}
	return nil
}
