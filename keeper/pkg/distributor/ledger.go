package distributor

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Ledger is the chain capability the distributor needs: balance and metadata reads plus a single
// keeper-signed transfer from the rewards manager.
type Ledger interface {
	BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error)
	StrategyWant(ctx context.Context, strategy common.Address) (common.Address, error)
	// StrategyApproved reports whether the strategy is registered and approved for want in its controller.
	StrategyApproved(ctx context.Context, want, strategy common.Address) (bool, error)
	IsKeeper(ctx context.Context) (bool, error)
	// TransferWant returns once the transaction is mined. A reverted transaction is an error.
	TransferWant(ctx context.Context, want, strategy common.Address, amount *big.Int) (common.Hash, error)
}

// StrategyRegistry resolves strategy keys to deployed strategy addresses.
type StrategyRegistry interface {
	Strategy(key string) (common.Address, error)
}

// AmountProvider supplies policy-driven distribution amounts in base units.
type AmountProvider interface {
	DailyAmount(key, asset string) (*big.Int, error)
}
