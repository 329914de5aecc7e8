package eth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/params"
)

// DefaultFundAmount is what each test account receives on a fork.
var DefaultFundAmount = new(big.Int).Mul(big.NewInt(5), big.NewInt(params.Ether))

// RPCCaller is the raw JSON-RPC surface of *rpc.Client used for node-managed accounts.
type RPCCaller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
}

type sendTxArgs struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value *hexutil.Big   `json:"value"`
}

// FundTestAccounts sends amount wei from the node's first unlocked account to each of accounts.
// Only meaningful against a local fork where eth_accounts returns funded, unlocked accounts.
func FundTestAccounts(ctx context.Context, log *slog.Logger, caller RPCCaller, accounts []common.Address, amount *big.Int) error {
	if len(accounts) == 0 {
		return nil
	}
	if amount == nil || amount.Sign() <= 0 {
		return errors.New("fund amount must be positive")
	}

	var unlocked []common.Address
	if err := caller.CallContext(ctx, &unlocked, "eth_accounts"); err != nil {
		return fmt.Errorf("failed to list node accounts: %w", err)
	}
	if len(unlocked) == 0 {
		return errors.New("node has no unlocked accounts to fund from")
	}
	from := unlocked[0]

	for _, to := range accounts {
		var hash common.Hash
		args := sendTxArgs{From: from, To: to, Value: (*hexutil.Big)(amount)}
		if err := caller.CallContext(ctx, &hash, "eth_sendTransaction", args); err != nil {
			return fmt.Errorf("failed to fund %s: %w", to.Hex(), err)
		}
		log.Info("eth: funded test account", "from", from.Hex(), "to", to.Hex(), "amount", amount.String(), "tx", hash.Hex())
	}
	return nil
}
