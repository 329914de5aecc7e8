package eth

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/badger-finance/sett-keeper/keeper/pkg/distributor"
	"github.com/badger-finance/sett-keeper/utils/pkg/retry"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
)

// TransferWant signs and sends rewardsManager.transferWant(want, strategy, amount) from the keeper
// account and waits for it to be mined. The transaction is sent at most once. Gas estimation failures
// and reverted receipts are classified into the distributor error kinds.
func (c *Client) TransferWant(ctx context.Context, want, strategy common.Address, amount *big.Int) (common.Hash, error) {
	input, err := rewardsManagerABI.Pack("transferWant", want, strategy, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to pack transferWant: %w", err)
	}
	to := c.cfg.RewardsManager

	// Preparing the transaction is read-only and safe to retry. Sending it is not.
	nonce, err := retry.DoValue(ctx, c.cfg.Retry, func() (uint64, error) {
		if err := c.wait(ctx); err != nil {
			return 0, err
		}
		return observe("eth_getTransactionCount", func() (uint64, error) {
			return c.cfg.Backend.PendingNonceAt(ctx, c.keeper)
		})
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to get keeper nonce: %w", err)
	}

	if err := c.wait(ctx); err != nil {
		return common.Hash{}, err
	}
	gas, err := observe("eth_estimateGas", func() (uint64, error) {
		return c.cfg.Backend.EstimateGas(ctx, ethereum.CallMsg{From: c.keeper, To: &to, Data: input})
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("transferWant to %s would fail: %w", strategy.Hex(), classifyRevert(err))
	}
	gas = uint64(math.Ceil(float64(gas) * c.cfg.GasLimitMultiplier))

	tipCap, feeCap, err := c.suggestFees(ctx)
	if err != nil {
		return common.Hash{}, err
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     new(big.Int),
		Data:      input,
	})
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), c.cfg.KeeperKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign transferWant: %w", err)
	}

	if err := c.wait(ctx); err != nil {
		return common.Hash{}, err
	}
	if _, err := observe("eth_sendRawTransaction", func() (struct{}, error) {
		return struct{}{}, c.cfg.Backend.SendTransaction(ctx, signed)
	}); err != nil {
		return common.Hash{}, fmt.Errorf("failed to send transferWant: %w", classifyRevert(err))
	}

	hash := signed.Hash()
	c.log.Info("eth: transferWant sent",
		"tx", hash.Hex(), "want", want.Hex(), "strategy", strategy.Hex(), "amount", amount.String(),
		"nonce", nonce, "gas", gas)

	receipt, err := c.waitMined(ctx, hash)
	if err != nil {
		return hash, fmt.Errorf("failed waiting for transferWant %s: %w", hash.Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return hash, fmt.Errorf("transferWant %s in block %s: %w", hash.Hex(), receipt.BlockNumber, distributor.ErrTransferReverted)
	}

	c.log.Info("eth: transferWant mined", "tx", hash.Hex(), "block", receipt.BlockNumber, "gas_used", receipt.GasUsed)
	return hash, nil
}

func (c *Client) suggestFees(ctx context.Context) (*big.Int, *big.Int, error) {
	tipCap, err := retry.DoValue(ctx, c.cfg.Retry, func() (*big.Int, error) {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		return observe("eth_maxPriorityFeePerGas", func() (*big.Int, error) {
			return c.cfg.Backend.SuggestGasTipCap(ctx)
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to suggest gas tip: %w", err)
	}

	head, err := retry.DoValue(ctx, c.cfg.Retry, func() (*types.Header, error) {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		return observe("eth_getBlockByNumber", func() (*types.Header, error) {
			return c.cfg.Backend.HeaderByNumber(ctx, nil)
		})
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get latest header: %w", err)
	}

	feeCap := new(big.Int).Set(tipCap)
	if head.BaseFee != nil {
		feeCap.Add(feeCap, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	return tipCap, feeCap, nil
}

// waitMined polls for the receipt of hash until it is available or ctx is done.
func (c *Client) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		receipt, err := observe("eth_getTransactionReceipt", func() (*types.Receipt, error) {
			return c.cfg.Backend.TransactionReceipt(ctx, hash)
		})
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound) && !retry.IsRetryable(err):
			return nil, err
		case err != nil && !errors.Is(err, ethereum.NotFound):
			c.log.Debug("eth: receipt poll failed", "tx", hash.Hex(), "error", err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// classifyRevert maps revert reasons from the rewards manager and token onto distributor error kinds.
// Errors that are not reverts are returned unchanged.
func classifyRevert(err error) error {
	if err == nil {
		return nil
	}

	msg := strings.ToLower(err.Error())
	if reason, ok := revertReason(err); ok {
		msg += " " + strings.ToLower(reason)
	}

	switch {
	case strings.Contains(msg, "exceeds balance"), strings.Contains(msg, "insufficient balance"):
		return fmt.Errorf("%w: %w", distributor.ErrInsufficientBalance, err)
	case strings.Contains(msg, "keeper"), strings.Contains(msg, "accesscontrol"),
		strings.Contains(msg, "onlyrole"), strings.Contains(msg, "unauthorized"):
		return fmt.Errorf("%w: %w", distributor.ErrNotKeeper, err)
	case strings.Contains(msg, "strategy") && strings.Contains(msg, "approved"),
		strings.Contains(msg, "invalid want"):
		return fmt.Errorf("%w: %w", distributor.ErrInvalidTarget, err)
	case strings.Contains(msg, "execution reverted"), strings.Contains(msg, "revert"):
		return fmt.Errorf("%w: %w", distributor.ErrTransferReverted, err)
	}
	return err
}

// revertReason decodes an Error(string) payload attached to a JSON-RPC error, if any.
func revertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return "", false
	}
	raw, ok := dataErr.ErrorData().(string)
	if !ok {
		return "", false
	}
	data, decErr := hexutil.Decode(raw)
	if decErr != nil {
		return "", false
	}
	reason, unpackErr := abi.UnpackRevert(data)
	if unpackErr != nil {
		return "", false
	}
	return reason, true
}
