package eth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/badger-finance/sett-keeper/keeper/pkg/distributor"
	"github.com/badger-finance/sett-keeper/keeper/pkg/metrics"
	"github.com/badger-finance/sett-keeper/utils/pkg/retry"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/time/rate"
)

// Backend is the subset of *ethclient.Client the ledger uses.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type ClientConfig struct {
	Logger         *slog.Logger
	Backend        Backend
	KeeperKey      *ecdsa.PrivateKey
	RewardsManager common.Address

	// RateLimit caps RPC requests per second. Zero means unlimited.
	RateLimit    float64
	Retry        retry.Config
	PollInterval time.Duration
	// GasLimitMultiplier pads the estimated gas. Defaults to 1.2.
	GasLimitMultiplier float64
}

func (cfg *ClientConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Backend == nil {
		return errors.New("backend is required")
	}
	if cfg.KeeperKey == nil {
		return errors.New("keeper key is required")
	}
	if cfg.RewardsManager == (common.Address{}) {
		return errors.New("rewards manager address is required")
	}
	if cfg.RateLimit < 0 {
		return errors.New("rate limit must not be negative")
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = retry.DefaultConfig()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.GasLimitMultiplier < 1 {
		cfg.GasLimitMultiplier = 1.2
	}
	return nil
}

// Client implements distributor.Ledger against an Ethereum JSON-RPC node. Reads are retried;
// transfers are sent exactly once.
type Client struct {
	log     *slog.Logger
	cfg     ClientConfig
	chainID *big.Int
	keeper  common.Address
	limiter *rate.Limiter
}

var _ distributor.Ledger = (*Client)(nil)

func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	c := &Client{
		log:     cfg.Logger,
		cfg:     cfg,
		keeper:  crypto.PubkeyToAddress(cfg.KeeperKey.PublicKey),
		limiter: limiter,
	}

	chainID, err := retry.DoValue(ctx, cfg.Retry, func() (*big.Int, error) {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		return observe("eth_chainId", func() (*big.Int, error) { return cfg.Backend.ChainID(ctx) })
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get chain id: %w", err)
	}
	c.chainID = chainID

	c.log.Info("eth: connected", "chain_id", chainID.String(), "keeper", c.keeper.Hex(), "rewards_manager", cfg.RewardsManager.Hex())
	return c, nil
}

// Keeper returns the address transfers are signed with.
func (c *Client) Keeper() common.Address {
	return c.keeper
}

func (c *Client) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *Client) BalanceOf(ctx context.Context, token, account common.Address) (*big.Int, error) {
	out, err := c.call(ctx, token, erc20ABI, "balanceOf", account)
	if err != nil {
		return nil, err
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf output %T", out[0])
	}
	return bal, nil
}

func (c *Client) StrategyWant(ctx context.Context, strategy common.Address) (common.Address, error) {
	return c.callAddress(ctx, strategy, strategyABI, "want")
}

func (c *Client) StrategyApproved(ctx context.Context, want, strategy common.Address) (bool, error) {
	controller, err := c.callAddress(ctx, strategy, strategyABI, "controller")
	if err != nil {
		return false, err
	}
	if controller == (common.Address{}) {
		return false, nil
	}

	active, err := c.callAddress(ctx, controller, controllerABI, "strategies", want)
	if err != nil {
		return false, err
	}
	if active != strategy {
		c.log.Debug("eth: strategy is not the controller's active strategy",
			"strategy", strategy.Hex(), "active", active.Hex(), "want", want.Hex())
		return false, nil
	}

	return c.callBool(ctx, controller, controllerABI, "approvedStrategies", want, strategy)
}

func (c *Client) IsKeeper(ctx context.Context) (bool, error) {
	return c.callBool(ctx, c.cfg.RewardsManager, rewardsManagerABI, "hasRole", [32]byte(KeeperRole), c.keeper)
}

func (c *Client) callAddress(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) (common.Address, error) {
	out, err := c.call(ctx, to, contract, method, args...)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected %s output %T", method, out[0])
	}
	return addr, nil
}

func (c *Client) callBool(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) (bool, error) {
	out, err := c.call(ctx, to, contract, method, args...)
	if err != nil {
		return false, err
	}
	v, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("unexpected %s output %T", method, out[0])
	}
	return v, nil
}

// call performs a read-only eth_call at the latest block, with retry.
func (c *Client) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	input, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}

	raw, err := retry.DoValue(ctx, c.cfg.Retry, func() ([]byte, error) {
		if err := c.wait(ctx); err != nil {
			return nil, err
		}
		return observe("eth_call", func() ([]byte, error) {
			return c.cfg.Backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, nil)
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call %s on %s: %w", method, to.Hex(), err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty %s result from %s: %w", method, to.Hex(), distributor.ErrInvalidTarget)
	}

	out, err := contract.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack %s: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no outputs from %s", method)
	}
	return out, nil
}

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

func observe[T any](method string, fn func() (T, error)) (T, error) {
	v, err := fn()
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.RPCRequestsTotal.WithLabelValues(method, status).Inc()
	return v, err
}
