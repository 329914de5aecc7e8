package eth

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/badger-finance/sett-keeper/utils/pkg/retry"
	keepertesting "github.com/badger-finance/sett-keeper/utils/pkg/testing"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
)

var (
	testManager    = common.HexToAddress("0x5B5e29dd3d2e1e5E4d6f9c1a0F1b7E2C3A4B5C6D")
	testController = common.HexToAddress("0x63cF44B2548e4493Fd099222A1eC79F3344D9682")
	testWant       = common.HexToAddress("0xcD7989894bc033581532D2cd88Da5db0A4b12859")
	testStrategy   = common.HexToAddress("0x95BE1A8A8AEB2E4D4AD85A4E6F3A83CC94C59Be7")
	testChainID    = big.NewInt(31337)
)

type revertError struct {
	msg  string
	data string
}

func (e *revertError) Error() string  { return e.msg }
func (e *revertError) ErrorCode() int { return 3 }
func (e *revertError) ErrorData() any { return e.data }

// encodeRevert builds the Error(string) payload a reverting contract returns.
func encodeRevert(t *testing.T, reason string) string {
	t.Helper()
	stringTy, err := abi.NewType("string", "", nil)
	require.NoError(t, err)
	packed, err := abi.Arguments{{Type: stringTy}}.Pack(reason)
	require.NoError(t, err)
	selector := crypto.Keccak256([]byte("Error(string)"))[:4]
	return fmt.Sprintf("0x%x", append(selector, packed...))
}

// fakeBackend serves the handful of contract calls the ledger makes from in-memory state.
type fakeBackend struct {
	mu sync.Mutex

	balances   map[common.Address]map[common.Address]*big.Int
	wants      map[common.Address]common.Address
	controller map[common.Address]common.Address
	active     map[common.Address]common.Address
	approved   map[common.Address]bool
	keepers    map[common.Address]bool

	callErrs      []error
	estimateErr   error
	sendErr       error
	receiptStatus uint64
	pendingPolls  int

	calls        map[string]int
	sent         []*types.Transaction
	receiptPolls int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		balances:      make(map[common.Address]map[common.Address]*big.Int),
		wants:         make(map[common.Address]common.Address),
		controller:    make(map[common.Address]common.Address),
		active:        make(map[common.Address]common.Address),
		approved:      make(map[common.Address]bool),
		keepers:       make(map[common.Address]bool),
		receiptStatus: types.ReceiptStatusSuccessful,
		calls:         make(map[string]int),
	}
}

func (b *fakeBackend) setBalance(token, account common.Address, v int64) {
	if b.balances[token] == nil {
		b.balances[token] = make(map[common.Address]*big.Int)
	}
	b.balances[token][account] = big.NewInt(v)
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(testChainID), nil
}

func (b *fakeBackend) CallContract(_ context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.callErrs) > 0 {
		err := b.callErrs[0]
		b.callErrs = b.callErrs[1:]
		return nil, err
	}

	method, args, err := decodeCall(call.Data)
	if err != nil {
		return nil, err
	}
	b.calls[method.Name]++
	to := *call.To

	switch method.Name {
	case "balanceOf":
		bal := new(big.Int)
		if v, ok := b.balances[to][args[0].(common.Address)]; ok {
			bal.Set(v)
		}
		return method.Outputs.Pack(bal)
	case "want":
		return method.Outputs.Pack(b.wants[to])
	case "controller":
		return method.Outputs.Pack(b.controller[to])
	case "strategies":
		return method.Outputs.Pack(b.active[args[0].(common.Address)])
	case "approvedStrategies":
		return method.Outputs.Pack(b.approved[args[1].(common.Address)])
	case "hasRole":
		if args[0].([32]byte) != [32]byte(KeeperRole) {
			return method.Outputs.Pack(false)
		}
		return method.Outputs.Pack(b.keepers[args[1].(common.Address)])
	}
	return nil, fmt.Errorf("unexpected call %s", method.Name)
}

func (b *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["estimateGas"]++
	if b.estimateErr != nil {
		return 0, b.estimateErr
	}
	return 100_000, nil
}

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return 7, nil
}

func (b *fakeBackend) SuggestGasTipCap(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (b *fakeBackend) HeaderByNumber(context.Context, *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(100), BaseFee: big.NewInt(10_000_000_000)}, nil
}

func (b *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls["sendTransaction"]++
	if b.sendErr != nil {
		return b.sendErr
	}
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.receiptPolls++
	if b.receiptPolls <= b.pendingPolls {
		return nil, ethereum.NotFound
	}
	for _, tx := range b.sent {
		if tx.Hash() == hash {
			return &types.Receipt{
				Status:      b.receiptStatus,
				TxHash:      hash,
				BlockNumber: big.NewInt(101),
				GasUsed:     80_000,
			}, nil
		}
	}
	return nil, ethereum.NotFound
}

func decodeCall(data []byte) (*abi.Method, []any, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("short call data")
	}
	for _, contract := range []abi.ABI{erc20ABI, strategyABI, controllerABI, rewardsManagerABI} {
		method, err := contract.MethodById(data[:4])
		if err != nil {
			continue
		}
		args, err := method.Inputs.Unpack(data[4:])
		if err != nil {
			return nil, nil, err
		}
		return method, args, nil
	}
	return nil, nil, fmt.Errorf("unknown selector %x", data[:4])
}

func newTestClient(t *testing.T, backend *fakeBackend) (*Client, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	c, err := NewClient(context.Background(), ClientConfig{
		Logger:         keepertesting.NewLogger(),
		Backend:        backend,
		KeeperKey:      key,
		RewardsManager: testManager,
		Retry:          retry.Config{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond},
		PollInterval:   time.Millisecond,
	})
	require.NoError(t, err)
	return c, key
}
