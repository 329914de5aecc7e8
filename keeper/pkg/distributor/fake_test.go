package distributor

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var (
	testManager = common.HexToAddress("0x5B60952481Eb42B66bdfFC3E049025AcE5a52b4d")
	tokenA      = common.HexToAddress("0x0000000000000000000000000000000000000a01")
	tokenB      = common.HexToAddress("0x0000000000000000000000000000000000000b01")
	strategyA   = common.HexToAddress("0x000000000000000000000000000000000000a001")
	strategyB   = common.HexToAddress("0x000000000000000000000000000000000000b001")
	strategyC   = common.HexToAddress("0x000000000000000000000000000000000000c001")
)

// fakeLedger is an in-memory chain holding ERC20 balances. TransferWant behaves like the rewards
// manager: it moves want atomically or reverts without touching any balance.
type fakeLedger struct {
	mu          sync.Mutex
	manager     common.Address
	balances    map[common.Address]map[common.Address]*big.Int
	wants       map[common.Address]common.Address
	unapproved  map[common.Address]bool
	notKeeper   bool
	transferErr map[common.Address]error
	// pendingHash is returned with transferErr, as for a broadcast transfer whose receipt never came.
	pendingHash map[common.Address]common.Hash
	// burn is withheld from what the strategy receives, as a fee-on-transfer or rebasing want does.
	burn map[common.Address]int64
	// failBalanceAfter makes BalanceOf fail once this many transfers have been mined.
	failBalanceAfter int
	transfers        []fakeTransfer
	calls            []string
}

type fakeTransfer struct {
	Want     common.Address
	Strategy common.Address
	Amount   *big.Int
}

func newFakeLedger(manager common.Address) *fakeLedger {
	return &fakeLedger{
		manager:     manager,
		balances:    make(map[common.Address]map[common.Address]*big.Int),
		wants:       make(map[common.Address]common.Address),
		unapproved:  make(map[common.Address]bool),
		transferErr: make(map[common.Address]error),
		pendingHash: make(map[common.Address]common.Hash),
		burn:        make(map[common.Address]int64),
	}
}

func (l *fakeLedger) setBalance(token, account common.Address, amount int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balances[token] == nil {
		l.balances[token] = make(map[common.Address]*big.Int)
	}
	l.balances[token][account] = big.NewInt(amount)
}

func (l *fakeLedger) balance(token, account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(token, account)
}

func (l *fakeLedger) balanceLocked(token, account common.Address) *big.Int {
	if bal, ok := l.balances[token][account]; ok {
		return new(big.Int).Set(bal)
	}
	return new(big.Int)
}

func (l *fakeLedger) BalanceOf(_ context.Context, token, account common.Address) (*big.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf("balanceOf %s %s", token.Hex(), account.Hex()))
	if l.failBalanceAfter > 0 && len(l.transfers) >= l.failBalanceAfter {
		return nil, fmt.Errorf("connection refused")
	}
	return l.balanceLocked(token, account), nil
}

func (l *fakeLedger) StrategyWant(_ context.Context, strategy common.Address) (common.Address, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wants[strategy], nil
}

func (l *fakeLedger) StrategyApproved(_ context.Context, want, strategy common.Address) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.wants[strategy] == want && !l.unapproved[strategy], nil
}

func (l *fakeLedger) IsKeeper(_ context.Context) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.notKeeper, nil
}

func (l *fakeLedger) TransferWant(_ context.Context, want, strategy common.Address, amount *big.Int) (common.Hash, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, fmt.Sprintf("transferWant %s %s %s", want.Hex(), strategy.Hex(), amount))

	if err := l.transferErr[strategy]; err != nil {
		return l.pendingHash[strategy], err
	}
	if l.notKeeper {
		return common.Hash{}, ErrNotKeeper
	}
	from := l.balanceLocked(want, l.manager)
	if from.Cmp(amount) < 0 {
		return common.Hash{}, fmt.Errorf("%w: execution reverted: ERC20: transfer amount exceeds balance", ErrInsufficientBalance)
	}
	to := l.balanceLocked(want, strategy)
	if l.balances[want] == nil {
		l.balances[want] = make(map[common.Address]*big.Int)
	}
	l.balances[want][l.manager] = from.Sub(from, amount)
	received := new(big.Int).Sub(amount, big.NewInt(l.burn[strategy]))
	l.balances[want][strategy] = to.Add(to, received)

	l.transfers = append(l.transfers, fakeTransfer{Want: want, Strategy: strategy, Amount: new(big.Int).Set(amount)})
	return common.BigToHash(big.NewInt(int64(len(l.transfers)))), nil
}

type fakeRegistry map[string]common.Address

func (r fakeRegistry) Strategy(key string) (common.Address, error) {
	addr, ok := r[key]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: unknown strategy key %q", ErrInvalidTarget, key)
	}
	return addr, nil
}

type fakeEmissions map[string]map[string]*big.Int

func (e fakeEmissions) DailyAmount(key, asset string) (*big.Int, error) {
	amount, ok := e[key][asset]
	if !ok {
		return nil, fmt.Errorf("no %s emission for %s", asset, key)
	}
	return new(big.Int).Set(amount), nil
}
