package eth

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/crypto"
)

// Minimal ABIs of the contracts the keeper talks to.
const (
	erc20ABIJSON = `[
		{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}
	]`

	strategyABIJSON = `[
		{"type":"function","name":"want","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
		{"type":"function","name":"controller","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]}
	]`

	controllerABIJSON = `[
		{"type":"function","name":"strategies","stateMutability":"view","inputs":[{"name":"token","type":"address"}],"outputs":[{"name":"","type":"address"}]},
		{"type":"function","name":"approvedStrategies","stateMutability":"view","inputs":[{"name":"token","type":"address"},{"name":"strategy","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
	]`

	rewardsManagerABIJSON = `[
		{"type":"function","name":"transferWant","stateMutability":"nonpayable","inputs":[{"name":"want","type":"address"},{"name":"strategy","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
		{"type":"function","name":"hasRole","stateMutability":"view","inputs":[{"name":"role","type":"bytes32"},{"name":"account","type":"address"}],"outputs":[{"name":"","type":"bool"}]}
	]`
)

var (
	erc20ABI          = mustParseABI(erc20ABIJSON)
	strategyABI       = mustParseABI(strategyABIJSON)
	controllerABI     = mustParseABI(controllerABIJSON)
	rewardsManagerABI = mustParseABI(rewardsManagerABIJSON)

	// KeeperRole is the AccessControl role the rewards manager requires for transferWant.
	KeeperRole = crypto.Keccak256Hash([]byte("KEEPER_ROLE"))
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}
