package deployment

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/badger-finance/sett-keeper/keeper/pkg/distributor"
	"github.com/ethereum/go-ethereum/common"
)

// DefaultFile is the deployment the keeper connects to when none is given.
const DefaultFile = "deploy-final.json"

var ErrUnknownKey = errors.New("unknown sett key")

// Deployment is the address book of a deployed Sett system.
type Deployment struct {
	Deployer       common.Address `json:"deployer"`
	Keeper         common.Address `json:"keeper"`
	Guardian       common.Address `json:"guardian"`
	DevMultisig    common.Address `json:"devMultisig"`
	OpsMultisig    common.Address `json:"opsMultisig"`
	RewardsManager common.Address `json:"badgerRewardsManager"`
	SettSystem     SettSystem     `json:"sett_system"`
}

type SettSystem struct {
	Controllers map[string]common.Address `json:"controllers"`
	Vaults      map[string]common.Address `json:"vaults"`
	Strategies  map[string]common.Address `json:"strategies"`
}

// rawDeployment keeps addresses as strings so malformed entries are reported instead of being
// silently decoded as zero addresses.
type rawDeployment struct {
	Deployer       string `json:"deployer"`
	Keeper         string `json:"keeper"`
	Guardian       string `json:"guardian"`
	DevMultisig    string `json:"devMultisig"`
	OpsMultisig    string `json:"opsMultisig"`
	RewardsManager string `json:"badgerRewardsManager"`
	SettSystem     struct {
		Controllers map[string]string `json:"controllers"`
		Vaults      map[string]string `json:"vaults"`
		Strategies  map[string]string `json:"strategies"`
	} `json:"sett_system"`
}

// LoadFile reads a deployment from path.
func LoadFile(path string) (*Deployment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open deployment file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

func Load(r io.Reader) (*Deployment, error) {
	var raw rawDeployment
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode deployment: %w", err)
	}

	var errs []error
	addr := func(field, s string, required bool) common.Address {
		if s == "" {
			if required {
				errs = append(errs, fmt.Errorf("%s is required", field))
			}
			return common.Address{}
		}
		if !common.IsHexAddress(s) {
			errs = append(errs, fmt.Errorf("%s: invalid address %q", field, s))
			return common.Address{}
		}
		return common.HexToAddress(s)
	}
	addrs := func(section string, m map[string]string) map[string]common.Address {
		out := make(map[string]common.Address, len(m))
		for key, s := range m {
			out[key] = addr(section+"."+key, s, true)
		}
		return out
	}

	d := &Deployment{
		Deployer:       addr("deployer", raw.Deployer, false),
		Keeper:         addr("keeper", raw.Keeper, false),
		Guardian:       addr("guardian", raw.Guardian, false),
		DevMultisig:    addr("devMultisig", raw.DevMultisig, false),
		OpsMultisig:    addr("opsMultisig", raw.OpsMultisig, false),
		RewardsManager: addr("badgerRewardsManager", raw.RewardsManager, true),
		SettSystem: SettSystem{
			Controllers: addrs("sett_system.controllers", raw.SettSystem.Controllers),
			Vaults:      addrs("sett_system.vaults", raw.SettSystem.Vaults),
			Strategies:  addrs("sett_system.strategies", raw.SettSystem.Strategies),
		},
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid deployment: %w", err)
	}
	return d, nil
}

// Strategy returns the strategy deployed under key.
func (d *Deployment) Strategy(key string) (common.Address, error) {
	addr, ok := d.SettSystem.Strategies[key]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: %w %q", distributor.ErrInvalidTarget, ErrUnknownKey, key)
	}
	return addr, nil
}

// StrategyKeys returns the registered strategy keys in sorted order.
func (d *Deployment) StrategyKeys() []string {
	keys := make([]string, 0, len(d.SettSystem.Strategies))
	for k := range d.SettSystem.Strategies {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Missing returns the plan keys that have no strategy in this deployment.
func (d *Deployment) Missing(entries []distributor.Entry) []string {
	var missing []string
	for _, e := range entries {
		if _, ok := d.SettSystem.Strategies[e.Key]; !ok {
			missing = append(missing, e.Key)
		}
	}
	return missing
}

// TestAccounts are the operator accounts that need gas on a local fork.
func (d *Deployment) TestAccounts() []common.Address {
	var out []common.Address
	for _, a := range []common.Address{d.Deployer, d.Keeper, d.Guardian} {
		if a != (common.Address{}) {
			out = append(out, a)
		}
	}
	return out
}
