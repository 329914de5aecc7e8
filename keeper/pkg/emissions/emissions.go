package emissions

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"

	"github.com/shopspring/decimal"
)

const daysPerWeek = 7

var (
	ErrUnknownKey   = errors.New("no emissions configured for sett")
	ErrUnknownAsset = errors.New("unknown emission asset")
)

// Asset describes an emitted token.
type Asset struct {
	Decimals int32 `json:"decimals"`
}

// Schedule holds the active weekly emissions per sett key, in token units.
type Schedule struct {
	Assets map[string]Asset                       `json:"assets"`
	Weekly map[string]map[string]decimal.Decimal `json:"weekly"`
}

func LoadFile(path string) (*Schedule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open emissions file: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a schedule such as
//
//	{"assets": {"badger": {"decimals": 18}}, "weekly": {"native.badger": {"badger": "26250"}}}
func Load(r io.Reader) (*Schedule, error) {
	var s Schedule
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("failed to decode emissions schedule: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Schedule) Validate() error {
	for name, asset := range s.Assets {
		if asset.Decimals < 0 || asset.Decimals > 36 {
			return fmt.Errorf("asset %s: decimals %d out of range", name, asset.Decimals)
		}
	}
	for key, assets := range s.Weekly {
		for asset, amount := range assets {
			if _, ok := s.Assets[asset]; !ok {
				return fmt.Errorf("sett %s: %w %q", key, ErrUnknownAsset, asset)
			}
			if amount.IsNegative() {
				return fmt.Errorf("sett %s: negative weekly %s emission %s", key, asset, amount)
			}
		}
	}
	return nil
}

// WeeklyAmount returns the weekly emission of asset for key in base units.
func (s *Schedule) WeeklyAmount(key, asset string) (*big.Int, error) {
	assets, ok := s.Weekly[key]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownKey, key)
	}
	amount, ok := assets[asset]
	if !ok {
		return nil, fmt.Errorf("sett %s: %w %q", key, ErrUnknownAsset, asset)
	}
	meta, ok := s.Assets[asset]
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownAsset, asset)
	}
	return amount.Shift(meta.Decimals).Truncate(0).BigInt(), nil
}

// DailyAmount returns a seventh of the weekly emission in base units, rounded down.
func (s *Schedule) DailyAmount(key, asset string) (*big.Int, error) {
	weekly, err := s.WeeklyAmount(key, asset)
	if err != nil {
		return nil, err
	}
	return weekly.Quo(weekly, big.NewInt(daysPerWeek)), nil
}
