package router

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"dstakerouter/core/types"
	"dstakerouter/storage"
)

var (
	vaultConfigPrefix = []byte("router/vault/")
	vaultIndexKey     = []byte("router/vaults")
	shareBalancePref  = []byte("router/shares/")
	shortfallKey      = []byte("router/shortfall")
	routerBalanceKey  = []byte("router/balance")
)

type storedVaultConfig struct {
	Vault         common.Address
	TargetBps     uint64
	Status        uint8
	ImpairedValue *big.Int
}

type storedVaultIndex struct {
	Vaults []common.Address
}

// State is the production persistence layer for the router engine, keeping
// vault configurations, the pool share ledger, the shortfall counter and the
// router's own accounting-asset balance as RLP records in a key-value store.
// Events accumulate in memory and are drained by the caller after each
// operation.
type State struct {
	db     storage.Database
	events []*types.Event
}

// NewState constructs a State backed by the provided database.
func NewState(db storage.Database) *State {
	return &State{db: db}
}

func vaultConfigKey(vault common.Address) []byte {
	return append(append([]byte{}, vaultConfigPrefix...), vault.Bytes()...)
}

func shareBalanceKey(vault common.Address) []byte {
	return append(append([]byte{}, shareBalancePref...), vault.Bytes()...)
}

func (s *State) getRLP(key []byte, out interface{}) (bool, error) {
	raw, err := s.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := rlp.DecodeBytes(raw, out); err != nil {
		return false, fmt.Errorf("router: decode %q: %w", key, err)
	}
	return true, nil
}

func (s *State) putRLP(key []byte, value interface{}) error {
	raw, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("router: encode %q: %w", key, err)
	}
	return s.db.Put(key, raw)
}

func (s *State) vaultIndex() ([]common.Address, error) {
	var idx storedVaultIndex
	ok, err := s.getRLP(vaultIndexKey, &idx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return idx.Vaults, nil
}

func (s *State) putVaultIndex(vaults []common.Address) error {
	return s.putRLP(vaultIndexKey, &storedVaultIndex{Vaults: vaults})
}

// VaultList returns registered vault addresses in registration order. The
// order is part of the persisted index, so allocation tie-breaks stay stable
// across restarts.
func (s *State) VaultList() ([]common.Address, error) {
	return s.vaultIndex()
}

// GetVaultConfig loads one vault's configuration.
func (s *State) GetVaultConfig(vault common.Address) (*VaultConfig, bool, error) {
	var stored storedVaultConfig
	ok, err := s.getRLP(vaultConfigKey(vault), &stored)
	if err != nil || !ok {
		return nil, false, err
	}
	cfg := &VaultConfig{
		Vault:     stored.Vault,
		TargetBps: stored.TargetBps,
		Status:    VaultStatus(stored.Status),
	}
	if stored.ImpairedValue != nil && stored.ImpairedValue.Sign() > 0 {
		cfg.ImpairedValue = new(big.Int).Set(stored.ImpairedValue)
	}
	return cfg, true, nil
}

// PutVaultConfig stores a vault configuration and maintains the index.
func (s *State) PutVaultConfig(cfg *VaultConfig) error {
	if cfg == nil {
		return errors.New("router: nil vault config")
	}
	stored := &storedVaultConfig{
		Vault:         cfg.Vault,
		TargetBps:     cfg.TargetBps,
		Status:        uint8(cfg.Status),
		ImpairedValue: big.NewInt(0),
	}
	if cfg.ImpairedValue != nil {
		stored.ImpairedValue = new(big.Int).Set(cfg.ImpairedValue)
	}
	if err := s.putRLP(vaultConfigKey(cfg.Vault), stored); err != nil {
		return err
	}
	index, err := s.vaultIndex()
	if err != nil {
		return err
	}
	for _, existing := range index {
		if existing == cfg.Vault {
			return nil
		}
	}
	return s.putVaultIndex(append(index, cfg.Vault))
}

// DeleteVaultConfig removes a vault configuration and its index entry.
func (s *State) DeleteVaultConfig(vault common.Address) error {
	if err := s.db.Delete(vaultConfigKey(vault)); err != nil {
		return err
	}
	index, err := s.vaultIndex()
	if err != nil {
		return err
	}
	filtered := index[:0]
	for _, existing := range index {
		if existing != vault {
			filtered = append(filtered, existing)
		}
	}
	return s.putVaultIndex(filtered)
}

// ShareBalance returns the pool's recorded share position in a vault.
func (s *State) ShareBalance(vault common.Address) (*big.Int, error) {
	balance := new(big.Int)
	ok, err := s.getRLP(shareBalanceKey(vault), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// SetShareBalance overwrites the pool's share position in a vault.
func (s *State) SetShareBalance(vault common.Address, shares *big.Int) error {
	if shares == nil || shares.Sign() < 0 {
		return errors.New("router: share balance must not be negative")
	}
	if shares.Sign() == 0 {
		return s.db.Delete(shareBalanceKey(vault))
	}
	return s.putRLP(shareBalanceKey(vault), shares)
}

// Shortfall returns the persisted write-off total.
func (s *State) Shortfall() (*big.Int, error) {
	total := new(big.Int)
	ok, err := s.getRLP(shortfallKey, total)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return total, nil
}

// AddShortfall increases the write-off total. The counter only ever grows.
func (s *State) AddShortfall(delta *big.Int) error {
	if delta == nil || delta.Sign() < 0 {
		return errors.New("router: shortfall delta must not be negative")
	}
	if delta.Sign() == 0 {
		return nil
	}
	total, err := s.Shortfall()
	if err != nil {
		return err
	}
	return s.putRLP(shortfallKey, new(big.Int).Add(total, delta))
}

// RouterBalance returns the accounting-asset balance held by the router
// itself, outside any vault.
func (s *State) RouterBalance() (*big.Int, error) {
	balance := new(big.Int)
	ok, err := s.getRLP(routerBalanceKey, balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// SetRouterBalance overwrites the router-held balance.
func (s *State) SetRouterBalance(amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return errors.New("router: router balance must not be negative")
	}
	if amount.Sign() == 0 {
		return s.db.Delete(routerBalanceKey)
	}
	return s.putRLP(routerBalanceKey, amount)
}

// AppendEvent buffers an emitted event.
func (s *State) AppendEvent(evt *types.Event) {
	if evt == nil {
		return
	}
	s.events = append(s.events, evt)
}

// Events drains and returns the buffered events in emission order.
func (s *State) Events() []*types.Event {
	out := s.events
	s.events = nil
	return out
}
