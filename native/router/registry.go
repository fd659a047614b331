package router

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dstakerouter/native/allocator"
)

// VaultEntry pairs a vault configuration with the adapter that serves it,
// used when (re)building the registry table.
type VaultEntry struct {
	Config  VaultConfig
	Adapter ConversionAdapter
}

// AddVaultConfig registers a new strategy vault. The resulting table must
// still carry weights summing to exactly TotalBps, so in practice only the
// first vault (at full weight) or a zero-weight vault can be added this way;
// reweighting across vaults goes through SetVaultConfigs atomically.
func (e *Engine) AddVaultConfig(vault common.Address, adapter ConversionAdapter, targetBps uint64, status VaultStatus) error {
	if e.state == nil {
		return errNilState
	}
	if err := validateVaultHandle(vault, adapter); err != nil {
		return err
	}
	if !status.Valid() || status == VaultStatusImpaired {
		return fmt.Errorf("%w: vault cannot be registered as %s", ErrConfigInvalid, status)
	}
	if _, ok, err := e.state.GetVaultConfig(vault); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: vault %s already registered", ErrConfigInvalid, vault.Hex())
	}
	configs, err := e.configs()
	if err != nil {
		return err
	}
	weights := make([]uint64, 0, len(configs)+1)
	for _, cfg := range configs {
		weights = append(weights, cfg.TargetBps)
	}
	weights = append(weights, targetBps)
	if err := requireFullWeight(weights); err != nil {
		return err
	}

	cfg := &VaultConfig{Vault: vault, TargetBps: targetBps, Status: status}
	if err := e.state.PutVaultConfig(cfg); err != nil {
		return err
	}
	e.adapters[vault] = adapter
	e.state.AppendEvent(NewVaultAddedEvent(cfg))
	return nil
}

// SetVaultConfigs atomically replaces the whole registry table. Vaults
// dropped by the replacement must hold no more than dust-tolerance value;
// anything larger needs an explicit sweep or the forced-removal path first.
func (e *Engine) SetVaultConfigs(entries []VaultEntry) error {
	if e.state == nil {
		return errNilState
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: empty vault table", ErrConfigInvalid)
	}
	weights := make([]uint64, len(entries))
	seen := make(map[common.Address]struct{}, len(entries))
	for i, entry := range entries {
		if err := validateVaultHandle(entry.Config.Vault, entry.Adapter); err != nil {
			return err
		}
		if !entry.Config.Status.Valid() || entry.Config.Status == VaultStatusImpaired {
			return fmt.Errorf("%w: vault cannot be registered as %s", ErrConfigInvalid, entry.Config.Status)
		}
		if _, dup := seen[entry.Config.Vault]; dup {
			return fmt.Errorf("%w: duplicate vault %s", ErrConfigInvalid, entry.Config.Vault.Hex())
		}
		seen[entry.Config.Vault] = struct{}{}
		weights[i] = entry.Config.TargetBps
	}
	if err := requireFullWeight(weights); err != nil {
		return err
	}

	// All checks complete before the first mutation: a rejected replacement
	// must leave the table, adapters and event stream untouched.
	existing, err := e.configs()
	if err != nil {
		return err
	}
	previous := make(map[common.Address]*VaultConfig, len(existing))
	for _, cfg := range existing {
		previous[cfg.Vault] = cfg
		if _, kept := seen[cfg.Vault]; kept {
			if cfg.Status == VaultStatusImpaired {
				return fmt.Errorf("%w: %s", ErrAlreadyImpaired, cfg.Vault.Hex())
			}
			continue
		}
		if cfg.Status == VaultStatusImpaired {
			return fmt.Errorf("%w: impaired vault %s requires forced removal", ErrConfigInvalid, cfg.Vault.Hex())
		}
		value, err := e.vaultValue(cfg.Vault)
		if err != nil {
			return err
		}
		if value.Cmp(e.dustTolerance) > 0 {
			return fmt.Errorf("%w: vault %s still holds %s; sweep before dropping it", ErrConfigInvalid, cfg.Vault.Hex(), value)
		}
	}

	for _, cfg := range existing {
		if _, kept := seen[cfg.Vault]; kept {
			continue
		}
		if err := e.state.DeleteVaultConfig(cfg.Vault); err != nil {
			return err
		}
		delete(e.adapters, cfg.Vault)
		e.state.AppendEvent(NewVaultRemovedEvent(cfg.Vault, cfg.TargetBps))
	}
	for _, entry := range entries {
		cfg := entry.Config
		if err := e.state.PutVaultConfig(cfg.Clone()); err != nil {
			return err
		}
		e.adapters[cfg.Vault] = entry.Adapter
		if old, existed := previous[cfg.Vault]; existed {
			if old.TargetBps != cfg.TargetBps {
				e.state.AppendEvent(NewVaultUpdatedEvent(cfg.Vault, old.TargetBps, cfg.TargetBps))
			}
			if old.Status != cfg.Status {
				e.state.AppendEvent(NewVaultStatusEvent(cfg.Vault, old.Status, cfg.Status))
			}
		} else {
			e.state.AppendEvent(NewVaultAddedEvent(&cfg))
		}
	}
	return nil
}

// UpdateVaultConfig changes a single vault's target weight. The table must
// still sum to TotalBps afterwards, so single-vault updates are limited to
// compensating changes; cross-vault reweighting uses SetVaultConfigs.
func (e *Engine) UpdateVaultConfig(vault common.Address, targetBps uint64) error {
	if e.state == nil {
		return errNilState
	}
	cfg, err := e.getConfig(vault)
	if err != nil {
		return err
	}
	if cfg.Status == VaultStatusImpaired {
		return fmt.Errorf("%w: %s", ErrAlreadyImpaired, vault.Hex())
	}
	configs, err := e.configs()
	if err != nil {
		return err
	}
	weights := make([]uint64, len(configs))
	for i, c := range configs {
		if c.Vault == vault {
			weights[i] = targetBps
		} else {
			weights[i] = c.TargetBps
		}
	}
	if err := requireFullWeight(weights); err != nil {
		return err
	}
	old := cfg.TargetBps
	cfg.TargetBps = targetBps
	if err := e.state.PutVaultConfig(cfg); err != nil {
		return err
	}
	e.state.AppendEvent(NewVaultUpdatedEvent(vault, old, targetBps))
	return nil
}

// SetVaultStatus flips a vault between Active and Suspended. Impairment is
// driven by loss acknowledgement, never set directly, and is terminal.
func (e *Engine) SetVaultStatus(vault common.Address, status VaultStatus) error {
	if e.state == nil {
		return errNilState
	}
	if !status.Valid() || status == VaultStatusImpaired {
		return fmt.Errorf("%w: status %s cannot be set directly", ErrConfigInvalid, status)
	}
	cfg, err := e.getConfig(vault)
	if err != nil {
		return err
	}
	if cfg.Status == VaultStatusImpaired {
		return fmt.Errorf("%w: %s", ErrAlreadyImpaired, vault.Hex())
	}
	if cfg.Status == status {
		return nil
	}
	old := cfg.Status
	cfg.Status = status
	if err := e.state.PutVaultConfig(cfg); err != nil {
		return err
	}
	e.state.AppendEvent(NewVaultStatusEvent(vault, old, status))
	return nil
}

// RemoveVaultConfig deletes a vault whose balance has already been swept.
// Impaired vaults go through ForceRemoveVault instead, and the remaining
// table must still carry full weight.
func (e *Engine) RemoveVaultConfig(vault common.Address) error {
	if e.state == nil {
		return errNilState
	}
	cfg, err := e.getConfig(vault)
	if err != nil {
		return err
	}
	if cfg.Status == VaultStatusImpaired {
		return fmt.Errorf("%w: impaired vault %s requires forced removal", ErrConfigInvalid, vault.Hex())
	}
	value, err := e.vaultValue(vault)
	if err != nil {
		return err
	}
	if value.Cmp(e.dustTolerance) > 0 {
		return fmt.Errorf("%w: vault %s still holds %s; sweep before removal", ErrConfigInvalid, vault.Hex(), value)
	}
	configs, err := e.configs()
	if err != nil {
		return err
	}
	weights := make([]uint64, 0, len(configs)-1)
	for _, c := range configs {
		if c.Vault == vault {
			continue
		}
		weights = append(weights, c.TargetBps)
	}
	if len(weights) > 0 {
		if err := requireFullWeight(weights); err != nil {
			return err
		}
	}
	if err := e.state.DeleteVaultConfig(vault); err != nil {
		return err
	}
	if err := e.state.SetShareBalance(vault, big.NewInt(0)); err != nil {
		return err
	}
	delete(e.adapters, vault)
	e.state.AppendEvent(NewVaultRemovedEvent(vault, cfg.TargetBps))
	return nil
}

// RegisterAdapter binds an adapter to an already-registered vault. Used at
// process start to rebind adapters for configurations restored from disk.
func (e *Engine) RegisterAdapter(vault common.Address, adapter ConversionAdapter) error {
	if e.state == nil {
		return errNilState
	}
	if adapter == nil {
		return fmt.Errorf("%w: nil adapter for %s", ErrConfigInvalid, vault.Hex())
	}
	if _, err := e.getConfig(vault); err != nil {
		return err
	}
	e.adapters[vault] = adapter
	return nil
}

func validateVaultHandle(vault common.Address, adapter ConversionAdapter) error {
	if vault == zeroAddress {
		return fmt.Errorf("%w: zero vault address", ErrConfigInvalid)
	}
	if adapter == nil {
		return fmt.Errorf("%w: nil adapter for %s", ErrConfigInvalid, vault.Hex())
	}
	return nil
}

func requireFullWeight(weights []uint64) error {
	ok, sum, err := allocator.ValidateWeights(weights)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	if !ok {
		return fmt.Errorf("%w: weights sum to %d, want %d", ErrConfigInvalid, sum, allocator.TotalBps)
	}
	return nil
}
