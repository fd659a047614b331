package router

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dstakerouter/core/types"
	nativecommon "dstakerouter/native/common"
)

// Solver-mode operations take a caller-specified vault split rather than
// selecting algorithmically; privileged integrators compute the optimal
// split off-chain. The router still enforces per-vault eligibility, the
// per-operation vault bound, and atomicity: one failing leg aborts the whole
// call with no recorded state change.

type ledgerDelta struct {
	vault  common.Address
	shares *big.Int // positive credits, negative debits
}

// applyLegs commits staged share-ledger deltas and events after every leg
// has succeeded.
func (e *Engine) applyLegs(deltas []ledgerDelta, events []*types.Event) error {
	for _, d := range deltas {
		balance, err := e.shareBalance(d.vault)
		if err != nil {
			return err
		}
		next := new(big.Int).Add(balance, d.shares)
		if next.Sign() < 0 {
			return fmt.Errorf("%w: share ledger underflow for %s", ErrInsufficientLiquidity, d.vault.Hex())
		}
		if err := e.state.SetShareBalance(d.vault, next); err != nil {
			return err
		}
	}
	for _, evt := range events {
		e.state.AppendEvent(evt)
	}
	return nil
}

func (e *Engine) checkSolverShape(vaults []common.Address, amounts []*big.Int) error {
	if e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if len(vaults) == 0 || len(vaults) != len(amounts) {
		return fmt.Errorf("%w: vault and amount lists must be non-empty and equal length", ErrConfigInvalid)
	}
	if len(vaults) > e.maxVaultsPerOp {
		return fmt.Errorf("%w: %d vaults exceeds the per-operation bound of %d", ErrConfigInvalid, len(vaults), e.maxVaultsPerOp)
	}
	seen := make(map[common.Address]struct{}, len(vaults))
	for i, vault := range vaults {
		if _, dup := seen[vault]; dup {
			return fmt.Errorf("%w: duplicate vault %s", ErrConfigInvalid, vault.Hex())
		}
		seen[vault] = struct{}{}
		if amounts[i] == nil || amounts[i].Sign() <= 0 {
			return fmt.Errorf("%w: leg %d amount must be positive", ErrConfigInvalid, i)
		}
	}
	return nil
}

// SolverDepositAssets deposits caller-chosen accounting-asset amounts into
// the given vaults. Only active vaults may receive deposits.
func (e *Engine) SolverDepositAssets(vaults []common.Address, amounts []*big.Int) ([]*big.Int, error) {
	if err := e.checkSolverShape(vaults, amounts); err != nil {
		return nil, err
	}
	for _, vault := range vaults {
		cfg, err := e.getConfig(vault)
		if err != nil {
			return nil, err
		}
		if cfg.Status != VaultStatusActive {
			return nil, fmt.Errorf("%w: %s is %s", ErrVaultNotEligible, vault.Hex(), cfg.Status)
		}
	}

	minted := make([]*big.Int, len(vaults))
	deltas := make([]ledgerDelta, 0, len(vaults))
	events := make([]*types.Event, 0, len(vaults))
	for i, vault := range vaults {
		adapter, err := e.adapterFor(vault)
		if err != nil {
			return nil, err
		}
		shares, err := adapter.DepositIntoStrategy(amounts[i])
		if err != nil {
			return nil, classifyAdapterErr(vault, err)
		}
		if shares == nil || shares.Sign() <= 0 {
			return nil, fmt.Errorf("%w: %s minted no shares", ErrAdapterFailure, vault.Hex())
		}
		minted[i] = shares
		deltas = append(deltas, ledgerDelta{vault: vault, shares: shares})
		events = append(events, NewSolverDepositEvent(vault, amounts[i], shares))
	}
	if err := e.applyLegs(deltas, events); err != nil {
		return nil, err
	}
	return minted, nil
}

// SolverDepositShares deposits by target share amount: each leg's
// accounting-asset cost is derived from the adapter's current valuation and
// the actually minted shares are returned.
func (e *Engine) SolverDepositShares(vaults []common.Address, shareAmounts []*big.Int) ([]*big.Int, error) {
	if err := e.checkSolverShape(vaults, shareAmounts); err != nil {
		return nil, err
	}
	for _, vault := range vaults {
		cfg, err := e.getConfig(vault)
		if err != nil {
			return nil, err
		}
		if cfg.Status != VaultStatusActive {
			return nil, fmt.Errorf("%w: %s is %s", ErrVaultNotEligible, vault.Hex(), cfg.Status)
		}
	}

	minted := make([]*big.Int, len(vaults))
	deltas := make([]ledgerDelta, 0, len(vaults))
	events := make([]*types.Event, 0, len(vaults))
	for i, vault := range vaults {
		adapter, err := e.adapterFor(vault)
		if err != nil {
			return nil, err
		}
		cost, err := adapter.StrategyShareValueInDStable(shareAmounts[i])
		if err != nil {
			return nil, classifyAdapterErr(vault, err)
		}
		if cost == nil || cost.Sign() <= 0 {
			return nil, fmt.Errorf("%w: %s valued %s shares at nothing", ErrAdapterFailure, vault.Hex(), shareAmounts[i])
		}
		shares, err := adapter.DepositIntoStrategy(cost)
		if err != nil {
			return nil, classifyAdapterErr(vault, err)
		}
		if shares == nil || shares.Sign() <= 0 {
			return nil, fmt.Errorf("%w: %s minted no shares", ErrAdapterFailure, vault.Hex())
		}
		minted[i] = shares
		deltas = append(deltas, ledgerDelta{vault: vault, shares: shares})
		events = append(events, NewSolverDepositEvent(vault, cost, shares))
	}
	if err := e.applyLegs(deltas, events); err != nil {
		return nil, err
	}
	return minted, nil
}

// SolverWithdrawAssets withdraws caller-chosen accounting-asset amounts from
// the given vaults. Impaired vaults stay eligible as withdrawal sources so
// users can recover whatever residual value an impaired vault still holds;
// suspended vaults do not.
func (e *Engine) SolverWithdrawAssets(vaults []common.Address, amounts []*big.Int) ([]*big.Int, error) {
	if err := e.checkSolverShape(vaults, amounts); err != nil {
		return nil, err
	}
	for _, vault := range vaults {
		cfg, err := e.getConfig(vault)
		if err != nil {
			return nil, err
		}
		if cfg.Status == VaultStatusSuspended {
			return nil, fmt.Errorf("%w: %s is suspended", ErrVaultNotEligible, vault.Hex())
		}
	}

	received := make([]*big.Int, len(vaults))
	deltas := make([]ledgerDelta, 0, len(vaults))
	events := make([]*types.Event, 0, len(vaults))
	for i, vault := range vaults {
		adapter, err := e.adapterFor(vault)
		if err != nil {
			return nil, err
		}
		shares, err := adapter.PreviewWithdrawFromStrategy(amounts[i])
		if err != nil {
			return nil, classifyAdapterErr(vault, err)
		}
		balance, err := e.shareBalance(vault)
		if err != nil {
			return nil, err
		}
		if shares == nil || shares.Sign() <= 0 || shares.Cmp(balance) > 0 {
			return nil, fmt.Errorf("%w: %s cannot free %s", ErrInsufficientLiquidity, vault.Hex(), amounts[i])
		}
		assets, err := adapter.WithdrawFromStrategy(shares)
		if err != nil {
			return nil, classifyAdapterErr(vault, err)
		}
		if assets == nil || assets.Sign() < 0 {
			return nil, fmt.Errorf("%w: %s returned invalid assets", ErrAdapterFailure, vault.Hex())
		}
		received[i] = assets
		deltas = append(deltas, ledgerDelta{vault: vault, shares: new(big.Int).Neg(shares)})
		events = append(events, NewSolverWithdrawEvent(vault, assets, shares))
	}
	if err := e.applyLegs(deltas, events); err != nil {
		return nil, err
	}
	return received, nil
}

// SolverWithdrawShares redeems caller-chosen share amounts from the given
// vaults, with the same source-eligibility policy as SolverWithdrawAssets.
func (e *Engine) SolverWithdrawShares(vaults []common.Address, shareAmounts []*big.Int) ([]*big.Int, error) {
	if err := e.checkSolverShape(vaults, shareAmounts); err != nil {
		return nil, err
	}
	for _, vault := range vaults {
		cfg, err := e.getConfig(vault)
		if err != nil {
			return nil, err
		}
		if cfg.Status == VaultStatusSuspended {
			return nil, fmt.Errorf("%w: %s is suspended", ErrVaultNotEligible, vault.Hex())
		}
	}

	received := make([]*big.Int, len(vaults))
	deltas := make([]ledgerDelta, 0, len(vaults))
	events := make([]*types.Event, 0, len(vaults))
	for i, vault := range vaults {
		balance, err := e.shareBalance(vault)
		if err != nil {
			return nil, err
		}
		if shareAmounts[i].Cmp(balance) > 0 {
			return nil, fmt.Errorf("%w: %s holds only %s shares", ErrInsufficientLiquidity, vault.Hex(), balance)
		}
		adapter, err := e.adapterFor(vault)
		if err != nil {
			return nil, err
		}
		assets, err := adapter.WithdrawFromStrategy(shareAmounts[i])
		if err != nil {
			return nil, classifyAdapterErr(vault, err)
		}
		if assets == nil || assets.Sign() < 0 {
			return nil, fmt.Errorf("%w: %s returned invalid assets", ErrAdapterFailure, vault.Hex())
		}
		received[i] = assets
		deltas = append(deltas, ledgerDelta{vault: vault, shares: new(big.Int).Neg(shareAmounts[i])})
		events = append(events, NewSolverWithdrawEvent(vault, assets, shareAmounts[i]))
	}
	if err := e.applyLegs(deltas, events); err != nil {
		return nil, err
	}
	return received, nil
}
