package router

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"dstakerouter/core/types"
	"dstakerouter/native/allocator"
	nativecommon "dstakerouter/native/common"
)

const moduleName = "router"

// DefaultMaxVaultsPerOperation bounds how many vaults a single solver-mode
// call may touch until the operator tunes it.
const DefaultMaxVaultsPerOperation = 8

// engineState is the narrow persistence surface the engine requires. The
// production implementation is State; tests substitute an in-memory mock.
type engineState interface {
	VaultList() ([]common.Address, error)
	GetVaultConfig(vault common.Address) (*VaultConfig, bool, error)
	PutVaultConfig(cfg *VaultConfig) error
	DeleteVaultConfig(vault common.Address) error
	ShareBalance(vault common.Address) (*big.Int, error)
	SetShareBalance(vault common.Address, shares *big.Int) error
	Shortfall() (*big.Int, error)
	AddShortfall(delta *big.Int) error
	RouterBalance() (*big.Int, error)
	SetRouterBalance(amount *big.Int) error
	AppendEvent(evt *types.Event)
}

// Engine orchestrates deposit/withdraw routing, solver-mode operations and
// vault-to-vault rebalancing. All operations are synchronous state
// transitions: they run to completion or abort with no partial mutation.
// Authorization is a precondition checked by the caller, never re-derived
// here.
type Engine struct {
	state    engineState
	adapters map[common.Address]ConversionAdapter
	pauses   nativecommon.PauseView

	dustTolerance  *big.Int
	maxVaultsPerOp int

	// inExchange guards the vault-exchange operations against nested
	// re-entry while their withdraw and deposit legs cross into external
	// adapters.
	inExchange bool
}

// NewEngine constructs a router engine with default operating parameters.
// Wire persistence with SetState before use.
func NewEngine() *Engine {
	return &Engine{
		adapters:       make(map[common.Address]ConversionAdapter),
		dustTolerance:  big.NewInt(0),
		maxVaultsPerOp: DefaultMaxVaultsPerOperation,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetPauses wires the operator pause switches.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// DustTolerance returns the configured maximum acceptable rebalance
// shortfall in accounting-asset units.
func (e *Engine) DustTolerance() *big.Int {
	return new(big.Int).Set(e.dustTolerance)
}

// SetDustTolerance replaces the dust tolerance. Kept as a flat absolute
// amount, operator-tuned per deployment.
func (e *Engine) SetDustTolerance(tolerance *big.Int) error {
	if e.state == nil {
		return errNilState
	}
	if tolerance == nil || tolerance.Sign() < 0 {
		return fmt.Errorf("%w: dust tolerance must not be negative", ErrConfigInvalid)
	}
	old := e.dustTolerance.String()
	e.dustTolerance = new(big.Int).Set(tolerance)
	e.state.AppendEvent(NewParamUpdatedEvent("dustTolerance", old, tolerance.String()))
	return nil
}

// MaxVaultsPerOperation returns the solver-mode leg bound.
func (e *Engine) MaxVaultsPerOperation() int { return e.maxVaultsPerOp }

// SetMaxVaultsPerOperation bounds how many vaults a single solver-mode call
// may touch.
func (e *Engine) SetMaxVaultsPerOperation(n int) error {
	if e.state == nil {
		return errNilState
	}
	if n <= 0 {
		return fmt.Errorf("%w: max vaults per operation must be positive", ErrConfigInvalid)
	}
	old := strconv.Itoa(e.maxVaultsPerOp)
	e.maxVaultsPerOp = n
	e.state.AppendEvent(NewParamUpdatedEvent("maxVaultsPerOperation", old, strconv.Itoa(n)))
	return nil
}

var errNilState = errors.New("router: state not configured")

var zeroAddress = common.Address{}

func (e *Engine) adapterFor(vault common.Address) (ConversionAdapter, error) {
	adapter, ok := e.adapters[vault]
	if !ok || adapter == nil {
		return nil, fmt.Errorf("%w: no adapter registered for %s", ErrAdapterFailure, vault.Hex())
	}
	return adapter, nil
}

func (e *Engine) shareBalance(vault common.Address) (*big.Int, error) {
	balance, err := e.state.ShareBalance(vault)
	if err != nil {
		return nil, err
	}
	if balance == nil {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// vaultValue reports the accounting-asset value of the pool's share position
// in the given vault, via the vault's adapter.
func (e *Engine) vaultValue(vault common.Address) (*big.Int, error) {
	shares, err := e.shareBalance(vault)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return big.NewInt(0), nil
	}
	adapter, err := e.adapterFor(vault)
	if err != nil {
		return nil, err
	}
	value, err := adapter.StrategyShareValueInDStable(shares)
	if err != nil {
		return nil, classifyAdapterErr(vault, err)
	}
	if value == nil || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s returned invalid valuation", ErrAdapterFailure, vault.Hex())
	}
	return value, nil
}

// classifyAdapterErr keeps valuation failures distinguishable while
// attributing every other adapter error to the failing vault.
func classifyAdapterErr(vault common.Address, err error) error {
	if errors.Is(err, ErrValuationUnavailable) {
		return fmt.Errorf("%s: %w", vault.Hex(), err)
	}
	return fmt.Errorf("%w: %s: %v", ErrAdapterFailure, vault.Hex(), err)
}

func (e *Engine) configs() ([]*VaultConfig, error) {
	vaults, err := e.state.VaultList()
	if err != nil {
		return nil, err
	}
	configs := make([]*VaultConfig, 0, len(vaults))
	for _, vault := range vaults {
		cfg, ok, err := e.state.GetVaultConfig(vault)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: vault %s indexed but not stored", ErrConfigInvalid, vault.Hex())
		}
		configs = append(configs, cfg)
	}
	return configs, nil
}

func (e *Engine) getConfig(vault common.Address) (*VaultConfig, error) {
	cfg, ok, err := e.state.GetVaultConfig(vault)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: vault %s not registered", ErrVaultNotEligible, vault.Hex())
	}
	return cfg, nil
}

// snapshot recomputes the live allocation picture from adapter valuations.
// Impaired vaults are excluded from totals the moment loss is acknowledged;
// suspended vaults keep counting toward totals even though they are not
// routable.
func (e *Engine) snapshot() (*AllocationSnapshot, []*VaultConfig, error) {
	configs, err := e.configs()
	if err != nil {
		return nil, nil, err
	}
	snap := &AllocationSnapshot{TotalValue: big.NewInt(0)}
	kept := make([]*VaultConfig, 0, len(configs))
	for _, cfg := range configs {
		if cfg.Status == VaultStatusImpaired {
			continue
		}
		value, err := e.vaultValue(cfg.Vault)
		if err != nil {
			return nil, nil, err
		}
		snap.Vaults = append(snap.Vaults, cfg.Vault)
		snap.Balances = append(snap.Balances, value)
		snap.TargetBps = append(snap.TargetBps, cfg.TargetBps)
		kept = append(kept, cfg)
	}
	currentBps, total, err := allocator.CurrentAllocations(snap.Balances)
	if err != nil {
		return nil, nil, err
	}
	snap.CurrentBps = currentBps
	snap.TotalValue = total
	return snap, kept, nil
}

// RouteDeposit places the full amount into the single most-underallocated
// active vault. One vault per call keeps the gas cost of the common path
// flat; multi-vault placement is the solver's job. A failing adapter aborts
// the whole deposit.
func (e *Engine) RouteDeposit(amount *big.Int) (common.Address, *big.Int, error) {
	if e.state == nil {
		return zeroAddress, nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return zeroAddress, nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return zeroAddress, nil, fmt.Errorf("%w: deposit amount must be positive", ErrConfigInvalid)
	}
	snap, kept, err := e.snapshot()
	if err != nil {
		return zeroAddress, nil, err
	}

	var candidates []common.Address
	var candidateCurrent, candidateTarget []uint64
	for i, cfg := range kept {
		if cfg.Status != VaultStatusActive || cfg.TargetBps == 0 {
			continue
		}
		candidates = append(candidates, cfg.Vault)
		candidateCurrent = append(candidateCurrent, snap.CurrentBps[i])
		candidateTarget = append(candidateTarget, cfg.TargetBps)
	}
	if len(candidates) == 0 {
		return zeroAddress, nil, fmt.Errorf("%w: no active vault with a target weight", ErrVaultNotEligible)
	}

	selected, _, err := allocator.SelectTopUnderallocated(candidates, candidateCurrent, candidateTarget, 1)
	if err != nil {
		return zeroAddress, nil, err
	}
	vault := selected[0]

	adapter, err := e.adapterFor(vault)
	if err != nil {
		return zeroAddress, nil, err
	}
	shares, err := adapter.DepositIntoStrategy(amount)
	if err != nil {
		return zeroAddress, nil, classifyAdapterErr(vault, err)
	}
	if shares == nil || shares.Sign() <= 0 {
		return zeroAddress, nil, fmt.Errorf("%w: %s minted no shares", ErrAdapterFailure, vault.Hex())
	}
	if err := e.creditShares(vault, shares); err != nil {
		return zeroAddress, nil, err
	}
	e.state.AppendEvent(NewDepositRoutedEvent(vault, amount, shares))
	return vault, new(big.Int).Set(amount), nil
}

// RouteWithdraw serves the full amount from the single active vault with the
// largest withdrawable capacity, so the quote from
// MaxSingleVaultWithdrawCapacity is always achievable in one call. If no
// single vault can supply the amount the operation fails with a liquidity
// error rather than silently truncating or spanning vaults; callers who want
// multi-vault fulfilment opt into the solver path.
func (e *Engine) RouteWithdraw(amount *big.Int) (common.Address, *big.Int, error) {
	if e.state == nil {
		return zeroAddress, nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return zeroAddress, nil, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return zeroAddress, nil, fmt.Errorf("%w: withdraw amount must be positive", ErrConfigInvalid)
	}
	configs, err := e.configs()
	if err != nil {
		return zeroAddress, nil, err
	}

	var vault common.Address
	var best *big.Int
	found := false
	for _, cfg := range configs {
		if cfg.Status != VaultStatusActive {
			continue
		}
		capacity, err := e.vaultValue(cfg.Vault)
		if err != nil {
			return zeroAddress, nil, err
		}
		if capacity.Cmp(amount) < 0 {
			continue
		}
		if !found || capacity.Cmp(best) > 0 {
			vault = cfg.Vault
			best = capacity
			found = true
		}
	}
	if !found {
		return zeroAddress, nil, fmt.Errorf("%w: no single active vault can supply %s", ErrInsufficientLiquidity, amount)
	}

	adapter, err := e.adapterFor(vault)
	if err != nil {
		return zeroAddress, nil, err
	}
	shares, err := adapter.PreviewWithdrawFromStrategy(amount)
	if err != nil {
		return zeroAddress, nil, classifyAdapterErr(vault, err)
	}
	balance, err := e.shareBalance(vault)
	if err != nil {
		return zeroAddress, nil, err
	}
	if shares == nil || shares.Sign() <= 0 || shares.Cmp(balance) > 0 {
		return zeroAddress, nil, fmt.Errorf("%w: %s cannot free %s", ErrInsufficientLiquidity, vault.Hex(), amount)
	}
	assets, err := adapter.WithdrawFromStrategy(shares)
	if err != nil {
		return zeroAddress, nil, classifyAdapterErr(vault, err)
	}
	if assets == nil || assets.Sign() < 0 {
		return zeroAddress, nil, fmt.Errorf("%w: %s returned invalid assets", ErrAdapterFailure, vault.Hex())
	}
	if err := e.debitShares(vault, shares); err != nil {
		return zeroAddress, nil, err
	}
	e.state.AppendEvent(NewWithdrawRoutedEvent(vault, assets, shares))
	return vault, assets, nil
}

func (e *Engine) creditShares(vault common.Address, shares *big.Int) error {
	balance, err := e.shareBalance(vault)
	if err != nil {
		return err
	}
	return e.state.SetShareBalance(vault, new(big.Int).Add(balance, shares))
}

func (e *Engine) debitShares(vault common.Address, shares *big.Int) error {
	balance, err := e.shareBalance(vault)
	if err != nil {
		return err
	}
	next := new(big.Int).Sub(balance, shares)
	if next.Sign() < 0 {
		return fmt.Errorf("%w: share ledger underflow for %s", ErrInsufficientLiquidity, vault.Hex())
	}
	return e.state.SetShareBalance(vault, next)
}

// CurrentAllocations returns the live allocation snapshot, recomputed from
// adapter state on every call.
func (e *Engine) CurrentAllocations() (*AllocationSnapshot, error) {
	if e.state == nil {
		return nil, errNilState
	}
	snap, _, err := e.snapshot()
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// MaxSingleVaultWithdrawCapacity reports the largest amount a single active
// vault can supply, and which vault that is. The accounting wrapper uses it
// for its max-withdraw quote; RouteWithdraw guarantees a request at this cap
// is achievable in one call.
func (e *Engine) MaxSingleVaultWithdrawCapacity() (*big.Int, common.Address, error) {
	if e.state == nil {
		return nil, zeroAddress, errNilState
	}
	configs, err := e.configs()
	if err != nil {
		return nil, zeroAddress, err
	}
	max := big.NewInt(0)
	var vault common.Address
	for _, cfg := range configs {
		if cfg.Status != VaultStatusActive {
			continue
		}
		capacity, err := e.vaultValue(cfg.Vault)
		if err != nil {
			return nil, zeroAddress, err
		}
		if capacity.Cmp(max) > 0 {
			max = capacity
			vault = cfg.Vault
		}
	}
	return max, vault, nil
}

// ValidateTotalAllocations checks that the configured weights across all
// registered vaults sum to exactly the allocation denominator. Weights are
// validated explicitly, never auto-normalized; a forced removal can leave
// the table invalid until the operator rebalances it.
func (e *Engine) ValidateTotalAllocations() (bool, uint64, error) {
	if e.state == nil {
		return false, 0, errNilState
	}
	configs, err := e.configs()
	if err != nil {
		return false, 0, err
	}
	weights := make([]uint64, len(configs))
	for i, cfg := range configs {
		weights[i] = cfg.TargetBps
	}
	ok, sum, err := allocator.ValidateWeights(weights)
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return ok, sum, nil
}

// Shortfall returns the running total of accounting-asset value written off
// through impaired-vault forced removals. Monotonically non-decreasing,
// never auto-repaired.
func (e *Engine) Shortfall() (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	total, err := e.state.Shortfall()
	if err != nil {
		return nil, err
	}
	if total == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(total), nil
}
