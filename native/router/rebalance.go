package router

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "dstakerouter/native/common"
)

// enterExchange flips the vault-exchange guard. The rebalance and sweep
// operations cross into external adapter code between their withdraw and
// deposit legs; the guard rejects any nested value-moving call started from
// within that window.
func (e *Engine) enterExchange() error {
	if e.inExchange {
		return ErrReentrant
	}
	e.inExchange = true
	return nil
}

func (e *Engine) exitExchange() { e.inExchange = false }

func (e *Engine) checkExchangePair(from, to common.Address) (ConversionAdapter, ConversionAdapter, error) {
	if from == to {
		return nil, nil, fmt.Errorf("%w: source and destination vault are the same", ErrConfigInvalid)
	}
	if _, err := e.getConfig(from); err != nil {
		return nil, nil, err
	}
	toCfg, err := e.getConfig(to)
	if err != nil {
		return nil, nil, err
	}
	if toCfg.Status != VaultStatusActive {
		return nil, nil, fmt.Errorf("%w: destination %s is %s", ErrVaultNotEligible, to.Hex(), toCfg.Status)
	}
	fromAdapter, err := e.adapterFor(from)
	if err != nil {
		return nil, nil, err
	}
	toAdapter, err := e.adapterFor(to)
	if err != nil {
		return nil, nil, err
	}
	return fromAdapter, toAdapter, nil
}

// checkExchangeValue enforces the slippage floor and the dust bound on a
// completed exchange: realized destination value must meet minToShareAmount
// converted to value terms by the caller's own expectations, and the value
// lost between the source redemption and the destination position must not
// exceed the operator dust tolerance.
func (e *Engine) checkExchangeValue(to common.Address, expectedValue, toShares, minToShareAmount *big.Int, toAdapter ConversionAdapter) error {
	if minToShareAmount != nil && minToShareAmount.Sign() > 0 && toShares.Cmp(minToShareAmount) < 0 {
		return fmt.Errorf("%w: received %s destination shares, want at least %s", ErrSlippageExceeded, toShares, minToShareAmount)
	}
	realized, err := toAdapter.StrategyShareValueInDStable(toShares)
	if err != nil {
		return classifyAdapterErr(to, err)
	}
	if realized == nil {
		return fmt.Errorf("%w: %s returned invalid valuation", ErrAdapterFailure, to.Hex())
	}
	lost := new(big.Int).Sub(expectedValue, realized)
	if lost.Cmp(e.dustTolerance) > 0 {
		return fmt.Errorf("%w: exchange lost %s, dust tolerance is %s", ErrSlippageExceeded, lost, e.dustTolerance)
	}
	return nil
}

// RebalanceByShares redeems an exact share amount from the source vault and
// deposits the proceeds into the destination. The source may be suspended or
// impaired; the destination must be active.
func (e *Engine) RebalanceByShares(from, to common.Address, shareAmount, minToShareAmount *big.Int) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.enterExchange(); err != nil {
		return nil, err
	}
	defer e.exitExchange()
	if shareAmount == nil || shareAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: share amount must be positive", ErrConfigInvalid)
	}
	fromAdapter, toAdapter, err := e.checkExchangePair(from, to)
	if err != nil {
		return nil, err
	}
	balance, err := e.shareBalance(from)
	if err != nil {
		return nil, err
	}
	if shareAmount.Cmp(balance) > 0 {
		return nil, fmt.Errorf("%w: %s holds only %s shares", ErrInsufficientLiquidity, from.Hex(), balance)
	}

	expectedValue, err := fromAdapter.StrategyShareValueInDStable(shareAmount)
	if err != nil {
		return nil, classifyAdapterErr(from, err)
	}
	value, err := fromAdapter.WithdrawFromStrategy(shareAmount)
	if err != nil {
		return nil, classifyAdapterErr(from, err)
	}
	if value == nil || value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s redeemed no value", ErrAdapterFailure, from.Hex())
	}
	toShares, err := toAdapter.DepositIntoStrategy(value)
	if err != nil {
		return nil, classifyAdapterErr(to, err)
	}
	if toShares == nil || toShares.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s minted no shares", ErrAdapterFailure, to.Hex())
	}
	if err := e.checkExchangeValue(to, expectedValue, toShares, minToShareAmount, toAdapter); err != nil {
		return nil, err
	}

	if err := e.debitShares(from, shareAmount); err != nil {
		return nil, err
	}
	if err := e.creditShares(to, toShares); err != nil {
		return nil, err
	}
	e.state.AppendEvent(NewRebalanceEvent(from, to, shareAmount, value, toShares, false))
	return toShares, nil
}

// RebalanceByValue moves an exact accounting-asset value between vaults,
// deriving the source share amount from the source adapter's withdraw quote.
func (e *Engine) RebalanceByValue(from, to common.Address, value, minToShareAmount *big.Int) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.enterExchange(); err != nil {
		return nil, err
	}
	defer e.exitExchange()
	if value == nil || value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: value must be positive", ErrConfigInvalid)
	}
	fromAdapter, toAdapter, err := e.checkExchangePair(from, to)
	if err != nil {
		return nil, err
	}
	fromShares, err := fromAdapter.PreviewWithdrawFromStrategy(value)
	if err != nil {
		return nil, classifyAdapterErr(from, err)
	}
	balance, err := e.shareBalance(from)
	if err != nil {
		return nil, err
	}
	if fromShares == nil || fromShares.Sign() <= 0 || fromShares.Cmp(balance) > 0 {
		return nil, fmt.Errorf("%w: %s cannot free %s", ErrInsufficientLiquidity, from.Hex(), value)
	}

	redeemed, err := fromAdapter.WithdrawFromStrategy(fromShares)
	if err != nil {
		return nil, classifyAdapterErr(from, err)
	}
	if redeemed == nil || redeemed.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s redeemed no value", ErrAdapterFailure, from.Hex())
	}
	toShares, err := toAdapter.DepositIntoStrategy(redeemed)
	if err != nil {
		return nil, classifyAdapterErr(to, err)
	}
	if toShares == nil || toShares.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s minted no shares", ErrAdapterFailure, to.Hex())
	}
	if err := e.checkExchangeValue(to, value, toShares, minToShareAmount, toAdapter); err != nil {
		return nil, err
	}

	if err := e.debitShares(from, fromShares); err != nil {
		return nil, err
	}
	if err := e.creditShares(to, toShares); err != nil {
		return nil, err
	}
	e.state.AppendEvent(NewRebalanceEvent(from, to, fromShares, redeemed, toShares, false))
	return toShares, nil
}

// RebalanceByExternalLiquidity rebalances without touching the vaults: the
// caller supplies destination-vault shares directly and receives the
// corresponding source shares, so neither vault sees a withdrawal or deposit.
// Only the router's internal ledger moves. The external party is quoted at
// current adapter valuations; the dust and slippage bounds still apply to the
// quoted exchange.
func (e *Engine) RebalanceByExternalLiquidity(from, to common.Address, fromShareAmount, minToShareAmount *big.Int) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.enterExchange(); err != nil {
		return nil, err
	}
	defer e.exitExchange()
	if fromShareAmount == nil || fromShareAmount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: share amount must be positive", ErrConfigInvalid)
	}
	fromAdapter, toAdapter, err := e.checkExchangePair(from, to)
	if err != nil {
		return nil, err
	}
	balance, err := e.shareBalance(from)
	if err != nil {
		return nil, err
	}
	if fromShareAmount.Cmp(balance) > 0 {
		return nil, fmt.Errorf("%w: %s holds only %s shares", ErrInsufficientLiquidity, from.Hex(), balance)
	}

	value, err := fromAdapter.StrategyShareValueInDStable(fromShareAmount)
	if err != nil {
		return nil, classifyAdapterErr(from, err)
	}
	if value == nil || value.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s returned invalid valuation", ErrAdapterFailure, from.Hex())
	}
	toShares, err := toAdapter.PreviewDepositIntoStrategy(value)
	if err != nil {
		return nil, classifyAdapterErr(to, err)
	}
	if toShares == nil || toShares.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s quoted no shares for %s", ErrAdapterFailure, to.Hex(), value)
	}
	if err := e.checkExchangeValue(to, value, toShares, minToShareAmount, toAdapter); err != nil {
		return nil, err
	}

	if err := e.debitShares(from, fromShareAmount); err != nil {
		return nil, err
	}
	if err := e.creditShares(to, toShares); err != nil {
		return nil, err
	}
	e.state.AppendEvent(NewRebalanceEvent(from, to, fromShareAmount, value, toShares, true))
	return toShares, nil
}

// AcknowledgeStrategyLoss marks a vault impaired and freezes its observed
// value for shortfall accounting. Impairment is terminal: re-acknowledging an
// impaired vault fails. If valuation itself is unavailable the observed value
// is recorded as zero, so a fully broken vault can still be impaired.
func (e *Engine) AcknowledgeStrategyLoss(vault common.Address, lossValue *big.Int) error {
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
	if lossValue == nil || lossValue.Sign() < 0 {
		return fmt.Errorf("%w: loss value must not be negative", ErrConfigInvalid)
	}

	observed, err := e.vaultValue(vault)
	if err != nil {
		observed = big.NewInt(0)
	}
	old := cfg.Status
	cfg.Status = VaultStatusImpaired
	cfg.ImpairedValue = new(big.Int).Set(observed)
	if err := e.state.PutVaultConfig(cfg); err != nil {
		return err
	}
	e.state.AppendEvent(NewVaultStatusEvent(vault, old, VaultStatusImpaired))
	e.state.AppendEvent(NewLossAcknowledgedEvent(vault, lossValue, observed))
	return nil
}

// ForceRemoveVault drops an impaired vault from the registry and adds its
// residual value to the shortfall total. Live valuation is preferred for the
// write-off; if the adapter can no longer value the position, the value frozen
// at acknowledgement time is used. Forced removal can leave the remaining
// weights summing below the denominator; the table stays invalid until the
// operator reweights it.
func (e *Engine) ForceRemoveVault(vault common.Address) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	cfg, err := e.getConfig(vault)
	if err != nil {
		return nil, err
	}
	if cfg.Status != VaultStatusImpaired {
		return nil, fmt.Errorf("%w: %s", ErrNotImpaired, vault.Hex())
	}

	writeOff, err := e.vaultValue(vault)
	if err != nil {
		if cfg.ImpairedValue != nil {
			writeOff = new(big.Int).Set(cfg.ImpairedValue)
		} else {
			writeOff = big.NewInt(0)
		}
	}
	if err := e.state.AddShortfall(writeOff); err != nil {
		return nil, err
	}
	if err := e.state.DeleteVaultConfig(vault); err != nil {
		return nil, err
	}
	if err := e.state.SetShareBalance(vault, big.NewInt(0)); err != nil {
		return nil, err
	}
	delete(e.adapters, vault)

	total, err := e.Shortfall()
	if err != nil {
		return nil, err
	}
	e.state.AppendEvent(NewVaultForceRemovedEvent(vault, writeOff, total))
	return writeOff, nil
}

// SweepStrategyDust moves the source vault's entire residual share position
// into an active destination vault, typically ahead of removing the source.
func (e *Engine) SweepStrategyDust(from, to common.Address) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if err := e.enterExchange(); err != nil {
		return nil, err
	}
	defer e.exitExchange()
	fromAdapter, toAdapter, err := e.checkExchangePair(from, to)
	if err != nil {
		return nil, err
	}
	shares, err := e.shareBalance(from)
	if err != nil {
		return nil, err
	}
	if shares.Sign() == 0 {
		return big.NewInt(0), nil
	}

	value, err := fromAdapter.WithdrawFromStrategy(shares)
	if err != nil {
		return nil, classifyAdapterErr(from, err)
	}
	if value == nil || value.Sign() < 0 {
		return nil, fmt.Errorf("%w: %s returned invalid assets", ErrAdapterFailure, from.Hex())
	}
	toShares := big.NewInt(0)
	if value.Sign() > 0 {
		toShares, err = toAdapter.DepositIntoStrategy(value)
		if err != nil {
			return nil, classifyAdapterErr(to, err)
		}
		if toShares == nil || toShares.Sign() <= 0 {
			return nil, fmt.Errorf("%w: %s minted no shares", ErrAdapterFailure, to.Hex())
		}
	}

	if err := e.state.SetShareBalance(from, big.NewInt(0)); err != nil {
		return nil, err
	}
	if toShares.Sign() > 0 {
		if err := e.creditShares(to, toShares); err != nil {
			return nil, err
		}
	}
	e.state.AppendEvent(NewDustSweptEvent(from, to, shares, value, toShares))
	return value, nil
}

// SweepSurplus deposits any accounting-asset balance held by the router
// itself into an active vault and zeroes the tracked balance.
func (e *Engine) SweepSurplus(to common.Address) (*big.Int, error) {
	if e.state == nil {
		return nil, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	cfg, err := e.getConfig(to)
	if err != nil {
		return nil, err
	}
	if cfg.Status != VaultStatusActive {
		return nil, fmt.Errorf("%w: destination %s is %s", ErrVaultNotEligible, to.Hex(), cfg.Status)
	}
	balance, err := e.state.RouterBalance()
	if err != nil {
		return nil, err
	}
	if balance == nil || balance.Sign() == 0 {
		return big.NewInt(0), nil
	}
	adapter, err := e.adapterFor(to)
	if err != nil {
		return nil, err
	}
	shares, err := adapter.DepositIntoStrategy(balance)
	if err != nil {
		return nil, classifyAdapterErr(to, err)
	}
	if shares == nil || shares.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %s minted no shares", ErrAdapterFailure, to.Hex())
	}
	if err := e.state.SetRouterBalance(big.NewInt(0)); err != nil {
		return nil, err
	}
	if err := e.creditShares(to, shares); err != nil {
		return nil, err
	}
	e.state.AppendEvent(NewSurplusSweptEvent(to, balance, shares))
	return new(big.Int).Set(balance), nil
}
