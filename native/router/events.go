package router

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"dstakerouter/core/types"
)

const (
	EventTypeVaultAdded        = "router.vault.added"
	EventTypeVaultUpdated      = "router.vault.updated"
	EventTypeVaultRemoved      = "router.vault.removed"
	EventTypeVaultStatus       = "router.vault.status"
	EventTypeDepositRouted     = "router.deposit.routed"
	EventTypeWithdrawRouted    = "router.withdraw.routed"
	EventTypeSolverDeposit     = "router.solver.deposit"
	EventTypeSolverWithdraw    = "router.solver.withdraw"
	EventTypeRebalanceExecuted = "router.rebalance.executed"
	EventTypeLossAcknowledged  = "router.loss.acknowledged"
	EventTypeVaultForceRemoved = "router.vault.force_removed"
	EventTypeDustSwept         = "router.dust.swept"
	EventTypeSurplusSwept      = "router.surplus.swept"
	EventTypeParamUpdated      = "router.param.updated"
)

func amountAttr(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// NewVaultAddedEvent records a freshly registered vault configuration.
func NewVaultAddedEvent(cfg *VaultConfig) *types.Event {
	attrs := make(map[string]string)
	if cfg != nil {
		attrs["vault"] = cfg.Vault.Hex()
		attrs["targetBps"] = strconv.FormatUint(cfg.TargetBps, 10)
		attrs["status"] = cfg.Status.String()
	}
	return &types.Event{Type: EventTypeVaultAdded, Attributes: attrs}
}

// NewVaultUpdatedEvent records a weight change with its before/after values.
func NewVaultUpdatedEvent(vault common.Address, oldBps, newBps uint64) *types.Event {
	return &types.Event{Type: EventTypeVaultUpdated, Attributes: map[string]string{
		"vault":        vault.Hex(),
		"oldTargetBps": strconv.FormatUint(oldBps, 10),
		"newTargetBps": strconv.FormatUint(newBps, 10),
	}}
}

// NewVaultRemovedEvent records a clean (non-forced) vault removal.
func NewVaultRemovedEvent(vault common.Address, targetBps uint64) *types.Event {
	return &types.Event{Type: EventTypeVaultRemoved, Attributes: map[string]string{
		"vault":     vault.Hex(),
		"targetBps": strconv.FormatUint(targetBps, 10),
	}}
}

// NewVaultStatusEvent records an admin status transition with before/after
// values.
func NewVaultStatusEvent(vault common.Address, oldStatus, newStatus VaultStatus) *types.Event {
	return &types.Event{Type: EventTypeVaultStatus, Attributes: map[string]string{
		"vault":     vault.Hex(),
		"oldStatus": oldStatus.String(),
		"newStatus": newStatus.String(),
	}}
}

// NewDepositRoutedEvent records a routed deposit and the shares it minted.
func NewDepositRoutedEvent(vault common.Address, amount, shares *big.Int) *types.Event {
	return &types.Event{Type: EventTypeDepositRouted, Attributes: map[string]string{
		"vault":  vault.Hex(),
		"amount": amountAttr(amount),
		"shares": amountAttr(shares),
	}}
}

// NewWithdrawRoutedEvent records a routed withdrawal and the shares redeemed
// to serve it.
func NewWithdrawRoutedEvent(vault common.Address, amount, shares *big.Int) *types.Event {
	return &types.Event{Type: EventTypeWithdrawRouted, Attributes: map[string]string{
		"vault":  vault.Hex(),
		"amount": amountAttr(amount),
		"shares": amountAttr(shares),
	}}
}

// NewSolverDepositEvent records one leg of a solver-mode deposit.
func NewSolverDepositEvent(vault common.Address, amount, shares *big.Int) *types.Event {
	return &types.Event{Type: EventTypeSolverDeposit, Attributes: map[string]string{
		"vault":  vault.Hex(),
		"amount": amountAttr(amount),
		"shares": amountAttr(shares),
	}}
}

// NewSolverWithdrawEvent records one leg of a solver-mode withdrawal.
func NewSolverWithdrawEvent(vault common.Address, amount, shares *big.Int) *types.Event {
	return &types.Event{Type: EventTypeSolverWithdraw, Attributes: map[string]string{
		"vault":  vault.Hex(),
		"amount": amountAttr(amount),
		"shares": amountAttr(shares),
	}}
}

// NewRebalanceEvent records a vault-to-vault exchange: shares redeemed from
// the source, value moved, and shares minted at the destination.
func NewRebalanceEvent(from, to common.Address, fromShares, value, toShares *big.Int, external bool) *types.Event {
	return &types.Event{Type: EventTypeRebalanceExecuted, Attributes: map[string]string{
		"fromVault":  from.Hex(),
		"toVault":    to.Hex(),
		"fromShares": amountAttr(fromShares),
		"value":      amountAttr(value),
		"toShares":   amountAttr(toShares),
		"external":   strconv.FormatBool(external),
	}}
}

// NewLossAcknowledgedEvent records an impairment and the value observed at
// acknowledgement time.
func NewLossAcknowledgedEvent(vault common.Address, lossValue, observedValue *big.Int) *types.Event {
	return &types.Event{Type: EventTypeLossAcknowledged, Attributes: map[string]string{
		"vault":         vault.Hex(),
		"lossValue":     amountAttr(lossValue),
		"observedValue": amountAttr(observedValue),
	}}
}

// NewVaultForceRemovedEvent records a forced removal and the shortfall it
// wrote off.
func NewVaultForceRemovedEvent(vault common.Address, writeOff, shortfallTotal *big.Int) *types.Event {
	return &types.Event{Type: EventTypeVaultForceRemoved, Attributes: map[string]string{
		"vault":          vault.Hex(),
		"writeOff":       amountAttr(writeOff),
		"shortfallTotal": amountAttr(shortfallTotal),
	}}
}

// NewDustSweptEvent records residual shares moved out of a vault ahead of
// its removal.
func NewDustSweptEvent(from, to common.Address, shares, value, toShares *big.Int) *types.Event {
	return &types.Event{Type: EventTypeDustSwept, Attributes: map[string]string{
		"fromVault": from.Hex(),
		"toVault":   to.Hex(),
		"shares":    amountAttr(shares),
		"value":     amountAttr(value),
		"toShares":  amountAttr(toShares),
	}}
}

// NewSurplusSweptEvent records accounting-asset balance swept off the router
// into a vault.
func NewSurplusSweptEvent(to common.Address, amount, shares *big.Int) *types.Event {
	return &types.Event{Type: EventTypeSurplusSwept, Attributes: map[string]string{
		"toVault": to.Hex(),
		"amount":  amountAttr(amount),
		"shares":  amountAttr(shares),
	}}
}

// NewParamUpdatedEvent records an operator parameter change with before and
// after values.
func NewParamUpdatedEvent(name, oldValue, newValue string) *types.Event {
	return &types.Event{Type: EventTypeParamUpdated, Attributes: map[string]string{
		"param": name,
		"old":   oldValue,
		"new":   newValue,
	}}
}
