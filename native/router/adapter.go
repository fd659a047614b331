package router

import "math/big"

// ConversionAdapter bridges the router and one external strategy vault. It
// converts between the accounting asset and the vault's share token and
// values share positions in accounting-asset terms. Implementations are
// treated as untrusted: any call may fail, and a failure aborts the router
// operation that made it rather than being papered over.
//
// Every new strategy integration implements exactly this surface; the router
// holds adapters behind the interface and never downcasts.
type ConversionAdapter interface {
	// DepositIntoStrategy moves amount of the accounting asset into the
	// underlying vault and returns the shares received. Any allowance the
	// adapter grants the vault must be cleared to zero before returning,
	// regardless of outcome.
	DepositIntoStrategy(amount *big.Int) (*big.Int, error)

	// WithdrawFromStrategy redeems shareAmount of vault shares and returns
	// the accounting-asset amount received. Same allowance-clearing
	// obligation as DepositIntoStrategy.
	WithdrawFromStrategy(shareAmount *big.Int) (*big.Int, error)

	// PreviewDepositIntoStrategy estimates the shares a deposit of amount
	// would mint, without side effects.
	PreviewDepositIntoStrategy(amount *big.Int) (*big.Int, error)

	// PreviewWithdrawFromStrategy estimates the shares that must be
	// redeemed to free amount of the accounting asset, without side
	// effects.
	PreviewWithdrawFromStrategy(amount *big.Int) (*big.Int, error)

	// StrategyShareValueInDStable reports the current accounting-asset
	// value of shareAmount. Implementations prefer a conservative
	// preview-redeem valuation, fall back to a pure unit conversion, and
	// surface ErrValuationUnavailable when both fail. Returning a stale or
	// zero value instead would corrupt every allocation computation
	// downstream.
	StrategyShareValueInDStable(shareAmount *big.Int) (*big.Int, error)
}
