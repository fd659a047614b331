package router

import "errors"

// The closed set of router failure kinds. Every error returned by the engine
// wraps exactly one of these sentinels, so callers branch with errors.Is
// instead of matching message strings.
var (
	// ErrConfigInvalid marks admin mistakes: weights not summing to 100%,
	// duplicate vault registration, zero addresses, weights above the
	// maximum. Nothing is mutated.
	ErrConfigInvalid = errors.New("router: invalid vault configuration")
	// ErrVaultNotEligible marks routing to or from a vault whose status
	// forbids the operation, or selection inputs that cannot be satisfied.
	ErrVaultNotEligible = errors.New("router: vault not eligible")
	// ErrInsufficientLiquidity marks a withdrawal no single eligible vault
	// can supply (fast path) or that exceeds total system liquidity
	// (solver path).
	ErrInsufficientLiquidity = errors.New("router: insufficient liquidity")
	// ErrSlippageExceeded marks realized output below the caller's minimum
	// or a rebalance shortfall beyond the configured dust tolerance.
	ErrSlippageExceeded = errors.New("router: slippage exceeded")
	// ErrAdapterFailure marks a revert or misbehaviour inside a conversion
	// adapter or its wrapped vault. The cause is wrapped so the failing
	// vault stays attributable.
	ErrAdapterFailure = errors.New("router: adapter failure")
	// ErrReentrant marks a nested re-entry into an in-progress vault
	// exchange.
	ErrReentrant = errors.New("router: reentrant exchange")
	// ErrAlreadyImpaired marks a second loss acknowledgement on a vault
	// that is already impaired.
	ErrAlreadyImpaired = errors.New("router: vault already impaired")
	// ErrNotImpaired marks a forced removal of a vault whose loss has not
	// been acknowledged.
	ErrNotImpaired = errors.New("router: vault not impaired")
	// ErrValuationUnavailable marks an adapter that can neither preview
	// nor unit-convert a share position.
	ErrValuationUnavailable = errors.New("router: valuation unavailable")
)
