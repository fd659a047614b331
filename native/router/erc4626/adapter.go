package erc4626

import (
	"errors"
	"fmt"
	"math/big"

	"dstakerouter/native/router"
)

// Vault is the strategy-vault surface the adapter drives: the deposit,
// redemption and preview entry points of an ERC4626-style tokenized vault.
type Vault interface {
	Deposit(assets *big.Int) (*big.Int, error)
	Redeem(shares *big.Int) (*big.Int, error)
	PreviewDeposit(assets *big.Int) (*big.Int, error)
	PreviewWithdraw(assets *big.Int) (*big.Int, error)
	PreviewRedeem(shares *big.Int) (*big.Int, error)
	ConvertToAssets(shares *big.Int) (*big.Int, error)
}

var errNilVault = errors.New("erc4626: nil vault")

// Adapter adapts one ERC4626-style vault to the router's conversion
// interface. It holds no state of its own; every call passes straight
// through to the vault.
type Adapter struct {
	vault Vault
}

// NewAdapter wraps a strategy vault.
func NewAdapter(vault Vault) (*Adapter, error) {
	if vault == nil {
		return nil, errNilVault
	}
	return &Adapter{vault: vault}, nil
}

// DepositIntoStrategy deposits accounting assets and reports minted shares.
func (a *Adapter) DepositIntoStrategy(amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("erc4626: deposit amount must be positive")
	}
	return a.vault.Deposit(amount)
}

// WithdrawFromStrategy redeems shares and reports the assets received.
func (a *Adapter) WithdrawFromStrategy(shareAmount *big.Int) (*big.Int, error) {
	if shareAmount == nil || shareAmount.Sign() <= 0 {
		return nil, fmt.Errorf("erc4626: share amount must be positive")
	}
	return a.vault.Redeem(shareAmount)
}

// PreviewDepositIntoStrategy quotes the shares a deposit would mint.
func (a *Adapter) PreviewDepositIntoStrategy(amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("erc4626: deposit amount must be positive")
	}
	return a.vault.PreviewDeposit(amount)
}

// PreviewWithdrawFromStrategy quotes the shares that must be redeemed to
// free the given asset amount.
func (a *Adapter) PreviewWithdrawFromStrategy(amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("erc4626: withdraw amount must be positive")
	}
	return a.vault.PreviewWithdraw(amount)
}

// StrategyShareValueInDStable values a share position in accounting assets.
// PreviewRedeem is the primary source since it reflects any exit penalty;
// ConvertToAssets is the fallback for vaults whose preview path is down. If
// neither quote is available the valuation is reported unavailable rather
// than guessed.
func (a *Adapter) StrategyShareValueInDStable(shareAmount *big.Int) (*big.Int, error) {
	if shareAmount == nil || shareAmount.Sign() < 0 {
		return nil, fmt.Errorf("erc4626: share amount must not be negative")
	}
	if shareAmount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	if value, err := a.vault.PreviewRedeem(shareAmount); err == nil && value != nil {
		return value, nil
	}
	if value, err := a.vault.ConvertToAssets(shareAmount); err == nil && value != nil {
		return value, nil
	}
	return nil, router.ErrValuationUnavailable
}
