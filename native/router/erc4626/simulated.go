package erc4626

import (
	"errors"
	"math/big"
	"sync"
)

// SimulatedVault is an in-process ERC4626-style vault with standard
// proportional share math. It backs the local daemon profile and tests; a
// production deployment replaces it with a vault bound to a real strategy.
type SimulatedVault struct {
	mu          sync.Mutex
	totalAssets *big.Int
	totalShares *big.Int

	depositsDisabled bool
	previewsDisabled bool
}

var (
	errDepositsDisabled = errors.New("erc4626: deposits disabled")
	errPreviewsDisabled = errors.New("erc4626: previews disabled")
	errVaultEmpty       = errors.New("erc4626: vault is empty")
	errAmountInvalid    = errors.New("erc4626: amount must be positive")
)

// NewSimulatedVault constructs an empty vault. The first deposit mints
// shares one-to-one with assets.
func NewSimulatedVault() *SimulatedVault {
	return &SimulatedVault{
		totalAssets: big.NewInt(0),
		totalShares: big.NewInt(0),
	}
}

// TotalAssets reports the assets currently held by the vault.
func (v *SimulatedVault) TotalAssets() *big.Int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return new(big.Int).Set(v.totalAssets)
}

// Accrue adds yield: assets grow while shares stay fixed, raising the share
// price.
func (v *SimulatedVault) Accrue(assets *big.Int) {
	if assets == nil || assets.Sign() <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.totalAssets.Add(v.totalAssets, assets)
}

// Slash removes assets without burning shares, modelling a strategy loss.
// The asset total floors at zero.
func (v *SimulatedVault) Slash(assets *big.Int) {
	if assets == nil || assets.Sign() <= 0 {
		return
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.totalAssets.Sub(v.totalAssets, assets)
	if v.totalAssets.Sign() < 0 {
		v.totalAssets.SetInt64(0)
	}
}

// DisableDeposits makes Deposit fail until re-enabled.
func (v *SimulatedVault) DisableDeposits(disabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.depositsDisabled = disabled
}

// DisablePreviews makes the preview and convert paths fail until re-enabled.
func (v *SimulatedVault) DisablePreviews(disabled bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.previewsDisabled = disabled
}

// sharesForAssets floors, matching ERC4626 convertToShares.
func (v *SimulatedVault) sharesForAssets(assets *big.Int) *big.Int {
	if v.totalShares.Sign() == 0 || v.totalAssets.Sign() == 0 {
		return new(big.Int).Set(assets)
	}
	out := new(big.Int).Mul(assets, v.totalShares)
	return out.Quo(out, v.totalAssets)
}

// assetsForShares floors, matching ERC4626 convertToAssets.
func (v *SimulatedVault) assetsForShares(shares *big.Int) *big.Int {
	if v.totalShares.Sign() == 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(shares, v.totalAssets)
	return out.Quo(out, v.totalShares)
}

// Deposit mints shares for the supplied assets.
func (v *SimulatedVault) Deposit(assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, errAmountInvalid
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.depositsDisabled {
		return nil, errDepositsDisabled
	}
	shares := v.sharesForAssets(assets)
	if shares.Sign() <= 0 {
		return nil, errVaultEmpty
	}
	v.totalAssets.Add(v.totalAssets, assets)
	v.totalShares.Add(v.totalShares, shares)
	return shares, nil
}

// Redeem burns shares and pays out the proportional assets.
func (v *SimulatedVault) Redeem(shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() <= 0 {
		return nil, errAmountInvalid
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if shares.Cmp(v.totalShares) > 0 {
		return nil, errVaultEmpty
	}
	assets := v.assetsForShares(shares)
	v.totalAssets.Sub(v.totalAssets, assets)
	v.totalShares.Sub(v.totalShares, shares)
	return assets, nil
}

// PreviewDeposit quotes the shares Deposit would mint.
func (v *SimulatedVault) PreviewDeposit(assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, errAmountInvalid
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.previewsDisabled {
		return nil, errPreviewsDisabled
	}
	return v.sharesForAssets(assets), nil
}

// PreviewWithdraw quotes the shares that must be redeemed to free the given
// assets, rounding up.
func (v *SimulatedVault) PreviewWithdraw(assets *big.Int) (*big.Int, error) {
	if assets == nil || assets.Sign() <= 0 {
		return nil, errAmountInvalid
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.previewsDisabled {
		return nil, errPreviewsDisabled
	}
	if v.totalAssets.Sign() == 0 || v.totalShares.Sign() == 0 {
		return nil, errVaultEmpty
	}
	num := new(big.Int).Mul(assets, v.totalShares)
	num.Add(num, new(big.Int).Sub(v.totalAssets, big.NewInt(1)))
	return num.Quo(num, v.totalAssets), nil
}

// PreviewRedeem quotes the assets Redeem would pay out.
func (v *SimulatedVault) PreviewRedeem(shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() < 0 {
		return nil, errAmountInvalid
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.previewsDisabled {
		return nil, errPreviewsDisabled
	}
	return v.assetsForShares(shares), nil
}

// ConvertToAssets values shares at the current share price.
func (v *SimulatedVault) ConvertToAssets(shares *big.Int) (*big.Int, error) {
	if shares == nil || shares.Sign() < 0 {
		return nil, errAmountInvalid
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.previewsDisabled {
		return nil, errPreviewsDisabled
	}
	return v.assetsForShares(shares), nil
}
