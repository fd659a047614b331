package router

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"dstakerouter/native/allocator"
)

// VaultStatus tracks where a strategy vault sits in its lifecycle.
type VaultStatus uint8

const (
	// VaultStatusActive vaults are eligible for deposit and withdrawal
	// routing.
	VaultStatusActive VaultStatus = iota
	// VaultStatusSuspended vaults are excluded from routing but their
	// balances still count toward system totals.
	VaultStatusSuspended
	// VaultStatusImpaired vaults have had a loss acknowledged. They are
	// excluded from totals and new inflows, remain drainable through the
	// solver withdrawal path, and are eligible for forced removal.
	VaultStatusImpaired
)

func (s VaultStatus) String() string {
	switch s {
	case VaultStatusActive:
		return "active"
	case VaultStatusSuspended:
		return "suspended"
	case VaultStatusImpaired:
		return "impaired"
	default:
		return "unknown"
	}
}

// Valid reports whether the status is one of the defined lifecycle states.
func (s VaultStatus) Valid() bool {
	return s <= VaultStatusImpaired
}

// VaultConfig is the router's record for one registered strategy vault. The
// router owns these entries exclusively; vault balances live inside the
// underlying yield vaults and are only reachable through the vault's adapter.
type VaultConfig struct {
	Vault     common.Address
	TargetBps uint64
	Status    VaultStatus
	// ImpairedValue is the vault's accounting-asset value observed when its
	// loss was acknowledged. Zero unless the vault is impaired. Used as the
	// write-off fallback if the adapter can no longer value the position at
	// forced removal.
	ImpairedValue *big.Int
}

// Clone deep-copies the config so callers cannot mutate stored state through
// shared big.Int references.
func (c *VaultConfig) Clone() *VaultConfig {
	if c == nil {
		return nil
	}
	clone := &VaultConfig{
		Vault:     c.Vault,
		TargetBps: c.TargetBps,
		Status:    c.Status,
	}
	if c.ImpairedValue != nil {
		clone.ImpairedValue = new(big.Int).Set(c.ImpairedValue)
	}
	return clone
}

// AllocationSnapshot captures the live allocation picture at a point in time.
// Snapshots are always recomputed fresh from adapter queries and never
// cached: a stale snapshot would silently misroute value.
type AllocationSnapshot struct {
	Vaults     []common.Address
	Balances   []*big.Int
	CurrentBps []uint64
	TargetBps  []uint64
	TotalValue *big.Int
}

// TotalBps re-exports the allocation denominator so callers of the router
// package do not need to import the allocator for the constant.
const TotalBps = allocator.TotalBps
