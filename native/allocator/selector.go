package allocator

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
)

var (
	errZeroCount     = errors.New("allocator: selection count must be positive")
	errCountTooLarge = errors.New("allocator: selection count exceeds vault count")
)

// SelectTopUnderallocated picks the count vaults furthest below their target
// allocation, ordered by descending underallocation with ties broken by
// ascending original index. When every vault sits at or above target the
// first count vaults by index are returned, keeping the balanced case fully
// deterministic. Selection must be reproducible from readable state alone:
// callers and auditors recompute exactly which vault a deposit touches, so
// there is no randomness source and no hidden state.
func SelectTopUnderallocated(vaults []common.Address, currentBps, targetBps []uint64, count int) ([]common.Address, []int, error) {
	return selectTop(vaults, currentBps, targetBps, count, false)
}

// SelectTopOverallocated is the withdrawal-side mirror: it picks the count
// vaults furthest above target, with the same tie-break and balanced-case
// fallback rules as SelectTopUnderallocated.
func SelectTopOverallocated(vaults []common.Address, currentBps, targetBps []uint64, count int) ([]common.Address, []int, error) {
	return selectTop(vaults, currentBps, targetBps, count, true)
}

func selectTop(vaults []common.Address, currentBps, targetBps []uint64, count int, over bool) ([]common.Address, []int, error) {
	if len(vaults) == 0 {
		return nil, nil, errEmptyInput
	}
	if len(vaults) != len(currentBps) || len(vaults) != len(targetBps) {
		return nil, nil, errLengthMismatch
	}
	if count <= 0 {
		return nil, nil, errZeroCount
	}
	if count > len(vaults) {
		return nil, nil, errCountTooLarge
	}

	gaps := make([]uint64, len(vaults))
	allZero := true
	for i := range vaults {
		var gap uint64
		if over {
			if currentBps[i] > targetBps[i] {
				gap = currentBps[i] - targetBps[i]
			}
		} else {
			if targetBps[i] > currentBps[i] {
				gap = targetBps[i] - currentBps[i]
			}
		}
		gaps[i] = gap
		if gap != 0 {
			allZero = false
		}
	}

	indices := make([]int, len(vaults))
	for i := range indices {
		indices[i] = i
	}
	if !allZero {
		// Stable insertion sort by descending gap; equal gaps keep their
		// original ascending-index order.
		for i := 1; i < len(indices); i++ {
			for j := i; j > 0 && gaps[indices[j]] > gaps[indices[j-1]]; j-- {
				indices[j], indices[j-1] = indices[j-1], indices[j]
			}
		}
	}

	selectedIndices := indices[:count]
	selected := make([]common.Address, count)
	picked := make([]int, count)
	for i, idx := range selectedIndices {
		selected[i] = vaults[idx]
		picked[i] = idx
	}
	return selected, picked, nil
}
