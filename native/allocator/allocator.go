package allocator

import (
	"errors"
	"fmt"
	"math/big"
)

// TotalBps is the fixed denominator for allocation fractions. A vault whose
// target weight equals TotalBps would receive the entire pool.
const TotalBps = 1_000_000

var (
	errEmptyInput     = errors.New("allocator: input must not be empty")
	errLengthMismatch = errors.New("allocator: input lengths must match")
	errZeroParts      = errors.New("allocator: part count must be positive")
	errWeightTooLarge = fmt.Errorf("allocator: individual weight exceeds %d", TotalBps)
	errNegativeAmount = errors.New("allocator: amounts must not be negative")
)

var bpsDenominator = big.NewInt(TotalBps)

// CurrentAllocations converts per-vault balances into basis-point fractions
// of the total. Integer floor division only loses fraction, so the returned
// allocations always sum to at most TotalBps; the truncation deficit is
// absorbed, never redistributed. A zero total yields all-zero allocations.
func CurrentAllocations(balances []*big.Int) ([]uint64, *big.Int, error) {
	total := big.NewInt(0)
	for _, b := range balances {
		if b == nil || b.Sign() < 0 {
			return nil, nil, errNegativeAmount
		}
		total.Add(total, b)
	}
	allocations := make([]uint64, len(balances))
	if total.Sign() == 0 {
		return allocations, total, nil
	}
	scaled := new(big.Int)
	for i, b := range balances {
		scaled.Mul(b, bpsDenominator)
		scaled.Quo(scaled, total)
		allocations[i] = scaled.Uint64()
	}
	return allocations, total, nil
}

// DeficitsAndSurpluses computes, per vault, how far below (deficit) or above
// (surplus) its target allocation the current allocation sits. When both
// scales sum to exactly TotalBps the total deficit equals the total surplus.
func DeficitsAndSurpluses(currentBps, targetBps []uint64) (deficits, surpluses []uint64, totalDeficit, totalSurplus uint64, err error) {
	if len(currentBps) != len(targetBps) {
		return nil, nil, 0, 0, errLengthMismatch
	}
	deficits = make([]uint64, len(currentBps))
	surpluses = make([]uint64, len(currentBps))
	for i := range currentBps {
		if targetBps[i] > currentBps[i] {
			deficits[i] = targetBps[i] - currentBps[i]
			totalDeficit += deficits[i]
		} else {
			surpluses[i] = currentBps[i] - targetBps[i]
			totalSurplus += surpluses[i]
		}
	}
	return deficits, surpluses, totalDeficit, totalSurplus, nil
}

// SplitEvenly divides total into n parts that sum to total exactly. The
// remainder of the integer division is handed out one unit at a time to the
// first entries in index order.
func SplitEvenly(total *big.Int, n int) ([]*big.Int, error) {
	if n <= 0 {
		return nil, errZeroParts
	}
	if total == nil || total.Sign() < 0 {
		return nil, errNegativeAmount
	}
	parts := big.NewInt(int64(n))
	quotient, remainder := new(big.Int).QuoRem(total, parts, new(big.Int))
	amounts := make([]*big.Int, n)
	rem := remainder.Int64()
	for i := 0; i < n; i++ {
		amounts[i] = new(big.Int).Set(quotient)
		if int64(i) < rem {
			amounts[i].Add(amounts[i], big.NewInt(1))
		}
	}
	return amounts, nil
}

// SplitProportionally distributes total across the supplied weights using
// floor division, returning the per-entry amounts and the undistributed
// remainder. The amounts plus the remainder always sum to total exactly.
// A zero weight sum is degenerate: every amount is zero and the remainder is
// the full total, which the caller must handle via its own fallback.
func SplitProportionally(total *big.Int, weights []uint64) ([]*big.Int, *big.Int, error) {
	if len(weights) == 0 {
		return nil, nil, errEmptyInput
	}
	if total == nil || total.Sign() < 0 {
		return nil, nil, errNegativeAmount
	}
	var weightSum uint64
	for _, w := range weights {
		weightSum += w
	}
	amounts := make([]*big.Int, len(weights))
	if weightSum == 0 {
		for i := range amounts {
			amounts[i] = big.NewInt(0)
		}
		return amounts, new(big.Int).Set(total), nil
	}
	sum := new(big.Int).SetUint64(weightSum)
	distributed := big.NewInt(0)
	for i, w := range weights {
		amount := new(big.Int).SetUint64(w)
		amount.Mul(amount, total)
		amount.Quo(amount, sum)
		amounts[i] = amount
		distributed.Add(distributed, amount)
	}
	remainder := new(big.Int).Sub(total, distributed)
	return amounts, remainder, nil
}

// DistributeRemainder adds the remainder back onto amounts one unit at a
// time, favouring the largest weight first with ties broken by ascending
// index, cycling through all entries until the remainder is exhausted. When
// every weight is zero there is no distribution target and the amounts are
// returned untouched.
func DistributeRemainder(amounts []*big.Int, weights []uint64, remainder *big.Int) ([]*big.Int, error) {
	if len(amounts) != len(weights) {
		return nil, errLengthMismatch
	}
	adjusted := make([]*big.Int, len(amounts))
	for i, a := range amounts {
		if a == nil {
			adjusted[i] = big.NewInt(0)
		} else {
			adjusted[i] = new(big.Int).Set(a)
		}
	}
	if remainder == nil || remainder.Sign() <= 0 {
		return adjusted, nil
	}
	order := weightOrder(weights)
	if len(order) == 0 {
		return adjusted, nil
	}
	one := big.NewInt(1)
	left := new(big.Int).Set(remainder)
	for pos := 0; left.Sign() > 0; pos = (pos + 1) % len(order) {
		adjusted[order[pos]].Add(adjusted[order[pos]], one)
		left.Sub(left, one)
	}
	return adjusted, nil
}

// weightOrder returns the indices of nonzero weights sorted by descending
// weight, ties by ascending index. Insertion sort keeps the tie-break stable
// without an extra comparator allocation.
func weightOrder(weights []uint64) []int {
	order := make([]int, 0, len(weights))
	for i, w := range weights {
		if w == 0 {
			continue
		}
		order = append(order, i)
	}
	for i := 1; i < len(order); i++ {
		for j := i; j > 0; j-- {
			a, b := order[j-1], order[j]
			if weights[a] > weights[b] || (weights[a] == weights[b] && a < b) {
				break
			}
			order[j-1], order[j] = b, a
		}
	}
	return order
}

// ValidateWeights reports whether the weights sum to exactly TotalBps and
// returns the observed sum. An individual weight above TotalBps is a
// configuration error distinct from a sum mismatch and fails outright.
func ValidateWeights(weights []uint64) (bool, uint64, error) {
	var sum uint64
	for _, w := range weights {
		if w > TotalBps {
			return false, 0, errWeightTooLarge
		}
		sum += w
	}
	return sum == TotalBps, sum, nil
}

// OptimalWithdrawal computes per-vault withdrawal amounts such that the
// remaining balances track targetBps as closely as floor division allows,
// drawing preferentially from the vaults furthest above their
// post-withdrawal target. Reports feasible=false when the request exceeds
// the combined balances. The withdrawn sum lands within one unit of
// targetAmount; the final adjustment nudges the largest leg to close the
// rounding gap where its balance allows.
func OptimalWithdrawal(targetAmount *big.Int, balances []*big.Int, targetBps []uint64) ([]*big.Int, bool, error) {
	if len(balances) == 0 {
		return nil, false, errEmptyInput
	}
	if len(balances) != len(targetBps) {
		return nil, false, errLengthMismatch
	}
	if targetAmount == nil || targetAmount.Sign() < 0 {
		return nil, false, errNegativeAmount
	}
	total := big.NewInt(0)
	for _, b := range balances {
		if b == nil || b.Sign() < 0 {
			return nil, false, errNegativeAmount
		}
		total.Add(total, b)
	}
	if targetAmount.Cmp(total) > 0 {
		return nil, false, nil
	}

	// Ideal post-withdrawal balance per vault: targetBps share of what
	// remains. Each vault gives up whatever it holds above that ideal.
	remaining := new(big.Int).Sub(total, targetAmount)
	withdrawals := make([]*big.Int, len(balances))
	withdrawnSum := big.NewInt(0)
	ideal := new(big.Int)
	for i, b := range balances {
		ideal.SetUint64(targetBps[i])
		ideal.Mul(ideal, remaining)
		ideal.Quo(ideal, bpsDenominator)
		w := new(big.Int).Sub(b, ideal)
		if w.Sign() < 0 {
			w.SetInt64(0)
		}
		withdrawals[i] = w
		withdrawnSum.Add(withdrawnSum, w)
	}

	// Floor rounding leaves the sum within len(balances) units of the
	// request; reconcile against vault headroom so the result lands within
	// one unit of targetAmount without over-drawing any vault.
	diff := new(big.Int).Sub(targetAmount, withdrawnSum)
	one := big.NewInt(1)
	for diff.Sign() > 0 {
		moved := false
		for i, b := range balances {
			if diff.Sign() == 0 {
				break
			}
			if withdrawals[i].Cmp(b) < 0 {
				withdrawals[i].Add(withdrawals[i], one)
				diff.Sub(diff, one)
				moved = true
			}
		}
		if !moved {
			break
		}
	}
	if diff.Sign() < 0 {
		// Over-drawn: a single vault far above target can exceed the
		// request on its own. Give back in bulk, largest leg first.
		excess := new(big.Int).Neg(diff)
		for excess.Sign() > 0 {
			largest := -1
			for i := range withdrawals {
				if largest < 0 || withdrawals[i].Cmp(withdrawals[largest]) > 0 {
					largest = i
				}
			}
			if largest < 0 || withdrawals[largest].Sign() == 0 {
				break
			}
			give := new(big.Int).Set(excess)
			if give.Cmp(withdrawals[largest]) > 0 {
				give.Set(withdrawals[largest])
			}
			withdrawals[largest].Sub(withdrawals[largest], give)
			excess.Sub(excess, give)
		}
	}
	return withdrawals, true, nil
}
