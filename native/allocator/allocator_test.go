package allocator

import (
	"errors"
	"math/big"
	"testing"
)

func bigSlice(values ...int64) []*big.Int {
	out := make([]*big.Int, len(values))
	for i, v := range values {
		out[i] = big.NewInt(v)
	}
	return out
}

func sumBig(values []*big.Int) *big.Int {
	total := big.NewInt(0)
	for _, v := range values {
		total.Add(total, v)
	}
	return total
}

func TestCurrentAllocations(t *testing.T) {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	balances := make([]*big.Int, 3)
	for i, v := range []int64{25, 35, 40} {
		balances[i] = new(big.Int).Mul(big.NewInt(v), scale)
	}
	allocations, total, err := CurrentAllocations(balances)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []uint64{250000, 350000, 400000}
	for i := range want {
		if allocations[i] != want[i] {
			t.Fatalf("allocation[%d] = %d, want %d", i, allocations[i], want[i])
		}
	}
	wantTotal := new(big.Int).Mul(big.NewInt(100), scale)
	if total.Cmp(wantTotal) != 0 {
		t.Fatalf("total = %s, want %s", total, wantTotal)
	}
}

func TestCurrentAllocationsZeroTotal(t *testing.T) {
	allocations, total, err := CurrentAllocations(bigSlice(0, 0, 0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if total.Sign() != 0 {
		t.Fatalf("total = %s, want 0", total)
	}
	for i, a := range allocations {
		if a != 0 {
			t.Fatalf("allocation[%d] = %d, want 0", i, a)
		}
	}
}

func TestCurrentAllocationsTruncationBound(t *testing.T) {
	cases := [][]*big.Int{
		bigSlice(1, 1, 1),
		bigSlice(7, 11, 13),
		bigSlice(1, 999999, 3),
		bigSlice(333333, 333333, 333334),
	}
	for _, balances := range cases {
		allocations, _, err := CurrentAllocations(balances)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		var sum uint64
		for _, a := range allocations {
			sum += a
		}
		if sum > TotalBps {
			t.Fatalf("allocations sum %d exceeds %d for %v", sum, TotalBps, balances)
		}
	}
}

func TestDeficitsAndSurpluses(t *testing.T) {
	current := []uint64{200000, 100000, 150000}
	target := []uint64{500000, 300000, 200000}
	deficits, surpluses, totalDeficit, totalSurplus, err := DeficitsAndSurpluses(current, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantDeficits := []uint64{300000, 200000, 50000}
	for i := range wantDeficits {
		if deficits[i] != wantDeficits[i] {
			t.Fatalf("deficit[%d] = %d, want %d", i, deficits[i], wantDeficits[i])
		}
		if surpluses[i] != 0 {
			t.Fatalf("surplus[%d] = %d, want 0", i, surpluses[i])
		}
	}
	if totalDeficit != 550000 || totalSurplus != 0 {
		t.Fatalf("totals = (%d, %d), want (550000, 0)", totalDeficit, totalSurplus)
	}
}

func TestDeficitSurplusBalance(t *testing.T) {
	current := []uint64{400000, 350000, 250000}
	target := []uint64{250000, 250000, 500000}
	_, _, totalDeficit, totalSurplus, err := DeficitsAndSurpluses(current, target)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if totalDeficit != totalSurplus {
		t.Fatalf("deficit %d != surplus %d with balanced scales", totalDeficit, totalSurplus)
	}
}

func TestSplitEvenly(t *testing.T) {
	amounts, err := SplitEvenly(big.NewInt(103), 4)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int64{26, 26, 26, 25}
	for i := range want {
		if amounts[i].Int64() != want[i] {
			t.Fatalf("amount[%d] = %s, want %d", i, amounts[i], want[i])
		}
	}
}

func TestSplitEvenlyConservation(t *testing.T) {
	for _, tc := range []struct {
		total int64
		n     int
	}{
		{0, 1}, {1, 7}, {103, 4}, {1000, 3}, {999999, 17},
	} {
		amounts, err := SplitEvenly(big.NewInt(tc.total), tc.n)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sumBig(amounts).Int64() != tc.total {
			t.Fatalf("split of %d into %d parts sums to %s", tc.total, tc.n, sumBig(amounts))
		}
	}
}

func TestSplitEvenlyZeroParts(t *testing.T) {
	if _, err := SplitEvenly(big.NewInt(10), 0); err == nil {
		t.Fatal("expected error for zero parts")
	}
}

func TestSplitProportionally(t *testing.T) {
	amounts, remainder, err := SplitProportionally(big.NewInt(1000), []uint64{100, 200, 300})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []int64{166, 333, 500}
	for i := range want {
		if amounts[i].Int64() != want[i] {
			t.Fatalf("amount[%d] = %s, want %d", i, amounts[i], want[i])
		}
	}
	if remainder.Int64() != 1 {
		t.Fatalf("remainder = %s, want 1", remainder)
	}
	total := sumBig(amounts)
	total.Add(total, remainder)
	if total.Int64() != 1000 {
		t.Fatalf("amounts plus remainder = %s, want 1000", total)
	}
}

func TestSplitProportionallyZeroWeights(t *testing.T) {
	amounts, remainder, err := SplitProportionally(big.NewInt(500), []uint64{0, 0})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, a := range amounts {
		if a.Sign() != 0 {
			t.Fatalf("amount[%d] = %s, want 0", i, a)
		}
	}
	if remainder.Int64() != 500 {
		t.Fatalf("remainder = %s, want 500", remainder)
	}
}

func TestDistributeRemainder(t *testing.T) {
	amounts := bigSlice(166, 333, 500)
	adjusted, err := DistributeRemainder(amounts, []uint64{100, 200, 300}, big.NewInt(1))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Largest weight gets the first remainder unit.
	want := []int64{166, 333, 501}
	for i := range want {
		if adjusted[i].Int64() != want[i] {
			t.Fatalf("adjusted[%d] = %s, want %d", i, adjusted[i], want[i])
		}
	}
}

func TestDistributeRemainderCycles(t *testing.T) {
	amounts := bigSlice(0, 0, 0)
	adjusted, err := DistributeRemainder(amounts, []uint64{300, 300, 100}, big.NewInt(7))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Order per unit: idx0, idx1 (tie by index), idx2, then cycle.
	want := []int64{3, 2, 2}
	for i := range want {
		if adjusted[i].Int64() != want[i] {
			t.Fatalf("adjusted[%d] = %s, want %d", i, adjusted[i], want[i])
		}
	}
	if sumBig(adjusted).Int64() != 7 {
		t.Fatalf("adjusted sums to %s, want 7", sumBig(adjusted))
	}
}

func TestDistributeRemainderAllZeroWeights(t *testing.T) {
	amounts := bigSlice(5, 5)
	adjusted, err := DistributeRemainder(amounts, []uint64{0, 0}, big.NewInt(3))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range adjusted {
		if adjusted[i].Cmp(amounts[i]) != 0 {
			t.Fatalf("adjusted[%d] = %s, want untouched %s", i, adjusted[i], amounts[i])
		}
	}
}

func TestValidateWeights(t *testing.T) {
	ok, sum, err := ValidateWeights([]uint64{250000, 250000, 500000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !ok || sum != 1000000 {
		t.Fatalf("got (%v, %d), want (true, 1000000)", ok, sum)
	}

	ok, sum, err = ValidateWeights([]uint64{250000, 250000, 400000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok || sum != 900000 {
		t.Fatalf("got (%v, %d), want (false, 900000)", ok, sum)
	}

	if _, _, err := ValidateWeights([]uint64{1500000}); !errors.Is(err, errWeightTooLarge) {
		t.Fatalf("expected weight-too-large error, got %v", err)
	}
}

func TestOptimalWithdrawal(t *testing.T) {
	balances := bigSlice(5000, 3000, 2000)
	targets := []uint64{500000, 300000, 200000}
	withdrawals, feasible, err := OptimalWithdrawal(big.NewInt(1000), balances, targets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !feasible {
		t.Fatal("expected feasible withdrawal")
	}
	total := sumBig(withdrawals)
	diff := new(big.Int).Sub(total, big.NewInt(1000))
	if diff.CmpAbs(big.NewInt(1)) > 0 {
		t.Fatalf("withdrawn %s, want within 1 of 1000", total)
	}
	for i, w := range withdrawals {
		if w.Cmp(balances[i]) > 0 {
			t.Fatalf("withdrawal[%d] = %s exceeds balance %s", i, w, balances[i])
		}
	}
}

func TestOptimalWithdrawalDrawsFromOverallocated(t *testing.T) {
	// Vault 0 holds everything; it must fund the withdrawal.
	balances := bigSlice(9000, 500, 500)
	targets := []uint64{500000, 300000, 200000}
	withdrawals, feasible, err := OptimalWithdrawal(big.NewInt(2000), balances, targets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !feasible {
		t.Fatal("expected feasible withdrawal")
	}
	if withdrawals[0].Cmp(withdrawals[1]) <= 0 || withdrawals[0].Cmp(withdrawals[2]) <= 0 {
		t.Fatalf("expected vault 0 to fund the bulk, got %v", withdrawals)
	}
}

func TestOptimalWithdrawalInfeasible(t *testing.T) {
	_, feasible, err := OptimalWithdrawal(big.NewInt(10001), bigSlice(5000, 5000), []uint64{500000, 500000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if feasible {
		t.Fatal("expected infeasible withdrawal")
	}
}
