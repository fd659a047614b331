package allocator

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func testVaults(n int) []common.Address {
	vaults := make([]common.Address, n)
	for i := range vaults {
		vaults[i] = common.BytesToAddress([]byte{byte(i + 1)})
	}
	return vaults
}

func TestSelectTopUnderallocated(t *testing.T) {
	vaults := testVaults(3)
	current := []uint64{200000, 100000, 150000}
	target := []uint64{500000, 300000, 200000}

	selected, indices, err := SelectTopUnderallocated(vaults, current, target, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Underallocations: 300000, 200000, 50000.
	if indices[0] != 0 || indices[1] != 1 {
		t.Fatalf("indices = %v, want [0 1]", indices)
	}
	if selected[0] != vaults[0] || selected[1] != vaults[1] {
		t.Fatalf("selected = %v", selected)
	}
}

func TestSelectTopOverallocated(t *testing.T) {
	vaults := testVaults(3)
	current := []uint64{500000, 300000, 200000}
	target := []uint64{200000, 300000, 500000}

	selected, indices, err := SelectTopOverallocated(vaults, current, target, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if indices[0] != 0 || selected[0] != vaults[0] {
		t.Fatalf("selected = %v, indices = %v, want vault 0", selected, indices)
	}
}

func TestSelectorDeterminism(t *testing.T) {
	vaults := testVaults(4)
	current := []uint64{100000, 100000, 100000, 100000}
	target := []uint64{300000, 300000, 300000, 100000}

	first, firstIdx, err := SelectTopUnderallocated(vaults, current, target, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, againIdx, err := SelectTopUnderallocated(vaults, current, target, 3)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for j := range first {
			if first[j] != again[j] || firstIdx[j] != againIdx[j] {
				t.Fatalf("selection not deterministic: %v vs %v", firstIdx, againIdx)
			}
		}
	}
	// Equal underallocations keep ascending index order.
	if firstIdx[0] != 0 || firstIdx[1] != 1 || firstIdx[2] != 2 {
		t.Fatalf("tie-break order = %v, want [0 1 2]", firstIdx)
	}
}

func TestSelectorBalancedFallback(t *testing.T) {
	vaults := testVaults(3)
	// Everyone at or above target: fall back to index order.
	current := []uint64{400000, 300000, 300000}
	target := []uint64{400000, 300000, 300000}

	_, indices, err := SelectTopUnderallocated(vaults, current, target, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if indices[0] != 0 || indices[1] != 1 {
		t.Fatalf("balanced fallback = %v, want [0 1]", indices)
	}
}

func TestSelectorInputValidation(t *testing.T) {
	vaults := testVaults(2)
	current := []uint64{500000, 500000}
	target := []uint64{500000, 500000}

	if _, _, err := SelectTopUnderallocated(vaults, current, target, 0); err == nil {
		t.Fatal("expected error for zero count")
	}
	if _, _, err := SelectTopUnderallocated(vaults, current, target, 3); err == nil {
		t.Fatal("expected error for count above vault count")
	}
	if _, _, err := SelectTopUnderallocated(nil, nil, nil, 1); err == nil {
		t.Fatal("expected error for empty input")
	}
	if _, _, err := SelectTopUnderallocated(vaults, current[:1], target, 1); err == nil {
		t.Fatal("expected error for length mismatch")
	}
}
