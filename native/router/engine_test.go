package router

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"dstakerouter/core/types"
	nativecommon "dstakerouter/native/common"
)

type mockState struct {
	vaults    []common.Address
	configs   map[common.Address]*VaultConfig
	shares    map[common.Address]*big.Int
	shortfall *big.Int
	balance   *big.Int
	events    []*types.Event
}

func newMockState() *mockState {
	return &mockState{
		configs:   make(map[common.Address]*VaultConfig),
		shares:    make(map[common.Address]*big.Int),
		shortfall: big.NewInt(0),
		balance:   big.NewInt(0),
	}
}

func (m *mockState) VaultList() ([]common.Address, error) {
	return append([]common.Address(nil), m.vaults...), nil
}

func (m *mockState) GetVaultConfig(vault common.Address) (*VaultConfig, bool, error) {
	cfg, ok := m.configs[vault]
	if !ok {
		return nil, false, nil
	}
	return cfg.Clone(), true, nil
}

func (m *mockState) PutVaultConfig(cfg *VaultConfig) error {
	if _, ok := m.configs[cfg.Vault]; !ok {
		m.vaults = append(m.vaults, cfg.Vault)
	}
	m.configs[cfg.Vault] = cfg.Clone()
	return nil
}

func (m *mockState) DeleteVaultConfig(vault common.Address) error {
	delete(m.configs, vault)
	filtered := m.vaults[:0]
	for _, v := range m.vaults {
		if v != vault {
			filtered = append(filtered, v)
		}
	}
	m.vaults = filtered
	return nil
}

func (m *mockState) ShareBalance(vault common.Address) (*big.Int, error) {
	if balance, ok := m.shares[vault]; ok {
		return new(big.Int).Set(balance), nil
	}
	return big.NewInt(0), nil
}

func (m *mockState) SetShareBalance(vault common.Address, shares *big.Int) error {
	m.shares[vault] = new(big.Int).Set(shares)
	return nil
}

func (m *mockState) Shortfall() (*big.Int, error) {
	return new(big.Int).Set(m.shortfall), nil
}

func (m *mockState) AddShortfall(delta *big.Int) error {
	m.shortfall.Add(m.shortfall, delta)
	return nil
}

func (m *mockState) RouterBalance() (*big.Int, error) {
	return new(big.Int).Set(m.balance), nil
}

func (m *mockState) SetRouterBalance(amount *big.Int) error {
	m.balance = new(big.Int).Set(amount)
	return nil
}

func (m *mockState) AppendEvent(evt *types.Event) {
	m.events = append(m.events, evt)
}

func (m *mockState) eventsOfType(eventType string) []*types.Event {
	var out []*types.Event
	for _, evt := range m.events {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

// mockAdapter mints shares one-to-one with assets and values shares at
// valueNum/valueDen (default par).
type mockAdapter struct {
	valueNum int64
	valueDen int64

	depositErr  error
	withdrawErr error
	previewErr  error
	valueErr    error
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{valueNum: 1, valueDen: 1}
}

func (a *mockAdapter) value(shares *big.Int) *big.Int {
	out := new(big.Int).Mul(shares, big.NewInt(a.valueNum))
	return out.Quo(out, big.NewInt(a.valueDen))
}

func (a *mockAdapter) DepositIntoStrategy(amount *big.Int) (*big.Int, error) {
	if a.depositErr != nil {
		return nil, a.depositErr
	}
	return new(big.Int).Set(amount), nil
}

func (a *mockAdapter) WithdrawFromStrategy(shareAmount *big.Int) (*big.Int, error) {
	if a.withdrawErr != nil {
		return nil, a.withdrawErr
	}
	return a.value(shareAmount), nil
}

func (a *mockAdapter) PreviewDepositIntoStrategy(amount *big.Int) (*big.Int, error) {
	if a.previewErr != nil {
		return nil, a.previewErr
	}
	return new(big.Int).Set(amount), nil
}

func (a *mockAdapter) PreviewWithdrawFromStrategy(amount *big.Int) (*big.Int, error) {
	if a.previewErr != nil {
		return nil, a.previewErr
	}
	num := new(big.Int).Mul(amount, big.NewInt(a.valueDen))
	num.Add(num, big.NewInt(a.valueNum-1))
	return num.Quo(num, big.NewInt(a.valueNum)), nil
}

func (a *mockAdapter) StrategyShareValueInDStable(shareAmount *big.Int) (*big.Int, error) {
	if a.valueErr != nil {
		return nil, a.valueErr
	}
	return a.value(shareAmount), nil
}

var (
	vaultA = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	vaultB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	vaultC = common.HexToAddress("0x00000000000000000000000000000000000000c3")
)

func newTestEngine(t *testing.T) (*Engine, *mockState) {
	t.Helper()
	engine := NewEngine()
	state := newMockState()
	engine.SetState(state)
	return engine, state
}

// setupThreeVaults registers A/B/C at 50/30/20 and returns their adapters.
func setupThreeVaults(t *testing.T, engine *Engine) map[common.Address]*mockAdapter {
	t.Helper()
	adapters := map[common.Address]*mockAdapter{
		vaultA: newMockAdapter(),
		vaultB: newMockAdapter(),
		vaultC: newMockAdapter(),
	}
	err := engine.SetVaultConfigs([]VaultEntry{
		{Config: VaultConfig{Vault: vaultA, TargetBps: 500_000, Status: VaultStatusActive}, Adapter: adapters[vaultA]},
		{Config: VaultConfig{Vault: vaultB, TargetBps: 300_000, Status: VaultStatusActive}, Adapter: adapters[vaultB]},
		{Config: VaultConfig{Vault: vaultC, TargetBps: 200_000, Status: VaultStatusActive}, Adapter: adapters[vaultC]},
	})
	if err != nil {
		t.Fatalf("set vault configs: %v", err)
	}
	return adapters
}

func TestAddVaultConfigFirstVaultFullWeight(t *testing.T) {
	engine, state := newTestEngine(t)
	if err := engine.AddVaultConfig(vaultA, newMockAdapter(), TotalBps, VaultStatusActive); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := engine.AddVaultConfig(vaultA, newMockAdapter(), 0, VaultStatusActive); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("duplicate add should fail with ErrConfigInvalid, got %v", err)
	}
	if got := len(state.eventsOfType(EventTypeVaultAdded)); got != 1 {
		t.Fatalf("expected 1 added event, got %d", got)
	}
}

func TestAddVaultConfigRejectsPartialWeight(t *testing.T) {
	engine, _ := newTestEngine(t)
	err := engine.AddVaultConfig(vaultA, newMockAdapter(), 500_000, VaultStatusActive)
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("half-weight single vault should fail, got %v", err)
	}
}

func TestSetVaultConfigsRejectsBadWeightSum(t *testing.T) {
	engine, _ := newTestEngine(t)
	err := engine.SetVaultConfigs([]VaultEntry{
		{Config: VaultConfig{Vault: vaultA, TargetBps: 500_000, Status: VaultStatusActive}, Adapter: newMockAdapter()},
		{Config: VaultConfig{Vault: vaultB, TargetBps: 400_000, Status: VaultStatusActive}, Adapter: newMockAdapter()},
	})
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("90%% table should fail, got %v", err)
	}
	ok, sum, err := engine.ValidateTotalAllocations()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ok || sum != 0 {
		t.Fatalf("nothing should have been registered, got ok=%v sum=%d", ok, sum)
	}
}

func TestRouteDepositPicksMostUnderallocated(t *testing.T) {
	engine, state := newTestEngine(t)
	setupThreeVaults(t, engine)

	// Seed B and C at target shares of a 1000-unit pool; A holds nothing, so
	// it carries the largest deficit.
	state.shares[vaultB] = big.NewInt(300)
	state.shares[vaultC] = big.NewInt(200)

	vault, routed, err := engine.RouteDeposit(big.NewInt(500))
	if err != nil {
		t.Fatalf("route deposit: %v", err)
	}
	if vault != vaultA {
		t.Fatalf("expected deposit routed to %s, got %s", vaultA.Hex(), vault.Hex())
	}
	if routed.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected full amount routed, got %s", routed)
	}
	if state.shares[vaultA].Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("share ledger not credited, got %s", state.shares[vaultA])
	}
	if got := len(state.eventsOfType(EventTypeDepositRouted)); got != 1 {
		t.Fatalf("expected 1 deposit event, got %d", got)
	}
}

func TestSuspendedVaultExcludedFromRoutingButCounted(t *testing.T) {
	engine, state := newTestEngine(t)
	setupThreeVaults(t, engine)

	// Balanced pool, then B is suspended. B keeps its weight and its balance
	// keeps counting toward totals, so A and C sit exactly at target and new
	// deposits go to whichever of them the stable tie-break picks first.
	state.shares[vaultA] = big.NewInt(500)
	state.shares[vaultB] = big.NewInt(300)
	state.shares[vaultC] = big.NewInt(200)
	if err := engine.SetVaultStatus(vaultB, VaultStatusSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	vault, _, err := engine.RouteDeposit(big.NewInt(100))
	if err != nil {
		t.Fatalf("route deposit: %v", err)
	}
	if vault == vaultB {
		t.Fatalf("deposit must not route to a suspended vault")
	}
	if vault != vaultA {
		t.Fatalf("balanced pool should fall back to registration order, got %s", vault.Hex())
	}

	snap, err := engine.CurrentAllocations()
	if err != nil {
		t.Fatalf("allocations: %v", err)
	}
	if snap.TotalValue.Cmp(big.NewInt(1100)) != 0 {
		t.Fatalf("suspended balance must count toward totals, got %s", snap.TotalValue)
	}
	ok, sum, err := engine.ValidateTotalAllocations()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !ok {
		t.Fatalf("suspension must not break the weight sum, got %d", sum)
	}
}

func TestRouteWithdrawServesFromLargestVault(t *testing.T) {
	engine, state := newTestEngine(t)
	setupThreeVaults(t, engine)
	state.shares[vaultA] = big.NewInt(500)
	state.shares[vaultB] = big.NewInt(300)
	state.shares[vaultC] = big.NewInt(200)

	vault, assets, err := engine.RouteWithdraw(big.NewInt(400))
	if err != nil {
		t.Fatalf("route withdraw: %v", err)
	}
	if vault != vaultA {
		t.Fatalf("expected withdrawal served by %s, got %s", vaultA.Hex(), vault.Hex())
	}
	if assets.Cmp(big.NewInt(400)) != 0 {
		t.Fatalf("expected 400 assets, got %s", assets)
	}
	if state.shares[vaultA].Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("share ledger not debited, got %s", state.shares[vaultA])
	}
}

func TestRouteWithdrawCapIsAchievable(t *testing.T) {
	engine, state := newTestEngine(t)
	setupThreeVaults(t, engine)
	state.shares[vaultA] = big.NewInt(500)
	state.shares[vaultB] = big.NewInt(300)

	cap, capVault, err := engine.MaxSingleVaultWithdrawCapacity()
	if err != nil {
		t.Fatalf("capacity: %v", err)
	}
	if capVault != vaultA || cap.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected cap 500 at %s, got %s at %s", vaultA.Hex(), cap, capVault.Hex())
	}

	if _, _, err := engine.RouteWithdraw(cap); err != nil {
		t.Fatalf("withdrawing exactly the cap must succeed: %v", err)
	}

	over := new(big.Int).Add(big.NewInt(300), big.NewInt(1))
	if _, _, err := engine.RouteWithdraw(over); !errors.Is(err, ErrInsufficientLiquidity) {
		t.Fatalf("cap+1 should fail with ErrInsufficientLiquidity, got %v", err)
	}
}

func TestSolverDepositAtomicity(t *testing.T) {
	engine, state := newTestEngine(t)
	adapters := setupThreeVaults(t, engine)
	adapters[vaultB].depositErr = errors.New("strategy full")

	_, err := engine.SolverDepositAssets(
		[]common.Address{vaultA, vaultB},
		[]*big.Int{big.NewInt(100), big.NewInt(100)},
	)
	if !errors.Is(err, ErrAdapterFailure) {
		t.Fatalf("expected ErrAdapterFailure, got %v", err)
	}
	if balance := state.shares[vaultA]; balance != nil && balance.Sign() != 0 {
		t.Fatalf("failed batch must not credit any leg, vault A holds %s", balance)
	}
	if got := len(state.eventsOfType(EventTypeSolverDeposit)); got != 0 {
		t.Fatalf("failed batch must emit no events, got %d", got)
	}
}

func TestSolverDepositRejectsSuspendedAndBounds(t *testing.T) {
	engine, _ := newTestEngine(t)
	setupThreeVaults(t, engine)
	if err := engine.SetVaultStatus(vaultB, VaultStatusSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	_, err := engine.SolverDepositAssets([]common.Address{vaultB}, []*big.Int{big.NewInt(100)})
	if !errors.Is(err, ErrVaultNotEligible) {
		t.Fatalf("suspended deposit target should fail, got %v", err)
	}

	if err := engine.SetMaxVaultsPerOperation(1); err != nil {
		t.Fatalf("set bound: %v", err)
	}
	_, err = engine.SolverDepositAssets(
		[]common.Address{vaultA, vaultC},
		[]*big.Int{big.NewInt(1), big.NewInt(1)},
	)
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("over-bound batch should fail, got %v", err)
	}
}

func TestSolverWithdrawEligibility(t *testing.T) {
	engine, state := newTestEngine(t)
	setupThreeVaults(t, engine)
	state.shares[vaultA] = big.NewInt(500)
	state.shares[vaultB] = big.NewInt(300)

	if err := engine.AcknowledgeStrategyLoss(vaultA, big.NewInt(1)); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if err := engine.SetVaultStatus(vaultB, VaultStatusSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}

	// Impaired vaults stay drainable.
	received, err := engine.SolverWithdrawShares([]common.Address{vaultA}, []*big.Int{big.NewInt(100)})
	if err != nil {
		t.Fatalf("withdraw from impaired vault: %v", err)
	}
	if received[0].Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected 100 assets, got %s", received[0])
	}

	// Suspended vaults are not.
	_, err = engine.SolverWithdrawShares([]common.Address{vaultB}, []*big.Int{big.NewInt(100)})
	if !errors.Is(err, ErrVaultNotEligible) {
		t.Fatalf("suspended withdrawal source should fail, got %v", err)
	}
}

func TestSolverDepositSharesDerivesCost(t *testing.T) {
	engine, state := newTestEngine(t)
	setupThreeVaults(t, engine)

	minted, err := engine.SolverDepositShares([]common.Address{vaultA}, []*big.Int{big.NewInt(250)})
	if err != nil {
		t.Fatalf("solver deposit shares: %v", err)
	}
	if minted[0].Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("expected 250 shares at par, got %s", minted[0])
	}
	if state.shares[vaultA].Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("ledger not credited, got %s", state.shares[vaultA])
	}
}

func TestRebalanceBySharesMovesLedger(t *testing.T) {
	engine, state := newTestEngine(t)
	setupThreeVaults(t, engine)
	state.shares[vaultA] = big.NewInt(500)

	toShares, err := engine.RebalanceByShares(vaultA, vaultB, big.NewInt(200), nil)
	if err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	if toShares.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected 200 destination shares at par, got %s", toShares)
	}
	if state.shares[vaultA].Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("source not debited, got %s", state.shares[vaultA])
	}
	if state.shares[vaultB].Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("destination not credited, got %s", state.shares[vaultB])
	}
	if got := len(state.eventsOfType(EventTypeRebalanceExecuted)); got != 1 {
		t.Fatalf("expected 1 rebalance event, got %d", got)
	}
}

func TestRebalanceSlippageAgainstDustTolerance(t *testing.T) {
	engine, state := newTestEngine(t)
	adapters := setupThreeVaults(t, engine)
	state.shares[vaultA] = big.NewInt(1000)

	// Destination shares trade at 90% of par: moving 1000 loses 100.
	adapters[vaultB].valueNum = 9
	adapters[vaultB].valueDen = 10

	_, err := engine.RebalanceByShares(vaultA, vaultB, big.NewInt(1000), nil)
	if !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}
	if state.shares[vaultA].Cmp(big.NewInt(1000)) != 0 {
		t.Fatalf("failed rebalance must not move the ledger, got %s", state.shares[vaultA])
	}

	if err := engine.SetDustTolerance(big.NewInt(100)); err != nil {
		t.Fatalf("set tolerance: %v", err)
	}
	if _, err := engine.RebalanceByShares(vaultA, vaultB, big.NewInt(1000), nil); err != nil {
		t.Fatalf("loss within tolerance should pass: %v", err)
	}
}

func TestRebalanceMinShareFloor(t *testing.T) {
	engine, state := newTestEngine(t)
	setupThreeVaults(t, engine)
	state.shares[vaultA] = big.NewInt(500)

	_, err := engine.RebalanceByShares(vaultA, vaultB, big.NewInt(200), big.NewInt(201))
	if !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded on min-share floor, got %v", err)
	}
}

func TestRebalanceRejectsInactiveDestination(t *testing.T) {
	engine, state := newTestEngine(t)
	setupThreeVaults(t, engine)
	state.shares[vaultA] = big.NewInt(500)
	if err := engine.SetVaultStatus(vaultB, VaultStatusSuspended); err != nil {
		t.Fatalf("suspend: %v", err)
	}
	_, err := engine.RebalanceByShares(vaultA, vaultB, big.NewInt(100), nil)
	if !errors.Is(err, ErrVaultNotEligible) {
		t.Fatalf("suspended destination should fail, got %v", err)
	}
}

func TestRebalanceByExternalLiquidityLeavesVaultsUntouched(t *testing.T) {
	engine, state := newTestEngine(t)
	adapters := setupThreeVaults(t, engine)
	state.shares[vaultA] = big.NewInt(500)

	// Vault entry points must not be hit on the external path.
	adapters[vaultA].withdrawErr = errors.New("must not withdraw")
	adapters[vaultB].depositErr = errors.New("must not deposit")

	toShares, err := engine.RebalanceByExternalLiquidity(vaultA, vaultB, big.NewInt(200), nil)
	if err != nil {
		t.Fatalf("external rebalance: %v", err)
	}
	if toShares.Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("expected 200 quoted shares, got %s", toShares)
	}
	if state.shares[vaultA].Cmp(big.NewInt(300)) != 0 || state.shares[vaultB].Cmp(big.NewInt(200)) != 0 {
		t.Fatalf("ledger not moved, A=%s B=%s", state.shares[vaultA], state.shares[vaultB])
	}
}

// reentrantAdapter calls back into the engine mid-withdrawal, the way a
// malicious strategy vault would.
type reentrantAdapter struct {
	*mockAdapter
	engine   *Engine
	innerErr error
}

func (a *reentrantAdapter) WithdrawFromStrategy(shareAmount *big.Int) (*big.Int, error) {
	_, a.innerErr = a.engine.RebalanceByShares(vaultB, vaultC, big.NewInt(1), nil)
	return a.mockAdapter.WithdrawFromStrategy(shareAmount)
}

func TestRebalanceReentrancyGuard(t *testing.T) {
	engine, state := newTestEngine(t)
	adapter := &reentrantAdapter{mockAdapter: newMockAdapter(), engine: engine}
	err := engine.SetVaultConfigs([]VaultEntry{
		{Config: VaultConfig{Vault: vaultA, TargetBps: 500_000, Status: VaultStatusActive}, Adapter: adapter},
		{Config: VaultConfig{Vault: vaultB, TargetBps: 300_000, Status: VaultStatusActive}, Adapter: newMockAdapter()},
		{Config: VaultConfig{Vault: vaultC, TargetBps: 200_000, Status: VaultStatusActive}, Adapter: newMockAdapter()},
	})
	if err != nil {
		t.Fatalf("set vault configs: %v", err)
	}
	state.shares[vaultA] = big.NewInt(100)
	state.shares[vaultB] = big.NewInt(100)

	if _, err := engine.RebalanceByShares(vaultA, vaultB, big.NewInt(50), nil); err != nil {
		t.Fatalf("outer rebalance: %v", err)
	}
	if !errors.Is(adapter.innerErr, ErrReentrant) {
		t.Fatalf("nested call should hit the guard, got %v", adapter.innerErr)
	}

	// The guard clears once the outer call returns.
	if _, err := engine.RebalanceByShares(vaultB, vaultC, big.NewInt(10), nil); err != nil {
		t.Fatalf("guard must clear after the outer call: %v", err)
	}
}

func TestAcknowledgeStrategyLossIsTerminal(t *testing.T) {
	engine, state := newTestEngine(t)
	adapters := setupThreeVaults(t, engine)
	state.shares[vaultA] = big.NewInt(500)
	state.shares[vaultB] = big.NewInt(300)
	adapters[vaultA].valueNum = 1
	adapters[vaultA].valueDen = 2 // vault A lost half

	if err := engine.AcknowledgeStrategyLoss(vaultA, big.NewInt(250)); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	cfg, _, err := engine.state.GetVaultConfig(vaultA)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.Status != VaultStatusImpaired {
		t.Fatalf("expected impaired, got %s", cfg.Status)
	}
	if cfg.ImpairedValue.Cmp(big.NewInt(250)) != 0 {
		t.Fatalf("expected observed value 250, got %s", cfg.ImpairedValue)
	}

	if err := engine.AcknowledgeStrategyLoss(vaultA, big.NewInt(1)); !errors.Is(err, ErrAlreadyImpaired) {
		t.Fatalf("second acknowledge should fail, got %v", err)
	}
	if err := engine.SetVaultStatus(vaultA, VaultStatusActive); !errors.Is(err, ErrAlreadyImpaired) {
		t.Fatalf("impairment must be terminal, got %v", err)
	}

	// Impaired vaults drop out of totals immediately.
	snap, err := engine.CurrentAllocations()
	if err != nil {
		t.Fatalf("allocations: %v", err)
	}
	if snap.TotalValue.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("impaired value must not count, got %s", snap.TotalValue)
	}
}

func TestForceRemoveVaultRecordsShortfall(t *testing.T) {
	engine, state := newTestEngine(t)
	adapters := setupThreeVaults(t, engine)
	state.shares[vaultA] = big.NewInt(500)

	if _, err := engine.ForceRemoveVault(vaultA); !errors.Is(err, ErrNotImpaired) {
		t.Fatalf("healthy vault must not be force-removable, got %v", err)
	}

	adapters[vaultA].valueNum = 1
	adapters[vaultA].valueDen = 5
	if err := engine.AcknowledgeStrategyLoss(vaultA, big.NewInt(400)); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	writeOff, err := engine.ForceRemoveVault(vaultA)
	if err != nil {
		t.Fatalf("force remove: %v", err)
	}
	if writeOff.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected 100 written off, got %s", writeOff)
	}
	total, err := engine.Shortfall()
	if err != nil {
		t.Fatalf("shortfall: %v", err)
	}
	if total.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected shortfall 100, got %s", total)
	}

	// The remaining table sums to 50%; validation reports it, nothing
	// auto-normalizes.
	ok, sum, err := engine.ValidateTotalAllocations()
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if ok || sum != 500_000 {
		t.Fatalf("expected invalid table at 500000, got ok=%v sum=%d", ok, sum)
	}
}

func TestForceRemoveFallsBackToImpairedValue(t *testing.T) {
	engine, state := newTestEngine(t)
	adapters := setupThreeVaults(t, engine)
	state.shares[vaultA] = big.NewInt(500)

	if err := engine.AcknowledgeStrategyLoss(vaultA, big.NewInt(0)); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	adapters[vaultA].valueErr = ErrValuationUnavailable

	writeOff, err := engine.ForceRemoveVault(vaultA)
	if err != nil {
		t.Fatalf("force remove: %v", err)
	}
	if writeOff.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("expected frozen value 500 written off, got %s", writeOff)
	}
}

func TestRemoveVaultConfigRequiresSweptBalance(t *testing.T) {
	engine, state := newTestEngine(t)
	setupThreeVaults(t, engine)
	state.shares[vaultC] = big.NewInt(50)

	if err := engine.RemoveVaultConfig(vaultC); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("unswept vault removal should fail, got %v", err)
	}

	if _, err := engine.SweepStrategyDust(vaultC, vaultA); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if state.shares[vaultC].Sign() != 0 {
		t.Fatalf("source not zeroed, got %s", state.shares[vaultC])
	}
	if state.shares[vaultA].Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("destination not credited, got %s", state.shares[vaultA])
	}

	// Removal still enforces the weight sum on the remaining table.
	if err := engine.RemoveVaultConfig(vaultC); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("removal leaving 80%% table should fail, got %v", err)
	}
}

func TestSweepSurplusDepositsRouterBalance(t *testing.T) {
	engine, state := newTestEngine(t)
	setupThreeVaults(t, engine)
	state.balance = big.NewInt(75)

	swept, err := engine.SweepSurplus(vaultB)
	if err != nil {
		t.Fatalf("sweep surplus: %v", err)
	}
	if swept.Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("expected 75 swept, got %s", swept)
	}
	if state.balance.Sign() != 0 {
		t.Fatalf("router balance not zeroed, got %s", state.balance)
	}
	if state.shares[vaultB].Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("destination not credited, got %s", state.shares[vaultB])
	}

	// Sweeping an empty balance is a no-op, not an error.
	swept, err = engine.SweepSurplus(vaultB)
	if err != nil {
		t.Fatalf("empty sweep: %v", err)
	}
	if swept.Sign() != 0 {
		t.Fatalf("expected zero swept, got %s", swept)
	}
}

type pauseMap map[string]bool

func (p pauseMap) IsPaused(module string) bool { return p[module] }

func TestPauseBlocksValueMovingOperations(t *testing.T) {
	engine, state := newTestEngine(t)
	setupThreeVaults(t, engine)
	state.shares[vaultA] = big.NewInt(500)
	engine.SetPauses(pauseMap{"router": true})

	if _, _, err := engine.RouteDeposit(big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("paused deposit should fail, got %v", err)
	}
	if _, _, err := engine.RouteWithdraw(big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("paused withdraw should fail, got %v", err)
	}
	if _, err := engine.RebalanceByShares(vaultA, vaultB, big.NewInt(1), nil); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("paused rebalance should fail, got %v", err)
	}

	// Admin operations stay available while paused.
	if err := engine.SetVaultStatus(vaultB, VaultStatusSuspended); err != nil {
		t.Fatalf("status change while paused: %v", err)
	}
}

func TestSetVaultConfigsRejectedReplaceLeavesTableUntouched(t *testing.T) {
	engine, state := newTestEngine(t)
	setupThreeVaults(t, engine)
	if err := engine.AcknowledgeStrategyLoss(vaultA, big.NewInt(0)); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	eventsBefore := len(state.events)

	// Keeping the now-impaired vault A while dropping C must be rejected
	// outright: impaired vaults only leave through forced removal.
	err := engine.SetVaultConfigs([]VaultEntry{
		{Config: VaultConfig{Vault: vaultA, TargetBps: 500_000, Status: VaultStatusActive}, Adapter: newMockAdapter()},
		{Config: VaultConfig{Vault: vaultB, TargetBps: 500_000, Status: VaultStatusActive}, Adapter: newMockAdapter()},
	})
	if !errors.Is(err, ErrAlreadyImpaired) {
		t.Fatalf("expected ErrAlreadyImpaired, got %v", err)
	}

	// The rejection must leave the table, adapters and event stream intact.
	if _, ok, _ := state.GetVaultConfig(vaultC); !ok {
		t.Fatal("rejected replace must not delete dropped vaults")
	}
	if _, ok := engine.adapters[vaultC]; !ok {
		t.Fatal("rejected replace must not unbind adapters")
	}
	if len(state.events) != eventsBefore {
		t.Fatalf("rejected replace must emit no events, got %d extra", len(state.events)-eventsBefore)
	}
	cfg, _, err := state.GetVaultConfig(vaultB)
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if cfg.TargetBps != 300_000 {
		t.Fatalf("rejected replace must not reweight kept vaults, got %d", cfg.TargetBps)
	}
}

func TestUpdateVaultConfigKeepsWeightSum(t *testing.T) {
	engine, state := newTestEngine(t)
	setupThreeVaults(t, engine)

	if err := engine.UpdateVaultConfig(vaultA, 600_000); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("uncompensated reweight should fail, got %v", err)
	}

	err := engine.SetVaultConfigs([]VaultEntry{
		{Config: VaultConfig{Vault: vaultA, TargetBps: 600_000, Status: VaultStatusActive}, Adapter: newMockAdapter()},
		{Config: VaultConfig{Vault: vaultB, TargetBps: 300_000, Status: VaultStatusActive}, Adapter: newMockAdapter()},
		{Config: VaultConfig{Vault: vaultC, TargetBps: 100_000, Status: VaultStatusActive}, Adapter: newMockAdapter()},
	})
	if err != nil {
		t.Fatalf("atomic reweight: %v", err)
	}
	updated := state.eventsOfType(EventTypeVaultUpdated)
	if len(updated) != 2 {
		t.Fatalf("expected 2 update events, got %d", len(updated))
	}
	if updated[0].Attributes["oldTargetBps"] != "500000" || updated[0].Attributes["newTargetBps"] != "600000" {
		t.Fatalf("update event missing before/after weights: %v", updated[0].Attributes)
	}
}
