package rpc

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"dstakerouter/native/router"
)

type eventResult struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

func (s *Server) drainEvents() []eventResult {
	events := s.state.Events()
	out := make([]eventResult, 0, len(events))
	for _, evt := range events {
		out = append(out, eventResult{Type: evt.Type, Attributes: evt.Attributes})
	}
	return out
}

// discardEvents drops events buffered by a failed operation so they cannot
// leak into the next response.
func (s *Server) discardEvents() {
	_ = s.state.Events()
}

func parseParams(req *RPCRequest, out interface{}) error {
	if len(req.Params) != 1 {
		return fmt.Errorf("expected exactly one params object")
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return fmt.Errorf("invalid params: %v", err)
	}
	return nil
}

func parseAmount(raw, field string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return nil, fmt.Errorf("invalid %s %q", field, raw)
	}
	return amount, nil
}

func parseAddress(raw, field string) (ethcommon.Address, error) {
	if !ethcommon.IsHexAddress(raw) {
		return ethcommon.Address{}, fmt.Errorf("invalid %s %q", field, raw)
	}
	return ethcommon.HexToAddress(raw), nil
}

func parseOptionalAmount(raw, field string) (*big.Int, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	return parseAmount(raw, field)
}

func parseLegs(vaults []string, amounts []string) ([]ethcommon.Address, []*big.Int, error) {
	if len(vaults) != len(amounts) {
		return nil, nil, fmt.Errorf("vaults and amounts must be equal length")
	}
	addrs := make([]ethcommon.Address, len(vaults))
	values := make([]*big.Int, len(amounts))
	for i := range vaults {
		addr, err := parseAddress(vaults[i], "vault")
		if err != nil {
			return nil, nil, err
		}
		amount, err := parseAmount(amounts[i], "amount")
		if err != nil {
			return nil, nil, err
		}
		addrs[i] = addr
		values[i] = amount
	}
	return addrs, values, nil
}

type vaultAllocationResult struct {
	Vault      string `json:"vault"`
	Balance    string `json:"balance"`
	CurrentBps uint64 `json:"currentBps"`
	TargetBps  uint64 `json:"targetBps"`
}

type allocationsResult struct {
	Vaults      []vaultAllocationResult `json:"vaults"`
	TotalValue  string                  `json:"totalValue"`
	Denominator uint64                  `json:"denominator"`
}

func (s *Server) handleCurrentAllocations(w http.ResponseWriter, req *RPCRequest) error {
	snap, err := s.engine.CurrentAllocations()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return err
	}
	result := allocationsResult{
		Vaults:      make([]vaultAllocationResult, len(snap.Vaults)),
		TotalValue:  snap.TotalValue.String(),
		Denominator: router.TotalBps,
	}
	for i := range snap.Vaults {
		result.Vaults[i] = vaultAllocationResult{
			Vault:      snap.Vaults[i].Hex(),
			Balance:    snap.Balances[i].String(),
			CurrentBps: snap.CurrentBps[i],
			TargetBps:  snap.TargetBps[i],
		}
		s.metrics.SetVaultValue(snap.Vaults[i].Hex(), snap.Balances[i])
	}
	s.metrics.SetTotalValue(snap.TotalValue)
	writeResult(w, req.ID, result)
	return nil
}

func (s *Server) handleMaxWithdraw(w http.ResponseWriter, req *RPCRequest) error {
	capacity, vault, err := s.engine.MaxSingleVaultWithdrawCapacity()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]string{
		"maxWithdraw": capacity.String(),
		"vault":       vault.Hex(),
	})
	return nil
}

func (s *Server) handleShortfall(w http.ResponseWriter, req *RPCRequest) error {
	total, err := s.engine.Shortfall()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return err
	}
	s.metrics.SetShortfall(total)
	writeResult(w, req.ID, map[string]string{"shortfall": total.String()})
	return nil
}

func (s *Server) handleValidateAllocations(w http.ResponseWriter, req *RPCRequest) error {
	ok, sum, err := s.engine.ValidateTotalAllocations()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]interface{}{
		"valid":       ok,
		"sum":         sum,
		"denominator": uint64(router.TotalBps),
	})
	return nil
}

func (s *Server) handleParams(w http.ResponseWriter, req *RPCRequest) error {
	writeResult(w, req.ID, map[string]interface{}{
		"dustTolerance":         s.engine.DustTolerance().String(),
		"maxVaultsPerOperation": s.engine.MaxVaultsPerOperation(),
	})
	return nil
}

type amountParams struct {
	Amount string `json:"amount"`
}

func (s *Server) handleRouteDeposit(w http.ResponseWriter, req *RPCRequest) error {
	var params amountParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	amount, err := parseAmount(params.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	vault, routed, err := s.engine.RouteDeposit(amount)
	if err != nil {
		s.discardEvents()
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]interface{}{
		"vault":  vault.Hex(),
		"amount": routed.String(),
		"events": s.drainEvents(),
	})
	return nil
}

func (s *Server) handleRouteWithdraw(w http.ResponseWriter, req *RPCRequest) error {
	var params amountParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	amount, err := parseAmount(params.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	vault, assets, err := s.engine.RouteWithdraw(amount)
	if err != nil {
		s.discardEvents()
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]interface{}{
		"vault":  vault.Hex(),
		"amount": assets.String(),
		"events": s.drainEvents(),
	})
	return nil
}

type solverParams struct {
	Vaults  []string `json:"vaults"`
	Amounts []string `json:"amounts"`
}

func (s *Server) handleSolver(w http.ResponseWriter, req *RPCRequest, op func([]ethcommon.Address, []*big.Int) ([]*big.Int, error)) error {
	var params solverParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	vaults, amounts, err := parseLegs(params.Vaults, params.Amounts)
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	results, err := op(vaults, amounts)
	if err != nil {
		s.discardEvents()
		writeEngineError(w, req.ID, err)
		return err
	}
	legs := make([]string, len(results))
	for i, amount := range results {
		legs[i] = amount.String()
	}
	writeResult(w, req.ID, map[string]interface{}{
		"results": legs,
		"events":  s.drainEvents(),
	})
	return nil
}

func (s *Server) handleSolverDepositAssets(w http.ResponseWriter, req *RPCRequest) error {
	return s.handleSolver(w, req, s.engine.SolverDepositAssets)
}

func (s *Server) handleSolverDepositShares(w http.ResponseWriter, req *RPCRequest) error {
	return s.handleSolver(w, req, s.engine.SolverDepositShares)
}

func (s *Server) handleSolverWithdrawAssets(w http.ResponseWriter, req *RPCRequest) error {
	return s.handleSolver(w, req, s.engine.SolverWithdrawAssets)
}

func (s *Server) handleSolverWithdrawShares(w http.ResponseWriter, req *RPCRequest) error {
	return s.handleSolver(w, req, s.engine.SolverWithdrawShares)
}

type rebalanceParams struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Amount      string `json:"amount"`
	MinToShares string `json:"minToShares,omitempty"`
}

func (s *Server) handleRebalance(w http.ResponseWriter, req *RPCRequest, op func(from, to ethcommon.Address, amount, minToShares *big.Int) (*big.Int, error)) error {
	var params rebalanceParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	from, err := parseAddress(params.From, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	to, err := parseAddress(params.To, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	amount, err := parseAmount(params.Amount, "amount")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	minToShares, err := parseOptionalAmount(params.MinToShares, "minToShares")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	toShares, err := op(from, to, amount, minToShares)
	if err != nil {
		s.discardEvents()
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]interface{}{
		"toShares": toShares.String(),
		"events":   s.drainEvents(),
	})
	return nil
}

func (s *Server) handleRebalanceShares(w http.ResponseWriter, req *RPCRequest) error {
	return s.handleRebalance(w, req, s.engine.RebalanceByShares)
}

func (s *Server) handleRebalanceValue(w http.ResponseWriter, req *RPCRequest) error {
	return s.handleRebalance(w, req, s.engine.RebalanceByValue)
}

func (s *Server) handleRebalanceExternal(w http.ResponseWriter, req *RPCRequest) error {
	return s.handleRebalance(w, req, s.engine.RebalanceByExternalLiquidity)
}

type vaultStatusParams struct {
	Vault  string `json:"vault"`
	Status string `json:"status"`
}

func (s *Server) handleSetVaultStatus(w http.ResponseWriter, req *RPCRequest) error {
	var params vaultStatusParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	vault, err := parseAddress(params.Vault, "vault")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	var status router.VaultStatus
	switch strings.ToLower(strings.TrimSpace(params.Status)) {
	case "active":
		status = router.VaultStatusActive
	case "suspended":
		status = router.VaultStatusSuspended
	default:
		err := fmt.Errorf("invalid status %q", params.Status)
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	if err := s.engine.SetVaultStatus(vault, status); err != nil {
		s.discardEvents()
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]interface{}{"events": s.drainEvents()})
	return nil
}

type updateVaultParams struct {
	Vault     string `json:"vault"`
	TargetBps uint64 `json:"targetBps"`
}

func (s *Server) handleUpdateVaultConfig(w http.ResponseWriter, req *RPCRequest) error {
	var params updateVaultParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	vault, err := parseAddress(params.Vault, "vault")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	if err := s.engine.UpdateVaultConfig(vault, params.TargetBps); err != nil {
		s.discardEvents()
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]interface{}{"events": s.drainEvents()})
	return nil
}

type vaultParams struct {
	Vault string `json:"vault"`
}

func (s *Server) handleRemoveVaultConfig(w http.ResponseWriter, req *RPCRequest) error {
	var params vaultParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	vault, err := parseAddress(params.Vault, "vault")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	if err := s.engine.RemoveVaultConfig(vault); err != nil {
		s.discardEvents()
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]interface{}{"events": s.drainEvents()})
	return nil
}

type acknowledgeLossParams struct {
	Vault     string `json:"vault"`
	LossValue string `json:"lossValue"`
}

func (s *Server) handleAcknowledgeLoss(w http.ResponseWriter, req *RPCRequest) error {
	var params acknowledgeLossParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	vault, err := parseAddress(params.Vault, "vault")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	lossValue, err := parseAmount(params.LossValue, "lossValue")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	if err := s.engine.AcknowledgeStrategyLoss(vault, lossValue); err != nil {
		s.discardEvents()
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]interface{}{"events": s.drainEvents()})
	return nil
}

func (s *Server) handleForceRemoveVault(w http.ResponseWriter, req *RPCRequest) error {
	var params vaultParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	vault, err := parseAddress(params.Vault, "vault")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	writeOff, err := s.engine.ForceRemoveVault(vault)
	if err != nil {
		s.discardEvents()
		writeEngineError(w, req.ID, err)
		return err
	}
	total, err := s.engine.Shortfall()
	if err != nil {
		writeEngineError(w, req.ID, err)
		return err
	}
	s.metrics.SetShortfall(total)
	writeResult(w, req.ID, map[string]interface{}{
		"writeOff":  writeOff.String(),
		"shortfall": total.String(),
		"events":    s.drainEvents(),
	})
	return nil
}

type sweepDustParams struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (s *Server) handleSweepDust(w http.ResponseWriter, req *RPCRequest) error {
	var params sweepDustParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	from, err := parseAddress(params.From, "from")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	to, err := parseAddress(params.To, "to")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	value, err := s.engine.SweepStrategyDust(from, to)
	if err != nil {
		s.discardEvents()
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]interface{}{
		"value":  value.String(),
		"events": s.drainEvents(),
	})
	return nil
}

func (s *Server) handleSweepSurplus(w http.ResponseWriter, req *RPCRequest) error {
	var params vaultParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	to, err := parseAddress(params.Vault, "vault")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	amount, err := s.engine.SweepSurplus(to)
	if err != nil {
		s.discardEvents()
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]interface{}{
		"amount": amount.String(),
		"events": s.drainEvents(),
	})
	return nil
}

type toleranceParams struct {
	Tolerance string `json:"tolerance"`
}

func (s *Server) handleSetDustTolerance(w http.ResponseWriter, req *RPCRequest) error {
	var params toleranceParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	tolerance, err := parseAmount(params.Tolerance, "tolerance")
	if err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	if err := s.engine.SetDustTolerance(tolerance); err != nil {
		s.discardEvents()
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]interface{}{"events": s.drainEvents()})
	return nil
}

type maxVaultsParams struct {
	MaxVaults int `json:"maxVaults"`
}

func (s *Server) handleSetMaxVaults(w http.ResponseWriter, req *RPCRequest) error {
	var params maxVaultsParams
	if err := parseParams(req, &params); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return err
	}
	if err := s.engine.SetMaxVaultsPerOperation(params.MaxVaults); err != nil {
		s.discardEvents()
		writeEngineError(w, req.ID, err)
		return err
	}
	writeResult(w, req.ID, map[string]interface{}{"events": s.drainEvents()})
	return nil
}
