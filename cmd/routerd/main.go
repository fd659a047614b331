package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"dstakerouter/config"
	"dstakerouter/native/router"
	"dstakerouter/native/router/erc4626"
	"dstakerouter/observability/logging"
	"dstakerouter/rpc"
	"dstakerouter/storage"
)

const rpcTokenEnv = "DSTAKE_RPC_TOKEN"

func main() {
	configFile := flag.String("config", "./router.toml", "Path to the configuration file")
	metricsAddr := flag.String("metrics", "", "Optional address for the Prometheus /metrics endpoint")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("DSTAKE_ENV"))
	logger := logging.Setup("routerd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	state := router.NewState(db)
	engine := router.NewEngine()
	engine.SetState(state)

	tolerance, err := cfg.DustToleranceAmount()
	if err != nil {
		logger.Error("Invalid dust tolerance", slog.Any("error", err))
		os.Exit(1)
	}
	if err := engine.SetDustTolerance(tolerance); err != nil {
		logger.Error("Failed to set dust tolerance", slog.Any("error", err))
		os.Exit(1)
	}
	if err := engine.SetMaxVaultsPerOperation(cfg.MaxVaultsPerOperation); err != nil {
		logger.Error("Failed to set vault bound", slog.Any("error", err))
		os.Exit(1)
	}

	if err := wireVaults(engine, state, cfg, logger); err != nil {
		logger.Error("Failed to wire vault table", slog.Any("error", err))
		os.Exit(1)
	}
	// Boot-time configuration events carry no operational signal.
	_ = state.Events()

	authToken := strings.TrimSpace(cfg.RPCAuthToken)
	if authToken == "" {
		authToken = strings.TrimSpace(os.Getenv(rpcTokenEnv))
	}
	if authToken == "" {
		logger.Warn("No RPC auth token configured; privileged methods are disabled")
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("Metrics endpoint failed", slog.Any("error", err))
			}
		}()
	}

	server := rpc.NewServer(engine, state, authToken)
	logger.Info("Router daemon starting", slog.String("rpc", cfg.RPCAddress), slog.String("data", cfg.DataDir))
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

// wireVaults builds the routing table. A fresh data directory is seeded from
// the configured vault list; on restart the persisted table wins and only the
// adapters are rebound. Every vault is served by an in-process simulated
// strategy; a production deployment swaps in adapters bound to real vaults.
func wireVaults(engine *router.Engine, state *router.State, cfg *config.Config, logger *slog.Logger) error {
	existing, err := state.VaultList()
	if err != nil {
		return err
	}

	if len(existing) > 0 {
		for _, vault := range existing {
			adapter, err := erc4626.NewAdapter(erc4626.NewSimulatedVault())
			if err != nil {
				return err
			}
			if err := engine.RegisterAdapter(vault, adapter); err != nil {
				return err
			}
		}
		logger.Info("Restored vault table", slog.Int("vaults", len(existing)))
		return nil
	}

	if len(cfg.Vaults) == 0 {
		logger.Warn("Starting with an empty vault table")
		return nil
	}

	entries := make([]router.VaultEntry, 0, len(cfg.Vaults))
	for _, entry := range cfg.Vaults {
		adapter, err := erc4626.NewAdapter(erc4626.NewSimulatedVault())
		if err != nil {
			return err
		}
		status := router.VaultStatusActive
		if entry.Suspended {
			status = router.VaultStatusSuspended
		}
		entries = append(entries, router.VaultEntry{
			Config: router.VaultConfig{
				Vault:     common.HexToAddress(entry.Address),
				TargetBps: entry.TargetBps,
				Status:    status,
			},
			Adapter: adapter,
		})
	}
	if err := engine.SetVaultConfigs(entries); err != nil {
		return err
	}
	logger.Info("Seeded vault table from config", slog.Int("vaults", len(entries)))
	return nil
}
