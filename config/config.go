package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"dstakerouter/native/router"
)

// VaultEntry configures one strategy vault in the initial routing table.
type VaultEntry struct {
	Address   string `toml:"Address"`
	TargetBps uint64 `toml:"TargetBps"`
	Suspended bool   `toml:"Suspended,omitempty"`
}

type Config struct {
	RPCAddress            string       `toml:"RPCAddress"`
	RPCAuthToken          string       `toml:"RPCAuthToken"`
	DataDir               string       `toml:"DataDir"`
	DustTolerance         string       `toml:"DustTolerance"`
	MaxVaultsPerOperation int          `toml:"MaxVaultsPerOperation"`
	Vaults                []VaultEntry `toml:"Vaults"`
}

// Load loads the configuration from the given path. A missing file yields a
// default configuration written back to that path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8745"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./routerdata"
	}
	if strings.TrimSpace(cfg.DustTolerance) == "" {
		cfg.DustTolerance = "0"
	}
	if cfg.MaxVaultsPerOperation == 0 {
		cfg.MaxVaultsPerOperation = router.DefaultMaxVaultsPerOperation
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{}
	applyDefaults(cfg)

	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DustToleranceAmount parses the configured dust tolerance into an integer
// amount in accounting-asset base units.
func (c *Config) DustToleranceAmount() (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(c.DustTolerance), 10)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("config: invalid DustTolerance %q", c.DustTolerance)
	}
	return amount, nil
}

// Validate checks the configuration for internal consistency. The vault table
// may be empty (the operator can build it over RPC), but a non-empty table
// must parse and carry weights summing to the allocation denominator.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.RPCAddress) == "" {
		return fmt.Errorf("config: RPCAddress must not be empty")
	}
	if strings.TrimSpace(c.DataDir) == "" {
		return fmt.Errorf("config: DataDir must not be empty")
	}
	if c.MaxVaultsPerOperation <= 0 {
		return fmt.Errorf("config: MaxVaultsPerOperation must be positive")
	}
	if _, err := c.DustToleranceAmount(); err != nil {
		return err
	}
	if len(c.Vaults) == 0 {
		return nil
	}
	var sum uint64
	seen := make(map[common.Address]struct{}, len(c.Vaults))
	for i, entry := range c.Vaults {
		if !common.IsHexAddress(entry.Address) {
			return fmt.Errorf("config: vault %d has invalid address %q", i, entry.Address)
		}
		addr := common.HexToAddress(entry.Address)
		if _, dup := seen[addr]; dup {
			return fmt.Errorf("config: duplicate vault %s", addr.Hex())
		}
		seen[addr] = struct{}{}
		if entry.TargetBps > router.TotalBps {
			return fmt.Errorf("config: vault %s weight %d exceeds %d", addr.Hex(), entry.TargetBps, uint64(router.TotalBps))
		}
		sum += entry.TargetBps
	}
	if sum != router.TotalBps {
		return fmt.Errorf("config: vault weights sum to %d, want %d", sum, uint64(router.TotalBps))
	}
	return nil
}
