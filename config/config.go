package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"creditpool/crypto"

	"github.com/BurntSushi/toml"
)

// Config is the runtime configuration for the credit pool daemon.
type Config struct {
	RPCAddress          string `toml:"RPCAddress"`
	DataDir             string `toml:"DataDir"`
	ModuleAddress       string `toml:"ModuleAddress"`
	AdminAddress        string `toml:"AdminAddress"`
	LockDurationSeconds int64  `toml:"LockDurationSeconds"`
	MinScore            uint64 `toml:"MinScore"`
	Pauses              Pauses `toml:"pauses"`
}

// Pauses holds the emergency switches for module flows.
type Pauses struct {
	Creditpool bool `toml:"Creditpool"`
}

// IsPaused implements the pause view consulted by the engine.
func (p Pauses) IsPaused(module string) bool {
	if module == "creditpool" {
		return p.Creditpool
	}
	return false
}

// defaultModuleAddress is the deterministic treasury address holding pooled
// balances when no override is configured.
var defaultModuleAddress = crypto.NewAddress(crypto.PoolPrefix, []byte("creditpool-treasury1"))

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./pooldata"
	}
	if strings.TrimSpace(c.ModuleAddress) == "" {
		c.ModuleAddress = defaultModuleAddress.String()
	}
	if c.LockDurationSeconds <= 0 {
		c.LockDurationSeconds = 7 * 24 * 60 * 60
	}
}

// Validate checks that configured addresses decode.
func (c *Config) Validate() error {
	if _, err := crypto.DecodeAddress(c.ModuleAddress); err != nil {
		return fmt.Errorf("config: invalid ModuleAddress: %w", err)
	}
	if strings.TrimSpace(c.AdminAddress) == "" {
		return fmt.Errorf("config: AdminAddress is required")
	}
	if _, err := crypto.DecodeAddress(c.AdminAddress); err != nil {
		return fmt.Errorf("config: invalid AdminAddress: %w", err)
	}
	return nil
}

// ModuleAddr returns the decoded treasury address.
func (c *Config) ModuleAddr() (crypto.Address, error) {
	return crypto.DecodeAddress(c.ModuleAddress)
}

// AdminAddr returns the decoded administrator address.
func (c *Config) AdminAddr() (crypto.Address, error) {
	return crypto.DecodeAddress(c.AdminAddress)
}

func createDefault(path string) (*Config, error) {
	adminKey, err := crypto.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("config: generate administrator key: %w", err)
	}
	cfg := &Config{
		AdminAddress: adminKey.PubKey().Address().String(),
	}
	cfg.applyDefaults()

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
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
