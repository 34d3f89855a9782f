package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"rewardledger/native/rewards"
)

// Config holds the ledger parameters shared by rewardd and reward-cli.
type Config struct {
	Custodian        string            `toml:"Custodian"`
	CustodianKeyPath string            `toml:"CustodianKeyPath"`
	DataDir          string            `toml:"DataDir"`
	CostLimit        uint64            `toml:"CostLimit"`
	CostModel        rewards.CostModel `toml:"CostModel"`
}

// Load loads the configuration from the given path. A missing file is
// replaced by a freshly generated default, including a custodian key.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	c.Custodian = strings.TrimSpace(c.Custodian)
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./reward-data"
	}
	if c.CostLimit == 0 {
		c.CostLimit = rewards.DefaultCostLimit
	}
	if c.CostModel == (rewards.CostModel{}) {
		c.CostModel = rewards.DefaultCostModel()
	}
}

// CustodianAddress parses the configured custodian identity.
func (c *Config) CustodianAddress() (common.Address, error) {
	if !common.IsHexAddress(c.Custodian) {
		return common.Address{}, fmt.Errorf("custodian %q is not a hex address", c.Custodian)
	}
	addr := common.HexToAddress(c.Custodian)
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("custodian must not be the zero address")
	}
	return addr, nil
}

// RuntimeOptions translates the cost settings into runtime options.
func (c *Config) RuntimeOptions() []rewards.Option {
	return []rewards.Option{
		rewards.WithCostModel(c.CostModel),
		rewards.WithCostLimit(c.CostLimit),
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := ethcrypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	keyPath := defaultKeyPath(path)
	if dir := filepath.Dir(keyPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	if err := ethcrypto.SaveECDSA(keyPath, key); err != nil {
		return nil, err
	}

	cfg := &Config{
		Custodian:        ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		CustodianKeyPath: keyPath,
		DataDir:          "./reward-data",
		CostLimit:        rewards.DefaultCostLimit,
		CostModel:        rewards.DefaultCostModel(),
	}
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeyPath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "custodian.key")
}
