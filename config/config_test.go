package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/BurntSushi/toml"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"rewardledger/native/rewards"
)

func TestLoadCreatesDefault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ledger.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, rewards.DefaultCostLimit, cfg.CostLimit)
	require.Equal(t, rewards.DefaultCostModel(), cfg.CostModel)
	require.Equal(t, filepath.Join(dir, "custodian.key"), cfg.CustodianKeyPath)

	key, err := ethcrypto.LoadECDSA(cfg.CustodianKeyPath)
	require.NoError(t, err)
	custodian, err := cfg.CustodianAddress()
	require.NoError(t, err)
	require.Equal(t, ethcrypto.PubkeyToAddress(key.PublicKey), custodian)

	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}

func TestLoadParsesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.toml")
	contents := `Custodian = "0x00000000000000000000000000000000000000aa"
DataDir = "/var/lib/rewards"
CostLimit = 1000000

[CostModel]
TxBase = 1
RecordRead = 2
RecordWrite = 3
RecordCreate = 4
Transfer = 5
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/var/lib/rewards", cfg.DataDir)
	require.Equal(t, uint64(1_000_000), cfg.CostLimit)
	require.Equal(t, rewards.CostModel{TxBase: 1, RecordRead: 2, RecordWrite: 3, RecordCreate: 4, Transfer: 5}, cfg.CostModel)
	require.Len(t, cfg.RuntimeOptions(), 2)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.toml")
	require.NoError(t, os.WriteFile(path, []byte(`Custodian = "0x00000000000000000000000000000000000000aa"`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "./reward-data", cfg.DataDir)
	require.Equal(t, rewards.DefaultCostLimit, cfg.CostLimit)
	require.Equal(t, rewards.DefaultCostModel(), cfg.CostModel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"unknown field":    "Custodian = \"0x00000000000000000000000000000000000000aa\"\nColour = \"red\"\n",
		"bad custodian":    "Custodian = \"alice\"\n",
		"zero custodian":   "Custodian = \"0x0000000000000000000000000000000000000000\"\n",
		"limit below base": "Custodian = \"0x00000000000000000000000000000000000000aa\"\nCostLimit = 10\n",
	}
	for name, contents := range cases {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "ledger.toml")
			require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
			_, err := Load(path)
			require.Error(t, err)
		})
	}
}

func TestPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.toml")
	cfg := &Config{Custodian: "0x00000000000000000000000000000000000000bb", DataDir: "d", CostLimit: 99, CostModel: rewards.DefaultCostModel()}
	require.NoError(t, persist(path, cfg))

	var decoded Config
	_, err := toml.DecodeFile(path, &decoded)
	require.NoError(t, err)
	require.Equal(t, *cfg, decoded)
}
