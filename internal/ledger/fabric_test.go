package ledger

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		MSPID:        "Org1MSP",
		CryptoPath:   "/tmp/does-not-exist",
		PeerEndpoint: "localhost:7051",
		GatewayPeer:  "peer0.org1.example.com",
		Channel:      "mychannel",
		Chaincode:    "basic",
		Function:     "GetAllAssets",
		Mode:         ModeEvaluate,
	}
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, validConfig().validate())

	for name, mutate := range map[string]func(*Config){
		"msp":      func(c *Config) { c.MSPID = "" },
		"crypto":   func(c *Config) { c.CryptoPath = "" },
		"peer":     func(c *Config) { c.PeerEndpoint = "" },
		"function": func(c *Config) { c.Function = "" },
		"mode":     func(c *Config) { c.Mode = "query" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(&cfg)
			assert.Error(t, cfg.validate())
		})
	}
}

func TestNewFabricInvokerMissingCrypto(t *testing.T) {
	cfg := validConfig()
	cfg.CryptoPath = filepath.Join(t.TempDir(), "missing")
	cfg.Mode = ""

	_, err := NewFabricInvoker(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "crypto path does not exist")
}

func TestLoadPrivateKeyEmptyDir(t *testing.T) {
	_, err := loadPrivateKey(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no private key")
}
