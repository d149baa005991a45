package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("RPC_URL", "")
	t.Setenv("CHAIN_ID", "")
	t.Setenv("PRIVATE_KEY", "")
	t.Setenv("GUARD_CONTRACT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultRPCURL, cfg.RPCURL)
	assert.Equal(t, int64(DefaultChainID), cfg.ChainID)
	assert.Equal(t, DefaultPollInterval, cfg.PollInterval)
	assert.False(t, cfg.EnforcementEnabled())
	assert.False(t, cfg.IsProduction())
}

func TestValidateRejectsBadPrivateKey(t *testing.T) {
	cfg := &Config{
		ChainID:      1,
		PollInterval: time.Second,
		PrivateKey:   "deadbeef",
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateAcceptsPrefixedPrivateKey(t *testing.T) {
	key := "0x" + string(make64('a'))
	cfg := &Config{
		ChainID:       1,
		PollInterval:  time.Second,
		PrivateKey:    key,
		GuardContract: "0x1234",
	}
	assert.NoError(t, cfg.Validate())
	assert.True(t, cfg.EnforcementEnabled())
}

func TestValidateRequiresGuardContractWithKey(t *testing.T) {
	cfg := &Config{
		ChainID:      1,
		PollInterval: time.Second,
		PrivateKey:   string(make64('b')),
	}
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroChainID(t *testing.T) {
	cfg := &Config{PollInterval: time.Second}
	assert.Error(t, cfg.Validate())
}

func TestPollIntervalFromEnv(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "3s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.PollInterval)
}

func make64(c byte) []byte {
	b := make([]byte, 64)
	for i := range b {
		b[i] = c
	}
	return b
}
