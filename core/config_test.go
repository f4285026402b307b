package core

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "rfp-orchestrator", cfg.ServiceName)
	assert.Equal(t, "inprocess", cfg.BrokerBackend)
	assert.Equal(t, "inmemory", cfg.StateStoreBackend)
	assert.Equal(t, ":8090", cfg.HTTPAddr)
	assert.Equal(t, 3, cfg.RetryMaxAttempts)
	assert.NotNil(t, cfg.Logger())
}

func TestNewConfigEnvOverridesDefaults(t *testing.T) {
	t.Setenv("RFP_SERVICE_NAME", "rfp-envtest")
	t.Setenv("RFP_HTTP_ADDR", ":9999")
	t.Setenv("RFP_DEFAULT_STAGE_TIMEOUT", "45s")
	t.Setenv("RFP_RETRY_MAX_ATTEMPTS", "7")

	cfg, err := NewConfig()
	require.NoError(t, err)

	assert.Equal(t, "rfp-envtest", cfg.ServiceName)
	assert.Equal(t, ":9999", cfg.HTTPAddr)
	assert.Equal(t, 45*time.Second, cfg.DefaultStageTimeout)
	assert.Equal(t, 7, cfg.RetryMaxAttempts)
}

func TestNewConfigOptionsOverrideEnv(t *testing.T) {
	t.Setenv("RFP_SERVICE_NAME", "from-env")

	cfg, err := NewConfig(WithServiceName("from-option"))
	require.NoError(t, err)
	assert.Equal(t, "from-option", cfg.ServiceName)
}

func TestWithRedisBrokerRequiresURL(t *testing.T) {
	_, err := NewConfig(WithRedisBroker(""))
	assert.Error(t, err)
}

func TestWithRedisBrokerSetsBackend(t *testing.T) {
	cfg, err := NewConfig(WithRedisBroker("redis://localhost:6379/0"))
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.BrokerBackend)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
}

func TestWithRedisStateStoreRequiresURL(t *testing.T) {
	_, err := NewConfig(WithRedisStateStore(""))
	assert.Error(t, err)
}

func TestValidateRejectsRedisStateStoreWithoutURL(t *testing.T) {
	cfg := defaultConfig()
	cfg.StateStoreBackend = "redis"
	cfg.RedisURL = ""
	assert.Error(t, cfg.validate())
}

func TestValidateRejectsUnknownBrokerBackend(t *testing.T) {
	cfg := defaultConfig()
	cfg.BrokerBackend = "kafka"
	assert.Error(t, cfg.validate())
}

func TestWithDefaultStageTimeoutRejectsNonPositive(t *testing.T) {
	_, err := NewConfig(WithDefaultStageTimeout(0))
	assert.Error(t, err)
}

func TestMain(m *testing.M) {
	for _, k := range []string{
		"RFP_SERVICE_NAME", "RFP_BROKER_BACKEND", "RFP_REDIS_URL", "RFP_STATESTORE_BACKEND",
		"RFP_SWEEP_INTERVAL", "RFP_DEFAULT_STAGE_TIMEOUT", "RFP_RETRY_MAX_ATTEMPTS",
		"RFP_CIRCUIT_FAILURE_THRESHOLD", "RFP_HTTP_ADDR", "RFP_LOG_LEVEL", "RFP_LOG_FORMAT",
	} {
		os.Unsetenv(k)
	}
	os.Exit(m.Run())
}
