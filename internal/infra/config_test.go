package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/honeyagent/internal/domain"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, 4, cfg.LLM.MaxToolRounds)
	assert.Equal(t, 30*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 120*time.Second, cfg.LLM.ExchangeTimeout)
	assert.Equal(t, 30, cfg.Vector.MaxTopK)
	assert.Equal(t, 500*time.Millisecond, cfg.Audit.FlushInterval)
	assert.Equal(t, RedisChanKeysRotated, cfg.Identity.RotationChannel)
	assert.Equal(t, ".", cfg.BaseDir)
	assert.Empty(t, cfg.Agents)

	table := cfg.Routing.Table()
	assert.Equal(t, "honeypot_db_admin", table.DefaultHoneypot)
	assert.Equal(t, []string{"real"}, table.RealPool)
	assert.Equal(t, "honeypot_privileged", table.SelfProfiles["privileged"])
}

func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
llm:
  provider: bedrock
  timeout: 12s
  exchange_timeout: 50s
routing:
  real_pool: [worker_a, worker_b]
agents:
  worker_a:
    persona: "You process data."
  trap:
    persona_file: prompts/trap.md
    honeypot: true
    capabilities: [record_interaction, synthesize_credential]
`), 0o644))
	t.Setenv("HONEYAGENT_SERVER_ADDR", ":9999")
	t.Setenv("HONEYAGENT_PUBLIC_KEY_DATA", "pem-bytes")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "bedrock", cfg.LLM.Provider)
	assert.Equal(t, 12*time.Second, cfg.LLM.Timeout)
	assert.Equal(t, 50*time.Second, cfg.LLM.ExchangeTimeout)
	assert.Equal(t, []string{"worker_a", "worker_b"}, cfg.Routing.RealPool)
	assert.Equal(t, dir, cfg.BaseDir)
	assert.Equal(t, []byte("pem-bytes"), cfg.Identity.PublicKey)

	trap := cfg.Agents["trap"]
	assert.Equal(t, "trap", trap.Name)
	assert.True(t, trap.IsHoneypot)
	assert.Equal(t, "prompts/trap.md", trap.PersonaFile)
	assert.Equal(t, []domain.Capability{domain.CapRecordInteraction, domain.CapSynthesizeCredential}, trap.Capabilities)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
}
