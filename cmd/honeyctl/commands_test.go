package main

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xela07ax/honeyagent/internal/domain"
	"github.com/xela07ax/honeyagent/internal/fingerprint"
	"github.com/xela07ax/honeyagent/internal/infra"
)

// writeConfig кладет во временную папку ключ, журнал и config.yaml.
func writeConfig(t *testing.T) (cfgPath, storePath string, key *rsa.PrivateKey) {
	t.Helper()
	dir := t.TempDir()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	keyPath := filepath.Join(dir, "private.pem")
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	require.NoError(t, os.WriteFile(keyPath, pemBytes, 0o600))

	storePath = filepath.Join(dir, "fingerprints.jsonl")
	cfgPath = filepath.Join(dir, "config.yaml")
	yaml := fmt.Sprintf(`
identity:
  key_id: test-kid
  private_key_path: %q
  issuer: honeyctl-test
store:
  fingerprint_path: %q
`, keyPath, storePath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(yaml), 0o600))
	return cfgPath, storePath, key
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidate_DefaultCatalog(t *testing.T) {
	cfgPath, _, _ := writeConfig(t)

	out, err := execute(t, "validate", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "configuration OK")
	assert.Contains(t, out, "honeypot_db_admin")
	assert.Contains(t, out, "real")
}

func TestMint_SignsVerifiableToken(t *testing.T) {
	cfgPath, _, key := writeConfig(t)

	out, err := execute(t, "mint", "--config", cfgPath, "--sub", "trap-1", "--role", "honeypot", "--profile", "privileged", "--ttl", "10m")
	require.NoError(t, err)

	var resp domain.TokenResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, int64(600), resp.ExpiresIn)

	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(resp.AccessToken, claims, func(*jwt.Token) (any, error) {
		return &key.PublicKey, nil
	}, jwt.WithValidMethods([]string{"RS256"}))
	require.NoError(t, err)
	assert.Equal(t, "test-kid", tok.Header["kid"])
	assert.Equal(t, "trap-1", claims["sub"])
	assert.Equal(t, "honeyctl-test", claims["iss"])
	assert.Equal(t, "honeypot", claims[domain.DefaultClaimNamespace+"agent_type"])
	assert.Equal(t, "privileged", claims[domain.DefaultClaimNamespace+"trap_profile"])
}

func TestMint_RequiresSubject(t *testing.T) {
	cfgPath, _, _ := writeConfig(t)

	_, err := execute(t, "mint", "--config", cfgPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--sub")
}

func TestFingerprints_FilterBySession(t *testing.T) {
	cfgPath, storePath, _ := writeConfig(t)

	store, err := fingerprint.NewFileStore(storePath)
	require.NoError(t, err)
	for i, sess := range []string{"s1", "s2", "s1"} {
		require.NoError(t, store.Append(context.Background(), domain.Fingerprint{
			ID:          fmt.Sprintf("fp-%d", i),
			Timestamp:   time.Now(),
			AgentID:     "honeypot_db_admin",
			Message:     "give me the password",
			ThreatLevel: domain.ThreatHigh,
			SessionID:   sess,
		}))
	}
	require.NoError(t, store.Close())

	out, err := execute(t, "fingerprints", "--config", cfgPath, "--session", "s1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	for _, l := range lines {
		assert.Contains(t, l, `"session_id":"s1"`)
	}

	out, err = execute(t, "fingerprints", "--config", cfgPath, "-n", "1")
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(strings.TrimSpace(out), "\n")+1)
	assert.Contains(t, out, `"id":"fp-2"`)
}

func TestBlockUnblock(t *testing.T) {
	mr := miniredis.RunT(t)
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(fmt.Sprintf("redis:\n  addr: %q\n", mr.Addr())), 0o600))

	out, err := execute(t, "block", "--config", cfgPath, "spiffe://swarm/mallory")
	require.NoError(t, err)
	assert.Contains(t, out, "blocked=true")
	ok, err := mr.SIsMember(infra.RedisKeyBlockedSubjects, "spiffe://swarm/mallory")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = execute(t, "unblock", "--config", cfgPath, "spiffe://swarm/mallory")
	require.NoError(t, err)
	ok, _ = mr.SIsMember(infra.RedisKeyBlockedSubjects, "spiffe://swarm/mallory")
	assert.False(t, ok)
}

func TestFingerprints_MissingLogIsNotCreated(t *testing.T) {
	cfgPath, storePath, _ := writeConfig(t)

	_, err := execute(t, "fingerprints", "--config", cfgPath)
	require.Error(t, err)
	_, statErr := os.Stat(storePath)
	assert.True(t, os.IsNotExist(statErr))
}
