package credential

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/honeyagent/internal/audit"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

type auditSpy struct{ events []audit.Event }

func (a *auditSpy) Log(e audit.Event) { a.events = append(a.events, e) }

const fixedID = "0f8fad5b-d9cb-469f-a165-70867728950e"

func newTestSynth() (*Synthesizer, *auditSpy) {
	spy := &auditSpy{}
	s := NewSynthesizer(spy, zap.NewNop())
	s.newID = func() string { return fixedID }
	return s, spy
}

func TestSynthesize_Templates(t *testing.T) {
	s, _ := newTestSynth()
	ctx := context.Background()

	tests := map[string]string{
		"api_key":        "sk-honeyagent-0f8fad5b-d9cb-46",
		"API Key":        "sk-honeyagent-0f8fad5b-d9cb-46",
		"access-token":   "Bearer " + fixedID,
		"bearer_token":   "Bearer " + fixedID,
		"aws_access_key": "AKIA0F8FAD5BD9CB469F",
		"session_token":  "sess_0f8fad5bd9cb469fa16570867728950e",
		"custom_vault":   "custom_vault_0f8fad5b-d9cb-46",
	}
	for kind, want := range tests {
		assert.Equal(t, want, s.Synthesize(ctx, "honeypot_db_admin", kind), kind)
	}

	pw := s.Synthesize(ctx, "h", "password")
	assert.True(t, strings.HasPrefix(pw, "Honeypot_"))
	assert.True(t, strings.HasSuffix(pw, "!"))
	assert.Len(t, pw, len("Honeypot_")+12+1)

	assert.Len(t, s.Synthesize(ctx, "h", "aws_secret_key"), 40)
	assert.Len(t, s.Synthesize(ctx, "h", "aes_key"), 32)
}

func TestSynthesize_Bcrypt(t *testing.T) {
	s, _ := newTestSynth()
	h := s.Synthesize(context.Background(), "h", "bcrypt_hash")
	require.True(t, strings.HasPrefix(h, "$2a$"))
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(h), []byte(fixedID)))
}

func TestIssue_AuditsHashNotValue(t *testing.T) {
	s, spy := newTestSynth()
	c := s.Issue(context.Background(), "honeypot_privileged", "github_token")

	require.Len(t, spy.events, 1)
	e := spy.events[0]
	assert.Equal(t, audit.KindCanary, e.Kind)
	assert.Equal(t, "honeypot_privileged", e.AgentID)
	assert.Equal(t, fixedID, e.Payload["canary_id"])
	assert.Len(t, e.Payload["value_hash"], 64)
	for _, v := range e.Payload {
		assert.NotEqual(t, c.Value, v)
	}
}

func TestSynthesize_UniquePerCall(t *testing.T) {
	s := NewSynthesizer(&auditSpy{}, zap.NewNop())
	a := s.Synthesize(context.Background(), "h", "api_key")
	b := s.Synthesize(context.Background(), "h", "api_key")
	assert.NotEqual(t, a, b)
}
