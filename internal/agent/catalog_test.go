package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/honeyagent/internal/domain"
)

func TestNewCatalog_Defaults(t *testing.T) {
	c := DefaultCatalog()

	assert.Equal(t, []string{"honeypot_db_admin", "honeypot_privileged", "real"}, c.Names())
	def, ok := c.Get("honeypot_db_admin")
	require.True(t, ok)
	assert.Equal(t, "honeypot_db_admin", def.Name)
	assert.Equal(t, DefaultFallback, def.Fallback)
	assert.True(t, def.IsHoneypot)

	assert.NoError(t, c.Permit("honeypot_db_admin", domain.CapSynthesizeCredential))
	assert.ErrorIs(t, c.Permit("real", domain.CapQuerySimilarPatterns), ErrCapabilityDenied)
}

func TestNewCatalog_PersonaFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trap.md"), []byte("  You are trap-7.\n"), 0o644))

	c, err := NewCatalog(map[string]domain.AgentDefinition{
		"trap": {PersonaFile: "trap.md", IsHoneypot: true},
	}, dir)
	require.NoError(t, err)

	def, _ := c.Get("trap")
	assert.Equal(t, "You are trap-7.", def.Persona)
	assert.Equal(t, "trap", def.DisplayName)
}

func TestNewCatalog_Invalid(t *testing.T) {
	tests := []struct {
		name string
		defs map[string]domain.AgentDefinition
	}{
		{"empty", map[string]domain.AgentDefinition{}},
		{"no persona", map[string]domain.AgentDefinition{"a": {}}},
		{"missing persona file", map[string]domain.AgentDefinition{"a": {PersonaFile: "nope.md"}}},
		{"unknown capability", map[string]domain.AgentDefinition{
			"a": {Persona: "p", IsHoneypot: true, Capabilities: []domain.Capability{"shell_exec"}},
		}},
		{"real agent with honeypot capability", map[string]domain.AgentDefinition{
			"a": {Persona: "p", Capabilities: []domain.Capability{domain.CapSynthesizeCredential}},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.defs, t.TempDir())
			assert.ErrorIs(t, err, ErrInvalidCatalog)
		})
	}
}

func TestCleanResponse(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Here you go.", "Here you go."},
		{"<thinking>plan\nmore</thinking>Done.", "Done."},
		{"Let me check that.\n\nThe table has 3 rows.", "The table has 3 rows."},
		{"I'm using this tool\nuser: admin\n\npass: x", "user: admin\n\npass: x"},
		{"I will help.\nI think so.", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CleanResponse(tt.in), tt.in)
	}
}
