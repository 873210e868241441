package domain

// Capability — инструмент, который агенту разрешено вызывать.
type Capability string

const (
	CapRecordInteraction    Capability = "record_interaction"
	CapQuerySimilarPatterns Capability = "query_similar_patterns"
	CapSynthesizeCredential Capability = "synthesize_credential"
)

// KnownCapabilities закрытый список; все прочее отвергается при загрузке конфига.
var KnownCapabilities = map[Capability]bool{
	CapRecordInteraction:    true,
	CapQuerySimilarPatterns: true,
	CapSynthesizeCredential: true,
}

// HoneypotOnly возможности, которые пишут в хранилище отпечатков или раскрывают
// синтезированные креды. Реальному агенту их выдавать нельзя.
var HoneypotOnly = map[Capability]bool{
	CapRecordInteraction:    true,
	CapSynthesizeCredential: true,
}

// AgentDefinition статическое описание агента из конфигурации.
type AgentDefinition struct {
	Name         string       `mapstructure:"-" json:"name"`                    // ключ в каталоге
	DisplayName  string       `mapstructure:"display_name" json:"display_name"` // "db-admin-001"
	Description  string       `mapstructure:"description" json:"description"`
	Persona      string       `mapstructure:"persona" json:"-"`
	PersonaFile  string       `mapstructure:"persona_file" json:"-"`
	Model        string       `mapstructure:"model" json:"model,omitempty"`
	IsHoneypot   bool         `mapstructure:"honeypot" json:"is_honeypot"`
	Capabilities []Capability `mapstructure:"capabilities" json:"-"`
	Fallback     string       `mapstructure:"fallback" json:"-"`
}

// Permits проверяет allow-list. Реальный агент не получает инструментов вообще.
func (a AgentDefinition) Permits(c Capability) bool {
	if !a.IsHoneypot {
		return false
	}
	for _, have := range a.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}
