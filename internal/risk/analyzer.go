package risk

import (
	"sort"
	"strings"

	"github.com/xela07ax/honeyagent/internal/domain"
)

// Категории угроз. Теги, которые сообщает сама модель, могут быть любыми:
// незнакомый тег считается низкой серьезности.
const (
	CredentialRequest   = "credential_request"
	PrivilegeEscalation = "privilege_escalation"
	DataExfiltration    = "data_exfiltration"
	SecurityBypass      = "security_bypass"
	PromptInjection     = "prompt_injection"
	Reconnaissance      = "reconnaissance"
	SocialEngineering   = "social_engineering"
)

type category struct {
	tag      string
	high     bool
	keywords []string
}

var categories = []category{
	{CredentialRequest, true, []string{
		"password", "passwd", "credential", "api key", "api_key", "apikey", "secret", "token",
		"private key", "ssh key", "access key", "login details", "connection string",
	}},
	{PrivilegeEscalation, true, []string{
		"sudo", "root access", "admin access", "administrator", "escalate", "elevate",
		"superuser", "grant me", "add me to", "privileges", "chmod 777",
	}},
	{DataExfiltration, true, []string{
		"dump", "exfiltrate", "export all", "download the database", "select * from",
		"copy all", "send me all", "full backup", "all records", "customer data",
	}},
	{SecurityBypass, true, []string{
		"bypass", "disable logging", "disable the firewall", "turn off monitoring",
		"skip authentication", "disable mfa", "disable 2fa", "without approval", "clear the logs",
	}},
	{PromptInjection, true, []string{
		"ignore previous", "ignore all previous", "ignore your instructions", "disregard",
		"system prompt", "you are now", "jailbreak", "developer mode",
	}},
	{Reconnaissance, false, []string{
		"list all", "what systems", "which servers", "enumerate", "network map", "what tools",
		"show me the config", "what version", "internal endpoints", "who has access",
	}},
	{SocialEngineering, false, []string{
		"urgent", "asap", "immediately", "the ceo", "trust me", "i'm from it",
		"authorized by", "my manager", "don't tell",
	}},
}

var highSeverity = func() map[string]bool {
	m := map[string]bool{}
	for _, c := range categories {
		if c.high {
			m[c.tag] = true
		}
	}
	return m
}()

// Analyzer простая разметка по ключевым словам. Без состояния.
type Analyzer struct{}

func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// Tag возвращает отсортированный набор категорий, найденных в тексте.
func (a *Analyzer) Tag(text string) []string {
	lower := strings.ToLower(text)
	var tags []string
	for _, c := range categories {
		for _, kw := range c.keywords {
			if strings.Contains(lower, kw) {
				tags = append(tags, c.tag)
				break
			}
		}
	}
	return Merge(tags)
}

// Merge объединяет наборы тегов: нормализует, убирает дубли, сортирует.
func Merge(sets ...[]string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, set := range sets {
		for _, t := range set {
			t = strings.ToLower(strings.TrimSpace(t))
			t = strings.NewReplacer(" ", "_", "-", "_").Replace(t)
			if t == "" || seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// Level монотонная функция набора: добавление тега никогда не понижает уровень.
// HIGH любой тег высокой серьезности или 3+ тегов; MEDIUM — 1-2; LOW — пусто.
func Level(indicators []string) domain.ThreatLevel {
	tags := Merge(indicators)
	for _, t := range tags {
		if highSeverity[t] {
			return domain.ThreatHigh
		}
	}
	switch {
	case len(tags) >= 3:
		return domain.ThreatHigh
	case len(tags) >= 1:
		return domain.ThreatMedium
	default:
		return domain.ThreatLow
	}
}

// IsHighSeverity сообщает, относится ли тег к высокой серьезности.
func IsHighSeverity(tag string) bool {
	return highSeverity[tag]
}
