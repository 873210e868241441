package routing

import (
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/xela07ax/honeyagent/internal/domain"
)

// RuleKind — закрытый набор правил. Порядок значений = порядок проверки.
type RuleKind int

const (
	InvalidCredential RuleKind = iota
	AuthorizationDenied
	SelfRouting
	AuthorizedReal
	Fallback
)

func (k RuleKind) String() string {
	switch k {
	case InvalidCredential:
		return "invalid_credential"
	case AuthorizationDenied:
		return "authorization_denied"
	case SelfRouting:
		return "self_routing"
	case AuthorizedReal:
		return "authorized_real"
	default:
		return "routing_fallback"
	}
}

const (
	// DestinationSelf ханипот вызывает инструмент сам для себя, без перемаршрутизации.
	DestinationSelf = "self"

	LabelInvalidCredential   = "invalid_credential"
	LabelAuthorizationDenied = "authorization_denied"
	LabelFallback            = "routing_fallback"
)

var ErrInvalidTable = errors.New("invalid routing table")

// Table цели маршрутизации. Загружается один раз и дальше не меняется.
type Table struct {
	DefaultHoneypot string
	DeniedHoneypot  string
	RealPool        []string
	// trap_profile -> ханипот, в контексте которого выполняется self-вызов
	SelfProfiles map[string]string
	DefaultSelf  string
}

// Decision результат маршрутизации.
type Decision struct {
	Rule        RuleKind
	Destination string // логическое имя; для SelfRouting — "self"
	Agent       string // конкретный агент из каталога
	EventLabel  string // пусто для штатных исходов
}

// Honeypot true, если запрос уходит на ханипот (включая self).
func (d Decision) Honeypot() bool {
	return d.Rule != AuthorizedReal
}

// Router чистая функция от Identity. Никакого времени и случайности.
type Router struct {
	table Table
}

func NewRouter(t Table) *Router {
	pool := make([]string, len(t.RealPool))
	copy(pool, t.RealPool)
	t.RealPool = pool
	return &Router{table: t}
}

// Route тотальна: каждое Identity получает ровно одно решение.
func (r *Router) Route(id domain.Identity) Decision {
	switch {
	case !id.Valid:
		return Decision{Rule: InvalidCredential, Destination: r.table.DefaultHoneypot, Agent: r.table.DefaultHoneypot, EventLabel: LabelInvalidCredential}
	case !id.Authorized:
		return Decision{Rule: AuthorizationDenied, Destination: r.table.DeniedHoneypot, Agent: r.table.DeniedHoneypot, EventLabel: LabelAuthorizationDenied}
	case id.Role == domain.RoleHoneypot:
		return Decision{Rule: SelfRouting, Destination: DestinationSelf, Agent: r.selfAgent(id.Profile)}
	case len(r.table.RealPool) > 0:
		return Decision{Rule: AuthorizedReal, Destination: r.poolMember(id.SubjectID), Agent: r.poolMember(id.SubjectID)}
	}
	// Недостижимо при валидной таблице. Безопасный исход — ханипот
	return Decision{Rule: Fallback, Destination: r.table.DefaultHoneypot, Agent: r.table.DefaultHoneypot, EventLabel: LabelFallback}
}

func (r *Router) selfAgent(profile string) string {
	if a, ok := r.table.SelfProfiles[profile]; ok {
		return a
	}
	return r.table.DefaultSelf
}

// poolMember — FNV-1a от subject: один и тот же агент всегда попадает на одного члена пула.
func (r *Router) poolMember(subject string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(subject))
	return r.table.RealPool[h.Sum32()%uint32(len(r.table.RealPool))]
}

// Targets все агенты, которые Route может вернуть.
func (r *Router) Targets() []string {
	out := []string{r.table.DefaultHoneypot, r.table.DeniedHoneypot, r.table.DefaultSelf}
	for _, a := range r.table.SelfProfiles {
		out = append(out, a)
	}
	return append(out, r.table.RealPool...)
}

// Catalog то, что роутеру нужно знать об агентах при проверке таблицы.
type Catalog interface {
	Get(name string) (domain.AgentDefinition, bool)
}

// Validate проверка при старте: каждая цель существует и имеет правильный тип.
// Реальный агент в honeypot-слоте или ханипот в реальном пуле — ошибка конфигурации.
func (r *Router) Validate(c Catalog) error {
	var errs []error

	honeypots := map[string]string{
		"default_honeypot": r.table.DefaultHoneypot,
		"denied_honeypot":  r.table.DeniedHoneypot,
		"default_self":     r.table.DefaultSelf,
	}
	for p, a := range r.table.SelfProfiles {
		honeypots["self_profiles."+p] = a
	}
	for slot, name := range honeypots {
		def, ok := c.Get(name)
		switch {
		case name == "":
			errs = append(errs, fmt.Errorf("%s is not set", slot))
		case !ok:
			errs = append(errs, fmt.Errorf("%s references unknown agent %q", slot, name))
		case !def.IsHoneypot:
			errs = append(errs, fmt.Errorf("%s references non-honeypot agent %q", slot, name))
		}
	}

	if len(r.table.RealPool) == 0 {
		errs = append(errs, errors.New("real_pool is empty"))
	}
	for _, name := range r.table.RealPool {
		def, ok := c.Get(name)
		switch {
		case !ok:
			errs = append(errs, fmt.Errorf("real_pool references unknown agent %q", name))
		case def.IsHoneypot:
			errs = append(errs, fmt.Errorf("real_pool references honeypot agent %q", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidTable, errors.Join(errs...))
	}
	return nil
}
