package domain

// Role роль, заявленная в claims токена.
type Role string

const (
	RoleReal     Role = "real"
	RoleHoneypot Role = "honeypot"
	RoleUnknown  Role = "unknown"
)

// ParseRole приводит значение claim к одной из известных ролей.
func ParseRole(s string) Role {
	switch Role(s) {
	case RoleReal:
		return RoleReal
	case RoleHoneypot:
		return RoleHoneypot
	default:
		return RoleUnknown
	}
}

// Identity вердикт Identity Evaluator по одному запросу.
// Живет ровно один запрос и сразу уходит в роутер.
type Identity struct {
	Valid      bool   // подпись и срок действия проверены
	SubjectID  string // заполнен тогда и только тогда, когда Valid == true
	Role       Role
	Authorized bool // результат FGA-проверки; при Valid == false всегда false

	// Profile trap_profile из claims, используется только для self-маршрутизации ханипотов.
	Profile string
	// Degraded — policy-сервис был недоступен, Authorized выставлен в режиме fail-open.
	Degraded bool
}

// Anonymous результат для отсутствующего или невалидного токена.
func Anonymous() Identity {
	return Identity{Role: RoleUnknown}
}
