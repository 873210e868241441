package domain

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultClaimNamespace пространство имен кастомных claims (как в Auth0 Actions).
const DefaultClaimNamespace = "https://honeyagent.io/"

// AgentClaims то, что нам нужно из проверенного токена.
type AgentClaims struct {
	Subject   string
	AgentType string // "real" | "honeypot" | ""
	Profile   string // trap_profile
}

// ClaimsFromMap извлекает данные агента из MapClaims с учетом namespace.
func ClaimsFromMap(claims jwt.MapClaims, namespace string) AgentClaims {
	if namespace == "" {
		namespace = DefaultClaimNamespace
	}
	sub, _ := claims.GetSubject()

	out := AgentClaims{
		// M2M-токены Auth0 приходят с суффиксом "@clients"
		Subject: strings.TrimSuffix(sub, "@clients"),
	}
	if v, ok := claims[namespace+"agent_type"].(string); ok {
		out.AgentType = v
	}
	if v, ok := claims[namespace+"trap_profile"].(string); ok {
		out.Profile = v
	}
	return out
}

// TokenResponse — ответ honeyctl mint.
type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"` // Всегда "Bearer"
	ExpiresIn   int64  `json:"expires_in"`
}
