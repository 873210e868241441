package identity

import (
	"crypto/rsa"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/honeyagent/internal/domain"
)

// MintOptions параметры dev-токена агента.
type MintOptions struct {
	KID       string
	Subject   string
	Role      domain.Role
	Profile   string
	Issuer    string
	Audience  string
	Namespace string
	TTL       time.Duration
}

// Mint подписывает RS256 токен с теми же claims, что выдает IdP (honeyctl mint, тесты).
func Mint(key *rsa.PrivateKey, opts MintOptions, now time.Time) (string, error) {
	if opts.Namespace == "" {
		opts.Namespace = domain.DefaultClaimNamespace
	}
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}

	claims := jwt.MapClaims{
		"sub": opts.Subject,
		"iat": now.Unix(),
		"exp": now.Add(opts.TTL).Unix(),
	}
	if opts.Issuer != "" {
		claims["iss"] = opts.Issuer
	}
	if opts.Audience != "" {
		claims["aud"] = opts.Audience
	}
	if opts.Role != "" {
		claims[opts.Namespace+"agent_type"] = string(opts.Role)
	}
	if opts.Profile != "" {
		claims[opts.Namespace+"trap_profile"] = opts.Profile
	}

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	if opts.KID != "" {
		tok.Header["kid"] = opts.KID
	}
	return tok.SignedString(key)
}
