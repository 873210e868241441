package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/xela07ax/honeyagent/internal/domain"
)

// Validator проверяет RS256 токены по ключам из KeyCache.
type Validator struct {
	keys      *KeyCache
	issuer    string
	audience  string
	namespace string
}

func NewValidator(keys *KeyCache, issuer, audience, namespace string) *Validator {
	return &Validator{keys: keys, issuer: issuer, audience: audience, namespace: namespace}
}

// VerifyToken возвращает claims агента или ошибку. Ошибка нужна только для логов.
func (v *Validator) VerifyToken(ctx context.Context, tokenStr string) (domain.AgentClaims, error) {
	tokenStr = strings.TrimSpace(strings.TrimPrefix(tokenStr, "Bearer "))

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		opts = append(opts, jwt.WithAudience(v.audience))
	}

	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		return v.keys.Resolve(ctx, kid)
	}, opts...)
	if err != nil || !token.Valid {
		return domain.AgentClaims{}, fmt.Errorf("invalid token: %w", err)
	}

	mc, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return domain.AgentClaims{}, errors.New("invalid claims")
	}
	claims := domain.ClaimsFromMap(mc, v.namespace)
	if claims.Subject == "" {
		return domain.AgentClaims{}, errors.New("invalid token: empty subject")
	}
	return claims, nil
}

// rejectReason сворачивает ошибку проверки в короткую метку для метрик.
func rejectReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "expired"
	case errors.Is(err, ErrUnknownKey):
		return "unknown_key"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "bad_signature"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed"
	case errors.Is(err, jwt.ErrTokenInvalidIssuer), errors.Is(err, jwt.ErrTokenInvalidAudience):
		return "wrong_issuer_or_audience"
	case errors.Is(err, jwt.ErrTokenRequiredClaimMissing):
		return "missing_claim"
	default:
		return "invalid"
	}
}
