package identity

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/golang-jwt/jwt/v5"
)

var ErrUnknownKey = errors.New("signing key not found")

// KeySet неизменяемый снимок ключей IdP. Заменяется целиком.
type KeySet struct {
	keys    map[string]*rsa.PublicKey
	fetched time.Time
}

func NewKeySet(keys map[string]*rsa.PublicKey) *KeySet {
	cp := make(map[string]*rsa.PublicKey, len(keys))
	for kid, k := range keys {
		cp[kid] = k
	}
	return &KeySet{keys: cp, fetched: time.Now()}
}

// Lookup ищет ключ по kid. Токен без kid допустим, только если ключ ровно один.
func (s *KeySet) Lookup(kid string) (*rsa.PublicKey, bool) {
	if s == nil {
		return nil, false
	}
	if kid == "" {
		if len(s.keys) != 1 {
			return nil, false
		}
		for _, k := range s.keys {
			return k, true
		}
	}
	k, ok := s.keys[kid]
	return k, ok
}

func (s *KeySet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// KeySource get_signing_keys() внешнего IdP.
type KeySource interface {
	FetchKeys(ctx context.Context) (*KeySet, error)
}

// JWKSSource читает /.well-known/jwks.json.
type JWKSSource struct {
	URL    string
	Client *http.Client
}

func (s *JWKSSource) FetchKeys(ctx context.Context) (*KeySet, error) {
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch jwks: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read jwks: %w", err)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("decode jwks: %w", err)
	}

	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.Use != "" && k.Use != "sig" {
			continue
		}
		pub, ok := k.Key.(*rsa.PublicKey)
		if !ok {
			continue
		}
		keys[k.KeyID] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks contains no RSA signing keys")
	}
	return NewKeySet(keys), nil
}

// StaticSource один PEM-ключ из конфига (dev и тесты).
type StaticSource struct {
	KID string
	Key *rsa.PublicKey
}

func NewStaticSource(kid string, pemData []byte) (*StaticSource, error) {
	if len(pemData) == 0 {
		return nil, fmt.Errorf("public key data is empty")
	}
	key, err := jwt.ParseRSAPublicKeyFromPEM(pemData)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	return &StaticSource{KID: kid, Key: key}, nil
}

func (s *StaticSource) FetchKeys(_ context.Context) (*KeySet, error) {
	return NewKeySet(map[string]*rsa.PublicKey{s.KID: s.Key}), nil
}

// ParseRSAPrivateKey превращает PEM в ключ для подписи (только для honeyctl mint)
func ParseRSAPrivateKey(data []byte) (*rsa.PrivateKey, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("private key data is empty")
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	return key, nil
}
