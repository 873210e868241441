package policy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// FGAConfig параметры OpenFGA / Auth0 FGA.
type FGAConfig struct {
	APIURL       string
	StoreID      string
	ClientID     string
	ClientSecret string
	TokenURL     string
	Audience     string
	Relation     string // can_communicate
	Object       string // swarm:swarm-alpha
	Timeout      time.Duration
}

// FGAClient проверяет связь agent:<id> -> relation -> object через /check.
type FGAClient struct {
	cfg    FGAConfig
	http   *http.Client
	logger *zap.Logger
}

type checkRequest struct {
	TupleKey tupleKey `json:"tuple_key"`
}

type tupleKey struct {
	User     string `json:"user"`
	Relation string `json:"relation"`
	Object   string `json:"object"`
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

func NewFGAClient(cfg FGAConfig, logger *zap.Logger) *FGAClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	base := &http.Client{Timeout: cfg.Timeout}

	client := base
	// Без client_id работаем с локальным OpenFGA без авторизации
	if cfg.ClientID != "" {
		cc := clientcredentials.Config{
			ClientID:       cfg.ClientID,
			ClientSecret:   cfg.ClientSecret,
			TokenURL:       cfg.TokenURL,
			EndpointParams: url.Values{"audience": {cfg.Audience}},
		}
		// Токен кешируется внутри TokenSource и обновляется по истечении
		client = cc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, base))
		client.Timeout = cfg.Timeout
	}

	return &FGAClient{
		cfg:    cfg,
		http:   client,
		logger: logger.Named("fga"),
	}
}

// Check никогда не возвращает Denied из-за сбоя: любая ошибка транспорта, статуса
// или разбора ответа — это Unreachable.
func (c *FGAClient) Check(ctx context.Context, subjectID, resource string) (Decision, error) {
	object := c.cfg.Object
	if resource != "" && strings.Contains(resource, ":") {
		object = resource
	}

	body, err := json.Marshal(checkRequest{TupleKey: tupleKey{
		User:     "agent:" + subjectID,
		Relation: c.cfg.Relation,
		Object:   object,
	}})
	if err != nil {
		return Unreachable, fmt.Errorf("%w: encode: %v", ErrUnreachable, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	endpoint := strings.TrimRight(c.cfg.APIURL, "/") + "/stores/" + url.PathEscape(c.cfg.StoreID) + "/check"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Unreachable, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Unreachable, fmt.Errorf("%w: %v", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Unreachable, fmt.Errorf("%w: status %d: %s", ErrUnreachable, resp.StatusCode, string(snippet))
	}

	var out checkResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Unreachable, fmt.Errorf("%w: decode: %v", ErrUnreachable, err)
	}

	if out.Allowed {
		return Allowed, nil
	}
	c.logger.Debug("fga denied", zap.String("subject", subjectID), zap.String("object", object))
	return Denied, nil
}
