package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"studio/internal/infra"
	"studio/internal/sqlinline"
)

// Provider identifiers recognized by the credential store.
const (
	ProviderKie      = "kie"
	ProviderKling    = "kling"
	ProviderPixa     = "pixa"
	ProviderOutpaint = "outpaint"
)

// Store resolves provider API keys persisted in the database. Environment
// variables take precedence; the store is the fallback so keys can be rotated
// without a redeploy.
type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored key for a provider, or empty when none is set.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores or replaces the key for a provider.
func (s *Store) SetToken(ctx context.Context, provider, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("credentials: token is required")
	}
	return s.upsert(ctx, provider, token, nil)
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw)
	return err
}

// FillMissing populates provider API keys absent from the environment with
// stored values. Keys already set on the config are left alone.
func (s *Store) FillMissing(ctx context.Context, cfg *infra.Config) error {
	targets := []struct {
		provider string
		key      *string
	}{
		{ProviderKie, &cfg.KieAPIKey},
		{ProviderKling, &cfg.KlingAPIKey},
		{ProviderPixa, &cfg.PixaAPIKey},
		{ProviderOutpaint, &cfg.OutpaintAPIKey},
	}
	for _, t := range targets {
		if *t.key != "" {
			continue
		}
		token, err := s.Token(ctx, t.provider)
		if err != nil {
			return err
		}
		*t.key = token
	}
	return nil
}
