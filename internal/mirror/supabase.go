package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SupabaseConfig configures the PostgREST-backed store.
type SupabaseConfig struct {
	ProjectURL string // e.g. https://abc.supabase.co
	APIKey     string // service role key; sent as apikey and bearer token
	Table      string
	HTTPClient *http.Client // optional
}

// SupabaseStore keeps records in a Supabase table through the PostgREST API.
// The table needs text columns key (primary key) and value, and a timestamptz updated_at.
type SupabaseStore struct {
	prefix string
	apiKey string
	client *http.Client
}

type supabaseRow struct {
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewSupabaseStore validates cfg and returns a store.
func NewSupabaseStore(cfg SupabaseConfig) (*SupabaseStore, error) {
	if cfg.ProjectURL == "" {
		return nil, errors.New("mirror: supabase project URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("mirror: supabase api key is required")
	}
	if !tableNameRe.MatchString(cfg.Table) {
		return nil, fmt.Errorf("mirror: invalid table name %q", cfg.Table)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SupabaseStore{
		prefix: strings.TrimRight(cfg.ProjectURL, "/") + "/rest/v1/" + url.PathEscape(cfg.Table),
		apiKey: cfg.APIKey,
		client: client,
	}, nil
}

func (s *SupabaseStore) Get(ctx context.Context, key string) (string, error) {
	q := url.Values{}
	q.Set("key", "eq."+key)
	q.Set("select", "value")
	body, err := s.do(ctx, http.MethodGet, s.prefix+"?"+q.Encode(), nil, nil)
	if err != nil {
		return "", fmt.Errorf("mirror: get %s: %w", key, err)
	}
	var rows []supabaseRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return "", fmt.Errorf("mirror: get %s: decode: %w", key, err)
	}
	if len(rows) == 0 {
		return "", ErrNotFound
	}
	return rows[0].Value, nil
}

func (s *SupabaseStore) Set(ctx context.Context, key, value string) error {
	payload, err := json.Marshal([]supabaseRow{{Key: key, Value: value, UpdatedAt: nowFunc().UTC()}})
	if err != nil {
		return fmt.Errorf("mirror: set %s: encode: %w", key, err)
	}
	q := url.Values{}
	q.Set("on_conflict", "key")
	headers := map[string]string{"Prefer": "resolution=merge-duplicates,return=minimal"}
	if _, err := s.do(ctx, http.MethodPost, s.prefix+"?"+q.Encode(), payload, headers); err != nil {
		return fmt.Errorf("mirror: set %s: %w", key, err)
	}
	return nil
}

func (s *SupabaseStore) Delete(ctx context.Context, key string) error {
	q := url.Values{}
	q.Set("key", "eq."+key)
	if _, err := s.do(ctx, http.MethodDelete, s.prefix+"?"+q.Encode(), nil, nil); err != nil {
		return fmt.Errorf("mirror: delete %s: %w", key, err)
	}
	return nil
}

func (s *SupabaseStore) do(ctx context.Context, method, rawURL string, body []byte, headers map[string]string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("apikey", s.apiKey)
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("supabase %s: status %d: %s", method, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}
