package storage

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

const (
	DefaultKVKey     = "task-manager-state"
	DefaultKVTimeout = 5 * time.Second

	maxKVResponse = 16 << 20
)

// KVBackend stores the snapshot under one key of a Redis-compatible REST
// key-value service (GET <base>/get/<key>, PUT <base>/set/<key>).
type KVBackend struct {
	baseURL string
	token   string
	key     string
	client  *http.Client
}

type KVOptions struct {
	BaseURL string
	Token   string
	Key     string
	Timeout time.Duration
	// Client overrides the default client; Timeout is ignored when set.
	Client *http.Client
}

type kvGetResponse struct {
	Result json.RawMessage `json:"result"`
}

type kvSetRequest struct {
	Value string `json:"value"`
}

func NewKVBackend(opts KVOptions) (*KVBackend, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("storage: required kv base url")
	} else if opts.Token == "" {
		return nil, errors.New("storage: required kv token")
	}
	if _, err := url.ParseRequestURI(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("storage: bad kv base url: %w", err)
	}
	if opts.Key == "" {
		opts.Key = DefaultKVKey
	}
	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = DefaultKVTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &KVBackend{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		token:   opts.Token,
		key:     opts.Key,
		client:  client,
	}, nil
}

func (b *KVBackend) Load(ctx context.Context) ([]byte, error) {
	resp, err := b.do(ctx, http.MethodGet, "get", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	} else if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("storage: kv get: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxKVResponse))
	if err != nil {
		return nil, fmt.Errorf("storage: kv get: read body: %w", err)
	}
	payload := kvGetResponse{}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("storage: kv get: invalid json: %w", err)
	}
	return kvResultDocument(payload.Result)
}

// kvResultDocument accepts the value both as a JSON string and as an inline object.
func kvResultDocument(result json.RawMessage) ([]byte, error) {
	trimmed := bytes.TrimSpace(result)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("storage: kv get: malformed value: %w", err)
		}
		if s == "" || s == "null" {
			return nil, nil
		}
		if !json.Valid([]byte(s)) {
			return nil, errors.New("storage: kv get: malformed value")
		}
		return []byte(s), nil
	case '{':
		return append([]byte(nil), trimmed...), nil
	default:
		return nil, errors.New("storage: kv get: unexpected payload")
	}
}

func (b *KVBackend) Save(ctx context.Context, doc []byte) error {
	if len(doc) == 0 {
		return errors.New("storage: refusing to save empty snapshot")
	}
	payload, err := json.Marshal(kvSetRequest{Value: string(doc)})
	if err != nil {
		return fmt.Errorf("storage: kv set: marshal: %w", err)
	}
	resp, err := b.do(ctx, http.MethodPut, "set", payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxKVResponse))

	// a 404 on write means the value was not stored
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("storage: kv set: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func (b *KVBackend) Close() error {
	b.client.CloseIdleConnections()
	return nil
}

func (b *KVBackend) do(ctx context.Context, method, verb string, body []byte) (*http.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	endpoint := b.baseURL + "/" + verb + "/" + url.PathEscape(b.key)

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("storage: kv %s: build request: %w", verb, err)
	}
	req.Header.Set("Authorization", "Bearer "+b.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("storage: kv %s: %w", verb, err)
	}
	return resp, nil
}
