package secrets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

// VaultResolver resolves vault(path#key) references against a Vault
// KV v2 mount. Resolved values are cached for a short TTL so that a
// config with several references to the same secret performs one read.
type VaultResolver struct {
	address   string
	token     string
	mountPath string
	cacheTTL  time.Duration

	client *http.Client

	mu    sync.Mutex
	cache map[string]vaultEntry
}

type vaultEntry struct {
	value   string
	expires time.Time
}

// VaultOption configures a VaultResolver.
type VaultOption func(*VaultResolver)

// WithMountPath overrides the KV v2 mount path (default "secret").
func WithMountPath(p string) VaultOption {
	return func(v *VaultResolver) { v.mountPath = strings.Trim(p, "/") }
}

// WithCacheTTL overrides how long resolved values are cached.
func WithCacheTTL(d time.Duration) VaultOption {
	return func(v *VaultResolver) { v.cacheTTL = d }
}

// WithVaultHTTPClient sets a custom HTTP client.
func WithVaultHTTPClient(c *http.Client) VaultOption {
	return func(v *VaultResolver) { v.client = c }
}

// NewVaultResolver creates a resolver for the Vault server at address.
func NewVaultResolver(address, token string, opts ...VaultOption) *VaultResolver {
	v := &VaultResolver{
		address:   strings.TrimRight(address, "/"),
		token:     token,
		mountPath: "secret",
		cacheTTL:  5 * time.Minute,
		client:    &http.Client{Timeout: 10 * time.Second},
		cache:     make(map[string]vaultEntry),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Resolve fetches a vault(path#key) reference. When no key is given
// the secret's "value" key is read.
func (v *VaultResolver) Resolve(ctx context.Context, ref string) (string, error) {
	inner, ok := refArg(ref, "vault")
	if !ok {
		return "", fmt.Errorf("invalid vault ref format: %q (expected vault(path#key))", ref)
	}
	path, key, found := strings.Cut(inner, "#")
	if !found {
		key = "value"
	}

	cacheKey := path + "#" + key
	if value, ok := v.cached(cacheKey); ok {
		return value, nil
	}

	value, err := v.read(ctx, path, key)
	if err != nil {
		return "", err
	}

	v.mu.Lock()
	v.cache[cacheKey] = vaultEntry{value: value, expires: time.Now().Add(v.cacheTTL)}
	v.mu.Unlock()
	return value, nil
}

func (v *VaultResolver) cached(key string) (string, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	entry, ok := v.cache[key]
	if !ok || time.Now().After(entry.expires) {
		return "", false
	}
	return entry.value, true
}

// read performs a KV v2 read: GET /v1/{mount}/data/{path}.
func (v *VaultResolver) read(ctx context.Context, path, key string) (string, error) {
	url := fmt.Sprintf("%s/v1/%s/data/%s", v.address, v.mountPath, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", v.token)

	resp, err := v.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("vault request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("vault response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("vault error (status %d): %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var payload struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("vault response: %w", err)
	}
	raw, ok := payload.Data.Data[key]
	if !ok {
		return "", fmt.Errorf("key %q not found in vault secret %s", key, path)
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("vault secret %s key %q is not a string", path, key)
	}
	return s, nil
}
