package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// HTTP resolves parties with GET {baseURL}/users/{id}. Positive answers can
// be cached in Redis; misses are never cached so a newly registered user is
// visible immediately.
type HTTP struct {
	baseURL    string
	token      string
	httpClient *http.Client

	redis    *redis.Client
	cacheTTL time.Duration
}

func NewHTTP(baseURL, token string) *HTTP {
	return &HTTP{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// UseRedisCache enables caching of resolved parties for ttl.
func (d *HTTP) UseRedisCache(rdb *redis.Client, ttl time.Duration) {
	d.redis = rdb
	d.cacheTTL = ttl
}

func (d *HTTP) Resolve(ctx context.Context, kind Kind, id uuid.UUID) (*Party, error) {
	if id == uuid.Nil {
		return nil, ErrNotFound
	}
	key := cacheKey(id)
	var p Party
	if d.readCache(ctx, key, &p) {
		return &p, nil
	}

	endpoint := fmt.Sprintf("%s/users/%s", d.baseURL, url.PathEscape(id.String()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, http.NoBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if d.token != "" {
		req.Header.Set("Authorization", "Bearer "+d.token)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("lookup %s %s: %w", kind, id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("lookup %s %s: http %d", kind, id, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	if p.ID == uuid.Nil {
		p.ID = id
	}
	d.writeCache(ctx, key, p)
	return &p, nil
}

func cacheKey(id uuid.UUID) string { return "directory:party:" + id.String() }

func (d *HTTP) readCache(ctx context.Context, key string, out any) bool {
	if d.redis == nil || d.cacheTTL <= 0 {
		return false
	}
	val, err := d.redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(val, out) == nil
}

func (d *HTTP) writeCache(ctx context.Context, key string, val any) {
	if d.redis == nil || d.cacheTTL <= 0 {
		return
	}
	data, err := json.Marshal(val)
	if err != nil {
		return
	}
	_ = d.redis.Set(ctx, key, data, d.cacheTTL).Err()
}
