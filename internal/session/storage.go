package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// Storage holds one opaque blob per key. Writes to a key replace the previous
// value; there is no coordination between concurrent writers.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value; a ttl of zero or less keeps it until deleted.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type MemoryStorage struct {
	c *cache.Cache
}

func NewMemoryStorage(cleanupInterval time.Duration) *MemoryStorage {
	return &MemoryStorage{c: cache.New(cache.NoExpiration, cleanupInterval)}
}

func (m *MemoryStorage) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := m.c.Get(key)
	if !ok {
		return "", false, nil
	}
	return v.(string), true, nil
}

func (m *MemoryStorage) Set(_ context.Context, key, value string, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	m.c.Set(key, value, ttl)
	return nil
}

func (m *MemoryStorage) Delete(_ context.Context, key string) error {
	m.c.Delete(key)
	return nil
}

type RedisStorage struct {
	client redis.Cmdable
	prefix string
}

func NewRedisStorage(client redis.Cmdable, prefix string) *RedisStorage {
	return &RedisStorage{client: client, prefix: prefix}
}

func (r *RedisStorage) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("session storage get: %w", err)
	}
	return v, true, nil
}

func (r *RedisStorage) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("session storage set: %w", err)
	}
	return nil
}

func (r *RedisStorage) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("session storage delete: %w", err)
	}
	return nil
}

// ScopedStorage gives each client its own slots in a shared server-side store.
type ScopedStorage struct {
	next  Storage
	scope string
}

func NewScopedStorage(next Storage, scope string) *ScopedStorage {
	return &ScopedStorage{next: next, scope: scope}
}

func (s *ScopedStorage) key(k string) string {
	return s.scope + ":" + k
}

func (s *ScopedStorage) Get(ctx context.Context, key string) (string, bool, error) {
	return s.next.Get(ctx, s.key(key))
}

func (s *ScopedStorage) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.next.Set(ctx, s.key(key), value, ttl)
}

func (s *ScopedStorage) Delete(ctx context.Context, key string) error {
	return s.next.Delete(ctx, s.key(key))
}

type CookieOptions struct {
	Path     string
	Domain   string
	Secure   bool
	SameSite http.SameSite
}

// CookieStorage keeps the blob in an HttpOnly cookie on the client. It is
// bound to a single request; values written during the request are visible to
// later reads in the same request.
type CookieStorage struct {
	w    http.ResponseWriter
	r    *http.Request
	opts CookieOptions

	mu      sync.Mutex
	pending map[string]*string
}

func NewCookieStorage(w http.ResponseWriter, r *http.Request, opts CookieOptions) *CookieStorage {
	if opts.Path == "" {
		opts.Path = "/"
	}
	if opts.SameSite == 0 {
		opts.SameSite = http.SameSiteLaxMode
	}
	return &CookieStorage{w: w, r: r, opts: opts, pending: make(map[string]*string)}
}

func (c *CookieStorage) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.pending[key]; ok {
		if v == nil {
			return "", false, nil
		}
		return *v, true, nil
	}

	cookie, err := c.r.Cookie(key)
	if err != nil || cookie.Value == "" {
		return "", false, nil
	}
	return cookie.Value, true, nil
}

func (c *CookieStorage) Set(_ context.Context, key, value string, ttl time.Duration) error {
	cookie := c.cookie(key, value)
	if ttl > 0 {
		// Cookie lifetimes are whole seconds; round up so the cookie never
		// lapses before the session it carries.
		cookie.MaxAge = int((ttl + time.Second - 1) / time.Second)
		expires := time.Now().Add(ttl)
		if t := expires.Truncate(time.Second); t.Before(expires) {
			expires = t.Add(time.Second)
		}
		cookie.Expires = expires
	}
	http.SetCookie(c.w, cookie)

	c.mu.Lock()
	c.pending[key] = &value
	c.mu.Unlock()
	return nil
}

func (c *CookieStorage) Delete(_ context.Context, key string) error {
	cookie := c.cookie(key, "")
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	http.SetCookie(c.w, cookie)

	c.mu.Lock()
	c.pending[key] = nil
	c.mu.Unlock()
	return nil
}

func (c *CookieStorage) cookie(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     c.opts.Path,
		Domain:   c.opts.Domain,
		Secure:   c.opts.Secure,
		HttpOnly: true,
		SameSite: c.opts.SameSite,
	}
}
