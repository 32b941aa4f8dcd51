package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorage(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStorage(time.Minute)

	_, ok, err := st.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, st.Set(ctx, "k", "v1", 0))
	require.NoError(t, st.Set(ctx, "k", "v2", 0))
	v, ok, err := st.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)

	require.NoError(t, st.Set(ctx, "short", "v", time.Millisecond))
	time.Sleep(5 * time.Millisecond)
	_, ok, _ = st.Get(ctx, "short")
	assert.False(t, ok)

	require.NoError(t, st.Delete(ctx, "k"))
	_, ok, _ = st.Get(ctx, "k")
	assert.False(t, ok)
}

func TestScopedStorage_IsolatesClients(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryStorage(time.Minute)
	a := NewScopedStorage(shared, "client-a")
	b := NewScopedStorage(shared, "client-b")

	require.NoError(t, a.Set(ctx, KindAdmin.StorageKey(), "blob-a", 0))
	_, ok, _ := b.Get(ctx, KindAdmin.StorageKey())
	assert.False(t, ok)

	v, ok, _ := shared.Get(ctx, "client-a:admin_session")
	assert.True(t, ok)
	assert.Equal(t, "blob-a", v)
}

func TestCookieStorage_RoundTrip(t *testing.T) {
	ctx := context.Background()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/login", nil)
	st := NewCookieStorage(rec, req, CookieOptions{Secure: true})

	require.NoError(t, st.Set(ctx, "admin_session", "blob", 10*time.Minute))
	v, ok, _ := st.Get(ctx, "admin_session")
	assert.True(t, ok, "write is visible within the same request")
	assert.Equal(t, "blob", v)

	res := rec.Result()
	cookies := res.Cookies()
	require.Len(t, cookies, 1)
	c := cookies[0]
	assert.Equal(t, "admin_session", c.Name)
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, 600, c.MaxAge)

	next := httptest.NewRequest(http.MethodGet, "/session", nil)
	next.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	st2 := NewCookieStorage(httptest.NewRecorder(), next, CookieOptions{})
	v, ok, _ = st2.Get(ctx, "admin_session")
	assert.True(t, ok)
	assert.Equal(t, "blob", v)

	rec3 := httptest.NewRecorder()
	st3 := NewCookieStorage(rec3, next, CookieOptions{})
	require.NoError(t, st3.Delete(ctx, "admin_session"))
	_, ok, _ = st3.Get(ctx, "admin_session")
	assert.False(t, ok)
	require.Len(t, rec3.Result().Cookies(), 1)
	assert.True(t, rec3.Result().Cookies()[0].MaxAge < 0)
}

func TestCookieStorage_OutlivesTTL(t *testing.T) {
	for _, ttl := range []time.Duration{100 * time.Millisecond, 1500 * time.Millisecond, 10*time.Minute + 575*time.Millisecond} {
		rec := httptest.NewRecorder()
		st := NewCookieStorage(rec, httptest.NewRequest(http.MethodPost, "/", nil), CookieOptions{})
		before := time.Now()
		require.NoError(t, st.Set(context.Background(), "admin_session", "blob", ttl))

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		c := cookies[0]
		assert.GreaterOrEqual(t, time.Duration(c.MaxAge)*time.Second, ttl, "max-age for %s", ttl)
		assert.Less(t, time.Duration(c.MaxAge)*time.Second, ttl+time.Second, "max-age for %s", ttl)
		assert.False(t, c.Expires.Before(before.Add(ttl)), "expires for %s", ttl)
	}
}

func TestManagerWithCookieStorage(t *testing.T) {
	ctx := context.Background()
	clock := newClock(0)
	base := NewManager(KindAdmin, ManagerOptions{Window: window, Codec: newAEAD(t), Clock: clock.Now})

	rec := httptest.NewRecorder()
	_, err := base.WithStorage(NewCookieStorage(rec, httptest.NewRequest(http.MethodPost, "/", nil), CookieOptions{})).
		Store(ctx, adminProfile())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	s, err := base.WithStorage(NewCookieStorage(httptest.NewRecorder(), req, CookieOptions{})).Get(ctx)
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "a-1", s.SubjectID)
}

// fakeRedis answers the commands RedisStorage issues from a map. Any other
// command panics on the nil embedded interface.
type fakeRedis struct {
	redis.Cmdable
	data map[string]string
	ttls map[string]time.Duration
	err  error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{data: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.err != nil {
		return redis.NewStringResult("", f.err)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.err != nil {
		return redis.NewStatusResult("", f.err)
	}
	f.data[key] = value.(string)
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	if f.err != nil {
		return redis.NewIntResult(0, f.err)
	}
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestRedisStorage(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	st := NewRedisStorage(fake, "portal:session:")

	_, ok, err := st.Get(ctx, "admin_session")
	require.NoError(t, err, "a missing key is not an error")
	assert.False(t, ok)

	require.NoError(t, st.Set(ctx, "admin_session", "blob", 10*time.Minute))
	assert.Equal(t, "blob", fake.data["portal:session:admin_session"])
	assert.Equal(t, 10*time.Minute, fake.ttls["portal:session:admin_session"])

	v, ok, err := st.Get(ctx, "admin_session")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "blob", v)

	require.NoError(t, st.Set(ctx, "org_session", "blob", -time.Second))
	assert.Zero(t, fake.ttls["portal:session:org_session"], "negative ttl means no expiry")

	require.NoError(t, st.Delete(ctx, "admin_session"))
	_, ok, _ = st.Get(ctx, "admin_session")
	assert.False(t, ok)
	require.NoError(t, st.Delete(ctx, "admin_session"), "deleting twice is fine")
}

func TestRedisStorage_Errors(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	fake.err = errors.New("connection refused")
	st := NewRedisStorage(fake, "p:")

	_, ok, err := st.Get(ctx, "k")
	assert.ErrorIs(t, err, fake.err)
	assert.False(t, ok)
	assert.ErrorIs(t, st.Set(ctx, "k", "v", time.Minute), fake.err)
	assert.ErrorIs(t, st.Delete(ctx, "k"), fake.err)
}

func TestRedisStorage_ScopedKeys(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	st := NewScopedStorage(NewRedisStorage(fake, "portal:session:"), "client-a")

	require.NoError(t, st.Set(ctx, KindAdmin.StorageKey(), "blob", time.Minute))
	assert.Contains(t, fake.data, "portal:session:client-a:admin_session")
}
