package directory

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatic_Resolve(t *testing.T) {
	id := uuid.New()
	p, err := Static{}.Resolve(context.Background(), KindProvider, id)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)

	_, err = Static{}.Resolve(context.Background(), KindSubject, uuid.Nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func newUserServer(t *testing.T, known uuid.UUID, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.Header.Get("Authorization") != "Bearer svc-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/users/"+known.String() {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"` + known.String() + `","name":"Dr. Ada","role":"DOCTOR"}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestHTTP_Resolve(t *testing.T) {
	known := uuid.New()
	var hits int32
	srv := newUserServer(t, known, &hits)
	d := NewHTTP(srv.URL+"/", "svc-token")

	p, err := d.Resolve(context.Background(), KindProvider, known)
	require.NoError(t, err)
	assert.Equal(t, "Dr. Ada", p.Name)
	assert.Equal(t, "DOCTOR", p.Role)

	_, err = d.Resolve(context.Background(), KindSubject, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHTTP_ResolveUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewHTTP(srv.URL, "").Resolve(context.Background(), KindOwner, uuid.New())
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.True(t, strings.Contains(err.Error(), "502"))
}

func TestHTTP_ResolveUsesRedisCache(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	known := uuid.New()
	var hits int32
	srv := newUserServer(t, known, &hits)
	d := NewHTTP(srv.URL, "svc-token")
	d.UseRedisCache(rdb, time.Minute)

	for i := 0; i < 3; i++ {
		p, err := d.Resolve(context.Background(), KindProvider, known)
		require.NoError(t, err)
		assert.Equal(t, known, p.ID)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
	assert.True(t, mr.Exists(cacheKey(known)))

	missing := uuid.New()
	for i := 0; i < 2; i++ {
		_, err := d.Resolve(context.Background(), KindSubject, missing)
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.False(t, mr.Exists(cacheKey(missing)))
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}
