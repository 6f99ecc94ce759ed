package userdir

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mapCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newMapCache() *mapCache {
	return &mapCache{entries: map[string]string{}}
}

func (c *mapCache) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = value.(string)

	return nil
}

func (c *mapCache) Get(_ context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.entries[key], nil
}

func (c *mapCache) GenerateKey(operation, key string) string {
	return "test:" + operation + ":" + key
}

func TestLookup_ReturnsProfile(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		assert.Equal(t, "/api/users/7", r.URL.Path)
		require.NoError(t, json.NewEncoder(w).Encode(Profile{
			ID:        7,
			Email:     "jordan@example.com",
			FirstName: "Jordan",
			LastName:  "Lee",
			Role:      "customer",
		}))
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	profile, err := client.Lookup(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), profile.ID)
	assert.Equal(t, "jordan@example.com", profile.Email)
	assert.Equal(t, 1, hits)
}

func TestLookup_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)

	_, err := client.Lookup(context.Background(), 404)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestLookup_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	srv.Close()

	client := NewClient(srv.URL)

	_, err := client.Lookup(context.Background(), 7)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUserNotFound)
}

func TestLookup_SecondCallHitsCache(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		require.NoError(t, json.NewEncoder(w).Encode(Profile{ID: 7, Email: "jordan@example.com"}))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, WithCache(newMapCache(), time.Minute))

	first, err := client.Lookup(context.Background(), 7)
	require.NoError(t, err)

	second, err := client.Lookup(context.Background(), 7)
	require.NoError(t, err)

	assert.Equal(t, first.Email, second.Email)
	assert.Equal(t, 1, hits)
}
