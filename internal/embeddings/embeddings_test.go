package embeddings

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/conductor/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestHashProvider_Dimension(t *testing.T) {
	p := NewHashProvider(64)
	ctx := context.Background()

	for _, text := range []string{"", "hello", "the quick brown fox", "¿qué? 日本語 123", "!!! ---"} {
		vec, err := p.Embed(ctx, text)
		require.NoError(t, err)
		assert.Len(t, vec, 64, "text %q", text)
	}
}

func TestHashProvider_EmptyIsZero(t *testing.T) {
	p := NewHashProvider(32)
	for _, text := range []string{"", "   ", "?!.,"} {
		vec, err := p.Embed(context.Background(), text)
		require.NoError(t, err)
		for _, x := range vec {
			assert.Zero(t, x)
		}
	}
}

func TestHashProvider_DeterministicUnitVectors(t *testing.T) {
	p := NewHashProvider(128)
	ctx := context.Background()

	a, _ := p.Embed(ctx, "Deploy the API gateway")
	b, _ := p.Embed(ctx, "deploy the api GATEWAY")
	assert.Equal(t, a, b, "case and punctuation insensitive")
	assert.InDelta(t, 1.0, Dot(a, a), 1e-5)

	c, _ := p.Embed(ctx, "unrelated billing report")
	assert.Less(t, Dot(a, c), Dot(a, b))
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"hello", "world", "42"}, Tokenize("Hello, world! 42"))
	assert.Empty(t, Tokenize("  ...  "))
}

func newEmbedServer(t *testing.T, dim int, fail *atomic.Bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail != nil && fail.Load() {
			http.Error(w, "overloaded", http.StatusServiceUnavailable)
			return
		}
		var req remoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		vec := make([]float32, dim)
		vec[len(req.Text)%dim] = 1
		_ = json.NewEncoder(w).Encode(remoteResponse{Vector: vec})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRemoteProvider(t *testing.T) {
	srv := newEmbedServer(t, 8, nil)
	p, err := NewRemoteProvider(RemoteConfig{URL: srv.URL, Dimension: 8, RateLimit: 100})
	require.NoError(t, err)

	vec, err := p.Embed(context.Background(), "abc")
	require.NoError(t, err)
	assert.Equal(t, float32(1), vec[3])

	wrong, err := NewRemoteProvider(RemoteConfig{URL: srv.URL, Dimension: 4})
	require.NoError(t, err)
	_, err = wrong.Embed(context.Background(), "abc")
	assert.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestRemoteProvider_InvalidConfig(t *testing.T) {
	_, err := NewRemoteProvider(RemoteConfig{Dimension: 8})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFallbackProvider_NeverFails(t *testing.T) {
	var fail atomic.Bool
	srv := newEmbedServer(t, 16, &fail)
	remote, err := NewRemoteProvider(RemoteConfig{URL: srv.URL, Dimension: 16, Timeout: time.Second})
	require.NoError(t, err)

	core, logs := observer.New(zapcore.WarnLevel)
	local := NewHashProvider(16)
	p := NewFallbackProvider(remote, local, zap.New(core))
	ctx := context.Background()

	vec, err := p.Embed(ctx, "abcd")
	require.NoError(t, err)
	assert.Equal(t, float32(1), vec[4], "remote answer used while healthy")

	fail.Store(true)
	vec, err = p.Embed(ctx, "abcd")
	require.NoError(t, err)
	want, _ := local.Embed(ctx, "abcd")
	assert.Equal(t, want, vec)
	assert.Equal(t, 1, logs.Len())
}

func TestFallbackProvider_UnreachableRemote(t *testing.T) {
	remote, err := NewRemoteProvider(RemoteConfig{URL: "http://127.0.0.1:1/embed", Dimension: 8, Timeout: 200 * time.Millisecond})
	require.NoError(t, err)
	p := NewFallbackProvider(remote, NewHashProvider(8), nil)

	vec, err := p.Embed(context.Background(), "still works")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
}

type countingProvider struct {
	*HashProvider
	calls atomic.Int32
	err   error
}

func (c *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	c.calls.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.HashProvider.Embed(ctx, text)
}

func TestCachedProvider(t *testing.T) {
	inner := &countingProvider{HashProvider: NewHashProvider(16)}
	p, err := NewCachedProvider(inner, 100)
	require.NoError(t, err)
	defer p.Close()
	ctx := context.Background()

	first, err := p.Embed(ctx, "cache me")
	require.NoError(t, err)
	p.Wait()

	first[0] = 99 // callers own the returned slice
	second, err := p.Embed(ctx, "cache me")
	require.NoError(t, err)
	assert.NotEqual(t, float32(99), second[0])
	assert.Equal(t, 16, p.Dimension())

	failing := &countingProvider{HashProvider: NewHashProvider(16), err: errors.New("boom")}
	fp, err := NewCachedProvider(failing, 10)
	require.NoError(t, err)
	_, err = fp.Embed(ctx, "x")
	assert.Error(t, err)
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(config.EmbeddingsConfig{Provider: "hash", Dimension: 32}, nil)
	require.NoError(t, err)
	assert.Equal(t, 32, p.Dimension())

	srv := newEmbedServer(t, 32, nil)
	p, err = NewProvider(config.EmbeddingsConfig{Provider: "remote", Dimension: 32, RemoteURL: srv.URL, CacheSize: 10}, nil)
	require.NoError(t, err)
	assert.IsType(t, &CachedProvider{}, p)

	_, err = NewProvider(config.EmbeddingsConfig{Provider: "quantum", Dimension: 32}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewProvider(config.EmbeddingsConfig{Provider: "hash"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}
