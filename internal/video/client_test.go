package video

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/scoutreport/internal/cache"
	"github.com/kiranshivaraju/scoutreport/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func videoServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func TestGetVideoMetadata_ValidResponse(t *testing.T) {
	ts := videoServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/videos/V1", r.URL.Path)
		assert.Equal(t, http.MethodGet, r.Method)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"id":            "V1",
				"title":         "Finals Game 1",
				"streaming_url": "http://cdn.example.com/v1.mp4",
				"duration":      3600,
				"content_type":  "video/mp4",
			},
		})
	})

	c := NewHTTPClient(ts.URL, 5*time.Second)
	meta, err := c.GetVideoMetadata(context.Background(), "V1")
	require.NoError(t, err)
	assert.Equal(t, "V1", meta.ID)
	assert.Equal(t, "Finals Game 1", meta.Title)
	assert.Equal(t, float64(3600), meta.DurationSeconds)
	assert.Equal(t, "http://cdn.example.com/v1.mp4", meta.PlayableLocation)
	assert.Equal(t, "video/mp4", meta.ContentType)
}

func TestGetVideoMetadata_NotFound(t *testing.T) {
	ts := videoServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	c := NewHTTPClient(ts.URL, 5*time.Second)
	_, err := c.GetVideoMetadata(context.Background(), "V404")
	assert.ErrorIs(t, err, ErrVideoNotFound)
	assert.NotErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestGetVideoMetadata_ServerError(t *testing.T) {
	ts := videoServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	c := NewHTTPClient(ts.URL, 5*time.Second)
	_, err := c.GetVideoMetadata(context.Background(), "V1")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestGetVideoMetadata_MalformedBody(t *testing.T) {
	ts := videoServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("{not json"))
	})

	c := NewHTTPClient(ts.URL, 5*time.Second)
	_, err := c.GetVideoMetadata(context.Background(), "V1")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestGetVideoMetadata_Timeout(t *testing.T) {
	release := make(chan struct{})
	ts := videoServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	c := NewHTTPClient(ts.URL, 50*time.Millisecond)
	_, err := c.GetVideoMetadata(context.Background(), "V1")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestGetVideoMetadata_Unreachable(t *testing.T) {
	c := NewHTTPClient("http://127.0.0.1:1", time.Second)
	_, err := c.GetVideoMetadata(context.Background(), "V1")
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}

func TestGetVideoMetadata_EscapesID(t *testing.T) {
	ts := videoServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/videos/a%2Fb", r.URL.EscapedPath())
		w.Write([]byte(`{"data":{"title":"x"}}`))
	})

	c := NewHTTPClient(ts.URL, 5*time.Second)
	_, err := c.GetVideoMetadata(context.Background(), "a/b")
	require.NoError(t, err)
}

// --- CachedClient ---

type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemCache() *memCache { return &memCache{data: map[string][]byte{}} }

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}
func (m *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}
func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}
func (m *memCache) Ping(_ context.Context) error { return nil }
func (m *memCache) SetReportStatus(_ context.Context, _ uuid.UUID, _ cache.StatusEntry, _ time.Duration) error {
	return nil
}
func (m *memCache) GetReportStatus(_ context.Context, _ uuid.UUID) (*cache.StatusEntry, bool, error) {
	return nil, false, nil
}
func (m *memCache) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 0, nil
}

type countingClient struct {
	calls int
	err   error
}

func (c *countingClient) GetVideoMetadata(_ context.Context, id string) (*models.VideoMetadata, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return &models.VideoMetadata{ID: id, Title: "clip " + id}, nil
}

func TestCachedClient_ServesRepeatLookupsFromCache(t *testing.T) {
	next := &countingClient{}
	c := NewCachedClient(next, newMemCache(), time.Minute)

	for i := 0; i < 3; i++ {
		meta, err := c.GetVideoMetadata(context.Background(), "V1")
		require.NoError(t, err)
		assert.Equal(t, "clip V1", meta.Title)
	}
	assert.Equal(t, 1, next.calls)
}

func TestCachedClient_DoesNotCacheErrors(t *testing.T) {
	next := &countingClient{err: ErrVideoNotFound}
	c := NewCachedClient(next, newMemCache(), time.Minute)

	_, err := c.GetVideoMetadata(context.Background(), "V404")
	assert.ErrorIs(t, err, ErrVideoNotFound)
	_, err = c.GetVideoMetadata(context.Background(), "V404")
	assert.ErrorIs(t, err, ErrVideoNotFound)
	assert.Equal(t, 2, next.calls)
}

func TestCachedClient_CacheFailureFallsThrough(t *testing.T) {
	next := &countingClient{}
	mc := newMemCache()
	mc.err = errors.New("redis down")
	c := NewCachedClient(next, mc, time.Minute)

	meta, err := c.GetVideoMetadata(context.Background(), "V1")
	require.NoError(t, err)
	assert.Equal(t, "V1", meta.ID)
	assert.Equal(t, 1, next.calls)
}

func TestNewCachedClient_ZeroTTLDisables(t *testing.T) {
	next := &countingClient{}
	c := NewCachedClient(next, newMemCache(), 0)
	assert.Same(t, next, c)
}
