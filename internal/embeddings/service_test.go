package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTEI answers /embed with one 2-dimensional vector per input.
func fakeTEI(t *testing.T, status int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/embed", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		if status != http.StatusOK {
			http.Error(w, "model overloaded", status)
			return
		}

		var req struct {
			Inputs   json.RawMessage `json:"inputs"`
			Truncate bool            `json:"truncate"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.True(t, req.Truncate)

		var many []string
		if err := json.Unmarshal(req.Inputs, &many); err != nil {
			var one string
			require.NoError(t, json.Unmarshal(req.Inputs, &one))
			many = []string{one}
		}
		out := make([][]float32, len(many))
		for i, s := range many {
			out[i] = []float32{float32(len(s)), float32(i)}
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestNewService(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "valid", config: Config{BaseURL: "http://localhost:8080", Model: "BAAI/bge-small-en-v1.5"}},
		{name: "with rate limit", config: Config{BaseURL: "http://localhost:8080", RequestsPerSecond: 0.5}},
		{name: "empty base URL", config: Config{}, wantErr: true},
		{name: "negative rate", config: Config{BaseURL: "http://x", RequestsPerSecond: -1}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, err := NewService(tt.config, nil)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, svc)
		})
	}
}

func TestService_EmbedDocuments(t *testing.T) {
	srv, _ := fakeTEI(t, http.StatusOK)
	svc, err := NewService(Config{BaseURL: srv.URL + "/", Model: "test"}, nil)
	require.NoError(t, err)

	vectors, err := svc.EmbedDocuments(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {2, 1}, {3, 2}}, vectors)

	_, err = svc.EmbedDocuments(context.Background(), nil)
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestService_EmbedQuery(t *testing.T) {
	srv, _ := fakeTEI(t, http.StatusOK)
	svc, err := NewService(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	vector, err := svc.EmbedQuery(context.Background(), "four")
	require.NoError(t, err)
	assert.Equal(t, []float32{4, 0}, vector)

	_, err = svc.EmbedQuery(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyInput)
}

func TestService_UpstreamError(t *testing.T) {
	srv, _ := fakeTEI(t, http.StatusServiceUnavailable)
	svc, err := NewService(Config{BaseURL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = svc.EmbedDocuments(context.Background(), []string{"x"})
	require.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "503")
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestService_BearerToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`[[0.5]]`))
	}))
	defer srv.Close()

	svc, err := NewService(Config{BaseURL: srv.URL, APIKey: "secret"}, nil)
	require.NoError(t, err)
	_, err = svc.EmbedQuery(context.Background(), "q")
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
}

func TestService_RateLimitHonorsContext(t *testing.T) {
	srv, calls := fakeTEI(t, http.StatusOK)
	svc, err := NewService(Config{BaseURL: srv.URL, RequestsPerSecond: 0.01}, nil)
	require.NoError(t, err)

	_, err = svc.EmbedQuery(context.Background(), "first")
	require.NoError(t, err, "the first request uses the initial burst")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = svc.EmbedQuery(ctx, "second")
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Equal(t, int32(1), calls.Load())
}
