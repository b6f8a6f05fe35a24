package directory

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
	"go.uber.org/zap"

	"github.com/sells-group/entity-resolver/internal/resilience"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

var validToken = Token{Value: "test-token"}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *HTTPClient {
	t.Helper()
	base := []Option{
		WithBaseURL(srv.URL),
		WithRateLimit(1000),
		WithRetry(resilience.RetryConfig{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}),
	}
	return NewClient(validToken, append(base, opts...)...)
}

func TestLookup_Success(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/companies/search", r.URL.Path)
		assert.Equal(t, "ACME ADVISORS", r.URL.Query().Get("name"))
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
			"company_id": "C-100",
			"name":       "Acme Advisors Inc",
			"confidence": 0.912,
		})
	}))
	defer srv.Close()

	info, err := newTestClient(t, srv).Lookup(context.Background(), "ACME ADVISORS")
	require.NoError(t, err)
	assert.Equal(t, "C-100", info.CompanyID)
	assert.Equal(t, "Acme Advisors Inc", info.Name)
	assert.InDelta(t, 0.91, info.Confidence, 1e-9)
}

func TestLookup_MissingConfidenceUsesDefault(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"company_id":"C-7","name":"Globex"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	info, err := newTestClient(t, srv).Lookup(context.Background(), "GLOBEX")
	require.NoError(t, err)
	assert.InDelta(t, DefaultConfidence, info.Confidence, 1e-9)

	info, err = newTestClient(t, srv, WithDefaultConfidence(0.8)).Lookup(context.Background(), "GLOBEX")
	require.NoError(t, err)
	assert.InDelta(t, 0.8, info.Confidence, 1e-9)
}

func TestLookup_NotFound(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Lookup(context.Background(), "NOBODY")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load(), "404 must not be retried")
}

func TestLookup_EmptyMatchIsNotFound(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"company_id":""}`)) //nolint:errcheck
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Lookup(context.Background(), "NOBODY")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLookup_UnauthorizedStatus(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(status)
		}))

		_, err := newTestClient(t, srv).Lookup(context.Background(), "ACME")
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, int32(1), calls.Load())
		srv.Close()
	}
}

func TestLookup_ExpiredTokenSkipsNetwork(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	expired := Token{Value: "old", ExpiresAt: time.Now().Add(-time.Hour)}
	c := NewClient(expired, WithBaseURL(srv.URL))
	assert.False(t, c.Authorized())
	assert.True(t, NewClient(validToken).Authorized())
	_, err := c.Lookup(context.Background(), "ACME")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = NewClient(Token{}, WithBaseURL(srv.URL)).Lookup(context.Background(), "ACME")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Zero(t, calls.Load())
}

func TestLookup_RetriesServerErrorOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Lookup(context.Background(), "ACME")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestLookup_RetryRecovers(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"company_id":"C-1","confidence":0.97}`)) //nolint:errcheck
	}))
	defer srv.Close()

	info, err := newTestClient(t, srv).Lookup(context.Background(), "ACME")
	require.NoError(t, err)
	assert.Equal(t, "C-1", info.CompanyID)
	assert.Equal(t, int32(2), calls.Load())
}

func TestLookup_OtherClientErrorNotRetried(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv).Lookup(context.Background(), "ACME")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
	assert.Equal(t, int32(1), calls.Load())
}

func TestLookup_TimeoutRetriedOnce(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-time.After(500 * time.Millisecond):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, WithTimeout(30*time.Millisecond)).Lookup(context.Background(), "ACME")
	require.Error(t, err)
	assert.True(t, resilience.IsTransient(err))
	assert.Equal(t, int32(2), calls.Load())
}

func TestLookup_BlankNameIsNotFound(t *testing.T) {
	t.Parallel()

	c := NewClient(validToken, WithBaseURL("http://127.0.0.1:1"))
	_, err := c.Lookup(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestToken_Valid(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	assert.False(t, Token{}.Valid(now))
	assert.True(t, Token{Value: "x"}.Valid(now))
	assert.True(t, Token{Value: "x", ExpiresAt: now.Add(time.Second)}.Valid(now))
	assert.False(t, Token{Value: "x", ExpiresAt: now}.Valid(now))

	exp, err := ParseExpiry("2026-05-01T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC), exp.UTC())

	exp, err = ParseExpiry("")
	require.NoError(t, err)
	assert.True(t, exp.IsZero())
}
