package directory

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	mu    sync.Mutex
	calls []string
	info  map[string]*CompanyInfo
	err   error
}

func (f *fakeClient) Lookup(_ context.Context, name string) (*CompanyInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.err != nil {
		return nil, f.err
	}
	if info, ok := f.info[name]; ok {
		return info, nil
	}
	return nil, ErrNotFound
}

func TestSession_EnforcesBudget(t *testing.T) {
	fc := &fakeClient{info: map[string]*CompanyInfo{"A": {CompanyID: "C-A", Confidence: 0.95}}}
	s := NewSession(fc, 2)
	ctx := context.Background()

	_, err := s.Lookup(ctx, "A")
	require.NoError(t, err)
	_, err = s.Lookup(ctx, "B")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.False(t, s.Available())
	_, err = s.Lookup(ctx, "C")
	assert.ErrorIs(t, err, ErrBudgetExhausted)

	assert.Equal(t, []string{"A", "B"}, fc.calls)
	assert.Equal(t, 2, s.Consumed())
	assert.Zero(t, s.Remaining())
}

func TestSession_ZeroBudget(t *testing.T) {
	fc := &fakeClient{}
	s := NewSession(fc, 0)

	_, err := s.Lookup(context.Background(), "A")
	assert.ErrorIs(t, err, ErrBudgetExhausted)
	assert.Empty(t, fc.calls)
}

func TestSession_Unlimited(t *testing.T) {
	fc := &fakeClient{}
	s := NewSession(fc, Unlimited)

	for range 100 {
		_, _ = s.Lookup(context.Background(), "A")
	}
	assert.Len(t, fc.calls, 100)
	assert.Equal(t, Unlimited, s.Remaining())
	assert.True(t, s.Available())
}

func TestSession_DisablesOnUnauthorized(t *testing.T) {
	fc := &fakeClient{err: ErrUnauthorized}
	s := NewSession(fc, 10)
	ctx := context.Background()

	_, err := s.Lookup(ctx, "A")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, s.Disabled())
	assert.False(t, s.Available())

	_, err = s.Lookup(ctx, "B")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Len(t, fc.calls, 1)
	assert.Equal(t, 9, s.Remaining())
}

func TestSession_ConcurrentBudget(t *testing.T) {
	fc := &fakeClient{}
	s := NewSession(fc, 5)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.Lookup(context.Background(), "X")
		}()
	}
	wg.Wait()
	assert.Len(t, fc.calls, 5)
	assert.Equal(t, 5, s.Consumed())
}

type tokenlessClient struct {
	fakeClient
}

func (*tokenlessClient) Authorized() bool { return false }

func TestSession_UnauthorizedClientChargesNothing(t *testing.T) {
	fc := &tokenlessClient{}
	s := NewSession(fc, 5)

	_, err := s.Lookup(context.Background(), "A")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Empty(t, fc.calls)
	assert.Equal(t, 0, s.Consumed())
	assert.Equal(t, 5, s.Remaining())
	assert.True(t, s.Disabled())
}

func TestSession_MissingTokenChargesNothing(t *testing.T) {
	s := NewSession(NewClient(Token{}), 5)

	_, err := s.Lookup(context.Background(), "A")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, 0, s.Consumed())
	assert.Equal(t, 5, s.Remaining())
}
