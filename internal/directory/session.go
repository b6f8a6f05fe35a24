package directory

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Unlimited disables the session call budget.
const Unlimited = -1

// Session wraps a Client for one resolution run. It enforces the run's call
// budget and switches itself off after the first authorization failure.
type Session struct {
	client Client

	mu        sync.Mutex
	remaining int
	consumed  int
	disabled  bool
}

// NewSession creates a session allowing budget calls. Pass Unlimited for
// background work that is not budgeted.
func NewSession(client Client, budget int) *Session {
	if budget < 0 {
		budget = Unlimited
	}
	return &Session{client: client, remaining: budget}
}

// Lookup forwards to the client while budget remains. Every forwarded call
// consumes budget, whatever its outcome. A client that reports unusable
// credentials is never called and charges nothing.
func (s *Session) Lookup(ctx context.Context, name string) (*CompanyInfo, error) {
	s.mu.Lock()
	switch {
	case s.disabled:
		s.mu.Unlock()
		return nil, ErrUnavailable
	case s.remaining == 0:
		s.mu.Unlock()
		return nil, ErrBudgetExhausted
	}
	if a, ok := s.client.(Authorizer); ok && !a.Authorized() {
		s.mu.Unlock()
		s.disable(ErrUnauthorized)
		return nil, ErrUnauthorized
	}
	if s.remaining != Unlimited {
		s.remaining--
	}
	s.consumed++
	s.mu.Unlock()

	info, err := s.client.Lookup(ctx, name)
	if errors.Is(err, ErrUnauthorized) {
		s.disable(err)
	}
	return info, err
}

func (s *Session) disable(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disabled {
		return
	}
	s.disabled = true
	zap.L().Warn("directory: authorization failed, external lookups disabled for this run",
		zap.Int("calls_consumed", s.consumed),
		zap.Error(err),
	)
}

// Available reports whether another Lookup could reach the client.
func (s *Session) Available() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.disabled && s.remaining != 0
}

// Disabled reports whether an authorization failure switched the session off.
func (s *Session) Disabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disabled
}

// Remaining returns the unspent budget, or Unlimited.
func (s *Session) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Consumed returns the number of calls forwarded to the client.
func (s *Session) Consumed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.consumed
}
