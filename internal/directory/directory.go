// Package directory is the client for the external company directory: a
// costly, rate-limited HTTP service that maps a business name to a
// canonical company identifier.
package directory

import (
	"context"

	"github.com/rotisserie/eris"
)

// Client looks up a company by name.
type Client interface {
	// Lookup returns the best match for name. It returns ErrNotFound when the
	// directory has no match and ErrUnauthorized when credentials are
	// missing, expired or rejected.
	Lookup(ctx context.Context, name string) (*CompanyInfo, error)
}

// Authorizer is implemented by clients that can tell, without sending a
// request, whether their credentials are usable.
type Authorizer interface {
	Authorized() bool
}

// CompanyInfo is a directory match.
type CompanyInfo struct {
	CompanyID  string  `json:"company_id"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

var (
	// ErrNotFound means the directory answered but had no match.
	ErrNotFound = eris.New("directory: no match")
	// ErrUnauthorized means the token is absent, expired or was rejected.
	ErrUnauthorized = eris.New("directory: unauthorized")
	// ErrBudgetExhausted means the session spent its call budget.
	ErrBudgetExhausted = eris.New("directory: call budget exhausted")
	// ErrUnavailable means the session disabled itself after an auth failure.
	ErrUnavailable = eris.New("directory: unavailable for this run")
)
