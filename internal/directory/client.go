package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/sells-group/entity-resolver/internal/model"
	"github.com/sells-group/entity-resolver/internal/resilience"
)

// DefaultConfidence is applied when the directory omits a match score.
const DefaultConfidence = 0.95

// Option configures the HTTP client.
type Option func(*HTTPClient)

// WithBaseURL sets the directory base URL.
func WithBaseURL(u string) Option {
	return func(c *HTTPClient) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *HTTPClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *HTTPClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRateLimit caps outgoing requests per second.
func WithRateLimit(rps float64) Option {
	return func(c *HTTPClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(1, int(rps)))
		}
	}
}

// WithDefaultConfidence sets the score used when a match has none.
func WithDefaultConfidence(conf float64) Option {
	return func(c *HTTPClient) {
		if conf > 0 {
			c.defaultConfidence = conf
		}
	}
}

// WithRetry overrides the retry timing. Only transient failures are
// retried unless cfg sets its own ShouldRetry.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *HTTPClient) {
		if cfg.ShouldRetry == nil {
			cfg.ShouldRetry = isRetryable
		}
		c.retry = cfg
	}
}

// HTTPClient is the production Client.
type HTTPClient struct {
	baseURL           string
	token             Token
	http              *http.Client
	limiter           *rate.Limiter
	retry             resilience.RetryConfig
	defaultConfidence float64
	now               func() time.Time
}

// NewClient creates a directory client authenticating with token.
func NewClient(token Token, opts ...Option) *HTTPClient {
	retry := resilience.DefaultRetryConfig()
	retry.ShouldRetry = isRetryable
	retry.OnRetry = resilience.RetryLogger("directory", "lookup")

	c := &HTTPClient{
		baseURL: "https://directory.internal",
		token:   token,
		http: &http.Client{
			Timeout: 5 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:           rate.NewLimiter(5, 5),
		retry:             retry,
		defaultConfidence: DefaultConfidence,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Authorized reports whether the token is present and unexpired.
func (c *HTTPClient) Authorized() bool {
	return c.token.Valid(c.now())
}

// searchResponse is the wire format of a search answer. Confidence is a
// pointer so an absent score can be told apart from zero.
type searchResponse struct {
	CompanyID  string   `json:"company_id"`
	Name       string   `json:"name"`
	Confidence *float64 `json:"confidence"`
}

// Lookup searches the directory for name. Timeouts, 429 and 5xx answers are
// retried once; other failures are returned immediately.
func (c *HTTPClient) Lookup(ctx context.Context, name string) (*CompanyInfo, error) {
	if !c.token.Valid(c.now()) {
		return nil, ErrUnauthorized
	}
	if strings.TrimSpace(name) == "" {
		return nil, ErrNotFound
	}

	return resilience.DoVal(ctx, c.retry, func(ctx context.Context) (*CompanyInfo, error) {
		return c.search(ctx, name)
	})
}

func (c *HTTPClient) search(ctx context.Context, name string) (*CompanyInfo, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "directory: rate limit wait")
	}

	endpoint := fmt.Sprintf("%s/v1/companies/search?name=%s", c.baseURL, url.QueryEscape(name))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, eris.Wrap(err, "directory: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token.Value)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if resilience.IsTimeout(err) {
			return nil, resilience.NewTransientError(eris.Wrap(err, "directory: request timeout"), 0)
		}
		return nil, eris.Wrap(err, "directory: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, eris.Wrap(err, "directory: read body")
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, eris.Wrapf(ErrUnauthorized, "status %d", resp.StatusCode)
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return nil, resilience.NewTransientError(
			eris.Errorf("directory: status %d: %s", resp.StatusCode, truncate(body, 200)),
			resp.StatusCode,
		)
	default:
		return nil, eris.Errorf("directory: unexpected status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	var sr searchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, eris.Wrap(err, "directory: decode response")
	}
	if strings.TrimSpace(sr.CompanyID) == "" {
		return nil, ErrNotFound
	}

	conf := c.defaultConfidence
	if sr.Confidence != nil {
		conf = *sr.Confidence
	}
	return &CompanyInfo{
		CompanyID:  strings.TrimSpace(sr.CompanyID),
		Name:       sr.Name,
		Confidence: model.RoundConfidence(conf),
	}, nil
}

// isRetryable limits retries to the failures marked transient by search.
func isRetryable(err error) bool {
	var te *resilience.TransientError
	return errors.As(err, &te)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
