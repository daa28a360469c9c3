// Package gbp talks to the Google Business Profile APIs on behalf of a single
// user. Credentials are passed into every call; the client itself holds none.
package gbp

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/option"
)

const (
	defaultReviewsBaseURL = "https://mybusiness.googleapis.com"
	defaultTimeout        = 30 * time.Second
)

// Client implements the review source, reply publisher and location catalog
// used by the automation service.
type Client struct {
	httpClient     *http.Client
	reviewsBaseURL string
	// Overrides for the generated API clients, used against test servers.
	accountsEndpoint    string
	informationEndpoint string
	limiter             *rate.Limiter
}

type Option func(*Client)

// WithHTTPClient sets the transport the oauth2 client wraps.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithEndpoints points the client at alternative API hosts.
func WithEndpoints(reviews, accounts, information string) Option {
	return func(c *Client) {
		c.reviewsBaseURL = reviews
		c.accountsEndpoint = accounts
		c.informationEndpoint = information
	}
}

// NewClient returns a client that issues at most requestsPerSecond calls
// across all users. A non-positive rate disables throttling.
func NewClient(requestsPerSecond float64, opts ...Option) *Client {
	limit := rate.Inf
	if requestsPerSecond > 0 {
		limit = rate.Limit(requestsPerSecond)
	}
	c := &Client{
		httpClient:     &http.Client{Timeout: defaultTimeout},
		reviewsBaseURL: defaultReviewsBaseURL,
		limiter:        rate.NewLimiter(limit, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// authorized returns an HTTP client that signs requests with ts.
func (c *Client) authorized(ctx context.Context, ts oauth2.TokenSource) *http.Client {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	return oauth2.NewClient(ctx, ts)
}

func (c *Client) serviceOptions(ctx context.Context, ts oauth2.TokenSource, endpoint string) []option.ClientOption {
	opts := []option.ClientOption{option.WithHTTPClient(c.authorized(ctx, ts))}
	if endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}
	return opts
}

func (c *Client) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}
