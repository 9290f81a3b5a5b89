// Package geocode pokes the external geocoding collaborator. The pipeline
// never geocodes addresses itself: after an upload lands places that still
// need coordinates, it fires one POST at the collaborator's sweep endpoint
// and moves on. The collaborator owns retries via its own scheduled sweep.
package geocode

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Option configures the trigger client.
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client for trigger requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithRateLimit sets the trigger rate. Uploads finish in bursts and the
// collaborator only needs one poke to start sweeping, so surplus triggers
// inside the limit window are dropped, not queued.
func WithRateLimit(r rate.Limit) Option {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(r, 1)
	}
}

// Client triggers the geocoding service's queue sweep.
type Client struct {
	url        string
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a trigger client for the collaborator at url. The
// token rides along as a bearer credential; there is no other payload.
func NewClient(url, token string, opts ...Option) *Client {
	c := &Client{
		url:        url,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(30*time.Second), 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Trigger fires one POST at the collaborator and returns immediately.
// The request is detached from the caller's cancellation so a finished
// upload cannot kill it mid-flight; failures are logged and dropped.
func (c *Client) Trigger(ctx context.Context) {
	if !c.limiter.Allow() {
		zap.L().Debug("geocode trigger suppressed by rate limit")
		return
	}
	detached := context.WithoutCancel(ctx)
	go func() {
		if err := c.post(detached); err != nil {
			zap.L().Warn("geocode trigger failed", zap.Error(err))
		}
	}()
}

func (c *Client) post(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, nil)
	if err != nil {
		return eris.Wrap(err, "geocode: build trigger request")
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return eris.Wrap(err, "geocode: trigger")
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= 300 {
		return eris.Errorf("geocode: trigger returned status %d", resp.StatusCode)
	}
	zap.L().Debug("geocode sweep triggered")
	return nil
}
