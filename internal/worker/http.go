package worker

import (
	"context"
	"fmt"
	"net/http"
)

// HTTPBody streams the response body of a GET request.
type HTTPBody struct {
	client *http.Client
	cfg    Config
}

// NewHTTPBody creates an HTTP body using a transport with the configured
// response header timeout.
func NewHTTPBody(cfg Config) *HTTPBody {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.RequestTimeout
	return &HTTPBody{
		client: &http.Client{Transport: transport},
		cfg:    cfg,
	}
}

// Run implements Body.
func (b *HTTPBody) Run(ctx context.Context, target string, l Ledger, id int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if b.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", b.cfg.UserAgent)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status: %s", resp.Status)
	}

	if err := stream(ctx, resp.Body, NewMeter(l, id, b.cfg), b.cfg); err != nil {
		return fmt.Errorf("transfer interrupted: %w", err)
	}
	return nil
}
