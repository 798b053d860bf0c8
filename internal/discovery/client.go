package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultHost           = "127.0.0.1"
	defaultRequestTimeout = 2 * time.Second
	defaultPollInterval   = 100 * time.Millisecond
	maxBodySize           = 4 << 20
)

type client struct {
	config Config
	http   *http.Client
}

// NewClient creates a new discovery client with the given configuration.
func NewClient(cfg Config) Client {
	if cfg.Host == "" {
		cfg.Host = defaultHost
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	// Clone http.DefaultTransport to keep its dial settings, but avoid pooling
	// connections to short-lived browsers.
	var transport *http.Transport
	if defaultTransport, ok := http.DefaultTransport.(*http.Transport); ok {
		transport = defaultTransport.Clone()
	} else {
		transport = &http.Transport{}
	}
	transport.DisableKeepAlives = true
	transport.Proxy = nil

	return &client{
		config: cfg,
		http:   &http.Client{Transport: transport, Timeout: cfg.RequestTimeout},
	}
}

func (c *client) Targets(ctx context.Context, port int) ([]Target, error) {
	var targets []Target
	if err := c.get(ctx, port, "/json/list", &targets); err != nil {
		return nil, err
	}
	return targets, nil
}

func (c *client) Version(ctx context.Context, port int) (*Version, error) {
	var v Version
	if err := c.get(ctx, port, "/json/version", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *client) WaitReady(ctx context.Context, port int, interval time.Duration) (*Target, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastErr error
	for {
		targets, err := c.Targets(ctx, port)
		if err == nil {
			target, selErr := SelectTarget(targets)
			if selErr == nil {
				return target, nil
			}
			err = selErr
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", ctx.Err(), lastErr)
		case <-ticker.C:
		}
	}
}

func (c *client) get(ctx context.Context, port int, path string, out any) error {
	url := "http://" + net.JoinHostPort(c.config.Host, strconv.Itoa(port)) + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	defer func() { _ = resp.Body.Close() }() //nolint:errcheck // best-effort cleanup

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: GET %s returned %s", ErrNotReady, path, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", ErrNotReady, path, err)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMalformed, path, err)
	}
	return nil
}
