// Package remote talks to the back-office REST API: role-routed dashboard
// endpoints, the raw collection endpoints and the liveness probe.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"goflare.io/pulse/internal/config"
	"goflare.io/pulse/internal/models"
	"goflare.io/pulse/internal/retrier"
	"goflare.io/pulse/internal/telemetry"
)

// Collections served by the list endpoints.
const (
	Users     = "users"
	Companies = "companies"
	Products  = "products"
	Sales     = "sales"
)

const (
	healthEndpoint = "health"
	maxBodyBytes   = 16 << 20
)

// Client is safe for concurrent use.
type Client struct {
	baseURL    *url.URL
	token      string
	httpClient *http.Client
	retrier    *retrier.Retrier
	telemetry  *telemetry.Collector
	tracer     trace.Tracer
	logger     *zap.Logger

	cbSettings gobreaker.Settings
	cbMu       sync.Mutex
	cbMap      map[string]*gobreaker.CircuitBreaker
}

// NewClient creates a Client from cfg. collector may be nil.
func NewClient(cfg *config.Config, collector *telemetry.Collector) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.API.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("invalid api base url: %w", err)
	}

	r, err := retrier.NewRetrier(
		cfg.ResilienceConfig.MaxRetries,
		cfg.ResilienceConfig.InitialInterval,
		cfg.ResilienceConfig.MaxInterval,
		cfg.ResilienceConfig.Multiplier,
		cfg.ResilienceConfig.RandomizationFactor,
		retrier.ExponentialBackoff,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create retrier: %w", err)
	}

	httpClient := cfg.API.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    base,
		token:      cfg.API.Token,
		httpClient: httpClient,
		retrier:    r,
		telemetry:  collector,
		tracer:     otel.Tracer("pulse/remote"),
		logger:     cfg.Logger,
		cbSettings: cfg.ResilienceConfig.EndpointCircuitBreaker,
		cbMap:      make(map[string]*gobreaker.CircuitBreaker),
	}, nil
}

// Dashboard calls the consolidated endpoint for role. The answer must be a JSON object.
func (c *Client) Dashboard(ctx context.Context, role models.Role, period string) (map[string]any, error) {
	endpoint := "dashboard/" + string(role)
	body, err := c.getJSON(ctx, endpoint, endpoint+"/", url.Values{"period": {period}})
	if err != nil {
		return nil, err
	}

	obj, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: expected object, got %T", ErrMalformed, endpoint, body)
	}
	return obj, nil
}

// List fetches a collection. Both a bare array and a {"results": [...]}
// envelope are accepted; non-object items are dropped.
func (c *Client) List(ctx context.Context, collection string) ([]map[string]any, error) {
	body, err := c.getJSON(ctx, collection, collection+"/", nil)
	if err != nil {
		return nil, err
	}

	var items []any
	switch v := body.(type) {
	case []any:
		items = v
	case map[string]any:
		results, ok := v["results"].([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s: object without results", ErrMalformed, collection)
		}
		items = results
	default:
		return nil, fmt.Errorf("%w: %s: expected list, got %T", ErrMalformed, collection, body)
	}

	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

// Health calls the liveness endpoint.
func (c *Client) Health(ctx context.Context) (map[string]any, error) {
	body, err := c.getJSON(ctx, healthEndpoint, healthEndpoint+"/", nil)
	if err != nil {
		return nil, err
	}
	obj, ok := body.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s: expected object, got %T", ErrMalformed, healthEndpoint, body)
	}
	return obj, nil
}

func (c *Client) breaker(endpoint string) *gobreaker.CircuitBreaker {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()

	cb, ok := c.cbMap[endpoint]
	if !ok {
		settings := c.cbSettings
		settings.Name = endpoint
		settings.IsSuccessful = func(err error) bool {
			return err == nil || isClientError(err)
		}
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			c.logger.Warn("Circuit breaker state changed",
				zap.String("endpoint", name), zap.String("from", from.String()), zap.String("to", to.String()))
		}
		cb = gobreaker.NewCircuitBreaker(settings)
		c.cbMap[endpoint] = cb
	}
	return cb
}

func (c *Client) getJSON(ctx context.Context, endpoint, path string, query url.Values) (any, error) {
	ctx, span := c.tracer.Start(ctx, "Client.Get", trace.WithAttributes(attribute.String("endpoint", endpoint)))
	defer span.End()

	u := c.baseURL.JoinPath(path)
	// JoinPath drops the trailing slash the API routes expect.
	if !strings.HasSuffix(u.Path, "/") {
		u.Path += "/"
	}
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}

	start := time.Now()
	var body any
	_, err := c.breaker(endpoint).Execute(func() (any, error) {
		return nil, c.retrier.Run(ctx, func() error {
			var err error
			body, err = c.do(ctx, endpoint, u.String())
			return err
		})
	})

	if c.telemetry != nil {
		c.telemetry.Remote(endpoint, err, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	return body, nil
}

func (c *Client) do(ctx context.Context, endpoint, target string) (any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return nil, &StatusError{Endpoint: endpoint, Code: resp.StatusCode}
	}

	var body any
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return body, nil
}
