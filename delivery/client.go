package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goliatone/go-crmsync/core"
	goerrors "github.com/goliatone/go-errors"
	"github.com/sony/gobreaker"
)

const defaultResponseBodyLimit int64 = 1 << 20 // 1 MiB

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Option func(*Client)

// WithHTTPDoer replaces the http.Client built from the delivery config.
func WithHTTPDoer(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.doer = doer
		}
	}
}

func WithTokenSource(tokens core.TokenSource) Option {
	return func(c *Client) {
		c.tokens = tokens
	}
}

func WithMaxResponseBodyBytes(limit int64) Option {
	return func(c *Client) {
		if limit > 0 {
			c.maxResponseBodyBytes = limit
		}
	}
}

func WithDefaultHeaders(headers map[string]string) Option {
	return func(c *Client) {
		for key, value := range headers {
			if strings.TrimSpace(key) == "" {
				continue
			}
			c.defaultHeaders[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
	}
}

// WithBreaker installs a circuit breaker around every attempt. It overrides the
// breaker built from config.
func WithBreaker(breaker *gobreaker.CircuitBreaker) Option {
	return func(c *Client) {
		c.breaker = breaker
	}
}

// Client performs exactly one webhook POST per Deliver call. Non-2xx statuses
// are returned as responses; only transport failures are errors.
type Client struct {
	doer                 HTTPDoer
	tokens               core.TokenSource
	breaker              *gobreaker.CircuitBreaker
	defaultHeaders       map[string]string
	maxResponseBodyBytes int64
}

func NewClient(cfg core.DeliveryConfig, opts ...Option) (*Client, error) {
	client := &Client{
		defaultHeaders:       map[string]string{},
		maxResponseBodyBytes: defaultResponseBodyLimit,
	}
	if cfg.Breaker.Enabled {
		client.breaker = NewBreaker("crmsync-delivery", cfg.Breaker)
	}
	for _, opt := range opts {
		if opt != nil {
			opt(client)
		}
	}
	if client.doer == nil {
		client.doer = NewHTTPClient(cfg)
	}
	return client, nil
}

// NewHTTPClient dials with the connect timeout and bounds the whole exchange
// with the request timeout. TLS verification stays on unless the operator
// opts out.
func NewHTTPClient(cfg core.DeliveryConfig) *http.Client {
	connectTimeout := cfg.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = core.DefaultConnectTimeout
	}
	requestTimeout := cfg.RequestTimeout
	if requestTimeout <= 0 {
		requestTimeout = core.DefaultRequestTimeout
	}
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: connectTimeout,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify, //nolint:gosec // explicit operator opt-out
		},
	}
	return &http.Client{Timeout: requestTimeout, Transport: transport}
}

func (c *Client) Deliver(ctx context.Context, req core.DeliveryRequest) (core.DeliveryResponse, error) {
	if c == nil || c.doer == nil {
		return core.DeliveryResponse{}, deliveryError(
			"delivery: client requires an http doer",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			nil,
		)
	}
	if ctx == nil {
		ctx = context.Background()
	}
	target := strings.TrimSpace(req.URL)
	parsedURL, err := url.Parse(target)
	if err != nil || parsedURL.Scheme == "" || parsedURL.Host == "" {
		return core.DeliveryResponse{}, deliveryWrapError(
			err,
			goerrors.CategoryBadInput,
			"delivery: invalid endpoint url",
			http.StatusBadRequest,
			map[string]any{"url": target},
		)
	}

	token := ""
	if c.tokens != nil {
		token, err = c.tokens.Token(ctx)
		if err != nil {
			return core.DeliveryResponse{}, deliveryWrapError(
				err,
				goerrors.CategoryOperation,
				"delivery: resolve bearer token",
				http.StatusInternalServerError,
				nil,
			)
		}
	}

	if c.breaker == nil {
		return c.do(ctx, parsedURL.String(), req, token)
	}
	result, err := c.breaker.Execute(func() (interface{}, error) {
		response, doErr := c.do(ctx, parsedURL.String(), req, token)
		if doErr != nil {
			return response, doErr
		}
		if response.StatusCode >= http.StatusInternalServerError {
			return response, errUpstreamStatus
		}
		return response, nil
	})
	response, _ := result.(core.DeliveryResponse)
	switch {
	case err == nil, errors.Is(err, errUpstreamStatus):
		return response, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return core.DeliveryResponse{}, deliveryWrapError(
			err,
			goerrors.CategoryExternal,
			"delivery: circuit breaker rejected attempt",
			http.StatusServiceUnavailable,
			map[string]any{"url": parsedURL.String(), "breaker_state": c.breaker.State().String()},
		)
	default:
		return response, err
	}
}

var errUpstreamStatus = errors.New("delivery: upstream returned a server error")

func (c *Client) do(ctx context.Context, target string, req core.DeliveryRequest, token string) (core.DeliveryResponse, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(req.Body))
	if err != nil {
		return core.DeliveryResponse{}, deliveryWrapError(
			err,
			goerrors.CategoryBadInput,
			"delivery: create http request",
			http.StatusBadRequest,
			map[string]any{"url": target},
		)
	}
	for key, value := range c.defaultHeaders {
		httpReq.Header.Set(key, value)
	}
	for key, value := range req.Headers {
		if strings.TrimSpace(key) == "" {
			continue
		}
		httpReq.Header.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if token = strings.TrimSpace(token); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	httpRes, err := c.doer.Do(httpReq)
	if err != nil {
		return core.DeliveryResponse{}, deliveryWrapError(
			err,
			goerrors.CategoryExternal,
			"delivery: execute http request",
			http.StatusBadGateway,
			map[string]any{"url": target},
		)
	}
	defer httpRes.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpRes.Body, c.maxResponseBodyBytes))
	if err != nil {
		return core.DeliveryResponse{}, deliveryWrapError(
			err,
			goerrors.CategoryExternal,
			"delivery: read response body",
			http.StatusBadGateway,
			map[string]any{"url": target, "status_code": httpRes.StatusCode},
		)
	}
	return core.DeliveryResponse{
		StatusCode: httpRes.StatusCode,
		Body:       body,
		Headers:    flattenHeaders(httpRes.Header),
	}, nil
}

func flattenHeaders(headers http.Header) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	flat := make(map[string]string, len(headers))
	for key, values := range headers {
		flat[key] = strings.Join(values, ",")
	}
	return flat
}

var _ core.DeliveryClient = (*Client)(nil)
