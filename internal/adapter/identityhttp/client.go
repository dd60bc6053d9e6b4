// Package identityhttp implements identityprovider.Provider against a remote
// identity service over its REST API.
package identityhttp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Strob0t/TenantForge/internal/adapter/otel"
	"github.com/Strob0t/TenantForge/internal/config"
	"github.com/Strob0t/TenantForge/internal/domain/identity"
	"github.com/Strob0t/TenantForge/internal/metrics"
	"github.com/Strob0t/TenantForge/internal/port/identityprovider"
	"github.com/Strob0t/TenantForge/internal/resilience"
)

// Client talks to the identity service. Every call passes through a circuit
// breaker; not-found and rejected answers do not count as failures.
type Client struct {
	http    *resty.Client
	breaker *resilience.Breaker
	metrics *otel.Metrics
}

var _ identityprovider.Provider = (*Client)(nil)

// New creates a Client from the identity and breaker config.
func New(cfg config.Identity, bcfg config.Breaker) *Client {
	hc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetTransport(otel.Transport(nil)).
		SetHeader("Accept", "application/json").
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(retryIdempotent)
	if cfg.ServiceKey != "" {
		hc.SetAuthToken(cfg.ServiceKey)
	}

	b := resilience.NewBreaker(bcfg.MaxFailures, bcfg.Timeout)
	b.SetFailurePredicate(countsAsFailure)
	b.OnStateChange(func(s resilience.State) {
		switch s {
		case resilience.StateClosed:
			metrics.IdentityBreakerState.Set(0)
		case resilience.StateHalfOpen:
			metrics.IdentityBreakerState.Set(1)
		case resilience.StateOpen:
			metrics.IdentityBreakerState.Set(2)
		}
	})

	return &Client{http: hc, breaker: b}
}

// WithMetrics records call latency on m.
func (c *Client) WithMetrics(m *otel.Metrics) *Client {
	c.metrics = m
	return c
}

// Breaker exposes the circuit breaker for health reporting.
func (c *Client) Breaker() *resilience.Breaker { return c.breaker }

// retryIdempotent retries transport errors and 5xx answers, but only for
// reads and deletes. A create is never retried blindly.
func retryIdempotent(resp *resty.Response, err error) bool {
	if resp == nil || resp.Request == nil {
		return false
	}
	switch resp.Request.Method {
	case http.MethodGet, http.MethodDelete:
	default:
		return false
	}
	return err != nil || resp.StatusCode() >= 500
}

func countsAsFailure(err error) bool {
	return !errors.Is(err, identityprovider.ErrIdentityNotFound) &&
		!errors.Is(err, identityprovider.ErrRejected) &&
		!errors.Is(err, context.Canceled)
}

type createBody struct {
	Email string        `json:"email"`
	Kind  identity.Kind `json:"kind"`
}

type identityBody struct {
	ID        string        `json:"id"`
	Email     string        `json:"email"`
	Kind      identity.Kind `json:"kind"`
	CreatedAt time.Time     `json:"created_at"`
}

type credentialBody struct {
	Field identity.Field `json:"field"`
	Value string         `json:"value"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (c *Client) CreateIdentity(ctx context.Context, email string, kind identity.Kind) (identityprovider.Created, error) {
	var out identityBody
	err := c.do(ctx, "create identity", func(r *resty.Request) (*resty.Response, error) {
		return r.SetBody(createBody{Email: email, Kind: kind}).SetResult(&out).Post("/v1/identities")
	})
	if err != nil {
		return identityprovider.Created{}, err
	}
	if out.ID == "" {
		return identityprovider.Created{}, errors.New("create identity: response carries no id")
	}
	return identityprovider.Created{ID: out.ID, Email: out.Email}, nil
}

func (c *Client) GetIdentity(ctx context.Context, id string) (*identity.Identity, error) {
	var out identityBody
	err := c.do(ctx, "get identity "+id, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", id).SetResult(&out).Get("/v1/identities/{id}")
	})
	if err != nil {
		return nil, err
	}
	return &identity.Identity{ID: out.ID, Email: out.Email, Kind: out.Kind, CreatedAt: out.CreatedAt}, nil
}

func (c *Client) DeleteIdentity(ctx context.Context, id string) error {
	return c.do(ctx, "delete identity "+id, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", id).Delete("/v1/identities/{id}")
	})
}

func (c *Client) SendVerificationLink(ctx context.Context, id string) error {
	return c.do(ctx, "send verification link "+id, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", id).Post("/v1/identities/{id}/verification")
	})
}

func (c *Client) UpdateCredential(ctx context.Context, id string, field identity.Field, value string) error {
	return c.do(ctx, "update credential "+id, func(r *resty.Request) (*resty.Response, error) {
		return r.SetPathParam("id", id).
			SetBody(credentialBody{Field: field, Value: value}).
			Patch("/v1/identities/{id}/credentials")
	})
}

// do runs one request through the breaker and maps the HTTP status onto the
// port's sentinel errors.
func (c *Client) do(ctx context.Context, op string, send func(*resty.Request) (*resty.Response, error)) error {
	start := time.Now()
	err := c.breaker.Execute(func() error {
		var apiErr errorBody
		resp, err := send(c.http.R().SetContext(ctx).SetError(&apiErr))
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		return statusError(op, resp.StatusCode(), apiErr)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if c.metrics != nil {
		c.metrics.IdentityCallMS.Record(ctx, float64(time.Since(start).Milliseconds()))
	}
	return err
}

func statusError(op string, status int, body errorBody) error {
	switch {
	case status < 300:
		return nil
	case status == http.StatusNotFound:
		return fmt.Errorf("%s: %w", op, identityprovider.ErrIdentityNotFound)
	case status >= 400 && status < 500:
		return fmt.Errorf("%s: status %d %s %s: %w", op, status, body.Code, body.Error, identityprovider.ErrRejected)
	default:
		return fmt.Errorf("%s: identity service returned %d", op, status)
	}
}
