package spapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/julienbonastre/fba-inbound-helpers/internal/inbound"
	"github.com/julienbonastre/fba-inbound-helpers/internal/metrics"
)

var tracer = otel.Tracer("github.com/julienbonastre/fba-inbound-helpers/internal/spapi")

const (
	// Far East endpoint (JP marketplace)
	DefaultBaseURL  = "https://sellingpartnerapi-fe.amazon.com"
	DefaultTokenURL = "https://api.amazon.com/auth/o2/token"

	DefaultMarketplaceID    = "A1VC38T7YXB528"
	DefaultMaxCreateRetries = 3
	DefaultSellerCentralURL = "https://sellercentral.amazon.co.jp"

	inboundPath = "/inbound/fba/2024-03-20"
	legacyPath  = "/fba/inbound/v0"
)

// Address is the ship-from address sent with plan creation
type Address struct {
	Name                string `json:"name,omitempty" yaml:"name"`
	CompanyName         string `json:"companyName,omitempty" yaml:"company_name"`
	AddressLine1        string `json:"addressLine1,omitempty" yaml:"address_line1"`
	AddressLine2        string `json:"addressLine2,omitempty" yaml:"address_line2"`
	City                string `json:"city,omitempty" yaml:"city"`
	StateOrProvinceCode string `json:"stateOrProvinceCode,omitempty" yaml:"state_or_province_code"`
	PostalCode          string `json:"postalCode,omitempty" yaml:"postal_code"`
	CountryCode         string `json:"countryCode,omitempty" yaml:"country_code"`
	PhoneNumber         string `json:"phoneNumber,omitempty" yaml:"phone_number"`
	Email               string `json:"email,omitempty" yaml:"email"`
}

// Config holds SP-API client configuration
type Config struct {
	BaseURL          string
	MarketplaceID    string
	SellerCentralURL string
	SourceAddress    Address
	Location         *time.Location
	Timeout          time.Duration
	// MaxCreateRetries caps prepOwner resubmissions; 0 disables repair and
	// a negative value selects DefaultMaxCreateRetries.
	MaxCreateRetries int
	PollInterval     time.Duration
	PollTimeout      time.Duration
	HTTPClient       *http.Client
}

// LWAConfig holds Login with Amazon refresh-token credentials
type LWAConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	TokenURL     string
}

// NewTokenSource returns a cached, auto-refreshing LWA access token source
func NewTokenSource(ctx context.Context, cfg LWAConfig, httpClient *http.Client) oauth2.TokenSource {
	tokenURL := cfg.TokenURL
	if tokenURL == "" {
		tokenURL = DefaultTokenURL
	}
	oauthConfig := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	if httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
	}
	return oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken})
}

// Client is the Fulfillment Inbound API client
type Client struct {
	config     Config
	httpClient *http.Client
	tokens     oauth2.TokenSource
	breaker    *gobreaker.CircuitBreaker
	metrics    *metrics.Metrics
	logger     *zap.Logger
	poller     *Poller
	now        func() time.Time
}

// NewClient creates a new SP-API client. m may be nil.
func NewClient(cfg Config, tokens oauth2.TokenSource, logger *zap.Logger, m *metrics.Metrics) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MarketplaceID == "" {
		cfg.MarketplaceID = DefaultMarketplaceID
	}
	if cfg.SellerCentralURL == "" {
		cfg.SellerCentralURL = DefaultSellerCentralURL
	}
	if cfg.Location == nil {
		cfg.Location = time.FixedZone("JST", 9*60*60)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxCreateRetries < 0 {
		cfg.MaxCreateRetries = DefaultMaxCreateRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Client{
		config:     cfg,
		httpClient: httpClient,
		tokens:     tokens,
		metrics:    m,
		logger:     logger.Named("spapi"),
		now:        time.Now,
	}
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "spapi",
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			c.logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
			c.metrics.SetBreakerState(name, int(to))
		},
	})
	c.poller = NewPoller(c, cfg.PollInterval, cfg.PollTimeout, c.logger, m)
	return c
}

// Poller returns the operation poller bound to this client
func (c *Client) Poller() *Poller {
	return c.poller
}

// MarketplaceID returns the configured marketplace
func (c *Client) MarketplaceID() string {
	return c.config.MarketplaceID
}

// PlanLink returns the Seller Central deep link for a plan
func (c *Client) PlanLink(inboundPlanID string) string {
	return inbound.PlanLink(c.config.SellerCentralURL, inboundPlanID)
}

type response struct {
	StatusCode int
	Body       []byte
}

// serverError marks 5xx responses as breaker failures while still handing
// the response back to the caller
type serverError struct {
	resp *response
}

func (e *serverError) Error() string {
	return fmt.Sprintf("server error %d", e.resp.StatusCode)
}

// doRequest makes an authenticated API request and reads the full body
func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*response, error) {
	if c.tokens == nil {
		return nil, fmt.Errorf("client not authenticated")
	}
	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("failed to get valid token: %w", err)
	}

	var payload []byte
	if body != nil {
		payload, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.config.BaseURL+path, reader)
		if err != nil {
			return nil, err
		}
		req.Header.Set("x-amz-access-token", token.AccessToken)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")

		start := time.Now()
		httpResp, err := c.httpClient.Do(req)
		if err != nil {
			c.metrics.ObserveRequest(method, 0, time.Since(start))
			return nil, err
		}
		defer httpResp.Body.Close()
		data, err := io.ReadAll(httpResp.Body)
		c.metrics.ObserveRequest(method, httpResp.StatusCode, time.Since(start))
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		resp := &response{StatusCode: httpResp.StatusCode, Body: data}
		if httpResp.StatusCode >= 500 {
			return resp, &serverError{resp: resp}
		}
		return resp, nil
	})

	var se *serverError
	switch {
	case errors.As(err, &se):
		return se.resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return nil, fmt.Errorf("service unavailable: circuit breaker open for SP-API: %w", err)
	case err != nil:
		return nil, err
	}
	return result.(*response), nil
}

// call performs a request, requires the given status and decodes into out
func (c *Client) call(ctx context.Context, op, method, path string, body any, want int, out any) (err error) {
	ctx, span := tracer.Start(ctx, "spapi."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.method", method),
			attribute.String("spapi.path", path),
		))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode != want {
		return &inbound.RemoteRequestError{Op: op, StatusCode: resp.StatusCode, Body: errorBody(resp.Body)}
	}
	if out == nil || len(bytes.TrimSpace(resp.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, out); err != nil {
		return fmt.Errorf("%s: failed to decode response: %w", op, err)
	}
	return nil
}

// errorBody prefers the compacted JSON "errors" array of an API error
// envelope so the issue array stays on one line
func errorBody(body []byte) string {
	var envelope struct {
		Errors json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && len(envelope.Errors) > 0 && string(envelope.Errors) != "null" {
		var buf bytes.Buffer
		if err := json.Compact(&buf, envelope.Errors); err == nil {
			return buf.String()
		}
		return string(envelope.Errors)
	}
	return string(body)
}
