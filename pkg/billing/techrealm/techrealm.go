// Package techrealm implements billing.Gateway for the TechRealm hosted
// checkout (pay.techrealm.pk).
package techrealm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Majboor/smart-presentation-builder/pkg/billing"
)

const (
	gatewayName = "techrealm"

	// DefaultAPIURL is the production payment creation endpoint
	DefaultAPIURL = "https://pay.techrealm.pk/create-payment"

	endpointCreatePayment = "create-payment"
	maxResponseBytes      = 64 * 1024
)

// Gateway creates hosted-checkout payment intentions.
type Gateway struct {
	apiURL     string
	apiKey     string
	httpClient *http.Client
	metrics    billing.Metrics
}

type createPaymentRequest struct {
	Amount         int64  `json:"amount"`
	RedirectionURL string `json:"redirection_url,omitempty"`
}

// NewGateway creates a TechRealm gateway. APIURL defaults to DefaultAPIURL.
func NewGateway(config billing.Config) (*Gateway, error) {
	apiURL := strings.TrimSpace(config.APIURL)
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if !strings.HasPrefix(apiURL, "http://") && !strings.HasPrefix(apiURL, "https://") {
		return nil, fmt.Errorf("%w: invalid API URL %q", billing.ErrProviderNotConfigured, apiURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = &billing.NoopMetrics{}
	}

	return &Gateway{
		apiURL:     apiURL,
		apiKey:     config.APIKey,
		httpClient: httpClient,
		metrics:    metrics,
	}, nil
}

// Name returns "techrealm"
func (g *Gateway) Name() string {
	return gatewayName
}

// CreatePayment posts {amount, redirection_url} and returns the hosted
// checkout URL with the gateway's reference.
func (g *Gateway) CreatePayment(ctx context.Context, req billing.PaymentRequest) (*billing.PaymentSession, error) {
	session, err := g.createPayment(ctx, req)
	if err != nil {
		g.metrics.RecordPaymentCreated(gatewayName, "error")
		return nil, err
	}
	g.metrics.RecordPaymentCreated(gatewayName, "success")
	return session, nil
}

func (g *Gateway) createPayment(ctx context.Context, req billing.PaymentRequest) (*billing.PaymentSession, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(createPaymentRequest{
		Amount:         req.Amount,
		RedirectionURL: req.RedirectURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode payment request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if g.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	start := time.Now()
	res, err := g.httpClient.Do(httpReq)
	g.metrics.RecordAPICallDuration(gatewayName, endpointCreatePayment, time.Since(start))
	if err != nil {
		g.metrics.RecordAPICall(gatewayName, endpointCreatePayment, "error")
		return nil, fmt.Errorf("%w: %v", billing.ErrProviderAPIError, err)
	}
	defer res.Body.Close()
	g.metrics.RecordAPICall(gatewayName, endpointCreatePayment, strconv.Itoa(res.StatusCode))

	body, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d %s", billing.ErrProviderAPIError, res.StatusCode, http.StatusText(res.StatusCode))
	}

	var session billing.PaymentSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", billing.ErrProviderAPIError, err)
	}
	if session.PaymentURL == "" {
		return nil, fmt.Errorf("%w: response has no payment_url", billing.ErrProviderAPIError)
	}
	return &session, nil
}
