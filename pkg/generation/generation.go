// Package generation is the client of the remote presentation generator.
package generation

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

	"github.com/go-playground/validator/v10"
)

// DefaultBaseURL is the production generator
const DefaultBaseURL = "http://pptx.techrealm.online"

const maxResponseBytes = 64 * 1024

// Format selects the generator's content pipeline
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
)

var (
	// ErrInvalidRequest is returned when a request fails validation
	ErrInvalidRequest = errors.New("invalid generation request")

	// ErrAPI is returned for transport failures and non-2xx responses
	ErrAPI = errors.New("generation API error")
)

// Request asks for one presentation
type Request struct {
	Topic     string `json:"topic" validate:"required,min=1,max=500"`
	NumSlides int    `json:"num_slides,omitempty" validate:"omitempty,min=1,max=50"`
	Format    Format `json:"-" validate:"omitempty,oneof=markdown json"`
}

// Response carries the location of the generated deck
type Response struct {
	DownloadURL string `json:"download_url"`
}

// Generator produces presentations. Client implements it.
type Generator interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}

// Config configures a Client
type Config struct {
	// BaseURL of the generator (default: DefaultBaseURL)
	BaseURL string

	// HTTPClient (default: 60s timeout; generation is slow)
	HTTPClient *http.Client
}

// Client calls POST {BaseURL}/generate-presentation/{format}
type Client struct {
	baseURL    string
	httpClient *http.Client
	validate   *validator.Validate
}

// NewClient creates a generator client
func NewClient(config Config) *Client {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		validate:   validator.New(),
	}
}

// Validate checks req against its field constraints
func (c *Client) Validate(req Request) error {
	req.Topic = strings.TrimSpace(req.Topic)
	if err := c.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

// Generate requests a presentation. Format defaults to markdown.
func (c *Client) Generate(ctx context.Context, req Request) (*Response, error) {
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Format == "" {
		req.Format = FormatMarkdown
	}
	if err := c.Validate(req); err != nil {
		return nil, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	url := fmt.Sprintf("%s/generate-presentation/%s", c.baseURL, req.Format)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	res, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAPI, err)
	}
	defer res.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d %s", ErrAPI, res.StatusCode, http.StatusText(res.StatusCode))
	}

	var out Response
	if err := json.Unmarshal(payload, &out); err != nil {
		return nil, fmt.Errorf("%w: failed to parse response: %v", ErrAPI, err)
	}
	if out.DownloadURL == "" {
		return nil, fmt.Errorf("%w: response has no download_url", ErrAPI)
	}
	return &out, nil
}
