// Package classifier turns unstructured notice text into organized sections
// through a text generation service, recovering usable JSON from malformed replies.
package classifier

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

	"etenders/internal/apperr"
)

// Service errors.
var (
	ErrServiceStatus   = errors.New("text generation service returned an error status")
	ErrServiceEnvelope = errors.New("text generation service reply is not a valid envelope")
)

// FormatJSON asks the service to constrain its output to JSON.
const FormatJSON = "json"

// Request is one generation call.
type Request struct {
	Prompt string
	Format string
}

// Service generates text for a prompt. Implementations wrap connection
// failures as apperr.CategoryServiceUnavailable.
type Service interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// OllamaClient calls an Ollama compatible /api/generate endpoint.
type OllamaClient struct {
	client   *http.Client
	endpoint string
	model    string
}

// NewOllamaClient creates a client with a single per-call timeout.
func NewOllamaClient(endpoint, model string, timeout time.Duration) *OllamaClient {
	return NewOllamaClientWithHTTP(endpoint, model, &http.Client{Timeout: timeout})
}

// NewOllamaClientWithHTTP creates a client with a custom HTTP client.
func NewOllamaClientWithHTTP(endpoint, model string, client *http.Client) *OllamaClient {
	return &OllamaClient{
		client:   client,
		endpoint: strings.TrimRight(endpoint, "/"),
		model:    model,
	}
}

// Model returns the configured model name.
func (c *OllamaClient) Model() string {
	return c.model
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Format string `json:"format,omitempty"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Generate issues one blocking call. It does not retry.
func (c *OllamaClient) Generate(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(generateRequest{
		Model:  c.model,
		Prompt: req.Prompt,
		Format: req.Format,
		Stream: false,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", apperr.Wrap(fmt.Errorf("text generation service unreachable: %w", err), apperr.CategoryServiceUnavailable, true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperr.Wrap(fmt.Errorf("failed to read reply: %w", err), apperr.CategoryServiceUnavailable, true)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperr.Wrap(
			fmt.Errorf("%w: %d %s", ErrServiceStatus, resp.StatusCode, strings.TrimSpace(string(data))),
			apperr.CategoryServiceUnavailable,
			resp.StatusCode >= 500,
		)
	}

	var envelope generateResponse
	if err := json.Unmarshal(data, &envelope); err != nil {
		return "", apperr.Wrap(fmt.Errorf("%w: %w", ErrServiceEnvelope, err), apperr.CategoryUnrecoverableParse, false)
	}

	if envelope.Error != "" {
		return "", apperr.Wrap(fmt.Errorf("%w: %s", ErrServiceStatus, envelope.Error), apperr.CategoryServiceUnavailable, false)
	}

	return envelope.Response, nil
}
