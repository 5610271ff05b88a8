package providerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/GratefulDave/stravinsky-sub003/pkg/providerauth"
)

// DefaultClaudeBaseURL is the Anthropic API endpoint.
const DefaultClaudeBaseURL = "https://api.anthropic.com"

const anthropicVersion = "2023-06-01"

// claudeRequest is the Anthropic messages-API request body.
type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	Messages    []claudeMessage `json:"messages"`
	System      string          `json:"system,omitempty"`
	Temperature float64         `json:"temperature"`
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

type claudeError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// ClaudeAdapter invokes the Anthropic messages API over plain HTTP. It
// implements the attempt function FallbackInvoker drives: credential
// selection, backoff, and 429 rotation live in the wrapper, not here.
type ClaudeAdapter struct {
	baseURL    string
	httpClient *http.Client
	pacer      *ModelPacer
}

// NewClaudeAdapter builds an adapter against baseURL (empty means the
// public endpoint). pacer may be nil to disable client-side pacing.
func NewClaudeAdapter(baseURL string, pacer *ModelPacer) *ClaudeAdapter {
	if baseURL == "" {
		baseURL = DefaultClaudeBaseURL
	}
	return &ClaudeAdapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		pacer:      pacer,
	}
}

// Do performs one messages-API call with the given credential. A 429
// response is surfaced as a RateLimitedError so FallbackInvoker rotates
// credentials instead of blindly retrying the same one.
func (a *ClaudeAdapter) Do(ctx context.Context, cred providerauth.Credential, _, model, prompt string, opts Options) ([]byte, error) {
	if a.pacer != nil {
		if err := a.pacer.Wait(ctx, model); err != nil {
			return nil, err
		}
	}

	maxTokens := opts.MaxOutputTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	reqBody := claudeRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: opts.Temperature,
		Messages:    []claudeMessage{{Role: "user", Content: prompt}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling claude request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building claude request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)
	if cred.Kind == "oauth" {
		httpReq.Header.Set("Authorization", "Bearer "+cred.Value)
	} else {
		httpReq.Header.Set("X-API-Key", cred.Value)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("claude request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading claude response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{Provider: "claude", Cause: apiError(resp.StatusCode, body)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apiError(resp.StatusCode, body)
	}

	var parsed claudeResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing claude response: %w", err)
	}
	if len(parsed.Content) == 0 {
		return nil, fmt.Errorf("empty claude response")
	}
	return []byte(parsed.Content[0].Text), nil
}

func apiError(status int, body []byte) error {
	var errResp claudeError
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		return fmt.Errorf("API error (%d): %s", status, errResp.Error.Message)
	}
	return fmt.Errorf("API error (%d): %s", status, string(body))
}
