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

// DefaultGeminiBaseURL is the Google Generative Language API endpoint.
const DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	Temperature     float64               `json:"temperature,omitempty"`
	MaxOutputTokens int                   `json:"maxOutputTokens,omitempty"`
	ThinkingConfig  *geminiThinkingConfig `json:"thinkingConfig,omitempty"`
}

type geminiThinkingConfig struct {
	ThinkingBudget int `json:"thinkingBudget"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

// GeminiAdapter invokes the generateContent endpoint over plain HTTP,
// mirroring ClaudeAdapter's division of labor with FallbackInvoker.
type GeminiAdapter struct {
	baseURL    string
	httpClient *http.Client
	pacer      *ModelPacer
}

// NewGeminiAdapter builds an adapter against baseURL (empty means the
// public endpoint). pacer may be nil to disable client-side pacing.
func NewGeminiAdapter(baseURL string, pacer *ModelPacer) *GeminiAdapter {
	if baseURL == "" {
		baseURL = DefaultGeminiBaseURL
	}
	return &GeminiAdapter{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		pacer:      pacer,
	}
}

// Do performs one generateContent call with the given credential. OAuth
// tokens go in the Authorization header; API keys in the query string,
// matching the Generative Language API's two auth modes.
func (a *GeminiAdapter) Do(ctx context.Context, cred providerauth.Credential, _, model, prompt string, opts Options) ([]byte, error) {
	if a.pacer != nil {
		if err := a.pacer.Wait(ctx, model); err != nil {
			return nil, err
		}
	}

	reqBody := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxOutputTokens,
		},
	}
	if opts.ThinkingBudget > 0 {
		reqBody.GenerationConfig.ThinkingConfig = &geminiThinkingConfig{ThinkingBudget: opts.ThinkingBudget}
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling gemini request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", a.baseURL, model)
	if cred.Kind != "oauth" {
		url += "?key=" + cred.Value
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if cred.Kind == "oauth" {
		httpReq.Header.Set("Authorization", "Bearer "+cred.Value)
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading gemini response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &RateLimitedError{Provider: "gemini", Cause: fmt.Errorf("API error (%d)", resp.StatusCode)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("parsing gemini response: %w", err)
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("empty gemini response")
	}
	return []byte(parsed.Candidates[0].Content.Parts[0].Text), nil
}
