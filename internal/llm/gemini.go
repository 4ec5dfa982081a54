package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"google.golang.org/genai"
)

// GeminiProvider calls Google's Gemini API. One SDK client is kept per
// credential since the key is bound at client construction.
type GeminiProvider struct {
	mu      sync.Mutex
	clients map[string]*genai.Client
}

// NewGeminiProvider creates a new Gemini provider.
func NewGeminiProvider() *GeminiProvider {
	return &GeminiProvider{clients: make(map[string]*genai.Client)}
}

// Name implements Provider.
func (g *GeminiProvider) Name() string { return "gemini" }

func (g *GeminiProvider) client(ctx context.Context, apiKey string) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if c, ok := g.clients[apiKey]; ok {
		return c, nil
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	g.clients[apiKey] = c
	return c, nil
}

// Generate sends a prompt to Gemini and returns the text of the response.
func (g *GeminiProvider) Generate(ctx context.Context, r Request) (string, error) {
	if r.APIKey == "" {
		return "", errors.New("Gemini API key not configured")
	}
	c, err := g.client(ctx, r.APIKey)
	if err != nil {
		return "", err
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.1),
		ResponseMIMEType: "application/json",
	}
	if r.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(r.MaxTokens)
	}

	resp, err := c.Models.GenerateContent(ctx, r.Model, genai.Text(r.Prompt), cfg)
	if err != nil {
		return "", fromGenAI(err)
	}
	return resp.Text(), nil
}

// fromGenAI converts SDK API errors into StatusError so status codes drive
// classification.
func fromGenAI(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &StatusError{Code: apiErr.Code, Status: apiErr.Status, Body: apiErr.Message}
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return &StatusError{Code: apiErrPtr.Code, Status: apiErrPtr.Status, Body: apiErrPtr.Message}
	}
	return fmt.Errorf("GenAI generate failed: %w", err)
}
