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

	"ProjectForge/internal/config"
)

// HTTPGenerator asks a remote service for replies: POST <base>/generate.
type HTTPGenerator struct {
	baseURL string
	client  *http.Client
}

type generateRequest struct {
	Message string `json:"message"`
	Prompt  string `json:"prompt,omitempty"`
}

type generateResponse struct {
	Response string `json:"response"`
}

func NewHTTPGenerator(cfg config.GenerationConfig) *HTTPGenerator {
	return &HTTPGenerator{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

func (g *HTTPGenerator) Generate(ctx context.Context, message, projectPrompt string) (string, error) {
	if g.baseURL == "" {
		return "", errors.New("generation base url is empty")
	}
	body, err := json.Marshal(generateRequest{Message: message, Prompt: projectPrompt})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return "", fmt.Errorf("generation service status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return "", fmt.Errorf("decode generation response: %w", err)
	}
	if strings.TrimSpace(out.Response) == "" {
		return "", errors.New("generation service returned an empty response")
	}
	return out.Response, nil
}
