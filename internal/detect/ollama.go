package detect

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	defaultOllamaTimeout  = 120 * time.Second
	defaultOllamaRetryMax = 2
)

// OllamaDetector calls a self-hosted Ollama vision model over its chat API.
type OllamaDetector struct {
	baseURL    string
	model      string
	httpClient *retryablehttp.Client
}

// NewOllamaDetector creates an Ollama-backed detector for the given base URL and model
// (e.g. http://localhost:11434 and qwen2-vl:7b).
func NewOllamaDetector(baseURL, model string) *OllamaDetector {
	retryClient := retryablehttp.NewClient()
	retryClient.RetryMax = defaultOllamaRetryMax
	retryClient.HTTPClient.Timeout = defaultOllamaTimeout
	retryClient.Logger = nil // Disable logging by default

	return &OllamaDetector{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		httpClient: retryClient,
	}
}

type ollamaChatMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []ollamaChatMessage `json:"messages"`
	Stream   bool                `json:"stream"`
	Options  map[string]any      `json:"options,omitempty"`
}

type ollamaChatResponse struct {
	Message ollamaChatMessage `json:"message"`
}

// Detect posts the rubric plus the base64 image to /api/chat and parses the reply.
func (d *OllamaDetector) Detect(ctx context.Context, image []byte) (*StructuredResult, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model: d.model,
		Messages: []ollamaChatMessage{{
			Role:    "user",
			Content: damageRubric,
			Images:  []string{base64.StdEncoding.EncodeToString(image)},
		}},
		Stream:  false,
		Options: map[string]any{"temperature": modelTemperature},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build chat request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama chat: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))

		return nil, fmt.Errorf("ollama chat: unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var chat ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chat); err != nil {
		return nil, fmt.Errorf("decode chat response: %w", err)
	}

	if chat.Message.Content == "" {
		return nil, ErrNoReply
	}

	return Parse(chat.Message.Content), nil
}

var _ Detector = (*OllamaDetector)(nil)
