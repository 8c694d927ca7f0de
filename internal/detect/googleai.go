package detect

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

const defaultGoogleVisionModel = "gemini-2.0-flash"

// GoogleDetector calls a Gemini vision model via the Google Gen AI SDK.
type GoogleDetector struct {
	client *genai.Client
	model  string
}

// NewGoogleDetector creates a Gemini-backed detector. Empty model uses the default.
func NewGoogleDetector(ctx context.Context, apiKey, model string) (*GoogleDetector, error) {
	genaiClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("googleai client: %w", err)
	}

	if model == "" {
		model = defaultGoogleVisionModel
	}

	return &GoogleDetector{client: genaiClient, model: model}, nil
}

// Detect sends the rubric plus the inline image and parses the reply.
func (d *GoogleDetector) Detect(ctx context.Context, image []byte) (*StructuredResult, error) {
	parts := []*genai.Part{
		genai.NewPartFromText(damageRubric),
		genai.NewPartFromBytes(image, "image/jpeg"),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	resp, err := d.client.Models.GenerateContent(ctx, d.model, contents, &genai.GenerateContentConfig{
		Temperature: genai.Ptr[float32](modelTemperature),
	})
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return nil, ErrNoReply
	}

	return Parse(text), nil
}

var _ Detector = (*GoogleDetector)(nil)
