package detect

import (
	"context"
	"encoding/base64"
	"fmt"

	openaisdk "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
)

const defaultOpenAIVisionModel = "gpt-4o-mini"

// OpenAIDetector calls an OpenAI vision-capable chat model via the official SDK.
type OpenAIDetector struct {
	sdk   openaisdk.Client
	model string
}

// NewOpenAIDetector creates an OpenAI-backed detector. Empty model uses the default.
func NewOpenAIDetector(apiKey, model string) *OpenAIDetector {
	if model == "" {
		model = defaultOpenAIVisionModel
	}

	return &OpenAIDetector{
		sdk:   openaisdk.NewClient(option.WithAPIKey(apiKey)),
		model: model,
	}
}

// Detect sends the rubric plus the inline image and parses the reply.
func (d *OpenAIDetector) Detect(ctx context.Context, image []byte) (*StructuredResult, error) {
	dataURL := "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image)

	resp, err := d.sdk.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(d.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.UserMessage([]openaisdk.ChatCompletionContentPartUnionParam{
				openaisdk.TextContentPart(damageRubric),
				openaisdk.ImageContentPart(openaisdk.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL,
				}),
			}),
		},
		Temperature: param.NewOpt(modelTemperature),
	})
	if err != nil {
		return nil, fmt.Errorf("openai chat completion: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return nil, ErrNoReply
	}

	return Parse(resp.Choices[0].Message.Content), nil
}

var _ Detector = (*OpenAIDetector)(nil)
