// Package detect sends road images to a vision model and parses the reply into
// structured damage findings.
package detect

import (
	"context"
	"errors"
	"fmt"

	"github.com/roadsight/roadsight/internal/config"
)

// Detector analyzes a road surface image. Implementations hold no per-call state
// and are safe to share across concurrent ingestions.
type Detector interface {
	// Detect sends the image to the vision model and returns the parsed result.
	// A non-nil error means the detection could not be attempted at all
	// (network, timeout, non-2xx); an unparseable reply returns the degraded
	// result variant instead of an error.
	Detect(ctx context.Context, image []byte) (*StructuredResult, error)
}

// ErrNoReply is returned when the model endpoint answered without any content.
var ErrNoReply = errors.New("detect: model returned no reply")

// damageRubric is the fixed system instruction sent with every image: six damage
// types, four severity tiers, and the numeric thresholds the model should apply.
const damageRubric = `You are a professional road maintenance expert. Analyze the road surface damage in the image and return JSON in exactly this format:

{
  "damages": [
    {
      "type": "pothole|crack|alligator_cracking|settlement|landslide|collapse",
      "severity": "minor|moderate|severe|dangerous",
      "location": "where the damage sits in the image",
      "size": "estimated dimensions (length x width x depth, cm)",
      "suggestAction": "repair recommendation",
      "confidence": 0.95
    }
  ],
  "riskLevel": "low|medium|high|emergency",
  "summary": "overall assessment"
}

Classification thresholds:
1. Pothole: depth > 5cm is severe, > 10cm is dangerous
2. Crack: width > 3mm needs action, > 10mm is severe
3. Landslide/collapse: always mark dangerous
4. Alligator cracking: covered area > 2m2 is severe

Return only JSON, no other text.`

// modelTemperature keeps the classification output stable across calls.
const modelTemperature = 0.1

// NewDetector constructs the detector named by cfg.Provider.
// Called once at server startup.
func NewDetector(ctx context.Context, cfg config.DetectionConfig) (Detector, error) {
	switch cfg.Provider {
	case "ollama":
		return NewOllamaDetector(cfg.BaseURL, cfg.Model), nil
	case "openai":
		return NewOpenAIDetector(cfg.APIKey, cfg.Model), nil
	case "google":
		return NewGoogleDetector(ctx, cfg.APIKey, cfg.Model)
	case "mock":
		return &MockDetector{}, nil
	default:
		return nil, fmt.Errorf("unknown detection provider %q: must be one of ollama, openai, google, mock", cfg.Provider)
	}
}
