package detect

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roadsight/roadsight/internal/models"
)

// StructuredResult is the outcome of one model call. It has two variants:
//
//   - structured: Degraded is false and Findings/RiskLevel/Summary carry the
//     model's validated answer;
//   - degraded: Degraded is true, Findings is empty, RiskLevel is unknown and
//     Summary embeds the parse error — produced when the model replied but its
//     content did not parse.
//
// Transport-level failures never produce a StructuredResult; they surface as
// errors from Detector.Detect. Callers therefore always have something to
// persist once a reply arrived, and can tell "model found nothing" from
// "model reply was unparseable" via Degraded.
type StructuredResult struct {
	Findings  []models.DamageFinding
	RiskLevel models.RiskLevel
	Summary   string

	// Degraded marks a reply that could not be parsed; ParseError holds the reason.
	Degraded   bool
	ParseError string

	// Raw is the model output as stored for audit: the cleaned JSON reply for the
	// structured variant, a synthesized error document for the degraded one.
	Raw json.RawMessage
}

// wireFinding mirrors the finding schema the rubric asks the model for.
type wireFinding struct {
	Type          string  `json:"type"`
	Severity      string  `json:"severity"`
	Location      string  `json:"location"`
	Size          string  `json:"size"`
	SuggestAction string  `json:"suggestAction"`
	Confidence    float64 `json:"confidence"`
}

// wireResult mirrors the reply schema the rubric asks the model for.
type wireResult struct {
	Damages   []wireFinding `json:"damages"`
	RiskLevel string        `json:"riskLevel"`
	Summary   string        `json:"summary"`
	Error     string        `json:"error,omitempty"`
}

// Parse turns the model's raw textual reply into a StructuredResult. It never
// fails: unparseable content yields the degraded variant. Surrounding markdown
// code fences are stripped first; models are not guaranteed to honor
// "return only JSON".
func Parse(raw string) *StructuredResult {
	content := stripFences(raw)

	var wire wireResult
	if err := json.Unmarshal([]byte(content), &wire); err != nil {
		return degraded(err)
	}

	findings := make([]models.DamageFinding, 0, len(wire.Damages))
	for _, d := range wire.Damages {
		findings = append(findings, models.DamageFinding{
			Type:            models.ParseDamageType(d.Type),
			Severity:        models.ParseSeverity(d.Severity),
			Location:        d.Location,
			Size:            d.Size,
			SuggestedAction: d.SuggestAction,
			Confidence:      clampConfidence(d.Confidence),
		})
	}

	return &StructuredResult{
		Findings:  findings,
		RiskLevel: models.ParseRiskLevel(wire.RiskLevel),
		Summary:   wire.Summary,
		Raw:       json.RawMessage(content),
	}
}

// degraded builds the degraded variant for a parse failure. The synthesized raw
// document keeps the audit trail structurally valid JSON.
func degraded(parseErr error) *StructuredResult {
	summary := fmt.Sprintf("recognition failed: %v", parseErr)

	raw, err := json.Marshal(wireResult{
		Damages:   []wireFinding{},
		RiskLevel: string(models.RiskUnknown),
		Summary:   summary,
		Error:     parseErr.Error(),
	})
	if err != nil {
		// wireResult contains only plain strings; marshal cannot fail.
		raw = json.RawMessage(`{"damages":[],"riskLevel":"unknown"}`)
	}

	return &StructuredResult{
		Findings:   []models.DamageFinding{},
		RiskLevel:  models.RiskUnknown,
		Summary:    summary,
		Degraded:   true,
		ParseError: parseErr.Error(),
		Raw:        raw,
	}
}

// stripFences removes leading/trailing markdown fence markers around the reply.
func stripFences(raw string) string {
	content := strings.TrimSpace(raw)

	if strings.HasPrefix(content, "```json") {
		content = content[len("```json"):]
	} else if strings.HasPrefix(content, "```") {
		content = content[len("```"):]
	}

	content = strings.TrimSuffix(strings.TrimSpace(content), "```")

	return strings.TrimSpace(content)
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 1:
		return 1
	default:
		return c
	}
}
