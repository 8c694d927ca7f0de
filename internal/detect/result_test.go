package detect

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roadsight/roadsight/internal/models"
)

func TestParse_StructuredReply(t *testing.T) {
	reply := `{
		"damages": [
			{
				"type": "裂缝",
				"severity": "中等",
				"location": "left lane",
				"size": "2m long, 5mm wide",
				"suggestAction": "seal the crack",
				"confidence": 0.92
			}
		],
		"riskLevel": "中",
		"summary": "single moderate crack"
	}`

	result := Parse(reply)

	require.False(t, result.Degraded)
	require.Len(t, result.Findings, 1)

	finding := result.Findings[0]
	assert.Equal(t, models.DamageCrack, finding.Type)
	assert.Equal(t, models.SeverityModerate, finding.Severity)
	assert.Equal(t, "left lane", finding.Location)
	assert.Equal(t, "2m long, 5mm wide", finding.Size)
	assert.Equal(t, "seal the crack", finding.SuggestedAction)
	assert.InDelta(t, 0.92, finding.Confidence, 1e-9)

	assert.Equal(t, models.RiskMedium, result.RiskLevel)
	assert.Equal(t, "single moderate crack", result.Summary)
	assert.True(t, json.Valid(result.Raw))
}

func TestParse_UnparseableReplyDegrades(t *testing.T) {
	result := Parse("I could not analyze this image, sorry.")

	require.True(t, result.Degraded)
	assert.Empty(t, result.Findings)
	assert.Equal(t, models.RiskUnknown, result.RiskLevel)
	assert.Contains(t, result.Summary, "recognition failed")
	assert.NotEmpty(t, result.ParseError)

	// The audit document stays valid JSON even for junk replies.
	require.True(t, json.Valid(result.Raw))

	var doc map[string]any
	require.NoError(t, json.Unmarshal(result.Raw, &doc))
	assert.Equal(t, "unknown", doc["riskLevel"])
}

func TestParse_StripsMarkdownFences(t *testing.T) {
	for name, reply := range map[string]string{
		"json fence":  "```json\n{\"damages\":[],\"riskLevel\":\"low\",\"summary\":\"clear\"}\n```",
		"plain fence": "```\n{\"damages\":[],\"riskLevel\":\"low\",\"summary\":\"clear\"}\n```",
		"no fence":    "{\"damages\":[],\"riskLevel\":\"low\",\"summary\":\"clear\"}",
	} {
		t.Run(name, func(t *testing.T) {
			result := Parse(reply)

			require.False(t, result.Degraded)
			assert.Equal(t, models.RiskLow, result.RiskLevel)
			assert.Equal(t, "clear", result.Summary)
			assert.Empty(t, result.Findings)
		})
	}
}

func TestParse_UnknownLabelsNormalizeToUnknown(t *testing.T) {
	reply := `{"damages":[{"type":"meteor strike","severity":"apocalyptic","confidence":0.5}],"riskLevel":"whatever"}`

	result := Parse(reply)

	require.False(t, result.Degraded)
	require.Len(t, result.Findings, 1)
	assert.Equal(t, models.DamageUnknown, result.Findings[0].Type)
	assert.Equal(t, models.SeverityUnknown, result.Findings[0].Severity)
	assert.Equal(t, models.RiskUnknown, result.RiskLevel)
}

func TestParse_ClampsConfidence(t *testing.T) {
	reply := `{"damages":[
		{"type":"pothole","severity":"severe","confidence":1.7},
		{"type":"crack","severity":"minor","confidence":-0.2},
		{"type":"crack","severity":"minor"}
	],"riskLevel":"high"}`

	result := Parse(reply)

	require.False(t, result.Degraded)
	require.Len(t, result.Findings, 3)
	assert.Equal(t, 1.0, result.Findings[0].Confidence)
	assert.Equal(t, 0.0, result.Findings[1].Confidence)
	assert.Equal(t, 0.0, result.Findings[2].Confidence)
}

func TestParse_NoDamages(t *testing.T) {
	result := Parse(`{"damages":[],"riskLevel":"low","summary":"road surface intact"}`)

	require.False(t, result.Degraded)
	assert.NotNil(t, result.Findings)
	assert.Empty(t, result.Findings)
	assert.Equal(t, models.RiskLow, result.RiskLevel)
}
