// Package models defines the domain entities of the road damage pipeline.
package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// normalizeLabel lowercases and trims a model-supplied label before alias lookup.
func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}

// DamageType is the category of one identified road defect.
type DamageType string

// Damage categories. The vision model may answer with the Chinese labels from the
// classification rubric or with the canonical English values; both normalize to these.
const (
	DamagePothole           DamageType = "pothole"
	DamageCrack             DamageType = "crack"
	DamageAlligatorCracking DamageType = "alligator_cracking"
	DamageSettlement        DamageType = "settlement"
	DamageLandslide         DamageType = "landslide"
	DamageCollapse          DamageType = "collapse"
	DamageUnknown           DamageType = "unknown"
)

var damageTypeAliases = map[string]DamageType{
	"pothole":            DamagePothole,
	"坑槽":                 DamagePothole,
	"crack":              DamageCrack,
	"裂缝":                 DamageCrack,
	"alligator_cracking": DamageAlligatorCracking,
	"alligator cracking": DamageAlligatorCracking,
	"网裂":                 DamageAlligatorCracking,
	"settlement":         DamageSettlement,
	"沉陷":                 DamageSettlement,
	"landslide":          DamageLandslide,
	"滑坡":                 DamageLandslide,
	"collapse":           DamageCollapse,
	"坍塌":                 DamageCollapse,
}

// ParseDamageType normalizes a model-supplied label to a DamageType.
// Unrecognized labels map to DamageUnknown.
func ParseDamageType(label string) DamageType {
	if t, ok := damageTypeAliases[normalizeLabel(label)]; ok {
		return t
	}

	return DamageUnknown
}

// Severity is the severity tier of one finding.
type Severity string

// Severity tiers.
const (
	SeverityMinor     Severity = "minor"
	SeverityModerate  Severity = "moderate"
	SeveritySevere    Severity = "severe"
	SeverityDangerous Severity = "dangerous"
	SeverityUnknown   Severity = "unknown"
)

var severityAliases = map[string]Severity{
	"minor":     SeverityMinor,
	"轻微":        SeverityMinor,
	"moderate":  SeverityModerate,
	"中等":        SeverityModerate,
	"severe":    SeveritySevere,
	"严重":        SeveritySevere,
	"dangerous": SeverityDangerous,
	"危险":        SeverityDangerous,
}

// ParseSeverity normalizes a model-supplied label to a Severity.
// Unrecognized labels map to SeverityUnknown.
func ParseSeverity(label string) Severity {
	if s, ok := severityAliases[normalizeLabel(label)]; ok {
		return s
	}

	return SeverityUnknown
}

// RiskLevel is the overall risk assessment of one analyzed image.
type RiskLevel string

// Risk levels.
const (
	RiskLow       RiskLevel = "low"
	RiskMedium    RiskLevel = "medium"
	RiskHigh      RiskLevel = "high"
	RiskEmergency RiskLevel = "emergency"
	RiskUnknown   RiskLevel = "unknown"
)

var riskLevelAliases = map[string]RiskLevel{
	"low":       RiskLow,
	"低":         RiskLow,
	"medium":    RiskMedium,
	"中":         RiskMedium,
	"high":      RiskHigh,
	"高":         RiskHigh,
	"emergency": RiskEmergency,
	"紧急":        RiskEmergency,
	"unknown":   RiskUnknown,
	"未知":        RiskUnknown,
}

// ParseRiskLevel normalizes a model-supplied label to a RiskLevel.
// Unrecognized labels map to RiskUnknown.
func ParseRiskLevel(label string) RiskLevel {
	if r, ok := riskLevelAliases[normalizeLabel(label)]; ok {
		return r
	}

	return RiskUnknown
}

// DamageFinding is one identified instance of road damage within an image.
type DamageFinding struct {
	Type            DamageType `json:"type"`
	Severity        Severity   `json:"severity"`
	Location        string     `json:"location"`
	Size            string     `json:"size"`
	SuggestedAction string     `json:"suggested_action"`
	Confidence      float64    `json:"confidence"`
}

// DamageRecord is the durable unit of truth for one ingested image's detection outcome.
// Findings may be empty (nothing found, or the model reply did not parse); RiskLevel
// and RawResult are always present. Correction is nil until feedback is submitted and
// is never cleared once set.
type DamageRecord struct {
	ID         uuid.UUID         `json:"id"`
	ImagePath  string            `json:"image_path"`
	Findings   []DamageFinding   `json:"findings"`
	RiskLevel  RiskLevel         `json:"risk_level"`
	RawResult  json.RawMessage   `json:"raw_result"`
	Correction *DamageCorrection `json:"correction,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  *time.Time        `json:"updated_at,omitempty"`
}

// PrimaryType returns the type of the first finding, or DamageUnknown when there are
// no findings. Aggregation and vector metadata use the first finding only, matching
// the upstream convention. Known simplification: secondary findings are ignored.
func (r *DamageRecord) PrimaryType() DamageType {
	if len(r.Findings) == 0 {
		return DamageUnknown
	}

	return r.Findings[0].Type
}

// PrimarySeverity returns the severity of the first finding, or SeverityUnknown when
// there are no findings.
func (r *DamageRecord) PrimarySeverity() Severity {
	if len(r.Findings) == 0 {
		return SeverityUnknown
	}

	return r.Findings[0].Severity
}

// DamageCorrection is a human-supplied override of some or all fields of a record's
// primary finding. All fields are optional; partial corrections are allowed.
type DamageCorrection struct {
	Type     *string `json:"type,omitempty"`
	Severity *string `json:"severity,omitempty"`
	Location *string `json:"location,omitempty"`
	Size     *string `json:"size,omitempty"`
}

// Empty reports whether no field of the correction is set.
func (c DamageCorrection) Empty() bool {
	return c.Type == nil && c.Severity == nil && c.Location == nil && c.Size == nil
}

// CorrectionEvent is one append-only audit entry for a submitted correction.
// Events are never mutated or deleted.
type CorrectionEvent struct {
	ID        int64            `json:"id"`
	DamageID  uuid.UUID        `json:"damage_id"`
	Corrected DamageCorrection `json:"corrected"`
	CreatedAt time.Time        `json:"created_at"`
}

// SimilarityMatch is one nearest-neighbor hit: a damage record ID and its
// cosine similarity score (0..1, higher is closer).
type SimilarityMatch struct {
	DamageID uuid.UUID `json:"damage_id"`
	Score    float64   `json:"score"`
}

// VectorMetadata is the lightweight metadata mirrored from a record into its
// similarity index entry, for filtering without a join.
type VectorMetadata struct {
	Type     DamageType `json:"type"`
	Severity Severity   `json:"severity"`
}
