package models

import "github.com/google/uuid"

// DamageDetectionResponse is returned by the ingestion endpoint.
type DamageDetectionResponse struct {
	ID        uuid.UUID       `json:"id"`
	ImageURL  string          `json:"image_url"`
	Damages   []DamageFinding `json:"damages"`
	RiskLevel RiskLevel       `json:"risk_level"`
	Summary   string          `json:"summary,omitempty"`
}

// SimilarCase is one resolved similarity hit: the neighboring record plus its score.
type SimilarCase struct {
	DamageID  uuid.UUID       `json:"damage_id"`
	Score     float64         `json:"score"`
	Findings  []DamageFinding `json:"damages"`
	RiskLevel RiskLevel       `json:"risk_level"`
	ImageURL  string          `json:"image_url"`
}

// SimilarDamagesResponse is returned by the similarity endpoint.
type SimilarDamagesResponse struct {
	DamageID     uuid.UUID     `json:"damage_id"`
	SimilarCases []SimilarCase `json:"similar_cases"`
}

// DamageFeedback is the request body for submitting a correction.
type DamageFeedback struct {
	DamageID  uuid.UUID        `json:"damage_id"`
	Corrected DamageCorrection `json:"corrected"`
}

// FeedbackResponse is returned after a correction was recorded. Message carries the
// advisory retraining signal on every 100th cumulative correction.
type FeedbackResponse struct {
	Success         bool   `json:"success"`
	Message         string `json:"message"`
	CorrectionCount int64  `json:"correction_count"`
}

// Statistics summarizes recorded detections for the dashboard.
type Statistics struct {
	TotalDetections  int64            `json:"total_detections"`
	TotalCorrections int64            `json:"total_corrections"`
	ByType           map[string]int64 `json:"by_type"`
}
