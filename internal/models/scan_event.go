package models

import "strings"

// HealthyLabel is the reserved disease label meaning absence of disease.
const HealthyLabel = "healthy"

// ScanEvent is one immutable crop disease scan, as persisted in the event log.
// Seq is the append order assigned by the database and is monotonic.
type ScanEvent struct {
	Seq              int64    `json:"seq"`
	ID               string   `json:"id"`
	UserID           string   `json:"user_id"`
	CropType         string   `json:"crop_type"`
	DiseaseLabel     string   `json:"disease_label"`
	ConfidenceScore  float64  `json:"confidence_score"`
	Severity         string   `json:"severity,omitempty"`
	TreatmentUrgency string   `json:"treatment_urgency,omitempty"`
	Country          string   `json:"country"`
	Province         string   `json:"province,omitempty"`
	District         string   `json:"district,omitempty"`
	Sector           string   `json:"sector,omitempty"`
	LocationKey      string   `json:"location_key"`
	Latitude         *float64 `json:"latitude,omitempty"`
	Longitude        *float64 `json:"longitude,omitempty"`
	OccurredAt       int64    `json:"occurred_at"`
	CreatedAt        int64    `json:"created_at"`
}

// IsHealthy reports whether the scan found no disease.
func (e *ScanEvent) IsHealthy() bool {
	return e.DiseaseLabel == "" || strings.EqualFold(e.DiseaseLabel, HealthyLabel)
}

// ScanEventInput is the ingest payload from the scan-analysis collaborator.
type ScanEventInput struct {
	UserID           string   `json:"user_id" binding:"required"`
	CropType         string   `json:"crop_type" binding:"required"`
	DiseaseLabel     string   `json:"disease_label"`
	ConfidenceScore  float64  `json:"confidence_score"`
	Severity         string   `json:"severity"`
	TreatmentUrgency string   `json:"treatment_urgency"`
	Location         Location `json:"location"`
	Latitude         *float64 `json:"latitude"`
	Longitude        *float64 `json:"longitude"`
	OccurredAt       int64    `json:"occurred_at"`
}

// Location is the hierarchical location tuple attached to a scan.
// Finer levels may be absent while coarser ones are present, never the
// reverse.
type Location struct {
	Country  string `json:"country"`
	Province string `json:"province,omitempty"`
	District string `json:"district,omitempty"`
	Sector   string `json:"sector,omitempty"`
}
