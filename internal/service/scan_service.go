package service

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/agrisol/analytics-backend-go/internal/event"
	"github.com/agrisol/analytics-backend-go/internal/location"
	"github.com/agrisol/analytics-backend-go/internal/models"
	"github.com/agrisol/analytics-backend-go/internal/repository"
	"github.com/agrisol/analytics-backend-go/internal/spatial"
)

// ScanService is the Event Recorder: it validates scan inputs, appends them
// durably to the event log, and signals the committed event downstream.
type ScanService struct {
	events     *repository.EventRepository
	dispatcher *event.Dispatcher
	clock      clockwork.Clock
	clockSkew  int64 // tolerated future drift on occurred_at, seconds
}

// NewScanService creates a new scan service
func NewScanService(events *repository.EventRepository, dispatcher *event.Dispatcher, clock clockwork.Clock, clockSkewSeconds int64) *ScanService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if clockSkewSeconds <= 0 {
		clockSkewSeconds = 300
	}
	return &ScanService{
		events:     events,
		dispatcher: dispatcher,
		clock:      clock,
		clockSkew:  clockSkewSeconds,
	}
}

// Record validates and durably persists one scan event, then dispatches the
// committed notification. Validation failures are returned synchronously
// with nothing written. A dispatch failure does not fail the record: the
// event is already durable and reconciliation repairs any aggregate drift.
func (s *ScanService) Record(ctx context.Context, input *models.ScanEventInput) (*models.ScanEvent, error) {
	now := s.clock.Now()

	if err := s.validate(input, now.Unix()); err != nil {
		return nil, err
	}

	occurredAt := input.OccurredAt
	if occurredAt == 0 {
		occurredAt = now.Unix()
	}

	label := strings.TrimSpace(input.DiseaseLabel)
	scan := &models.ScanEvent{
		ID:               uuid.NewString(),
		UserID:           input.UserID,
		CropType:         input.CropType,
		DiseaseLabel:     label,
		ConfidenceScore:  input.ConfidenceScore,
		Severity:         input.Severity,
		TreatmentUrgency: input.TreatmentUrgency,
		Country:          strings.TrimSpace(input.Location.Country),
		Province:         strings.TrimSpace(input.Location.Province),
		District:         strings.TrimSpace(input.Location.District),
		Sector:           strings.TrimSpace(input.Location.Sector),
		LocationKey:      location.DeriveKey(input.Location),
		Latitude:         input.Latitude,
		Longitude:        input.Longitude,
		OccurredAt:       occurredAt,
		CreatedAt:        now.Unix(),
	}

	if _, err := s.events.Append(scan); err != nil {
		return nil, fmt.Errorf("failed to record scan: %w", err)
	}

	if err := s.dispatcher.Dispatch(ctx, scan); err != nil {
		// Event is durable; aggregates catch up on the next reconciliation.
		log.Printf("Aggregate update failed for event %s: %v", scan.ID, err)
	}

	return scan, nil
}

func (s *ScanService) validate(input *models.ScanEventInput, nowUnix int64) error {
	if strings.TrimSpace(input.UserID) == "" {
		return &models.ValidationError{Field: "user_id", Reason: "required"}
	}
	if strings.TrimSpace(input.CropType) == "" {
		return &models.ValidationError{Field: "crop_type", Reason: "required"}
	}
	if strings.TrimSpace(input.Location.Country) == "" {
		return &models.ValidationError{Field: "location.country", Reason: "required"}
	}
	if err := location.ValidateChain(input.Location); err != nil {
		return err
	}
	if input.ConfidenceScore < 0 || input.ConfidenceScore > 1 {
		return &models.ValidationError{Field: "confidence_score", Reason: "must be between 0 and 1"}
	}
	if input.OccurredAt < 0 {
		return &models.ValidationError{Field: "occurred_at", Reason: "must not be negative"}
	}
	if input.OccurredAt > nowUnix+s.clockSkew {
		return &models.ValidationError{Field: "occurred_at", Reason: "must not be in the future"}
	}

	if (input.Latitude == nil) != (input.Longitude == nil) {
		return &models.ValidationError{Field: "latitude", Reason: "latitude and longitude must be provided together"}
	}
	if input.Latitude != nil && !spatial.ValidLatLng(*input.Latitude, *input.Longitude) {
		return &models.ValidationError{Field: "latitude", Reason: "invalid GPS coordinates"}
	}
	return nil
}

// UserScans returns a user's scan history, newest first.
func (s *ScanService) UserScans(userID string, limit, offset int) ([]models.ScanEvent, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &models.ValidationError{Field: "user_id", Reason: "required"}
	}
	return s.events.UserScans(userID, limit, offset)
}
