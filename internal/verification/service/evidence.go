package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"verification_backend/internal/adapters/storage"
	"verification_backend/internal/events"
	"verification_backend/internal/verification/domain"
	"verification_backend/internal/verification/repository"
	"verification_backend/internal/verification/transport"
	"verification_backend/platform/apperr"

	"github.com/google/uuid"
)

// evidenceField resolves the photo field a customer is uploading for. Only
// fields the category currently asks for accept evidence.
func (s *Service) evidenceField(c domain.Case, draft domain.DraftSession, categoryID, fieldID string) (domain.PhotoRequirement, error) {
	category, ok := c.Policy.Category(categoryID)
	if !ok {
		return domain.PhotoRequirement{}, apperr.NotFound(msgCategoryNotFound)
	}
	field, ok := domain.ActiveFieldIDs(category, draft.Data(categoryID))[fieldID]
	if !ok {
		return domain.PhotoRequirement{}, apperr.Validation("field does not accept a photo")
	}
	if err := domain.CheckEditable(c, categoryID, fieldID); err != nil {
		return domain.PhotoRequirement{}, translate(err)
	}
	return field, nil
}

// evidenceFolder scopes uploads to the case, category and round.
func evidenceFolder(c domain.Case, categoryID string) string {
	return fmt.Sprintf("%s/%s/r%d", c.ID, categoryID, c.RejectionCount)
}

// PresignEvidence hands out an upload URL for one photo field.
func (s *Service) PresignEvidence(ctx context.Context, token string, req transport.PresignEvidenceRequest) (transport.PresignEvidenceResponse, error) {
	if s.storage == nil {
		return transport.PresignEvidenceResponse{}, apperr.Internal(msgStorageUnavailable)
	}
	c, err := s.beginEditing(ctx, token)
	if err != nil {
		return transport.PresignEvidenceResponse{}, err
	}
	draft, err := s.loadDraft(ctx, c)
	if err != nil {
		return transport.PresignEvidenceResponse{}, err
	}
	if _, err := s.evidenceField(c, draft, req.CategoryID, req.FieldID); err != nil {
		return transport.PresignEvidenceResponse{}, err
	}
	if err := storage.ValidateContentType(req.ContentType); err != nil {
		return transport.PresignEvidenceResponse{}, apperr.Validation(err.Error())
	}
	if err := storage.ValidateFileSize(req.SizeBytes, s.maxFileSize); err != nil {
		return transport.PresignEvidenceResponse{}, apperr.Validation(err.Error())
	}

	presigned, err := s.storage.GenerateUploadURL(ctx, s.bucket, evidenceFolder(c, req.CategoryID), req.FileName, req.ContentType, req.SizeBytes)
	if err != nil {
		return transport.PresignEvidenceResponse{}, err
	}
	return transport.PresignEvidenceResponse{
		UploadURL:  presigned.URL,
		StorageKey: presigned.FileKey,
		ExpiresAt:  presigned.ExpiresAt,
	}, nil
}

// ConfirmEvidence records an uploaded photo in the draft. Fields that capture
// GPS fall back to the photo's EXIF block when the client sent no position.
func (s *Service) ConfirmEvidence(ctx context.Context, token string, req transport.ConfirmEvidenceRequest) (transport.ConfirmEvidenceResponse, error) {
	c, err := s.beginEditing(ctx, token)
	if err != nil {
		return transport.ConfirmEvidenceResponse{}, err
	}
	if !strings.HasPrefix(req.StorageKey, evidenceFolder(c, req.CategoryID)+"/") {
		return transport.ConfirmEvidenceResponse{}, apperr.Validation("storage key does not belong to this verification")
	}

	draft, err := s.loadDraft(ctx, c)
	if err != nil {
		return transport.ConfirmEvidenceResponse{}, err
	}
	field, err := s.evidenceField(c, draft, req.CategoryID, req.FieldID)
	if err != nil {
		return transport.ConfirmEvidenceResponse{}, err
	}

	evidence := domain.PhotoEvidence{
		FieldID:    req.FieldID,
		StorageKey: req.StorageKey,
		GPS:        req.GPS.ToDomain(),
		CapturedAt: s.now(),
	}
	if req.CapturedAt != nil {
		evidence.CapturedAt = req.CapturedAt.UTC()
	}
	if field.CaptureGPS && evidence.GPS == nil {
		s.applyPhotoMetadata(ctx, &evidence, req.CapturedAt == nil)
		if evidence.GPS == nil {
			return transport.ConfirmEvidenceResponse{}, apperr.Validation("photo requires a location; enable location access and retake it")
		}
	}

	saved, err := s.saveEvidence(ctx, c, draft, req.CategoryID, evidence)
	if err != nil {
		return transport.ConfirmEvidenceResponse{}, err
	}

	s.eventBus.Publish(ctx, events.EvidenceRecorded{
		BaseEvent:  events.At(saved.UpdatedAt),
		CaseID:     c.ID,
		Status:     string(c.Status),
		CategoryID: req.CategoryID,
		FieldID:    req.FieldID,
		StorageKey: req.StorageKey,
		HasGPS:     evidence.GPS != nil,
	})
	return transport.ConfirmEvidenceResponse{Evidence: evidence, DraftVersion: saved.Version}, nil
}

// applyPhotoMetadata reads GPS, and the capture time when the client sent
// none, from the stored photo. Unreadable photos are left as they are.
func (s *Service) applyPhotoMetadata(ctx context.Context, evidence *domain.PhotoEvidence, useCaptureTime bool) {
	if s.storage == nil {
		return
	}
	log := s.log.WithContext(ctx)

	body, err := s.storage.DownloadFile(ctx, s.bucket, evidence.StorageKey)
	if err != nil {
		log.Warn("failed to read evidence for metadata", "storageKey", evidence.StorageKey, "error", err)
		return
	}
	defer body.Close()

	meta, err := storage.ReadPhotoMetadata(body)
	if err != nil {
		log.Info("evidence has no usable metadata", "storageKey", evidence.StorageKey, "error", err)
		return
	}
	if meta.HasLocation() {
		evidence.GPS = &domain.GeoPoint{Latitude: *meta.Latitude, Longitude: *meta.Longitude}
	}
	if useCaptureTime && meta.CapturedAt != nil {
		evidence.CapturedAt = *meta.CapturedAt
	}
}

// saveEvidence sets the photo on the draft and writes it, re-reading the
// draft when another request saved in between.
func (s *Service) saveEvidence(ctx context.Context, c domain.Case, draft domain.DraftSession, categoryID string, evidence domain.PhotoEvidence) (domain.DraftSession, error) {
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		expected := draft.Version
		draft.SetPhoto(categoryID, evidence)
		saved, err := s.store.SaveDraft(ctx, withUpdatedAt(draft, s.now()), expected)
		if !errors.Is(err, repository.ErrVersionConflict) {
			return saved, err
		}
		s.log.ConcurrencyConflict("draft", c.ID.String(), attempt)
		if draft, err = s.loadDraft(ctx, c); err != nil {
			return domain.DraftSession{}, err
		}
	}
	return domain.DraftSession{}, apperr.Conflict(msgDraftConflict).WithCode("DRAFT_CONFLICT")
}

func withUpdatedAt(d domain.DraftSession, now time.Time) domain.DraftSession {
	d.UpdatedAt = now
	return d
}

// EvidenceURL returns a short-lived download URL for a photo of the case.
func (s *Service) EvidenceURL(ctx context.Context, id uuid.UUID, storageKey string) (*storage.PresignedURL, error) {
	if s.storage == nil {
		return nil, apperr.Internal(msgStorageUnavailable)
	}
	if !strings.HasPrefix(storageKey, id.String()+"/") {
		return nil, apperr.Validation("storage key does not belong to this verification")
	}
	if _, err := s.store.GetByID(ctx, id); err != nil {
		return nil, err
	}
	return s.storage.GenerateDownloadURL(ctx, s.bucket, storageKey)
}
