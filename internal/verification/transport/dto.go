package transport

import (
	"time"

	"verification_backend/internal/verification/domain"

	"github.com/google/uuid"
)

// GeoPointRequest is a WGS84 coordinate sent by a client.
type GeoPointRequest struct {
	Latitude  float64 `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64 `json:"longitude" validate:"gte=-180,lte=180"`
}

// ToDomain converts the request to a domain coordinate. Nil stays nil.
func (g *GeoPointRequest) ToDomain() *domain.GeoPoint {
	if g == nil {
		return nil
	}
	return &domain.GeoPoint{Latitude: g.Latitude, Longitude: g.Longitude}
}

// =============================================================================
// Staff requests
// =============================================================================

// CreateVerificationRequest is the request body for creating a case.
type CreateVerificationRequest struct {
	CustomerName  string           `json:"customerName" validate:"required,min=1,max=200"`
	CustomerEmail string           `json:"customerEmail" validate:"required,email,max=320"`
	CustomerPhone string           `json:"customerPhone,omitempty" validate:"omitempty,max=32"`
	PolicyType    string           `json:"policyType" validate:"required,policytype"`
	TemplateID    *uuid.UUID       `json:"templateId,omitempty"`
	ReviewerID    *uuid.UUID       `json:"reviewerId,omitempty"`
	Location      *GeoPointRequest `json:"location,omitempty"`
}

// ListVerificationsRequest is the query for listing cases.
type ListVerificationsRequest struct {
	Status     string `form:"status" validate:"omitempty,oneof=draft in_progress submitted needs_revision approved rejected cancelled expired"`
	ReviewerID string `form:"reviewerId" validate:"omitempty,uuid"`
	PolicyType string `form:"policyType" validate:"omitempty,policytype"`
	Page       int    `form:"page" validate:"omitempty,min=1"`
	PageSize   int    `form:"pageSize" validate:"omitempty,min=1,max=100"`
}

// RejectVerificationRequest carries field-level feedback:
// category id -> field id -> reason.
type RejectVerificationRequest struct {
	Feedback map[string]map[string]string `json:"feedback" validate:"required,min=1"`
}

// ReassignVerificationRequest names a reviewer, or asks the balancer to pick
// one when Auto is set. Neither unassigns the case.
type ReassignVerificationRequest struct {
	ReviewerID *uuid.UUID `json:"reviewerId,omitempty" validate:"required_without=Auto"`
	Auto       bool       `json:"auto,omitempty"`
}

// =============================================================================
// Customer requests
// =============================================================================

// SaveCategoryRequest checkpoints the customer's answers for one category.
// DraftVersion is the draft version the client last saw (0 before the first save).
type SaveCategoryRequest struct {
	Answers      map[string]domain.AnswerValue `json:"answers"`
	RemovePhotos []string                      `json:"removePhotos,omitempty" validate:"omitempty,max=100,dive,required,max=200"`
	DraftVersion int                           `json:"draftVersion" validate:"min=0"`
}

// PresignEvidenceRequest asks for an upload URL for one photo field.
type PresignEvidenceRequest struct {
	CategoryID  string `json:"categoryId" validate:"required,max=100"`
	FieldID     string `json:"fieldId" validate:"required,max=200"`
	FileName    string `json:"fileName" validate:"required,max=255"`
	ContentType string `json:"contentType" validate:"required,max=100"`
	SizeBytes   int64  `json:"sizeBytes" validate:"required,gt=0"`
}

// ConfirmEvidenceRequest records an uploaded photo against its field.
type ConfirmEvidenceRequest struct {
	CategoryID string           `json:"categoryId" validate:"required,max=100"`
	FieldID    string           `json:"fieldId" validate:"required,max=200"`
	StorageKey string           `json:"storageKey" validate:"required,max=500"`
	GPS        *GeoPointRequest `json:"gps,omitempty"`
	CapturedAt *time.Time       `json:"capturedAt,omitempty"`
}

// =============================================================================
// Responses
// =============================================================================

// CustomerResponse is the customer contact block of a case.
type CustomerResponse struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// VerificationResponse is the staff view of a case.
type VerificationResponse struct {
	ID                 uuid.UUID                    `json:"id"`
	Reference          string                       `json:"reference"`
	Customer           CustomerResponse             `json:"customer"`
	Status             string                       `json:"status"`
	PolicyType         string                       `json:"policyType"`
	TemplateID         uuid.UUID                    `json:"templateId"`
	SubmittedAt        *time.Time                   `json:"submittedAt,omitempty"`
	CreatedAt          time.Time                    `json:"createdAt"`
	UpdatedAt          time.Time                    `json:"updatedAt"`
	RejectionCount     int                          `json:"rejectionCount"`
	RejectionReason    map[string]map[string]string `json:"rejectionReason,omitempty"`
	AccessTokenExpiry  time.Time                    `json:"accessTokenExpiry"`
	AssignedReviewerID *uuid.UUID                   `json:"assignedReviewerId,omitempty"`
	Location           *domain.GeoPoint             `json:"location,omitempty"`
	Version            int                          `json:"version"`
}

// VerificationDetailResponse adds the policy snapshot to the staff view.
type VerificationDetailResponse struct {
	VerificationResponse
	Policy domain.PolicySnapshot `json:"policy"`
}

// CreateVerificationResponse returns the case and the customer link.
type CreateVerificationResponse struct {
	VerificationResponse
	LinkURL string `json:"linkUrl"`
}

// VerificationListResponse is a page of cases.
type VerificationListResponse struct {
	Items      []VerificationResponse `json:"items"`
	Total      int                    `json:"total"`
	Page       int                    `json:"page"`
	PageSize   int                    `json:"pageSize"`
	TotalPages int                    `json:"totalPages"`
}

// CategoryProgress is the completeness of one category.
type CategoryProgress struct {
	CategoryID   string                    `json:"categoryId"`
	Title        string                    `json:"title"`
	Complete     bool                      `json:"complete"`
	Missing      []domain.MissingItem      `json:"missing"`
	ActiveFields []domain.PhotoRequirement `json:"activeFields"`
}

// ProgressResponse reports what is still missing before submit.
type ProgressResponse struct {
	Complete   bool               `json:"complete"`
	Categories []CategoryProgress `json:"categories"`
}

// DraftResponse is the customer's checkpointed draft.
type DraftResponse struct {
	Round      int                            `json:"round"`
	Version    int                            `json:"version"`
	Categories map[string]domain.CategoryData `json:"categories"`
	UpdatedAt  *time.Time                     `json:"updatedAt,omitempty"`
}

// SessionResponse is what the customer sees on opening the link.
type SessionResponse struct {
	Reference       string                       `json:"reference"`
	CustomerName    string                       `json:"customerName"`
	Status          string                       `json:"status"`
	PolicyType      string                       `json:"policyType"`
	Policy          domain.PolicySnapshot        `json:"policy"`
	ExpiresAt       time.Time                    `json:"expiresAt"`
	RejectionCount  int                          `json:"rejectionCount"`
	SubmissionsLeft int                          `json:"submissionsLeft"`
	Flagged         map[string]map[string]string `json:"flagged,omitempty"`
	Draft           DraftResponse                `json:"draft"`
	Progress        ProgressResponse             `json:"progress"`
}

// SaveCategoryResponse returns the new draft version and category progress.
type SaveCategoryResponse struct {
	DraftVersion int              `json:"draftVersion"`
	Category     CategoryProgress `json:"category"`
}

// PresignEvidenceResponse carries the upload URL and the key to confirm with.
type PresignEvidenceResponse struct {
	UploadURL  string    `json:"uploadUrl"`
	StorageKey string    `json:"storageKey"`
	ExpiresAt  time.Time `json:"expiresAt"`
}

// ConfirmEvidenceResponse is the recorded evidence.
type ConfirmEvidenceResponse struct {
	Evidence     domain.PhotoEvidence `json:"evidence"`
	DraftVersion int                  `json:"draftVersion"`
}

// SubmitResponse confirms a submission.
type SubmitResponse struct {
	Status           string    `json:"status"`
	SubmissionNumber int       `json:"submissionNumber"`
	SubmittedAt      time.Time `json:"submittedAt"`
}
