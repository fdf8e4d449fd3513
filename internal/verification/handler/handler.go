package handler

import (
	"net/http"

	"verification_backend/internal/verification/domain"
	"verification_backend/internal/verification/service"
	"verification_backend/internal/verification/transport"
	"verification_backend/platform/httpkit"
	"verification_backend/platform/validator"

	"github.com/gin-gonic/gin"
	validatorlib "github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
	msgInvalidID        = "invalid verification id"
)

// Handler serves the staff verification routes.
type Handler struct {
	svc *service.Service
	val *validator.Validator
}

// New creates a staff handler.
func New(svc *service.Service, val *validator.Validator) *Handler {
	return &Handler{svc: svc, val: val}
}

// RegisterValidations adds the verification-specific validation tags.
func RegisterValidations(val *validator.Validator) error {
	return val.RegisterValidation("policytype", func(fl validatorlib.FieldLevel) bool {
		return domain.IsKnownPolicyType(fl.Field().String())
	})
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("", h.Create)
	rg.GET("", h.List)
	rg.GET("/:id", h.Get)
	rg.GET("/:id/submission", h.GetSubmission)
	rg.POST("/:id/approve", h.Approve)
	rg.POST("/:id/reject", h.Reject)
	rg.POST("/:id/reassign", h.Reassign)
	rg.POST("/:id/cancel", h.Cancel)
	rg.GET("/:id/link-qr", h.LinkQR)
	rg.GET("/:id/evidence-url", h.EvidenceURL)
}

// bindJSON decodes and validates the request body. It writes the error
// response itself and reports whether the handler may continue.
func bindJSON(c *gin.Context, val *validator.Validator, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return false
	}
	if err := val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Messages(err))
		return false
	}
	return true
}

func caseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return uuid.Nil, false
	}
	return id, true
}

// Create opens a case and sends the customer link.
// POST /api/v1/verifications
func (h *Handler) Create(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	var req transport.CreateVerificationRequest
	if !bindJSON(c, h.val, &req) {
		return
	}

	result, err := h.svc.Create(c.Request.Context(), identity.UserID(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, result)
}

// List returns a filtered page of cases.
// GET /api/v1/verifications?status=submitted&page=1
func (h *Handler) List(c *gin.Context) {
	var req transport.ListVerificationsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.val.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, validator.Messages(err))
		return
	}

	result, err := h.svc.List(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Get(c *gin.Context) {
	id, ok := caseID(c)
	if !ok {
		return
	}
	result, err := h.svc.Get(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// GetSubmission returns what the customer last handed in.
// GET /api/v1/verifications/:id/submission
func (h *Handler) GetSubmission(c *gin.Context) {
	id, ok := caseID(c)
	if !ok {
		return
	}
	result, err := h.svc.GetSubmission(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Approve(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	id, ok := caseID(c)
	if !ok {
		return
	}
	result, err := h.svc.Approve(c.Request.Context(), identity.UserID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// Reject sends the case back to the customer, or closes it once the
// rejection budget is spent.
// POST /api/v1/verifications/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	id, ok := caseID(c)
	if !ok {
		return
	}
	var req transport.RejectVerificationRequest
	if !bindJSON(c, h.val, &req) {
		return
	}

	result, err := h.svc.Reject(c.Request.Context(), identity.UserID(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Reassign(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	id, ok := caseID(c)
	if !ok {
		return
	}
	var req transport.ReassignVerificationRequest
	if !bindJSON(c, h.val, &req) {
		return
	}

	result, err := h.svc.Reassign(c.Request.Context(), identity.UserID(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *Handler) Cancel(c *gin.Context) {
	identity := httpkit.MustGetIdentity(c)
	if identity == nil {
		return
	}
	id, ok := caseID(c)
	if !ok {
		return
	}
	result, err := h.svc.Cancel(c.Request.Context(), identity.UserID(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// LinkQR renders the customer link as a PNG for printing or screen sharing.
// GET /api/v1/verifications/:id/link-qr
func (h *Handler) LinkQR(c *gin.Context) {
	id, ok := caseID(c)
	if !ok {
		return
	}
	png, err := h.svc.LinkQR(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// EvidenceURL returns a short-lived download URL for one photo.
// GET /api/v1/verifications/:id/evidence-url?key=...
func (h *Handler) EvidenceURL(c *gin.Context) {
	id, ok := caseID(c)
	if !ok {
		return
	}
	key := c.Query("key")
	if key == "" {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	result, err := h.svc.EvidenceURL(c.Request.Context(), id, key)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}
