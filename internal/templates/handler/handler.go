package handler

import (
	"net/http"

	"verification_backend/internal/templates/service"
	"verification_backend/internal/verification/domain"
	"verification_backend/platform/httpkit"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidID         = "invalid template id"
	msgInvalidPolicyType = "invalid policy type"
)

// Handler serves read-only template routes.
type Handler struct {
	svc *service.Service
}

// New creates a template handler.
func New(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// List returns active templates.
// GET /api/v1/verification-templates?policyType=property
func (h *Handler) List(c *gin.Context) {
	var policyType *domain.PolicyType
	if raw := c.Query("policyType"); raw != "" {
		if !domain.IsKnownPolicyType(raw) {
			httpkit.Error(c, http.StatusBadRequest, msgInvalidPolicyType, nil)
			return
		}
		pt := domain.PolicyType(raw)
		policyType = &pt
	}

	result, err := h.svc.List(c.Request.Context(), policyType)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, gin.H{"items": result})
}

// Get returns a single template with its categories.
// GET /api/v1/verification-templates/:id
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidID, nil)
		return
	}

	result, err := h.svc.Get(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}
