package handler

import (
	"net/http"
	"strings"

	"verification_backend/internal/verification/service"
	"verification_backend/internal/verification/transport"
	"verification_backend/platform/httpkit"
	"verification_backend/platform/validator"

	"github.com/gin-gonic/gin"
)

const publicMsgInvalidLink = "verification link not found"

// PublicHandler serves the customer link routes. The link token is the only
// credential.
type PublicHandler struct {
	svc *service.Service
	val *validator.Validator
}

// NewPublicHandler creates the customer-facing handler.
func NewPublicHandler(svc *service.Service, val *validator.Validator) *PublicHandler {
	return &PublicHandler{svc: svc, val: val}
}

// RegisterRoutes registers the customer routes under /public/verifications.
func (h *PublicHandler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/:token", h.GetSession)
	rg.PUT("/:token/categories/:categoryId", h.SaveCategory)
	rg.GET("/:token/progress", h.Progress)
	rg.POST("/:token/evidence/presign", h.PresignEvidence)
	rg.POST("/:token/evidence", h.ConfirmEvidence)
	rg.POST("/:token/submit", h.Submit)
}

func linkToken(c *gin.Context) (string, bool) {
	token := strings.TrimSpace(c.Param("token"))
	if token == "" || len(token) > 128 {
		httpkit.Error(c, http.StatusNotFound, publicMsgInvalidLink, nil)
		return "", false
	}
	return token, true
}

// GetSession returns the form, the draft and the progress behind a link.
// GET /public/verifications/:token
func (h *PublicHandler) GetSession(c *gin.Context) {
	token, ok := linkToken(c)
	if !ok {
		return
	}
	result, err := h.svc.OpenSession(c.Request.Context(), token)
	if httpkit.HandleError(c, err) {
		return
	}
	c.Header("Cache-Control", "no-store")
	httpkit.OK(c, result)
}

// SaveCategory checkpoints the answers of one category.
// PUT /public/verifications/:token/categories/:categoryId
func (h *PublicHandler) SaveCategory(c *gin.Context) {
	token, ok := linkToken(c)
	if !ok {
		return
	}
	var req transport.SaveCategoryRequest
	if !bindJSON(c, h.val, &req) {
		return
	}
	result, err := h.svc.SaveDraft(c.Request.Context(), token, c.Param("categoryId"), req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

func (h *PublicHandler) Progress(c *gin.Context) {
	token, ok := linkToken(c)
	if !ok {
		return
	}
	result, err := h.svc.Progress(c.Request.Context(), token)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// PresignEvidence hands out an upload URL for one photo.
// POST /public/verifications/:token/evidence/presign
func (h *PublicHandler) PresignEvidence(c *gin.Context) {
	token, ok := linkToken(c)
	if !ok {
		return
	}
	var req transport.PresignEvidenceRequest
	if !bindJSON(c, h.val, &req) {
		return
	}
	result, err := h.svc.PresignEvidence(c.Request.Context(), token, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}

// ConfirmEvidence records an uploaded photo.
// POST /public/verifications/:token/evidence
func (h *PublicHandler) ConfirmEvidence(c *gin.Context) {
	token, ok := linkToken(c)
	if !ok {
		return
	}
	var req transport.ConfirmEvidenceRequest
	if !bindJSON(c, h.val, &req) {
		return
	}
	result, err := h.svc.ConfirmEvidence(c.Request.Context(), token, req)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.Created(c, result)
}

func (h *PublicHandler) Submit(c *gin.Context) {
	token, ok := linkToken(c)
	if !ok {
		return
	}
	result, err := h.svc.Submit(c.Request.Context(), token)
	if httpkit.HandleError(c, err) {
		return
	}
	httpkit.OK(c, result)
}
