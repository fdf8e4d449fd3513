// Package verification provides the verification case bounded context:
// staff case management, the customer link flow and link expiry.
package verification

import (
	apphttp "verification_backend/internal/http"
	"verification_backend/internal/verification/handler"
	"verification_backend/internal/verification/service"
	"verification_backend/platform/validator"
)

// Module is the verification module implementing http.Module.
type Module struct {
	handler       *handler.Handler
	publicHandler *handler.PublicHandler
	service       *service.Service
}

// NewModule creates the verification module. The policytype validation tag
// is registered on val.
func NewModule(deps service.Deps, val *validator.Validator) (*Module, error) {
	if err := handler.RegisterValidations(val); err != nil {
		return nil, err
	}
	svc := service.New(deps)
	return &Module{
		handler:       handler.New(svc, val),
		publicHandler: handler.NewPublicHandler(svc, val),
		service:       svc,
	}, nil
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "verification"
}

// Service returns the service layer for the expiry worker and sweep.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts the staff routes under /api/v1/verifications and the
// customer routes under /api/v1/public/verifications.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	m.handler.RegisterRoutes(ctx.Protected.Group("/verifications"))
	m.publicHandler.RegisterRoutes(ctx.Public.Group("/verifications"))
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
