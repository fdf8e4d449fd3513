// Package templates provides the verification template bounded context:
// read access for staff and the default template seed.
package templates

import (
	apphttp "verification_backend/internal/http"
	"verification_backend/internal/templates/handler"
	"verification_backend/internal/templates/repository"
	"verification_backend/internal/templates/service"
	"verification_backend/platform/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Module is the templates module implementing http.Module.
type Module struct {
	handler *handler.Handler
	service *service.Service
}

// NewModule creates the templates module backed by PostgreSQL.
func NewModule(pool *pgxpool.Pool, log *logger.Logger) *Module {
	return NewModuleWithRepository(repository.New(pool), log)
}

// NewModuleWithRepository creates the module over any template store.
func NewModuleWithRepository(repo repository.Repository, log *logger.Logger) *Module {
	svc := service.New(repo, log)
	return &Module{
		handler: handler.New(svc),
		service: svc,
	}
}

// Name returns the module identifier.
func (m *Module) Name() string {
	return "templates"
}

// Service returns the service layer for other modules.
func (m *Module) Service() *service.Service {
	return m.service
}

// RegisterRoutes mounts the read-only template routes for staff.
func (m *Module) RegisterRoutes(ctx *apphttp.RouterContext) {
	group := ctx.Protected.Group("/verification-templates")
	group.GET("", m.handler.List)
	group.GET("/:id", m.handler.Get)
}

// Compile-time check that Module implements http.Module
var _ apphttp.Module = (*Module)(nil)
