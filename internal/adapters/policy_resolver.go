package adapters

import (
	"context"

	templatesvc "verification_backend/internal/templates/service"
	"verification_backend/internal/verification/domain"
	verificationsvc "verification_backend/internal/verification/service"

	"github.com/google/uuid"
)

// PolicyResolver adapts the templates service for case creation.
type PolicyResolver struct {
	templates *templatesvc.Service
}

// NewPolicyResolver creates a new policy resolver adapter.
func NewPolicyResolver(templates *templatesvc.Service) *PolicyResolver {
	return &PolicyResolver{templates: templates}
}

// ResolvePolicy returns the template a new case snapshots.
func (a *PolicyResolver) ResolvePolicy(ctx context.Context, templateID *uuid.UUID, policyType domain.PolicyType) (verificationsvc.ResolvedPolicy, error) {
	t, err := a.templates.Resolve(ctx, templateID, policyType)
	if err != nil {
		return verificationsvc.ResolvedPolicy{}, err
	}
	return verificationsvc.ResolvedPolicy{
		TemplateID: t.ID,
		Name:       t.Name,
		Policy:     t.Policy,
	}, nil
}

// Compile-time check.
var _ verificationsvc.PolicyResolver = (*PolicyResolver)(nil)
