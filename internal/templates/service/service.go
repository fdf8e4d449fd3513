// Package service provides read access to verification templates and seeds
// the defaults shipped with the binary.
package service

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"

	"verification_backend/internal/templates/repository"
	"verification_backend/internal/verification/domain"
	"verification_backend/platform/apperr"
	"verification_backend/platform/logger"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Service exposes templates to staff and to case creation.
type Service struct {
	repo repository.Repository
	log  *logger.Logger
}

// New creates a template service.
func New(repo repository.Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// List returns active templates, optionally narrowed to one policy type.
func (s *Service) List(ctx context.Context, policyType *domain.PolicyType) ([]repository.Template, error) {
	return s.repo.List(ctx, policyType, true)
}

// Get returns a template by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (repository.Template, error) {
	return s.repo.GetByID(ctx, id)
}

// Resolve picks the template a new case snapshots: the requested one when
// templateID is set, otherwise the default for the policy type.
func (s *Service) Resolve(ctx context.Context, templateID *uuid.UUID, policyType domain.PolicyType) (repository.Template, error) {
	if templateID == nil {
		return s.repo.GetDefault(ctx, policyType)
	}

	t, err := s.repo.GetByID(ctx, *templateID)
	if err != nil {
		return repository.Template{}, err
	}
	if !t.Active {
		return repository.Template{}, apperr.Validation("template is not active")
	}
	if t.PolicyType != policyType {
		return repository.Template{}, apperr.Validation(
			fmt.Sprintf("template is for policy type %s, not %s", t.PolicyType, policyType))
	}
	return t, nil
}

// seedFile is the on-disk shape of a default template.
type seedFile struct {
	Slug       string            `yaml:"slug"`
	Name       string            `yaml:"name"`
	PolicyType string            `yaml:"policyType"`
	Active     *bool             `yaml:"active"`
	Categories []domain.Category `yaml:"categories"`
}

// ParseSeed decodes and validates one YAML template definition.
func ParseSeed(data []byte) (repository.Template, error) {
	var seed seedFile
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return repository.Template{}, fmt.Errorf("parse template: %w", err)
	}
	if seed.Slug == "" || seed.Name == "" {
		return repository.Template{}, fmt.Errorf("template requires slug and name")
	}
	if !domain.IsKnownPolicyType(seed.PolicyType) {
		return repository.Template{}, fmt.Errorf("template %s: unknown policy type %q", seed.Slug, seed.PolicyType)
	}

	policy := domain.PolicySnapshot{Categories: seed.Categories}
	if err := policy.Validate(); err != nil {
		return repository.Template{}, fmt.Errorf("template %s: %w", seed.Slug, err)
	}

	active := true
	if seed.Active != nil {
		active = *seed.Active
	}
	return repository.Template{
		Slug:       seed.Slug,
		Name:       seed.Name,
		PolicyType: domain.PolicyType(seed.PolicyType),
		Policy:     policy,
		Active:     active,
	}, nil
}

// SeedDefaults upserts every *.yaml template in fsys by slug. A malformed
// file aborts the seed before anything is written.
func (s *Service) SeedDefaults(ctx context.Context, fsys fs.FS) (int, error) {
	names, err := fs.Glob(fsys, "*.yaml")
	if err != nil {
		return 0, fmt.Errorf("list template seeds: %w", err)
	}
	sort.Strings(names)

	parsed := make([]repository.Template, 0, len(names))
	for _, name := range names {
		data, err := fs.ReadFile(fsys, name)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", path.Base(name), err)
		}
		t, err := ParseSeed(data)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", path.Base(name), err)
		}
		parsed = append(parsed, t)
	}

	for _, t := range parsed {
		saved, err := s.repo.UpsertBySlug(ctx, t)
		if err != nil {
			return 0, err
		}
		s.log.Info("verification template seeded", "slug", saved.Slug, "id", saved.ID, "policyType", saved.PolicyType)
	}
	return len(parsed), nil
}
