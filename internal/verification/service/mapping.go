package service

import (
	"maps"
	"slices"

	"verification_backend/internal/events"
	"verification_backend/internal/verification/domain"
	"verification_backend/internal/verification/transport"
)

func toResponse(c domain.Case) transport.VerificationResponse {
	return transport.VerificationResponse{
		ID:        c.ID,
		Reference: c.Reference,
		Customer: transport.CustomerResponse{
			Name:  c.Customer.Name,
			Email: c.Customer.Email,
			Phone: c.Customer.Phone,
		},
		Status:             string(c.Status),
		PolicyType:         string(c.PolicyType),
		TemplateID:         c.TemplateID,
		SubmittedAt:        c.SubmittedAt,
		CreatedAt:          c.CreatedAt,
		UpdatedAt:          c.UpdatedAt,
		RejectionCount:     c.RejectionCount,
		RejectionReason:    c.RejectionReason.Clone(),
		AccessTokenExpiry:  c.AccessTokenExpiry,
		AssignedReviewerID: c.AssignedReviewerID,
		Location:           c.Location,
		Version:            c.Version,
	}
}

func toDetail(c domain.Case) transport.VerificationDetailResponse {
	return transport.VerificationDetailResponse{
		VerificationResponse: toResponse(c),
		Policy:               c.Policy.Clone(),
	}
}

func categoryProgress(category domain.Category, data domain.CategoryData) transport.CategoryProgress {
	missing := domain.MissingItems(category, data)
	if missing == nil {
		missing = []domain.MissingItem{}
	}

	// Declared photos first, then triggered conditional fields in question order.
	active := make([]domain.PhotoRequirement, 0, len(category.Photos))
	active = append(active, category.Photos...)
	for _, q := range category.Questions {
		active = append(active, domain.TriggeredFields(category.ID, q, data.Answer(q.ID))...)
	}

	return transport.CategoryProgress{
		CategoryID:   category.ID,
		Title:        category.Title,
		Complete:     len(missing) == 0,
		Missing:      missing,
		ActiveFields: active,
	}
}

func buildProgress(policy domain.PolicySnapshot, draft domain.DraftSession) transport.ProgressResponse {
	resp := transport.ProgressResponse{
		Complete:   true,
		Categories: make([]transport.CategoryProgress, 0, len(policy.Categories)),
	}
	for _, category := range policy.Categories {
		p := categoryProgress(category, draft.Data(category.ID))
		if !p.Complete {
			resp.Complete = false
		}
		resp.Categories = append(resp.Categories, p)
	}
	return resp
}

func toDraftResponse(draft domain.DraftSession) transport.DraftResponse {
	resp := transport.DraftResponse{
		Round:      draft.Round,
		Version:    draft.Version,
		Categories: make(map[string]domain.CategoryData, len(draft.Categories)),
	}
	for id, data := range draft.Categories {
		resp.Categories[id] = data.Clone()
	}
	if !draft.UpdatedAt.IsZero() {
		updatedAt := draft.UpdatedAt
		resp.UpdatedAt = &updatedAt
	}
	return resp
}

// flaggedFields resolves feedback to display labels in policy order.
func flaggedFields(policy domain.PolicySnapshot, feedback domain.Feedback) []events.FlaggedField {
	var out []events.FlaggedField
	for _, category := range policy.Categories {
		fields := feedback[category.ID]
		if len(fields) == 0 {
			continue
		}
		labels := fieldLabels(category)
		for _, id := range slices.Sorted(maps.Keys(fields)) {
			out = append(out, events.FlaggedField{
				CategoryID:    category.ID,
				CategoryTitle: category.Title,
				FieldID:       id,
				FieldLabel:    labels[id],
				Reason:        fields[id],
			})
		}
	}
	return out
}

func fieldLabels(category domain.Category) map[string]string {
	labels := make(map[string]string)
	for _, photo := range category.Photos {
		labels[photo.FieldID] = photo.Label
	}
	for _, q := range category.Questions {
		labels[q.ID] = q.Prompt
		for _, field := range q.Conditional.ShowFields() {
			if !q.Conditional.IsDynamic() {
				labels[field.FieldID] = field.Label
			}
		}
	}
	return labels
}
