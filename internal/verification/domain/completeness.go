package domain

import "fmt"

// MissingKind classifies an unmet requirement.
type MissingKind string

const (
	MissingPhoto  MissingKind = "photo"
	MissingAnswer MissingKind = "answer"
)

// MissingItem is one unmet requirement of a category.
type MissingItem struct {
	CategoryID string      `json:"categoryId"`
	FieldID    string      `json:"fieldId"`
	Kind       MissingKind `json:"kind"`
	Label      string      `json:"label"`
}

// String renders the item for display to the customer.
func (m MissingItem) String() string {
	label := m.Label
	if label == "" {
		label = m.FieldID
	}
	switch m.Kind {
	case MissingPhoto:
		return fmt.Sprintf("Missing photo: %s (%s)", label, m.FieldID)
	default:
		return fmt.Sprintf("Missing answer: %s (%s)", label, m.FieldID)
	}
}

// MissingItems walks the declared photos, questions and currently triggered
// conditional fields of category and returns everything still unmet.
func MissingItems(category Category, data CategoryData) []MissingItem {
	var missing []MissingItem

	for _, photo := range category.Photos {
		if photo.Required && !data.HasPhoto(photo.FieldID) {
			missing = append(missing, MissingItem{
				CategoryID: category.ID, FieldID: photo.FieldID, Kind: MissingPhoto, Label: photo.Label,
			})
		}
	}

	for _, q := range category.Questions {
		if q.Required && data.Answer(q.ID).IsBlank() {
			missing = append(missing, MissingItem{
				CategoryID: category.ID, FieldID: q.ID, Kind: MissingAnswer, Label: q.Prompt,
			})
		}
	}

	for _, q := range category.Questions {
		for _, field := range TriggeredFields(category.ID, q, data.Answer(q.ID)) {
			if field.Required && !data.HasPhoto(field.FieldID) {
				missing = append(missing, MissingItem{
					CategoryID: category.ID, FieldID: field.FieldID, Kind: MissingPhoto, Label: field.Label,
				})
			}
		}
	}

	return missing
}

// MissingRequirements returns human-readable descriptions of every unmet
// requirement. An empty result means the category is complete.
func MissingRequirements(category Category, data CategoryData) []string {
	items := MissingItems(category, data)
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.String())
	}
	return out
}

// IsComplete reports whether category has no unmet requirements.
func IsComplete(category Category, data CategoryData) bool {
	return len(MissingItems(category, data)) == 0
}

// FormMissing checks every category of the policy against the draft.
// Categories that are complete are omitted from the result.
func FormMissing(policy PolicySnapshot, draft DraftSession) map[string][]MissingItem {
	result := make(map[string][]MissingItem)
	for _, category := range policy.Categories {
		if items := MissingItems(category, draft.Data(category.ID)); len(items) > 0 {
			result[category.ID] = items
		}
	}
	return result
}

// FlattenMissing orders missing items by policy category order.
func FlattenMissing(policy PolicySnapshot, missing map[string][]MissingItem) []MissingItem {
	var out []MissingItem
	for _, category := range policy.Categories {
		out = append(out, missing[category.ID]...)
	}
	return out
}

// ActiveFieldIDs returns every photo field id the category currently accepts:
// declared photos, static conditional fields and generated dynamic slots of
// triggered conditionals.
func ActiveFieldIDs(category Category, data CategoryData) map[string]PhotoRequirement {
	fields := make(map[string]PhotoRequirement, len(category.Photos))
	for _, photo := range category.Photos {
		fields[photo.FieldID] = photo
	}
	for _, q := range category.Questions {
		for _, field := range TriggeredFields(category.ID, q, data.Answer(q.ID)) {
			fields[field.FieldID] = field
		}
	}
	return fields
}

// SubmittableData returns the view of data that goes into a submission.
// Evidence for conditional fields that are no longer triggered stays in the
// draft but is left out here.
func SubmittableData(category Category, data CategoryData) CategoryData {
	active := ActiveFieldIDs(category, data)
	out := CategoryData{
		Answers: make(map[string]AnswerValue, len(data.Answers)),
		Photos:  make(map[string]PhotoEvidence, len(data.Photos)),
	}
	for _, q := range category.Questions {
		if answer := data.Answer(q.ID); answer.IsDefined() {
			out.Answers[q.ID] = answer
		}
	}
	for fieldID, evidence := range data.Photos {
		if _, ok := active[fieldID]; ok {
			out.Photos[fieldID] = evidence
		}
	}
	return out.Clone()
}

// KnownField reports whether fieldID names a question, a declared photo, a
// conditional photo field or a generated dynamic slot of category.
func KnownField(category Category, fieldID string) bool {
	if _, ok := category.Question(fieldID); ok {
		return true
	}
	for _, photo := range category.Photos {
		if photo.FieldID == fieldID {
			return true
		}
	}
	for _, q := range category.Questions {
		if q.Conditional.IsDynamic() {
			continue
		}
		for _, field := range q.Conditional.ShowFields() {
			if field.FieldID == fieldID {
				return true
			}
		}
	}
	if _, ok := DynamicSlotIndex(category.ID, fieldID); !ok {
		return false
	}
	for _, q := range category.Questions {
		if q.Conditional.IsDynamic() {
			return true
		}
	}
	return false
}
