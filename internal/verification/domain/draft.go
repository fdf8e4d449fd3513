package domain

import (
	"time"

	"github.com/google/uuid"
)

// DraftSession is the customer's in-progress answers and evidence for one
// round of a case. It is checkpointed explicitly by the caller.
type DraftSession struct {
	CaseID     uuid.UUID
	Round      int
	Categories map[string]CategoryData
	Version    int
	UpdatedAt  time.Time
}

// NewDraftSession starts an empty draft for the given rejection round.
func NewDraftSession(caseID uuid.UUID, round int) DraftSession {
	return DraftSession{
		CaseID:     caseID,
		Round:      round,
		Categories: make(map[string]CategoryData),
	}
}

// Data returns the category data, empty when nothing was saved yet.
func (d DraftSession) Data(categoryID string) CategoryData {
	if data, ok := d.Categories[categoryID]; ok {
		return data
	}
	return CategoryData{}
}

func (d *DraftSession) ensure(categoryID string) CategoryData {
	if d.Categories == nil {
		d.Categories = make(map[string]CategoryData)
	}
	data := d.Categories[categoryID]
	if data.Answers == nil {
		data.Answers = make(map[string]AnswerValue)
	}
	if data.Photos == nil {
		data.Photos = make(map[string]PhotoEvidence)
	}
	d.Categories[categoryID] = data
	return data
}

// SetAnswer records an answer. An undefined value clears it.
func (d *DraftSession) SetAnswer(categoryID, questionID string, value AnswerValue) {
	data := d.ensure(categoryID)
	if !value.IsDefined() {
		delete(data.Answers, questionID)
		return
	}
	data.Answers[questionID] = value
}

// SetPhoto records evidence for its field, replacing earlier evidence.
func (d *DraftSession) SetPhoto(categoryID string, evidence PhotoEvidence) {
	data := d.ensure(categoryID)
	data.Photos[evidence.FieldID] = evidence
}

// RemovePhoto drops evidence for fieldID.
func (d *DraftSession) RemovePhoto(categoryID, fieldID string) {
	data := d.ensure(categoryID)
	delete(data.Photos, fieldID)
}

// Clone returns a deep copy.
func (d DraftSession) Clone() DraftSession {
	out := d
	out.Categories = make(map[string]CategoryData, len(d.Categories))
	for id, data := range d.Categories {
		out.Categories[id] = data.Clone()
	}
	return out
}

// CheckEditable refuses edits to fields the reviewer did not flag during a
// correction round. Outside a correction round everything is editable.
func CheckEditable(c Case, categoryID, fieldID string) error {
	if !c.InRevision() {
		return nil
	}
	if c.RejectionReason.IsFlagged(categoryID, fieldID) {
		return nil
	}
	if isDynamicSlotOf(categoryID, fieldID) && c.RejectionReason.IsFlagged(categoryID, dynamicOwner(c, categoryID)) {
		return nil
	}
	return ErrFieldLocked
}

// dynamicOwner returns the id of the dynamic question of the category, if any.
// Flagging that question re-opens its generated photo slots.
func dynamicOwner(c Case, categoryID string) string {
	category, ok := c.Policy.Category(categoryID)
	if !ok {
		return ""
	}
	for _, q := range category.Questions {
		if q.Conditional.IsDynamic() {
			return q.ID
		}
	}
	return ""
}

func isDynamicSlotOf(categoryID, fieldID string) bool {
	_, ok := DynamicSlotIndex(categoryID, fieldID)
	return ok
}

// SeedRevisionDraft builds the draft for a correction round from the last
// submission: unflagged fields carry over as verified, flagged fields are
// cleared so the completeness check asks for them again.
func SeedRevisionDraft(c Case, submitted map[string]CategoryData) DraftSession {
	draft := NewDraftSession(c.ID, c.RejectionCount)
	for categoryID, data := range submitted {
		seeded := data.Clone()
		owner := dynamicOwner(c, categoryID)
		for questionID := range seeded.Answers {
			if c.RejectionReason.IsFlagged(categoryID, questionID) {
				delete(seeded.Answers, questionID)
			}
		}
		for fieldID := range seeded.Photos {
			if c.RejectionReason.IsFlagged(categoryID, fieldID) {
				delete(seeded.Photos, fieldID)
				continue
			}
			if owner != "" && isDynamicSlotOf(categoryID, fieldID) && c.RejectionReason.IsFlagged(categoryID, owner) {
				delete(seeded.Photos, fieldID)
			}
		}
		draft.Categories[categoryID] = seeded
	}
	return draft
}
