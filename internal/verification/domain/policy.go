package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// QuestionType is the input type of a questionnaire question.
type QuestionType string

const (
	QuestionText         QuestionType = "text"
	QuestionNumber       QuestionType = "number"
	QuestionSingleSelect QuestionType = "single_select"
	QuestionYesNo        QuestionType = "yes_no"
)

// IsNumeric reports whether answers to the question are numbers.
func (t QuestionType) IsNumeric() bool {
	return t == QuestionNumber
}

// PhotoRequirement is a photo the customer must or may capture.
// Conditional photo fields share this shape.
type PhotoRequirement struct {
	FieldID     string `json:"fieldId" yaml:"fieldId"`
	Label       string `json:"label" yaml:"label"`
	Instruction string `json:"instruction,omitempty" yaml:"instruction,omitempty"`
	Required    bool   `json:"required" yaml:"required"`
	CaptureGPS  bool   `json:"captureGps" yaml:"captureGps"`
}

// Question is a single questionnaire entry within a category.
type Question struct {
	ID          string       `json:"id" yaml:"id"`
	Prompt      string       `json:"prompt" yaml:"prompt"`
	Type        QuestionType `json:"type" yaml:"type"`
	Options     []string     `json:"options,omitempty" yaml:"options,omitempty"`
	Required    bool         `json:"required" yaml:"required"`
	Conditional *Conditional `json:"conditional,omitempty" yaml:"conditional,omitempty"`
}

// Category groups photo requirements and questions. Order matters for navigation only.
type Category struct {
	ID        string             `json:"id" yaml:"id"`
	Title     string             `json:"title" yaml:"title"`
	Photos    []PhotoRequirement `json:"photos" yaml:"photos"`
	Questions []Question         `json:"questions" yaml:"questions"`
}

// PolicySnapshot is the case-owned copy of a template's categories.
type PolicySnapshot struct {
	Categories []Category `json:"categories" yaml:"categories"`
}

// Category returns the category with the given id.
func (p PolicySnapshot) Category(id string) (Category, bool) {
	for _, c := range p.Categories {
		if c.ID == id {
			return c, true
		}
	}
	return Category{}, false
}

// Question returns the question with the given id.
func (c Category) Question(id string) (Question, bool) {
	for _, q := range c.Questions {
		if q.ID == id {
			return q, true
		}
	}
	return Question{}, false
}

// Clone returns a deep copy so later template edits never reach the case.
func (p PolicySnapshot) Clone() PolicySnapshot {
	if p.Categories == nil {
		return PolicySnapshot{}
	}
	out := PolicySnapshot{Categories: make([]Category, len(p.Categories))}
	for i, c := range p.Categories {
		out.Categories[i] = c.clone()
	}
	return out
}

func (c Category) clone() Category {
	out := Category{ID: c.ID, Title: c.Title}
	if c.Photos != nil {
		out.Photos = append([]PhotoRequirement(nil), c.Photos...)
	}
	if c.Questions != nil {
		out.Questions = make([]Question, len(c.Questions))
		for i, q := range c.Questions {
			out.Questions[i] = q.clone()
		}
	}
	return out
}

func (q Question) clone() Question {
	out := q
	if q.Options != nil {
		out.Options = append([]string(nil), q.Options...)
	}
	if q.Conditional != nil {
		cond := q.Conditional.clone()
		out.Conditional = &cond
	}
	return out
}

// Validate checks the structural invariants of the snapshot.
func (p PolicySnapshot) Validate() error {
	seenCategories := make(map[string]struct{}, len(p.Categories))
	for _, c := range p.Categories {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("category %q: id is required", c.Title)
		}
		if _, dup := seenCategories[c.ID]; dup {
			return fmt.Errorf("category %s: duplicate id", c.ID)
		}
		seenCategories[c.ID] = struct{}{}
		if err := c.validate(); err != nil {
			return fmt.Errorf("category %s: %w", c.ID, err)
		}
	}
	return nil
}

func (c Category) validate() error {
	fields := make(map[string]struct{})
	for _, photo := range c.Photos {
		if photo.FieldID == "" {
			return fmt.Errorf("photo %q: field id is required", photo.Label)
		}
		if _, dup := fields[photo.FieldID]; dup {
			return fmt.Errorf("photo %s: duplicate field id", photo.FieldID)
		}
		fields[photo.FieldID] = struct{}{}
	}

	questions := make(map[string]struct{})
	dynamic := ""
	for _, q := range c.Questions {
		if q.ID == "" {
			return fmt.Errorf("question %q: id is required", q.Prompt)
		}
		if _, dup := questions[q.ID]; dup {
			return fmt.Errorf("question %s: duplicate id", q.ID)
		}
		questions[q.ID] = struct{}{}

		switch q.Type {
		case QuestionText, QuestionNumber, QuestionYesNo:
			if len(q.Options) > 0 {
				return fmt.Errorf("question %s: options are only allowed for single_select", q.ID)
			}
		case QuestionSingleSelect:
			if len(q.Options) == 0 {
				return fmt.Errorf("question %s: single_select requires options", q.ID)
			}
		default:
			return fmt.Errorf("question %s: unknown type %q", q.ID, q.Type)
		}

		if q.Conditional != nil {
			if err := q.Conditional.validateFor(q); err != nil {
				return fmt.Errorf("question %s: %w", q.ID, err)
			}
			// Generated slot ids are per category, so only one question may own them.
			if q.Conditional.IsDynamic() {
				if dynamic != "" {
					return fmt.Errorf("question %s: %s already generates the dynamic photos of this category", q.ID, dynamic)
				}
				dynamic = q.ID
			}
		}
	}
	return nil
}

// Scalar is a conditional comparison value: a number for numeric questions,
// a string for yes_no and single_select questions.
type Scalar struct {
	Text    string
	Numeric bool
}

// NumberScalar builds a numeric scalar.
func NumberScalar(v float64) Scalar {
	return Scalar{Text: formatNumber(v), Numeric: true}
}

// TextScalar builds a string scalar.
func TextScalar(v string) Scalar {
	return Scalar{Text: v}
}

// String returns the scalar in its canonical string form.
func (s Scalar) String() string {
	return s.Text
}

// MarshalJSON writes numbers unquoted and strings quoted.
func (s Scalar) MarshalJSON() ([]byte, error) {
	if s.Numeric {
		return []byte(s.Text), nil
	}
	return json.Marshal(s.Text)
}

// UnmarshalJSON accepts a JSON number or string.
func (s *Scalar) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*s = Scalar{}
		return nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		*s = TextScalar(text)
		return nil
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return fmt.Errorf("conditional value: %w", err)
	}
	*s = NumberScalar(v)
	return nil
}

// UnmarshalYAML accepts a YAML int, float, bool or string.
func (s *Scalar) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw interface{}
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*s = Scalar{}
	case int:
		*s = NumberScalar(float64(v))
	case int64:
		*s = NumberScalar(float64(v))
	case float64:
		*s = NumberScalar(v)
	case bool:
		*s = TextScalar(strconv.FormatBool(v))
	case string:
		*s = TextScalar(v)
	default:
		return fmt.Errorf("conditional value: unsupported type %T", raw)
	}
	return nil
}

// formatNumber renders v without a trailing ".0" so 3 and 3.0 compare equal as text.
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
