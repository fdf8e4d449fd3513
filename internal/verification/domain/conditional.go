package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// MaxDynamicPhotos caps the number of photo slots one answer can generate.
const MaxDynamicPhotos = 50

// ConditionKind discriminates the Conditional variants.
type ConditionKind string

const (
	ConditionOperator ConditionKind = "operator"
	ConditionLegacy   ConditionKind = "legacy"
)

// Operator is a comparison operator of an operator condition.
type Operator string

const (
	OpGreater      Operator = ">"
	OpLess         Operator = "<"
	OpEqual        Operator = "="
	OpGreaterEqual Operator = ">="
	OpLessEqual    Operator = "<="
)

// OperatorCondition compares the answer against Value.
type OperatorCondition struct {
	Operator        Operator           `json:"operator" yaml:"operator"`
	Value           Scalar             `json:"value" yaml:"value"`
	ShowFields      []PhotoRequirement `json:"showFields" yaml:"showFields"`
	UseDynamicCount bool               `json:"useDynamicCount,omitempty" yaml:"useDynamicCount,omitempty"`
}

// LegacyCondition triggers when the answer equals (or contains) IfAnswer.
type LegacyCondition struct {
	IfAnswer   string             `json:"ifAnswer" yaml:"ifAnswer"`
	ShowFields []PhotoRequirement `json:"showFields" yaml:"showFields"`
}

// Conditional is a tagged union: exactly one payload is set, matching Kind.
type Conditional struct {
	Kind     ConditionKind      `json:"kind" yaml:"kind"`
	Operator *OperatorCondition `json:"operator,omitempty" yaml:"operator,omitempty"`
	Legacy   *LegacyCondition   `json:"legacy,omitempty" yaml:"legacy,omitempty"`
}

// WhenOperator builds an operator conditional.
func WhenOperator(op Operator, value Scalar, fields ...PhotoRequirement) *Conditional {
	return &Conditional{
		Kind:     ConditionOperator,
		Operator: &OperatorCondition{Operator: op, Value: value, ShowFields: fields},
	}
}

// WhenDynamic builds a dynamic-count conditional around a single template field.
func WhenDynamic(op Operator, value Scalar, template PhotoRequirement) *Conditional {
	c := WhenOperator(op, value, template)
	c.Operator.UseDynamicCount = true
	return c
}

// WhenAnswer builds a legacy string-shorthand conditional.
func WhenAnswer(ifAnswer string, fields ...PhotoRequirement) *Conditional {
	return &Conditional{
		Kind:   ConditionLegacy,
		Legacy: &LegacyCondition{IfAnswer: ifAnswer, ShowFields: fields},
	}
}

// IsDynamic reports whether the conditional generates its photo count from the answer.
func (c *Conditional) IsDynamic() bool {
	return c != nil && c.Kind == ConditionOperator && c.Operator != nil && c.Operator.UseDynamicCount
}

// ShowFields returns the declared fields of whichever variant is set.
func (c *Conditional) ShowFields() []PhotoRequirement {
	if c == nil {
		return nil
	}
	switch c.Kind {
	case ConditionOperator:
		if c.Operator != nil {
			return c.Operator.ShowFields
		}
	case ConditionLegacy:
		if c.Legacy != nil {
			return c.Legacy.ShowFields
		}
	}
	return nil
}

func (c Conditional) clone() Conditional {
	out := Conditional{Kind: c.Kind}
	if c.Operator != nil {
		op := *c.Operator
		op.ShowFields = append([]PhotoRequirement(nil), c.Operator.ShowFields...)
		out.Operator = &op
	}
	if c.Legacy != nil {
		legacy := *c.Legacy
		legacy.ShowFields = append([]PhotoRequirement(nil), c.Legacy.ShowFields...)
		out.Legacy = &legacy
	}
	return out
}

var errConditionalShape = errors.New("conditional payload does not match its kind")

func (c *Conditional) validateFor(q Question) error {
	switch c.Kind {
	case ConditionOperator:
		if c.Operator == nil || c.Legacy != nil {
			return errConditionalShape
		}
		switch c.Operator.Operator {
		case OpGreater, OpLess, OpEqual, OpGreaterEqual, OpLessEqual:
		default:
			return fmt.Errorf("unknown operator %q", c.Operator.Operator)
		}
		if !c.Operator.UseDynamicCount {
			if q.Type == QuestionYesNo && c.Operator.Operator != OpEqual {
				return fmt.Errorf("operator %s cannot compare a yes_no answer", c.Operator.Operator)
			}
			if c.Operator.Operator == OpEqual {
				return checkChoiceValue(q, c.Operator.Value.String())
			}
			return nil
		}
		if c.Operator.Operator != OpGreater && c.Operator.Operator != OpGreaterEqual {
			return errors.New("dynamic count requires operator > or >=")
		}
		if !q.Type.IsNumeric() {
			return errors.New("dynamic count requires a numeric question")
		}
		if len(c.Operator.ShowFields) != 1 {
			return errors.New("dynamic count requires exactly one template field")
		}
	case ConditionLegacy:
		if c.Legacy == nil || c.Operator != nil {
			return errConditionalShape
		}
		return checkChoiceValue(q, c.Legacy.IfAnswer)
	default:
		return fmt.Errorf("unknown conditional kind %q", c.Kind)
	}
	return nil
}

// checkChoiceValue makes sure a conditional on a yes_no or single_select
// question compares against an answer the customer can actually store.
func checkChoiceValue(q Question, want string) error {
	if q.Type != QuestionYesNo && q.Type != QuestionSingleSelect {
		return nil
	}
	stored := NormalizeAnswer(q, TextAnswer(want))
	if strings.TrimSpace(want) == "" || CheckAnswer(q, stored) != nil || stored.String() != want {
		return fmt.Errorf("conditional value %q is not a valid answer", want)
	}
	return nil
}

// ShouldTrigger decides whether the conditional's extra fields are required for answer.
// Unparseable numeric input never triggers.
func ShouldTrigger(cond *Conditional, answer AnswerValue) bool {
	if cond == nil || answer.IsEmpty() {
		return false
	}
	switch cond.Kind {
	case ConditionOperator:
		if cond.Operator == nil {
			return false
		}
		return compare(cond.Operator.Operator, cond.Operator.Value, answer)
	case ConditionLegacy:
		if cond.Legacy == nil {
			return false
		}
		return matchesText(answer, cond.Legacy.IfAnswer)
	default:
		return false
	}
}

func compare(op Operator, value Scalar, answer AnswerValue) bool {
	if op == OpEqual {
		return matchesText(answer, value.String())
	}

	left, ok := answer.Number()
	if !ok {
		return false
	}
	right, ok := parseNumber(value.String())
	if !ok {
		return false
	}

	switch op {
	case OpGreater:
		return left > right
	case OpGreaterEqual:
		return left >= right
	case OpLess:
		return left < right
	case OpLessEqual:
		return left <= right
	default:
		return false
	}
}

func matchesText(answer AnswerValue, want string) bool {
	if answer.IsList() {
		return answer.Contains(want)
	}
	return answer.String() == want
}

// DynamicPhotoCount returns how many photos a dynamic conditional requires for answer.
func DynamicPhotoCount(cond *Conditional, answer AnswerValue) int {
	if !cond.IsDynamic() || !ShouldTrigger(cond, answer) {
		return 0
	}
	v, ok := answer.Number()
	if !ok || v < 1 || v != math.Trunc(v) {
		return 0
	}
	if v > MaxDynamicPhotos {
		return MaxDynamicPhotos
	}
	return int(v)
}

// DynamicFieldID is the stable id of the i-th (1-based) generated slot of a category.
func DynamicFieldID(categoryID string, i int) string {
	return "dynamic_photo_" + categoryID + "_" + strconv.Itoa(i)
}

// DynamicSlotIndex parses a generated slot id of categoryID and returns its
// 1-based index. Ids outside 1..MaxDynamicPhotos are not slots.
func DynamicSlotIndex(categoryID, fieldID string) (int, bool) {
	rest, ok := strings.CutPrefix(fieldID, "dynamic_photo_"+categoryID+"_")
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(rest)
	if err != nil || i < 1 || i > MaxDynamicPhotos || strconv.Itoa(i) != rest {
		return 0, false
	}
	return i, true
}

// MaterializeDynamicFields generates count copies of the template field with
// indexed labels and deterministic ids.
func MaterializeDynamicFields(categoryID string, cond *Conditional, count int) []PhotoRequirement {
	templates := cond.ShowFields()
	if count <= 0 || len(templates) == 0 {
		return nil
	}
	if count > MaxDynamicPhotos {
		count = MaxDynamicPhotos
	}
	tmpl := templates[0]
	fields := make([]PhotoRequirement, 0, count)
	for i := 1; i <= count; i++ {
		field := tmpl
		field.FieldID = DynamicFieldID(categoryID, i)
		field.Label = indexedLabel(tmpl.Label, i)
		fields = append(fields, field)
	}
	return fields
}

func indexedLabel(label string, i int) string {
	index := strconv.Itoa(i)
	if strings.Contains(label, "#") {
		return strings.ReplaceAll(label, "#", index)
	}
	if label == "" {
		return index
	}
	return label + " " + index
}

// TriggeredFields returns the concrete photo fields question q currently requires.
// Static fields keep their declared required flag; generated slots are always required.
func TriggeredFields(categoryID string, q Question, answer AnswerValue) []PhotoRequirement {
	cond := q.Conditional
	if cond == nil || !ShouldTrigger(cond, answer) {
		return nil
	}
	if cond.IsDynamic() {
		fields := MaterializeDynamicFields(categoryID, cond, DynamicPhotoCount(cond, answer))
		for i := range fields {
			fields[i].Required = true
		}
		return fields
	}
	return cond.ShowFields()
}
