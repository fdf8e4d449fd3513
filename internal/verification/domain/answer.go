package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

type answerKind uint8

const (
	answerNone answerKind = iota
	answerText
	answerNumber
	answerList
)

// AnswerValue is a customer's answer: a string, a number or a list of strings.
// The zero value is an undefined answer.
type AnswerValue struct {
	kind   answerKind
	text   string
	number float64
	list   []string
}

// TextAnswer builds a string answer.
func TextAnswer(v string) AnswerValue {
	return AnswerValue{kind: answerText, text: v}
}

// NumberAnswer builds a numeric answer.
func NumberAnswer(v float64) AnswerValue {
	return AnswerValue{kind: answerNumber, number: v}
}

// ListAnswer builds a multi-select answer.
func ListAnswer(values ...string) AnswerValue {
	return AnswerValue{kind: answerList, list: append([]string{}, values...)}
}

// IsDefined reports whether any value was given.
func (a AnswerValue) IsDefined() bool {
	return a.kind != answerNone
}

// IsEmpty reports whether the answer is undefined or the empty string.
func (a AnswerValue) IsEmpty() bool {
	return a.kind == answerNone || (a.kind == answerText && a.text == "")
}

// IsBlank is IsEmpty extended to whitespace-only text and empty lists.
func (a AnswerValue) IsBlank() bool {
	switch a.kind {
	case answerNone:
		return true
	case answerText:
		return strings.TrimSpace(a.text) == ""
	case answerList:
		return len(a.list) == 0
	}
	return false
}

// IsList reports whether the answer is a multi-select list.
func (a AnswerValue) IsList() bool {
	return a.kind == answerList
}

// Contains reports whether a list answer contains v.
func (a AnswerValue) Contains(v string) bool {
	for _, item := range a.list {
		if item == v {
			return true
		}
	}
	return false
}

// String renders the answer the way it is compared for equality.
func (a AnswerValue) String() string {
	switch a.kind {
	case answerText:
		return a.text
	case answerNumber:
		return formatNumber(a.number)
	case answerList:
		return strings.Join(a.list, ",")
	}
	return ""
}

// Number coerces the answer to a finite number. Lists never coerce.
func (a AnswerValue) Number() (float64, bool) {
	switch a.kind {
	case answerNumber:
		return finite(a.number)
	case answerText:
		return parseNumber(a.text)
	}
	return 0, false
}

// Values returns a copy of the list items of a multi-select answer.
func (a AnswerValue) Values() []string {
	return append([]string(nil), a.list...)
}

// MarshalJSON writes the answer as a string, number, array or null.
func (a AnswerValue) MarshalJSON() ([]byte, error) {
	switch a.kind {
	case answerText:
		return json.Marshal(a.text)
	case answerNumber:
		return []byte(formatNumber(a.number)), nil
	case answerList:
		return json.Marshal(a.list)
	}
	return []byte("null"), nil
}

// UnmarshalJSON accepts a string, number, array of strings or null.
func (a *AnswerValue) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*a = AnswerValue{}
		return nil
	}
	switch trimmed[0] {
	case '"':
		var text string
		if err := json.Unmarshal(trimmed, &text); err != nil {
			return err
		}
		*a = TextAnswer(text)
	case '[':
		var list []string
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return fmt.Errorf("answer list: %w", err)
		}
		*a = ListAnswer(list...)
	default:
		v, err := strconv.ParseFloat(string(trimmed), 64)
		if err != nil {
			return fmt.Errorf("answer value: %w", err)
		}
		*a = NumberAnswer(v)
	}
	return nil
}

func parseNumber(text string) (float64, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, false
	}
	return finite(v)
}

func finite(v float64) (float64, bool) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// PhotoEvidence is a captured photo for one field.
type PhotoEvidence struct {
	FieldID    string    `json:"fieldId"`
	StorageKey string    `json:"storageKey"`
	GPS        *GeoPoint `json:"gps,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// CategoryData is the customer's answers and evidence for one category.
type CategoryData struct {
	Answers map[string]AnswerValue   `json:"answers"`
	Photos  map[string]PhotoEvidence `json:"photos"`
}

// Answer returns the answer for questionID (undefined when absent).
func (d CategoryData) Answer(questionID string) AnswerValue {
	if d.Answers == nil {
		return AnswerValue{}
	}
	return d.Answers[questionID]
}

// HasPhoto reports whether evidence exists for fieldID.
func (d CategoryData) HasPhoto(fieldID string) bool {
	if d.Photos == nil {
		return false
	}
	_, ok := d.Photos[fieldID]
	return ok
}

// Clone returns a deep copy.
func (d CategoryData) Clone() CategoryData {
	out := CategoryData{
		Answers: make(map[string]AnswerValue, len(d.Answers)),
		Photos:  make(map[string]PhotoEvidence, len(d.Photos)),
	}
	for k, v := range d.Answers {
		if v.kind == answerList {
			v.list = append([]string{}, v.list...)
		}
		out.Answers[k] = v
	}
	for k, v := range d.Photos {
		if v.GPS != nil {
			gps := *v.GPS
			v.GPS = &gps
		}
		out.Photos[k] = v
	}
	return out
}

// Equal reports whether a and b hold the same kind and value.
func (a AnswerValue) Equal(b AnswerValue) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case answerText:
		return a.text == b.text
	case answerNumber:
		return a.number == b.number
	case answerList:
		if len(a.list) != len(b.list) {
			return false
		}
		for i := range a.list {
			if a.list[i] != b.list[i] {
				return false
			}
		}
	}
	return true
}

// Stored spellings of yes_no answers.
const (
	AnswerYes = "Yes"
	AnswerNo  = "No"
)

// NormalizeAnswer returns the stored form of a. yes_no answers are matched
// case-insensitively and stored as AnswerYes or AnswerNo; everything else is
// kept as given.
func NormalizeAnswer(q Question, a AnswerValue) AnswerValue {
	if q.Type != QuestionYesNo || a.kind != answerText {
		return a
	}
	switch strings.ToLower(strings.TrimSpace(a.text)) {
	case "yes":
		return TextAnswer(AnswerYes)
	case "no":
		return TextAnswer(AnswerNo)
	}
	return a
}

// CheckAnswer rejects values the question cannot hold. Blank answers pass;
// whether they are acceptable is decided by the completeness check.
func CheckAnswer(q Question, a AnswerValue) error {
	if a.IsBlank() {
		return nil
	}
	switch q.Type {
	case QuestionNumber:
		if _, ok := a.Number(); !ok {
			return fmt.Errorf("%s: answer must be a number", q.ID)
		}
	case QuestionSingleSelect:
		for _, option := range q.Options {
			if a.String() == option && !a.IsList() {
				return nil
			}
		}
		return fmt.Errorf("%s: answer must be one of %s", q.ID, strings.Join(q.Options, ", "))
	case QuestionYesNo:
		if v := NormalizeAnswer(q, a).String(); a.IsList() || (v != AnswerYes && v != AnswerNo) {
			return fmt.Errorf("%s: answer must be %s or %s", q.ID, AnswerYes, AnswerNo)
		}
	}
	return nil
}
