package form

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldKind controls presence checks and the type a value is coerced to at submit.
type FieldKind string

const (
	KindText FieldKind = "text"
	// KindNumber is an integer entered as text.
	KindNumber FieldKind = "number"
	// KindDecimal is a decimal entered as text.
	KindDecimal FieldKind = "decimal"
	// KindDate is a YYYY-MM-DD string.
	KindDate FieldKind = "date"
	KindBool FieldKind = "bool"
)

const dateLayout = "2006-01-02"

type Field struct {
	Name  string    `json:"name"`
	Label string    `json:"label"`
	Kind  FieldKind `json:"kind"`
	// Column is the persisted column name; empty means Name.
	Column   string `json:"-"`
	Required bool   `json:"required"`
	// Commitment fields are booleans that must be true to leave their step.
	Commitment bool `json:"commitment"`
}

func (f Field) column() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

type Step struct {
	Number int     `json:"number"`
	Title  string  `json:"title"`
	Fields []Field `json:"fields"`
}

// Schema is the fixed definition of a stepped form and where it is stored.
type Schema struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Table string `json:"-"`
	Steps []Step `json:"steps"`
	// Static columns added to every persisted row.
	Static map[string]interface{} `json:"-"`
	// ContactField and NameField name the fields used for the confirmation mail.
	ContactField string `json:"-"`
	NameField    string `json:"-"`
}

func (s *Schema) TotalSteps() int {
	return len(s.Steps)
}

// Validate checks the schema is well formed: steps numbered 1..N, unique field
// names and commitments declared as booleans.
func (s *Schema) Validate() error {
	if s.Name == "" || s.Table == "" {
		return fmt.Errorf("form schema: name and table are required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("form schema %s: no steps", s.Name)
	}

	seen := make(map[string]struct{})
	for i, step := range s.Steps {
		if step.Number != i+1 {
			return fmt.Errorf("form schema %s: step %d is numbered %d", s.Name, i+1, step.Number)
		}
		for _, f := range step.Fields {
			if f.Name == "" {
				return fmt.Errorf("form schema %s: unnamed field on step %d", s.Name, step.Number)
			}
			if _, dup := seen[f.Name]; dup {
				return fmt.Errorf("form schema %s: duplicate field %q", s.Name, f.Name)
			}
			seen[f.Name] = struct{}{}

			switch f.Kind {
			case KindText, KindNumber, KindDecimal, KindDate, KindBool:
			default:
				return fmt.Errorf("form schema %s: field %q has unknown kind %q", s.Name, f.Name, f.Kind)
			}
			if f.Commitment && f.Kind != KindBool {
				return fmt.Errorf("form schema %s: commitment %q must be a bool", s.Name, f.Name)
			}
		}
	}
	return nil
}

// present reports whether v satisfies the field's presence rule. It is
// structural only: any non-blank string is present.
func (f Field) present(v interface{}) bool {
	switch f.Kind {
	case KindBool:
		b, ok := v.(bool)
		if f.Commitment {
			return ok && b
		}
		return ok
	default:
		s, ok := v.(string)
		return ok && strings.TrimSpace(s) != ""
	}
}

// coerce converts a stored value into the persisted type.
func (f Field) coerce(v interface{}) (interface{}, error) {
	if f.Kind == KindBool {
		b, ok := v.(bool)
		if !ok {
			return nil, &InvalidValueError{Field: f.Name, Reason: "must be true or false"}
		}
		return b, nil
	}

	s, ok := v.(string)
	if !ok {
		return nil, &InvalidValueError{Field: f.Name, Reason: "must be text"}
	}
	s = strings.TrimSpace(s)

	switch f.Kind {
	case KindNumber:
		n, err := strconv.Atoi(s)
		if err != nil {
			return nil, &InvalidValueError{Field: f.Name, Reason: "must be a whole number"}
		}
		return n, nil
	case KindDecimal:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, &InvalidValueError{Field: f.Name, Reason: "must be a number"}
		}
		return n, nil
	case KindDate:
		d, err := time.Parse(dateLayout, s)
		if err != nil {
			return nil, &InvalidValueError{Field: f.Name, Reason: "must be a date (YYYY-MM-DD)"}
		}
		return d, nil
	}
	return s, nil
}

// Row maps fields to the persistence shape. Blank optional fields are omitted.
func (s *Schema) Row(fields Fields) (map[string]interface{}, error) {
	row := make(map[string]interface{}, len(fields)+len(s.Static))
	for k, v := range s.Static {
		row[k] = v
	}
	for _, step := range s.Steps {
		for _, f := range step.Fields {
			v, ok := fields[f.Name]
			if !ok || (f.Kind != KindBool && !f.present(v)) {
				continue
			}
			out, err := f.coerce(v)
			if err != nil {
				return nil, err
			}
			row[f.column()] = out
		}
	}
	return row, nil
}
