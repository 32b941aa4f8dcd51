// Package form drives a multi-step form: presence validation per step,
// idempotent step-saved notices and exactly one terminal insert.
package form

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jwalitptl/canopy-portal/internal/notify"
	"github.com/jwalitptl/canopy-portal/internal/repository"
)

var (
	ErrUnknownField     = errors.New("unknown field")
	ErrSubmitInProgress = errors.New("submission already in progress")
	ErrNotFinalStep     = errors.New("form can only be submitted from the final step")
	ErrClosed           = errors.New("form session is closed")
	// ErrDiscarded is returned when the session was closed while its submission
	// was in flight. The response is dropped and state is left untouched.
	ErrDiscarded = errors.New("form session closed during submission")
)

// IncompleteError lists the fields that stop a step from passing.
type IncompleteError struct {
	Step    int
	Missing []string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("step %d is incomplete: %s", e.Step, strings.Join(e.Missing, ", "))
}

type InvalidValueError struct {
	Field  string
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Fields maps a field name to its value: a string (text, number, decimal, date) or a bool.
type Fields map[string]interface{}

func (f Fields) clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// State is a point-in-time copy of a form session.
type State struct {
	FormID         string `json:"form_id"`
	Form           string `json:"form"`
	CurrentStep    int    `json:"current_step"`
	TotalSteps     int    `json:"total_steps"`
	Fields         Fields `json:"fields"`
	CompletedSteps []int  `json:"completed_steps"`
	IsSubmitting   bool   `json:"is_submitting"`
	Submitted      bool   `json:"submitted"`
	RecordID       string `json:"record_id,omitempty"`
}

type StepResult struct {
	Step     int      `json:"step"`
	Advanced bool     `json:"advanced"`
	Missing  []string `json:"missing,omitempty"`
}

type SubmitResult struct {
	RecordID string `json:"record_id"`
}

type Option func(*Engine)

// WithID fixes the form id instead of generating one.
func WithID(id string) Option {
	return func(e *Engine) { e.id = id }
}

// Engine holds one form session. All methods are safe for concurrent use;
// writes and step transitions are serialized.
type Engine struct {
	mu       sync.Mutex
	id       string
	schema   *Schema
	index    map[string]Field
	inserter repository.Inserter
	notifier notify.Notifier

	current    int
	fields     Fields
	completed  map[int]struct{}
	submitting bool
	submitted  bool
	closed     bool
	recordID   string
}

func New(schema *Schema, inserter repository.Inserter, notifier notify.Notifier, opts ...Option) (*Engine, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if notifier == nil {
		notifier = notify.Nop
	}

	e := &Engine{
		id:        uuid.NewString(),
		schema:    schema,
		index:     make(map[string]Field),
		inserter:  inserter,
		notifier:  notifier,
		current:   1,
		fields:    make(Fields),
		completed: make(map[int]struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	for _, step := range schema.Steps {
		for _, f := range step.Fields {
			e.index[f.Name] = f
			if f.Kind == KindBool {
				e.fields[f.Name] = false
			}
		}
	}
	return e, nil
}

func (e *Engine) ID() string { return e.id }

func (e *Engine) Schema() *Schema { return e.schema }

// SetField merges one value. Content is not validated here; only the name
// must belong to the schema. Numbers are kept in their string form and nil
// clears the field.
func (e *Engine) SetField(name string, value interface{}) error {
	return e.SetFields(Fields{name: value})
}

// SetFields merges a batch of values. Nothing is written if any name is unknown.
func (e *Engine) SetFields(values Fields) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed || e.submitted {
		return ErrClosed
	}

	normalized := make(Fields, len(values))
	for name, v := range values {
		f, ok := e.index[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownField, name)
		}
		nv, err := normalize(f, v)
		if err != nil {
			return err
		}
		normalized[name] = nv
	}

	for name, v := range normalized {
		if v == nil {
			delete(e.fields, name)
			if e.index[name].Kind == KindBool {
				e.fields[name] = false
			}
			continue
		}
		e.fields[name] = v
	}
	return nil
}

func normalize(f Field, v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil, string, bool:
		return t, nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	}
	return nil, &InvalidValueError{Field: f.Name, Reason: "has an unsupported value type"}
}

// Advance moves to the next step when the current one passes. A failing step
// is reported through StepResult.Missing, never as an error. At the last step
// Advance does nothing.
func (e *Engine) Advance(ctx context.Context) (StepResult, error) {
	e.mu.Lock()
	if e.closed || e.submitted {
		e.mu.Unlock()
		return StepResult{}, ErrClosed
	}

	step := e.current
	missing := e.missing(step)
	if len(missing) > 0 {
		e.mu.Unlock()
		return StepResult{Step: step, Missing: missing}, nil
	}
	if step >= e.schema.TotalSteps() {
		e.mu.Unlock()
		return StepResult{Step: step}, nil
	}

	_, seen := e.completed[step]
	e.completed[step] = struct{}{}
	e.current = step + 1
	next := e.current
	e.mu.Unlock()

	if !seen {
		e.notifier.Notify(ctx, notify.Notice{
			Kind:    notify.KindStepSaved,
			Title:   "Progress saved",
			Message: fmt.Sprintf("Step %d of %d saved.", step, e.schema.TotalSteps()),
			FormID:  e.id,
			Step:    step,
		})
	}
	return StepResult{Step: next, Advanced: true}, nil
}

// Retreat moves back one step without validation, floored at step 1.
func (e *Engine) Retreat() (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed || e.submitted {
		return e.current, ErrClosed
	}
	if e.current > 1 {
		e.current--
	}
	return e.current, nil
}

// Submit persists the form with a single insert. Every step must pass, and
// the form must be on its final step. On failure state is kept so the user
// can retry; no idempotency key is sent, so a retry after an ambiguous
// failure may create a second record.
func (e *Engine) Submit(ctx context.Context) (SubmitResult, error) {
	e.mu.Lock()
	switch {
	case e.closed || e.submitted:
		e.mu.Unlock()
		return SubmitResult{}, ErrClosed
	case e.submitting:
		e.mu.Unlock()
		return SubmitResult{}, ErrSubmitInProgress
	case e.current != e.schema.TotalSteps():
		e.mu.Unlock()
		return SubmitResult{}, ErrNotFinalStep
	}

	for _, step := range e.schema.Steps {
		if missing := e.missing(step.Number); len(missing) > 0 {
			e.mu.Unlock()
			return SubmitResult{}, &IncompleteError{Step: step.Number, Missing: missing}
		}
	}
	row, err := e.schema.Row(e.fields)
	if err != nil {
		e.mu.Unlock()
		return SubmitResult{}, err
	}
	e.submitting = true
	e.mu.Unlock()

	id, err := e.inserter.InsertRecord(ctx, e.schema.Table, row)

	e.mu.Lock()
	e.submitting = false
	if e.closed {
		e.mu.Unlock()
		return SubmitResult{}, ErrDiscarded
	}
	if err != nil {
		e.mu.Unlock()
		e.notifier.Notify(ctx, notify.Notice{
			Kind:    notify.KindSubmitFailed,
			Title:   "Submission failed",
			Message: "We could not submit your application. Your answers are saved, please try again.",
			FormID:  e.id,
			Step:    e.schema.TotalSteps(),
		})
		return SubmitResult{}, fmt.Errorf("submit %s: %w", e.schema.Name, err)
	}
	e.submitted = true
	e.recordID = id
	e.completed[e.schema.TotalSteps()] = struct{}{}
	e.mu.Unlock()

	e.notifier.Notify(ctx, notify.Notice{
		Kind:    notify.KindSubmitted,
		Title:   "Application submitted",
		Message: "Thank you. Your application has been received.",
		FormID:  e.id,
		Step:    e.schema.TotalSteps(),
	})
	return SubmitResult{RecordID: id}, nil
}

// Close disposes the session. A submission still in flight finishes, but its
// result is discarded.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
}

func (e *Engine) Snapshot() State {
	e.mu.Lock()
	defer e.mu.Unlock()

	completed := make([]int, 0, len(e.completed))
	for n := range e.completed {
		completed = append(completed, n)
	}
	sort.Ints(completed)

	return State{
		FormID:         e.id,
		Form:           e.schema.Name,
		CurrentStep:    e.current,
		TotalSteps:     e.schema.TotalSteps(),
		Fields:         e.fields.clone(),
		CompletedSteps: completed,
		IsSubmitting:   e.submitting,
		Submitted:      e.submitted,
		RecordID:       e.recordID,
	}
}

// missing must be called with mu held.
func (e *Engine) missing(step int) []string {
	var out []string
	for _, f := range e.schema.Steps[step-1].Fields {
		if !f.Required && !f.Commitment {
			continue
		}
		if !f.present(e.fields[f.Name]) {
			out = append(out, f.Name)
		}
	}
	return out
}
