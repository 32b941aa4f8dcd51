// Package forms keeps live form sessions and maps engine outcomes to
// application errors.
package forms

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/canopy-portal/internal/email"
	"github.com/jwalitptl/canopy-portal/internal/form"
	"github.com/jwalitptl/canopy-portal/internal/notify"
	"github.com/jwalitptl/canopy-portal/internal/repository"
	apperrors "github.com/jwalitptl/canopy-portal/pkg/errors"
	"github.com/jwalitptl/canopy-portal/pkg/logger"
	"github.com/jwalitptl/canopy-portal/pkg/metrics"
)

type Config struct {
	IdleTTL         time.Duration
	CleanupInterval time.Duration
}

type Service struct {
	cache    *cache.Cache
	backend  repository.Inserter
	notifier notify.Notifier
	mailer   email.Service
	metrics  *metrics.Metrics
	logger   *logger.Logger

	mu      sync.RWMutex
	schemas map[string]func() *form.Schema
}

func NewService(
	backend repository.Inserter,
	notifier notify.Notifier,
	mailer email.Service,
	m *metrics.Metrics,
	log *logger.Logger,
	cfg Config,
) *Service {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 2 * time.Hour
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 10 * time.Minute
	}

	s := &Service{
		cache:    cache.New(cfg.IdleTTL, cfg.CleanupInterval),
		backend:  backend,
		notifier: notifier,
		mailer:   mailer,
		metrics:  m,
		logger:   log,
		schemas:  make(map[string]func() *form.Schema),
	}
	// Expired and discarded sessions are closed so that a submission still in
	// flight cannot write back into them.
	s.cache.OnEvicted(func(id string, v interface{}) {
		if e, ok := v.(*form.Engine); ok {
			e.Close()
			s.metrics.FormSessionsActive.Dec()
			s.logger.Debug("form session closed", "form_id", id, "form", e.Schema().Name)
		}
	})
	return s
}

// Register makes a form kind available. schema is called once per session.
func (s *Service) Register(kind string, schema func() *form.Schema) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schemas[kind] = schema
}

// Schema returns the definition of a registered form kind.
func (s *Service) Schema(kind string) (*form.Schema, error) {
	s.mu.RLock()
	build, ok := s.schemas[kind]
	s.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("form", nil)
	}
	return build(), nil
}

func (s *Service) Start(ctx context.Context, kind string) (form.State, error) {
	schema, err := s.Schema(kind)
	if err != nil {
		return form.State{}, err
	}

	e, err := form.New(schema, s.backend, s.notifier)
	if err != nil {
		return form.State{}, apperrors.Internal(err)
	}
	s.cache.SetDefault(e.ID(), e)
	s.metrics.FormSessionsStarted.WithLabelValues(kind).Inc()
	s.metrics.FormSessionsActive.Inc()

	s.logger.Info("form session started", "form_id", e.ID(), "form", kind)
	return e.Snapshot(), nil
}

// get looks up a live session and refreshes its idle timer.
func (s *Service) get(kind, id string) (*form.Engine, error) {
	v, ok := s.cache.Get(id)
	if !ok {
		return nil, apperrors.NotFound("form session", nil)
	}
	e := v.(*form.Engine)
	if e.Schema().Name != kind {
		return nil, apperrors.NotFound("form session", nil)
	}
	s.cache.SetDefault(id, e)
	return e, nil
}

func (s *Service) State(kind, id string) (form.State, error) {
	e, err := s.get(kind, id)
	if err != nil {
		return form.State{}, err
	}
	return e.Snapshot(), nil
}

func (s *Service) SetFields(kind, id string, fields form.Fields) (form.State, error) {
	e, err := s.get(kind, id)
	if err != nil {
		return form.State{}, err
	}
	if err := e.SetFields(fields); err != nil {
		return form.State{}, mapError(err)
	}
	return e.Snapshot(), nil
}

func (s *Service) Advance(ctx context.Context, kind, id string) (form.StepResult, form.State, error) {
	e, err := s.get(kind, id)
	if err != nil {
		return form.StepResult{}, form.State{}, err
	}

	from := e.Snapshot().CurrentStep
	res, err := e.Advance(ctx)
	if err != nil {
		return form.StepResult{}, form.State{}, mapError(err)
	}

	step := strconv.Itoa(from)
	if res.Advanced {
		s.metrics.FormStepsAdvanced.WithLabelValues(kind, step).Inc()
	} else if len(res.Missing) > 0 {
		s.metrics.FormStepsRejected.WithLabelValues(kind, step).Inc()
	}
	return res, e.Snapshot(), nil
}

func (s *Service) Retreat(kind, id string) (form.State, error) {
	e, err := s.get(kind, id)
	if err != nil {
		return form.State{}, err
	}
	if _, err := e.Retreat(); err != nil {
		return form.State{}, mapError(err)
	}
	return e.Snapshot(), nil
}

// Submit performs the terminal insert. A successful session is discarded and
// a confirmation mail is sent on a best effort basis.
func (s *Service) Submit(ctx context.Context, kind, id string) (form.SubmitResult, error) {
	e, err := s.get(kind, id)
	if err != nil {
		return form.SubmitResult{}, err
	}

	res, err := e.Submit(ctx)
	if err != nil {
		status := "rejected"
		if repository.IsTransient(err) {
			status = "failed"
		}
		if !errors.Is(err, form.ErrSubmitInProgress) {
			s.metrics.FormSubmissions.WithLabelValues(kind, status).Inc()
		}
		s.logger.Warn("form submission failed", "form_id", id, "form", kind, "error", err.Error())
		return form.SubmitResult{}, mapError(err)
	}
	s.metrics.FormSubmissions.WithLabelValues(kind, "success").Inc()
	s.logger.Info("form submitted", "form_id", id, "form", kind, "record_id", res.RecordID)

	s.sendConfirmation(ctx, e, res.RecordID)
	s.cache.Delete(id)
	return res, nil
}

func (s *Service) sendConfirmation(ctx context.Context, e *form.Engine, recordID string) {
	schema := e.Schema()
	if schema.ContactField == "" {
		return
	}
	fields := e.Snapshot().Fields
	to, _ := fields[schema.ContactField].(string)
	name, _ := fields[schema.NameField].(string)
	if to == "" {
		return
	}
	if err := s.mailer.SendApplicationReceived(ctx, to, name, schema.Title, recordID); err != nil {
		s.logger.Error(err, "failed to send confirmation", "form", schema.Name, "record_id", recordID)
	}
}

// Discard drops a session, for example when the user navigates away.
func (s *Service) Discard(kind, id string) error {
	if _, err := s.get(kind, id); err != nil {
		return err
	}
	s.cache.Delete(id)
	return nil
}

// Active returns the number of live sessions.
func (s *Service) Active() int {
	return s.cache.ItemCount()
}

func mapError(err error) error {
	var (
		incomplete *form.IncompleteError
		invalid    *form.InvalidValueError
	)
	switch {
	case errors.As(err, &incomplete):
		return apperrors.Validation(fmt.Sprintf("Please complete step %d: %s.", incomplete.Step, strings.Join(incomplete.Missing, ", ")))
	case errors.As(err, &invalid):
		return apperrors.Validation(invalid.Error())
	case errors.Is(err, form.ErrUnknownField):
		return apperrors.Validation(err.Error())
	case errors.Is(err, form.ErrNotFinalStep):
		return apperrors.Validation("Please complete every step before submitting.")
	case errors.Is(err, form.ErrSubmitInProgress):
		return apperrors.Conflict("Your application is already being submitted.")
	case errors.Is(err, form.ErrClosed), errors.Is(err, form.ErrDiscarded):
		return apperrors.NotFound("form session", err)
	case repository.IsTransient(err):
		return apperrors.Transient(err)
	}
	return apperrors.Internal(err)
}
