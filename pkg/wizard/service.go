package wizard

import (
	"context"
	"errors"
	"fmt"
	"github.com/Geniuskaa/team_registration/pkg/database"
	"github.com/Geniuskaa/team_registration/pkg/metrics"
	"github.com/Geniuskaa/team_registration/pkg/photo"
	"github.com/Geniuskaa/team_registration/pkg/team"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"net/url"
	"strconv"
	"sync"
	"time"
)

const (
	NO_PARTICIPANT_KEY = "noParticipant"
	NOTIFY_TIMEOUT     = time.Minute
)

// Store is the persistence the wizard needs.
type Store interface {
	GetRegistration(ctx context.Context, id uuid.UUID) (team.Registration, error)
	GetSection(ctx context.Context, owner uuid.UUID, v team.Variant) (team.Section, error)
	UpsertSection(ctx context.Context, s team.Section) error
	DeleteSection(ctx context.Context, owner uuid.UUID, v team.Variant) error
	ClearSection(ctx context.Context, owner uuid.UUID, v team.Variant) error
	GetPhoto(ctx context.Context, owner uuid.UUID) (team.Photo, error)
	GetPhotoByID(ctx context.Context, owner uuid.UUID, id int64) (team.Photo, error)
	GetPhotoByName(ctx context.Context, owner uuid.UUID, filename string) (team.Photo, error)
	ReplacePhoto(ctx context.Context, p team.Photo) (team.Photo, error)
	Complete(ctx context.Context, owner uuid.UUID, sections []team.Section, p *team.Photo, at time.Time) error
}

// Notifier is told about every completed registration.
type Notifier interface {
	Notify(ctx context.Context, summary Summary) error
}

// Summary is the full state of a registration.
type Summary struct {
	Registration team.Registration
	Sections     []team.Section
	Photo        team.Photo
}

// Section returns the stored section of the given variant.
func (s Summary) Section(v team.Variant) (team.Section, bool) {
	for _, section := range s.Sections {
		if section.Variant == v {
			return section, true
		}
	}
	return team.Section{}, false
}

// Visible returns the sections worth showing: an empty third participant is
// left out.
func (s Summary) Visible() []team.Section {
	out := make([]team.Section, 0, len(s.Sections))
	for _, section := range s.Sections {
		if section.Variant.Optional() && section.Empty() {
			continue
		}
		out = append(out, section)
	}
	return out
}

// ValidationError carries the submitted sections back together with the
// messages for the offending fields.
type ValidationError struct {
	Sections []team.Section
	Fields   team.FieldErrors
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%d invalid fields", len(e.Fields))
}

type Service struct {
	store    Store
	notifier Notifier
	logger   *zap.Logger
	metrics  *metrics.Wizard
	tracer   trace.Tracer
	now      func() time.Time
	wg       sync.WaitGroup
}

// NewService builds the wizard controller. notifier may be nil.
func NewService(store Store, notifier Notifier, logger *zap.Logger, m *metrics.Wizard) *Service {
	return &Service{
		store:    store,
		notifier: notifier,
		logger:   logger,
		metrics:  m,
		tracer:   otel.Tracer("github.com/Geniuskaa/team_registration/pkg/wizard"),
		now:      time.Now,
	}
}

// Wait blocks until pending notifications are done.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) start(ctx context.Context, name string, owner uuid.UUID) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, name, trace.WithAttributes(attribute.String("registration.id", owner.String())))
}

func fail(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// Section returns the stored section for the step page, or a blank one.
func (s *Service) Section(ctx context.Context, owner uuid.UUID, v team.Variant) (team.Section, error) {
	section, err := s.store.GetSection(ctx, owner, v)
	if errors.Is(err, database.ErrNotFound) {
		return team.Section{RegistrationID: owner, Variant: v}, nil
	}
	if err != nil {
		return team.Section{}, fmt.Errorf("Section failed: %w", err)
	}
	return section, nil
}

// SubmitSection validates the form and stores the section. The returned step
// is where the wizard goes next. A *ValidationError means nothing was written.
func (s *Service) SubmitSection(ctx context.Context, owner uuid.UUID, v team.Variant, form url.Values) (Step, error) {
	ctx, span := s.start(ctx, "wizard.SubmitSection", owner)
	defer span.End()
	step := StepFor(v)
	span.SetAttributes(attribute.String("wizard.step", string(step)))

	section, errs := team.Parse(v, owner, form)
	if errs != nil {
		s.metrics.Submissions.WithLabelValues(string(step), "invalid").Inc()
		return step, &ValidationError{Sections: []team.Section{section}, Fields: errs}
	}

	if err := s.store.UpsertSection(ctx, section); err != nil {
		s.metrics.Submissions.WithLabelValues(string(step), "failed").Inc()
		fail(span, err)
		return step, fmt.Errorf("SubmitSection failed: %w", err)
	}

	s.metrics.Submissions.WithLabelValues(string(step), "saved").Inc()
	return step.Next(), nil
}

// SubmitThirdParticipant is SubmitSection for the optional participant. When
// the form says there is no third participant the stored record is removed and
// every other field is ignored.
func (s *Service) SubmitThirdParticipant(ctx context.Context, owner uuid.UUID, form url.Values) (Step, error) {
	if form.Get(NO_PARTICIPANT_KEY) != "true" {
		return s.SubmitSection(ctx, owner, team.Participant3, form)
	}

	ctx, span := s.start(ctx, "wizard.RemoveThirdParticipant", owner)
	defer span.End()

	if err := s.store.DeleteSection(ctx, owner, team.Participant3); err != nil {
		s.metrics.Submissions.WithLabelValues(string(StepParticipant3), "failed").Inc()
		fail(span, err)
		return StepParticipant3, fmt.Errorf("SubmitThirdParticipant failed: %w", err)
	}

	s.metrics.Submissions.WithLabelValues(string(StepParticipant3), "removed").Inc()
	return StepPhoto, nil
}

// ClearThirdParticipant empties the third participant in place. It returns
// database.ErrNotFound when there is nothing to clear.
func (s *Service) ClearThirdParticipant(ctx context.Context, owner uuid.UUID) error {
	ctx, span := s.start(ctx, "wizard.ClearThirdParticipant", owner)
	defer span.End()

	if err := s.store.ClearSection(ctx, owner, team.Participant3); err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			fail(span, err)
		}
		return fmt.Errorf("ClearThirdParticipant failed: %w", err)
	}
	s.metrics.Submissions.WithLabelValues(string(StepParticipant3), "cleared").Inc()
	return nil
}

// SubmitPhoto ingests an upload and replaces the stored photo with it.
// photo.ErrNoFile and photo.ErrInvalidImage are returned as is.
func (s *Service) SubmitPhoto(ctx context.Context, owner uuid.UUID, u photo.Upload) (team.Photo, error) {
	ctx, span := s.start(ctx, "wizard.SubmitPhoto", owner)
	defer span.End()

	p, err := photo.Decode(owner, u)
	switch {
	case errors.Is(err, photo.ErrNoFile):
		s.metrics.PhotoUploads.WithLabelValues("no_file").Inc()
		return team.Photo{}, err
	case errors.Is(err, photo.ErrInvalidImage):
		s.metrics.PhotoUploads.WithLabelValues("invalid").Inc()
		return team.Photo{}, err
	case err != nil:
		s.metrics.PhotoUploads.WithLabelValues("failed").Inc()
		fail(span, err)
		return team.Photo{}, fmt.Errorf("SubmitPhoto failed: %w", err)
	}

	stored, err := s.store.ReplacePhoto(ctx, p)
	if err != nil {
		s.metrics.PhotoUploads.WithLabelValues("failed").Inc()
		fail(span, err)
		return team.Photo{}, fmt.Errorf("SubmitPhoto failed: %w", err)
	}

	s.metrics.PhotoUploads.WithLabelValues("saved").Inc()
	s.logger.Info("photo stored", zap.String("registration", owner.String()),
		zap.String("filename", stored.Filename), zap.Int("size", len(stored.Data)))
	return stored, nil
}

// CurrentPhoto returns the stored photo, or database.ErrNotFound.
func (s *Service) CurrentPhoto(ctx context.Context, owner uuid.UUID) (team.Photo, error) {
	p, err := s.store.GetPhoto(ctx, owner)
	if err != nil {
		return team.Photo{}, fmt.Errorf("CurrentPhoto failed: %w", err)
	}
	return p, nil
}

// Photo looks a photo up by numeric id or by filename. Only the owner's photo
// is ever returned.
func (s *Service) Photo(ctx context.Context, owner uuid.UUID, ref string) (team.Photo, error) {
	var (
		p   team.Photo
		err error
	)
	if id, convErr := strconv.ParseInt(ref, 10, 64); convErr == nil {
		p, err = s.store.GetPhotoByID(ctx, owner, id)
	} else {
		p, err = s.store.GetPhotoByName(ctx, owner, ref)
	}
	if err != nil {
		return team.Photo{}, fmt.Errorf("Photo failed: %w", err)
	}
	return p, nil
}

// Review runs the final gate and returns everything stored for the owner.
// A *IncompleteError names the step to go back to.
func (s *Service) Review(ctx context.Context, owner uuid.UUID) (Summary, error) {
	ctx, span := s.start(ctx, "wizard.Review", owner)
	defer span.End()

	summary, err := s.load(ctx, owner)
	if err != nil {
		fail(span, err)
		return Summary{}, fmt.Errorf("Review failed: %w", err)
	}

	if err := s.gate(summary); err != nil {
		return summary, err
	}
	return summary, nil
}

func (s *Service) gate(summary Summary) error {
	sections := make(map[team.Variant]team.Section, len(summary.Sections))
	for _, section := range summary.Sections {
		sections[section.Variant] = section
	}

	err := Check(sections, summary.Photo.ID != 0)
	var incomplete *IncompleteError
	if errors.As(err, &incomplete) {
		s.metrics.GateBlocks.WithLabelValues(string(incomplete.Step)).Inc()
	}
	return err
}

// load reads the registration with every stored section in wizard order and
// the photo. Missing sections are left out; a missing photo has a zero ID.
func (s *Service) load(ctx context.Context, owner uuid.UUID) (Summary, error) {
	reg, err := s.store.GetRegistration(ctx, owner)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{Registration: reg}
	for _, v := range team.Variants {
		section, err := s.store.GetSection(ctx, owner, v)
		if errors.Is(err, database.ErrNotFound) {
			continue
		}
		if err != nil {
			return Summary{}, err
		}
		summary.Sections = append(summary.Sections, section)
	}

	p, err := s.store.GetPhoto(ctx, owner)
	if err != nil && !errors.Is(err, database.ErrNotFound) {
		return Summary{}, err
	}
	summary.Photo = p
	return summary, nil
}

// Complete is the final check submit. The gate runs first; then the submitted
// values are laid over the stored sections (fields missing from the form keep
// their stored value) and validated. Everything is written in one go together
// with an optional replacement photo, and the registration is marked
// completed. The notifier runs in the background afterwards.
func (s *Service) Complete(ctx context.Context, owner uuid.UUID, form url.Values, u photo.Upload) (Summary, error) {
	ctx, span := s.start(ctx, "wizard.Complete", owner)
	defer span.End()

	summary, err := s.Review(ctx, owner)
	if err != nil {
		return summary, err
	}

	sections, errs := overlay(summary.Sections, form)
	if errs != nil {
		return summary, &ValidationError{Sections: sections, Fields: errs}
	}

	var replacement *team.Photo
	if !u.Empty() {
		p, err := photo.Decode(owner, u)
		switch {
		case errors.Is(err, photo.ErrNoFile):
		case err != nil:
			return summary, err
		default:
			replacement = &p
		}
	}

	if err := s.store.Complete(ctx, owner, sections, replacement, s.now().UTC()); err != nil {
		fail(span, err)
		return summary, fmt.Errorf("Complete failed: %w", err)
	}
	s.metrics.Completions.Inc()

	summary, err = s.load(ctx, owner)
	if err != nil {
		fail(span, err)
		return Summary{}, fmt.Errorf("Complete failed: %w", err)
	}
	s.logger.Info("registration completed", zap.String("registration", owner.String()))

	s.notify(ctx, summary)
	return summary, nil
}

func overlay(stored []team.Section, form url.Values) ([]team.Section, team.FieldErrors) {
	out := make([]team.Section, 0, len(stored))
	errs := team.FieldErrors{}
	for _, section := range stored {
		updated, fieldErrs := team.Overlay(section, form, true)
		for k, msg := range fieldErrs {
			errs[k] = msg
		}
		if updated.Variant.Optional() && !updated.Empty() && !updated.Complete() {
			for _, f := range updated.Variant.Fields() {
				if updated.Value(f.Field) == "" {
					errs[f.Form] = team.ERR_REQUIRED
				}
			}
		}
		out = append(out, updated)
	}

	if len(errs) > 0 {
		return out, errs
	}
	return out, nil
}

func (s *Service) notify(ctx context.Context, summary Summary) {
	if s.notifier == nil {
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), NOTIFY_TIMEOUT)
		defer cancel()

		if err := s.notifier.Notify(ctx, summary); err != nil {
			s.logger.Error("registration notification failed",
				zap.String("registration", summary.Registration.ID.String()), zap.Error(err))
		}
	}()
}
