package wizard

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"github.com/Geniuskaa/team_registration/pkg/database"
	"github.com/Geniuskaa/team_registration/pkg/metrics"
	"github.com/Geniuskaa/team_registration/pkg/photo"
	"github.com/Geniuskaa/team_registration/pkg/team"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"
	"go.uber.org/zap"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"
)

var errStore = errors.New("connection reset")

// brokenStore fails every write.
type brokenStore struct {
	*database.Memory
}

func (brokenStore) UpsertSection(context.Context, team.Section) error {
	return errStore
}

func (brokenStore) ReplacePhoto(context.Context, team.Photo) (team.Photo, error) {
	return team.Photo{}, errStore
}

func (brokenStore) Complete(context.Context, uuid.UUID, []team.Section, *team.Photo, time.Time) error {
	return errStore
}

type recordingNotifier struct {
	mu        sync.Mutex
	summaries []Summary
	err       error
}

func (n *recordingNotifier) Notify(_ context.Context, summary Summary) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.summaries = append(n.summaries, summary)
	return n.err
}

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	store    *database.Memory
	notifier *recordingNotifier
	metrics  *metrics.Wizard
	service  *Service
	owner    uuid.UUID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = database.NewMemory()
	s.notifier = &recordingNotifier{}
	s.metrics = metrics.NewWizard(prometheus.NewRegistry())
	s.service = NewService(s.store, s.notifier, zap.NewNop(), s.metrics)

	reg, err := s.store.CreateRegistration(s.ctx)
	s.Require().NoError(err)
	s.owner = reg.ID
}

func generalInfoForm() url.Values {
	return url.Values{"comandName": {"A"}, "schoolName": {"B"}, "cityName": {"C"}}
}

func mentorForm() url.Values {
	return url.Values{"mName": {"Irina"}, "mPost": {"Teacher"}, "memail": {"i@example.com"}, "mphoneNumber": {"+100"}}
}

func captainForm() url.Values {
	return url.Values{"captainName": {"Anna"}, "captainClass": {"10"}, "cemail": {"a@example.com"}, "cphoneNumber": {"+101"}}
}

func participantForm(n string) url.Values {
	return url.Values{
		"uch" + n + "Name":        {"Person " + n},
		"uch" + n + "Class":       {"9"},
		"uch" + n + "email":       {"p" + n + "@example.com"},
		"uch" + n + "phoneNumber": {"+10" + n},
	}
}

func (s *ServiceSuite) submit(v team.Variant, form url.Values) Step {
	next, err := s.service.SubmitSection(s.ctx, s.owner, v, form)
	s.Require().NoError(err)
	return next
}

// fillRequired walks the wizard up to the third participant.
func (s *ServiceSuite) fillRequired() {
	s.submit(team.GeneralInfo, generalInfoForm())
	s.submit(team.Mentor, mentorForm())
	s.submit(team.Captain, captainForm())
	s.submit(team.Participant1, participantForm("1"))
	s.submit(team.Participant2, participantForm("2"))
}

func (s *ServiceSuite) uploadPNG() team.Photo {
	p, err := s.service.SubmitPhoto(s.ctx, s.owner, photo.Upload{File: bytes.NewReader([]byte("png")), Filename: "team.png"})
	s.Require().NoError(err)
	return p
}

func (s *ServiceSuite) TestSubmitSectionAdvances() {
	s.Equal(StepMentor, s.submit(team.GeneralInfo, generalInfoForm()))

	section, err := s.service.Section(s.ctx, s.owner, team.GeneralInfo)
	s.Require().NoError(err)
	s.Equal("A", section.Team)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Submissions.WithLabelValues("general_information", "saved")))
}

func (s *ServiceSuite) TestSectionDefaultsToBlank() {
	section, err := s.service.Section(s.ctx, s.owner, team.Mentor)
	s.Require().NoError(err)
	s.True(section.Empty())
	s.Equal(team.Mentor, section.Variant)
	s.Equal(s.owner, section.RegistrationID)
}

func (s *ServiceSuite) TestInvalidSubmitWritesNothing() {
	s.submit(team.GeneralInfo, generalInfoForm())
	s.submit(team.Mentor, mentorForm())

	form := mentorForm()
	form.Del("memail")
	form.Set("mName", "Changed")
	step, err := s.service.SubmitSection(s.ctx, s.owner, team.Mentor, form)

	var invalid *ValidationError
	s.Require().ErrorAs(err, &invalid)
	s.Equal(StepMentor, step)
	s.Equal(team.ERR_REQUIRED, invalid.Fields["memail"])
	s.Equal("Changed", invalid.Sections[0].Name, "submitted values come back for re-rendering")

	stored, err := s.service.Section(s.ctx, s.owner, team.Mentor)
	s.Require().NoError(err)
	s.Equal("Irina", stored.Name)
	s.Equal("i@example.com", stored.Email)
}

func (s *ServiceSuite) TestResubmitOverwrites() {
	s.submit(team.Captain, captainForm())
	form := captainForm()
	form.Set("captainClass", "11")
	s.Equal(StepParticipant1, s.submit(team.Captain, form))

	sections, _ := s.store.Counts(s.owner)
	s.Equal(1, sections)
	stored, err := s.service.Section(s.ctx, s.owner, team.Captain)
	s.Require().NoError(err)
	s.Equal(11, stored.Class)
}

func (s *ServiceSuite) TestPersistenceFailure() {
	service := NewService(brokenStore{s.store}, nil, zap.NewNop(), s.metrics)

	step, err := service.SubmitSection(s.ctx, s.owner, team.GeneralInfo, generalInfoForm())
	s.ErrorIs(err, errStore)
	s.Equal(StepGeneralInfo, step)

	_, err = service.SubmitPhoto(s.ctx, s.owner, photo.Upload{File: bytes.NewReader([]byte("x")), Filename: "a.png"})
	s.ErrorIs(err, errStore)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.PhotoUploads.WithLabelValues("failed")))
}

func (s *ServiceSuite) TestNoParticipantHasPriority() {
	s.submit(team.Participant3, participantForm("3"))

	form := participantForm("3")
	form.Set("uch3Class", "not a number")
	form.Set(NO_PARTICIPANT_KEY, "true")
	step, err := s.service.SubmitThirdParticipant(s.ctx, s.owner, form)
	s.Require().NoError(err)
	s.Equal(StepPhoto, step)

	_, err = s.store.GetSection(s.ctx, s.owner, team.Participant3)
	s.ErrorIs(err, database.ErrNotFound)

	s.Run("nothing stored is fine too", func() {
		step, err := s.service.SubmitThirdParticipant(s.ctx, s.owner, url.Values{NO_PARTICIPANT_KEY: {"true"}})
		s.Require().NoError(err)
		s.Equal(StepPhoto, step)
	})
}

func (s *ServiceSuite) TestThirdParticipantIsLenient() {
	step, err := s.service.SubmitThirdParticipant(s.ctx, s.owner, url.Values{"uch3Name": {"Gleb"}, "uch3Class": {"x"}})
	s.Require().NoError(err)
	s.Equal(StepPhoto, step)

	stored, err := s.service.Section(s.ctx, s.owner, team.Participant3)
	s.Require().NoError(err)
	s.Equal("Gleb", stored.Name)
	s.Zero(stored.Class)
}

func (s *ServiceSuite) TestClearThirdParticipant() {
	err := s.service.ClearThirdParticipant(s.ctx, s.owner)
	s.ErrorIs(err, database.ErrNotFound)

	s.submit(team.Participant3, participantForm("3"))
	s.Require().NoError(s.service.ClearThirdParticipant(s.ctx, s.owner))

	stored, err := s.store.GetSection(s.ctx, s.owner, team.Participant3)
	s.Require().NoError(err, "the row is kept")
	s.True(stored.Empty())
}

func (s *ServiceSuite) TestSubmitPhoto() {
	s.Run("nothing submitted", func() {
		_, err := s.service.SubmitPhoto(s.ctx, s.owner, photo.Upload{})
		s.ErrorIs(err, photo.ErrNoFile)
	})

	s.Run("not an image", func() {
		_, err := s.service.SubmitPhoto(s.ctx, s.owner, photo.Upload{DataURI: "data:text/plain;base64,aGk="})
		s.ErrorIs(err, photo.ErrInvalidImage)
	})

	s.Run("replaces the previous photo", func() {
		first := s.uploadPNG()
		payload := base64.StdEncoding.EncodeToString([]byte("gif-bytes"))
		second, err := s.service.SubmitPhoto(s.ctx, s.owner, photo.Upload{DataURI: "data:image/gif;base64," + payload})
		s.Require().NoError(err)
		s.NotEqual(first.ID, second.ID)
		s.Equal(s.owner.String()+"_image.gif", second.Filename)

		_, photos := s.store.Counts(s.owner)
		s.Equal(1, photos)

		byID, err := s.service.Photo(s.ctx, s.owner, strconv.FormatInt(second.ID, 10))
		s.Require().NoError(err)
		s.Equal([]byte("gif-bytes"), byID.Data)
		s.Equal("image/gif", byID.ContentType())

		byName, err := s.service.Photo(s.ctx, s.owner, second.Filename)
		s.Require().NoError(err)
		s.Equal(second.ID, byName.ID)

		_, err = s.service.Photo(s.ctx, s.owner, strconv.FormatInt(first.ID, 10))
		s.ErrorIs(err, database.ErrNotFound)
	})

	s.Run("other registrations cannot read it", func() {
		other, err := s.store.CreateRegistration(s.ctx)
		s.Require().NoError(err)
		p, err := s.service.CurrentPhoto(s.ctx, s.owner)
		s.Require().NoError(err)

		_, err = s.service.Photo(s.ctx, other.ID, strconv.FormatInt(p.ID, 10))
		s.ErrorIs(err, database.ErrNotFound)
	})
}

func (s *ServiceSuite) TestReviewGate() {
	_, err := s.service.Review(s.ctx, s.owner)
	var incomplete *IncompleteError
	s.Require().ErrorAs(err, &incomplete)
	s.Equal(StepGeneralInfo, incomplete.Step)

	s.submit(team.GeneralInfo, generalInfoForm())
	_, err = s.service.Review(s.ctx, s.owner)
	s.Require().ErrorAs(err, &incomplete)
	s.Equal(StepMentor, incomplete.Step)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.GateBlocks.WithLabelValues("mentor")))

	s.fillRequired()
	_, err = s.service.Review(s.ctx, s.owner)
	s.Require().ErrorAs(err, &incomplete)
	s.Equal(StepPhoto, incomplete.Step)

	s.uploadPNG()
	summary, err := s.service.Review(s.ctx, s.owner)
	s.Require().NoError(err)
	s.Len(summary.Sections, 5)
	s.Equal("team.png", summary.Photo.Filename)
}

func (s *ServiceSuite) TestDeletedThirdParticipantNeverBlocks() {
	s.fillRequired()
	s.uploadPNG()
	s.Require().NoError(s.store.UpsertSection(s.ctx, team.Section{RegistrationID: s.owner, Variant: team.Participant3, Name: "half"}))

	_, err := s.service.Review(s.ctx, s.owner)
	var incomplete *IncompleteError
	s.Require().ErrorAs(err, &incomplete)
	s.Equal(StepParticipant3, incomplete.Step)

	_, err = s.service.SubmitThirdParticipant(s.ctx, s.owner, url.Values{NO_PARTICIPANT_KEY: {"true"}})
	s.Require().NoError(err)
	_, err = s.service.Review(s.ctx, s.owner)
	s.NoError(err)
}

func (s *ServiceSuite) TestComplete() {
	s.fillRequired()
	s.uploadPNG()

	form := url.Values{"comandName": {"Owls"}}
	summary, err := s.service.Complete(s.ctx, s.owner, form, photo.Upload{})
	s.Require().NoError(err)
	s.service.Wait()

	s.Require().NotNil(summary.Registration.CompletedAt)
	general, ok := summary.Section(team.GeneralInfo)
	s.Require().True(ok)
	s.Equal("Owls", general.Team)
	s.Equal("B", general.School, "fields missing from the form keep their value")
	s.Equal(1.0, testutil.ToFloat64(s.metrics.Completions))

	s.Require().Len(s.notifier.summaries, 1)
	s.Equal(s.owner, s.notifier.summaries[0].Registration.ID)
}

func (s *ServiceSuite) TestCompleteWithReplacementPhoto() {
	s.fillRequired()
	old := s.uploadPNG()

	summary, err := s.service.Complete(s.ctx, s.owner, url.Values{},
		photo.Upload{File: bytes.NewReader([]byte("jpeg")), Filename: "new.JPG"})
	s.Require().NoError(err)
	s.service.Wait()

	s.NotEqual(old.ID, summary.Photo.ID)
	s.Equal("new.jpg", summary.Photo.Filename)
	_, photos := s.store.Counts(s.owner)
	s.Equal(1, photos)
}

func (s *ServiceSuite) TestCompleteRejectsInvalidValues() {
	s.fillRequired()
	s.uploadPNG()
	s.submit(team.Participant3, participantForm("3"))

	form := url.Values{"mName": {" "}, "uch3email": {""}}
	_, err := s.service.Complete(s.ctx, s.owner, form, photo.Upload{})

	var invalid *ValidationError
	s.Require().ErrorAs(err, &invalid)
	s.Equal(team.ERR_REQUIRED, invalid.Fields["mName"])
	s.Equal(team.ERR_REQUIRED, invalid.Fields["uch3email"], "a partly filled third participant is rejected")

	reg, err := s.store.GetRegistration(s.ctx, s.owner)
	s.Require().NoError(err)
	s.Nil(reg.CompletedAt)
	mentor, err := s.service.Section(s.ctx, s.owner, team.Mentor)
	s.Require().NoError(err)
	s.Equal("Irina", mentor.Name)
}

func (s *ServiceSuite) TestCompleteRunsTheGate() {
	s.fillRequired()
	_, err := s.service.Complete(s.ctx, s.owner, url.Values{}, photo.Upload{})

	var incomplete *IncompleteError
	s.Require().ErrorAs(err, &incomplete)
	s.Equal(StepPhoto, incomplete.Step, "an upload on the final page does not replace the photo step")
	s.Empty(s.notifier.summaries)
}

func (s *ServiceSuite) TestCompleteFailureCommitsNothing() {
	s.fillRequired()
	s.uploadPNG()
	service := NewService(brokenStore{s.store}, s.notifier, zap.NewNop(), s.metrics)

	_, err := service.Complete(s.ctx, s.owner, url.Values{"comandName": {"Owls"}}, photo.Upload{})
	s.ErrorIs(err, errStore)
	service.Wait()
	s.Empty(s.notifier.summaries)

	general, err := s.service.Section(s.ctx, s.owner, team.GeneralInfo)
	s.Require().NoError(err)
	s.Equal("A", general.Team)
}

func (s *ServiceSuite) TestNotifierFailureDoesNotUndoCompletion() {
	s.fillRequired()
	s.uploadPNG()
	s.notifier.err = errors.New("smtp down")

	_, err := s.service.Complete(s.ctx, s.owner, url.Values{}, photo.Upload{})
	s.Require().NoError(err)
	s.service.Wait()

	reg, err := s.store.GetRegistration(s.ctx, s.owner)
	s.Require().NoError(err)
	s.NotNil(reg.CompletedAt)
}
