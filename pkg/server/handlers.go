package server

import (
	"errors"
	"github.com/Geniuskaa/team_registration/pkg/database"
	"github.com/Geniuskaa/team_registration/pkg/photo"
	"github.com/Geniuskaa/team_registration/pkg/roster"
	"github.com/Geniuskaa/team_registration/pkg/session"
	"github.com/Geniuskaa/team_registration/pkg/team"
	"github.com/Geniuskaa/team_registration/pkg/wizard"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"net/http"
)

const (
	MSG_NO_IDENTITY     = "Could not determine the current registration. Please start again."
	MSG_ALREADY_STARTED = "You have already started a registration. Continue filling in the forms."
	MSG_STARTED         = "A new registration has been created."
	MSG_PHOTO_SAVED     = "Photo saved!"
	MSG_INVALID_IMAGE   = "Invalid image."
	MSG_NO_FILE         = "No file was uploaded."

	MAX_MEMORY = 32 << 20
)

func (s *Server) routes() {
	s.mux.Get("/", s.static("index.html", "Team registration"))
	s.mux.Get("/index", s.static("index.html", "Team registration"))
	s.mux.Get("/selection", s.static("selection.html", "Selection"))
	s.mux.Get("/privacy_policy", s.static("privacy_policy.html", "Privacy policy"))

	s.mux.Get(wizard.StepStart.Path(), s.createUser)
	s.mux.Post(wizard.StepStart.Path(), s.createUser)

	for _, v := range team.Variants {
		path := wizard.StepFor(v).Path()
		s.mux.Get(path, s.showSection(v))
		s.mux.Post(path, s.submitSection(v))
	}
	s.mux.Post("/clear_participant_data", s.clearParticipant)

	s.mux.Get(wizard.StepPhoto.Path(), s.showPhoto)
	s.mux.Post(wizard.StepPhoto.Path(), s.submitPhoto)
	s.mux.Get("/photo/{ref}", s.photoContent)

	s.mux.Get(wizard.StepFinalCheck.Path(), s.finalCheck)
	s.mux.Post(wizard.StepFinalCheck.Path(), s.complete)
	s.mux.Get("/final_check/roster.xlsx", s.rosterFile)

	s.mux.Get(wizard.StepDone.Path(), s.static("registration_end.html", "Registration complete"))
	s.mux.Get("/check_status", s.checkStatus)
}

func (s *Server) static(page, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.render(w, r, http.StatusOK, page, view{Title: title})
	}
}

// identity returns the caller's registration or sends them to the start.
func (s *Server) identity(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := session.Identity(r.Context())
	if !ok {
		s.redirect(w, r, wizard.StepStart, MSG_NO_IDENTITY)
	}
	return id, ok
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	_, existed, err := s.sessions.EnsureIdentity(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}

	msg := MSG_STARTED
	if existed {
		msg = MSG_ALREADY_STARTED
	}
	s.redirect(w, r, wizard.StepGeneralInfo, msg)
}

func (s *Server) checkStatus(w http.ResponseWriter, r *http.Request) {
	if _, ok := session.Identity(r.Context()); ok {
		http.Redirect(w, r, wizard.StepGeneralInfo.Path(), http.StatusFound)
		return
	}
	http.Redirect(w, r, wizard.StepStart.Path(), http.StatusFound)
}

func (s *Server) renderSection(w http.ResponseWriter, r *http.Request, status int, section team.Section, errs team.FieldErrors) {
	s.render(w, r, status, "section.html", view{
		Title:    section.Variant.Title(),
		Action:   wizard.StepFor(section.Variant).Path(),
		Optional: section.Variant.Optional(),
		Fields:   fieldsOf(section, errs),
	})
}

func (s *Server) showSection(v team.Variant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := s.identity(w, r)
		if !ok {
			return
		}

		section, err := s.wizard.Section(r.Context(), owner, v)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		s.renderSection(w, r, http.StatusOK, section, nil)
	}
}

func (s *Server) submitSection(v team.Variant) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := s.identity(w, r)
		if !ok {
			return
		}
		if err := r.ParseForm(); err != nil {
			s.badForm(w, r, err)
			return
		}

		var next wizard.Step
		var err error
		if v == team.Participant3 {
			next, err = s.wizard.SubmitThirdParticipant(r.Context(), owner, r.PostForm)
		} else {
			next, err = s.wizard.SubmitSection(r.Context(), owner, v, r.PostForm)
		}

		var invalid *wizard.ValidationError
		switch {
		case errors.As(err, &invalid):
			s.renderSection(w, r, http.StatusUnprocessableEntity, invalid.Sections[0], invalid.Fields)
		case err != nil:
			s.fail(w, r, err)
		default:
			http.Redirect(w, r, next.Path(), http.StatusFound)
		}
	}
}

func (s *Server) clearParticipant(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.identity(w, r)
	if !ok {
		return
	}

	err := s.wizard.ClearThirdParticipant(r.Context(), owner)
	switch {
	case errors.Is(err, database.ErrNotFound):
		http.Error(w, "Nothing to clear", http.StatusNotFound)
	case err != nil:
		s.logger.Error("clear participant failed", zap.Error(err))
		http.Error(w, "Clearing data failed", http.StatusInternalServerError)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (s *Server) showPhoto(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.identity(w, r)
	if !ok {
		return
	}

	v := view{Title: "Team photo"}
	p, err := s.wizard.CurrentPhoto(r.Context(), owner)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		s.fail(w, r, err)
		return
	default:
		v.Photo = &p
	}
	s.render(w, r, http.StatusOK, "photo.html", v)
}

// parseUpload reads the photo inputs from either a multipart or a plain form.
// The returned close func must be called once the upload is consumed.
func parseUpload(r *http.Request) (photo.Upload, func(), error) {
	noop := func() {}
	err := r.ParseMultipartForm(MAX_MEMORY)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		return photo.Upload{}, noop, err
	}

	u := photo.Upload{
		DataURI:      r.FormValue("existing_photo"),
		OriginalName: r.FormValue("original_file_name"),
	}

	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		return u, noop, nil
	case err != nil:
		return photo.Upload{}, noop, err
	}
	u.File = file
	u.Filename = header.Filename
	return u, func() { _ = file.Close() }, nil
}

func (s *Server) submitPhoto(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.identity(w, r)
	if !ok {
		return
	}

	u, done, err := parseUpload(r)
	if err != nil {
		s.badForm(w, r, err)
		return
	}
	defer done()

	_, err = s.wizard.SubmitPhoto(r.Context(), owner, u)
	switch {
	case errors.Is(err, photo.ErrNoFile):
		s.redirect(w, r, wizard.StepPhoto, MSG_NO_FILE)
	case errors.Is(err, photo.ErrInvalidImage):
		s.redirect(w, r, wizard.StepPhoto, MSG_INVALID_IMAGE)
	case err != nil:
		s.fail(w, r, err)
	default:
		s.redirect(w, r, wizard.StepFinalCheck, MSG_PHOTO_SAVED)
	}
}

func (s *Server) photoContent(w http.ResponseWriter, r *http.Request) {
	owner, ok := session.Identity(r.Context())
	if !ok {
		http.Error(w, "Photo not found", http.StatusNotFound)
		return
	}

	p, err := s.wizard.Photo(r.Context(), owner, chi.URLParam(r, "ref"))
	switch {
	case errors.Is(err, database.ErrNotFound):
		http.Error(w, "Photo not found", http.StatusNotFound)
		return
	case err != nil:
		s.logger.Error("photo lookup failed", zap.Error(err))
		http.Error(w, "Photo lookup failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", p.ContentType())
	w.Header().Set("Cache-Control", "private, no-cache")
	_, _ = w.Write(p.Data)
}

// review runs the gate and follows a block to the step it names. ok is false
// when the response has been written.
func (s *Server) review(w http.ResponseWriter, r *http.Request, err error) bool {
	var incomplete *wizard.IncompleteError
	switch {
	case errors.As(err, &incomplete):
		s.redirect(w, r, incomplete.Step, incomplete.Message)
		return false
	case err != nil:
		s.fail(w, r, err)
		return false
	}
	return true
}

func (s *Server) renderReview(w http.ResponseWriter, r *http.Request, status int, summary wizard.Summary, sections []team.Section, errs team.FieldErrors) {
	v := view{Title: "Final check", Sections: sectionsOf(sections, errs)}
	if summary.Photo.ID != 0 {
		v.Photo = &summary.Photo
	}
	s.render(w, r, status, "final_check.html", v)
}

func (s *Server) finalCheck(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.identity(w, r)
	if !ok {
		return
	}

	summary, err := s.wizard.Review(r.Context(), owner)
	if !s.review(w, r, err) {
		return
	}
	s.renderReview(w, r, http.StatusOK, summary, summary.Sections, nil)
}

func (s *Server) complete(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.identity(w, r)
	if !ok {
		return
	}

	u, done, err := parseUpload(r)
	if err != nil {
		s.badForm(w, r, err)
		return
	}
	defer done()
	// The page never posts the stored photo back as a data URI.
	u.DataURI = ""

	summary, err := s.wizard.Complete(r.Context(), owner, r.PostForm, u)
	var invalid *wizard.ValidationError
	switch {
	case errors.As(err, &invalid):
		s.renderReview(w, r, http.StatusUnprocessableEntity, summary, invalid.Sections, invalid.Fields)
	case errors.Is(err, photo.ErrInvalidImage):
		s.redirect(w, r, wizard.StepFinalCheck, MSG_INVALID_IMAGE)
	case err != nil:
		s.review(w, r, err)
	default:
		http.Redirect(w, r, wizard.StepDone.Path(), http.StatusFound)
	}
}

func (s *Server) rosterFile(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.identity(w, r)
	if !ok {
		return
	}

	summary, err := s.wizard.Review(r.Context(), owner)
	if !s.review(w, r, err) {
		return
	}

	buf, err := roster.Build(summary.Sections)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", roster.CONTENT_TYPE)
	w.Header().Set("Content-Disposition", `attachment; filename="roster.xlsx"`)
	_, _ = buf.WriteTo(w)
}

// badForm answers a request whose body could not be read. A body over the
// upload limit gets 413.
func (s *Server) badForm(w http.ResponseWriter, r *http.Request, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	s.logger.Warn("malformed form", zap.String("path", r.URL.Path), zap.Error(err))
	http.Error(w, "Malformed form", http.StatusBadRequest)
}
