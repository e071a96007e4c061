package server

import (
	"bytes"
	"embed"
	"encoding/base64"
	"github.com/Geniuskaa/team_registration/pkg/team"
	"github.com/Geniuskaa/team_registration/pkg/wizard"
	"go.uber.org/zap"
	"html/template"
	"net/http"
)

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.New("pages").Funcs(template.FuncMap{
	"dataURI": dataURI,
}).ParseFS(templatesFS, "templates/*.html"))

func dataURI(p team.Photo) string {
	return "data:" + p.ContentType() + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
}

type fieldView struct {
	Label string
	Form  string
	Value string
	Error string
}

type sectionView struct {
	Title  string
	Path   string
	Fields []fieldView
}

type view struct {
	Title    string
	Flashes  []string
	Message  string
	Action   string
	Optional bool
	Fields   []fieldView
	Sections []sectionView
	Photo    *team.Photo
}

func fieldsOf(s team.Section, errs team.FieldErrors) []fieldView {
	specs := s.Variant.Fields()
	out := make([]fieldView, len(specs))
	for i, f := range specs {
		out[i] = fieldView{Label: f.Label, Form: f.Form, Value: s.Value(f.Field), Error: errs[f.Form]}
	}
	return out
}

func sectionsOf(sections []team.Section, errs team.FieldErrors) []sectionView {
	out := make([]sectionView, 0, len(sections))
	for _, s := range sections {
		if s.Variant.Optional() && s.Empty() {
			continue
		}
		out = append(out, sectionView{
			Title:  s.Variant.Title(),
			Path:   wizard.StepFor(s.Variant).Path(),
			Fields: fieldsOf(s, errs),
		})
	}
	return out
}

// render executes the page into a buffer first so a template failure still
// produces a clean 500.
func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, page string, v view) {
	v.Flashes = s.sessions.Flashes(r)

	buf := new(bytes.Buffer)
	if err := templates.ExecuteTemplate(buf, page, v); err != nil {
		s.logger.Error("render failed", zap.String("page", page), zap.Error(err))
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

// fail logs err and answers with the error page.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	s.render(w, r, http.StatusInternalServerError, "error.html", view{
		Title:   "Error",
		Message: "Saving data failed. Please try again.",
	})
}

func (s *Server) redirect(w http.ResponseWriter, r *http.Request, to wizard.Step, flash string) {
	if flash != "" {
		s.sessions.AddFlash(w, r, flash)
	}
	http.Redirect(w, r, to.Path(), http.StatusFound)
}
