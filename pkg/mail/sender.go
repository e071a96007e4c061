package mail

import (
	"bytes"
	"embed"
	"fmt"
	"github.com/Geniuskaa/team_registration/pkg/roster"
	"github.com/Geniuskaa/team_registration/pkg/team"
	"github.com/Geniuskaa/team_registration/pkg/wizard"
	"github.com/emersion/go-message/mail"
	"html/template"
	"io"
	"time"
)

const (
	ROSTER_FILENAME = "roster.xlsx"
	SUBJECT         = "Team %q: registration complete"
)

//go:embed templates/*.html
var templates embed.FS

var confirmation = template.Must(template.ParseFS(templates, "templates/confirmation.html"))

type letterData struct {
	ID       string
	Team     string
	Sections []team.Section
}

// recipients returns the distinct non-empty addresses of the mentor and the
// captain.
func recipients(summary wizard.Summary) []*mail.Address {
	var out []*mail.Address
	seen := map[string]bool{}
	for _, v := range []team.Variant{team.Mentor, team.Captain} {
		s, ok := summary.Section(v)
		if !ok || s.Email == "" || seen[s.Email] {
			continue
		}
		seen[s.Email] = true
		out = append(out, &mail.Address{Name: s.Name, Address: s.Email})
	}
	return out
}

func teamName(summary wizard.Summary) string {
	s, _ := summary.Section(team.GeneralInfo)
	return s.Team
}

// compose builds the confirmation letter: an html body with the team details,
// the roster spreadsheet and the team photo as attachments.
func compose(from string, to []*mail.Address, summary wizard.Summary, date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", to)
	h.SetSubject(fmt.Sprintf(SUBJECT, teamName(summary)))

	buf := new(bytes.Buffer)
	mw, err := mail.CreateWriter(buf, h)
	if err != nil {
		return nil, fmt.Errorf("mail.CreateWriter failed: %w", err)
	}

	if err := writeBody(mw, summary); err != nil {
		return nil, err
	}

	rosterBuf, err := roster.Build(summary.Sections)
	if err != nil {
		return nil, fmt.Errorf("roster.Build failed: %w", err)
	}
	if err := attach(mw, ROSTER_FILENAME, roster.CONTENT_TYPE, rosterBuf); err != nil {
		return nil, err
	}

	if summary.Photo.ID != 0 {
		p := summary.Photo
		if err := attach(mw, p.Filename, p.ContentType(), bytes.NewReader(p.Data)); err != nil {
			return nil, err
		}
	}

	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("mw.Close failed: %w", err)
	}
	return buf.Bytes(), nil
}

func writeBody(mw *mail.Writer, summary wizard.Summary) error {
	tw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("mw.CreateInline failed: %w", err)
	}

	var th mail.InlineHeader
	th.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(th)
	if err != nil {
		return fmt.Errorf("tw.CreatePart failed: %w", err)
	}

	data := letterData{
		ID:       summary.Registration.ID.String(),
		Team:     teamName(summary),
		Sections: summary.Visible(),
	}
	if err := confirmation.Execute(w, data); err != nil {
		return fmt.Errorf("confirmation.Execute failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("w.Close failed: %w", err)
	}
	if err := tw.Close(); err != nil {
		return fmt.Errorf("tw.Close failed: %w", err)
	}
	return nil
}

func attach(mw *mail.Writer, filename, contentType string, r io.Reader) error {
	var ah mail.AttachmentHeader
	ah.SetContentType(contentType, nil)
	ah.SetFilename(filename)

	w, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("mw.CreateAttachment failed: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("io.Copy failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("w.Close failed: %w", err)
	}
	return nil
}
