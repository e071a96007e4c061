package photo

import (
	"encoding/base64"
	"errors"
	"fmt"
	"github.com/Geniuskaa/team_registration/pkg/team"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"io"
	"path"
	"strings"
)

const (
	DATA_URI_PREFIX = "data:image"
	DEFAULT_EXT     = "jpg"
)

var (
	ErrNoFile       = errors.New("no file provided")
	ErrInvalidImage = errors.New("invalid image")
)

// Upload is what the photo form submits: either a multipart file or a
// base64 data URI kept by the page from an earlier visit.
type Upload struct {
	File     io.Reader
	Filename string

	DataURI      string
	OriginalName string
}

// Empty reports whether neither input was submitted.
func (u Upload) Empty() bool {
	return (u.File == nil || u.Filename == "") && u.DataURI == ""
}

// Decode validates an upload and turns it into a photo owned by owner.
//
// A file with a non-whitelisted extension is treated as no file at all.
func Decode(owner uuid.UUID, u Upload) (team.Photo, error) {
	if u.File != nil && u.Filename != "" {
		if !team.AllowedExtension(extension(u.Filename)) {
			return team.Photo{}, ErrNoFile
		}
		data, err := io.ReadAll(u.File)
		if err != nil {
			return team.Photo{}, fmt.Errorf("Decode failed: %w", err)
		}
		name := Sanitize(u.Filename)
		if name == "" {
			name = syntheticName(owner, extension(u.Filename))
		}
		return team.Photo{RegistrationID: owner, Filename: name, Data: data}, nil
	}

	if u.DataURI == "" {
		return team.Photo{}, ErrNoFile
	}

	mediaType, data, err := parseDataURI(u.DataURI)
	if err != nil {
		return team.Photo{}, err
	}

	name := Sanitize(u.OriginalName)
	if name == "" || !team.AllowedExtension(extension(name)) {
		ext := strings.TrimPrefix(mediaType, "image/")
		if !team.AllowedExtension(ext) {
			ext = DEFAULT_EXT
		}
		name = syntheticName(owner, ext)
	}
	return team.Photo{RegistrationID: owner, Filename: name, Data: data}, nil
}

func parseDataURI(uri string) (string, []byte, error) {
	if !strings.HasPrefix(uri, DATA_URI_PREFIX) {
		return "", nil, ErrInvalidImage
	}
	header, payload, ok := strings.Cut(uri, ",")
	if !ok {
		return "", nil, fmt.Errorf("%w: missing payload", ErrInvalidImage)
	}

	mediaType, _, _ := strings.Cut(strings.TrimPrefix(header, "data:"), ";")
	payload = strings.Join(strings.Fields(payload), "")
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if len(data) == 0 {
		return "", nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	return strings.ToLower(mediaType), data, nil
}

// Sanitize strips directories and unsafe characters from a client supplied
// filename. The result is empty when nothing usable is left.
func Sanitize(name string) string {
	if i := strings.LastIndexAny(name, `/\`); i >= 0 {
		name = name[i+1:]
	}
	ext := path.Ext(name)
	stem := slug.Make(strings.TrimSuffix(name, ext))
	ext = slug.Make(strings.TrimPrefix(ext, "."))
	if stem == "" {
		return ""
	}
	if ext == "" {
		return stem
	}
	return stem + "." + ext
}

func extension(name string) string {
	return strings.ToLower(strings.TrimPrefix(path.Ext(name), "."))
}

func syntheticName(owner uuid.UUID, ext string) string {
	return owner.String() + "_image." + strings.ToLower(ext)
}
