package team

import (
	"github.com/google/uuid"
	"net/url"
	"strconv"
	"strings"
)

const (
	ERR_REQUIRED = "This field is required"
	ERR_CLASS    = "Class must be a positive whole number"
)

// FieldErrors maps form keys to a message for the field.
type FieldErrors map[string]string

// Set assigns the textual value of a field. Class values must already be
// validated.
func (s *Section) Set(f Field, value string) {
	switch f {
	case FieldTeam:
		s.Team = value
	case FieldSchool:
		s.School = value
	case FieldCity:
		s.City = value
	case FieldName:
		s.Name = value
	case FieldPost:
		s.Post = value
	case FieldClass:
		s.Class, _ = strconv.Atoi(value)
	case FieldEmail:
		s.Email = value
	case FieldPhone:
		s.Phone = value
	}
}

// Parse builds a section of the given variant from submitted form values.
//
// Every field is required for every variant except the third participant,
// whose fields may all be blank and whose class falls back to 0 when it is not
// a non-negative integer.
func Parse(v Variant, owner uuid.UUID, form url.Values) (Section, FieldErrors) {
	s := Section{RegistrationID: owner, Variant: v}
	return Overlay(s, form, false)
}

// Overlay applies submitted values on top of an existing section. With
// keepMissing set, fields whose form key is absent keep their current value;
// otherwise an absent key counts as blank.
func Overlay(s Section, form url.Values, keepMissing bool) (Section, FieldErrors) {
	errs := FieldErrors{}
	for _, f := range s.Variant.Fields() {
		raw, present := form[f.Form]
		if !present && keepMissing {
			continue
		}
		value := ""
		if len(raw) > 0 {
			value = strings.TrimSpace(raw[0])
		}

		if f.Field == FieldClass {
			n, err := strconv.Atoi(value)
			switch {
			case s.Variant.Optional():
				if err != nil || n < 0 {
					n = 0
				}
			case value == "":
				errs[f.Form] = ERR_REQUIRED
				continue
			case err != nil || n < 1:
				errs[f.Form] = ERR_CLASS
				continue
			}
			s.Class = n
			continue
		}

		if value == "" && !s.Variant.Optional() {
			errs[f.Form] = ERR_REQUIRED
			continue
		}
		s.Set(f.Field, value)
	}

	if len(errs) > 0 {
		return s, errs
	}
	return s, nil
}
