package team

import (
	"github.com/google/uuid"
	"path"
	"strconv"
	"strings"
	"time"
)

// Variant discriminates the six wizard sections.
type Variant uint8

const (
	GeneralInfo Variant = iota + 1
	Mentor
	Captain
	Participant1
	Participant2
	Participant3
)

// Variants lists the sections in wizard order.
var Variants = []Variant{GeneralInfo, Mentor, Captain, Participant1, Participant2, Participant3}

type Field uint8

const (
	FieldTeam Field = iota + 1
	FieldSchool
	FieldCity
	FieldName
	FieldPost
	FieldClass
	FieldEmail
	FieldPhone
)

// FieldSpec binds a section field to its form key, table column and label.
type FieldSpec struct {
	Field  Field
	Form   string
	Column string
	Label  string
}

type variantSpec struct {
	title  string
	table  string
	fields []FieldSpec
}

var specs = map[Variant]variantSpec{
	GeneralInfo: {
		title: "General information",
		table: "general_information",
		fields: []FieldSpec{
			{FieldTeam, "comandName", "comand_name", "Team name"},
			{FieldSchool, "schoolName", "school_name", "School"},
			{FieldCity, "cityName", "city_name", "City"},
		},
	},
	Mentor: {
		title: "Mentor",
		table: "mentor",
		fields: []FieldSpec{
			{FieldName, "mName", "m_name", "Full name"},
			{FieldPost, "mPost", "m_post", "Position"},
			{FieldEmail, "memail", "m_email", "Email"},
			{FieldPhone, "mphoneNumber", "m_phone_number", "Phone number"},
		},
	},
	Captain: {
		title: "Captain",
		table: "captain_info",
		fields: []FieldSpec{
			{FieldName, "captainName", "captain_name", "Full name"},
			{FieldClass, "captainClass", "captain_class", "Class"},
			{FieldEmail, "cemail", "c_email", "Email"},
			{FieldPhone, "cphoneNumber", "c_phone_number", "Phone number"},
		},
	},
	Participant1: participantSpec(1),
	Participant2: participantSpec(2),
	Participant3: participantSpec(3),
}

func participantSpec(n int) variantSpec {
	p := "uch" + strconv.Itoa(n)
	c := "uch" + strconv.Itoa(n) + "_"
	return variantSpec{
		title: "Participant " + strconv.Itoa(n),
		table: "participant_" + strconv.Itoa(n),
		fields: []FieldSpec{
			{FieldName, p + "Name", c + "name", "Full name"},
			{FieldClass, p + "Class", c + "class", "Class"},
			{FieldEmail, p + "email", c + "email", "Email"},
			{FieldPhone, p + "phoneNumber", c + "phone_number", "Phone number"},
		},
	}
}

func (v Variant) Valid() bool {
	_, ok := specs[v]
	return ok
}

func (v Variant) Title() string {
	return specs[v].title
}

// Table is the name of the table holding this variant's rows.
func (v Variant) Table() string {
	return specs[v].table
}

func (v Variant) Fields() []FieldSpec {
	return specs[v].fields
}

// Optional reports whether the section may be absent or empty without
// blocking completion. Only the third participant is.
func (v Variant) Optional() bool {
	return v == Participant3
}

func (v Variant) String() string {
	if !v.Valid() {
		return "unknown"
	}
	return specs[v].table
}

type Registration struct {
	ID          uuid.UUID
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Section is one wizard step's data. Which fields are meaningful depends on
// Variant.
type Section struct {
	RegistrationID uuid.UUID
	Variant        Variant

	Team   string
	School string
	City   string
	Name   string
	Post   string
	Class  int
	Email  string
	Phone  string
}

// Value returns the textual form of a field. A zero class renders empty.
func (s Section) Value(f Field) string {
	switch f {
	case FieldTeam:
		return s.Team
	case FieldSchool:
		return s.School
	case FieldCity:
		return s.City
	case FieldName:
		return s.Name
	case FieldPost:
		return s.Post
	case FieldClass:
		if s.Class == 0 {
			return ""
		}
		return strconv.Itoa(s.Class)
	case FieldEmail:
		return s.Email
	case FieldPhone:
		return s.Phone
	}
	return ""
}

// Complete reports whether every field of the variant is filled.
func (s Section) Complete() bool {
	for _, f := range s.Variant.Fields() {
		if s.Value(f.Field) == "" {
			return false
		}
	}
	return true
}

// Empty reports whether every field of the variant is empty or zero.
func (s Section) Empty() bool {
	for _, f := range s.Variant.Fields() {
		if s.Value(f.Field) != "" {
			return false
		}
	}
	return true
}

// Cleared returns a copy with all fields reset, keeping ownership.
func (s Section) Cleared() Section {
	return Section{RegistrationID: s.RegistrationID, Variant: s.Variant}
}

var allowedExtensions = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
}

// AllowedExtension reports whether ext (without dot, any case) is accepted
// for team photos.
func AllowedExtension(ext string) bool {
	_, ok := allowedExtensions[strings.ToLower(ext)]
	return ok
}

type Photo struct {
	ID             int64
	RegistrationID uuid.UUID
	Filename       string
	Data           []byte
}

// ContentType infers the media type from the stored filename.
func (p Photo) ContentType() string {
	if ct, ok := allowedExtensions[strings.ToLower(strings.TrimPrefix(path.Ext(p.Filename), "."))]; ok {
		return ct
	}
	return "image/jpeg"
}
