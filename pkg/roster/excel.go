package roster

import (
	"bytes"
	"fmt"
	"github.com/Geniuskaa/team_registration/pkg/team"
	"github.com/xuri/excelize/v2"
	"strconv"
)

const (
	SHEET_NAME             = "Team"
	COUNT_OF_METAINFO_ROWS = 4
	CONTENT_TYPE           = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

var header = []interface{}{"Role", "Full name", "Class / position", "Email", "Phone"}

// Build renders the team into a single sheet workbook: team, school and city
// on top, then one row per person. An empty third participant is skipped.
func Build(sections []team.Section) (*bytes.Buffer, error) {
	f := excelize.NewFile()
	defer func() {
		_ = f.Close()
	}()
	f.SetSheetName("Sheet1", SHEET_NAME)

	row := 1
	for _, s := range sections {
		if s.Variant != team.GeneralInfo {
			continue
		}
		meta := [][]interface{}{{"Team", s.Team}, {"School", s.School}, {"City", s.City}}
		for _, values := range meta {
			if err := setRow(f, row, values); err != nil {
				return nil, err
			}
			row++
		}
	}

	row = COUNT_OF_METAINFO_ROWS + 1
	if err := setRow(f, row, header); err != nil {
		return nil, err
	}

	for _, s := range sections {
		if s.Variant == team.GeneralInfo || (s.Variant.Optional() && s.Empty()) {
			continue
		}
		row++
		detail := s.Post
		if s.Variant != team.Mentor {
			detail = strconv.Itoa(s.Class)
		}
		if err := setRow(f, row, []interface{}{s.Variant.Title(), s.Name, detail, s.Email, s.Phone}); err != nil {
			return nil, err
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("f.WriteToBuffer failed: %w", err)
	}
	return buf, nil
}

func setRow(f *excelize.File, row int, values []interface{}) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return fmt.Errorf("excelize.CoordinatesToCellName failed: %w", err)
	}
	if err := f.SetSheetRow(SHEET_NAME, cell, &values); err != nil {
		return fmt.Errorf("f.SetSheetRow failed: %w", err)
	}
	return nil
}
