package wizard

import (
	"fmt"
	"github.com/Geniuskaa/team_registration/pkg/team"
)

const (
	MSG_INCOMPLETE = "Not all data in the %q section is filled in. Please go back and complete the form."
	MSG_PARTIAL    = "The %q section is only partly filled in. Complete every field or clear the participant."
	MSG_NO_PHOTO   = "Please upload a team photo."
)

// IncompleteError is returned by the final check when a step has to be
// revisited before the registration can be completed.
type IncompleteError struct {
	Step    Step
	Message string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("step %s is incomplete", e.Step)
}

// Check runs the final review gate over the stored state. Sections are checked
// in wizard order and the first one that blocks is reported. The third
// participant blocks only when it is partly filled. The photo is checked last.
func Check(sections map[team.Variant]team.Section, hasPhoto bool) error {
	for _, v := range team.Variants {
		s, ok := sections[v]

		if v.Optional() {
			if ok && !s.Empty() && !s.Complete() {
				return &IncompleteError{Step: StepFor(v), Message: fmt.Sprintf(MSG_PARTIAL, v.Title())}
			}
			continue
		}

		if !ok || !s.Complete() {
			return &IncompleteError{Step: StepFor(v), Message: fmt.Sprintf(MSG_INCOMPLETE, v.Title())}
		}
	}

	if !hasPhoto {
		return &IncompleteError{Step: StepPhoto, Message: MSG_NO_PHOTO}
	}
	return nil
}
