package wizard

import "github.com/Geniuskaa/team_registration/pkg/team"

// Step is a wizard state. Its value is also the URL path segment of the page.
type Step string

const (
	StepStart        Step = "create_user"
	StepGeneralInfo  Step = "general_information"
	StepMentor       Step = "mentor"
	StepCaptain      Step = "captain_info"
	StepParticipant1 Step = "participant_1"
	StepParticipant2 Step = "participant_2"
	StepParticipant3 Step = "participant_3"
	StepPhoto        Step = "photo"
	StepFinalCheck   Step = "final_check"
	StepDone         Step = "registration_end"
)

var order = []Step{
	StepStart,
	StepGeneralInfo,
	StepMentor,
	StepCaptain,
	StepParticipant1,
	StepParticipant2,
	StepParticipant3,
	StepPhoto,
	StepFinalCheck,
	StepDone,
}

var variantSteps = map[team.Variant]Step{
	team.GeneralInfo:  StepGeneralInfo,
	team.Mentor:       StepMentor,
	team.Captain:      StepCaptain,
	team.Participant1: StepParticipant1,
	team.Participant2: StepParticipant2,
	team.Participant3: StepParticipant3,
}

func (s Step) Path() string {
	return "/" + string(s)
}

// Next returns the step that follows s. Done is terminal and returns itself.
func (s Step) Next() Step {
	for i, step := range order {
		if step == s && i+1 < len(order) {
			return order[i+1]
		}
	}
	return StepDone
}

// Variant returns the section edited on this step, if any.
func (s Step) Variant() (team.Variant, bool) {
	for v, step := range variantSteps {
		if step == s {
			return v, true
		}
	}
	return 0, false
}

// StepFor returns the step that edits the given section.
func StepFor(v team.Variant) Step {
	return variantSteps[v]
}
