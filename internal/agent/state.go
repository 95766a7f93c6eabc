package agent

// Phase is a state of one orchestration run.
type Phase string

const (
	PhaseIdle                 Phase = "idle"
	PhaseResolvingCredentials Phase = "resolving_credentials"
	PhaseBuildingContext      Phase = "building_context"
	PhaseAwaitingModel        Phase = "awaiting_model"
	PhaseExecutingTools       Phase = "executing_tools"
	PhaseResponded            Phase = "responded"
	PhaseFailed               Phase = "failed"
)

// transitions is the legal phase graph. The only cycle is the tool loop:
// awaiting_model -> executing_tools -> awaiting_model.
var transitions = map[Phase][]Phase{
	PhaseIdle:                 {PhaseResolvingCredentials},
	PhaseResolvingCredentials: {PhaseBuildingContext, PhaseFailed},
	PhaseBuildingContext:      {PhaseAwaitingModel, PhaseFailed},
	PhaseAwaitingModel:        {PhaseExecutingTools, PhaseResponded, PhaseFailed},
	PhaseExecutingTools:       {PhaseAwaitingModel, PhaseFailed},
}

// Terminal reports whether a phase ends the run.
func (p Phase) Terminal() bool {
	return p == PhaseResponded || p == PhaseFailed
}

// canTransition reports whether moving from -> to is legal.
func canTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
