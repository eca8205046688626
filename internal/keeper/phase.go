package keeper

// Phase is where the keeper is within a matching cycle.
type Phase int32

const (
	PhaseIdle Phase = iota
	PhaseFetching
	PhaseDecrypting
	PhaseMatching
	PhaseValidating
	PhaseSubmitting
	PhaseSleeping
	PhaseStopped
)

var phaseNames = [...]string{
	PhaseIdle:       "idle",
	PhaseFetching:   "fetching",
	PhaseDecrypting: "decrypting",
	PhaseMatching:   "matching",
	PhaseValidating: "validating",
	PhaseSubmitting: "submitting",
	PhaseSleeping:   "sleeping",
	PhaseStopped:    "stopped",
}

func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// next lists the phases reachable from each phase. Any phase may move to
// Stopped, and any phase may fall back to Sleeping when a cycle ends early.
// Submitting returns to Matching when a refused order forces another round.
var next = map[Phase][]Phase{
	PhaseIdle:       {PhaseFetching},
	PhaseFetching:   {PhaseDecrypting},
	PhaseDecrypting: {PhaseMatching},
	PhaseMatching:   {PhaseValidating},
	PhaseValidating: {PhaseSubmitting},
	PhaseSubmitting: {PhaseMatching},
	PhaseSleeping:   {PhaseFetching, PhaseIdle},
}

// CanTransitionTo reports whether the orchestrator may move from p to to.
func (p Phase) CanTransitionTo(to Phase) bool {
	if to == PhaseStopped || to == PhaseSleeping {
		return p != PhaseStopped
	}
	for _, n := range next[p] {
		if n == to {
			return true
		}
	}
	return false
}
