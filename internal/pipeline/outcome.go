package pipeline

// Outcome is a stage's routing decision.
type Outcome int

const (
	// Continue proceeds to the next node.
	Continue Outcome = iota
	// TerminateSuccess ends the run successfully without running later nodes.
	TerminateSuccess
	// TerminateFailure ends the run as failed.
	TerminateFailure
)

func (o Outcome) String() string {
	switch o {
	case Continue:
		return "continue"
	case TerminateSuccess:
		return "terminate_success"
	case TerminateFailure:
		return "terminate_failure"
	default:
		return "unknown"
	}
}

// Terminal reports whether o ends the run.
func (o Outcome) Terminal() bool {
	return o != Continue
}
