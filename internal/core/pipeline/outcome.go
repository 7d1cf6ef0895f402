package pipeline

// Outcome is the tri-state result of an idempotent remote mutation, such as
// stopping a container that may not exist. Absence of the target is success
// for these operations, but it is reported distinctly so logs show what
// actually happened on the host.
type Outcome int

const (
	// OutcomeApplied means the mutation ran and changed the host.
	OutcomeApplied Outcome = iota

	// OutcomeNotFound means the target was already absent; nothing to do.
	OutcomeNotFound

	// OutcomeFailed means the mutation ran and failed for a reason other
	// than absence of the target.
	OutcomeFailed
)

// String returns a log-friendly name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeApplied:
		return "applied"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// OK reports whether the outcome counts as success.
func (o Outcome) OK() bool {
	return o == OutcomeApplied || o == OutcomeNotFound
}
