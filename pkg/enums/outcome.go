package enums

// Outcome is the terminal result of applying one event. Every outcome means the
// message is consumed; none of them asks the transport for redelivery.
type Outcome string

const (
	OutcomeApplied            Outcome = "applied"
	OutcomeDuplicateSkipped   Outcome = "duplicate_skipped"
	OutcomeValidationRejected Outcome = "validation_rejected"
	OutcomePolicyRejected     Outcome = "policy_rejected"
)

var validOutcomes = []Outcome{
	OutcomeApplied,
	OutcomeDuplicateSkipped,
	OutcomeValidationRejected,
	OutcomePolicyRejected,
}

// String implements fmt.Stringer.
func (o Outcome) String() string {
	return string(o)
}

// IsValid reports whether the value is a known Outcome.
func (o Outcome) IsValid() bool {
	for _, candidate := range validOutcomes {
		if candidate == o {
			return true
		}
	}
	return false
}
