package domain

// RiskLevel grades an evaluation outcome.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// Exceeds reports whether the level outranks the other.
func (r RiskLevel) Exceeds(other RiskLevel) bool {
	return riskRank(r) > riskRank(other)
}

func riskRank(r RiskLevel) int {
	switch r {
	case RiskHigh:
		return 3
	case RiskMedium:
		return 2
	case RiskLow:
		return 1
	default:
		return 0
	}
}

// RiskSignal is one triggered rule within an evaluation.
type RiskSignal struct {
	Level   RiskLevel
	Account string
	Reason  string
}

// AccountAssessment is one party's feature view inside an evaluation.
// Found is false when the account is absent from the current snapshot,
// which is not an error; community and proximity fields are then unset,
// while diversity may still be filled by an on-demand recomputation.
type AccountAssessment struct {
	AccountNumber string
	Found         bool
	Community     CommunityFeatures
	Proximity     ProximityFeatures
	Diversity     DiversityFeatures
}

// TransactionEvaluation is the composite screening response for a
// source/target account pair.
type TransactionEvaluation struct {
	Source     AccountAssessment
	Target     AccountAssessment
	RiskLevel  RiskLevel
	Signals    []RiskSignal
	Generation uint64
}
