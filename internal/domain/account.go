package domain

import "time"

// Label classifies an account node in the transaction graph.
type Label string

// Labels recognised by the feature engine. An account may carry several.
const (
	LabelInternal             Label = "internal"
	LabelExternal             Label = "external"
	LabelHighRiskJurisdiction Label = "high-risk-jurisdiction"
	LabelFlagged              Label = "flagged"
	LabelConfirmedMule        Label = "confirmed-mule"
)

// Account is the canonical account node as loaded from the graph store.
type Account struct {
	AccountNumber string
	Labels        []Label
}

// HasLabel reports whether the account carries the given label.
func (a Account) HasLabel(label Label) bool {
	for _, l := range a.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// IsConfirmedMule reports whether the account is a confirmed mule.
func (a Account) IsConfirmedMule() bool {
	return a.HasLabel(LabelConfirmedMule)
}

// TransactionEdge is a directed transfer from a performer account to a
// beneficiary account. Multiple edges may exist between the same pair.
type TransactionEdge struct {
	TransactionID string
	Performer     string
	Beneficiary   string
	Amount        float64
	Timestamp     time.Time
}
