package domain

// CommunityFeatures carries the community-derived fields of an account.
type CommunityFeatures struct {
	CommunityID   *int64
	CommunitySize *int
	MuleCount     *int
	MuleDensity   *float64
}

// ProximityFeatures carries the mule-distance fields of an account. A nil
// DistanceToMule means no confirmed mule is reachable within the search
// depth. TiedMules and PathNodes are diagnostics: all mules at the minimal
// distance, and one representative path ending at NearestMuleID.
type ProximityFeatures struct {
	DistanceToMule *int
	NearestMuleID  *string
	TiedMules      []string
	PathNodes      []string
}

// DiversityFeatures carries the counterparty-concentration fields of an
// account. Ratios are zero when the account has no qualifying transactions.
type DiversityFeatures struct {
	UniqueCounterparties *int
	TotalTransactions    *int
	DiversityRatio       *float64
	TopCounterpartyShare *float64
}

// FeatureRecord aggregates every computed feature field for one account.
// All fields are unset until the corresponding computation has run.
type FeatureRecord struct {
	AccountNumber string
	Community     CommunityFeatures
	Proximity     ProximityFeatures
	Diversity     DiversityFeatures
}

// CommunitySummary is the per-community aggregate reported by a batch run.
type CommunitySummary struct {
	CommunityID   int64
	CommunitySize int
	MuleCount     int
	MuleDensity   float64
}
