package generator

// Config drives the synthetic transaction graph generator.
type Config struct {
	NumCustomers    int
	NumMules        int
	NumTransactions int
	RingSize        int
	FanInSpokes     int
	FanOutSpokes    int
	ExternalChance  float64
	HighRiskChance  float64
	FlaggedChance   float64
	Seed            int64
}

// DefaultConfig returns baseline settings producing a graph with visible
// mule rings against realistic background traffic.
func DefaultConfig() Config {
	return Config{
		NumCustomers:    2000,
		NumMules:        40,
		NumTransactions: 20000,
		RingSize:        5,
		FanInSpokes:     8,
		FanOutSpokes:    6,
		ExternalChance:  0.2,
		HighRiskChance:  0.05,
		FlaggedChance:   0.02,
		Seed:            42,
	}
}
