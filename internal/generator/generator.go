package generator

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/domain"
)

// Dataset contains the generated accounts and transactions.
type Dataset struct {
	Accounts     []domain.Account
	Transactions []domain.TransactionEdge
}

// Generator produces a synthetic transaction graph with planted mule
// activity: rings passing money between confirmed mules, fan-in from
// customers into mules, and occasional fan-out dispersal, all buried in
// random background traffic.
type Generator struct {
	cfg  Config
	rand *rand.Rand
	seq  int
}

// New returns a configured Generator instance.
func New(cfg Config) *Generator {
	if cfg.NumCustomers <= 0 {
		cfg.NumCustomers = DefaultConfig().NumCustomers
	}
	if cfg.NumMules <= 0 {
		cfg.NumMules = DefaultConfig().NumMules
	}
	if cfg.NumTransactions <= 0 {
		cfg.NumTransactions = DefaultConfig().NumTransactions
	}
	if cfg.RingSize <= 0 {
		cfg.RingSize = DefaultConfig().RingSize
	}
	if cfg.FanInSpokes <= 0 {
		cfg.FanInSpokes = DefaultConfig().FanInSpokes
	}
	if cfg.FanOutSpokes <= 0 {
		cfg.FanOutSpokes = DefaultConfig().FanOutSpokes
	}
	if cfg.ExternalChance <= 0 {
		cfg.ExternalChance = DefaultConfig().ExternalChance
	}
	if cfg.HighRiskChance <= 0 {
		cfg.HighRiskChance = DefaultConfig().HighRiskChance
	}
	if cfg.FlaggedChance <= 0 {
		cfg.FlaggedChance = DefaultConfig().FlaggedChance
	}
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}

	return &Generator{
		cfg:  cfg,
		rand: rand.New(rand.NewSource(cfg.Seed)),
	}
}

// Generate synthesises accounts and transactions. It respects context
// cancellation. NumTransactions is a total budget: the planted mule
// patterns are emitted first and background traffic fills the remainder.
func (g *Generator) Generate(ctx context.Context) (Dataset, error) {
	now := time.Now().UTC()

	customers := make([]string, g.cfg.NumCustomers)
	accounts := make([]domain.Account, 0, g.cfg.NumCustomers+g.cfg.NumMules)
	for i := 0; i < g.cfg.NumCustomers; i++ {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		number := fmt.Sprintf("ACC_CUST_%06d", i+1)
		customers[i] = number
		accounts = append(accounts, domain.Account{
			AccountNumber: number,
			Labels:        g.customerLabels(),
		})
	}

	mules := make([]string, g.cfg.NumMules)
	for i := 0; i < g.cfg.NumMules; i++ {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		number := fmt.Sprintf("ACC_MULE_%04d", i+1)
		mules[i] = number
		accounts = append(accounts, domain.Account{
			AccountNumber: number,
			Labels:        []domain.Label{domain.LabelInternal, domain.LabelConfirmedMule},
		})
	}

	transactions := make([]domain.TransactionEdge, 0, g.cfg.NumTransactions)

	// Rings: consecutive mules pass a single sum around a cycle, each hop
	// skimming a few percent.
	for start := 0; start < len(mules); start += g.cfg.RingSize {
		end := start + g.cfg.RingSize
		if end > len(mules) {
			end = len(mules)
		}
		ring := mules[start:end]
		if len(ring) < 2 {
			continue
		}
		amount := g.amount(2000, 9000)
		for i := range ring {
			if err := ctx.Err(); err != nil {
				return Dataset{}, err
			}
			next := ring[(i+1)%len(ring)]
			transactions = append(transactions, g.transaction(ring[i], next, amount, now))
			amount = math.Round(amount*(0.95+g.rand.Float64()*0.04)*100) / 100
		}
	}

	// Fan-in: unwitting customers feed each mule.
	for _, mule := range mules {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		for s := 0; s < g.cfg.FanInSpokes; s++ {
			spoke := customers[g.rand.Intn(len(customers))]
			transactions = append(transactions, g.transaction(spoke, mule, g.amount(100, 900), now))
		}
	}

	// Fan-out: roughly half the mules disperse collected funds onward.
	for _, mule := range mules {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		if g.rand.Float64() >= 0.5 {
			continue
		}
		for s := 0; s < g.cfg.FanOutSpokes; s++ {
			target := customers[g.rand.Intn(len(customers))]
			transactions = append(transactions, g.transaction(mule, target, g.amount(150, 1200), now))
		}
	}

	// Background traffic between customers fills the remaining budget.
	for len(transactions) < g.cfg.NumTransactions {
		if err := ctx.Err(); err != nil {
			return Dataset{}, err
		}
		senderIdx := g.rand.Intn(len(customers))
		receiverIdx := g.rand.Intn(len(customers))
		if senderIdx == receiverIdx {
			receiverIdx = (receiverIdx + 1) % len(customers)
		}
		transactions = append(transactions, g.transaction(customers[senderIdx], customers[receiverIdx], g.amount(10, 2500), now))
	}

	return Dataset{Accounts: accounts, Transactions: transactions}, nil
}

func (g *Generator) customerLabels() []domain.Label {
	labels := []domain.Label{domain.LabelInternal}
	if g.rand.Float64() < g.cfg.ExternalChance {
		labels = []domain.Label{domain.LabelExternal}
	}
	if g.rand.Float64() < g.cfg.HighRiskChance {
		labels = append(labels, domain.LabelHighRiskJurisdiction)
	}
	if g.rand.Float64() < g.cfg.FlaggedChance {
		labels = append(labels, domain.LabelFlagged)
	}
	return labels
}

func (g *Generator) transaction(performer, beneficiary string, amount float64, now time.Time) domain.TransactionEdge {
	g.seq++
	return domain.TransactionEdge{
		TransactionID: fmt.Sprintf("TXN_%08d", g.seq),
		Performer:     performer,
		Beneficiary:   beneficiary,
		Amount:        amount,
		Timestamp:     now.Add(-time.Duration(g.rand.Intn(30*24*60)) * time.Minute),
	}
}

func (g *Generator) amount(min, max float64) float64 {
	v := min + g.rand.Float64()*(max-min)
	return math.Round(v*100) / 100
}
