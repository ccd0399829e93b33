package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/domain"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/graph"
)

const defaultBatchSize = 5000

// Repository encapsulates all graph persistence operations of the feature
// pipeline: snapshot loads, feature write-back and dataset seeding.
type Repository struct {
	client    graph.Client
	batchSize int
}

// New instantiates a Repository backed by the supplied graph client.
func New(client graph.Client) *Repository {
	return &Repository{client: client, batchSize: defaultBatchSize}
}

// WithBatchSize overrides the page size used by the snapshot loaders and
// the row count per write batch.
func (r *Repository) WithBatchSize(n int) *Repository {
	if n > 0 {
		r.batchSize = n
	}
	return r
}

// LoadAccounts streams every account node in accountNumber order. Pages are
// fetched with SKIP/LIMIT over a stable sort key, so a rerun observes the
// same sequence as long as the graph itself does not change.
func (r *Repository) LoadAccounts(ctx context.Context) ([]domain.Account, error) {
	var accounts []domain.Account
	for skip := 0; ; skip += r.batchSize {
		res, err := r.client.ExecuteRead(ctx, loadAccountsCypher, map[string]any{
			"skip":  skip,
			"limit": r.batchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("load accounts from offset %d: %w", skip, err)
		}

		for _, record := range res.Records {
			accounts = append(accounts, domain.Account{
				AccountNumber: toString(record["accountNumber"]),
				Labels:        toDomainLabels(record["labels"]),
			})
		}

		if len(res.Records) < r.batchSize {
			return accounts, nil
		}
	}
}

// LoadTransactionEdges streams every transaction as a directed
// performer/beneficiary edge, ordered by transaction id.
func (r *Repository) LoadTransactionEdges(ctx context.Context) ([]domain.TransactionEdge, error) {
	var edges []domain.TransactionEdge
	for skip := 0; ; skip += r.batchSize {
		res, err := r.client.ExecuteRead(ctx, loadTransactionEdgesCypher, map[string]any{
			"skip":  skip,
			"limit": r.batchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("load transaction edges from offset %d: %w", skip, err)
		}

		for _, record := range res.Records {
			edges = append(edges, edgeFromRecord(record))
		}

		if len(res.Records) < r.batchSize {
			return edges, nil
		}
	}
}

// LoadAccountTransactionEdges returns the transactions performed or
// received by one account. Self transfers are returned once.
func (r *Repository) LoadAccountTransactionEdges(ctx context.Context, accountNumber string) ([]domain.TransactionEdge, error) {
	if accountNumber == "" {
		return nil, errors.New("account number is required")
	}

	res, err := r.client.ExecuteRead(ctx, accountTransactionEdgesCypher, map[string]any{
		"accountNumber": accountNumber,
	})
	if err != nil {
		return nil, fmt.Errorf("load edges for account %s: %w", accountNumber, err)
	}

	edges := make([]domain.TransactionEdge, 0, len(res.Records))
	for _, record := range res.Records {
		edges = append(edges, edgeFromRecord(record))
	}
	return edges, nil
}

// CommitFeatureSnapshot writes the computed feature fields back onto the
// account nodes in batches. A nil feature field clears the corresponding
// node property.
func (r *Repository) CommitFeatureSnapshot(ctx context.Context, records []domain.FeatureRecord) error {
	updatedAt := formatTime(time.Now().UTC())
	for start := 0; start < len(records); start += r.batchSize {
		end := start + r.batchSize
		if end > len(records) {
			end = len(records)
		}

		rows := make([]map[string]any, 0, end-start)
		for _, rec := range records[start:end] {
			rows = append(rows, featureRow(rec))
		}

		_, err := r.client.ExecuteWrite(ctx, commitFeaturesCypher, map[string]any{
			"rows":      rows,
			"updatedAt": updatedAt,
		})
		if err != nil {
			return fmt.Errorf("commit feature batch at offset %d: %w", start, err)
		}
	}
	return nil
}

// UpsertAccounts merges account nodes and applies their classification
// labels. Used by the bulk loader.
func (r *Repository) UpsertAccounts(ctx context.Context, accounts []domain.Account) error {
	for start := 0; start < len(accounts); start += r.batchSize {
		end := start + r.batchSize
		if end > len(accounts) {
			end = len(accounts)
		}

		rows := make([]map[string]any, 0, end-start)
		for _, a := range accounts[start:end] {
			if a.AccountNumber == "" {
				return errors.New("account number is required")
			}
			rows = append(rows, accountRow(a))
		}

		_, err := r.client.ExecuteWrite(ctx, upsertAccountsCypher, map[string]any{"rows": rows})
		if err != nil {
			return fmt.Errorf("upsert account batch at offset %d: %w", start, err)
		}
	}
	return nil
}

// InsertTransactions merges transaction nodes together with their PERFORMS
// and BENEFITS_TO relationships. Both endpoint accounts must already exist.
func (r *Repository) InsertTransactions(ctx context.Context, edges []domain.TransactionEdge) error {
	for start := 0; start < len(edges); start += r.batchSize {
		end := start + r.batchSize
		if end > len(edges) {
			end = len(edges)
		}

		rows := make([]map[string]any, 0, end-start)
		for _, e := range edges[start:end] {
			if e.TransactionID == "" {
				return errors.New("transaction id is required")
			}
			if e.Performer == "" || e.Beneficiary == "" {
				return fmt.Errorf("transaction %s: both performer and beneficiary are required", e.TransactionID)
			}
			rows = append(rows, map[string]any{
				"transactionId": e.TransactionID,
				"performer":     e.Performer,
				"beneficiary":   e.Beneficiary,
				"amount":        e.Amount,
				"timestamp":     formatTime(e.Timestamp),
			})
		}

		_, err := r.client.ExecuteWrite(ctx, insertTransactionsCypher, map[string]any{"rows": rows})
		if err != nil {
			return fmt.Errorf("insert transaction batch at offset %d: %w", start, err)
		}
	}
	return nil
}

// EnsureConstraints creates the uniqueness constraints the loaders and
// seeding queries rely on.
func (r *Repository) EnsureConstraints(ctx context.Context) error {
	for _, stmt := range constraintStatements {
		if _, err := r.client.ExecuteWrite(ctx, stmt, nil); err != nil {
			return fmt.Errorf("ensure constraint: %w", err)
		}
	}
	return nil
}

func edgeFromRecord(record graph.Record) domain.TransactionEdge {
	e := domain.TransactionEdge{
		TransactionID: toString(record["transactionId"]),
		Performer:     toString(record["performer"]),
		Beneficiary:   toString(record["beneficiary"]),
		Amount:        toFloat64(record["amount"]),
	}
	if ts := toTimePtr(record["timestamp"]); ts != nil {
		e.Timestamp = *ts
	}
	return e
}

func featureRow(rec domain.FeatureRecord) map[string]any {
	return map[string]any{
		"accountNumber":        rec.AccountNumber,
		"communityId":          int64PtrValue(rec.Community.CommunityID),
		"communitySize":        intPtrValue(rec.Community.CommunitySize),
		"muleCount":            intPtrValue(rec.Community.MuleCount),
		"muleDensity":          floatPtrValue(rec.Community.MuleDensity),
		"distanceToMule":       intPtrValue(rec.Proximity.DistanceToMule),
		"nearestMule":          stringPtrValue(rec.Proximity.NearestMuleID),
		"uniqueCounterparties": intPtrValue(rec.Diversity.UniqueCounterparties),
		"totalTransactions":    intPtrValue(rec.Diversity.TotalTransactions),
		"diversityRatio":       floatPtrValue(rec.Diversity.DiversityRatio),
		"topCounterpartyShare": floatPtrValue(rec.Diversity.TopCounterpartyShare),
	}
}

func accountRow(a domain.Account) map[string]any {
	return map[string]any{
		"accountNumber": a.AccountNumber,
		"isMule":        a.IsConfirmedMule(),
		"isInternal":    a.HasLabel(domain.LabelInternal),
		"isExternal":    a.HasLabel(domain.LabelExternal),
		"isHighRisk":    a.HasLabel(domain.LabelHighRiskJurisdiction),
		"isFlagged":     a.HasLabel(domain.LabelFlagged),
	}
}

// nodeLabelMapping relates Neo4j node labels to domain labels. The Account
// label itself is structural and carries no classification.
var nodeLabelMapping = map[string]domain.Label{
	"Mule":                 domain.LabelConfirmedMule,
	"Internal":             domain.LabelInternal,
	"External":             domain.LabelExternal,
	"HighRiskJurisdiction": domain.LabelHighRiskJurisdiction,
	"Flagged":              domain.LabelFlagged,
}

func toDomainLabels(val any) []domain.Label {
	raw, ok := val.([]any)
	if !ok {
		return nil
	}
	var labels []domain.Label
	for _, v := range raw {
		if mapped, ok := nodeLabelMapping[toString(v)]; ok {
			labels = append(labels, mapped)
		}
	}
	return labels
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func toFloat64(val any) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int64:
		return float64(v)
	case int:
		return float64(v)
	default:
		return 0
	}
}

func toTimePtr(val any) *time.Time {
	switch v := val.(type) {
	case time.Time:
		return &v
	case string:
		if v == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return &parsed
		}
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			return &parsed
		}
	}
	return nil
}

func intPtrValue(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func int64PtrValue(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func floatPtrValue(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func stringPtrValue(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

const loadAccountsCypher = `
MATCH (a:Account)
RETURN a.accountNumber AS accountNumber,
       labels(a) AS labels
ORDER BY a.accountNumber
SKIP $skip LIMIT $limit
`

const loadTransactionEdgesCypher = `
MATCH (p:Account)-[:PERFORMS]->(t:Transaction)-[:BENEFITS_TO]->(b:Account)
RETURN t.transactionId AS transactionId,
       p.accountNumber AS performer,
       b.accountNumber AS beneficiary,
       t.amount AS amount,
       t.timestamp AS timestamp
ORDER BY t.transactionId
SKIP $skip LIMIT $limit
`

const accountTransactionEdgesCypher = `
MATCH (p:Account {accountNumber: $accountNumber})-[:PERFORMS]->(t:Transaction)-[:BENEFITS_TO]->(b:Account)
RETURN t.transactionId AS transactionId,
       p.accountNumber AS performer,
       b.accountNumber AS beneficiary,
       t.amount AS amount,
       t.timestamp AS timestamp
UNION ALL
MATCH (p:Account)-[:PERFORMS]->(t:Transaction)-[:BENEFITS_TO]->(b:Account {accountNumber: $accountNumber})
WHERE p.accountNumber <> $accountNumber
RETURN t.transactionId AS transactionId,
       p.accountNumber AS performer,
       b.accountNumber AS beneficiary,
       t.amount AS amount,
       t.timestamp AS timestamp
`

const commitFeaturesCypher = `
UNWIND $rows AS row
MATCH (a:Account {accountNumber: row.accountNumber})
SET a.communityId = row.communityId,
    a.communitySize = row.communitySize,
    a.muleCount = row.muleCount,
    a.muleDensity = row.muleDensity,
    a.distanceToMule = row.distanceToMule,
    a.nearestMule = row.nearestMule,
    a.uniqueCounterparties = row.uniqueCounterparties,
    a.totalTransactions = row.totalTransactions,
    a.diversityRatio = row.diversityRatio,
    a.topCounterpartyShare = row.topCounterpartyShare,
    a.featuresUpdatedAt = datetime($updatedAt)
RETURN count(a) AS updated
`

const upsertAccountsCypher = `
UNWIND $rows AS row
MERGE (a:Account {accountNumber: row.accountNumber})
FOREACH (_ IN CASE WHEN row.isMule THEN [1] ELSE [] END | SET a:Mule)
FOREACH (_ IN CASE WHEN row.isInternal THEN [1] ELSE [] END | SET a:Internal)
FOREACH (_ IN CASE WHEN row.isExternal THEN [1] ELSE [] END | SET a:External)
FOREACH (_ IN CASE WHEN row.isHighRisk THEN [1] ELSE [] END | SET a:HighRiskJurisdiction)
FOREACH (_ IN CASE WHEN row.isFlagged THEN [1] ELSE [] END | SET a:Flagged)
RETURN count(a) AS upserted
`

const insertTransactionsCypher = `
UNWIND $rows AS row
MATCH (p:Account {accountNumber: row.performer})
MATCH (b:Account {accountNumber: row.beneficiary})
MERGE (t:Transaction {transactionId: row.transactionId})
SET t.amount = row.amount,
    t.timestamp = datetime(row.timestamp)
MERGE (p)-[:PERFORMS]->(t)
MERGE (t)-[:BENEFITS_TO]->(b)
RETURN count(t) AS merged
`

var constraintStatements = []string{
	`CREATE CONSTRAINT account_number_unique IF NOT EXISTS FOR (a:Account) REQUIRE a.accountNumber IS UNIQUE`,
	`CREATE CONSTRAINT transaction_id_unique IF NOT EXISTS FOR (t:Transaction) REQUIRE t.transactionId IS UNIQUE`,
}
