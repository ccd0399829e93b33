package feature

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/domain"
)

// UnknownAccountError reports a feature lookup for an account absent from
// the live snapshot. Callers treat it as "no features yet", not a failure.
type UnknownAccountError struct {
	AccountNumber string
}

func (e *UnknownAccountError) Error() string {
	return fmt.Sprintf("account %s not present in feature snapshot", e.AccountNumber)
}

// Snapshot is one immutable, fully assembled feature set produced by a
// batch run. Generation is assigned by the Store when the snapshot is
// published; until then it is zero.
type Snapshot struct {
	Generation uint64
	CreatedAt  time.Time
	Checksum   string
	Summaries  []domain.CommunitySummary

	records  map[string]domain.FeatureRecord
	accounts []string
}

// NewSnapshot assembles a snapshot from the given records. Records are
// indexed by account number; the checksum is derived from a canonical
// encoding, so two snapshots built from equal records always carry equal
// checksums regardless of input order.
func NewSnapshot(records []domain.FeatureRecord, summaries []domain.CommunitySummary) *Snapshot {
	sorted := make([]domain.FeatureRecord, len(records))
	copy(sorted, records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].AccountNumber < sorted[j].AccountNumber })

	indexed := make(map[string]domain.FeatureRecord, len(sorted))
	accounts := make([]string, len(sorted))
	for i, r := range sorted {
		indexed[r.AccountNumber] = r
		accounts[i] = r.AccountNumber
	}

	return &Snapshot{
		CreatedAt: time.Now().UTC(),
		Checksum:  checksumRecords(sorted),
		Summaries: summaries,
		records:   indexed,
		accounts:  accounts,
	}
}

// Record returns the feature record for the given account number.
func (s *Snapshot) Record(accountNumber string) (domain.FeatureRecord, bool) {
	r, ok := s.records[accountNumber]
	return r, ok
}

// Accounts returns the account numbers covered by the snapshot in
// ascending order. The returned slice must not be modified.
func (s *Snapshot) Accounts() []string {
	return s.accounts
}

// Len returns the number of accounts covered by the snapshot.
func (s *Snapshot) Len() int {
	return len(s.accounts)
}

// Records returns the feature records in ascending account order.
func (s *Snapshot) Records() []domain.FeatureRecord {
	out := make([]domain.FeatureRecord, len(s.accounts))
	for i, n := range s.accounts {
		out[i] = s.records[n]
	}
	return out
}

// Store holds the live feature snapshot. Readers always see a complete
// snapshot: publishing swaps the pointer under a write lock and never
// mutates a snapshot already handed out.
type Store struct {
	mu      sync.RWMutex
	current *Snapshot
	nextGen uint64
}

// NewStore returns an empty store. Current returns nil until the first
// snapshot is published.
func NewStore() *Store {
	return &Store{nextGen: 1}
}

// Current returns the live snapshot, or nil when no batch has completed yet.
func (st *Store) Current() *Snapshot {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.current
}

// Publish assigns the next generation to snap and makes it the live
// snapshot. Generations are strictly increasing across the store's
// lifetime, including republications of identical feature sets.
func (st *Store) Publish(snap *Snapshot) uint64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	snap.Generation = st.nextGen
	st.nextGen++
	st.current = snap
	return snap.Generation
}

// Lookup returns the live record for the given account number. It returns
// an UnknownAccountError when no snapshot is live or the account is not
// covered by it.
func (st *Store) Lookup(accountNumber string) (domain.FeatureRecord, error) {
	snap := st.Current()
	if snap == nil {
		return domain.FeatureRecord{}, &UnknownAccountError{AccountNumber: accountNumber}
	}
	rec, ok := snap.Record(accountNumber)
	if !ok {
		return domain.FeatureRecord{}, &UnknownAccountError{AccountNumber: accountNumber}
	}
	return rec, nil
}

// checksumRecords hashes a canonical line-per-record encoding of the
// already sorted records.
func checksumRecords(records []domain.FeatureRecord) string {
	h := sha256.New()
	for _, r := range records {
		io.WriteString(h, canonicalRecord(r))
		io.WriteString(h, "\n")
	}
	return hex.EncodeToString(h.Sum(nil))
}

func canonicalRecord(r domain.FeatureRecord) string {
	fields := []string{
		r.AccountNumber,
		formatInt64Ptr(r.Community.CommunityID),
		formatIntPtr(r.Community.CommunitySize),
		formatIntPtr(r.Community.MuleCount),
		formatFloatPtr(r.Community.MuleDensity),
		formatIntPtr(r.Proximity.DistanceToMule),
		formatStringPtr(r.Proximity.NearestMuleID),
		strings.Join(r.Proximity.TiedMules, ","),
		strings.Join(r.Proximity.PathNodes, ","),
		formatIntPtr(r.Diversity.UniqueCounterparties),
		formatIntPtr(r.Diversity.TotalTransactions),
		formatFloatPtr(r.Diversity.DiversityRatio),
		formatFloatPtr(r.Diversity.TopCounterpartyShare),
	}
	return strings.Join(fields, "|")
}

func formatIntPtr(v *int) string {
	if v == nil {
		return "null"
	}
	return strconv.Itoa(*v)
}

func formatInt64Ptr(v *int64) string {
	if v == nil {
		return "null"
	}
	return strconv.FormatInt(*v, 10)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return "null"
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func formatStringPtr(v *string) string {
	if v == nil {
		return "null"
	}
	return *v
}
