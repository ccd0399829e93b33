package generator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/domain"
)

// File names used by WriteDataset and ReadDataset.
const (
	AccountsFile     = "accounts.json"
	TransactionsFile = "transactions.json"
)

type accountRecord struct {
	AccountNumber string   `json:"accountNumber"`
	Labels        []string `json:"labels"`
}

type transactionRecord struct {
	TransactionID string    `json:"transactionId"`
	PerformerID   string    `json:"performerId"`
	BeneficiaryID string    `json:"beneficiaryId"`
	Amount        float64   `json:"amount"`
	Timestamp     time.Time `json:"timestamp"`
}

// WriteDataset serializes the dataset into accounts.json and transactions.json
// under the provided directory.
func WriteDataset(dataset Dataset, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	accounts := make([]accountRecord, len(dataset.Accounts))
	for i, acc := range dataset.Accounts {
		labels := make([]string, len(acc.Labels))
		for j, label := range acc.Labels {
			labels[j] = string(label)
		}
		accounts[i] = accountRecord{AccountNumber: acc.AccountNumber, Labels: labels}
	}
	if err := writeJSON(filepath.Join(dir, AccountsFile), accounts); err != nil {
		return err
	}

	transactions := make([]transactionRecord, len(dataset.Transactions))
	for i, tx := range dataset.Transactions {
		transactions[i] = transactionRecord{
			TransactionID: tx.TransactionID,
			PerformerID:   tx.Performer,
			BeneficiaryID: tx.Beneficiary,
			Amount:        tx.Amount,
			Timestamp:     tx.Timestamp,
		}
	}
	return writeJSON(filepath.Join(dir, TransactionsFile), transactions)
}

// ReadDataset loads a dataset previously written by WriteDataset.
func ReadDataset(dir string) (Dataset, error) {
	var accounts []accountRecord
	if err := readJSON(filepath.Join(dir, AccountsFile), &accounts); err != nil {
		return Dataset{}, err
	}
	var transactions []transactionRecord
	if err := readJSON(filepath.Join(dir, TransactionsFile), &transactions); err != nil {
		return Dataset{}, err
	}

	dataset := Dataset{
		Accounts:     make([]domain.Account, len(accounts)),
		Transactions: make([]domain.TransactionEdge, len(transactions)),
	}
	for i, rec := range accounts {
		labels := make([]domain.Label, len(rec.Labels))
		for j, label := range rec.Labels {
			labels[j] = domain.Label(label)
		}
		dataset.Accounts[i] = domain.Account{AccountNumber: rec.AccountNumber, Labels: labels}
	}
	for i, rec := range transactions {
		dataset.Transactions[i] = domain.TransactionEdge{
			TransactionID: rec.TransactionID,
			Performer:     rec.PerformerID,
			Beneficiary:   rec.BeneficiaryID,
			Amount:        rec.Amount,
			Timestamp:     rec.Timestamp,
		}
	}
	return dataset, nil
}

func writeJSON(path string, data any) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(data); err != nil {
		return fmt.Errorf("encode json for %s: %w", path, err)
	}
	return nil
}

func readJSON(path string, target any) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(target); err != nil {
		return fmt.Errorf("decode json from %s: %w", path, err)
	}
	return nil
}
