package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mkd-neo4j/neo4j-mule-detection/internal/domain"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/feature"
	"github.com/mkd-neo4j/neo4j-mule-detection/internal/service"
)

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger *slog.Logger
	query  *service.QueryService
	batch  *service.BatchService
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, query *service.QueryService, batch *service.BatchService) *APIHandlers {
	return &APIHandlers{
		logger: logger,
		query:  query,
		batch:  batch,
	}
}

func (h *APIHandlers) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	var payload evaluateRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.SourceAccount == "" {
		writeError(w, http.StatusBadRequest, "sourceAccount is required")
		return
	}
	if payload.TargetAccount == "" {
		writeError(w, http.StatusBadRequest, "targetAccount is required")
		return
	}

	evaluation, err := h.query.EvaluateTransaction(r.Context(), payload.SourceAccount, payload.TargetAccount)
	if err != nil {
		h.logger.Error("failed to evaluate transaction",
			"error", err,
			"sourceAccount", payload.SourceAccount,
			"targetAccount", payload.TargetAccount,
		)
		writeError(w, http.StatusInternalServerError, "failed to evaluate transaction")
		return
	}

	respondJSON(w, http.StatusOK, evaluationResponseFrom(evaluation))
}

func (h *APIHandlers) handleAccountFeatures(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/accounts/")
	rest = strings.Trim(rest, "/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[1] != "features" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	accountNumber := parts[0]
	if accountNumber == "" {
		writeError(w, http.StatusBadRequest, "account number is required")
		return
	}

	record, generation, err := h.query.AccountFeatures(accountNumber)
	if err != nil {
		var unknown *feature.UnknownAccountError
		if errors.As(err, &unknown) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		h.logger.Error("failed to fetch account features", "error", err, "accountNumber", accountNumber)
		writeError(w, http.StatusInternalServerError, "failed to fetch account features")
		return
	}

	respondJSON(w, http.StatusOK, accountFeaturesResponse{
		AccountNumber: accountNumber,
		Features:      featuresFromRecord(record),
		Generation:    generation,
	})
}

func (h *APIHandlers) handleCommunities(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	summaries, generation := h.query.CommunitySummaries()
	response := communitiesResponse{
		Communities: []communitySummaryResponse{},
		Generation:  generation,
	}
	for _, s := range summaries {
		response.Communities = append(response.Communities, communitySummaryResponse{
			CommunityID:   s.CommunityID,
			CommunitySize: s.CommunitySize,
			MuleCount:     s.MuleCount,
			MuleDensity:   s.MuleDensity,
		})
	}

	respondJSON(w, http.StatusOK, response)
}

func (h *APIHandlers) handleBatchRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, http.MethodPost)
		return
	}

	result, err := h.batch.Run(r.Context())
	switch {
	case errors.Is(err, service.ErrBatchInFlight):
		writeError(w, http.StatusConflict, "a batch run is already in progress")
		return
	case errors.Is(err, service.ErrConcurrentMutation):
		writeError(w, http.StatusConflict, "graph changed during the run, no snapshot was published")
		return
	case err != nil:
		h.logger.Error("batch run failed", "error", err)
		writeError(w, http.StatusInternalServerError, "batch run failed")
		return
	}

	respondJSON(w, http.StatusOK, batchResultResponseFrom(result))
}

func (h *APIHandlers) handleBatchStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, http.MethodGet)
		return
	}

	status := h.batch.Status()
	response := batchStatusResponse{
		Running:   status.Running,
		LastRunAt: formatTime(status.LastRunAt),
		LastError: status.LastError,
	}
	if status.LastResult != nil {
		result := batchResultResponseFrom(status.LastResult)
		response.LastResult = &result
	}

	respondJSON(w, http.StatusOK, response)
}

// --- Request / response payloads ---

type evaluateRequest struct {
	SourceAccount string `json:"sourceAccount"`
	TargetAccount string `json:"targetAccount"`
}

type featuresResponse struct {
	CommunityID          *int64   `json:"communityId"`
	CommunitySize        *int     `json:"communitySize"`
	MuleCount            *int     `json:"muleCount"`
	MuleDensity          *float64 `json:"muleDensity"`
	DistanceToMule       *int     `json:"distanceToMule"`
	NearestMule          *string  `json:"nearestMule"`
	TiedMules            []string `json:"tiedMules"`
	PathNodes            []string `json:"pathNodes"`
	UniqueCounterparties *int     `json:"uniqueCounterparties"`
	TotalTransactions    *int     `json:"totalTransactions"`
	DiversityRatio       *float64 `json:"diversityRatio"`
	TopCounterpartyShare *float64 `json:"topCounterpartyShare"`
}

type accountFeaturesResponse struct {
	AccountNumber string           `json:"accountNumber"`
	Features      featuresResponse `json:"features"`
	Generation    uint64           `json:"generation"`
}

type accountAssessmentResponse struct {
	AccountNumber string           `json:"accountNumber"`
	Found         bool             `json:"found"`
	Features      featuresResponse `json:"features"`
}

type riskSignalResponse struct {
	Level   string `json:"level"`
	Account string `json:"account"`
	Reason  string `json:"reason"`
}

type evaluationResponse struct {
	SourceAccount accountAssessmentResponse `json:"sourceAccount"`
	TargetAccount accountAssessmentResponse `json:"targetAccount"`
	RiskLevel     string                    `json:"riskLevel"`
	Signals       []riskSignalResponse      `json:"signals"`
	Generation    uint64                    `json:"generation"`
}

type communitySummaryResponse struct {
	CommunityID   int64   `json:"communityId"`
	CommunitySize int     `json:"communitySize"`
	MuleCount     int     `json:"muleCount"`
	MuleDensity   float64 `json:"muleDensity"`
}

type communitiesResponse struct {
	Communities []communitySummaryResponse `json:"communities"`
	Generation  uint64                     `json:"generation"`
}

type batchResultResponse struct {
	Generation  uint64  `json:"generation"`
	Accounts    int     `json:"accounts"`
	Edges       int     `json:"edges"`
	MuleCount   int     `json:"muleCount"`
	Communities int     `json:"communities"`
	Levels      int     `json:"levels"`
	Modularity  float64 `json:"modularity"`
	Converged   bool    `json:"converged"`
	Checksum    string  `json:"checksum"`
	StartedAt   string  `json:"startedAt"`
	FinishedAt  string  `json:"finishedAt"`
	DurationMs  int64   `json:"durationMs"`
}

type batchStatusResponse struct {
	Running    bool                 `json:"running"`
	LastRunAt  string               `json:"lastRunAt"`
	LastError  string               `json:"lastError"`
	LastResult *batchResultResponse `json:"lastResult"`
}

// --- Helpers ---

func featuresFromRecord(record domain.FeatureRecord) featuresResponse {
	return featuresResponse{
		CommunityID:          record.Community.CommunityID,
		CommunitySize:        record.Community.CommunitySize,
		MuleCount:            record.Community.MuleCount,
		MuleDensity:          record.Community.MuleDensity,
		DistanceToMule:       record.Proximity.DistanceToMule,
		NearestMule:          record.Proximity.NearestMuleID,
		TiedMules:            record.Proximity.TiedMules,
		PathNodes:            record.Proximity.PathNodes,
		UniqueCounterparties: record.Diversity.UniqueCounterparties,
		TotalTransactions:    record.Diversity.TotalTransactions,
		DiversityRatio:       record.Diversity.DiversityRatio,
		TopCounterpartyShare: record.Diversity.TopCounterpartyShare,
	}
}

func assessmentResponseFrom(a domain.AccountAssessment) accountAssessmentResponse {
	return accountAssessmentResponse{
		AccountNumber: a.AccountNumber,
		Found:         a.Found,
		Features: featuresFromRecord(domain.FeatureRecord{
			Community: a.Community,
			Proximity: a.Proximity,
			Diversity: a.Diversity,
		}),
	}
}

func evaluationResponseFrom(evaluation *domain.TransactionEvaluation) evaluationResponse {
	response := evaluationResponse{
		SourceAccount: assessmentResponseFrom(evaluation.Source),
		TargetAccount: assessmentResponseFrom(evaluation.Target),
		RiskLevel:     string(evaluation.RiskLevel),
		Signals:       []riskSignalResponse{},
		Generation:    evaluation.Generation,
	}
	for _, s := range evaluation.Signals {
		response.Signals = append(response.Signals, riskSignalResponse{
			Level:   string(s.Level),
			Account: s.Account,
			Reason:  s.Reason,
		})
	}
	return response
}

func batchResultResponseFrom(result *service.BatchResult) batchResultResponse {
	return batchResultResponse{
		Generation:  result.Generation,
		Accounts:    result.Accounts,
		Edges:       result.Edges,
		MuleCount:   result.MuleCount,
		Communities: result.Communities,
		Levels:      result.Levels,
		Modularity:  result.Modularity,
		Converged:   result.Converged,
		Checksum:    result.Checksum,
		StartedAt:   formatTime(result.StartedAt),
		FinishedAt:  formatTime(result.FinishedAt),
		DurationMs:  result.Duration().Milliseconds(),
	}
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
	})
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}
