package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"knowyourcar/ml"
	"knowyourcar/monitoring"
	"knowyourcar/valuation"
)

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ModelInfo describes the loaded artifact.
type ModelInfo struct {
	ArtifactPath   string                `json:"artifact_path"`
	LoadedAt       time.Time             `json:"loaded_at"`
	SchemaVersion  int                   `json:"schema_version"`
	ReferenceYear  int                   `json:"reference_year"`
	LabelUnit      string                `json:"label_unit"`
	PriceScale     float64               `json:"price_scale"`
	TrainedAt      time.Time             `json:"trained_at"`
	TrainingRows   int                   `json:"training_rows"`
	Metrics        *ml.Metrics           `json:"metrics,omitempty"`
	Features       int                   `json:"features"`
	NumericStats   map[string][3]float64 `json:"numeric_stats"`
	Categories     map[string][]string   `json:"categories"`
	RequiredFields []string              `json:"required_fields"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "ok",
		"schema_version": s.deps.Model.Pipeline().SchemaVersion,
		"loaded_at":      s.deps.Model.LoadedAt(),
	})
}

func (s *Server) handleModel(w http.ResponseWriter, r *http.Request) {
	p := s.deps.Model.Pipeline()
	info := ModelInfo{
		ArtifactPath:   s.deps.Model.Path(),
		LoadedAt:       s.deps.Model.LoadedAt(),
		SchemaVersion:  p.SchemaVersion,
		ReferenceYear:  p.ReferenceYear,
		LabelUnit:      p.LabelUnit,
		PriceScale:     p.PriceScale,
		TrainedAt:      p.TrainedAt,
		TrainingRows:   p.TrainingRows,
		Metrics:        p.Metrics,
		Features:       p.Width(),
		NumericStats:   p.Numeric.FeatureStats(),
		Categories:     make(map[string][]string, len(p.Categorical.Columns)),
		RequiredFields: ml.RequestFields(),
	}
	for _, col := range p.Categorical.Columns {
		info.Categories[col] = p.Options(col)
	}
	respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			respondJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request_too_large", Message: err.Error()})
			return
		}
		s.respondError(w, r, fmt.Errorf("%w: read body: %v", ml.ErrSchemaMismatch, err))
		return
	}

	start := time.Now()
	var est valuation.Estimate
	req, err := ml.ParseEstimateRequest(body)
	if err == nil {
		est, err = s.deps.Estimator.Estimate(r.Context(), GetRequestID(r.Context()), req)
	}
	s.observe(monitoring.ChannelAPI, start, est, err)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, est)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.deps.Metrics.Snapshot())
}

// observe records one estimate attempt, successful or not.
func (s *Server) observe(ch monitoring.Channel, start time.Time, est valuation.Estimate, err error) {
	elapsed := time.Since(start)
	if err != nil {
		s.deps.Metrics.RecordFailure(ch, ml.ErrorKind(err), elapsed)
		return
	}
	s.deps.Metrics.RecordEstimate(ch, elapsed, monitoring.Outcome{
		Cached:          est.Cached,
		UnknownCategory: len(est.UnknownCategories) > 0,
		Imputed:         len(est.Imputed) > 0,
	})
}

func (s *Server) handleRecentEstimates(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "unavailable", Message: "audit store not configured"})
		return
	}
	records, err := s.deps.Audit.RecentEstimates(r.Context(), queryLimit(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"estimates": records,
		"count":     len(records),
	})
}

func (s *Server) handleTrainingRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Audit == nil {
		respondJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "unavailable", Message: "audit store not configured"})
		return
	}
	runs, err := s.deps.Audit.TrainingRuns(r.Context(), queryLimit(r))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":  runs,
		"count": len(runs),
	})
}

func queryLimit(r *http.Request) int {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if l, err := strconv.Atoi(v); err == nil && l > 0 && l <= 500 {
			limit = l
		}
	}
	return limit
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind string) int {
	switch kind {
	case "schema_mismatch":
		return http.StatusBadRequest
	case "invalid_input":
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ml.ErrorKind(err)
	status := statusFor(kind)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("kind", kind),
			zap.Error(err))
		msg = "internal server error"
	}
	respondJSON(w, status, errorResponse{Error: kind, Message: msg})
}

func respondJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
