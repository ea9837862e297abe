package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/emperorhan/guardrail-tuner/internal/domain/model"
	"github.com/emperorhan/guardrail-tuner/internal/ingest"
	"github.com/emperorhan/guardrail-tuner/internal/tuner"
)

const maxRequestBodyBytes = 1 << 20 // 1 MB

// defaultAdjustmentLookback bounds the adjustments listing when no "since"
// query param is given.
const defaultAdjustmentLookback = 24 * time.Hour

// ControllerAPI is the interface the admin server uses to interact with the
// tuning controller. In production this is satisfied by *tuner.Controller,
// but tests can provide a simple fake.
type ControllerAPI interface {
	GetThresholds() []model.Threshold
	GetThresholdInfo(name string) (model.ThresholdInfo, error)
	GetThresholdValues() map[string]float64
	SetThreshold(ctx context.Context, name string, value float64, reason string) (model.Threshold, error)
	PushMetricSample(sample model.MetricSample) error
	RecentAdjustments(ctx context.Context, since time.Time) ([]model.AdjustmentEvent, error)
	BuildReport(ctx context.Context) tuner.Report
}

// Server provides the HTTP API for the tuner: threshold inspection, manual
// overrides, sample ingestion, and reporting.
type Server struct {
	controller ControllerAPI
	logger     *slog.Logger
}

// NewServer creates the admin API server.
func NewServer(controller ControllerAPI, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		controller: controller,
		logger:     logger.With("component", "admin"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServerOption configures optional dependencies for the admin server.
type ServerOption func(*Server)

// Handler returns the HTTP handler for the tuner API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tuner/v1/thresholds", s.handleListThresholds)
	mux.HandleFunc("GET /tuner/v1/thresholds/values", s.handleThresholdValues)
	mux.HandleFunc("GET /tuner/v1/thresholds/{name}", s.handleGetThreshold)
	mux.HandleFunc("POST /tuner/v1/thresholds/{name}/override", s.handleOverride)
	mux.HandleFunc("POST /tuner/v1/samples", s.handlePushSample)
	mux.HandleFunc("GET /tuner/v1/adjustments", s.handleListAdjustments)
	mux.HandleFunc("GET /tuner/v1/report", s.handleReport)
	return mux
}

// writeJSON writes v as JSON with the given HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// decodeJSONBody reads and decodes a JSON request body into v.
// Returns false (and writes an error response) if decoding fails.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, `{"error":"invalid JSON body"}`, http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) handleListThresholds(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.GetThresholds())
}

func (s *Server) handleThresholdValues(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.GetThresholdValues())
}

func (s *Server) handleGetThreshold(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	info, err := s.controller.GetThresholdInfo(name)
	if err != nil {
		if errors.Is(err, tuner.ErrUnknownThreshold) {
			http.Error(w, `{"error":"unknown threshold"}`, http.StatusNotFound)
			return
		}
		s.logger.Error("get threshold failed", "threshold", name, "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type overrideRequest struct {
	Value  *float64 `json:"value"`
	Reason string   `json:"reason"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	var req overrideRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.Value == nil {
		http.Error(w, `{"error":"value is required"}`, http.StatusBadRequest)
		return
	}

	updated, err := s.controller.SetThreshold(r.Context(), name, *req.Value, req.Reason)
	if err != nil {
		switch {
		case errors.Is(err, tuner.ErrUnknownThreshold):
			http.Error(w, `{"error":"unknown threshold"}`, http.StatusNotFound)
		case errors.Is(err, tuner.ErrValueOutOfBounds):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		default:
			s.logger.Error("override failed", "threshold", name, "error", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		}
		return
	}

	s.logger.Info("threshold overridden via admin API",
		"threshold", name,
		"value", *req.Value,
		"reason", req.Reason,
	)
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handlePushSample(w http.ResponseWriter, r *http.Request) {
	var sample model.MetricSample
	if !decodeJSONBody(w, r, &sample) {
		return
	}

	if err := s.controller.PushMetricSample(sample); err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidSample):
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
		case errors.Is(err, ingest.ErrQueueFull):
			http.Error(w, `{"error":"sample queue full"}`, http.StatusTooManyRequests)
		default:
			s.logger.Error("push sample failed", "error", err)
			http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *Server) handleListAdjustments(w http.ResponseWriter, r *http.Request) {
	since := time.Now().Add(-defaultAdjustmentLookback)
	if v := r.URL.Query().Get("since"); v != "" {
		parsed, err := time.Parse(time.RFC3339, v)
		if err != nil {
			http.Error(w, `{"error":"since must be RFC3339"}`, http.StatusBadRequest)
			return
		}
		since = parsed
	}

	events, err := s.controller.RecentAdjustments(r.Context(), since)
	if err != nil {
		s.logger.Error("list adjustments failed", "error", err)
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.AdjustmentEvent{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.BuildReport(r.Context()))
}
