// Package api exposes HTTP handlers for the health metrics service.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/relvacode/iso8601"

	"example.com/healthmetrics/internal/domain"
	"example.com/healthmetrics/internal/observability"
)

const defaultMaxBodyBytes = 10 << 20

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service      *domain.Service
	maxBodyBytes int64
}

// Option configures optional Handler behaviour.
type Option func(*Handler)

// WithMaxBodyBytes caps the size of ingestion request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBodyBytes = n
		}
	}
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, opts ...Option) *Handler {
	h := &Handler{service: service, maxBodyBytes: defaultMaxBodyBytes}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ingest", h.ingest)
	mux.HandleFunc("/metrics", h.metrics)
	mux.HandleFunc("/healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	var reqs []ReadingRequest
	if err := dec.Decode(&reqs); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "unable to parse body: "+err.Error())
		return
	}
	if reqs == nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "body must be a JSON array")
		return
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", "unexpected data after JSON array")
		return
	}

	readings, err := validateReadings(reqs)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}

	result, err := h.service.Ingest(r.Context(), readings)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{
		Message: fmt.Sprintf("Ingested %d records successfully", result.Count),
	})
}

func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "unsupported method")
		return
	}

	window, err := parseWindow(r)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_failed", err.Error())
		return
	}

	agg, err := h.service.Aggregate(r.Context(), window)
	if err != nil {
		if errors.Is(err, domain.ErrNoData) {
			observability.RecordAggregation(observability.OutcomeNotFound)
			writeError(w, http.StatusNotFound, "not_found", "No data found for given parameters")
			return
		}
		observability.RecordAggregation(observability.OutcomeError)
		writeError(w, http.StatusInternalServerError, "server_error", err.Error())
		return
	}

	observability.RecordAggregation(observability.OutcomeOK)
	writeJSON(w, http.StatusOK, AggregatedMetricsResponse{
		AverageHeartRate: agg.AverageHeartRate,
		TotalSteps:       agg.TotalSteps,
		TotalCalories:    agg.TotalCalories,
	})
}

func parseWindow(r *http.Request) (domain.Window, error) {
	q := r.URL.Query()

	rawUser := strings.TrimSpace(q.Get("user_id"))
	if rawUser == "" {
		return domain.Window{}, errors.New("missing user_id parameter")
	}
	userID, err := strconv.ParseInt(rawUser, 10, 64)
	if err != nil {
		return domain.Window{}, fmt.Errorf("user_id must be an integer: %q", rawUser)
	}

	start, err := parseInstant(q.Get("start"), "start")
	if err != nil {
		return domain.Window{}, err
	}
	end, err := parseInstant(q.Get("end"), "end")
	if err != nil {
		return domain.Window{}, err
	}

	return domain.Window{UserID: userID, Start: start, End: end}, nil
}

func parseInstant(raw, name string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("missing %s parameter", name)
	}
	ts, err := iso8601.ParseString(raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be an ISO 8601 datetime: %w", name, err)
	}
	return ts, nil
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
