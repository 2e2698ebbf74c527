package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"example.com/healthmetrics/internal/domain"
	"example.com/healthmetrics/internal/persistence/memory"
)

const twoReadings = `[
  {"user_id": 1, "timestamp": "2025-01-01T08:00:00Z", "heart_rate": 60, "steps": 100, "calories": 10.5},
  {"user_id": 1, "timestamp": "2025-01-01T09:00:00Z", "heart_rate": 80, "steps": 250, "calories": 20.25}
]`

func newTestServer(repo domain.MetricRepository) *http.ServeMux {
	mux := http.NewServeMux()
	NewHandler(domain.NewService(repo)).RegisterRoutes(mux)
	return mux
}

func doIngest(t *testing.T, mux *http.ServeMux, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/ingest", strings.NewReader(body))
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func doMetrics(t *testing.T, mux *http.ServeMux, userID, start, end string) *httptest.ResponseRecorder {
	t.Helper()
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("start", start)
	q.Set("end", end)
	req := httptest.NewRequest(http.MethodGet, "/metrics?"+q.Encode(), nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	return rr
}

func decodeAggregate(t *testing.T, rr *httptest.ResponseRecorder) AggregatedMetricsResponse {
	t.Helper()
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	var resp AggregatedMetricsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestIngestReturnsCount(t *testing.T) {
	repo := memory.NewRepository()
	mux := newTestServer(repo)

	rr := doIngest(t, mux, twoReadings)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}

	var resp IngestResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp.Message != "Ingested 2 records successfully" {
		t.Fatalf("unexpected message %q", resp.Message)
	}
	if got := len(repo.Metrics()); got != 2 {
		t.Fatalf("expected 2 stored readings got %d", got)
	}
}

func TestIngestEmptyBatch(t *testing.T) {
	repo := memory.NewRepository()
	rr := doIngest(t, newTestServer(repo), `[]`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "Ingested 0 records successfully") {
		t.Fatalf("unexpected body %s", rr.Body.String())
	}
	if len(repo.Batches()) != 0 {
		t.Fatalf("empty batch should not reach the repository")
	}
}

func TestIngestRejectsInvalidBodies(t *testing.T) {
	cases := map[string]string{
		"missing field":      `[{"user_id": 1, "timestamp": "2025-01-01T08:00:00Z", "heart_rate": 60, "steps": 100}]`,
		"null field":         `[{"user_id": 1, "timestamp": null, "heart_rate": 60, "steps": 100, "calories": 1}]`,
		"wrong type":         `[{"user_id": "abc", "timestamp": "2025-01-01T08:00:00Z", "heart_rate": 60, "steps": 100, "calories": 1}]`,
		"fractional integer": `[{"user_id": 1, "timestamp": "2025-01-01T08:00:00Z", "heart_rate": 60.5, "steps": 100, "calories": 1}]`,
		"bad timestamp":      `[{"user_id": 1, "timestamp": "yesterday", "heart_rate": 60, "steps": 100, "calories": 1}]`,
		"object body":        `{"user_id": 1}`,
		"null body":          `null`,
		"trailing data":      `[] []`,
		"stray bracket":      `[]]`,
		"stray brace":        `[{"user_id": 1, "timestamp": "2025-01-01T08:00:00Z", "heart_rate": 60, "steps": 100, "calories": 1}]}`,
		"not json":           `nope`,
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			repo := memory.NewRepository()
			rr := doIngest(t, newTestServer(repo), body)
			if rr.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422 got %d: %s", rr.Code, rr.Body.String())
			}
			if len(repo.Metrics()) != 0 {
				t.Fatalf("invalid batch must not persist anything")
			}
		})
	}
}

func TestIngestRejectsWholeBatchWhenOneItemInvalid(t *testing.T) {
	repo := memory.NewRepository()
	body := `[
	  {"user_id": 1, "timestamp": "2025-01-01T08:00:00Z", "heart_rate": 60, "steps": 100, "calories": 1},
	  {"user_id": 1, "timestamp": "2025-01-01T08:00:00Z", "heart_rate": 60, "steps": 100}
	]`
	rr := doIngest(t, newTestServer(repo), body)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "item 1: calories is required") {
		t.Fatalf("unexpected detail %s", rr.Body.String())
	}
	if len(repo.Metrics()) != 0 {
		t.Fatalf("invalid batch must not persist anything")
	}
}

func TestIngestAcceptsNegativeValues(t *testing.T) {
	repo := memory.NewRepository()
	rr := doIngest(t, newTestServer(repo), `[{"user_id": 3, "timestamp": "2025-01-01T08:00:00", "heart_rate": -5, "steps": -1, "calories": -0.5}]`)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	stored := repo.Metrics()
	if stored[0].HeartRate != -5 {
		t.Fatalf("expected heart rate -5 got %d", stored[0].HeartRate)
	}
}

func TestIngestStorageFailureReturnsServerError(t *testing.T) {
	rr := doIngest(t, newTestServer(failingRepo{}), twoReadings)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rr.Code)
	}
}

func TestIngestRejectsOversizedBody(t *testing.T) {
	mux := http.NewServeMux()
	NewHandler(domain.NewService(memory.NewRepository()), WithMaxBodyBytes(16)).RegisterRoutes(mux)

	rr := doIngest(t, mux, twoReadings)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 got %d", rr.Code)
	}
}

func TestMetricsAveragesAndSums(t *testing.T) {
	mux := newTestServer(memory.NewRepository())
	if rr := doIngest(t, mux, twoReadings); rr.Code != http.StatusOK {
		t.Fatalf("ingest failed: %d", rr.Code)
	}

	resp := decodeAggregate(t, doMetrics(t, mux, "1", "2025-01-01T00:00:00Z", "2025-01-02T00:00:00Z"))
	if resp.AverageHeartRate != 70.0 {
		t.Fatalf("expected average 70.0 got %v", resp.AverageHeartRate)
	}
	if resp.TotalSteps != 350 {
		t.Fatalf("expected steps 350 got %d", resp.TotalSteps)
	}
	if resp.TotalCalories != 30.75 {
		t.Fatalf("expected calories 30.75 got %v", resp.TotalCalories)
	}
}

func TestMetricsWindowIsInclusive(t *testing.T) {
	mux := newTestServer(memory.NewRepository())
	doIngest(t, mux, twoReadings)

	resp := decodeAggregate(t, doMetrics(t, mux, "1", "2025-01-01T08:00:00Z", "2025-01-01T09:00:00Z"))
	if resp.TotalSteps != 350 {
		t.Fatalf("expected both boundary readings included, got steps %d", resp.TotalSteps)
	}

	resp = decodeAggregate(t, doMetrics(t, mux, "1", "2025-01-01T09:00:00+00:00", "2025-01-01T10:00:00Z"))
	if resp.TotalSteps != 250 {
		t.Fatalf("expected only the end reading, got steps %d", resp.TotalSteps)
	}
}

func TestMetricsExcludesOtherUsersAndOutOfWindow(t *testing.T) {
	mux := newTestServer(memory.NewRepository())
	doIngest(t, mux, twoReadings)
	doIngest(t, mux, `[
	  {"user_id": 2, "timestamp": "2025-01-01T08:30:00Z", "heart_rate": 200, "steps": 9999, "calories": 999},
	  {"user_id": 1, "timestamp": "2025-01-03T08:30:00Z", "heart_rate": 200, "steps": 9999, "calories": 999}
	]`)

	resp := decodeAggregate(t, doMetrics(t, mux, "1", "2025-01-01T00:00:00Z", "2025-01-02T00:00:00Z"))
	if resp.AverageHeartRate != 70.0 || resp.TotalSteps != 350 {
		t.Fatalf("unexpected aggregate %+v", resp)
	}
}

func TestMetricsDoubleCountsDuplicateBatches(t *testing.T) {
	mux := newTestServer(memory.NewRepository())
	doIngest(t, mux, twoReadings)
	doIngest(t, mux, twoReadings)

	resp := decodeAggregate(t, doMetrics(t, mux, "1", "2025-01-01T00:00:00Z", "2025-01-02T00:00:00Z"))
	if resp.TotalSteps != 700 || resp.TotalCalories != 61.5 || resp.AverageHeartRate != 70.0 {
		t.Fatalf("unexpected aggregate %+v", resp)
	}
}

func TestMetricsRoundsAverageToTwoDecimals(t *testing.T) {
	mux := newTestServer(memory.NewRepository())
	doIngest(t, mux, `[
	  {"user_id": 5, "timestamp": "2025-01-01T08:00:00Z", "heart_rate": 60, "steps": 1, "calories": 1},
	  {"user_id": 5, "timestamp": "2025-01-01T08:01:00Z", "heart_rate": 61, "steps": 1, "calories": 1},
	  {"user_id": 5, "timestamp": "2025-01-01T08:02:00Z", "heart_rate": 61, "steps": 1, "calories": 1}
	]`)

	resp := decodeAggregate(t, doMetrics(t, mux, "5", "2025-01-01T00:00:00Z", "2025-01-02T00:00:00Z"))
	if resp.AverageHeartRate != 60.67 {
		t.Fatalf("expected 60.67 got %v", resp.AverageHeartRate)
	}
}

func TestMetricsRoundsExactHalfToEven(t *testing.T) {
	mux := newTestServer(memory.NewRepository())
	var items []string
	for i := 0; i < 7; i++ {
		items = append(items, fmt.Sprintf(`{"user_id": 9, "timestamp": "2025-01-01T08:0%d:00Z", "heart_rate": 70, "steps": 1, "calories": 1}`, i))
	}
	items = append(items, `{"user_id": 9, "timestamp": "2025-01-01T09:00:00Z", "heart_rate": 71, "steps": 1, "calories": 1}`)
	if rr := doIngest(t, mux, "["+strings.Join(items, ",")+"]"); rr.Code != http.StatusOK {
		t.Fatalf("ingest failed: %d %s", rr.Code, rr.Body.String())
	}

	resp := decodeAggregate(t, doMetrics(t, mux, "9", "2025-01-01T00:00:00Z", "2025-01-02T00:00:00Z"))
	if resp.AverageHeartRate != 70.12 {
		t.Fatalf("expected 70.12 got %v", resp.AverageHeartRate)
	}
}

func TestIngestAcceptsTrailingWhitespace(t *testing.T) {
	repo := memory.NewRepository()
	rr := doIngest(t, newTestServer(repo), twoReadings+"\n\t ")
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200 got %d: %s", rr.Code, rr.Body.String())
	}
	if len(repo.Metrics()) != 2 {
		t.Fatalf("expected 2 stored readings got %d", len(repo.Metrics()))
	}
}

func TestMetricsNotFoundWhenNothingMatches(t *testing.T) {
	mux := newTestServer(memory.NewRepository())
	doIngest(t, mux, twoReadings)

	rr := doMetrics(t, mux, "1", "2030-01-01T00:00:00Z", "2030-01-02T00:00:00Z")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", rr.Code)
	}

	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["detail"] != "No data found for given parameters" {
		t.Fatalf("unexpected detail %v", body["detail"])
	}
	if _, ok := body["average_heart_rate"]; ok {
		t.Fatalf("not-found response must not carry aggregate fields")
	}
}

func TestMetricsRequiresValidParameters(t *testing.T) {
	mux := newTestServer(memory.NewRepository())

	cases := []string{
		"/metrics?start=2025-01-01T00:00:00Z&end=2025-01-02T00:00:00Z",
		"/metrics?user_id=x&start=2025-01-01T00:00:00Z&end=2025-01-02T00:00:00Z",
		"/metrics?user_id=1&end=2025-01-02T00:00:00Z",
		"/metrics?user_id=1&start=2025-01-01T00:00:00Z&end=tomorrow",
	}
	for _, target := range cases {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		rr := httptest.NewRecorder()
		mux.ServeHTTP(rr, req)
		if rr.Code != http.StatusUnprocessableEntity {
			t.Fatalf("%s: expected 422 got %d", target, rr.Code)
		}
	}
}

func TestMetricsStorageFailureReturnsServerError(t *testing.T) {
	rr := doMetrics(t, newTestServer(failingRepo{}), "1", "2025-01-01T00:00:00Z", "2025-01-02T00:00:00Z")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 got %d", rr.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	mux := newTestServer(memory.NewRepository())

	req := httptest.NewRequest(http.MethodGet, "/ingest", nil)
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rr.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/metrics", bytes.NewReader(nil))
	rr = httptest.NewRecorder()
	mux.ServeHTTP(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 got %d", rr.Code)
	}
}

func TestHealthz(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	newTestServer(memory.NewRepository()).ServeHTTP(rr, req)
	if rr.Code != http.StatusOK || rr.Body.String() != "ok" {
		t.Fatalf("unexpected healthz response %d %q", rr.Code, rr.Body.String())
	}
}

type failingRepo struct{}

func (failingRepo) InsertBatch(context.Context, domain.Batch) error {
	return errors.New("connection refused")
}

func (failingRepo) Aggregate(context.Context, domain.Window) (*domain.Totals, error) {
	return nil, errors.New("connection refused")
}
