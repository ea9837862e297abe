package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emperorhan/guardrail-tuner/internal/domain/model"
	"github.com/emperorhan/guardrail-tuner/internal/ingest"
	"github.com/emperorhan/guardrail-tuner/internal/tuner"
)

// fakeController satisfies ControllerAPI without a running control loop.
type fakeController struct {
	thresholds map[string]model.Threshold
	pushed     []model.MetricSample
	pushErr    error
	events     []model.AdjustmentEvent
}

func newFakeController() *fakeController {
	return &fakeController{
		thresholds: map[string]model.Threshold{
			"anomaly_entropy_ceiling": {
				Name:         "anomaly_entropy_ceiling",
				CurrentValue: 0.60,
				DefaultValue: 0.60,
				MinValue:     0.30,
				MaxValue:     0.90,
				MetricType:   model.MetricTypeEntropy,
				Sensitivity:  0.15,
			},
		},
	}
}

func (f *fakeController) GetThresholds() []model.Threshold {
	out := make([]model.Threshold, 0, len(f.thresholds))
	for _, th := range f.thresholds {
		out = append(out, th)
	}
	return out
}

func (f *fakeController) GetThresholdInfo(name string) (model.ThresholdInfo, error) {
	th, ok := f.thresholds[name]
	if !ok {
		return model.ThresholdInfo{}, tuner.ErrUnknownThreshold
	}
	return th, nil
}

func (f *fakeController) GetThresholdValues() map[string]float64 {
	out := make(map[string]float64, len(f.thresholds))
	for name, th := range f.thresholds {
		out[name] = th.CurrentValue
	}
	return out
}

func (f *fakeController) SetThreshold(_ context.Context, name string, value float64, _ string) (model.Threshold, error) {
	th, ok := f.thresholds[name]
	if !ok {
		return model.Threshold{}, tuner.ErrUnknownThreshold
	}
	if value < th.MinValue || value > th.MaxValue {
		return model.Threshold{}, tuner.ErrValueOutOfBounds
	}
	th.CurrentValue = value
	f.thresholds[name] = th
	return th, nil
}

func (f *fakeController) PushMetricSample(sample model.MetricSample) error {
	if f.pushErr != nil {
		return f.pushErr
	}
	if err := sample.Validate(); err != nil {
		return err
	}
	f.pushed = append(f.pushed, sample)
	return nil
}

func (f *fakeController) RecentAdjustments(_ context.Context, since time.Time) ([]model.AdjustmentEvent, error) {
	var out []model.AdjustmentEvent
	for _, ev := range f.events {
		if !ev.Timestamp.Before(since) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (f *fakeController) BuildReport(context.Context) tuner.Report {
	return tuner.Report{SampleCount: 42, StabilityScore: 0.91}
}

func newTestServer(t *testing.T) (*fakeController, *httptest.Server) {
	t.Helper()
	fc := newFakeController()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv := httptest.NewServer(NewServer(fc, logger).Handler())
	t.Cleanup(srv.Close)
	return fc, srv
}

func TestListThresholds(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/tuner/v1/thresholds")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []model.Threshold
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	require.Len(t, got, 1)
	assert.Equal(t, "anomaly_entropy_ceiling", got[0].Name)
}

func TestThresholdValues(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/tuner/v1/thresholds/values")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got map[string]float64
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 0.60, got["anomaly_entropy_ceiling"])
}

func TestGetThreshold(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/tuner/v1/thresholds/anomaly_entropy_ceiling")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got model.Threshold
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 0.90, got.MaxValue)

	resp, err = http.Get(srv.URL + "/tuner/v1/thresholds/nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestOverride(t *testing.T) {
	fc, srv := newTestServer(t)

	post := func(t *testing.T, name string, body string) *http.Response {
		t.Helper()
		resp, err := http.Post(srv.URL+"/tuner/v1/thresholds/"+name+"/override",
			"application/json", bytes.NewReader([]byte(body)))
		require.NoError(t, err)
		t.Cleanup(func() { resp.Body.Close() })
		return resp
	}

	t.Run("applies a valid override", func(t *testing.T) {
		resp := post(t, "anomaly_entropy_ceiling", `{"value": 0.85, "reason": "incident tuning"}`)
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got model.Threshold
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Equal(t, 0.85, got.CurrentValue)
		assert.Equal(t, 0.85, fc.thresholds["anomaly_entropy_ceiling"].CurrentValue)
	})

	t.Run("rejects out-of-bounds values", func(t *testing.T) {
		resp := post(t, "anomaly_entropy_ceiling", `{"value": 0.95}`)
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("rejects missing value", func(t *testing.T) {
		resp := post(t, "anomaly_entropy_ceiling", `{"reason": "no value"}`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unknown threshold", func(t *testing.T) {
		resp := post(t, "nope", `{"value": 0.5}`)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("malformed body", func(t *testing.T) {
		resp := post(t, "anomaly_entropy_ceiling", `{"value": `)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestPushSample(t *testing.T) {
	fc, srv := newTestServer(t)

	t.Run("accepts a valid sample", func(t *testing.T) {
		body := `{"entropy_score": 0.5, "stability_score": 0.8, "response_time_ms": 1200}`
		resp, err := http.Post(srv.URL+"/tuner/v1/samples", "application/json", bytes.NewReader([]byte(body)))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusAccepted, resp.StatusCode)
		assert.Len(t, fc.pushed, 1)
	})

	t.Run("rejects an invalid sample", func(t *testing.T) {
		body := `{"entropy_score": 1.5}`
		resp, err := http.Post(srv.URL+"/tuner/v1/samples", "application/json", bytes.NewReader([]byte(body)))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("full queue maps to 429", func(t *testing.T) {
		fc.pushErr = ingest.ErrQueueFull
		defer func() { fc.pushErr = nil }()

		resp, err := http.Post(srv.URL+"/tuner/v1/samples", "application/json", bytes.NewReader([]byte(`{}`)))
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	})
}

func TestListAdjustments(t *testing.T) {
	fc, srv := newTestServer(t)
	now := time.Now()
	fc.events = []model.AdjustmentEvent{
		{ID: "old", Timestamp: now.Add(-48 * time.Hour)},
		{ID: "new", Timestamp: now.Add(-time.Hour)},
	}

	t.Run("defaults to the last day", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/tuner/v1/adjustments")
		require.NoError(t, err)
		defer resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got []model.AdjustmentEvent
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		require.Len(t, got, 1)
		assert.Equal(t, "new", got[0].ID)
	})

	t.Run("honors the since param", func(t *testing.T) {
		since := now.Add(-72 * time.Hour).Format(time.RFC3339)
		resp, err := http.Get(srv.URL + "/tuner/v1/adjustments?since=" + since)
		require.NoError(t, err)
		defer resp.Body.Close()

		var got []model.AdjustmentEvent
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
		assert.Len(t, got, 2)
	})

	t.Run("rejects a malformed since", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/tuner/v1/adjustments?since=yesterday")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestReport(t *testing.T) {
	_, srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/tuner/v1/report")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got tuner.Report
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, 42, got.SampleCount)
	assert.Equal(t, 0.91, got.StabilityScore)
}
