package metrics_test

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/metrics"
)

func TestRecorder_Counts(t *testing.T) {
	rec := metrics.NewRecorder()

	rec.FrameObserved("front-view")
	rec.FrameObserved("front-view")
	rec.Repetition("front-view")
	rec.VisibilityError("missing_landmark")
	rec.WorkoutSaved()
	rec.Mint("ok")

	count, err := testutil.GatherAndCount(rec.Registry(), "squat_frames_observed_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	families, err := rec.Registry().Gather()
	require.NoError(t, err)

	values := map[string]float64{}
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			values[family.GetName()] += metric.GetCounter().GetValue()
		}
	}

	assert.InDelta(t, 2.0, values["squat_frames_observed_total"], 0.001)
	assert.InDelta(t, 1.0, values["squat_repetitions_total"], 0.001)
	assert.InDelta(t, 1.0, values["squat_visibility_errors_total"], 0.001)
	assert.InDelta(t, 1.0, values["squat_workouts_saved_total"], 0.001)
	assert.InDelta(t, 1.0, values["squat_mints_total"], 0.001)
}

func TestRecorder_NilIsNoop(t *testing.T) {
	var rec *metrics.Recorder

	assert.NotPanics(t, func() {
		rec.FrameObserved("side-view")
		rec.Repetition("side-view")
		rec.VisibilityError("invalid_geometry")
		rec.WorkoutSaved()
		rec.Mint("error")
	})
}

func TestRecorder_Handler(t *testing.T) {
	rec := metrics.NewRecorder()
	rec.Repetition("side-view")

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `squat_repetitions_total{mode="side-view"} 1`)
}

func TestRecorder_MintResults(t *testing.T) {
	rec := metrics.NewRecorder()
	rec.Mint("ok")
	rec.Mint("failed")
	rec.Mint("rejected")
	rec.Mint("rejected")

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `squat_mints_total{result="ok"} 1`)
	assert.Contains(t, string(body), `squat_mints_total{result="failed"} 1`)
	assert.Contains(t, string(body), `squat_mints_total{result="rejected"} 2`)
}
