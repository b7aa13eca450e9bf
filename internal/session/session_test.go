package session_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/metrics"
	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/mint"
	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/pose"
	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/session"
	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/storage"
	"github.com/Youngkwon-Lee/sol-dapp-squat/squat"
)

// person returns a front facing pose with hips at hipY
func person(hipY float64) squat.Pose {
	return squat.Pose{
		Score: 0.9,
		Keypoints: []squat.Keypoint{
			{Part: squat.LeftHip, Position: squat.NewPoint(290, hipY), Score: 0.9},
			{Part: squat.RightHip, Position: squat.NewPoint(350, hipY), Score: 0.9},
			{Part: squat.LeftKnee, Position: squat.NewPoint(285, hipY+90), Score: 0.9},
			{Part: squat.RightKnee, Position: squat.NewPoint(355, hipY+90), Score: 0.9},
		},
	}
}

// squatReps returns hip heights for n squats starting from standing
func squatReps(n int) []float64 {
	heights := []float64{100}
	for i := 0; i < n; i++ {
		heights = append(heights, 160, 100)
	}
	return heights
}

func process(t *testing.T, sess *session.Session, heights []float64) []session.Update {
	t.Helper()
	updates := make([]session.Update, 0, len(heights))
	for _, h := range heights {
		upd, err := sess.Process([]squat.Pose{person(h)}, 640, 480)
		require.NoError(t, err)
		updates = append(updates, upd)
	}
	return updates
}

type fakeMinter struct {
	calls int
	last  mint.Request
	err   error
}

func (m *fakeMinter) Mint(_ context.Context, req mint.Request) (string, error) {
	m.calls++
	m.last = req
	if m.err != nil {
		return "", m.err
	}
	return "sig-1", nil
}

func counterSum(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	total := 0.0
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			total += metric.GetCounter().GetValue()
		}
	}
	return total
}

func TestProcessCountsRepetitions(t *testing.T) {
	rec := metrics.NewRecorder()
	sess, err := session.New(session.Options{SubjectID: "alice", TargetReps: 2, Metrics: rec})
	require.NoError(t, err)

	updates := process(t, sess, []float64{100, 100, 160, 160, 95})
	last := updates[len(updates)-1]
	assert.True(t, last.RepetitionCompleted)
	assert.Equal(t, 1, last.RepetitionCount)
	assert.Equal(t, squat.Standing, last.Phase)
	assert.False(t, last.Eligible)
	assert.Equal(t, squat.Descending, updates[2].Phase)
	assert.InDelta(t, 160.0, updates[2].Metric, 1e-9)

	process(t, sess, []float64{160, 95})
	assert.True(t, sess.Eligible())
	assert.True(t, sess.Snapshot().Eligible)

	assert.InDelta(t, 7.0, counterSum(t, rec.Registry(), "squat_frames_observed_total"), 0.001)
	assert.InDelta(t, 2.0, counterSum(t, rec.Registry(), "squat_repetitions_total"), 0.001)
}

func TestProcessSampling(t *testing.T) {
	sess, err := session.New(session.Options{SampleEvery: 3})
	require.NoError(t, err)

	updates := process(t, sess, []float64{100, 100, 100, 100, 100, 100, 100})
	skipped := make([]bool, len(updates))
	for i, upd := range updates {
		skipped[i] = upd.Skipped
	}
	assert.Equal(t, []bool{false, true, true, false, true, true, false}, skipped)
}

func TestProcessSamplingCountsOnlyEvaluatedFrames(t *testing.T) {
	sess, err := session.New(session.Options{SampleEvery: 2})
	require.NoError(t, err)

	// Evaluated frames are 100, 160, 100: one repetition. Odd positions are never looked at
	process(t, sess, []float64{100, 500, 160, 500, 100, 500})
	assert.Equal(t, 1, sess.State().RepetitionCount)
}

func TestProcessVisibilityFallback(t *testing.T) {
	rec := metrics.NewRecorder()
	sess, err := session.New(session.Options{FallbackAfter: 3, Metrics: rec})
	require.NoError(t, err)

	process(t, sess, []float64{100})

	var upd session.Update
	for i := 0; i < 3; i++ {
		upd, err = sess.Process(nil, 640, 480)
		require.NoError(t, err)
		assert.NotEmpty(t, upd.VisibilityError)
		assert.Equal(t, i == 2, upd.FallbackSuggested, "frame %d", i)
	}

	upd = process(t, sess, []float64{100})[0]
	assert.Empty(t, upd.VisibilityError)
	assert.False(t, upd.FallbackSuggested)
	assert.InDelta(t, 3.0, counterSum(t, rec.Registry(), "squat_visibility_errors_total"), 0.001)
}

func TestProcessPicksHighestScoringPerson(t *testing.T) {
	sess, err := session.New(session.Options{})
	require.NoError(t, err)

	faint := person(300)
	faint.Score = 0.2
	for _, h := range []float64{100, 160, 100} {
		_, err := sess.Process([]squat.Pose{faint, person(h)}, 640, 480)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, sess.State().RepetitionCount)
}

func TestProcessWithSubjectLockAndSmoothing(t *testing.T) {
	sess, err := session.New(session.Options{Smoothing: true, SubjectMaxNoMatch: 10})
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		upd, err := sess.Process([]squat.Pose{person(100)}, 640, 480)
		require.NoError(t, err)
		assert.Empty(t, upd.VisibilityError)
		assert.False(t, upd.RepetitionCompleted)
	}
	assert.Equal(t, 0, sess.State().RepetitionCount)
}

func TestManualMode(t *testing.T) {
	sess, err := session.New(session.Options{TargetReps: 2})
	require.NoError(t, err)

	_, err = sess.ManualRep()
	assert.ErrorIs(t, err, session.ErrNotManual)

	process(t, sess, squatReps(1))
	sess.SetManual(true)

	upd, err := sess.Process([]squat.Pose{person(160)}, 640, 480)
	require.NoError(t, err)
	assert.True(t, upd.Skipped)

	upd, err = sess.ManualRep()
	require.NoError(t, err)
	assert.True(t, upd.RepetitionCompleted)
	assert.Equal(t, 2, upd.RepetitionCount)
	assert.True(t, upd.Eligible)

	sess.SetManual(false)
	state := sess.State()
	assert.Equal(t, 2, state.RepetitionCount)
	assert.Equal(t, squat.Standing, state.Phase)
	assert.False(t, state.HasReference)
}

func TestSwitchModeAndReset(t *testing.T) {
	sess, err := session.New(session.Options{})
	require.NoError(t, err)

	process(t, sess, append(squatReps(2), 160))
	assert.Equal(t, squat.Descending, sess.State().Phase)

	require.NoError(t, sess.SwitchMode(squat.SideView))
	state := sess.State()
	assert.Equal(t, squat.SideView, state.Mode)
	assert.Equal(t, squat.Standing, state.Phase)
	assert.Equal(t, 2, state.RepetitionCount)

	// Front view poses have no ankles, side view can't measure them
	upd := process(t, sess, []float64{100})[0]
	assert.NotEmpty(t, upd.VisibilityError)

	sess.Reset()
	state = sess.State()
	assert.Equal(t, squat.SideView, state.Mode)
	assert.Equal(t, 0, state.RepetitionCount)
}

func TestInvalidDetectorConfig(t *testing.T) {
	cfg := squat.SideConfig()
	cfg.DescendThreshold = 170
	_, err := session.New(session.Options{Detectors: map[squat.Mode]squat.Config{squat.SideView: cfg}})
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	frames := make([]string, 0, 5)
	for _, h := range squatReps(2) {
		data, err := pose.EncodeFrame(pose.Frame{Poses: []squat.Pose{person(h)}, Width: 640, Height: 480})
		require.NoError(t, err)
		frames = append(frames, string(data))
	}
	source := pose.NewJSONLSource(strings.NewReader(strings.Join(frames, "\n")), 0, 0)

	sess, err := session.New(session.Options{})
	require.NoError(t, err)

	var completed int
	err = sess.Run(context.Background(), source, func(upd session.Update) {
		if upd.RepetitionCompleted {
			completed++
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 2, completed)
	assert.Equal(t, 2, sess.State().RepetitionCount)
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sess, err := session.New(session.Options{})
	require.NoError(t, err)

	err = sess.Run(ctx, pose.NewJSONLSource(strings.NewReader(""), 0, 0), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFinish(t *testing.T) {
	start := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	clock := start
	rec := metrics.NewRecorder()
	sess, err := session.New(session.Options{
		SubjectID:     "alice",
		WalletAddress: "wallet-1",
		Metrics:       rec,
		Now:           func() time.Time { return clock },
	})
	require.NoError(t, err)

	process(t, sess, squatReps(3))
	clock = start.Add(95 * time.Second)

	store := storage.NewFileStore(filepath.Join(t.TempDir(), "workouts.json"))
	id, err := sess.Finish(context.Background(), store)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	history, err := store.History(context.Background(), storage.Filter{SubjectID: "alice"})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, id, history[0].ID)
	assert.Equal(t, 3, history[0].RepCount)
	assert.Equal(t, 95, history[0].DurationSeconds)
	assert.True(t, history[0].UsedCamera)
	assert.Equal(t, "wallet-1", history[0].WalletAddress)
	assert.True(t, clock.Equal(history[0].Timestamp))
	assert.InDelta(t, 1.0, counterSum(t, rec.Registry(), "squat_workouts_saved_total"), 0.001)
}

func TestFinishManualOnly(t *testing.T) {
	sess, err := session.New(session.Options{})
	require.NoError(t, err)
	sess.SetManual(true)
	_, err = sess.ManualRep()
	require.NoError(t, err)

	store := storage.NewFileStore(filepath.Join(t.TempDir(), "workouts.json"))
	_, err = sess.Finish(context.Background(), store)
	require.NoError(t, err)

	history, err := store.History(context.Background(), storage.Filter{SubjectID: sess.SubjectID()})
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.False(t, history[0].UsedCamera)
	assert.Equal(t, sess.ID().String(), history[0].SubjectID)
}

func TestMintOncePerSession(t *testing.T) {
	rec := metrics.NewRecorder()
	sess, err := session.New(session.Options{SubjectID: "alice", WalletAddress: "wallet-1", TargetReps: 2, Metrics: rec})
	require.NoError(t, err)
	minter := &fakeMinter{}
	meta := mint.Request{Name: mint.DefaultName, Symbol: mint.DefaultSymbol}

	process(t, sess, squatReps(1))
	_, err = sess.Mint(context.Background(), minter, meta)
	assert.True(t, errors.Is(err, mint.ErrNotEligible))
	assert.Equal(t, 0, minter.calls)

	process(t, sess, []float64{160, 100})
	sig, err := sess.Mint(context.Background(), minter, meta)
	require.NoError(t, err)
	assert.Equal(t, "sig-1", sig)
	assert.Equal(t, 1, minter.calls)
	assert.Equal(t, "wallet-1", minter.last.WalletAddress)
	assert.Equal(t, "alice", minter.last.SubjectID)
	assert.Equal(t, 2, minter.last.RepCount)

	_, err = sess.Mint(context.Background(), minter, meta)
	assert.True(t, errors.Is(err, mint.ErrAlreadyMinted))
	assert.Equal(t, 1, minter.calls)

	sess.Reset()
	process(t, sess, squatReps(2))
	_, err = sess.Mint(context.Background(), minter, meta)
	assert.True(t, errors.Is(err, mint.ErrAlreadyMinted))
	assert.InDelta(t, 4.0, counterSum(t, rec.Registry(), "squat_mints_total"), 0.001)
}

func TestMintFailureAllowsRetry(t *testing.T) {
	sess, err := session.New(session.Options{WalletAddress: "wallet-1", TargetReps: 1})
	require.NoError(t, err)
	process(t, sess, squatReps(1))

	minter := &fakeMinter{err: errors.New("rpc down")}
	_, err = sess.Mint(context.Background(), minter, mint.Request{})
	require.Error(t, err)

	minter.err = nil
	sig, err := sess.Mint(context.Background(), minter, mint.Request{})
	require.NoError(t, err)
	assert.Equal(t, "sig-1", sig)
}

func TestMintNeedsWallet(t *testing.T) {
	sess, err := session.New(session.Options{TargetReps: 1})
	require.NoError(t, err)
	process(t, sess, squatReps(1))

	_, err = sess.Mint(context.Background(), &fakeMinter{}, mint.Request{})
	assert.ErrorIs(t, err, mint.ErrNoWallet)
}

func TestUnknownModeRejected(t *testing.T) {
	_, err := session.New(session.Options{Mode: squat.Mode(7)})
	assert.ErrorIs(t, err, session.ErrUnknownMode)

	sess, err := session.New(session.Options{})
	require.NoError(t, err)
	process(t, sess, squatReps(1))

	err = sess.SwitchMode(squat.Mode(7))
	assert.ErrorIs(t, err, session.ErrUnknownMode)

	state := sess.State()
	assert.Equal(t, squat.FrontView, state.Mode)
	assert.Equal(t, 1, state.RepetitionCount)

	upd, err := sess.Process(nil, 640, 480)
	require.NoError(t, err)
	assert.NotEmpty(t, upd.VisibilityError)
}

// blockingMinter holds every call until release is closed
type blockingMinter struct {
	started chan struct{}
	release chan struct{}
}

func (m *blockingMinter) Mint(ctx context.Context, _ mint.Request) (string, error) {
	close(m.started)
	select {
	case <-m.release:
		return "sig-slow", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestMintDoesNotBlockSession(t *testing.T) {
	sess, err := session.New(session.Options{WalletAddress: "wallet-1", TargetReps: 1})
	require.NoError(t, err)
	process(t, sess, squatReps(1))

	minter := &blockingMinter{started: make(chan struct{}), release: make(chan struct{})}
	type result struct {
		sig string
		err error
	}
	done := make(chan result, 1)
	go func() {
		sig, err := sess.Mint(context.Background(), minter, mint.Request{})
		done <- result{sig, err}
	}()
	<-minter.started

	// Session keeps serving frames while the mint request is in flight
	upd, err := sess.Process([]squat.Pose{person(160)}, 640, 480)
	require.NoError(t, err)
	assert.Equal(t, 1, upd.RepetitionCount)
	assert.True(t, sess.Eligible())

	_, err = sess.Mint(context.Background(), &fakeMinter{}, mint.Request{})
	assert.ErrorIs(t, err, session.ErrMintInProgress)

	close(minter.release)
	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "sig-slow", res.sig)

	_, err = sess.Mint(context.Background(), &fakeMinter{}, mint.Request{})
	assert.ErrorIs(t, err, mint.ErrAlreadyMinted)
}
