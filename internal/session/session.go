// Package session drives one workout: it feeds estimator frames through the subject lock,
// smoother and repetition detector, and hands the result to storage and token issuance.
package session

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/logging"
	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/metrics"
	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/mint"
	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/pose"
	"github.com/Youngkwon-Lee/sol-dapp-squat/internal/storage"
	"github.com/Youngkwon-Lee/sol-dapp-squat/squat"
)

const tracerName = "squat"

var (
	// ErrNotManual is returned by ManualRep while the camera is counting
	ErrNotManual = errors.New("session is not in manual mode")
	// ErrUnknownMode is returned for detection modes without a detector
	ErrUnknownMode = errors.New("unknown detection mode")
	// ErrMintInProgress is returned when another mint call of the session hasn't finished
	ErrMintInProgress = errors.New("mint already in progress")
)

// Defaults applied by New for zero option values
const (
	DefaultTargetReps = 30
	DefaultFrameRate  = 30.0
)

// Options configures a session. Zero values fall back to defaults
type Options struct {
	SubjectID     string
	WalletAddress string
	Mode          squat.Mode
	// Detector configuration per mode. Missing modes use the default presets
	Detectors  map[squat.Mode]squat.Config
	TargetReps int
	// Evaluate only every n-th frame. Zero or one evaluates all frames
	SampleEvery int
	// Suggest manual counting after this many visibility errors in a row. Zero disables
	FallbackAfter int
	// Kalman smoothing of keypoints
	Smoothing bool
	// Frames per second of the input, used as Kalman time step
	FrameRate float64
	// Follow a single person among several. Zero disables subject lock
	SubjectMaxNoMatch int
	Logger            *slog.Logger
	Metrics           *metrics.Recorder
	Now               func() time.Time
}

// Update is what the UI needs after each frame
type Update struct {
	RepetitionCompleted bool
	RepetitionCount     int
	// Advisory message, empty when the frame was measured
	VisibilityError string
	Phase           squat.Phase
	Metric          float64
	Eligible        bool
	// Camera keeps failing to see the body, manual counting should be offered
	FallbackSuggested bool
	// Frame was not evaluated because of sampling or manual mode
	Skipped bool
}

// Session is safe for concurrent use. Independent sessions share nothing
type Session struct {
	mu sync.Mutex

	id            uuid.UUID
	subjectID     string
	walletAddress string

	detectors map[squat.Mode]*squat.Detector
	detector  *squat.Detector
	state     squat.State
	smoother  *squat.Smoother
	lock      *squat.SubjectLock

	target            int
	sampleEvery       int
	fallbackAfter     int
	frames            int
	consecutiveErrors int

	manual     bool
	usedCamera bool
	minted     bool
	minting    bool

	startedAt time.Time
	now       func() time.Time
	logger    *slog.Logger
	metrics   *metrics.Recorder
}

// New creates session with fresh identifier
func New(opts Options) (*Session, error) {
	detectors := make(map[squat.Mode]*squat.Detector, 2)
	for _, mode := range []squat.Mode{squat.FrontView, squat.SideView} {
		cfg, ok := opts.Detectors[mode]
		if !ok {
			detectors[mode] = squat.NewDetectorDefault(mode)
			continue
		}
		cfg.Mode = mode
		detector, err := squat.NewDetector(cfg)
		if err != nil {
			return nil, errors.Wrapf(err, "mode %s", mode)
		}
		detectors[mode] = detector
	}

	if _, ok := detectors[opts.Mode]; !ok {
		return nil, errors.Wrapf(ErrUnknownMode, "%s", opts.Mode)
	}

	if opts.TargetReps <= 0 {
		opts.TargetReps = DefaultTargetReps
	}
	if opts.SampleEvery <= 0 {
		opts.SampleEvery = 1
	}
	if opts.FrameRate <= 0 {
		opts.FrameRate = DefaultFrameRate
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}

	sess := &Session{
		id:            uuid.New(),
		subjectID:     opts.SubjectID,
		walletAddress: opts.WalletAddress,
		detectors:     detectors,
		detector:      detectors[opts.Mode],
		state:         squat.NewState(opts.Mode),
		target:        opts.TargetReps,
		sampleEvery:   opts.SampleEvery,
		fallbackAfter: opts.FallbackAfter,
		now:           opts.Now,
		metrics:       opts.Metrics,
	}
	if sess.subjectID == "" {
		sess.subjectID = sess.id.String()
	}
	sess.startedAt = sess.now()
	sess.logger = opts.Logger.With("session", sess.id.String())

	dt := 1.0 / opts.FrameRate
	featureConfidence := sess.detector.Config().FeatureConfidence
	if opts.Smoothing {
		sess.smoother = squat.NewSmoother(dt, featureConfidence, 20.0, 3.0)
	}
	if opts.SubjectMaxNoMatch > 0 {
		sess.lock = squat.NewSubjectLock(dt, opts.SubjectMaxNoMatch, featureConfidence)
	}

	return sess, nil
}

// ID returns session identifier
func (sess *Session) ID() uuid.UUID {
	return sess.id
}

// SubjectID returns identifier workouts are recorded under
func (sess *Session) SubjectID() string {
	return sess.subjectID
}

// State returns copy of detector state
func (sess *Session) State() squat.State {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state
}

// Process evaluates one estimator frame
func (sess *Session) Process(poses []squat.Pose, width, height float64) (Update, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.manual {
		upd := sess.snapshot()
		upd.Skipped = true
		return upd, nil
	}

	sess.frames++
	if (sess.frames-1)%sess.sampleEvery != 0 {
		upd := sess.snapshot()
		upd.Skipped = true
		return upd, nil
	}
	sess.usedCamera = true

	frame, err := sess.subjectFrame(poses, width, height)
	if err != nil {
		return sess.snapshot(), err
	}
	if sess.smoother != nil {
		frame, err = sess.smoother.Smooth(frame)
		if err != nil {
			return sess.snapshot(), errors.Wrap(err, "Can't smooth keypoints")
		}
	}

	mode := sess.detector.Config().Mode
	next, obs := sess.detector.Observe(frame, sess.state)
	sess.state = next
	sess.metrics.FrameObserved(mode.String())

	upd := sess.snapshot()
	upd.Metric = obs.Metric
	upd.RepetitionCompleted = obs.RepetitionCompleted

	if obs.VisibilityError != nil {
		sess.consecutiveErrors++
		upd.VisibilityError = obs.VisibilityError.Error()
		sess.metrics.VisibilityError(obs.VisibilityError.Kind.String())
		sess.logger.Debug("frame not measured", "kind", obs.VisibilityError.Kind.String(), "streak", sess.consecutiveErrors)
	} else {
		sess.consecutiveErrors = 0
	}
	upd.FallbackSuggested = sess.fallbackAfter > 0 && sess.consecutiveErrors >= sess.fallbackAfter

	if obs.RepetitionCompleted {
		sess.metrics.Repetition(mode.String())
		sess.logger.Info("repetition completed", "count", sess.state.RepetitionCount, "mode", mode.String())
	}

	return upd, nil
}

// subjectFrame picks the tracked person out of poses. No person gives an empty frame
func (sess *Session) subjectFrame(poses []squat.Pose, width, height float64) (squat.KeypointFrame, error) {
	var (
		selected squat.Pose
		found    bool
	)
	if sess.lock != nil {
		var err error
		selected, found, err = sess.lock.Select(poses)
		if err != nil {
			return squat.KeypointFrame{}, errors.Wrap(err, "Can't track subject")
		}
	} else {
		for i, p := range poses {
			if i == 0 || p.Score > selected.Score {
				selected = p
				found = true
			}
		}
	}
	if !found {
		return squat.NewKeypointFrame(nil, width, height), nil
	}
	return selected.Frame(width, height), nil
}

func (sess *Session) snapshot() Update {
	return Update{
		RepetitionCount: sess.state.RepetitionCount,
		Phase:           sess.state.Phase,
		Eligible:        sess.state.RepetitionCount >= sess.target,
	}
}

// Snapshot returns current counters without evaluating a frame
func (sess *Session) Snapshot() Update {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.snapshot()
}

// SetManual switches between camera and manual counting. Count is kept,
// detection restarts from standing when the camera is resumed
func (sess *Session) SetManual(manual bool) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.manual == manual {
		return
	}
	sess.manual = manual
	sess.consecutiveErrors = 0
	if !manual {
		sess.restartTracking(sess.state.Mode)
	}
	sess.logger.Info("counting mode changed", "manual", manual)
}

// ManualRep counts one repetition entered by the user
func (sess *Session) ManualRep() (Update, error) {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if !sess.manual {
		return sess.snapshot(), ErrNotManual
	}
	sess.state.RepetitionCount++
	sess.metrics.Repetition("manual")

	upd := sess.snapshot()
	upd.RepetitionCompleted = true
	return upd, nil
}

// SwitchMode changes detection mode keeping repetition count.
// Unknown modes are rejected and leave the session as it was
func (sess *Session) SwitchMode(mode squat.Mode) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	detector, ok := sess.detectors[mode]
	if !ok {
		return errors.Wrapf(ErrUnknownMode, "%s", mode)
	}
	sess.detector = detector
	sess.restartTracking(mode)
	sess.consecutiveErrors = 0
	sess.logger.Info("mode switched", "mode", mode.String())

	return nil
}

// Reset starts the workout over. A token minted earlier stays minted
func (sess *Session) Reset() {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.state = sess.state.Reset()
	sess.restartTracking(sess.state.Mode)
	sess.frames = 0
	sess.consecutiveErrors = 0
	sess.usedCamera = false
	sess.startedAt = sess.now()
}

func (sess *Session) restartTracking(mode squat.Mode) {
	sess.state = sess.state.WithMode(mode)
	if sess.smoother != nil {
		sess.smoother.Reset()
	}
	if sess.lock != nil {
		sess.lock.Release()
	}
}

// Eligible reports whether repetition target is reached
func (sess *Session) Eligible() bool {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.state.RepetitionCount >= sess.target
}

// Run reads frames from source until it is exhausted or ctx is done. sink may be nil
func (sess *Session) Run(ctx context.Context, source pose.Source, sink func(Update)) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := source.Next(ctx)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "Can't read frame")
		}
		upd, err := sess.Process(frame.Poses, frame.Width, frame.Height)
		if err != nil {
			return err
		}
		if sink != nil {
			sink(upd)
		}
	}
}

// Finish stores the workout and returns record identifier
func (sess *Session) Finish(ctx context.Context, store storage.Store) (string, error) {
	sess.mu.Lock()
	now := sess.now()
	workout := storage.Workout{
		SubjectID:       sess.subjectID,
		WalletAddress:   sess.walletAddress,
		RepCount:        sess.state.RepetitionCount,
		DurationSeconds: int(now.Sub(sess.startedAt).Seconds()),
		UsedCamera:      sess.usedCamera,
		Timestamp:       now,
	}
	sess.mu.Unlock()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "squat.session.finish",
		trace.WithAttributes(
			attribute.String("session.id", sess.id.String()),
			attribute.Int("workout.reps", workout.RepCount),
			attribute.Int("workout.duration_seconds", workout.DurationSeconds),
		))
	defer span.End()

	id, err := store.SaveWorkout(ctx, workout)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "save failed")
		return "", errors.Wrap(err, "Can't save workout")
	}
	sess.metrics.WorkoutSaved()
	sess.logger.Info("workout saved", "id", id, "reps", workout.RepCount, "duration", workout.DurationSeconds)

	return id, nil
}

// Mint issues the challenge token once per session. meta supplies token metadata,
// subject, wallet and count are taken from the session. The minter is called without
// holding the session lock, so frames keep flowing while the request is in flight
func (sess *Session) Mint(ctx context.Context, minter mint.Minter, meta mint.Request) (string, error) {
	sess.mu.Lock()
	if sess.minting {
		sess.mu.Unlock()
		return "", ErrMintInProgress
	}
	count := sess.state.RepetitionCount
	gate := mint.Gate{Target: sess.target}
	if err := gate.Check(count, sess.minted, sess.walletAddress); err != nil {
		sess.mu.Unlock()
		sess.metrics.Mint("rejected")
		return "", err
	}
	sess.minting = true
	sess.mu.Unlock()

	defer func() {
		sess.mu.Lock()
		sess.minting = false
		sess.mu.Unlock()
	}()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "squat.session.mint",
		trace.WithAttributes(
			attribute.String("session.id", sess.id.String()),
			attribute.Int("workout.reps", count),
		))
	defer span.End()

	req := meta
	req.SubjectID = sess.subjectID
	req.WalletAddress = sess.walletAddress
	req.RepCount = count

	signature, err := minter.Mint(ctx, req)
	if err != nil {
		sess.metrics.Mint("failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, "mint failed")
		return "", errors.Wrap(err, "Can't mint token")
	}

	sess.mu.Lock()
	sess.minted = true
	sess.mu.Unlock()
	sess.metrics.Mint("ok")
	sess.logger.Info("token minted", "signature", signature, "wallet", sess.walletAddress)

	return signature, nil
}
