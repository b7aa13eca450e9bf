// Package squat counts squat repetitions from body keypoints produced by a pose estimator.
package squat

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Mode selects which geometric test is applied to a frame
type Mode int

const (
	// FrontView tracks average hip height, user faces the camera
	FrontView Mode = iota
	// SideView tracks knee joint angle, user stands sideways
	SideView
)

func (mode Mode) String() string {
	switch mode {
	case FrontView:
		return "front-view"
	case SideView:
		return "side-view"
	default:
		return fmt.Sprintf("mode(%d)", int(mode))
	}
}

// ParseMode parses "front"/"front-view" and "side"/"side-view"
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "front", "front-view":
		return FrontView, nil
	case "side", "side-view":
		return SideView, nil
	default:
		return FrontView, errors.Errorf("unknown detector mode '%s'", s)
	}
}

// Phase of a single repetition
type Phase int

const (
	Standing Phase = iota
	Descending
)

func (phase Phase) String() string {
	if phase == Descending {
		return "descending"
	}
	return "standing"
}

// ErrorKind classifies why a frame could not be measured
type ErrorKind int

const (
	// MissingLandmark means a required keypoint is absent or below confidence threshold
	MissingLandmark ErrorKind = iota
	// InvalidGeometry means keypoints are present but the metric can't be computed
	InvalidGeometry
)

func (kind ErrorKind) String() string {
	if kind == InvalidGeometry {
		return "invalid_geometry"
	}
	return "missing_landmark"
}

// VisibilityError is an advisory, recoverable error for a single frame
type VisibilityError struct {
	Kind      ErrorKind
	Landmarks []Landmark
}

func (err *VisibilityError) Error() string {
	names := make([]string, len(err.Landmarks))
	for i, lm := range err.Landmarks {
		names[i] = string(lm)
	}
	if err.Kind == InvalidGeometry {
		return fmt.Sprintf("can't measure pose, keypoints overlap: %s", strings.Join(names, ", "))
	}
	return fmt.Sprintf("make sure your whole body is visible, missing: %s", strings.Join(names, ", "))
}

// State is everything the detector remembers between frames.
// It is a plain value: callers keep the returned copy and pass it to the next Observe
type State struct {
	Mode  Mode
	Phase Phase
	// Last metric value recorded at a transition (hip y in pixels or knee angle in degrees)
	ReferenceMetric float64
	// False until the first measurable frame seeds ReferenceMetric
	HasReference    bool
	RepetitionCount int
	// Whether all landmarks required by Mode passed visibility confidence on the latest frame
	BodyVisible bool
}

// NewState creates initial state for given mode
func NewState(mode Mode) State {
	return State{
		Mode:  mode,
		Phase: Standing,
	}
}

// Reset returns state with zero repetitions, standing phase and no reference
func (state State) Reset() State {
	return NewState(state.Mode)
}

// WithMode returns state switched to another mode. Repetition count is kept, phase and reference start over
func (state State) WithMode(mode Mode) State {
	next := NewState(mode)
	next.RepetitionCount = state.RepetitionCount
	return next
}

// Observation is detector's per-frame output besides the next state
type Observation struct {
	// Metric measured on this frame: average hip y for FrontView, knee angle for SideView
	Metric              float64
	RepetitionCompleted bool
	// Non-nil when the frame could not be measured
	VisibilityError *VisibilityError
}

// Config parameterizes detector for one mode.
// Thresholds are pixels for FrontView and degrees for SideView
type Config struct {
	Mode Mode
	// FrontView: hip must drop by more than this (px) to start a repetition.
	// SideView: knee angle must close below this (deg)
	DescendThreshold float64
	// FrontView: hip must rise by more than this (px) to finish a repetition.
	// SideView: knee angle must open above this (deg)
	AscendThreshold float64
	// Minimal score for a landmark to count as visible. Default 0.2
	VisibilityConfidence float64
	// Minimal score for a landmark to be used in geometry. Default 0.5
	FeatureConfidence float64
	// FrontView only: frame height the pixel thresholds were tuned for.
	// When set and frame height is known, thresholds scale with frame height. Zero disables scaling
	ReferenceFrameHeight float64
}

const (
	DefaultVisibilityConfidence = 0.2
	DefaultFeatureConfidence    = 0.5
)

// DesktopFrontConfig is tuned for 640x480 webcam capture
func DesktopFrontConfig() Config {
	return Config{
		Mode:                 FrontView,
		DescendThreshold:     30.0,
		AscendThreshold:      30.0,
		VisibilityConfidence: DefaultVisibilityConfidence,
		FeatureConfidence:    DefaultFeatureConfidence,
	}
}

// MobileFrontConfig is tuned for higher resolution phone capture
func MobileFrontConfig() Config {
	return Config{
		Mode:                 FrontView,
		DescendThreshold:     55.0,
		AscendThreshold:      55.0,
		VisibilityConfidence: DefaultVisibilityConfidence,
		FeatureConfidence:    DefaultFeatureConfidence,
	}
}

// SideConfig counts a repetition when knee closes below 100 degrees and opens above 150
func SideConfig() Config {
	return Config{
		Mode:                 SideView,
		DescendThreshold:     100.0,
		AscendThreshold:      150.0,
		VisibilityConfidence: DefaultVisibilityConfidence,
		FeatureConfidence:    DefaultFeatureConfidence,
	}
}

// Validate checks thresholds for consistency with Mode
func (cfg Config) Validate() error {
	if cfg.Mode != FrontView && cfg.Mode != SideView {
		return errors.Errorf("unsupported mode %d", int(cfg.Mode))
	}
	if cfg.DescendThreshold <= 0 || cfg.AscendThreshold <= 0 {
		return errors.Errorf("thresholds must be positive, got descend=%v ascend=%v", cfg.DescendThreshold, cfg.AscendThreshold)
	}
	if cfg.Mode == SideView {
		if cfg.AscendThreshold > 180 || cfg.DescendThreshold >= cfg.AscendThreshold {
			return errors.Errorf("side-view needs 0 < descend < ascend <= 180, got descend=%v ascend=%v", cfg.DescendThreshold, cfg.AscendThreshold)
		}
	}
	if cfg.VisibilityConfidence < 0 || cfg.VisibilityConfidence > 1 || cfg.FeatureConfidence < 0 || cfg.FeatureConfidence > 1 {
		return errors.Errorf("confidence thresholds must be within [0, 1], got visibility=%v feature=%v", cfg.VisibilityConfidence, cfg.FeatureConfidence)
	}
	if cfg.ReferenceFrameHeight < 0 {
		return errors.Errorf("reference frame height can't be negative: %v", cfg.ReferenceFrameHeight)
	}
	return nil
}

// Detector decides repetition boundaries. It holds configuration only and is safe for concurrent use
type Detector struct {
	cfg Config
}

// NewDetectorDefault creates detector with default thresholds for given mode (desktop capture for FrontView)
func NewDetectorDefault(mode Mode) *Detector {
	if mode == SideView {
		return &Detector{cfg: SideConfig()}
	}
	return &Detector{cfg: DesktopFrontConfig()}
}

// NewDetector creates detector for validated config
func NewDetector(cfg Config) (*Detector, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid detector config")
	}
	return &Detector{cfg: cfg}, nil
}

// Config returns detector's configuration
func (detector *Detector) Config() Config {
	return detector.cfg
}

// NewState creates initial state for detector's mode
func (detector *Detector) NewState() State {
	return NewState(detector.cfg.Mode)
}

// Observe evaluates one frame against state and returns next state.
// It has no side effects. A state recorded in another mode is restarted in detector's mode first.
// When required landmarks are missing, phase, reference and count are left as they were
// and only BodyVisible reflects the frame
func (detector *Detector) Observe(frame KeypointFrame, state State) (State, Observation) {
	if state.Mode != detector.cfg.Mode {
		state = state.WithMode(detector.cfg.Mode)
	}
	switch detector.cfg.Mode {
	case SideView:
		return detector.observeSide(frame, state)
	default:
		return detector.observeFront(frame, state)
	}
}

var (
	frontVisibleSet = []Landmark{LeftHip, RightHip, LeftKnee, RightKnee}
	frontFeatureSet = []Landmark{LeftHip, RightHip}
	leftLeg         = []Landmark{LeftHip, LeftKnee, LeftAnkle}
	rightLeg        = []Landmark{RightHip, RightKnee, RightAnkle}
)

// missing returns parts from set which are absent or scored below minScore
func missing(frame KeypointFrame, set []Landmark, minScore float64) []Landmark {
	var absent []Landmark
	for _, part := range set {
		if _, ok := frame.confident(part, minScore); !ok {
			absent = append(absent, part)
		}
	}
	return absent
}

func (detector *Detector) observeFront(frame KeypointFrame, state State) (State, Observation) {
	if invisible := missing(frame, frontVisibleSet, detector.cfg.VisibilityConfidence); len(invisible) > 0 {
		state.BodyVisible = false
		return state, Observation{VisibilityError: &VisibilityError{Kind: MissingLandmark, Landmarks: invisible}}
	}
	state.BodyVisible = true
	if absent := missing(frame, frontFeatureSet, detector.cfg.FeatureConfidence); len(absent) > 0 {
		return state, Observation{VisibilityError: &VisibilityError{Kind: MissingLandmark, Landmarks: absent}}
	}
	leftHip, _ := frame.Get(LeftHip)
	rightHip, _ := frame.Get(RightHip)
	hipY := (leftHip.Position.Y + rightHip.Position.Y) / 2.0
	obs := Observation{Metric: hipY}

	if !state.HasReference {
		state.ReferenceMetric = hipY
		state.HasReference = true
		return state, obs
	}

	scale := 1.0
	if detector.cfg.ReferenceFrameHeight > 0 && frame.Height > 0 {
		scale = frame.Height / detector.cfg.ReferenceFrameHeight
	}
	descend := detector.cfg.DescendThreshold * scale
	ascend := detector.cfg.AscendThreshold * scale

	// Image y grows downwards: a larger hip y means the hips went lower
	switch {
	case state.Phase == Standing && hipY > state.ReferenceMetric+descend:
		state.Phase = Descending
		state.ReferenceMetric = hipY
	case state.Phase == Descending && hipY < state.ReferenceMetric-ascend:
		state.Phase = Standing
		state.ReferenceMetric = hipY
		state.RepetitionCount++
		obs.RepetitionCompleted = true
	}
	return state, obs
}

// pickLeg returns the leg whose weakest keypoint has the highest score. Left wins ties
func pickLeg(frame KeypointFrame) []Landmark {
	weakest := func(leg []Landmark) float64 {
		lowest := 1.0
		for _, part := range leg {
			kp, ok := frame.Get(part)
			if !ok {
				return 0
			}
			if kp.Score < lowest {
				lowest = kp.Score
			}
		}
		return lowest
	}
	if weakest(rightLeg) > weakest(leftLeg) {
		return rightLeg
	}
	return leftLeg
}

func (detector *Detector) observeSide(frame KeypointFrame, state State) (State, Observation) {
	leg := pickLeg(frame)
	if invisible := missing(frame, leg, detector.cfg.VisibilityConfidence); len(invisible) > 0 {
		state.BodyVisible = false
		return state, Observation{VisibilityError: &VisibilityError{Kind: MissingLandmark, Landmarks: invisible}}
	}
	state.BodyVisible = true
	if absent := missing(frame, leg, detector.cfg.FeatureConfidence); len(absent) > 0 {
		return state, Observation{VisibilityError: &VisibilityError{Kind: MissingLandmark, Landmarks: absent}}
	}
	hip, _ := frame.Get(leg[0])
	knee, _ := frame.Get(leg[1])
	ankle, _ := frame.Get(leg[2])
	angle, err := KneeAngle(hip.Position, knee.Position, ankle.Position)
	if err != nil {
		return state, Observation{VisibilityError: &VisibilityError{Kind: InvalidGeometry, Landmarks: leg}}
	}
	obs := Observation{Metric: angle}
	if !state.HasReference {
		state.ReferenceMetric = angle
		state.HasReference = true
	}
	switch {
	case state.Phase == Standing && angle < detector.cfg.DescendThreshold:
		state.Phase = Descending
		state.ReferenceMetric = angle
	case state.Phase == Descending && angle > detector.cfg.AscendThreshold:
		state.Phase = Standing
		state.ReferenceMetric = angle
		state.RepetitionCount++
		obs.RepetitionCompleted = true
	}
	return state, obs
}
