package squat

import (
	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/pkg/errors"
)

// Smoother reduces keypoint jitter with one 2D Kalman filter per landmark.
// It keeps state between frames, so it belongs to a single tracking session and is not safe for concurrent use
type Smoother struct {
	filters map[Landmark]*kalman_filter.Kalman2D
	// Time step between frames, seconds
	dt float64
	// Keypoints scored below this bypass filtering and reset their filter
	minScore float64
	// Process noise (acceleration std deviation)
	stdDevA float64
	// Measurement noise (pixels)
	stdDevM float64
}

// NewSmootherDefault creates smoother for 30 fps input
func NewSmootherDefault() *Smoother {
	return NewSmoother(1.0/30.0, DefaultFeatureConfidence, 20.0, 3.0)
}

// NewSmoother creates new instance of Smoother
func NewSmoother(dt, minScore, stdDevA, stdDevM float64) *Smoother {
	return &Smoother{
		filters:  make(map[Landmark]*kalman_filter.Kalman2D),
		dt:       dt,
		minScore: minScore,
		stdDevA:  stdDevA,
		stdDevM:  stdDevM,
	}
}

// Smooth returns copy of frame with filtered positions. Scores and parts are unchanged
func (smoother *Smoother) Smooth(frame KeypointFrame) (KeypointFrame, error) {
	out := KeypointFrame{
		Keypoints: make([]Keypoint, len(frame.Keypoints)),
		Width:     frame.Width,
		Height:    frame.Height,
	}
	copy(out.Keypoints, frame.Keypoints)
	seen := make(map[Landmark]struct{}, len(frame.Keypoints))
	for _, kp := range frame.Keypoints {
		seen[kp.Part] = struct{}{}
	}
	// Landmark lost for a frame starts from scratch when it comes back
	for part := range smoother.filters {
		if _, ok := seen[part]; !ok {
			delete(smoother.filters, part)
		}
	}
	for i, kp := range out.Keypoints {
		if kp.Score < smoother.minScore {
			delete(smoother.filters, kp.Part)
			continue
		}
		kf, ok := smoother.filters[kp.Part]
		if !ok {
			smoother.filters[kp.Part] = kalman_filter.NewKalman2D(smoother.dt, 0.0, 0.0, smoother.stdDevA, smoother.stdDevM, smoother.stdDevM, kalman_filter.WithState2D(kp.Position.X, kp.Position.Y))
			continue
		}
		kf.Predict()
		if err := kf.Update(kp.Position.X, kp.Position.Y); err != nil {
			return frame, errors.Wrapf(err, "Can't smooth keypoint '%s'", kp.Part)
		}
		x, y := kf.GetState()
		out.Keypoints[i].Position = Point{X: x, Y: y}
	}
	return out, nil
}

// Reset forgets all filters
func (smoother *Smoother) Reset() {
	smoother.filters = make(map[Landmark]*kalman_filter.Kalman2D)
}
