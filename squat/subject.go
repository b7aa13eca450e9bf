package squat

import (
	"math"

	kalman_filter "github.com/LdDl/kalman-filter"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// SubjectLock follows one person across frames when the estimator reports several.
// Matching uses IoU between pose bounding box and Kalman-predicted box of the subject,
// falling back to center distance when boxes don't overlap
type SubjectLock struct {
	id            uuid.UUID
	locked        bool
	bbox          Rectangle
	predicted     Point
	noMatchTimes  int
	tracker       *kalman_filter.Kalman2D
	dt            float64
	// Max number of frames subject could be not found before lock is released. Default 30
	maxNoMatch int
	// Keypoints below this score are ignored when building bounding boxes. Default 0.5
	minScore float64
}

// NewSubjectLockDefault creates default instance of SubjectLock for 30 fps input
func NewSubjectLockDefault() *SubjectLock {
	return NewSubjectLock(1.0/30.0, 30, DefaultFeatureConfidence)
}

// NewSubjectLock creates new instance of SubjectLock
func NewSubjectLock(dt float64, maxNoMatch int, minScore float64) *SubjectLock {
	return &SubjectLock{
		dt:         dt,
		maxNoMatch: maxNoMatch,
		minScore:   minScore,
	}
}

// ID returns identifier of current subject. Zero UUID when nobody is locked
func (lock *SubjectLock) ID() uuid.UUID {
	return lock.id
}

// Locked reports whether a subject is being followed
func (lock *SubjectLock) Locked() bool {
	return lock.locked
}

// Release forgets current subject
func (lock *SubjectLock) Release() {
	lock.id = uuid.UUID{}
	lock.locked = false
	lock.tracker = nil
	lock.noMatchTimes = 0
}

// Select returns pose of the locked subject among poses of one frame.
// With no subject locked the highest-scoring pose is locked.
// Returns false when the subject is not present on this frame
func (lock *SubjectLock) Select(poses []Pose) (Pose, bool, error) {
	if !lock.locked {
		return lock.lockBest(poses)
	}

	lock.tracker.Predict()
	stateX, stateY := lock.tracker.GetState()
	lock.predicted = Point{X: stateX, Y: stateY}
	predictedBBox := Rectangle{
		X:      lock.predicted.X - lock.bbox.Width/2.0,
		Y:      lock.predicted.Y - lock.bbox.Height/2.0,
		Width:  lock.bbox.Width,
		Height: lock.bbox.Height,
	}

	bestIdx := -1
	bestScore := 0.0
	var bestBBox Rectangle
	for i := range poses {
		bbox, ok := poses[i].BBox(lock.minScore)
		if !ok {
			continue
		}
		// Squats move the box fast vertically, so the last matched box competes with the prediction
		iouValue := math.Max(IoU(bbox, predictedBBox), IoU(bbox, lock.bbox))
		distance := math.Min(euclideanDistance(bbox.Center(), lock.predicted), euclideanDistance(bbox.Center(), lock.bbox.Center()))
		// Favor IoU when boxes overlap, fallback to distance otherwise
		distanceScore := 1.0 / (1.0 + distance*0.01)
		var score float64
		if iouValue > 0.05 {
			score = iouValue*0.8 + distanceScore*0.2
		} else if distance < lock.bbox.Diagonal()*0.5 {
			score = distanceScore * 0.5
		} else {
			continue
		}
		if score > bestScore {
			bestScore = score
			bestIdx = i
			bestBBox = bbox
		}
	}

	if bestIdx < 0 {
		lock.noMatchTimes++
		if lock.noMatchTimes > lock.maxNoMatch {
			lock.Release()
			return lock.lockBest(poses)
		}
		return Pose{}, false, nil
	}

	center := bestBBox.Center()
	if err := lock.tracker.Update(center.X, center.Y); err != nil {
		return Pose{}, false, errors.Wrapf(err, "Can't update subject %s", lock.id.String())
	}
	lock.bbox = bestBBox
	lock.noMatchTimes = 0
	return poses[bestIdx], true, nil
}

func (lock *SubjectLock) lockBest(poses []Pose) (Pose, bool, error) {
	bestIdx := -1
	var bestBBox Rectangle
	for i := range poses {
		bbox, ok := poses[i].BBox(lock.minScore)
		if !ok {
			continue
		}
		if bestIdx < 0 || poses[i].Score > poses[bestIdx].Score {
			bestIdx = i
			bestBBox = bbox
		}
	}
	if bestIdx < 0 {
		return Pose{}, false, nil
	}
	center := bestBBox.Center()
	lock.id = uuid.New()
	lock.locked = true
	lock.bbox = bestBBox
	lock.predicted = center
	lock.noMatchTimes = 0
	lock.tracker = kalman_filter.NewKalman2D(lock.dt, 0.0, 0.0, 2.0, 0.1, 0.1, kalman_filter.WithState2D(center.X, center.Y))
	return poses[bestIdx], true, nil
}
