package squat

import "math"

// Landmark is a named body landmark as reported by PoseNet-like estimators
type Landmark string

const (
	Nose          Landmark = "nose"
	LeftEye       Landmark = "leftEye"
	RightEye      Landmark = "rightEye"
	LeftEar       Landmark = "leftEar"
	RightEar      Landmark = "rightEar"
	LeftShoulder  Landmark = "leftShoulder"
	RightShoulder Landmark = "rightShoulder"
	LeftElbow     Landmark = "leftElbow"
	RightElbow    Landmark = "rightElbow"
	LeftWrist     Landmark = "leftWrist"
	RightWrist    Landmark = "rightWrist"
	LeftHip       Landmark = "leftHip"
	RightHip      Landmark = "rightHip"
	LeftKnee      Landmark = "leftKnee"
	RightKnee     Landmark = "rightKnee"
	LeftAnkle     Landmark = "leftAnkle"
	RightAnkle    Landmark = "rightAnkle"
)

// Keypoint is a single landmark observation.
// Position is in image-plane pixels, Score is confidence in [0, 1]
type Keypoint struct {
	Part     Landmark
	Position Point
	Score    float64
}

// KeypointFrame holds keypoints of one person for one video frame.
// Width and Height are frame dimensions in pixels (zero when unknown)
type KeypointFrame struct {
	Keypoints []Keypoint
	Width     float64
	Height    float64
}

// NewKeypointFrame creates frame from keypoints. Duplicate parts are dropped, first occurrence wins
func NewKeypointFrame(keypoints []Keypoint, width, height float64) KeypointFrame {
	seen := make(map[Landmark]struct{}, len(keypoints))
	unique := make([]Keypoint, 0, len(keypoints))
	for _, kp := range keypoints {
		if _, ok := seen[kp.Part]; ok {
			continue
		}
		seen[kp.Part] = struct{}{}
		unique = append(unique, kp)
	}
	return KeypointFrame{
		Keypoints: unique,
		Width:     width,
		Height:    height,
	}
}

// Get returns keypoint for given part
func (frame KeypointFrame) Get(part Landmark) (Keypoint, bool) {
	for _, kp := range frame.Keypoints {
		if kp.Part == part {
			return kp, true
		}
	}
	return Keypoint{}, false
}

// confident returns keypoint only if it present and its score reaches minScore
func (frame KeypointFrame) confident(part Landmark, minScore float64) (Keypoint, bool) {
	kp, ok := frame.Get(part)
	if !ok || kp.Score < minScore {
		return Keypoint{}, false
	}
	return kp, true
}

// Pose is one detected person: overall score and keypoints
type Pose struct {
	Score     float64
	Keypoints []Keypoint
}

// Frame wraps pose's keypoints into KeypointFrame of given size
func (pose Pose) Frame(width, height float64) KeypointFrame {
	return NewKeypointFrame(pose.Keypoints, width, height)
}

// BBox returns bounding box of keypoints with score of at least minScore.
// Returns false when fewer than two keypoints qualify
func (pose Pose) BBox(minScore float64) (Rectangle, bool) {
	minX, minY := math.MaxFloat64, math.MaxFloat64
	maxX, maxY := -math.MaxFloat64, -math.MaxFloat64
	n := 0
	for _, kp := range pose.Keypoints {
		if kp.Score < minScore {
			continue
		}
		n++
		minX = math.Min(minX, kp.Position.X)
		minY = math.Min(minY, kp.Position.Y)
		maxX = math.Max(maxX, kp.Position.X)
		maxY = math.Max(maxY, kp.Position.Y)
	}
	if n < 2 {
		return Rectangle{}, false
	}
	return NewRect(minX, minY, maxX-minX, maxY-minY), true
}
