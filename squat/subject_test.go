package squat

import (
	"testing"

	"github.com/google/uuid"
)

func standingPerson(centerX, score float64) Pose {
	return Pose{
		Score: score,
		Keypoints: []Keypoint{
			{Part: Nose, Position: Point{X: centerX, Y: 100}, Score: 0.9},
			{Part: LeftAnkle, Position: Point{X: centerX - 30, Y: 400}, Score: 0.9},
			{Part: RightAnkle, Position: Point{X: centerX + 30, Y: 400}, Score: 0.9},
		},
	}
}

func TestSubjectLockFollowsSamePerson(t *testing.T) {
	lock := NewSubjectLock(1.0/30.0, 3, 0.5)
	if lock.Locked() || lock.ID() != (uuid.UUID{}) {
		t.Errorf("New lock must be empty")
	}

	pose, ok, err := lock.Select([]Pose{standingPerson(150, 0.9), standingPerson(500, 0.8)})
	if err != nil {
		t.Error(err)
		return
	}
	if !ok || pose.Keypoints[0].Position.X != 150 {
		t.Errorf("Expected highest scoring person to be locked, got %+v", pose)
		return
	}
	subjectID := lock.ID()

	// Order and scores change: lock must stay on the same person
	for i := 0; i < 5; i++ {
		pose, ok, err = lock.Select([]Pose{standingPerson(500, 0.95), standingPerson(152, 0.7)})
		if err != nil {
			t.Error(err)
			return
		}
		if !ok || pose.Keypoints[0].Position.X != 152 {
			t.Errorf("Iteration %d: lock jumped to another person: %+v", i, pose)
			return
		}
	}
	if lock.ID() != subjectID {
		t.Errorf("Subject ID must not change while tracked")
	}
}

func TestSubjectLockRelease(t *testing.T) {
	lock := NewSubjectLock(1.0/30.0, 3, 0.5)
	if _, _, err := lock.Select([]Pose{standingPerson(150, 0.9)}); err != nil {
		t.Error(err)
		return
	}
	firstID := lock.ID()

	other := []Pose{standingPerson(500, 0.8)}
	for i := 0; i < 3; i++ {
		_, ok, err := lock.Select(other)
		if err != nil {
			t.Error(err)
			return
		}
		if ok {
			t.Errorf("Iteration %d: far away person must not match locked subject", i)
			return
		}
	}
	pose, ok, err := lock.Select(other)
	if err != nil {
		t.Error(err)
		return
	}
	if !ok || pose.Keypoints[0].Position.X != 500 {
		t.Errorf("Lock must move to remaining person after max no match, got %+v", pose)
	}
	if lock.ID() == firstID {
		t.Errorf("New subject must get new ID")
	}
}

func TestSubjectLockNoPoses(t *testing.T) {
	lock := NewSubjectLockDefault()
	_, ok, err := lock.Select(nil)
	if err != nil || ok || lock.Locked() {
		t.Errorf("Empty frame must not lock anybody: ok=%v err=%v", ok, err)
	}
}

func TestSubjectLockFollowsSquattingPerson(t *testing.T) {
	lock := NewSubjectLock(1.0/30.0, 3, 0.5)
	squatting := func(hipY float64) Pose {
		return Pose{
			Score: 0.9,
			Keypoints: []Keypoint{
				{Part: LeftHip, Position: Point{X: 290, Y: hipY}, Score: 0.9},
				{Part: RightHip, Position: Point{X: 350, Y: hipY}, Score: 0.9},
				{Part: LeftKnee, Position: Point{X: 285, Y: hipY + 90}, Score: 0.9},
				{Part: RightKnee, Position: Point{X: 355, Y: hipY + 90}, Score: 0.9},
			},
		}
	}
	for i, hipY := range []float64{100, 160, 100, 160, 100, 160, 100} {
		_, ok, err := lock.Select([]Pose{squatting(hipY)})
		if err != nil {
			t.Error(err)
			return
		}
		if !ok {
			t.Errorf("Frame %d: subject lost", i)
			return
		}
	}
}
