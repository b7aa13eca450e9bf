package squat

import (
	"math"

	"github.com/pkg/errors"
)

// ErrDegenerateJoint is returned when a limb vector has zero length
var ErrDegenerateJoint = errors.New("degenerate joint: two keypoints share a position")

type Point struct {
	X float64
	Y float64
}

func NewPoint(x, y float64) Point {
	return Point{
		X: x,
		Y: y,
	}
}

type Rectangle struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

func NewRect(x, y, width, height float64) Rectangle {
	return Rectangle{
		X:      x,
		Y:      y,
		Width:  width,
		Height: height,
	}
}

// Center returns center of rectangle
func (rect Rectangle) Center() Point {
	return Point{
		X: rect.X + rect.Width/2.0,
		Y: rect.Y + rect.Height/2.0,
	}
}

// Diagonal returns length of rectangle's diagonal
func (rect Rectangle) Diagonal() float64 {
	return math.Sqrt(rect.Width*rect.Width + rect.Height*rect.Height)
}

func euclideanDistance(p1, p2 Point) float64 {
	return math.Sqrt(math.Pow(p1.X-p2.X, 2) + math.Pow(p1.Y-p2.Y, 2))
}

// KneeAngle returns the joint angle at knee formed by hip and ankle, in degrees within [0, 180].
// Angle is |atan2(ankle-knee) - atan2(hip-knee)|, reflected when it exceeds 180.
func KneeAngle(hip, knee, ankle Point) (float64, error) {
	if hip == knee || ankle == knee {
		return 0, ErrDegenerateJoint
	}
	radians := math.Atan2(ankle.Y-knee.Y, ankle.X-knee.X) - math.Atan2(hip.Y-knee.Y, hip.X-knee.X)
	angle := math.Mod(math.Abs(radians*180.0/math.Pi), 360.0)
	if angle > 180.0 {
		angle = 360.0 - angle
	}
	return angle, nil
}

// IoU calculates Intersection over Union between two rectangles.
func IoU(r1, r2 Rectangle) float64 {
	xA := math.Max(r1.X, r2.X)
	yA := math.Max(r1.Y, r2.Y)
	xB := math.Min(r1.X+r1.Width, r2.X+r2.Width)
	yB := math.Min(r1.Y+r1.Height, r2.Y+r2.Height)

	interArea := math.Max(0, xB-xA) * math.Max(0, yB-yA)
	if interArea == 0 {
		return 0.0
	}

	r1Area := r1.Width * r1.Height
	r2Area := r2.Width * r2.Height
	return interArea / (r1Area + r2Area - interArea)
}
