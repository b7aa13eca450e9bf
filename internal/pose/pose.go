// Package pose talks to the external pose-estimation service and decodes its keypoint output.
package pose

import (
	"bytes"
	"context"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/Youngkwon-Lee/sol-dapp-squat/squat"
)

// Frame is estimator output for one video frame: every detected person plus frame size
type Frame struct {
	Poses  []squat.Pose
	Width  float64
	Height float64
}

// Estimator turns an encoded video frame into poses
type Estimator interface {
	Estimate(ctx context.Context, image []byte) (Frame, error)
}

// Source yields frames one by one. Next returns io.EOF when the stream is over
type Source interface {
	Next(ctx context.Context) (Frame, error)
}

type wirePosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type wireKeypoint struct {
	Part     string       `json:"part"`
	Score    float64      `json:"score"`
	Position wirePosition `json:"position"`
}

type wirePose struct {
	Score     float64        `json:"score"`
	Keypoints []wireKeypoint `json:"keypoints"`
}

// wireFrame accepts both the envelope form {"width","height","poses"} and a bare single pose
type wireFrame struct {
	Width     float64        `json:"width"`
	Height    float64        `json:"height"`
	Poses     []wirePose     `json:"poses"`
	Score     float64        `json:"score,omitempty"`
	Keypoints []wireKeypoint `json:"keypoints,omitempty"`
}

func (wp wirePose) pose() squat.Pose {
	keypoints := make([]squat.Keypoint, len(wp.Keypoints))
	for i, kp := range wp.Keypoints {
		keypoints[i] = squat.Keypoint{
			Part:     squat.Landmark(kp.Part),
			Position: squat.NewPoint(kp.Position.X, kp.Position.Y),
			Score:    kp.Score,
		}
	}
	return squat.Pose{Score: wp.Score, Keypoints: keypoints}
}

// DecodePoses parses PoseNet style JSON. Accepted shapes:
//   - single pose: {"score":0.9,"keypoints":[{"part":"leftHip","score":0.8,"position":{"x":1,"y":2}}]}
//   - array of poses: [{...}, {...}]
//   - envelope: {"width":640,"height":480,"poses":[{...}]}
func DecodePoses(data []byte) (Frame, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return Frame{}, errors.New("empty pose document")
	}

	if trimmed[0] == '[' {
		var poses []wirePose
		if err := json.Unmarshal(trimmed, &poses); err != nil {
			return Frame{}, errors.Wrap(err, "Can't decode pose array")
		}
		frame := Frame{Poses: make([]squat.Pose, len(poses))}
		for i := range poses {
			frame.Poses[i] = poses[i].pose()
		}
		return frame, nil
	}

	var wf wireFrame
	if err := json.Unmarshal(trimmed, &wf); err != nil {
		return Frame{}, errors.Wrap(err, "Can't decode pose document")
	}
	frame := Frame{Width: wf.Width, Height: wf.Height}
	switch {
	case wf.Poses != nil:
		frame.Poses = make([]squat.Pose, len(wf.Poses))
		for i := range wf.Poses {
			frame.Poses[i] = wf.Poses[i].pose()
		}
	case len(wf.Keypoints) > 0:
		frame.Poses = []squat.Pose{wirePose{Score: wf.Score, Keypoints: wf.Keypoints}.pose()}
	}
	return frame, nil
}

// EncodeFrame is the inverse of DecodePoses, always producing the envelope shape
func EncodeFrame(frame Frame) ([]byte, error) {
	wf := wireFrame{Width: frame.Width, Height: frame.Height, Poses: make([]wirePose, len(frame.Poses))}
	for i, p := range frame.Poses {
		wp := wirePose{Score: p.Score, Keypoints: make([]wireKeypoint, len(p.Keypoints))}
		for j, kp := range p.Keypoints {
			wp.Keypoints[j] = wireKeypoint{
				Part:     string(kp.Part),
				Score:    kp.Score,
				Position: wirePosition{X: kp.Position.X, Y: kp.Position.Y},
			}
		}
		wf.Poses[i] = wp
	}
	data, err := json.Marshal(wf)
	if err != nil {
		return nil, errors.Wrap(err, "Can't encode frame")
	}
	return data, nil
}
