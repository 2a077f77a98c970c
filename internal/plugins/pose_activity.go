package plugins

import (
	"context"
	"fmt"
	"math"

	"github.com/kozaktomas/people-tracker/internal/identity"
	"github.com/kozaktomas/people-tracker/internal/plugin"
)

// MediaPipe pose indices.
const (
	lmNose          = 0
	lmLeftShoulder  = 11
	lmRightShoulder = 12
	lmLeftElbow     = 13
	lmRightElbow    = 14
	lmLeftWrist     = 15
	lmRightWrist    = 16
	lmLeftHip       = 23
	lmRightHip      = 24
)

// PoseActivity classifies gestures and posture from pose landmarks.
type PoseActivity struct{}

func NewPoseActivity() *PoseActivity { return &PoseActivity{} }

func (*PoseActivity) Name() string            { return "pose_activity" }
func (*PoseActivity) Input() plugin.InputKind { return plugin.InputPose }
func (*PoseActivity) Async() bool             { return false }

type upperBody struct {
	nose, lShoulder, rShoulder, lElbow, rElbow, lWrist, rWrist, lHip, rHip identity.Landmark
}

func readUpperBody(p *identity.Pose) (upperBody, error) {
	var b upperBody
	targets := []struct {
		idx int
		dst *identity.Landmark
	}{
		{lmNose, &b.nose},
		{lmLeftShoulder, &b.lShoulder}, {lmRightShoulder, &b.rShoulder},
		{lmLeftElbow, &b.lElbow}, {lmRightElbow, &b.rElbow},
		{lmLeftWrist, &b.lWrist}, {lmRightWrist, &b.rWrist},
		{lmLeftHip, &b.lHip}, {lmRightHip, &b.rHip},
	}
	for _, t := range targets {
		lm, ok := p.Landmark(t.idx)
		if !ok {
			return b, fmt.Errorf("pose has %d landmarks, landmark %d missing", len(p.Landmarks), t.idx)
		}
		*t.dst = lm
	}
	return b, nil
}

func (*PoseActivity) Process(_ context.Context, s plugin.Subject) (map[string]any, error) {
	b, err := readUpperBody(s.Observation.Pose)
	if err != nil {
		return nil, err
	}
	leftArm := jointAngle(b.lShoulder, b.lElbow, b.lWrist)
	rightArm := jointAngle(b.rShoulder, b.rElbow, b.rWrist)
	return map[string]any{
		"activity":        classifyGesture(b, leftArm, rightArm),
		"posture":         classifyPosture(b),
		"shoulder_angle":  lineAngle(b.lShoulder, b.rShoulder),
		"left_arm_angle":  leftArm,
		"right_arm_angle": rightArm,
		"method":          "pose_analysis",
	}, nil
}

// lineAngle is the angle of the segment a→b from horizontal, in degrees.
func lineAngle(a, b identity.Landmark) float64 {
	return math.Atan2(b.Y-a.Y, b.X-a.X) * 180 / math.Pi
}

// jointAngle is the angle at b between b→a and b→c, in degrees [0, 180].
func jointAngle(a, b, c identity.Landmark) float64 {
	bax, bay := a.X-b.X, a.Y-b.Y
	bcx, bcy := c.X-b.X, c.Y-b.Y
	na, nc := math.Hypot(bax, bay), math.Hypot(bcx, bcy)
	if na == 0 || nc == 0 {
		return 0
	}
	cos := (bax*bcx + bay*bcy) / (na * nc)
	return math.Acos(max(-1, min(1, cos))) * 180 / math.Pi
}

// classifyGesture checks, in order: head dropped below the shoulder line,
// both hands above the head, one forearm raised above the shoulder, and
// folded arms with wrists crossed over the body midline.
func classifyGesture(b upperBody, leftArm, rightArm float64) string {
	shoulderY := (b.lShoulder.Y + b.rShoulder.Y) / 2
	if b.nose.Y > shoulderY+0.1 {
		return "using_phone"
	}
	if b.lWrist.Y < b.nose.Y && b.rWrist.Y < b.nose.Y {
		return "hands_up"
	}
	if (b.lWrist.Y < b.lShoulder.Y && leftArm > 45) || (b.rWrist.Y < b.rShoulder.Y && rightArm > 45) {
		return "waving"
	}
	midX := (b.lShoulder.X + b.rShoulder.X) / 2
	leftCrossed := (b.lWrist.X-midX)*(b.lShoulder.X-midX) < 0
	rightCrossed := (b.rWrist.X-midX)*(b.rShoulder.X-midX) < 0
	if leftArm < 90 && rightArm < 90 && leftCrossed && rightCrossed {
		return "crossed_arms"
	}
	return "neutral"
}

// classifyPosture compares the nose height to the hips in normalized image
// coordinates (y grows downwards).
func classifyPosture(b upperBody) string {
	hipY := (b.lHip.Y + b.rHip.Y) / 2
	switch {
	case b.nose.Y < hipY-0.2:
		return "standing"
	case b.nose.Y > hipY+0.1:
		return "lying"
	default:
		return "sitting"
	}
}
