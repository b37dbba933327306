package so101

import (
	"encoding/json"
	"fmt"
	"os"
)

// Joint names one SO-101 servo.
type Joint string

// SO-101 joints, in servo ID order.
const (
	ShoulderPan  Joint = "shoulder_pan"
	ShoulderLift Joint = "shoulder_lift"
	ElbowFlex    Joint = "elbow_flex"
	WristFlex    Joint = "wrist_flex"
	WristRoll    Joint = "wrist_roll"
	Gripper      Joint = "gripper"
)

// Joints returns every joint in servo ID order.
func Joints() []Joint {
	return []Joint{ShoulderPan, ShoulderLift, ElbowFlex, WristFlex, WristRoll, Gripper}
}

// ArmJoints returns the joints MoveArm targets, everything but the gripper.
func ArmJoints() []Joint {
	return Joints()[:5]
}

// JointCalibration maps one servo's raw encoder range onto [-100, 100].
type JointCalibration struct {
	ID           int `json:"id"`
	DriveMode    int `json:"drive_mode"`
	HomingOffset int `json:"homing_offset"`
	RangeMin     int `json:"range_min"`
	RangeMax     int `json:"range_max"`
}

// Normalize converts a raw position to [-100, 100].
func (c JointCalibration) Normalize(raw int) float64 {
	span := float64(c.RangeMax - c.RangeMin)
	if span == 0 {
		return 0
	}
	return (float64(raw-c.RangeMin)/span)*200 - 100
}

// Denormalize converts a value in [-100, 100] to a raw position. Values
// outside the range are clamped first.
func (c JointCalibration) Denormalize(norm float64) int {
	if norm < -100 {
		norm = -100
	}
	if norm > 100 {
		norm = 100
	}
	span := float64(c.RangeMax - c.RangeMin)
	return int((norm+100)/200*span) + c.RangeMin
}

// Calibration holds per-joint calibration keyed by joint name. The JSON
// layout matches the calibration files written by LeRobot tooling.
type Calibration map[Joint]JointCalibration

// DefaultCalibration assumes IDs 1-6 and the full 12-bit encoder range.
func DefaultCalibration() Calibration {
	cal := make(Calibration, 6)
	for i, j := range Joints() {
		cal[j] = JointCalibration{ID: i + 1, RangeMin: 0, RangeMax: 4095}
	}
	return cal
}

// LoadCalibration reads a calibration JSON file.
func LoadCalibration(path string) (Calibration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read calibration file: %w", err)
	}

	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("parse calibration %s: %w", path, err)
	}
	for _, j := range Joints() {
		if _, ok := cal[j]; !ok {
			return nil, fmt.Errorf("calibration %s: missing joint %s", path, j)
		}
	}
	return cal, nil
}

// IDs returns servo IDs in joint order.
func (c Calibration) IDs() []int {
	ids := make([]int, 0, len(c))
	for _, j := range Joints() {
		if jc, ok := c[j]; ok {
			ids = append(ids, jc.ID)
		}
	}
	return ids
}

func (c Calibration) byID(id int) (Joint, JointCalibration, bool) {
	for j, jc := range c {
		if jc.ID == id {
			return j, jc, true
		}
	}
	return "", JointCalibration{}, false
}
