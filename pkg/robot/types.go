// Package robot defines the vocabulary shared by every robot driver: the
// Adapter contract, the value types it exchanges with callers, and the
// Factory that turns a robot code into a driver instance.
//
// Drivers never signal failure by returning an error from an action. Every
// action returns a TaskResult whose Success flag carries the outcome, so a
// dispatcher can treat a quadruped, a humanoid and a manipulator uniformly
// even when a given model cannot perform the requested operation.
package robot

import (
	"fmt"
	"time"
)

// Category is the morphology family a robot belongs to.
type Category string

const (
	CategoryQuadruped   Category = "quadruped"
	CategoryHumanoid    Category = "humanoid"
	CategoryManipulator Category = "manipulator"
	CategoryWheeled     Category = "wheeled"
	CategoryAerial      Category = "aerial"
	CategorySurface     Category = "surface"
)

// Valid reports whether c is one of the known categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryQuadruped, CategoryHumanoid, CategoryManipulator,
		CategoryWheeled, CategoryAerial, CategorySurface:
		return true
	}
	return false
}

// Limb names accepted by the arm operations.
const (
	LimbLeft  = "left"
	LimbRight = "right"
)

// State is a read-only snapshot of a robot's pose and health.
type State struct {
	// Position is x, y, z in meters.
	Position [3]float64 `json:"position"`

	// Orientation is a unit quaternion in x, y, z, w order.
	Orientation [4]float64 `json:"orientation"`

	// JointPositions and JointVelocities are sized to the model's joint count.
	JointPositions  []float64 `json:"joint_positions"`
	JointVelocities []float64 `json:"joint_velocities"`

	// Battery is the charge level in percent, always within [0, 100].
	Battery float64 `json:"battery"`

	// Temperature is the hottest reported component temperature in Celsius.
	Temperature float64 `json:"temperature"`

	Timestamp time.Time `json:"timestamp"`
}

// NewState builds a snapshot with joint arrays sized to jointCount and the
// battery level clamped to [0, 100].
func NewState(jointCount int, battery, temperature float64, at time.Time) State {
	if jointCount < 0 {
		jointCount = 0
	}
	return State{
		Orientation:     [4]float64{0, 0, 0, 1},
		JointPositions:  make([]float64, jointCount),
		JointVelocities: make([]float64, jointCount),
		Battery:         ClampBattery(battery),
		Temperature:     temperature,
		Timestamp:       at,
	}
}

// ClampBattery limits a battery reading to [0, 100].
func ClampBattery(pct float64) float64 {
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return pct
}

// Summary returns the condensed status view exposed to command callers.
func (s State) Summary() map[string]any {
	return map[string]any{
		"position":    []float64{s.Position[0], s.Position[1], s.Position[2]},
		"battery":     fmt.Sprintf("%.1f%%", s.Battery),
		"temperature": fmt.Sprintf("%.1f°C", s.Temperature),
	}
}

// TaskResult is the uniform outcome of every Adapter operation.
type TaskResult struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Ok returns a successful result.
func Ok(format string, args ...any) TaskResult {
	return TaskResult{Success: true, Message: fmt.Sprintf(format, args...)}
}

// Fail returns a failed result.
func Fail(format string, args ...any) TaskResult {
	return TaskResult{Success: false, Message: fmt.Sprintf(format, args...)}
}

// Unsupported returns the failed result used when a robot model lacks the
// capability an operation needs.
func Unsupported(code, operation string) TaskResult {
	return TaskResult{
		Success: false,
		Message: fmt.Sprintf("%s does not support %s", code, operation),
		Data:    map[string]any{"unsupported": true},
	}
}

// WithData returns a copy of r carrying data.
func (r TaskResult) WithData(data map[string]any) TaskResult {
	r.Data = data
	return r
}

// Capabilities describes what one robot model can physically do. It is fixed
// when the adapter is constructed.
type Capabilities struct {
	CanJump          bool     `json:"can_jump" yaml:"can_jump"`
	BipedalWalk      bool     `json:"bipedal_walk" yaml:"bipedal_walk"`
	Locomotion       bool     `json:"locomotion" yaml:"locomotion"`
	MaxLinearSpeed   float64  `json:"max_linear_speed" yaml:"max_linear_speed"`
	MaxRotationSpeed float64  `json:"max_rotation_speed" yaml:"max_rotation_speed"`
	HasArm           bool     `json:"has_arm" yaml:"has_arm"`
	HasGripper       bool     `json:"has_gripper" yaml:"has_gripper"`
	Arms             []string `json:"arms,omitempty" yaml:"arms"`
	BatteryWh        float64  `json:"battery_wh" yaml:"battery_wh"`
	MassKg           float64  `json:"mass_kg" yaml:"mass_kg"`
}

// HasLimb reports whether limb is one of the model's arms.
func (c Capabilities) HasLimb(limb string) bool {
	for _, a := range c.Arms {
		if a == limb {
			return true
		}
	}
	return false
}

// Info identifies an adapter instance.
type Info struct {
	Code      string   `json:"code"`
	Name      string   `json:"name"`
	Brand     string   `json:"brand"`
	Category  Category `json:"type"`
	IP        string   `json:"ip"`
	Connected bool     `json:"connected"`
}
