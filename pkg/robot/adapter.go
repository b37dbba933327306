package robot

import (
	"context"
	"math"
)

// Adapter is the contract every robot driver implements.
//
// Velocities passed to Move use the body frame: forward is +x, lateral is +y
// (left) and yawRate is +z (counter-clockwise, i.e. turning left). Drivers
// clamp magnitudes to their Capabilities limits.
type Adapter interface {
	// Info identifies the adapter and reports its connection flag.
	Info() Info

	// Capabilities returns the model's capability record.
	Capabilities() Capabilities

	// Connect reaches (or simulates) the device. A non-nil error is a
	// connection failure; the adapter stays disconnected.
	Connect(ctx context.Context) error

	// Disconnect releases the device. It is safe to call more than once.
	Disconnect()

	// State returns the latest snapshot.
	State() State

	Stand() TaskResult
	Sit() TaskResult
	Stop() TaskResult
	Move(forward, lateral, yawRate float64) TaskResult

	// GoTo navigates to position. A nil orientation keeps the current heading.
	GoTo(position [3]float64, orientation *[4]float64) TaskResult

	// Arm operations. Models without arms return an Unsupported result.
	MoveArm(limb string, target []float64) TaskResult
	Grasp(limb string, force float64) TaskResult
	Release(limb string) TaskResult

	// PlayAction runs a named predefined motion from the adapter's action
	// table. Unknown names produce a failed result.
	PlayAction(name string) TaskResult

	// Actions lists the names PlayAction accepts.
	Actions() []string
}

// DefaultGraspForce is the grip force in newtons used when a caller does not
// specify one.
const DefaultGraspForce = 10.0

// NoArms can be embedded by adapters for models without manipulators. It
// supplies the arm operations as Unsupported results.
type NoArms struct {
	Code string
}

// MoveArm implements Adapter.
func (n NoArms) MoveArm(string, []float64) TaskResult {
	return Unsupported(n.Code, "arm control")
}

// Grasp implements Adapter.
func (n NoArms) Grasp(string, float64) TaskResult {
	return Unsupported(n.Code, "grasping")
}

// Release implements Adapter.
func (n NoArms) Release(string) TaskResult {
	return Unsupported(n.Code, "releasing")
}

// ClampVelocity limits a commanded velocity to [-limit, limit]. A
// non-positive limit means the axis cannot move at all.
func ClampVelocity(v, limit float64) float64 {
	if limit <= 0 {
		return 0
	}
	return math.Max(-limit, math.Min(limit, v))
}
