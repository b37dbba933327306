// Package sim provides simulated robot drivers. One Driver type serves every
// model; the Model record selects identity, limits and action table.
//
// The simulation dead-reckons the body pose from the last commanded
// velocity, so positions advance with clock time between calls.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"robotcontrol/internal/clock"
	"robotcontrol/pkg/robot"
)

// ErrSimulatedFailure is returned by Connect when the driver was configured
// to refuse connections.
var ErrSimulatedFailure = errors.New("simulated connection failure")

// drainPerMeter is the battery percentage consumed per meter travelled.
const drainPerMeter = 0.1

// Driver is a simulated implementation of robot.Adapter.
type Driver struct {
	model   Model
	ip      string
	clock   clock.Clock
	logger  *zap.Logger
	actions *robot.ActionTable

	failConnect bool

	mu        sync.Mutex
	connected bool
	position  [3]float64
	yaw       float64
	velocity  [3]float64
	battery   float64
	updated   time.Time
	holding   map[string]bool
}

// NewDriver creates a disconnected simulated driver for model.
//
// Recognized options: "fail_connect" (bool) makes Connect fail, "battery"
// (float) overrides the initial charge.
func NewDriver(model Model, ip string, opts robot.Options, clk clock.Clock, logger *zap.Logger) *Driver {
	return &Driver{
		model:       model,
		ip:          ip,
		clock:       clk,
		logger:      logger.Named("sim").With(zap.String("code", model.Code)),
		actions:     robot.NewActionTable(model.Actions...),
		failConnect: opts.Bool("fail_connect", false),
		battery:     robot.ClampBattery(opts.Float("battery", model.Battery)),
		holding:     make(map[string]bool),
	}
}

// Constructor returns a robot.Constructor that builds drivers for model.
func Constructor(model Model, clk clock.Clock, logger *zap.Logger) robot.Constructor {
	return func(ip string, opts robot.Options) (robot.Adapter, error) {
		return NewDriver(model, ip, opts, clk, logger), nil
	}
}

// Model returns the model record the driver was built from.
func (d *Driver) Model() Model {
	return d.model
}

// Info implements robot.Adapter.
func (d *Driver) Info() robot.Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return robot.Info{
		Code:      d.model.Code,
		Name:      d.model.Name,
		Brand:     d.model.Brand,
		Category:  d.model.Category,
		IP:        d.ip,
		Connected: d.connected,
	}
}

// Capabilities implements robot.Adapter.
func (d *Driver) Capabilities() robot.Capabilities {
	return d.model.Capabilities
}

// Connect implements robot.Adapter.
func (d *Driver) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("connect %s: %w", d.model.Code, err)
	}
	if d.failConnect {
		d.logger.Warn("Refusing connection", zap.String("ip", d.ip))
		return fmt.Errorf("connect %s at %s: %w", d.model.Code, d.ip, ErrSimulatedFailure)
	}

	d.mu.Lock()
	d.connected = true
	d.updated = d.clock.Now()
	d.mu.Unlock()

	d.logger.Info("Connected to simulated robot", zap.String("ip", d.ip))
	return nil
}

// Disconnect implements robot.Adapter.
func (d *Driver) Disconnect() {
	d.mu.Lock()
	wasConnected := d.connected
	d.connected = false
	d.velocity = [3]float64{}
	d.mu.Unlock()

	if wasConnected {
		d.logger.Info("Disconnected from simulated robot")
	}
}

// State implements robot.Adapter.
func (d *Driver) State() robot.State {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.integrate()

	s := robot.NewState(d.model.Joints, d.battery, d.model.Temperature, d.clock.Now())
	s.Position = d.position
	s.Orientation = yawQuaternion(d.yaw)
	for i := range s.JointVelocities {
		s.JointVelocities[i] = math.Abs(d.velocity[0]) + math.Abs(d.velocity[1])
	}
	return s
}

// integrate advances the pose by the commanded velocity since the last
// update. Callers hold d.mu.
func (d *Driver) integrate() {
	now := d.clock.Now()
	if d.updated.IsZero() {
		d.updated = now
		return
	}
	dt := now.Sub(d.updated).Seconds()
	d.updated = now
	if dt <= 0 || d.velocity == [3]float64{} {
		return
	}

	cos, sin := math.Cos(d.yaw), math.Sin(d.yaw)
	dx := (d.velocity[0]*cos - d.velocity[1]*sin) * dt
	dy := (d.velocity[0]*sin + d.velocity[1]*cos) * dt
	d.position[0] += dx
	d.position[1] += dy
	d.yaw = math.Mod(d.yaw+d.velocity[2]*dt, 2*math.Pi)
	d.drain(math.Hypot(dx, dy))
}

func (d *Driver) drain(meters float64) {
	d.battery = robot.ClampBattery(d.battery - meters*drainPerMeter)
}

// ready reports a failed result when the driver is not connected. Callers
// hold d.mu.
func (d *Driver) ready() (robot.TaskResult, bool) {
	if !d.connected {
		return robot.Fail("%s is not connected", d.model.Code), false
	}
	d.integrate()
	return robot.TaskResult{}, true
}

// Stand implements robot.Adapter.
func (d *Driver) Stand() robot.TaskResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.ready(); !ok {
		return r
	}
	d.position[2] = d.model.StandHeight
	return robot.Ok("Stand executed").WithData(map[string]any{"height": d.model.StandHeight})
}

// Sit implements robot.Adapter.
func (d *Driver) Sit() robot.TaskResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.ready(); !ok {
		return r
	}
	d.velocity = [3]float64{}
	d.position[2] = d.model.SitHeight
	return robot.Ok("Sit executed").WithData(map[string]any{"height": d.model.SitHeight})
}

// Stop implements robot.Adapter.
func (d *Driver) Stop() robot.TaskResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.ready(); !ok {
		return r
	}
	d.velocity = [3]float64{}
	return robot.Ok("Stopped").WithData(map[string]any{"velocity": []float64{0, 0, 0}})
}

// Move implements robot.Adapter. Velocities are clamped to the model limits.
func (d *Driver) Move(forward, lateral, yawRate float64) robot.TaskResult {
	caps := d.model.Capabilities
	if !caps.Locomotion {
		return robot.Unsupported(d.model.Code, "locomotion")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.ready(); !ok {
		return r
	}

	d.velocity = [3]float64{
		robot.ClampVelocity(forward, caps.MaxLinearSpeed),
		robot.ClampVelocity(lateral, caps.MaxLinearSpeed),
		robot.ClampVelocity(yawRate, caps.MaxRotationSpeed),
	}
	v := d.velocity
	return robot.Ok("Move: x=%.2f, y=%.2f, yaw=%.2f", v[0], v[1], v[2]).
		WithData(map[string]any{"velocity": []float64{v[0], v[1], v[2]}})
}

// GoTo implements robot.Adapter. The simulation arrives immediately.
func (d *Driver) GoTo(position [3]float64, orientation *[4]float64) robot.TaskResult {
	if !d.model.Capabilities.Locomotion {
		return robot.Unsupported(d.model.Code, "navigation")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.ready(); !ok {
		return r
	}

	d.drain(math.Hypot(position[0]-d.position[0], position[1]-d.position[1]))
	d.velocity = [3]float64{}
	d.position = position
	if orientation != nil {
		d.yaw = quaternionYaw(*orientation)
	}
	return robot.Ok("Go to [%.2f, %.2f, %.2f]", position[0], position[1], position[2]).
		WithData(map[string]any{"position": []float64{position[0], position[1], position[2]}})
}

// MoveArm implements robot.Adapter.
func (d *Driver) MoveArm(limb string, target []float64) robot.TaskResult {
	if !d.model.Capabilities.HasArm {
		return robot.Unsupported(d.model.Code, "arm control")
	}
	if !d.model.Capabilities.HasLimb(limb) {
		return robot.Fail("%s has no %s arm", d.model.Code, limb)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.ready(); !ok {
		return r
	}
	return robot.Ok("Move %s arm to %v", limb, target)
}

// Grasp implements robot.Adapter.
func (d *Driver) Grasp(limb string, force float64) robot.TaskResult {
	return d.grip(limb, true, "grasping", fmt.Sprintf("Grasp with %s arm (%.1f N)", limb, force))
}

// Release implements robot.Adapter.
func (d *Driver) Release(limb string) robot.TaskResult {
	return d.grip(limb, false, "releasing", fmt.Sprintf("Release %s arm", limb))
}

func (d *Driver) grip(limb string, closed bool, operation, message string) robot.TaskResult {
	caps := d.model.Capabilities
	if !caps.HasGripper {
		return robot.Unsupported(d.model.Code, operation)
	}
	if !caps.HasLimb(limb) {
		return robot.Fail("%s has no %s arm", d.model.Code, limb)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if r, ok := d.ready(); !ok {
		return r
	}
	d.holding[limb] = closed
	return robot.Ok("%s", message).WithData(map[string]any{"arm": limb, "closed": closed})
}

// PlayAction implements robot.Adapter.
func (d *Driver) PlayAction(name string) robot.TaskResult {
	d.mu.Lock()
	connected := d.connected
	d.mu.Unlock()
	if !connected {
		return robot.Fail("%s is not connected", d.model.Code)
	}
	return d.actions.Play(name)
}

// Actions implements robot.Adapter.
func (d *Driver) Actions() []string {
	return d.actions.Names()
}

func yawQuaternion(yaw float64) [4]float64 {
	return [4]float64{0, 0, math.Sin(yaw / 2), math.Cos(yaw / 2)}
}

func quaternionYaw(q [4]float64) float64 {
	x, y, z, w := q[0], q[1], q[2], q[3]
	return math.Atan2(2*(w*z+x*y), 1-2*(y*y+z*z))
}
