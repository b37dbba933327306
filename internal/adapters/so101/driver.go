// Package so101 drives the SO-101 six-servo arm over a Feetech STS serial
// bus. The arm is a fixed-base manipulator: locomotion requests are reported
// as unsupported, and Stand and Sit move the arm to named poses.
package so101

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hipsterbrown/feetech-servo/feetech"
	"go.uber.org/zap"

	"robotcontrol/internal/clock"
	"robotcontrol/pkg/robot"
)

// Code is the factory code of the SO-101 driver.
const Code = "so101"

// DefaultPort is the serial device used when no port option is given.
const DefaultPort = "/dev/ttyACM0"

const (
	busTimeout = 2 * time.Second

	gripperOpen   = 100.0
	gripperClosed = -100.0
)

// Servos is the bus operations the driver needs. Positions are raw encoder
// values keyed by servo ID.
type Servos interface {
	Enable(ctx context.Context) error
	Disable(ctx context.Context) error
	Read(ctx context.Context) (map[int]int, error)
	Write(ctx context.Context, positions map[int]int) error
	Close() error
}

// Opener connects to the servos on port.
type Opener func(port string, ids []int) (Servos, error)

// feetechServos adapts a feetech servo group to Servos.
type feetechServos struct {
	bus   *feetech.Bus
	group *feetech.ServoGroup
}

// OpenFeetech opens an STS bus at 1 Mbaud and groups the given IDs.
func OpenFeetech(port string, ids []int) (Servos, error) {
	bus, err := feetech.NewBus(feetech.BusConfig{
		Port:     port,
		BaudRate: 1_000_000,
		Protocol: feetech.ProtocolSTS,
	})
	if err != nil {
		return nil, fmt.Errorf("open bus %s: %w", port, err)
	}
	return &feetechServos{bus: bus, group: feetech.NewServoGroupByIDs(bus, ids...)}, nil
}

func (f *feetechServos) Enable(ctx context.Context) error { return f.group.EnableAll(ctx) }
func (f *feetechServos) Disable(ctx context.Context) error { return f.group.DisableAll(ctx) }
func (f *feetechServos) Close() error { return f.bus.Close() }

func (f *feetechServos) Read(ctx context.Context) (map[int]int, error) {
	raw, err := f.group.Positions(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[int]int, len(raw))
	for id, pos := range raw {
		out[id] = pos
	}
	return out, nil
}

func (f *feetechServos) Write(ctx context.Context, positions map[int]int) error {
	pm := make(feetech.PositionMap, len(positions))
	for id, pos := range positions {
		pm[id] = pos
	}
	return f.group.SetPositions(ctx, pm)
}

// Named poses in normalized joint units.
var (
	homePose = map[Joint]float64{ShoulderPan: 0, ShoulderLift: 0, ElbowFlex: 0, WristFlex: 0, WristRoll: 0}
	restPose = map[Joint]float64{ShoulderPan: 0, ShoulderLift: -95, ElbowFlex: 95, WristFlex: 60, WristRoll: 0}
)

// Driver implements robot.Adapter for the SO-101 arm.
type Driver struct {
	port        string
	calibration Calibration
	open        Opener
	clock       clock.Clock
	logger      *zap.Logger
	actions     *robot.ActionTable

	mu     sync.Mutex
	servos Servos
}

// NewDriver creates a disconnected driver.
//
// Recognized options: "port" (serial device, defaults to ip when that names a
// device, else DefaultPort) and "calibration" (path to a calibration JSON file).
func NewDriver(ip string, opts robot.Options, open Opener, clk clock.Clock, logger *zap.Logger) (*Driver, error) {
	port := opts.String("port", "")
	if port == "" && strings.HasPrefix(ip, "/dev/") {
		port = ip
	}
	if port == "" {
		port = DefaultPort
	}

	cal := DefaultCalibration()
	if path := opts.String("calibration", ""); path != "" {
		loaded, err := LoadCalibration(path)
		if err != nil {
			return nil, err
		}
		cal = loaded
	}

	d := &Driver{
		port:        port,
		calibration: cal,
		open:        open,
		clock:       clk,
		logger:      logger.Named("so101").With(zap.String("port", port)),
	}
	d.actions = robot.NewActionTable(
		robot.Action{Name: "home", Description: "Move to home pose", Run: func() robot.TaskResult {
			return d.pose("home", homePose)
		}},
		robot.Action{Name: "rest", Description: "Fold into rest pose", Run: func() robot.TaskResult {
			return d.pose("rest", restPose)
		}},
		robot.Action{Name: "wave", Description: "Wave the wrist", Run: d.wave},
	)
	return d, nil
}

// Constructor returns a robot.Constructor backed by real Feetech hardware.
func Constructor(clk clock.Clock, logger *zap.Logger) robot.Constructor {
	return func(ip string, opts robot.Options) (robot.Adapter, error) {
		return NewDriver(ip, opts, OpenFeetech, clk, logger)
	}
}

// Info implements robot.Adapter.
func (d *Driver) Info() robot.Info {
	d.mu.Lock()
	defer d.mu.Unlock()
	return robot.Info{
		Code:      Code,
		Name:      "SO-101 Arm",
		Brand:     "TheRobotStudio",
		Category:  robot.CategoryManipulator,
		IP:        d.port,
		Connected: d.servos != nil,
	}
}

// Capabilities implements robot.Adapter.
func (d *Driver) Capabilities() robot.Capabilities {
	return robot.Capabilities{
		HasArm:     true,
		HasGripper: true,
		Arms:       []string{robot.LimbRight},
		MassKg:     1.2,
	}
}

// Connect opens the bus and enables torque.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.servos != nil {
		return nil
	}

	servos, err := d.open(d.port, d.calibration.IDs())
	if err != nil {
		return fmt.Errorf("connect %s: %w", Code, err)
	}
	if err := servos.Enable(ctx); err != nil {
		servos.Close()
		return fmt.Errorf("enable torque: %w", err)
	}
	d.servos = servos
	d.logger.Info("Connected to SO-101 arm")
	return nil
}

// Disconnect disables torque and closes the bus.
func (d *Driver) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.servos == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), busTimeout)
	defer cancel()
	if err := d.servos.Disable(ctx); err != nil {
		d.logger.Warn("Failed to disable torque", zap.Error(err))
	}
	if err := d.servos.Close(); err != nil {
		d.logger.Warn("Failed to close bus", zap.Error(err))
	}
	d.servos = nil
	d.logger.Info("Disconnected from SO-101 arm")
}

// State reads joint positions. The arm is mains powered, so battery reads full.
func (d *Driver) State() robot.State {
	joints := Joints()
	s := robot.NewState(len(joints), 100, 0, d.clock.Now())

	positions, err := d.read()
	if err != nil {
		d.logger.Debug("State read failed", zap.Error(err))
		return s
	}
	for i, j := range joints {
		s.JointPositions[i] = positions[j]
	}
	return s
}

// Stand moves to the home pose.
func (d *Driver) Stand() robot.TaskResult {
	return d.pose("home", homePose)
}

// Sit folds the arm into the rest pose.
func (d *Driver) Sit() robot.TaskResult {
	return d.pose("rest", restPose)
}

// Stop holds the current position.
func (d *Driver) Stop() robot.TaskResult {
	positions, err := d.read()
	if err != nil {
		return robot.Fail("stop: %v", err)
	}
	if err := d.write(positions); err != nil {
		return robot.Fail("stop: %v", err)
	}
	return robot.Ok("Holding position")
}

// Move implements robot.Adapter.
func (d *Driver) Move(float64, float64, float64) robot.TaskResult {
	return robot.Unsupported(Code, "locomotion")
}

// GoTo implements robot.Adapter.
func (d *Driver) GoTo([3]float64, *[4]float64) robot.TaskResult {
	return robot.Unsupported(Code, "navigation")
}

// MoveArm sets the five arm joints from target, in normalized units.
func (d *Driver) MoveArm(limb string, target []float64) robot.TaskResult {
	if limb != robot.LimbRight {
		return robot.Fail("%s has no %s arm", Code, limb)
	}
	arm := ArmJoints()
	if len(target) != len(arm) {
		return robot.Fail("arm target needs %d joint values, got %d", len(arm), len(target))
	}

	positions := make(map[Joint]float64, len(arm))
	for i, j := range arm {
		positions[j] = target[i]
	}
	if err := d.write(positions); err != nil {
		return robot.Fail("move arm: %v", err)
	}
	return robot.Ok("Move %s arm to %v", limb, target)
}

// Grasp closes the gripper. Larger forces close it further.
func (d *Driver) Grasp(limb string, force float64) robot.TaskResult {
	if limb != robot.LimbRight {
		return robot.Fail("%s has no %s arm", Code, limb)
	}
	if force <= 0 {
		force = robot.DefaultGraspForce
	}
	closure := force / (2 * robot.DefaultGraspForce)
	if closure > 1 {
		closure = 1
	}
	target := gripperOpen - closure*(gripperOpen-gripperClosed)

	if err := d.write(map[Joint]float64{Gripper: target}); err != nil {
		return robot.Fail("grasp: %v", err)
	}
	return robot.Ok("Grasp with %s arm", limb).WithData(map[string]any{"gripper": target, "force": force})
}

// Release opens the gripper.
func (d *Driver) Release(limb string) robot.TaskResult {
	if limb != robot.LimbRight {
		return robot.Fail("%s has no %s arm", Code, limb)
	}
	if err := d.write(map[Joint]float64{Gripper: gripperOpen}); err != nil {
		return robot.Fail("release: %v", err)
	}
	return robot.Ok("Release %s arm", limb).WithData(map[string]any{"gripper": gripperOpen})
}

// PlayAction implements robot.Adapter.
func (d *Driver) PlayAction(name string) robot.TaskResult {
	return d.actions.Play(name)
}

// Actions implements robot.Adapter.
func (d *Driver) Actions() []string {
	return d.actions.Names()
}

func (d *Driver) pose(name string, pose map[Joint]float64) robot.TaskResult {
	if err := d.write(pose); err != nil {
		return robot.Fail("%s pose: %v", name, err)
	}
	return robot.Ok("Moved to %s pose", name)
}

func (d *Driver) wave() robot.TaskResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*busTimeout)
	defer cancel()

	for _, roll := range []float64{40, -40, 40, 0} {
		if err := d.write(map[Joint]float64{WristRoll: roll}); err != nil {
			return robot.Fail("wave: %v", err)
		}
		if err := d.clock.Sleep(ctx, 300*time.Millisecond); err != nil {
			return robot.Fail("wave: %v", err)
		}
	}
	return robot.Ok("Waved")
}

// read returns normalized joint positions.
func (d *Driver) read() (map[Joint]float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.servos == nil {
		return nil, fmt.Errorf("%s is not connected", Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), busTimeout)
	defer cancel()
	raw, err := d.servos.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read positions: %w", err)
	}

	positions := make(map[Joint]float64, len(raw))
	for id, pos := range raw {
		if j, jc, ok := d.calibration.byID(id); ok {
			positions[j] = jc.Normalize(pos)
		}
	}
	return positions, nil
}

// write sends normalized joint targets; joints not in positions are left alone.
func (d *Driver) write(positions map[Joint]float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.servos == nil {
		return fmt.Errorf("%s is not connected", Code)
	}

	raw := make(map[int]int, len(positions))
	for j, norm := range positions {
		if jc, ok := d.calibration[j]; ok {
			raw[jc.ID] = jc.Denormalize(norm)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), busTimeout)
	defer cancel()
	if err := d.servos.Write(ctx, raw); err != nil {
		return fmt.Errorf("write positions: %w", err)
	}
	return nil
}
