// Package dispatch maps parsed commands onto adapter calls.
//
// Direct actions make exactly one adapter call. Turns are open-loop: the
// dispatcher commands a fixed yaw rate, waits a time proportional to the
// requested angle and then stops the robot. Sequences run their steps in
// order and keep going past failed steps.
package dispatch

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"robotcontrol/internal/clock"
	"robotcontrol/internal/command"
	"robotcontrol/pkg/robot"
)

// MaxTurnDegrees is the largest angle a single turn command accepts.
const MaxTurnDegrees = 3600.0

// Config holds the motion constants used by the dispatcher.
type Config struct {
	// Speed is the initial linear speed in [0, 1].
	Speed float64 `yaml:"speed"`

	// TurnRate is the yaw rate commanded while turning.
	TurnRate float64 `yaml:"turn_rate"`

	// DegreesPerSecond converts a requested angle into a turn duration.
	DegreesPerSecond float64 `yaml:"degrees_per_second"`
}

// DefaultConfig turns 45 degrees per second at a 0.5 yaw rate.
func DefaultConfig() Config {
	return Config{
		Speed:            command.DefaultSpeed,
		TurnRate:         0.5,
		DegreesPerSecond: 45,
	}
}

// StepResult is the outcome of one sequence step.
type StepResult struct {
	Action  string         `json:"action"`
	Params  command.Params `json:"params,omitempty"`
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

// Result is the normalized outcome of one Dispatch call. Message is set on
// success and Error on failure.
type Result struct {
	ID      string         `json:"id"`
	Success bool           `json:"success"`
	Message string         `json:"message,omitempty"`
	Error   string         `json:"error,omitempty"`
	Action  string         `json:"action"`
	Params  command.Params `json:"params"`
	Data    map[string]any `json:"data,omitempty"`
	Steps   []StepResult   `json:"steps,omitempty"`
}

// Dispatcher executes commands against one adapter.
type Dispatcher struct {
	adapter robot.Adapter
	clock   clock.Clock
	logger  *zap.Logger

	mu     sync.Mutex
	speed  float64
	config Config
}

// New creates a dispatcher bound to adapter.
func New(adapter robot.Adapter, clk clock.Clock, cfg Config, logger *zap.Logger) *Dispatcher {
	defaults := DefaultConfig()
	if cfg.Speed <= 0 {
		cfg.Speed = defaults.Speed
	}
	if cfg.TurnRate <= 0 {
		cfg.TurnRate = defaults.TurnRate
	}
	if cfg.DegreesPerSecond <= 0 {
		cfg.DegreesPerSecond = defaults.DegreesPerSecond
	}

	d := &Dispatcher{
		adapter: adapter,
		clock:   clk,
		logger:  logger.Named("dispatch"),
		config:  cfg,
	}
	d.SetSpeed(cfg.Speed)
	return d
}

// SetSpeed sets the linear speed, clamped to [0, 1], and returns the value stored.
func (d *Dispatcher) SetSpeed(speed float64) float64 {
	speed = math.Max(0, math.Min(1, speed))

	d.mu.Lock()
	defer d.mu.Unlock()
	d.speed = speed
	return speed
}

// Speed returns the current linear speed.
func (d *Dispatcher) Speed() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speed
}

// Dispatch runs cmd and normalizes the outcome.
func (d *Dispatcher) Dispatch(ctx context.Context, cmd command.ParsedCommand) Result {
	res := Result{
		ID:     uuid.NewString(),
		Action: cmd.Action,
		Params: cmd.Params,
	}
	if res.Params == nil {
		res.Params = command.Params{}
	}

	if !cmd.Known() {
		res.Error = fmt.Sprintf("unknown command: %s", cmd.Raw)
		d.logger.Info("Command not recognized", zap.String("raw", cmd.Raw))
		return res
	}
	if cmd.Action == command.ActionSequence {
		return d.dispatchSequence(ctx, cmd.Tasks(), res)
	}

	tr := d.run(ctx, cmd.Action, cmd.Params)
	d.logger.Info("Command dispatched",
		zap.String("id", res.ID),
		zap.String("action", cmd.Action),
		zap.Bool("success", tr.Success),
		zap.String("message", tr.Message))

	return finish(res, tr)
}

func (d *Dispatcher) dispatchSequence(ctx context.Context, tasks []command.Task, res Result) Result {
	res.Steps = make([]StepResult, 0, len(tasks))
	succeeded := 0

	for i, task := range tasks {
		var tr robot.TaskResult
		if err := ctx.Err(); err != nil {
			tr = robot.Fail("cancelled before start: %v", err)
		} else {
			tr = d.run(ctx, task.Action, task.Params)
		}

		if tr.Success {
			succeeded++
		} else {
			d.logger.Warn("Sequence step failed",
				zap.String("id", res.ID),
				zap.Int("step", i),
				zap.String("action", task.Action),
				zap.String("message", tr.Message))
		}
		res.Steps = append(res.Steps, StepResult{
			Action:  task.Action,
			Params:  task.Params,
			Success: tr.Success,
			Message: tr.Message,
			Data:    tr.Data,
		})
	}

	summary := fmt.Sprintf("%d/%d steps succeeded", succeeded, len(tasks))
	d.logger.Info("Sequence dispatched",
		zap.String("id", res.ID),
		zap.Int("steps", len(tasks)),
		zap.Int("succeeded", succeeded))

	if succeeded == len(tasks) {
		return finish(res, robot.Ok("sequence completed: %s", summary))
	}
	return finish(res, robot.Fail("sequence failed: %s", summary))
}

func finish(res Result, tr robot.TaskResult) Result {
	res.Success = tr.Success
	res.Data = tr.Data
	if tr.Success {
		res.Message = tr.Message
	} else {
		res.Error = tr.Message
	}
	return res
}

// run executes one action. A panic inside the adapter becomes a failed result.
func (d *Dispatcher) run(ctx context.Context, action string, params command.Params) (tr robot.TaskResult) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Adapter panicked",
				zap.String("action", action),
				zap.Any("panic", r))
			tr = robot.Fail("%s failed: %v", action, r)
		}
	}()

	if params == nil {
		params = command.Params{}
	}
	speed := d.Speed()

	switch action {
	case "forward":
		return withParams(d.adapter.Move(speed, 0, 0), params)
	case "backward":
		return withParams(d.adapter.Move(-speed, 0, 0), params)
	case "move_left":
		return withParams(d.adapter.Move(0, speed, 0), params)
	case "move_right":
		return withParams(d.adapter.Move(0, -speed, 0), params)
	case "turn_left":
		return d.turn(ctx, 1, params.Float(command.ParamAngle, command.DefaultAngle))
	case "turn_right":
		return d.turn(ctx, -1, params.Float(command.ParamAngle, command.DefaultAngle))
	case "stand":
		return d.adapter.Stand()
	case "sit":
		return d.adapter.Sit()
	case "stop":
		return d.adapter.Stop()
	case "lie_down", "wave", "handshake":
		return d.adapter.PlayAction(action)
	case "play":
		name := params.String(command.ParamName, "")
		if name == "" {
			return robot.Fail("play requires an action name")
		}
		return d.adapter.PlayAction(name)
	case "grasp":
		limb := params.String(command.ParamArm, command.DefaultLimb)
		return d.adapter.Grasp(limb, params.Float("force", robot.DefaultGraspForce))
	case "release":
		return d.adapter.Release(params.String(command.ParamArm, command.DefaultLimb))
	case "go_to":
		pos, ok := params.Position()
		if !ok {
			return robot.Fail("go_to requires a position")
		}
		return d.adapter.GoTo(pos, nil)
	case "get_battery":
		s := d.adapter.State()
		return robot.Ok("battery: %.1f%%", s.Battery).WithData(map[string]any{"battery": s.Battery})
	case "get_pose":
		s := d.adapter.State()
		return robot.Ok("position: [%.2f, %.2f, %.2f]", s.Position[0], s.Position[1], s.Position[2]).
			WithData(map[string]any{"position": s.Position, "orientation": s.Orientation})
	case "set_speed":
		v := d.SetSpeed(params.Float(command.ParamSpeed, command.DefaultSpeed))
		return robot.Ok("speed set to %.2f", v).WithData(map[string]any{"speed": v})
	}
	return robot.Fail("not implemented: %s", action)
}

// turn rotates by angle degrees; direction is +1 for left and -1 for right.
func (d *Dispatcher) turn(ctx context.Context, direction, angle float64) robot.TaskResult {
	angle = math.Abs(angle)
	if math.IsNaN(angle) || angle > MaxTurnDegrees {
		return robot.Fail("turn angle must be between 0 and %.0f degrees, got %g", MaxTurnDegrees, angle)
	}
	if d.config.DegreesPerSecond <= 0 {
		return robot.Fail("turn rate is not configured")
	}
	wait := time.Duration(angle / d.config.DegreesPerSecond * float64(time.Second))

	if r := d.adapter.Move(0, 0, direction*d.config.TurnRate); !r.Success {
		return r
	}
	if err := d.clock.Sleep(ctx, wait); err != nil {
		d.adapter.Stop()
		return robot.Fail("turn interrupted: %v", err)
	}

	stop := d.adapter.Stop()
	if !stop.Success {
		return stop
	}
	side := "left"
	if direction < 0 {
		side = "right"
	}
	return robot.Ok("turned %s %.0f degrees", side, angle).WithData(map[string]any{
		"angle":    angle,
		"duration": wait.Seconds(),
	})
}

// withParams attaches the requested motion parameters to a successful result.
func withParams(tr robot.TaskResult, params command.Params) robot.TaskResult {
	if !tr.Success || len(params) == 0 {
		return tr
	}
	data := make(map[string]any, len(tr.Data)+len(params))
	for k, v := range tr.Data {
		data[k] = v
	}
	for k, v := range params {
		if _, exists := data[k]; !exists {
			data[k] = v
		}
	}
	return tr.WithData(data)
}
