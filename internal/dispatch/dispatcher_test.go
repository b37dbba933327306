package dispatch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"robotcontrol/internal/clock"
	"robotcontrol/internal/command"
	"robotcontrol/pkg/robot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// recordingAdapter logs every call it receives. It has no arms.
type recordingAdapter struct {
	robot.NoArms
	calls   []string
	panicOn string
}

func newRecorder() *recordingAdapter {
	return &recordingAdapter{NoArms: robot.NoArms{Code: "test_dog"}}
}

func (r *recordingAdapter) record(call string) {
	r.calls = append(r.calls, call)
	if r.panicOn != "" && call == r.panicOn {
		panic("motor fault")
	}
}

func (r *recordingAdapter) Info() robot.Info { return robot.Info{Code: "test_dog"} }
func (r *recordingAdapter) Capabilities() robot.Capabilities { return robot.Capabilities{} }
func (r *recordingAdapter) Connect(context.Context) error { return nil }
func (r *recordingAdapter) Disconnect() {}
func (r *recordingAdapter) Actions() []string { return []string{"wave"} }

func (r *recordingAdapter) State() robot.State {
	s := robot.NewState(12, 77, 30, time.Unix(0, 0))
	s.Position = [3]float64{1, 2, 0.4}
	return s
}

func (r *recordingAdapter) Stand() robot.TaskResult { r.record("stand"); return robot.Ok("standing") }
func (r *recordingAdapter) Sit() robot.TaskResult { r.record("sit"); return robot.Ok("sitting") }
func (r *recordingAdapter) Stop() robot.TaskResult { r.record("stop"); return robot.Ok("stopped") }

func (r *recordingAdapter) Move(forward, lateral, yaw float64) robot.TaskResult {
	r.record(fmt.Sprintf("move(%.2f,%.2f,%.2f)", forward, lateral, yaw))
	return robot.Ok("moving")
}

func (r *recordingAdapter) GoTo(pos [3]float64, _ *[4]float64) robot.TaskResult {
	r.record(fmt.Sprintf("go_to(%.0f,%.0f,%.0f)", pos[0], pos[1], pos[2]))
	return robot.Ok("navigating")
}

func (r *recordingAdapter) Grasp(limb string, force float64) robot.TaskResult {
	r.record("grasp(" + limb + ")")
	return r.NoArms.Grasp(limb, force)
}

func (r *recordingAdapter) PlayAction(name string) robot.TaskResult {
	r.record("play(" + name + ")")
	if name == "wave" {
		return robot.Ok("waving")
	}
	return robot.Fail("unknown action: %s", name)
}

func newTestDispatcher(a robot.Adapter) (*Dispatcher, *clock.MockClock) {
	clk := clock.NewMockClock(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	return New(a, clk, DefaultConfig(), zap.NewNop()), clk
}

func TestDispatch_DirectActionsMakeOneCall(t *testing.T) {
	tests := []struct {
		action string
		params command.Params
		call   string
	}{
		{"forward", command.Params{command.ParamDistance: 2.0}, "move(0.50,0.00,0.00)"},
		{"backward", command.Params{command.ParamDistance: 1.0}, "move(-0.50,0.00,0.00)"},
		{"move_left", command.Params{command.ParamDistance: 1.0}, "move(0.00,0.50,0.00)"},
		{"move_right", command.Params{command.ParamDistance: 1.0}, "move(0.00,-0.50,0.00)"},
		{"stand", command.Params{}, "stand"},
		{"sit", command.Params{}, "sit"},
		{"stop", command.Params{}, "stop"},
		{"wave", command.Params{}, "play(wave)"},
		{"go_to", command.Params{command.ParamPosition: []float64{3, 4, 0}}, "go_to(3,4,0)"},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			rec := newRecorder()
			d, _ := newTestDispatcher(rec)

			res := d.Dispatch(context.Background(), command.ParsedCommand{Action: tt.action, Params: tt.params})
			assert.True(t, res.Success, res.Error)
			assert.Equal(t, []string{tt.call}, rec.calls)
			assert.Equal(t, tt.action, res.Action)
			assert.NotEmpty(t, res.ID)
		})
	}
}

func TestDispatch_ForwardCarriesDistance(t *testing.T) {
	d, _ := newTestDispatcher(newRecorder())

	res := d.Dispatch(context.Background(), command.NewParser().Parse("forward 2", robot.CategoryQuadruped))
	require.True(t, res.Success)
	assert.Equal(t, 2.0, res.Data[command.ParamDistance])
	assert.Equal(t, "moving", res.Message)
	assert.Empty(t, res.Error)
}

func TestDispatch_TurnSleepsProportionallyToAngle(t *testing.T) {
	rec := newRecorder()
	d, clk := newTestDispatcher(rec)

	res := d.Dispatch(context.Background(), command.ParsedCommand{
		Action: "turn_right",
		Params: command.Params{command.ParamAngle: 90.0},
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{"move(0.00,0.00,-0.50)", "stop"}, rec.calls)
	assert.Equal(t, []time.Duration{2 * time.Second}, clk.Sleeps())
	assert.Equal(t, 2.0, res.Data["duration"])
}

func TestDispatch_TurnRejectsOversizedAngle(t *testing.T) {
	rec := newRecorder()
	d, clk := newTestDispatcher(rec)

	res := d.Dispatch(context.Background(), command.ParsedCommand{
		Action: "turn_left",
		Params: command.Params{command.ParamAngle: 1e20},
	})

	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "turn angle must be between 0 and 3600 degrees")
	assert.Empty(t, rec.calls)
	assert.Empty(t, clk.Sleeps())
}

func TestDispatch_TurnAcceptsMaxAngle(t *testing.T) {
	rec := newRecorder()
	d, clk := newTestDispatcher(rec)

	res := d.Dispatch(context.Background(), command.ParsedCommand{
		Action: "turn_right",
		Params: command.Params{command.ParamAngle: MaxTurnDegrees},
	})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []time.Duration{80 * time.Second}, clk.Sleeps())
}

func TestDispatch_TurnLeftDefaultsToFortyFiveDegrees(t *testing.T) {
	rec := newRecorder()
	d, clk := newTestDispatcher(rec)

	res := d.Dispatch(context.Background(), command.ParsedCommand{Action: "turn_left", Params: command.Params{}})

	require.True(t, res.Success)
	assert.Equal(t, []string{"move(0.00,0.00,0.50)", "stop"}, rec.calls)
	assert.Equal(t, []time.Duration{time.Second}, clk.Sleeps())
}

func TestDispatch_TurnInterruptedStillStops(t *testing.T) {
	rec := newRecorder()
	d, _ := newTestDispatcher(rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := d.Dispatch(ctx, command.ParsedCommand{Action: "turn_left", Params: command.Params{command.ParamAngle: 90.0}})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "turn interrupted")
	assert.Equal(t, []string{"move(0.00,0.00,0.50)", "stop"}, rec.calls)
}

func TestDispatch_SequenceContinuesPastUnsupportedStep(t *testing.T) {
	rec := newRecorder()
	d, _ := newTestDispatcher(rec)

	cmd := command.ParsedCommand{
		Action: command.ActionSequence,
		Params: command.Params{command.ParamTasks: []command.Task{
			{Action: "stand", Params: command.Params{}},
			{Action: "grasp", Params: command.Params{command.ParamArm: "right"}},
			{Action: "sit", Params: command.Params{}},
		}},
	}
	res := d.Dispatch(context.Background(), cmd)

	assert.False(t, res.Success)
	assert.Equal(t, []string{"stand", "grasp(right)", "sit"}, rec.calls)
	require.Len(t, res.Steps, 3)
	assert.True(t, res.Steps[0].Success)
	assert.False(t, res.Steps[1].Success)
	assert.Equal(t, "test_dog does not support grasping", res.Steps[1].Message)
	assert.True(t, res.Steps[2].Success)
	assert.Contains(t, res.Error, "2/3")
}

func TestDispatch_SequenceRunsInOrderWithWaits(t *testing.T) {
	rec := newRecorder()
	d, clk := newTestDispatcher(rec)

	cmd := command.NewParser().Parse("turn left 45 then turn right 90", robot.CategoryQuadruped)
	res := d.Dispatch(context.Background(), cmd)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{
		"move(0.00,0.00,0.50)", "stop",
		"move(0.00,0.00,-0.50)", "stop",
	}, rec.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, clk.Sleeps())
	assert.Equal(t, "sequence completed: 2/2 steps succeeded", res.Message)
}

func TestDispatch_SequenceCancelledSkipsRemainingSteps(t *testing.T) {
	rec := newRecorder()
	d, _ := newTestDispatcher(rec)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cmd := command.ParsedCommand{
		Action: command.ActionSequence,
		Params: command.Params{command.ParamTasks: []command.Task{
			{Action: "stand"},
			{Action: "sit"},
		}},
	}
	res := d.Dispatch(ctx, cmd)

	assert.False(t, res.Success)
	assert.Empty(t, rec.calls)
	require.Len(t, res.Steps, 2)
	assert.Contains(t, res.Steps[0].Message, "cancelled")
}

func TestDispatch_PanicBecomesFailedResult(t *testing.T) {
	rec := newRecorder()
	rec.panicOn = "sit"
	d, _ := newTestDispatcher(rec)

	cmd := command.ParsedCommand{
		Action: command.ActionSequence,
		Params: command.Params{command.ParamTasks: []command.Task{
			{Action: "sit"},
			{Action: "stand"},
		}},
	}
	res := d.Dispatch(context.Background(), cmd)

	assert.False(t, res.Success)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "sit failed: motor fault", res.Steps[0].Message)
	assert.True(t, res.Steps[1].Success)
	assert.Equal(t, []string{"sit", "stand"}, rec.calls)
}

func TestDispatch_Unknown(t *testing.T) {
	rec := newRecorder()
	d, _ := newTestDispatcher(rec)

	res := d.Dispatch(context.Background(), command.NewParser().Parse("bake a cake", robot.CategoryQuadruped))
	assert.False(t, res.Success)
	assert.Equal(t, command.ActionUnknown, res.Action)
	assert.Equal(t, "unknown command: bake a cake", res.Error)
	assert.Empty(t, rec.calls)
}

func TestDispatch_PlayUnknownActionFails(t *testing.T) {
	d, _ := newTestDispatcher(newRecorder())

	res := d.Dispatch(context.Background(), command.ParsedCommand{Action: "play", Params: command.Params{command.ParamName: "backflip"}})
	assert.False(t, res.Success)
	assert.Equal(t, "unknown action: backflip", res.Error)
}

func TestDispatch_StateQueries(t *testing.T) {
	d, _ := newTestDispatcher(newRecorder())

	res := d.Dispatch(context.Background(), command.ParsedCommand{Action: "get_battery"})
	require.True(t, res.Success)
	assert.Equal(t, "battery: 77.0%", res.Message)

	res = d.Dispatch(context.Background(), command.ParsedCommand{Action: "get_pose"})
	require.True(t, res.Success)
	assert.Equal(t, [3]float64{1, 2, 0.4}, res.Data["position"])
}

func TestSetSpeed_Clamps(t *testing.T) {
	d, _ := newTestDispatcher(newRecorder())

	tests := []struct {
		in   float64
		want float64
	}{
		{1.5, 1.0},
		{-0.2, 0.0},
		{0.3, 0.3},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, d.SetSpeed(tt.in))
		assert.Equal(t, tt.want, d.Speed())
	}
}

func TestDispatch_SetSpeedAffectsMoves(t *testing.T) {
	rec := newRecorder()
	d, _ := newTestDispatcher(rec)

	res := d.Dispatch(context.Background(), command.ParsedCommand{Action: "set_speed", Params: command.Params{command.ParamSpeed: 1.5}})
	require.True(t, res.Success)
	assert.Equal(t, 1.0, res.Data["speed"])

	d.Dispatch(context.Background(), command.ParsedCommand{Action: "forward"})
	assert.Equal(t, []string{"move(1.00,0.00,0.00)"}, rec.calls)
}
