package so101

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"robotcontrol/internal/clock"
	"robotcontrol/pkg/robot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeServos keeps raw positions in memory.
type fakeServos struct {
	positions map[int]int
	enabled   bool
	closed    bool
	writes    int
	readErr   error
}

func (f *fakeServos) Enable(context.Context) error { f.enabled = true; return nil }
func (f *fakeServos) Disable(context.Context) error { f.enabled = false; return nil }
func (f *fakeServos) Close() error { f.closed = true; return nil }

func (f *fakeServos) Read(context.Context) (map[int]int, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	out := make(map[int]int, len(f.positions))
	for id, p := range f.positions {
		out[id] = p
	}
	return out, nil
}

func (f *fakeServos) Write(_ context.Context, positions map[int]int) error {
	f.writes++
	for id, p := range positions {
		f.positions[id] = p
	}
	return nil
}

func newFakeDriver(t *testing.T) (*Driver, *fakeServos, *clock.MockClock) {
	t.Helper()
	fake := &fakeServos{positions: map[int]int{1: 2048, 2: 2048, 3: 2048, 4: 2048, 5: 2048, 6: 2048}}
	clk := clock.NewMockClock(time.Unix(0, 0))
	open := func(port string, ids []int) (Servos, error) {
		assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, ids)
		return fake, nil
	}
	d, err := NewDriver("", robot.Options{"port": "/dev/ttyUSB3"}, open, clk, zap.NewNop())
	require.NoError(t, err)
	return d, fake, clk
}

func TestCalibration_NormalizeRoundTrip(t *testing.T) {
	jc := JointCalibration{ID: 1, RangeMin: 1000, RangeMax: 3000}

	assert.Equal(t, -100.0, jc.Normalize(1000))
	assert.Equal(t, 0.0, jc.Normalize(2000))
	assert.Equal(t, 100.0, jc.Normalize(3000))
	assert.Equal(t, 2000, jc.Denormalize(0))
	assert.Equal(t, 3000, jc.Denormalize(150), "clamped to range")
	assert.Equal(t, 0.0, JointCalibration{}.Normalize(5))
}

func TestLoadCalibration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "follower.json")
	data := `{
		"shoulder_pan": {"id": 1, "range_min": 700, "range_max": 3400},
		"shoulder_lift": {"id": 2, "range_min": 800, "range_max": 3300},
		"elbow_flex": {"id": 3, "range_min": 850, "range_max": 3100},
		"wrist_flex": {"id": 4, "range_min": 900, "range_max": 3200},
		"wrist_roll": {"id": 5, "range_min": 0, "range_max": 4095},
		"gripper": {"id": 6, "range_min": 2000, "range_max": 3500}
	}`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o644))

	cal, err := LoadCalibration(path)
	require.NoError(t, err)
	assert.Equal(t, 700, cal[ShoulderPan].RangeMin)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, cal.IDs())

	require.NoError(t, os.WriteFile(path, []byte(`{"gripper": {"id": 6}}`), 0o644))
	_, err = LoadCalibration(path)
	assert.ErrorContains(t, err, "missing joint")
}

func TestDriver_ConnectEnablesTorque(t *testing.T) {
	d, fake, _ := newFakeDriver(t)

	assert.False(t, d.Info().Connected)
	require.NoError(t, d.Connect(context.Background()))
	assert.True(t, fake.enabled)

	info := d.Info()
	assert.Equal(t, Code, info.Code)
	assert.Equal(t, "/dev/ttyUSB3", info.IP)
	assert.Equal(t, robot.CategoryManipulator, info.Category)
	assert.True(t, info.Connected)

	d.Disconnect()
	assert.False(t, fake.enabled)
	assert.True(t, fake.closed)
	assert.False(t, d.Info().Connected)
}

func TestDriver_ConnectFailure(t *testing.T) {
	open := func(string, []int) (Servos, error) { return nil, errors.New("no such device") }
	d, err := NewDriver("", nil, open, clock.NewMockClock(time.Unix(0, 0)), zap.NewNop())
	require.NoError(t, err)

	err = d.Connect(context.Background())
	assert.ErrorContains(t, err, "no such device")
	assert.False(t, d.Info().Connected)
	assert.Equal(t, DefaultPort, d.Info().IP)
}

func TestDriver_LocomotionUnsupported(t *testing.T) {
	d, _, _ := newFakeDriver(t)
	require.NoError(t, d.Connect(context.Background()))

	r := d.Move(0.5, 0, 0)
	assert.False(t, r.Success)
	assert.Equal(t, "so101 does not support locomotion", r.Message)
	assert.False(t, d.GoTo([3]float64{1, 1, 0}, nil).Success)
}

func TestDriver_MoveArmWritesDenormalizedTargets(t *testing.T) {
	d, fake, _ := newFakeDriver(t)
	require.NoError(t, d.Connect(context.Background()))

	r := d.MoveArm(robot.LimbRight, []float64{-100, 0, 100, 0, 0})
	require.True(t, r.Success, r.Message)
	assert.Equal(t, 0, fake.positions[1])
	assert.Equal(t, 4095, fake.positions[3])
	assert.Equal(t, 2048, fake.positions[6], "gripper untouched")

	assert.False(t, d.MoveArm(robot.LimbRight, []float64{1, 2}).Success)
	assert.False(t, d.MoveArm(robot.LimbLeft, []float64{0, 0, 0, 0, 0}).Success)
}

func TestDriver_GraspAndRelease(t *testing.T) {
	d, fake, _ := newFakeDriver(t)
	require.NoError(t, d.Connect(context.Background()))

	r := d.Grasp(robot.LimbRight, robot.DefaultGraspForce)
	require.True(t, r.Success)
	assert.Equal(t, 0.0, r.Data["gripper"])
	assert.Equal(t, DefaultCalibration()[Gripper].Denormalize(0), fake.positions[6])

	r = d.Grasp(robot.LimbRight, 100)
	assert.Equal(t, gripperClosed, r.Data["gripper"])

	r = d.Release(robot.LimbRight)
	require.True(t, r.Success)
	assert.Equal(t, 4095, fake.positions[6])
}

func TestDriver_StateReadsNormalizedJoints(t *testing.T) {
	d, fake, _ := newFakeDriver(t)

	s := d.State()
	assert.Len(t, s.JointPositions, 6)
	assert.Equal(t, 100.0, s.Battery)

	require.NoError(t, d.Connect(context.Background()))
	fake.positions[2] = 4095
	s = d.State()
	assert.Equal(t, 100.0, s.JointPositions[1])

	fake.readErr = errors.New("bus timeout")
	r := d.Stop()
	assert.False(t, r.Success)
	assert.Contains(t, r.Message, "bus timeout")
}

func TestDriver_Actions(t *testing.T) {
	d, fake, clk := newFakeDriver(t)
	require.NoError(t, d.Connect(context.Background()))

	assert.Equal(t, []string{"home", "rest", "wave"}, d.Actions())

	r := d.PlayAction("wave")
	require.True(t, r.Success)
	assert.Equal(t, 4, fake.writes)
	assert.Len(t, clk.Sleeps(), 4)

	assert.True(t, d.Sit().Success)
	assert.False(t, d.PlayAction("juggle").Success)
}

func TestDriver_NotConnected(t *testing.T) {
	d, _, _ := newFakeDriver(t)

	r := d.Stand()
	assert.False(t, r.Success)
	assert.Contains(t, r.Message, "not connected")
}
