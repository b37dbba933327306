package sim

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"robotcontrol/internal/clock"
	"robotcontrol/pkg/robot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func modelByCode(t *testing.T, code string) Model {
	t.Helper()
	for _, m := range Models() {
		if m.Code == code {
			return m
		}
	}
	t.Fatalf("no model %s", code)
	return Model{}
}

func connected(t *testing.T, code string) (*Driver, *clock.MockClock) {
	t.Helper()
	clk := clock.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	d := NewDriver(modelByCode(t, code), "192.168.12.1", robot.Options{}, clk, zap.NewNop())
	require.NoError(t, d.Connect(context.Background()))
	return d, clk
}

func TestModels_AreWellFormed(t *testing.T) {
	seen := map[string]bool{}
	for _, m := range Models() {
		assert.False(t, seen[m.Code], "duplicate code %s", m.Code)
		seen[m.Code] = true
		assert.True(t, m.Category.Valid(), m.Code)
		assert.NotEmpty(t, m.Name, m.Code)
		assert.Equal(t, m.Capabilities.HasArm, len(m.Capabilities.Arms) > 0, m.Code)
	}
	assert.True(t, seen["unitree_go2"])
	assert.True(t, seen["unitree_g1"])
}

func TestDriver_ConnectAndIdentity(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	d := NewDriver(modelByCode(t, "unitree_go2"), "10.0.0.9", nil, clk, zap.NewNop())

	info := d.Info()
	assert.Equal(t, "unitree_go2", info.Code)
	assert.Equal(t, "Unitree GO2", info.Name)
	assert.Equal(t, robot.CategoryQuadruped, info.Category)
	assert.False(t, info.Connected)

	require.NoError(t, d.Connect(context.Background()))
	assert.True(t, d.Info().Connected)

	d.Disconnect()
	d.Disconnect()
	assert.False(t, d.Info().Connected)
}

func TestDriver_ConnectFailure(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	d := NewDriver(modelByCode(t, "unitree_go1"), "10.0.0.9", robot.Options{"fail_connect": true}, clk, zap.NewNop())

	err := d.Connect(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSimulatedFailure))
	assert.False(t, d.Info().Connected)
}

func TestDriver_RequiresConnection(t *testing.T) {
	clk := clock.NewMockClock(time.Unix(0, 0))
	d := NewDriver(modelByCode(t, "unitree_go2"), "", nil, clk, zap.NewNop())

	r := d.Stand()
	assert.False(t, r.Success)
	assert.Equal(t, "unitree_go2 is not connected", r.Message)
}

func TestDriver_InitialState(t *testing.T) {
	d, _ := connected(t, "unitree_go2")

	s := d.State()
	assert.Equal(t, 85.0, s.Battery)
	assert.Equal(t, 35.0, s.Temperature)
	assert.Len(t, s.JointPositions, 12)

	g1, _ := connected(t, "unitree_g1")
	s = g1.State()
	assert.Equal(t, 90.0, s.Battery)
	assert.Len(t, s.JointPositions, 23)
}

func TestDriver_MoveClampsAndIntegrates(t *testing.T) {
	d, clk := connected(t, "unitree_go2")

	r := d.Move(3, 0, 0)
	require.True(t, r.Success)
	assert.Equal(t, []float64{1.2, 0, 0}, r.Data["velocity"])

	clk.Advance(time.Second)
	s := d.State()
	assert.InDelta(t, 1.2, s.Position[0], 1e-9)
	assert.InDelta(t, 0, s.Position[1], 1e-9)
	assert.InDelta(t, 85-1.2*drainPerMeter, s.Battery, 1e-9)

	d.Stop()
	clk.Advance(time.Second)
	assert.InDelta(t, 1.2, d.State().Position[0], 1e-9)
}

func TestDriver_TurnLeftIsCounterClockwise(t *testing.T) {
	d, clk := connected(t, "unitree_go2")

	require.True(t, d.Move(0, 0, math.Pi/2).Success)
	clk.Advance(time.Second)
	d.Stop()

	require.True(t, d.Move(1, 0, 0).Success)
	clk.Advance(time.Second)
	s := d.State()

	// After a quarter turn left, forward motion goes along +y.
	assert.InDelta(t, 0, s.Position[0], 1e-9)
	assert.InDelta(t, 1, s.Position[1], 1e-9)
	assert.InDelta(t, math.Sin(math.Pi/4), s.Orientation[2], 1e-9)
}

func TestDriver_StandAndSitHeights(t *testing.T) {
	d, _ := connected(t, "unitree_go2")

	require.True(t, d.Stand().Success)
	assert.Equal(t, 0.4, d.State().Position[2])

	require.True(t, d.Sit().Success)
	assert.Equal(t, 0.15, d.State().Position[2])
}

func TestDriver_GoTo(t *testing.T) {
	d, _ := connected(t, "unitree_h1")

	q := [4]float64{0, 0, math.Sin(math.Pi / 4), math.Cos(math.Pi / 4)}
	r := d.GoTo([3]float64{3, 4, 0}, &q)
	require.True(t, r.Success)

	s := d.State()
	assert.Equal(t, [3]float64{3, 4, 0}, s.Position)
	assert.InDelta(t, q[2], s.Orientation[2], 1e-9)
	assert.InDelta(t, 90-5*drainPerMeter, s.Battery, 1e-9)
}

func TestDriver_ArmOperationsByMorphology(t *testing.T) {
	dog, _ := connected(t, "unitree_go2")
	for _, r := range []robot.TaskResult{
		dog.MoveArm(robot.LimbRight, []float64{0.1, 0.2, 0.3}),
		dog.Grasp(robot.LimbRight, robot.DefaultGraspForce),
		dog.Release(robot.LimbRight),
	} {
		assert.False(t, r.Success)
		assert.Equal(t, true, r.Data["unsupported"])
	}
	assert.Equal(t, "unitree_go2 does not support grasping", dog.Grasp(robot.LimbLeft, 5).Message)

	humanoid, _ := connected(t, "unitree_g1")
	r := humanoid.Grasp(robot.LimbLeft, 5)
	assert.True(t, r.Success, r.Message)
	assert.Equal(t, true, r.Data["closed"])
	assert.True(t, humanoid.Release(robot.LimbLeft).Success)
	assert.False(t, humanoid.Grasp("tail", 5).Success)
}

func TestDriver_PlayAction(t *testing.T) {
	d, _ := connected(t, "unitree_go2")

	assert.Contains(t, d.Actions(), "dance")
	r := d.PlayAction("dance")
	assert.True(t, r.Success)

	r = d.PlayAction("moonwalk")
	assert.False(t, r.Success)
	assert.Equal(t, "unknown action: moonwalk", r.Message)
}

func TestDriver_SurfaceVesselCannotJump(t *testing.T) {
	d, _ := connected(t, "generic_surface")

	caps := d.Capabilities()
	assert.False(t, caps.CanJump)
	assert.False(t, caps.HasArm)
	assert.Equal(t, "generic_surface does not support arm control", d.MoveArm(robot.LimbRight, nil).Message)
}
