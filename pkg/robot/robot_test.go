package robot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdapter is the smallest Adapter used to exercise the factory.
type stubAdapter struct {
	NoArms
	info Info
}

func newStub(code string) Constructor {
	return func(ip string, opts Options) (Adapter, error) {
		return &stubAdapter{NoArms: NoArms{Code: code}, info: Info{Code: code, IP: ip}}, nil
	}
}

func (s *stubAdapter) Info() Info { return s.info }
func (s *stubAdapter) Capabilities() Capabilities { return Capabilities{} }
func (s *stubAdapter) Connect(context.Context) error { s.info.Connected = true; return nil }
func (s *stubAdapter) Disconnect() { s.info.Connected = false }
func (s *stubAdapter) State() State { return NewState(0, 100, 25, time.Now()) }
func (s *stubAdapter) Stand() TaskResult { return Ok("stand") }
func (s *stubAdapter) Sit() TaskResult { return Ok("sit") }
func (s *stubAdapter) Stop() TaskResult { return Ok("stop") }
func (s *stubAdapter) Move(_, _, _ float64) TaskResult { return Ok("move") }
func (s *stubAdapter) GoTo([3]float64, *[4]float64) TaskResult { return Ok("go") }
func (s *stubAdapter) PlayAction(name string) TaskResult { return Fail("unknown action: %s", name) }
func (s *stubAdapter) Actions() []string { return nil }

func TestFactory_CreateRegistered(t *testing.T) {
	f := NewFactory()
	f.Register("alpha", newStub("alpha"))
	f.Register("beta", newStub("beta"))

	for _, code := range f.ListSupported() {
		a, err := f.Create(code, "10.0.0.2", nil)
		require.NoError(t, err)
		assert.Equal(t, code, a.Info().Code)
		assert.Equal(t, "10.0.0.2", a.Info().IP)
		assert.False(t, a.Info().Connected, "factory must not connect")
	}
}

func TestFactory_CreateUnknownListsCodes(t *testing.T) {
	f := NewFactory()
	f.Register("alpha", newStub("alpha"))
	f.Register("beta", newStub("beta"))

	_, err := f.Create("gamma", "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownRobot))
	assert.Contains(t, err.Error(), "gamma")
	assert.Contains(t, err.Error(), "alpha")
	assert.Contains(t, err.Error(), "beta")
}

func TestFactory_LastRegistrationWins(t *testing.T) {
	f := NewFactory()
	f.Register("alpha", newStub("first"))
	f.Register("alpha", newStub("second"))

	a, err := f.Create("alpha", "", nil)
	require.NoError(t, err)
	assert.Equal(t, "second", a.Info().Code)
	assert.Equal(t, []string{"alpha"}, f.ListSupported())
}

func TestFactory_ConstructorError(t *testing.T) {
	f := NewFactory()
	f.Register("broken", func(string, Options) (Adapter, error) {
		return nil, errors.New("no serial port")
	})

	_, err := f.Create("broken", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no serial port")
	assert.False(t, errors.Is(err, ErrUnknownRobot))
}

func TestNoArms_Unsupported(t *testing.T) {
	a := NoArms{Code: "unitree_go2"}

	for _, r := range []TaskResult{a.MoveArm(LimbLeft, []float64{0, 0, 0}), a.Grasp(LimbRight, 5), a.Release(LimbRight)} {
		assert.False(t, r.Success)
		assert.Contains(t, r.Message, "unitree_go2 does not support")
		assert.Equal(t, true, r.Data["unsupported"])
	}
}

func TestActionTable(t *testing.T) {
	ran := false
	table := NewActionTable(
		Action{Name: "Wave", Description: "Wave hand"},
		Action{Name: "dance", Description: "Dance", Run: func() TaskResult { ran = true; return Ok("danced") }},
	)

	assert.Equal(t, []string{"wave", "dance"}, table.Names())
	assert.True(t, table.Has("WAVE"))

	r := table.Play("wave")
	assert.True(t, r.Success)
	assert.Equal(t, "play action: Wave hand", r.Message)

	r = table.Play("dance")
	assert.True(t, r.Success)
	assert.True(t, ran)

	r = table.Play("backflip")
	assert.False(t, r.Success)
	assert.Equal(t, "unknown action: backflip", r.Message)
}

func TestNewState(t *testing.T) {
	tests := []struct {
		name    string
		battery float64
		want    float64
	}{
		{"in range", 85, 85},
		{"above", 140, 100},
		{"below", -3, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewState(12, tt.battery, 30, time.Unix(0, 0))
			assert.Equal(t, tt.want, s.Battery)
			assert.Len(t, s.JointPositions, 12)
			assert.Len(t, s.JointVelocities, 12)
			assert.Equal(t, [4]float64{0, 0, 0, 1}, s.Orientation)
		})
	}
}

func TestClampVelocity(t *testing.T) {
	assert.Equal(t, 1.0, ClampVelocity(3, 1))
	assert.Equal(t, -1.0, ClampVelocity(-3, 1))
	assert.Equal(t, 0.25, ClampVelocity(0.25, 1))
	assert.Equal(t, 0.0, ClampVelocity(0.5, 0))
}
