package adapters

import (
	"errors"
	"testing"
	"time"

	"robotcontrol/internal/adapters/rosbridge"
	"robotcontrol/internal/adapters/sim"
	"robotcontrol/internal/adapters/so101"
	"robotcontrol/internal/clock"
	"robotcontrol/pkg/robot"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewFactory_RegistersEveryDriver(t *testing.T) {
	f := NewFactory(clock.NewMockClock(time.Unix(0, 0)), zap.NewNop())

	codes := f.ListSupported()
	assert.Len(t, codes, len(sim.Models())+2)
	assert.Contains(t, codes, so101.Code)
	assert.Contains(t, codes, rosbridge.Code)
	assert.Contains(t, codes, "unitree_go2")

	for _, code := range codes {
		a, err := f.Create(code, "192.168.1.10", nil)
		require.NoError(t, err, code)
		assert.Equal(t, code, a.Info().Code, "identity of %s", code)
		assert.True(t, a.Info().Category.Valid(), code)
		assert.False(t, a.Info().Connected, code)
	}
}

func TestNewFactory_UnknownCode(t *testing.T) {
	f := NewFactory(clock.NewMockClock(time.Unix(0, 0)), zap.NewNop())

	_, err := f.Create("boston_spot", "", robot.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, robot.ErrUnknownRobot))
	assert.Contains(t, err.Error(), "unitree_go1")
}
