package integration

import (
	"testing"
	"time"

	"robotcontrol/internal/adapters/rosbridge"
	"robotcontrol/pkg/robot"
	"robotcontrol/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTest(t *testing.T, opts robot.Options) *testutil.TestEnv {
	t.Helper()
	env, err := testutil.NewTestEnv(opts)
	require.NoError(t, err)
	t.Cleanup(env.Cleanup)
	require.True(t, env.Server.WaitForSubscription("/odom", time.Second))
	return env
}

// TestBasicConnection checks the session is bound to the rosbridge adapter.
func TestBasicConnection(t *testing.T) {
	env := setupTest(t, robot.Options{"category": "quadruped"})

	status := env.Session.Status()
	assert.True(t, status.Connected)
	assert.Equal(t, rosbridge.Code, status.Code)
	assert.Equal(t, robot.CategoryQuadruped, status.Category)

	_, ok := env.Server.Advertised("/cmd_vel")
	assert.True(t, ok)
}

func TestForwardPublishesVelocity(t *testing.T) {
	env := setupTest(t, nil)

	res := env.Execute("forward 2")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, "forward", res.Action)

	require.Len(t, env.Server.WaitForPublished("/cmd_vel", 1, time.Second), 1)
	twists, err := env.Twists()
	require.NoError(t, err)
	assert.Equal(t, 0.5, twists[0].Linear.X)
	assert.Equal(t, 0.0, twists[0].Angular.Z)
}

func TestTurnRightThenStops(t *testing.T) {
	env := setupTest(t, nil)

	res := env.Execute("turn right 90")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, []time.Duration{2 * time.Second}, env.Clock.Sleeps())

	require.Len(t, env.Server.WaitForPublished("/cmd_vel", 2, time.Second), 2)
	twists, err := env.Twists()
	require.NoError(t, err)
	assert.Equal(t, -0.5, twists[0].Angular.Z)
	assert.Equal(t, rosbridge.Twist{}, twists[1])
}

func TestSequenceRunsInOrder(t *testing.T) {
	env := setupTest(t, nil)
	env.Server.SetServiceResponse("/wave", true, "waving")

	res := env.Execute("stand up and then wave")
	require.True(t, res.Success, res.Error)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, "stand", res.Steps[0].Action)
	assert.Equal(t, "waving", res.Steps[1].Message)

	calls := env.GetServiceCalls()
	require.Len(t, calls, 2)
	assert.Equal(t, "/stand", calls[0].Service)
	assert.Equal(t, "/wave", calls[1].Service)
}

func TestSequenceContinuesAfterFailure(t *testing.T) {
	env := setupTest(t, nil)
	env.Server.SetServiceResponse("/stand", false, "motors cold")

	res := env.Execute("stand up then sit down")
	assert.False(t, res.Success)
	require.Len(t, res.Steps, 2)
	assert.False(t, res.Steps[0].Success)
	assert.Equal(t, "/stand: motors cold", res.Steps[0].Message)
	assert.True(t, res.Steps[1].Success)

	assert.Len(t, testutil.FilterServiceCalls(env.GetServiceCalls(), "/sit"), 1)
}

func TestNavigateToPosition(t *testing.T) {
	env := setupTest(t, nil)

	res := env.Execute("go to 3, 4")
	require.True(t, res.Success, res.Error)

	msgs := env.Server.WaitForPublished("/goal_pose", 1, time.Second)
	require.Len(t, msgs, 1)
	var goal rosbridge.PoseStamped
	require.NoError(t, msgs[0].Decode(&goal))
	assert.Equal(t, 3.0, goal.Pose.Position.X)
	assert.Equal(t, 4.0, goal.Pose.Position.Y)
}

func TestBatteryFromTopic(t *testing.T) {
	env := setupTest(t, nil)
	require.True(t, env.Server.WaitForSubscription("/battery_state", time.Second))
	require.NoError(t, env.Server.PublishTo("/battery_state", rosbridge.BatteryState{Percentage: 0.25}))

	assert.Eventually(t, func() bool {
		return env.Session.Status().Battery == 25.0
	}, time.Second, 5*time.Millisecond)

	res := env.Execute("check battery")
	require.True(t, res.Success)
	assert.Equal(t, "battery: 25.0%", res.Message)
}

func TestArmCommandUnsupported(t *testing.T) {
	env := setupTest(t, nil)

	res := env.Execute("grasp the cup")
	assert.False(t, res.Success)
	assert.Equal(t, "grasp", res.Action)
	assert.Empty(t, env.GetServiceCalls())
}
