// Package rosbridge drives any ROS robot reachable through a rosbridge v2
// WebSocket server. Velocity commands go out as geometry_msgs/Twist on the
// command topic, pose and battery come back from odometry and battery topics,
// and posture changes and predefined motions are std_srvs/Trigger services.
package rosbridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"robotcontrol/internal/clock"
	"robotcontrol/pkg/robot"
)

// Code is the factory code of the rosbridge driver.
const Code = "rosbridge"

// DefaultPort is the rosbridge_server default port.
const DefaultPort = 9090

const serviceTimeout = 5 * time.Second

// Settings selects topics, limits and identity of the bridged robot.
type Settings struct {
	URL          string
	Category     robot.Category
	Joints       int
	CmdVelTopic  string
	GoalTopic    string
	OdomTopic    string
	BatteryTopic string
	Actions      []string
	Capabilities robot.Capabilities
}

// SettingsFromOptions builds Settings from factory options.
//
// Recognized options: url, port, category, joints, cmd_vel_topic, goal_topic,
// odom_topic, battery_topic, actions, max_linear_speed, max_rotation_speed.
func SettingsFromOptions(ip string, opts robot.Options) Settings {
	url := opts.String("url", "")
	if url == "" {
		url = fmt.Sprintf("ws://%s:%d", ip, int(opts.Float("port", DefaultPort)))
	}
	category := robot.Category(opts.String("category", string(robot.CategoryWheeled)))
	if !category.Valid() {
		category = robot.CategoryWheeled
	}
	return Settings{
		URL:          url,
		Category:     category,
		Joints:       int(opts.Float("joints", 0)),
		CmdVelTopic:  opts.String("cmd_vel_topic", "/cmd_vel"),
		GoalTopic:    opts.String("goal_topic", "/goal_pose"),
		OdomTopic:    opts.String("odom_topic", "/odom"),
		BatteryTopic: opts.String("battery_topic", "/battery_state"),
		Actions:      opts.Strings("actions", []string{"wave", "handshake", "lie_down"}),
		Capabilities: robot.Capabilities{
			Locomotion:       true,
			MaxLinearSpeed:   opts.Float("max_linear_speed", 1.0),
			MaxRotationSpeed: opts.Float("max_rotation_speed", 1.0),
		},
	}
}

// Driver implements robot.Adapter over rosbridge.
type Driver struct {
	robot.NoArms

	ip       string
	settings Settings
	clock    clock.Clock
	logger   *zap.Logger
	actions  *robot.ActionTable

	mu          sync.Mutex
	client      *Client
	pose        Pose
	battery     float64
	temperature float64
}

// NewDriver creates a disconnected driver.
func NewDriver(ip string, settings Settings, clk clock.Clock, logger *zap.Logger) *Driver {
	d := &Driver{
		NoArms:   robot.NoArms{Code: Code},
		ip:       ip,
		settings: settings,
		clock:    clk,
		logger:   logger.Named("rosbridge").With(zap.String("url", settings.URL)),
		pose:     Pose{Orientation: Quaternion{W: 1}},
		battery:  100,
	}
	d.actions = robot.NewActionTable()
	for _, name := range settings.Actions {
		service := "/" + name
		d.actions.Add(robot.Action{Name: name, Description: name, Run: func() robot.TaskResult {
			return d.trigger(service)
		}})
	}
	return d
}

// Constructor returns a robot.Constructor for rosbridge robots.
func Constructor(clk clock.Clock, logger *zap.Logger) robot.Constructor {
	return func(ip string, opts robot.Options) (robot.Adapter, error) {
		return NewDriver(ip, SettingsFromOptions(ip, opts), clk, logger), nil
	}
}

// Info implements robot.Adapter.
func (d *Driver) Info() robot.Info {
	d.mu.Lock()
	connected := d.client != nil && d.client.IsConnected()
	d.mu.Unlock()

	return robot.Info{
		Code:      Code,
		Name:      "ROS robot (rosbridge)",
		Brand:     "ROS",
		Category:  d.settings.Category,
		IP:        d.ip,
		Connected: connected,
	}
}

// Capabilities implements robot.Adapter.
func (d *Driver) Capabilities() robot.Capabilities {
	return d.settings.Capabilities
}

// Connect dials the bridge, advertises the command topics and subscribes to
// odometry and battery state.
func (d *Driver) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil && d.client.IsConnected() {
		return nil
	}

	client := NewClient(d.settings.URL, d.logger)
	if err := client.Connect(ctx); err != nil {
		return fmt.Errorf("connect %s: %w", Code, err)
	}

	setup := []func() error{
		func() error { return client.Advertise(d.settings.CmdVelTopic, TypeTwist) },
		func() error { return client.Advertise(d.settings.GoalTopic, TypePoseStamped) },
		func() error { return client.Subscribe(d.settings.OdomTopic, TypeOdometry, d.onOdometry) },
		func() error { return client.Subscribe(d.settings.BatteryTopic, TypeBatteryState, d.onBattery) },
	}
	for _, step := range setup {
		if err := step(); err != nil {
			client.Close()
			return fmt.Errorf("connect %s: %w", Code, err)
		}
	}

	d.client = client
	return nil
}

// Disconnect stops the robot and closes the connection.
func (d *Driver) Disconnect() {
	d.mu.Lock()
	client := d.client
	d.client = nil
	d.mu.Unlock()

	if client == nil {
		return
	}
	if err := client.Publish(d.settings.CmdVelTopic, Twist{}); err != nil {
		d.logger.Warn("Failed to send stop before disconnect", zap.Error(err))
	}
	if err := client.Close(); err != nil {
		d.logger.Warn("Failed to close rosbridge connection", zap.Error(err))
	}
}

func (d *Driver) onOdometry(raw json.RawMessage) {
	var odom Odometry
	if err := json.Unmarshal(raw, &odom); err != nil {
		d.logger.Debug("Bad odometry frame", zap.Error(err))
		return
	}
	d.mu.Lock()
	d.pose = odom.Pose.Pose
	d.mu.Unlock()
}

func (d *Driver) onBattery(raw json.RawMessage) {
	var bs BatteryState
	if err := json.Unmarshal(raw, &bs); err != nil {
		d.logger.Debug("Bad battery frame", zap.Error(err))
		return
	}
	d.mu.Lock()
	d.battery = bs.Percentage * 100
	d.temperature = bs.Temperature
	d.mu.Unlock()
}

// State implements robot.Adapter from the latest odometry and battery frames.
func (d *Driver) State() robot.State {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := robot.NewState(d.settings.Joints, d.battery, d.temperature, d.clock.Now())
	p, q := d.pose.Position, d.pose.Orientation
	s.Position = [3]float64{p.X, p.Y, p.Z}
	s.Orientation = [4]float64{q.X, q.Y, q.Z, q.W}
	return s
}

func (d *Driver) currentClient() (*Client, robot.TaskResult, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client == nil || !d.client.IsConnected() {
		return nil, robot.Fail("%s is not connected", Code), false
	}
	return d.client, robot.TaskResult{}, true
}

// Move publishes a clamped Twist on the command topic.
func (d *Driver) Move(forward, lateral, yawRate float64) robot.TaskResult {
	client, r, ok := d.currentClient()
	if !ok {
		return r
	}
	caps := d.settings.Capabilities
	twist := Twist{
		Linear: Vector3{
			X: robot.ClampVelocity(forward, caps.MaxLinearSpeed),
			Y: robot.ClampVelocity(lateral, caps.MaxLinearSpeed),
		},
		Angular: Vector3{Z: robot.ClampVelocity(yawRate, caps.MaxRotationSpeed)},
	}
	if err := client.Publish(d.settings.CmdVelTopic, twist); err != nil {
		return robot.Fail("move: %v", err)
	}
	return robot.Ok("Move: x=%.2f, y=%.2f, yaw=%.2f", twist.Linear.X, twist.Linear.Y, twist.Angular.Z)
}

// Stop publishes a zero Twist.
func (d *Driver) Stop() robot.TaskResult {
	client, r, ok := d.currentClient()
	if !ok {
		return r
	}
	if err := client.Publish(d.settings.CmdVelTopic, Twist{}); err != nil {
		return robot.Fail("stop: %v", err)
	}
	return robot.Ok("Stopped")
}

// GoTo publishes a navigation goal in the map frame.
func (d *Driver) GoTo(position [3]float64, orientation *[4]float64) robot.TaskResult {
	client, r, ok := d.currentClient()
	if !ok {
		return r
	}

	goal := PoseStamped{Header: Header{FrameID: "map"}}
	goal.Pose.Position = Vector3{X: position[0], Y: position[1], Z: position[2]}
	if orientation != nil {
		o := *orientation
		goal.Pose.Orientation = Quaternion{X: o[0], Y: o[1], Z: o[2], W: o[3]}
	} else {
		d.mu.Lock()
		goal.Pose.Orientation = d.pose.Orientation
		d.mu.Unlock()
		if goal.Pose.Orientation == (Quaternion{}) {
			goal.Pose.Orientation.W = 1
		}
	}

	if err := client.Publish(d.settings.GoalTopic, goal); err != nil {
		return robot.Fail("go to: %v", err)
	}
	return robot.Ok("Go to [%.2f, %.2f, %.2f]", position[0], position[1], position[2])
}

// Stand calls the /stand trigger service.
func (d *Driver) Stand() robot.TaskResult {
	return d.trigger("/stand")
}

// Sit calls the /sit trigger service.
func (d *Driver) Sit() robot.TaskResult {
	return d.trigger("/sit")
}

// PlayAction calls the trigger service named after the action.
func (d *Driver) PlayAction(name string) robot.TaskResult {
	return d.actions.Play(name)
}

// Actions implements robot.Adapter.
func (d *Driver) Actions() []string {
	return d.actions.Names()
}

func (d *Driver) trigger(service string) robot.TaskResult {
	client, r, ok := d.currentClient()
	if !ok {
		return r
	}

	ctx, cancel := context.WithTimeout(context.Background(), serviceTimeout)
	defer cancel()

	var resp TriggerResponse
	if err := client.CallService(ctx, service, struct{}{}, &resp); err != nil {
		return robot.Fail("%s: %v", service, err)
	}
	if !resp.Success {
		return robot.Fail("%s: %s", service, resp.Message)
	}
	msg := resp.Message
	if msg == "" {
		msg = fmt.Sprintf("%s succeeded", service)
	}
	return robot.Ok("%s", msg)
}

