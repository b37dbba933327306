package rosbridge

import "encoding/json"

// Rosbridge v2 operations used by the driver.
const (
	OpAdvertise       = "advertise"
	OpPublish         = "publish"
	OpSubscribe       = "subscribe"
	OpUnsubscribe     = "unsubscribe"
	OpCallService     = "call_service"
	OpServiceResponse = "service_response"
)

// Message is one rosbridge protocol frame. Only the fields relevant to Op
// are set.
type Message struct {
	Op      string          `json:"op"`
	ID      string          `json:"id,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Type    string          `json:"type,omitempty"`
	Msg     json.RawMessage `json:"msg,omitempty"`
	Service string          `json:"service,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Values  json.RawMessage `json:"values,omitempty"`
	Result  *bool           `json:"result,omitempty"`
}

// ROS message type names.
const (
	TypeTwist        = "geometry_msgs/Twist"
	TypePoseStamped  = "geometry_msgs/PoseStamped"
	TypeOdometry     = "nav_msgs/Odometry"
	TypeBatteryState = "sensor_msgs/BatteryState"
	TypeTrigger      = "std_srvs/Trigger"
)

// Vector3 mirrors geometry_msgs/Vector3.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Twist mirrors geometry_msgs/Twist.
type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// Quaternion mirrors geometry_msgs/Quaternion.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Pose mirrors geometry_msgs/Pose.
type Pose struct {
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// Header mirrors std_msgs/Header; the stamp is left to the bridge.
type Header struct {
	FrameID string `json:"frame_id"`
}

// PoseStamped mirrors geometry_msgs/PoseStamped.
type PoseStamped struct {
	Header Header `json:"header"`
	Pose   Pose   `json:"pose"`
}

// Odometry carries the fields of nav_msgs/Odometry the driver reads.
type Odometry struct {
	Pose struct {
		Pose Pose `json:"pose"`
	} `json:"pose"`
}

// BatteryState carries the fields of sensor_msgs/BatteryState the driver reads.
// Percentage is a fraction in [0, 1].
type BatteryState struct {
	Percentage  float64 `json:"percentage"`
	Temperature float64 `json:"temperature"`
}

// TriggerResponse mirrors the std_srvs/Trigger response.
type TriggerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
