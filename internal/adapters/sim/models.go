package sim

import "robotcontrol/pkg/robot"

// Model is the fixed description of one simulated robot model. Drivers for
// near-identical hardware differ only in their Model record.
type Model struct {
	Code     string
	Name     string
	Brand    string
	Category robot.Category

	// Joints sizes the joint arrays in State.
	Joints int

	// Initial battery percent and temperature reported by a fresh driver.
	Battery     float64
	Temperature float64

	// Body heights in meters used by Stand and Sit.
	StandHeight float64
	SitHeight   float64

	Capabilities robot.Capabilities

	// Actions lists the predefined motions PlayAction accepts.
	Actions []robot.Action
}

var quadrupedActions = []robot.Action{
	{Name: "wave", Description: "Wave"},
	{Name: "handshake", Description: "Handshake"},
	{Name: "dance", Description: "Dance"},
	{Name: "lie_down", Description: "Lie down"},
	{Name: "stretch", Description: "Stretch"},
}

var humanoidActions = []robot.Action{
	{Name: "wave", Description: "Wave right hand"},
	{Name: "handshake", Description: "Offer right hand"},
	{Name: "bow", Description: "Bow"},
	{Name: "clap", Description: "Clap"},
	{Name: "lie_down", Description: "Lie down"},
}

func quadruped(code, name string, maxSpeed float64) Model {
	return Model{
		Code:        code,
		Name:        name,
		Brand:       "Unitree",
		Category:    robot.CategoryQuadruped,
		Joints:      12,
		Battery:     85,
		Temperature: 35,
		StandHeight: 0.4,
		SitHeight:   0.15,
		Capabilities: robot.Capabilities{
			CanJump:          true,
			Locomotion:       true,
			MaxLinearSpeed:   maxSpeed,
			MaxRotationSpeed: 2.0,
			BatteryWh:        432,
			MassKg:           15,
		},
		Actions: quadrupedActions,
	}
}

func humanoid(code, name string, joints int, maxSpeed, massKg float64) Model {
	return Model{
		Code:        code,
		Name:        name,
		Brand:       "Unitree",
		Category:    robot.CategoryHumanoid,
		Joints:      joints,
		Battery:     90,
		Temperature: 32,
		StandHeight: 1.3,
		SitHeight:   0.6,
		Capabilities: robot.Capabilities{
			BipedalWalk:      true,
			Locomotion:       true,
			MaxLinearSpeed:   maxSpeed,
			MaxRotationSpeed: 1.0,
			HasArm:           true,
			HasGripper:       true,
			Arms:             []string{robot.LimbLeft, robot.LimbRight},
			BatteryWh:        864,
			MassKg:           massKg,
		},
		Actions: humanoidActions,
	}
}

// Models returns every built-in simulated model.
func Models() []Model {
	return []Model{
		quadruped("unitree_go1", "Unitree GO1", 1.0),
		quadruped("unitree_go2", "Unitree GO2", 1.2),
		quadruped("unitree_ali", "Unitree Ali", 1.0),
		humanoid("unitree_g1", "Unitree G1", 23, 0.8, 35),
		humanoid("unitree_h1", "Unitree H1", 20, 1.0, 47),
		{
			Code:        "generic_wheeled",
			Name:        "Wheeled Rover",
			Brand:       "Generic",
			Category:    robot.CategoryWheeled,
			Joints:      4,
			Battery:     100,
			Temperature: 30,
			StandHeight: 0.2,
			SitHeight:   0.2,
			Capabilities: robot.Capabilities{
				Locomotion:       true,
				MaxLinearSpeed:   1.5,
				MaxRotationSpeed: 1.5,
				BatteryWh:        240,
				MassKg:           25,
			},
		},
		{
			Code:        "generic_aerial",
			Name:        "Quadcopter",
			Brand:       "Generic",
			Category:    robot.CategoryAerial,
			Joints:      4,
			Battery:     100,
			Temperature: 30,
			StandHeight: 1.5,
			Capabilities: robot.Capabilities{
				Locomotion:       true,
				MaxLinearSpeed:   5.0,
				MaxRotationSpeed: 3.0,
				BatteryWh:        77,
				MassKg:           0.9,
			},
			Actions: []robot.Action{
				{Name: "takeoff", Description: "Take off"},
				{Name: "land", Description: "Land"},
				{Name: "hover", Description: "Hover"},
			},
		},
		{
			Code:        "generic_surface",
			Name:        "Surface Vessel",
			Brand:       "Generic",
			Category:    robot.CategorySurface,
			Joints:      2,
			Battery:     100,
			Temperature: 25,
			Capabilities: robot.Capabilities{
				Locomotion:       true,
				MaxLinearSpeed:   2.0,
				MaxRotationSpeed: 0.5,
				BatteryWh:        1000,
				MassKg:           40,
			},
			Actions: []robot.Action{
				{Name: "hold_station", Description: "Hold station"},
			},
		},
	}
}
