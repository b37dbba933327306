// Package adapters wires every built-in robot driver into a robot.Factory.
package adapters

import (
	"go.uber.org/zap"

	"robotcontrol/internal/adapters/rosbridge"
	"robotcontrol/internal/adapters/sim"
	"robotcontrol/internal/adapters/so101"
	"robotcontrol/internal/clock"
	"robotcontrol/pkg/robot"
)

// RegisterBuiltins registers the simulated models, the SO-101 arm and the
// rosbridge driver on factory.
func RegisterBuiltins(factory *robot.Factory, clk clock.Clock, logger *zap.Logger) {
	for _, model := range sim.Models() {
		factory.Register(model.Code, sim.Constructor(model, clk, logger))
	}
	factory.Register(so101.Code, so101.Constructor(clk, logger))
	factory.Register(rosbridge.Code, rosbridge.Constructor(clk, logger))
}

// NewFactory returns a factory with every built-in driver registered.
func NewFactory(clk clock.Clock, logger *zap.Logger) *robot.Factory {
	f := robot.NewFactory()
	RegisterBuiltins(f, clk, logger)
	return f
}
