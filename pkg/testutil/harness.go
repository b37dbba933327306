// Package testutil provides testing utilities for robot adapters and plugins.
// This file provides a TestEnv for end-to-end tests against a mock rosbridge.
package testutil

import (
	"context"
	"fmt"
	"time"

	"robotcontrol/internal/adapters"
	"robotcontrol/internal/adapters/rosbridge"
	"robotcontrol/internal/clock"
	"robotcontrol/internal/dispatch"
	"robotcontrol/internal/session"
	"robotcontrol/pkg/robot"

	"go.uber.org/zap"
)

// TestEnv wires a mock rosbridge server to a session whose active robot is
// the rosbridge adapter. Sleeps go through a MockClock, so turns return
// immediately.
type TestEnv struct {
	Server  *MockRosbridgeServer
	Session *session.Session
	Clock   *clock.MockClock
	Logger  *zap.Logger
}

// NewTestEnv starts the mock server and initializes the session against it.
// opts are passed to the rosbridge adapter; "url" is always set to the mock.
//
// Example usage:
//
//	env, err := testutil.NewTestEnv(robot.Options{"category": "quadruped"})
//	if err != nil {
//	    t.Fatal(err)
//	}
//	defer env.Cleanup()
//
//	res := env.Session.Execute(ctx, "forward 2")
func NewTestEnv(opts robot.Options) (*TestEnv, error) {
	logger := zap.NewNop()
	clk := clock.NewMockClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	server := NewMockRosbridgeServer()
	server.Start()

	merged := robot.Options{}
	for k, v := range opts {
		merged[k] = v
	}
	merged["url"] = server.URL()

	sess := session.New(adapters.NewFactory(clk, logger), clk, dispatch.DefaultConfig(), nil, logger)
	res := sess.Initialize(context.Background(), rosbridge.Code, "127.0.0.1", merged)
	if !res.Connected {
		server.Stop()
		return nil, fmt.Errorf("failed to initialize rosbridge robot: %s", res.Error)
	}

	return &TestEnv{
		Server:  server,
		Session: sess,
		Clock:   clk,
		Logger:  logger,
	}, nil
}

// Execute runs text through the session with a background context.
func (e *TestEnv) Execute(text string) dispatch.Result {
	return e.Session.Execute(context.Background(), text)
}

// Twists returns every Twist published on /cmd_vel so far, in order.
func (e *TestEnv) Twists() ([]rosbridge.Twist, error) {
	msgs := FilterPublished(e.Server.GetPublished(), "/cmd_vel")
	twists := make([]rosbridge.Twist, 0, len(msgs))
	for _, m := range msgs {
		var tw rosbridge.Twist
		if err := m.Decode(&tw); err != nil {
			return nil, err
		}
		twists = append(twists, tw)
	}
	return twists, nil
}

// Cleanup stops all components in the correct order.
// Always call this in a defer after creating the TestEnv.
func (e *TestEnv) Cleanup() {
	if e.Session != nil {
		e.Session.Close()
	}
	if e.Server != nil {
		e.Server.Stop()
	}
}

// GetServiceCalls returns all service calls made to the mock server.
func (e *TestEnv) GetServiceCalls() []ServiceCall {
	return e.Server.GetServiceCalls()
}

// ClearRecorded clears recorded service calls and published messages.
func (e *TestEnv) ClearRecorded() {
	e.Server.ClearRecorded()
}
