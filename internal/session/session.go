// Package session binds one active robot adapter to the command parser and
// dispatcher. It is the object behind the initialize/execute/status surface.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"robotcontrol/internal/clock"
	"robotcontrol/internal/command"
	"robotcontrol/internal/dispatch"
	"robotcontrol/internal/journal"
	"robotcontrol/pkg/robot"
)

// ErrNotInitialized is returned by operations that need an active robot.
var ErrNotInitialized = errors.New("initialize robot first")

// Journal records executed commands. *journal.Journal satisfies it.
type Journal interface {
	Record(ctx context.Context, e journal.Entry) (journal.Entry, error)
	Recent(ctx context.Context, limit int) ([]journal.Entry, error)
}

// InitResult reports the outcome of Initialize.
type InitResult struct {
	SessionID string `json:"session_id,omitempty"`
	Connected bool   `json:"connected"`
	Robot     string `json:"robot,omitempty"`
	Code      string `json:"code,omitempty"`
	IP        string `json:"ip,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Status is the snapshot returned by Status.
type Status struct {
	Connected   bool           `json:"connected"`
	Robot       string         `json:"robot,omitempty"`
	Code        string         `json:"code,omitempty"`
	Category    robot.Category `json:"type,omitempty"`
	Battery     float64        `json:"battery"`
	Temperature float64        `json:"temperature"`
	Position    [3]float64     `json:"position"`
	Orientation [4]float64     `json:"orientation"`
	Speed       float64        `json:"speed"`
}

// Session holds at most one active adapter. Execute calls are serialized;
// Status and ListRobots do not wait for a running command.
type Session struct {
	factory *robot.Factory
	parser  *command.Parser
	clock   clock.Clock
	config  dispatch.Config
	journal Journal
	logger  *zap.Logger

	// execMu serializes Execute, Initialize and Close.
	execMu sync.Mutex

	mu         sync.RWMutex
	id         string
	adapter    robot.Adapter
	owned      bool
	dispatcher *dispatch.Dispatcher
}

// New creates an empty session. j may be nil.
func New(factory *robot.Factory, clk clock.Clock, cfg dispatch.Config, j Journal, logger *zap.Logger) *Session {
	return &Session{
		factory: factory,
		parser:  command.NewParser(),
		clock:   clk,
		config:  cfg,
		journal: j,
		logger:  logger.Named("session"),
	}
}

// Initialize creates and connects the robot registered as code. On success it
// replaces any previously active robot, which is disconnected. On failure the
// previous robot stays active.
func (s *Session) Initialize(ctx context.Context, code, ip string, opts robot.Options) InitResult {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	adapter, err := s.factory.Create(code, ip, opts)
	if err != nil {
		s.logger.Warn("Failed to create robot", zap.String("code", code), zap.Error(err))
		return InitResult{Code: code, IP: ip, Error: err.Error()}
	}
	if err := adapter.Connect(ctx); err != nil {
		s.logger.Warn("Failed to connect robot", zap.String("code", code), zap.String("ip", ip), zap.Error(err))
		return InitResult{Code: code, IP: ip, Error: fmt.Sprintf("failed to connect: %v", err)}
	}

	id := s.attach(adapter, true)
	info := adapter.Info()
	s.logger.Info("Robot initialized",
		zap.String("session", id),
		zap.String("code", info.Code),
		zap.String("robot", info.Name),
		zap.String("ip", info.IP))

	return InitResult{
		SessionID: id,
		Connected: true,
		Robot:     info.Name,
		Code:      info.Code,
		IP:        info.IP,
	}
}

// Attach makes an adapter connected elsewhere the active robot, e.g. the one
// owned by a robot driver plugin. The session does not disconnect it.
func (s *Session) Attach(adapter robot.Adapter) string {
	s.execMu.Lock()
	defer s.execMu.Unlock()
	id := s.attach(adapter, false)
	s.logger.Info("Robot attached", zap.String("session", id), zap.String("code", adapter.Info().Code))
	return id
}

func (s *Session) attach(adapter robot.Adapter, owned bool) string {
	d := dispatch.New(adapter, s.clock, s.config, s.logger)

	s.mu.Lock()
	prev, prevOwned := s.adapter, s.owned
	if s.dispatcher != nil {
		d.SetSpeed(s.dispatcher.Speed())
	}
	s.id = uuid.NewString()
	s.adapter = adapter
	s.owned = owned
	s.dispatcher = d
	id := s.id
	s.mu.Unlock()

	if prev != nil && prevOwned && prev != adapter {
		prev.Disconnect()
	}
	return id
}

// Execute parses text for the active robot and dispatches it. Without an
// active robot it fails with ErrNotInitialized's message.
func (s *Session) Execute(ctx context.Context, text string) dispatch.Result {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.mu.RLock()
	adapter, d := s.adapter, s.dispatcher
	s.mu.RUnlock()

	if adapter == nil {
		return dispatch.Result{
			ID:     uuid.NewString(),
			Action: command.ActionUnknown,
			Params: command.Params{},
			Error:  fmt.Sprintf("%s: initialize('unitree_go2', '192.168.12.1')", ErrNotInitialized),
		}
	}

	info := adapter.Info()
	res := d.Dispatch(ctx, s.parser.Parse(text, info.Category))
	s.record(ctx, info.Code, text, res)
	return res
}

func (s *Session) record(ctx context.Context, code, raw string, res dispatch.Result) {
	if s.journal == nil {
		return
	}
	message := res.Message
	if !res.Success {
		message = res.Error
	}
	// Commands interrupted by ctx are still recorded.
	_, err := s.journal.Record(context.WithoutCancel(ctx), journal.Entry{
		ID:      res.ID,
		Robot:   code,
		Raw:     raw,
		Action:  res.Action,
		Success: res.Success,
		Message: message,
	})
	if err != nil {
		s.logger.Warn("Failed to record command", zap.String("id", res.ID), zap.Error(err))
	}
}

// ListRobots returns every supported robot code.
func (s *Session) ListRobots() []string {
	return s.factory.ListSupported()
}

// Status reports the active robot's connection and health.
func (s *Session) Status() Status {
	s.mu.RLock()
	adapter, d := s.adapter, s.dispatcher
	s.mu.RUnlock()

	if adapter == nil {
		return Status{}
	}
	info := adapter.Info()
	if !info.Connected {
		return Status{Code: info.Code, Robot: info.Name, Category: info.Category}
	}
	state := adapter.State()
	return Status{
		Connected:   true,
		Robot:       info.Name,
		Code:        info.Code,
		Category:    info.Category,
		Battery:     state.Battery,
		Temperature: state.Temperature,
		Position:    state.Position,
		Orientation: state.Orientation,
		Speed:       d.Speed(),
	}
}

// Adapter returns the active adapter, or nil.
func (s *Session) Adapter() robot.Adapter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.adapter
}

// ID returns the identifier of the current binding, empty before Initialize.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// SetSpeed changes the linear speed used by later commands and returns the
// clamped value.
func (s *Session) SetSpeed(speed float64) (float64, error) {
	s.mu.RLock()
	d := s.dispatcher
	s.mu.RUnlock()
	if d == nil {
		return 0, ErrNotInitialized
	}
	return d.SetSpeed(speed), nil
}

// History returns up to limit recorded commands, newest first. limit is
// capped at journal.MaxRecent. Without a journal it returns nothing.
func (s *Session) History(ctx context.Context, limit int) ([]journal.Entry, error) {
	if s.journal == nil {
		return nil, nil
	}
	if limit > journal.MaxRecent {
		limit = journal.MaxRecent
	}
	entries, err := s.journal.Recent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	return entries, nil
}

// Close stops and disconnects the active robot if the session owns it.
func (s *Session) Close() error {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.mu.Lock()
	adapter, owned := s.adapter, s.owned
	s.adapter, s.dispatcher, s.id = nil, nil, ""
	s.mu.Unlock()

	if adapter == nil || !owned {
		return nil
	}
	var err error
	if info := adapter.Info(); info.Connected {
		if r := adapter.Stop(); !r.Success {
			err = fmt.Errorf("stop %s: %s", info.Code, r.Message)
		}
	}
	adapter.Disconnect()
	s.logger.Info("Robot released")
	return err
}
