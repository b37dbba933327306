// Package depthcam is a sensor plugin simulating an Insight9 class RGB-D
// camera. Frames carry depth in millimeters inside the 0.1-10 m working
// range.
package depthcam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"robotcontrol/internal/clock"
	"robotcontrol/pkg/plugin"
	"robotcontrol/pkg/robot"
)

const (
	Kind    = "depth_camera"
	Version = "1.0.0"

	MinDepthMM = 100
	MaxDepthMM = 10000
)

// ErrNotStreaming is returned by Read before Initialize or after Shutdown.
var ErrNotStreaming = errors.New("depth camera not streaming")

// Intrinsics is the pinhole model of the sensor at the configured resolution.
type Intrinsics struct {
	FX     float64 `json:"fx"`
	FY     float64 `json:"fy"`
	CX     float64 `json:"cx"`
	CY     float64 `json:"cy"`
	Width  int     `json:"width"`
	Height int     `json:"height"`
}

// Frame is one depth image. Depth is row major, Width*Height values.
type Frame struct {
	Sequence  uint64
	Timestamp time.Time
	Width     int
	Height    int
	Depth     []uint16
}

// At returns the depth at pixel (x, y) in millimeters.
func (f Frame) At(x, y int) uint16 {
	return f.Depth[y*f.Width+x]
}

// Nearest returns the smallest valid depth in the frame, 0 for an empty frame.
func (f Frame) Nearest() uint16 {
	var nearest uint16
	for _, d := range f.Depth {
		if d != 0 && (nearest == 0 || d < nearest) {
			nearest = d
		}
	}
	return nearest
}

// Plugin produces deterministic frames: a floor gradient from far at the top
// row to near at the bottom row, shifted one row per frame.
type Plugin struct {
	name   string
	width  int
	height int
	clock  clock.Clock
	logger *zap.Logger

	mu        sync.Mutex
	open      bool
	streaming bool
	sequence  uint64
}

// New creates a camera with the given resolution.
func New(name string, width, height int, clk clock.Clock, logger *zap.Logger) *Plugin {
	if name == "" {
		name = Kind
	}
	return &Plugin{
		name:   name,
		width:  width,
		height: height,
		clock:  clk,
		logger: logger.Named("depthcam"),
	}
}

// Constructor builds the plugin from manifest config keys name, width and height.
func Constructor(pctx *plugin.Context, config map[string]any) (plugin.Plugin, error) {
	cfg := robot.Options(config)
	width := int(cfg.Float("width", 64))
	height := int(cfg.Float("height", 48))
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%s: invalid resolution %dx%d", Kind, width, height)
	}
	clk := pctx.Clock
	if clk == nil {
		clk = clock.NewRealClock()
	}
	return New(cfg.String("name", ""), width, height, clk, pctx.Logger), nil
}

// Metadata declares a sensor plugin for the Insight9 family.
func (p *Plugin) Metadata() plugin.Metadata {
	return plugin.Metadata{
		Name:              p.name,
		Version:           Version,
		Author:            "robotcontrol",
		Description:       "Simulated RGB-D depth camera",
		Type:              plugin.TypeSensor,
		CompatibleSensors: []string{"insight9", "insight9_pro", "insight9_max"},
	}
}

// Initialize opens the camera.
func (p *Plugin) Initialize(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = true
	p.logger.Info("Depth camera opened", zap.Int("width", p.width), zap.Int("height", p.height))
	return nil
}

// Start begins streaming; each Read advances the frame sequence.
func (p *Plugin) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streaming = true
	return nil
}

// Stop pauses streaming.
func (p *Plugin) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.streaming = false
	return nil
}

// Shutdown closes the camera.
func (p *Plugin) Shutdown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.open = false
	p.streaming = false
	return nil
}

// Intrinsics scales the 1080p factory calibration to the configured resolution.
func (p *Plugin) Intrinsics() Intrinsics {
	sx := float64(p.width) / 1920
	sy := float64(p.height) / 1080
	return Intrinsics{
		FX:     1050 * sx,
		FY:     1050 * sy,
		CX:     960 * sx,
		CY:     540 * sy,
		Width:  p.width,
		Height: p.height,
	}
}

// Read captures the next frame. The camera must be initialized; reading
// while stopped returns the same frame again.
func (p *Plugin) Read() (Frame, error) {
	p.mu.Lock()
	if !p.open {
		p.mu.Unlock()
		return Frame{}, ErrNotStreaming
	}
	if p.streaming {
		p.sequence++
	}
	seq := p.sequence
	p.mu.Unlock()
	return p.frame(seq), nil
}

func (p *Plugin) frame(seq uint64) Frame {
	frame := Frame{
		Sequence:  seq,
		Timestamp: p.clock.Now(),
		Width:     p.width,
		Height:    p.height,
		Depth:     make([]uint16, p.width*p.height),
	}
	span := MaxDepthMM - MinDepthMM
	for y := 0; y < p.height; y++ {
		row := (y + int(seq)) % p.height
		d := MaxDepthMM
		if p.height > 1 {
			d = MaxDepthMM - span*row/(p.height-1)
		}
		for x := 0; x < p.width; x++ {
			frame.Depth[y*p.width+x] = uint16(d)
		}
	}
	return frame
}

// Project converts pixel (x, y) with depth in millimeters to a camera frame
// point in meters.
func (p *Plugin) Project(x, y int, depthMM uint16) [3]float64 {
	in := p.Intrinsics()
	z := float64(depthMM) / 1000
	return [3]float64{
		(float64(x) - in.CX) * z / in.FX,
		(float64(y) - in.CY) * z / in.FY,
		z,
	}
}

// Status reports the stream state and, while the camera is open, a summary
// of the latest frame: the nearest depth and the camera frame point under
// the image center.
func (p *Plugin) Status() map[string]any {
	p.mu.Lock()
	open, streaming, seq := p.open, p.streaming, p.sequence
	p.mu.Unlock()

	status := map[string]any{
		"width":      p.width,
		"height":     p.height,
		"streaming":  streaming,
		"frames":     seq,
		"intrinsics": p.Intrinsics(),
	}
	if !open {
		return status
	}
	frame := p.frame(seq)
	cx, cy := p.width/2, p.height/2
	status["nearest_mm"] = frame.Nearest()
	status["center_point"] = p.Project(cx, cy, frame.At(cx, cy))
	return status
}
