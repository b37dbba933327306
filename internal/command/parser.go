// Package command turns free text into typed robot actions.
//
// Matching is two-stage. Text containing a sequence connective is split into
// segments that are parsed one by one; any other text is matched against the
// action table in declaration order, and the first action with a matching
// pattern wins.
package command

import (
	"regexp"
	"strconv"
	"strings"

	"robotcontrol/pkg/robot"
)

// Action tags produced by the parser besides the table entries.
const (
	ActionUnknown  = "unknown"
	ActionSequence = "sequence"
)

// Confidence scores attached to parse results.
const (
	ConfidenceSingle   = 0.9
	ConfidenceSequence = 0.85
	ConfidenceUnknown  = 0.0
)

// Fallback parameter values used when a numeric capture is absent or unparsable.
const (
	DefaultDistance = 1.0
	DefaultAngle    = 45.0
	DefaultSpeed    = 0.5
	DefaultLimb     = robot.LimbRight
)

// Parameter keys.
const (
	ParamDistance = "distance"
	ParamAngle    = "angle"
	ParamSpeed    = "speed"
	ParamArm      = "arm"
	ParamPosition = "position"
	ParamName     = "name"
	ParamTasks    = "tasks"
)

// ParsedCommand is the structured result of one Parse call.
type ParsedCommand struct {
	Raw        string         `json:"raw"`
	Action     string         `json:"action"`
	Params     Params         `json:"params"`
	Category   robot.Category `json:"category"`
	Confidence float64        `json:"confidence"`
}

// Known reports whether the text was recognized.
func (c ParsedCommand) Known() bool {
	return c.Action != ActionUnknown
}

// Tasks returns the sub-tasks of a sequence command, or nil.
func (c ParsedCommand) Tasks() []Task {
	tasks, _ := c.Params[ParamTasks].([]Task)
	return tasks
}

// Task is one step of a sequence.
type Task struct {
	Action string `json:"action"`
	Params Params `json:"params"`
}

// Params holds action parameters. Keys are unique per command.
type Params map[string]any

// Float returns the numeric parameter key, or def.
func (p Params) Float(key string, def float64) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return def
}

// String returns the string parameter key, or def.
func (p Params) String(key, def string) string {
	if v, ok := p[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Position returns the 3-vector stored under ParamPosition.
func (p Params) Position() ([3]float64, bool) {
	v, ok := p[ParamPosition].([]float64)
	if !ok || len(v) == 0 {
		return [3]float64{}, false
	}
	var pos [3]float64
	copy(pos[:], v)
	return pos, true
}

type extractor func(groups []string, text string) Params

type actionSpec struct {
	name     string
	patterns []*regexp.Regexp
	extract  extractor
}

const number = `(-?\d+(?:\.\d+)?)`

var (
	distanceSuffix = `(?:\s*` + number + `\s*(?:m|meters?|metres?)?)?`
	angleSuffix    = `(?:\s*` + number + `\s*(?:°|deg|degrees?)?)?`

	// connective matches a sequence separator. Longer English forms come
	// first so "and then" is consumed whole.
	connective = regexp.MustCompile(`[,，]?\s*(?:\band then\b|\bafter that\b|\bthen\b|\bnext\b|然后|接着|再)\s*[,，]?`)
)

// actions is the ordered action table. Order matters: the first action with
// any matching pattern wins.
var actions = []actionSpec{
	{
		name: "forward",
		patterns: compile(
			`^(?:go |move |walk )?forwards?\b`+distanceSuffix,
			`(?:向前|前进|往前走|朝前走)(\d+(?:\.\d+)?)?米?`,
		),
		extract: distanceParam,
	},
	{
		name: "backward",
		patterns: compile(
			`^(?:go |move |walk )?back(?:wards?)?\b`+distanceSuffix,
			`(?:向后|后退|往后走)(\d+(?:\.\d+)?)?米?`,
		),
		extract: distanceParam,
	},
	{
		name: "turn_left",
		patterns: compile(
			`^(?:turn|rotate) left\b`+angleSuffix,
			`^rotate counter-?clockwise\b`+angleSuffix,
			`左转(\d+(?:\.\d+)?)?度?`,
			`逆时针转(\d+(?:\.\d+)?)?度?`,
		),
		extract: angleParam,
	},
	{
		name: "turn_right",
		patterns: compile(
			`^(?:turn|rotate) right\b`+angleSuffix,
			`^rotate clockwise\b`+angleSuffix,
			`右转(\d+(?:\.\d+)?)?度?`,
			`顺时针转(\d+(?:\.\d+)?)?度?`,
		),
		extract: angleParam,
	},
	{
		name: "move_left",
		patterns: compile(
			`^(?:move|step|strafe|slide) left\b`+distanceSuffix,
			`(?:向左|往左)(?:移动?|走)?(\d+(?:\.\d+)?)?米?`,
		),
		extract: distanceParam,
	},
	{
		name: "move_right",
		patterns: compile(
			`^(?:move|step|strafe|slide) right\b`+distanceSuffix,
			`(?:向右|往右)(?:移动?|走)?(\d+(?:\.\d+)?)?米?`,
		),
		extract: distanceParam,
	},
	{
		name: "stand",
		patterns: compile(
			`^(?:stand(?: up)?|get up|rise)\b`,
			`(?:站起?|起来|站立|站起来)`,
			`起立`,
		),
	},
	{
		name: "sit",
		patterns: compile(
			`^(?:sit(?: down)?|crouch)\b`,
			`坐下`,
			`蹲下`,
		),
	},
	{
		name: "lie_down",
		patterns: compile(
			`^(?:lie|lay) down\b`,
			`躺下`,
			`卧倒`,
		),
	},
	{
		name: "wave",
		patterns: compile(
			`\bwave\b`,
			`挥手`,
			`招手`,
		),
	},
	{
		name: "handshake",
		patterns: compile(
			`\b(?:handshake|shake hands?)\b`,
			`握手`,
		),
	},
	{
		name: "grasp",
		patterns: compile(
			`\b(?:grasp|grab|grip|pick up)\b`,
			`(?:抓|握|拿起)`,
		),
		extract: limbParam,
	},
	{
		name: "release",
		patterns: compile(
			`\b(?:release|let go|drop|put down)\b`,
			`(?:放下|松开|释放)`,
		),
		extract: limbParam,
	},
	{
		name: "go_to",
		patterns: compile(
			`^(?:go to|goto|navigate to) `+number+`\s*[, ]\s*`+number+`(?:\s*[, ]\s*`+number+`)?`,
			`去`+number+`[,，]`+number+`.*位置`,
			`导航到`+number+`[,，]`+number,
		),
		extract: positionParam,
	},
	{
		name: "get_battery",
		patterns: compile(
			`\bbattery\b`,
			`(?:查看|获取)电量`,
		),
	},
	{
		name: "get_pose",
		patterns: compile(
			`^where are you\b`,
			`^(?:get |show |what is |what's )?(?:the |your )?(?:current )?(?:pose|position|location)$`,
			`(?:获取|查看)位置`,
		),
	},
	{
		name: "set_speed",
		patterns: compile(
			`^(?:set )?speed(?: to)? `+number,
			`速度(?:设为|设置为|调到|调为)?`+number,
		),
		extract: speedParam,
	},
	{
		name: "play",
		patterns: compile(
			`^(?:play|perform|do)(?: action)? ([a-z][a-z_]*)`,
			`(?:执行|表演)(?:动作)?\s*([a-z_]+)`,
		),
		extract: nameParam,
	},
	{
		name: "stop",
		patterns: compile(
			`^(?:stop|halt|freeze|pause)\b`,
			`(?:停止|停下|暂停)`,
		),
	},
}

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// Actions returns the recognized action tags in declaration order.
func Actions() []string {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = a.name
	}
	return names
}

// Parser converts text into ParsedCommands. The zero value is ready to use.
type Parser struct{}

// NewParser creates a parser.
func NewParser() *Parser {
	return &Parser{}
}

// Parse interprets text for a robot of the given category. Unrecognized
// text yields ActionUnknown with zero confidence.
func (p *Parser) Parse(text string, category robot.Category) ParsedCommand {
	normalized := normalize(text)

	if connective.MatchString(normalized) {
		return p.parseSequence(text, normalized, category)
	}

	if action, params, ok := matchSingle(normalized); ok {
		return ParsedCommand{
			Raw:        text,
			Action:     action,
			Params:     params,
			Category:   category,
			Confidence: ConfidenceSingle,
		}
	}
	return unknown(text, category)
}

// parseSequence splits on connectives and keeps the recognized segments in
// order. Segments that fail to parse are dropped.
func (p *Parser) parseSequence(raw, normalized string, category robot.Category) ParsedCommand {
	var tasks []Task
	for _, segment := range connective.Split(normalized, -1) {
		segment = normalize(strings.Trim(segment, " ,，、。"))
		if segment == "" {
			continue
		}
		if action, params, ok := matchSingle(segment); ok {
			tasks = append(tasks, Task{Action: action, Params: params})
		}
	}

	if len(tasks) == 0 {
		return unknown(raw, category)
	}
	return ParsedCommand{
		Raw:        raw,
		Action:     ActionSequence,
		Params:     Params{ParamTasks: tasks},
		Category:   category,
		Confidence: ConfidenceSequence,
	}
}

func matchSingle(text string) (string, Params, bool) {
	for _, a := range actions {
		for _, re := range a.patterns {
			groups := re.FindStringSubmatch(text)
			if groups == nil {
				continue
			}
			params := Params{}
			if a.extract != nil {
				params = a.extract(groups, text)
			}
			return a.name, params, true
		}
	}
	return "", nil, false
}

func unknown(raw string, category robot.Category) ParsedCommand {
	return ParsedCommand{
		Raw:        raw,
		Action:     ActionUnknown,
		Params:     Params{},
		Category:   category,
		Confidence: ConfidenceUnknown,
	}
}

// politePrefixes are stripped before matching so anchored patterns still fire.
var politePrefixes = []string{"please ", "robot, ", "robot ", "请"}

func normalize(text string) string {
	s := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	for _, prefix := range politePrefixes {
		s = strings.TrimPrefix(s, prefix)
	}
	return s
}

func group(groups []string, i int) string {
	if i < len(groups) {
		return groups[i]
	}
	return ""
}

func floatOr(s string, def float64) float64 {
	if s == "" {
		return def
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return def
	}
	return v
}

func distanceParam(groups []string, _ string) Params {
	return Params{ParamDistance: floatOr(group(groups, 1), DefaultDistance)}
}

// angleParam stores the magnitude; direction is carried by the action tag.
func angleParam(groups []string, _ string) Params {
	angle := floatOr(group(groups, 1), DefaultAngle)
	if angle < 0 {
		angle = -angle
	}
	return Params{ParamAngle: angle}
}

func speedParam(groups []string, _ string) Params {
	return Params{ParamSpeed: floatOr(group(groups, 1), DefaultSpeed)}
}

func nameParam(groups []string, _ string) Params {
	return Params{ParamName: group(groups, 1)}
}

func positionParam(groups []string, _ string) Params {
	pos := []float64{
		floatOr(group(groups, 1), 0),
		floatOr(group(groups, 2), 0),
		floatOr(group(groups, 3), 0),
	}
	return Params{ParamPosition: pos}
}

var (
	leftIndicators  = []string{"left", "左手", "左"}
	rightIndicators = []string{"right", "右手", "右"}
)

// limbParam scans the text for a side indicator, defaulting to the right arm.
func limbParam(_ []string, text string) Params {
	for _, s := range leftIndicators {
		if strings.Contains(text, s) {
			return Params{ParamArm: robot.LimbLeft}
		}
	}
	for _, s := range rightIndicators {
		if strings.Contains(text, s) {
			return Params{ParamArm: robot.LimbRight}
		}
	}
	return Params{ParamArm: DefaultLimb}
}
