package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"robotcontrol/internal/dispatch"
)

// DefaultPath is read when ROBOTCONTROL_CONFIG is not set.
const DefaultPath = "robotcontrol.yaml"

// RobotConfig selects the robot initialized at startup. An empty Code means
// the process starts without a robot.
type RobotConfig struct {
	Code    string         `yaml:"code"`
	IP      string         `yaml:"ip"`
	Options map[string]any `yaml:"options"`
}

// TurnConfig holds the turn-by-sleep constants.
type TurnConfig struct {
	Rate             float64 `yaml:"rate"`
	DegreesPerSecond float64 `yaml:"degrees_per_second"`
}

type APIConfig struct {
	Port int `yaml:"port"`
}

// PluginsConfig controls manifest discovery and the plugin config store.
type PluginsConfig struct {
	SearchPaths []string `yaml:"search_paths"`
	ConfigDir   string   `yaml:"config_dir"`
}

type JournalConfig struct {
	Path       string `yaml:"path"`
	MaxEntries int    `yaml:"max_entries"`
}

// MQTTConfig is handed to telemetry plugins that do not set their own broker.
type MQTTConfig struct {
	Broker      string  `yaml:"broker"`
	ClientID    string  `yaml:"client_id"`
	TopicPrefix string  `yaml:"topic_prefix"`
	Interval    float64 `yaml:"interval"`
}

// RedisConfig enables the Redis plugin config store when Address is set.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config represents the robotcontrol.yaml structure
type Config struct {
	Robot   RobotConfig   `yaml:"robot"`
	Speed   float64       `yaml:"speed"`
	Turn    TurnConfig    `yaml:"turn"`
	API     APIConfig     `yaml:"api"`
	Plugins PluginsConfig `yaml:"plugins"`
	Journal JournalConfig `yaml:"journal"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Redis   RedisConfig   `yaml:"redis"`
}

// Defaults returns a complete configuration; an empty file yields exactly this.
func Defaults() Config {
	d := dispatch.DefaultConfig()
	return Config{
		Speed: d.Speed,
		Turn: TurnConfig{
			Rate:             d.TurnRate,
			DegreesPerSecond: d.DegreesPerSecond,
		},
		API: APIConfig{Port: 8080},
		Plugins: PluginsConfig{
			ConfigDir: "plugin-config",
		},
		Journal: JournalConfig{
			Path:       "robotcontrol.db",
			MaxEntries: 10000,
		},
		MQTT: MQTTConfig{
			ClientID:    "robotcontrol",
			TopicPrefix: "robotcontrol",
			Interval:    5,
		},
	}
}

// Dispatch returns the dispatcher constants.
func (c Config) Dispatch() dispatch.Config {
	return dispatch.Config{
		Speed:            c.Speed,
		TurnRate:         c.Turn.Rate,
		DegreesPerSecond: c.Turn.DegreesPerSecond,
	}
}

// Validate rejects values the rest of the process cannot work with.
func (c Config) Validate() error {
	if c.Speed < 0 || c.Speed > 1 {
		return fmt.Errorf("speed must be within [0, 1], got %v", c.Speed)
	}
	if c.Turn.Rate <= 0 {
		return fmt.Errorf("turn.rate must be positive, got %v", c.Turn.Rate)
	}
	if c.Turn.DegreesPerSecond <= 0 {
		return fmt.Errorf("turn.degrees_per_second must be positive, got %v", c.Turn.DegreesPerSecond)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port out of range: %d", c.API.Port)
	}
	if c.Journal.MaxEntries < 0 {
		return fmt.Errorf("journal.max_entries must not be negative")
	}
	return nil
}

// LoadDotEnv loads .env files into the process environment. Variables that
// are already set are not overwritten. Missing files are not an error.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var present []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			present = append(present, f)
		}
	}
	if len(present) == 0 {
		return nil
	}
	if err := godotenv.Load(present...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Loader manages configuration file loading and reloading
type Loader struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	config Config
}

// NewLoader creates a loader for path. An empty path means ROBOTCONTROL_CONFIG
// or DefaultPath.
func NewLoader(path string, logger *zap.Logger) *Loader {
	if path == "" {
		path = os.Getenv("ROBOTCONTROL_CONFIG")
	}
	if path == "" {
		path = DefaultPath
	}
	return &Loader{
		path:   path,
		logger: logger,
		config: Defaults(),
	}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string {
	return l.path
}

// Load reads the file over Defaults and applies environment overrides. A
// missing file is not an error.
func (l *Loader) Load() (Config, error) {
	cfg := Defaults()
	l.logger.Debug("Loading config", zap.String("path", l.path))

	data, err := os.ReadFile(l.path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		l.logger.Info("No config file found, using defaults", zap.String("path", l.path))
	case err != nil:
		return cfg, fmt.Errorf("failed to read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := ApplyEnv(&cfg, os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", l.path, err)
	}

	l.mu.Lock()
	l.config = cfg
	l.mu.Unlock()

	l.logger.Info("Config loaded successfully",
		zap.String("path", l.path),
		zap.String("robot", cfg.Robot.Code),
		zap.Int("api_port", cfg.API.Port))
	return cfg, nil
}

// Get returns the last successfully loaded configuration.
func (l *Loader) Get() Config {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config
}

// ApplyEnv overrides cfg from ROBOT_CODE, ROBOT_IP, API_PORT, REDIS_ADDR and
// MQTT_BROKER.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	if v, ok := lookup("ROBOT_CODE"); ok && v != "" {
		cfg.Robot.Code = v
	}
	if v, ok := lookup("ROBOT_IP"); ok && v != "" {
		cfg.Robot.IP = v
	}
	if v, ok := lookup("API_PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid API_PORT %q: %w", v, err)
		}
		cfg.API.Port = port
	}
	if v, ok := lookup("REDIS_ADDR"); ok && v != "" {
		cfg.Redis.Address = v
	}
	if v, ok := lookup("MQTT_BROKER"); ok && v != "" {
		cfg.MQTT.Broker = v
	}
	return nil
}
