package plugin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// ConfigStore persists one flat configuration document per plugin name.
type ConfigStore interface {
	Load(ctx context.Context, name string) (map[string]any, error)
	Save(ctx context.Context, name string, config map[string]any) error
	// Merge overlays updates on the stored document, saves and returns it.
	Merge(ctx context.Context, name string, updates map[string]any) (map[string]any, error)
}

// FileConfigStore keeps <dir>/<name>.yaml files and caches what it read.
type FileConfigStore struct {
	dir string

	mu    sync.Mutex
	cache map[string]map[string]any
}

// NewFileConfigStore creates dir if needed.
func NewFileConfigStore(dir string) (*FileConfigStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create config dir %s: %w", dir, err)
	}
	return &FileConfigStore{dir: dir, cache: make(map[string]map[string]any)}, nil
}

func (s *FileConfigStore) path(name string) string {
	return filepath.Join(s.dir, name+".yaml")
}

// Load returns the stored document, or an empty one if none exists.
func (s *FileConfigStore) Load(_ context.Context, name string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(name)
}

func (s *FileConfigStore) loadLocked(name string) (map[string]any, error) {
	if cached, ok := s.cache[name]; ok {
		return copyConfig(cached), nil
	}

	config := map[string]any{}
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, os.ErrNotExist) {
		return config, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", name, err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", name, err)
	}
	if config == nil {
		config = map[string]any{}
	}
	s.cache[name] = config
	return copyConfig(config), nil
}

// Save replaces the stored document.
func (s *FileConfigStore) Save(_ context.Context, name string, config map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(name, config)
}

func (s *FileConfigStore) saveLocked(name string, config map[string]any) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("marshal config %s: %w", name, err)
	}
	if err := os.WriteFile(s.path(name), data, 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", name, err)
	}
	s.cache[name] = copyConfig(config)
	return nil
}

// Merge implements ConfigStore.
func (s *FileConfigStore) Merge(_ context.Context, name string, updates map[string]any) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	config, err := s.loadLocked(name)
	if err != nil {
		return nil, err
	}
	for k, v := range updates {
		config[k] = v
	}
	if err := s.saveLocked(name, config); err != nil {
		return nil, err
	}
	return config, nil
}

func copyConfig(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// RedisConfigStore keeps one hash per plugin; field values are JSON encoded.
type RedisConfigStore struct {
	client *redis.Client
}

// NewRedisConfigStore wraps a connected client.
func NewRedisConfigStore(client *redis.Client) *RedisConfigStore {
	return &RedisConfigStore{client: client}
}

func configKey(name string) string {
	return fmt.Sprintf("robotcontrol:plugin:%s", name)
}

// Load returns the stored config of a plugin. Fields that are not valid JSON
// are returned as plain strings; a missing hash yields an empty map.
func (s *RedisConfigStore) Load(ctx context.Context, name string) (map[string]any, error) {
	fields, err := s.client.HGetAll(ctx, configKey(name)).Result()
	if err != nil {
		return nil, err
	}
	config := make(map[string]any, len(fields))
	for field, raw := range fields {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		config[field] = v
	}
	return config, nil
}

// Save replaces the stored config of a plugin in one transaction.
func (s *RedisConfigStore) Save(ctx context.Context, name string, config map[string]any) error {
	values, err := encodeFields(config)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, configKey(name))
	if len(values) > 0 {
		pipe.HSet(ctx, configKey(name), values)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Merge writes updates over the stored config and returns the result.
func (s *RedisConfigStore) Merge(ctx context.Context, name string, updates map[string]any) (map[string]any, error) {
	values, err := encodeFields(updates)
	if err != nil {
		return nil, err
	}
	if len(values) > 0 {
		if err := s.client.HSet(ctx, configKey(name), values).Err(); err != nil {
			return nil, err
		}
	}
	return s.Load(ctx, name)
}

func encodeFields(config map[string]any) (map[string]any, error) {
	values := make(map[string]any, len(config))
	for k, v := range config {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		values[k] = string(data)
	}
	return values, nil
}
