// Package config loads snmpbulk configuration files, validates them against an
// embedded CUE schema, and exposes both typed sections and path based
// accessors.
//
// Configuration files are YAML or JSON. Values may reference environment
// variables as $VAR, ${VAR} or ${VAR:-default}. Every setting has a schema
// default, so an empty path yields a usable configuration.
//
// # Basic Usage
//
//	manager, err := config.NewManager(config.Options{
//		ConfigPath:      "snmpbulk.yaml",
//		EnableHotReload: true,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer manager.Close()
//
//	settings := manager.Settings()
//	tables := walk.NewTableUtils(session, nil, settings.Retrieval.Options()...)
//
//	manager.OnChange(func(err error) {
//		if err == nil {
//			tables.Apply(manager.Settings().Retrieval.Options()...)
//		}
//	})
//
// # Path Access
//
//	rows, _ := manager.GetInt("retrieval.max_rows_per_pdu")
//	timeout, _ := manager.GetDuration("target.timeout")
package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrInvalid wraps every schema validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Options configures a Manager.
type Options struct {
	// ConfigPath is the YAML or JSON file to load. When empty only schema
	// defaults are used.
	ConfigPath string

	// SchemaContent replaces the embedded schema. It must define #Config.
	SchemaContent string

	// EnableHotReload watches ConfigPath and reloads it on change.
	EnableHotReload bool

	// HotReloadContext bounds the watcher. Defaults to context.Background().
	HotReloadContext context.Context
}

// Manager holds the resolved configuration. It is safe for concurrent use.
type Manager struct {
	schema   *schema
	path     string
	notifier *changeNotifier

	// reloadMu serializes reloads, the CUE context is not safe for concurrent use
	reloadMu sync.Mutex

	mu       sync.RWMutex
	tree     map[string]any
	settings *Settings
	reloader *hotReloader
}

// NewManager loads and validates the configuration described by options.
func NewManager(options Options) (*Manager, error) {
	content := options.SchemaContent
	if content == "" {
		content = schemaSource
	}
	s, err := compileSchema(content)
	if err != nil {
		return nil, err
	}

	m := &Manager{schema: s, notifier: newChangeNotifier()}
	if options.ConfigPath != "" {
		path, err := filepath.Abs(options.ConfigPath)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config path %s: %w", options.ConfigPath, err)
		}
		m.path = path
	}

	if err := m.reload(); err != nil {
		return nil, err
	}

	if options.EnableHotReload && m.path != "" {
		ctx := options.HotReloadContext
		if ctx == nil {
			ctx = context.Background()
		}
		if err := m.StartHotReload(ctx); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Load is NewManager for a configuration file without hot reload.
func Load(path string) (*Manager, error) {
	return NewManager(Options{ConfigPath: path})
}

// ValidateFile checks a configuration file against the embedded schema.
func ValidateFile(path string) error {
	s, err := compileSchema(schemaSource)
	if err != nil {
		return err
	}
	data, err := readConfigFile(s.ctx, path)
	if err != nil {
		return err
	}
	_, err = s.resolve(data)
	return err
}

// Path returns the absolute path of the loaded file, or "" when running on defaults.
func (m *Manager) Path() string {
	return m.path
}

// Settings returns a copy of the typed configuration.
func (m *Manager) Settings() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := *m.settings
	out.Targets = append([]string(nil), m.settings.Targets...)
	return out
}

// Reload re-reads the configuration file. On failure the previous
// configuration stays in effect.
func (m *Manager) Reload() error {
	return m.reload()
}

func (m *Manager) reload() error {
	m.reloadMu.Lock()
	defer m.reloadMu.Unlock()

	var data map[string]any
	if m.path != "" {
		var err error
		if data, err = readConfigFile(m.schema.ctx, m.path); err != nil {
			return err
		}
	}

	tree, settings, err := m.schema.apply(data)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.tree = tree
	m.settings = settings
	m.mu.Unlock()
	return nil
}

// StartHotReload watches the configuration file until ctx is done or
// StopHotReload is called.
func (m *Manager) StartHotReload(ctx context.Context) error {
	if m.path == "" {
		return errors.New("hot reload requires a configuration file")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reloader != nil {
		return errors.New("hot reload already started")
	}

	reloader, err := newHotReloader(m.path, m.reload, m.notifier)
	if err != nil {
		return err
	}
	if err := reloader.Start(ctx); err != nil {
		reloader.Stop()
		return err
	}
	m.reloader = reloader
	return nil
}

// StopHotReload stops watching the configuration file.
func (m *Manager) StopHotReload() {
	m.mu.Lock()
	reloader := m.reloader
	m.reloader = nil
	m.mu.Unlock()

	if reloader != nil {
		reloader.Stop()
	}
}

// OnChange registers a callback run after every hot reload attempt with its
// error, nil on success.
func (m *Manager) OnChange(callback func(error)) {
	m.notifier.OnChange(callback)
}

// Close releases the file watcher.
func (m *Manager) Close() error {
	m.StopHotReload()
	return nil
}

// Exists reports whether a value is present at the dot separated path.
func (m *Manager) Exists(path string) bool {
	_, err := m.value(path)
	return err == nil
}

// GetString returns the string at path, or the default when the path is missing.
func (m *Manager) GetString(path string, defaultValue ...string) (string, error) {
	v, err := m.value(path)
	if err != nil {
		return fallback(err, defaultValue)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("value at %s is %T, not a string", path, v)
	}
	return s, nil
}

// GetInt returns the integer at path, or the default when the path is missing.
func (m *Manager) GetInt(path string, defaultValue ...int) (int, error) {
	v, err := m.value(path)
	if err != nil {
		return fallback(err, defaultValue)
	}
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n == float64(int(n)) {
			return int(n), nil
		}
	}
	return 0, fmt.Errorf("value at %s is %T, not an integer", path, v)
}

// GetBool returns the boolean at path, or the default when the path is missing.
func (m *Manager) GetBool(path string, defaultValue ...bool) (bool, error) {
	v, err := m.value(path)
	if err != nil {
		return fallback(err, defaultValue)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("value at %s is %T, not a boolean", path, v)
	}
	return b, nil
}

// GetDuration parses the duration string at path, or returns the default
// when the path is missing.
func (m *Manager) GetDuration(path string, defaultValue ...time.Duration) (time.Duration, error) {
	v, err := m.value(path)
	if err != nil {
		return fallback(err, defaultValue)
	}
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("value at %s is %T, not a duration", path, v)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration at %s: %w", path, err)
	}
	return d, nil
}

// GetMap returns a copy of the section at path.
func (m *Manager) GetMap(path string) (map[string]any, error) {
	v, err := m.value(path)
	if err != nil {
		return nil, err
	}
	section, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("value at %s is %T, not a map", path, v)
	}
	return copyMap(section), nil
}

var errNotFound = errors.New("path not found")

func (m *Manager) value(path string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var current any = m.tree
	for _, part := range strings.Split(path, ".") {
		section, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %s", errNotFound, path)
		}
		if current, ok = section[part]; !ok {
			return nil, fmt.Errorf("%w: %s", errNotFound, path)
		}
	}
	return current, nil
}

func fallback[T any](err error, defaults []T) (T, error) {
	var zero T
	if errors.Is(err, errNotFound) && len(defaults) > 0 {
		return defaults[0], nil
	}
	return zero, err
}

func copyMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if nested, ok := v.(map[string]any); ok {
			v = copyMap(nested)
		}
		out[k] = v
	}
	return out
}
