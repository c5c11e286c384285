// Package transport provides the sessions the walk package drives: a native
// UDP session built on the snmp message codec, and a session adapting the
// synchronous gosnmp client.
//
// Basic Usage:
//
//	cfg := map[string]any{
//		"kind":         "udp",
//		"bind_address": "0.0.0.0:0",
//		"buffer_size":  65535,
//		"worker_pool": map[string]any{
//			"enabled": true,
//			"size":    4,
//		},
//	}
//
//	session, err := transport.Open(ctx, cfg)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer session.Close(ctx)
//
//	tables := walk.NewTableUtils(session, nil)
package transport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/geekxflood/snmpbulk/logging"
	"github.com/geekxflood/snmpbulk/walk"
)

// Session kinds.
const (
	KindUDP    = "udp"
	KindGoSNMP = "gosnmp"
)

// Defaults applied to missing configuration values.
const (
	DefaultBindAddress    = "0.0.0.0:0"
	DefaultBufferSize     = 65535
	DefaultReadTimeout    = 500 * time.Millisecond
	DefaultWorkerPoolSize = 4
)

// ErrSessionClosed is returned by Send once the session has been closed.
var ErrSessionClosed = errors.New("session closed")

// Config is the configuration contract of the transport sessions.
type Config interface {
	GetKind() string
	GetBindAddress() string
	GetBufferSize() int
	GetReadTimeout() time.Duration
	GetWorkerPoolEnabled() bool
	GetWorkerPoolSize() int
}

// Session is a walk.Session owning network resources.
type Session interface {
	walk.Session
	Close(ctx context.Context) error
}

type configImpl struct {
	kind              string
	bindAddress       string
	bufferSize        int
	readTimeout       time.Duration
	workerPoolEnabled bool
	workerPoolSize    int
}

func (c *configImpl) GetKind() string               { return c.kind }
func (c *configImpl) GetBindAddress() string        { return c.bindAddress }
func (c *configImpl) GetBufferSize() int            { return c.bufferSize }
func (c *configImpl) GetReadTimeout() time.Duration { return c.readTimeout }
func (c *configImpl) GetWorkerPoolEnabled() bool    { return c.workerPoolEnabled }
func (c *configImpl) GetWorkerPoolSize() int        { return c.workerPoolSize }

// Open builds and starts the session selected by the configuration.
// The configuration can be a map[string]any, optionally nested under a
// "transport" key, or a value implementing Config. A nil configuration
// opens a UDP session with defaults.
func Open(ctx context.Context, configObj any) (Session, error) {
	config, err := parseConfig(configObj)
	if err != nil {
		return nil, fmt.Errorf("failed to parse transport configuration: %w", err)
	}

	switch config.kind {
	case KindGoSNMP:
		return NewGoSNMPSession(nil), nil
	default:
		session, err := NewUDPSession(config)
		if err != nil {
			return nil, err
		}
		if err := session.Start(ctx); err != nil {
			return nil, err
		}
		return session, nil
	}
}

func defaultConfig() *configImpl {
	return &configImpl{
		kind:              KindUDP,
		bindAddress:       DefaultBindAddress,
		bufferSize:        DefaultBufferSize,
		readTimeout:       DefaultReadTimeout,
		workerPoolEnabled: true,
		workerPoolSize:    DefaultWorkerPoolSize,
	}
}

// parseConfig parses configuration from the supported input types.
func parseConfig(configObj any) (*configImpl, error) {
	config := defaultConfig()

	switch cfg := configObj.(type) {
	case nil:
		return config, nil
	case map[string]any:
		return parseMapConfig(config, cfg)
	case Config:
		return parseConfigInterface(config, cfg)
	default:
		return nil, fmt.Errorf("unsupported configuration type: %T", configObj)
	}
}

func parseMapConfig(config *configImpl, cfg map[string]any) (*configImpl, error) {
	if nested, ok := cfg["transport"].(map[string]any); ok {
		cfg = nested
	}

	if kind := getStringValue(cfg, "kind"); kind != "" {
		config.kind = strings.ToLower(kind)
	}
	if addr := getStringValue(cfg, "bind_address"); addr != "" {
		config.bindAddress = addr
	}
	if size := getIntValue(cfg, "buffer_size"); size != 0 {
		config.bufferSize = size
	}
	timeout, err := getDurationValue(cfg, "read_timeout")
	if err != nil {
		return nil, err
	}
	if timeout != 0 {
		config.readTimeout = timeout
	}

	if poolCfg, ok := cfg["worker_pool"].(map[string]any); ok {
		if enabled := getBoolValue(poolCfg, "enabled"); enabled != nil {
			config.workerPoolEnabled = *enabled
		}
		if size := getIntValue(poolCfg, "size"); size != 0 {
			config.workerPoolSize = size
		}
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

func parseConfigInterface(config *configImpl, cfg Config) (*configImpl, error) {
	if kind := cfg.GetKind(); kind != "" {
		config.kind = strings.ToLower(kind)
	}
	if addr := cfg.GetBindAddress(); addr != "" {
		config.bindAddress = addr
	}
	if size := cfg.GetBufferSize(); size != 0 {
		config.bufferSize = size
	}
	if timeout := cfg.GetReadTimeout(); timeout != 0 {
		config.readTimeout = timeout
	}
	config.workerPoolEnabled = cfg.GetWorkerPoolEnabled()
	if size := cfg.GetWorkerPoolSize(); size != 0 {
		config.workerPoolSize = size
	}

	if err := validateConfig(config); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return config, nil
}

func getStringValue(m map[string]any, key string) string {
	if val, ok := m[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

func getIntValue(m map[string]any, key string) int {
	if val, ok := m[key]; ok {
		switch v := val.(type) {
		case int:
			return v
		case int64:
			return int(v)
		case float64:
			return int(v)
		}
	}
	return 0
}

func getBoolValue(m map[string]any, key string) *bool {
	if val, ok := m[key]; ok {
		if b, ok := val.(bool); ok {
			return &b
		}
	}
	return nil
}

// getDurationValue accepts a duration string or a number of seconds.
func getDurationValue(m map[string]any, key string) (time.Duration, error) {
	val, ok := m[key]
	if !ok {
		return 0, nil
	}
	switch v := val.(type) {
	case time.Duration:
		return v, nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s %q: %w", key, v, err)
		}
		return d, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	default:
		return 0, fmt.Errorf("invalid %s type %T", key, val)
	}
}

func validateConfig(config *configImpl) error {
	switch config.kind {
	case KindUDP, KindGoSNMP:
	default:
		return fmt.Errorf("invalid transport kind: %s (must be udp or gosnmp)", config.kind)
	}
	if config.bindAddress == "" {
		return errors.New("bind address cannot be empty")
	}
	// an SNMP message must fit the minimum 484 byte message every agent accepts
	if config.bufferSize < 484 || config.bufferSize > 65535 {
		return fmt.Errorf("buffer size must be between 484 and 65535, got %d", config.bufferSize)
	}
	if config.readTimeout <= 0 {
		return fmt.Errorf("read timeout must be positive, got %s", config.readTimeout)
	}
	if config.workerPoolSize < 1 || config.workerPoolSize > 1000 {
		return fmt.Errorf("worker pool size must be between 1 and 1000, got %d", config.workerPoolSize)
	}
	return nil
}

func sessionLogger(kind string) logging.Logger {
	return logging.NewComponentLogger("transport", kind)
}
