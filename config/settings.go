package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/geekxflood/snmpbulk/logging"
	"github.com/geekxflood/snmpbulk/snmp"
	"github.com/geekxflood/snmpbulk/walk"
)

// Settings is the typed view of a resolved configuration.
type Settings struct {
	Logging   LoggingConfig   `json:"logging"`
	Retrieval RetrievalConfig `json:"retrieval"`
	Target    TargetConfig    `json:"target"`
	Targets   []string        `json:"targets"`
	Transport TransportConfig `json:"transport"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// LoggingConfig mirrors logging.Config.
type LoggingConfig struct {
	Level     string `json:"level"`
	Format    string `json:"format"`
	Output    string `json:"output"`
	AddSource bool   `json:"add_source"`
}

// Config converts the section to a logging configuration.
func (c LoggingConfig) Config() logging.Config {
	return logging.Config{
		Level:     c.Level,
		Format:    c.Format,
		Output:    c.Output,
		AddSource: c.AddSource,
	}
}

// RetrievalConfig holds the request shaping parameters of the walkers.
type RetrievalConfig struct {
	MaxColumnsPerPDU         int  `json:"max_columns_per_pdu"`
	MaxRowsPerPDU            int  `json:"max_rows_per_pdu"`
	MaxRepetitions           int  `json:"max_repetitions"`
	IgnoreLexicographicOrder bool `json:"ignore_lex_order"`
	Dense                    bool `json:"dense"`
}

// Options returns the walk options the section describes.
func (c RetrievalConfig) Options() []walk.Option {
	return []walk.Option{
		walk.WithMaxColumnsPerPDU(c.MaxColumnsPerPDU),
		walk.WithMaxRowsPerPDU(c.MaxRowsPerPDU),
		walk.WithMaxRepetitions(c.MaxRepetitions),
		walk.WithIgnoreLexicographicOrder(c.IgnoreLexicographicOrder),
	}
}

// TargetConfig holds the agent settings shared by every target.
type TargetConfig struct {
	Address    string `json:"address"`
	Community  string `json:"community"`
	Version    string `json:"version"`
	Timeout    string `json:"timeout"`
	Retries    int    `json:"retries"`
	MaxPDUSize int    `json:"max_pdu_size"`
}

// Build returns a validated target for address, or for the configured address
// when address is empty.
func (c TargetConfig) Build(address string) (*snmp.Target, error) {
	if address == "" {
		address = c.Address
	}
	if address == "" {
		return nil, errors.New("no target address configured")
	}

	version, err := snmp.ParseVersion(c.Version)
	if err != nil {
		return nil, err
	}
	timeout, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return nil, fmt.Errorf("invalid target timeout %q: %w", c.Timeout, err)
	}

	target := &snmp.Target{
		Address:    address,
		Community:  c.Community,
		Version:    version,
		Timeout:    timeout,
		Retries:    c.Retries,
		MaxPDUSize: c.MaxPDUSize,
	}
	if err := target.Validate(); err != nil {
		return nil, err
	}
	return target, nil
}

// TransportConfig configures the session. It implements transport.Config.
type TransportConfig struct {
	Kind        string           `json:"kind"`
	BindAddress string           `json:"bind_address"`
	BufferSize  int              `json:"buffer_size"`
	ReadTimeout string           `json:"read_timeout"`
	WorkerPool  WorkerPoolConfig `json:"worker_pool"`
}

// WorkerPoolConfig sizes the response processing pool of the UDP session.
type WorkerPoolConfig struct {
	Enabled bool `json:"enabled"`
	Size    int  `json:"size"`
}

func (c TransportConfig) GetKind() string        { return c.Kind }
func (c TransportConfig) GetBindAddress() string { return c.BindAddress }
func (c TransportConfig) GetBufferSize() int     { return c.BufferSize }
func (c TransportConfig) GetReadTimeout() time.Duration {
	d, _ := time.ParseDuration(c.ReadTimeout)
	return d
}
func (c TransportConfig) GetWorkerPoolEnabled() bool { return c.WorkerPool.Enabled }
func (c TransportConfig) GetWorkerPoolSize() int     { return c.WorkerPool.Size }

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled"`
	ListenAddress string `json:"listen_address"`
	Namespace     string `json:"namespace"`
}
