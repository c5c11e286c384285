package snmp

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// Version is the SNMP message version as carried on the wire.
type Version int32

// Supported SNMP versions.
const (
	Version1  Version = 0
	Version2c Version = 1
	Version3  Version = 3
)

// ParseVersion converts "1", "2c" or "3" to a Version.
func ParseVersion(s string) (Version, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "v1":
		return Version1, nil
	case "2c", "v2c", "2":
		return Version2c, nil
	case "3", "v3":
		return Version3, nil
	default:
		return 0, fmt.Errorf("invalid SNMP version: %q, must be one of: 1, 2c, 3", s)
	}
}

func (v Version) String() string {
	switch v {
	case Version1:
		return "1"
	case Version2c:
		return "2c"
	case Version3:
		return "3"
	default:
		return fmt.Sprintf("unknown(%d)", int32(v))
	}
}

// SupportsBulk reports whether GETBULK may be used with this version.
func (v Version) SupportsBulk() bool {
	return v >= Version2c
}

// Target defaults.
const (
	DefaultPort       = 161
	DefaultCommunity  = "public"
	DefaultTimeout    = 5 * time.Second
	DefaultRetries    = 1
	DefaultMaxPDUSize = 65535
)

// Target describes an SNMP agent and how requests to it are shaped.
type Target struct {
	// Address is the agent address in host:port form. A missing port defaults to 161.
	Address string `json:"address" yaml:"address"`

	// Community is the SNMPv1/v2c community string.
	Community string `json:"community" yaml:"community"`

	// Version selects the message version and therefore GETNEXT or GETBULK retrieval.
	Version Version `json:"version" yaml:"version"`

	// Timeout bounds a single request attempt.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`

	// Retries is the number of resends after the first attempt times out.
	Retries int `json:"retries" yaml:"retries"`

	// MaxPDUSize is the largest request PDU, in encoded bytes, the agent accepts.
	MaxPDUSize int `json:"max_pdu_size" yaml:"max_pdu_size"`
}

// NewTarget returns a v2c target for address with default settings.
func NewTarget(address string) *Target {
	return &Target{
		Address:    address,
		Community:  DefaultCommunity,
		Version:    Version2c,
		Timeout:    DefaultTimeout,
		Retries:    DefaultRetries,
		MaxPDUSize: DefaultMaxPDUSize,
	}
}

// Validate checks the target settings.
func (t *Target) Validate() error {
	if t == nil {
		return errors.New("target cannot be nil")
	}
	if t.Address == "" {
		return errors.New("target address cannot be empty")
	}
	if _, err := t.UDPAddress(); err != nil {
		return err
	}
	switch t.Version {
	case Version1, Version2c, Version3:
	default:
		return fmt.Errorf("invalid SNMP version: %s", t.Version)
	}
	if t.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %s", t.Timeout)
	}
	if t.Retries < 0 {
		return fmt.Errorf("retries cannot be negative, got %d", t.Retries)
	}
	if t.MaxPDUSize < 484 {
		// RFC 3417 minimum message size every agent must accept
		return fmt.Errorf("max PDU size must be at least 484, got %d", t.MaxPDUSize)
	}
	return nil
}

// UDPAddress returns Address with the default SNMP port applied when it carries none.
func (t *Target) UDPAddress() (string, error) {
	host, port, err := net.SplitHostPort(t.Address)
	if err != nil {
		var addrErr *net.AddrError
		if errors.As(err, &addrErr) && strings.Contains(addrErr.Err, "missing port") {
			return net.JoinHostPort(strings.Trim(t.Address, "[]"), fmt.Sprint(DefaultPort)), nil
		}
		return "", fmt.Errorf("invalid target address %q: %w", t.Address, err)
	}
	return net.JoinHostPort(host, port), nil
}

func (t *Target) String() string {
	return fmt.Sprintf("%s/v%s", t.Address, t.Version)
}
