package walk

import (
	"time"

	"github.com/geekxflood/snmpbulk/logging"
	"github.com/geekxflood/snmpbulk/snmp"
)

// Retrieval defaults.
const (
	DefaultMaxColumnsPerPDU = 10
	DefaultMaxRowsPerPDU    = 10
	DefaultMaxRepetitions   = 10
)

// Walk kinds reported to observers and logs.
const (
	KindTable      = "table"
	KindDenseTable = "dense_table"
	KindTree       = "tree"
)

// Observer receives walk lifecycle notifications, typically to export metrics.
// Implementations must be safe for concurrent use.
type Observer interface {
	RequestSent(kind string, pduType snmp.PDUType, bindings int)
	ItemsEmitted(kind string, n int)
	WalkFinished(kind string, status Status, requests int, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) RequestSent(string, snmp.PDUType, int)           {}
func (nopObserver) ItemsEmitted(string, int)                        {}
func (nopObserver) WalkFinished(string, Status, int, time.Duration) {}

// Options holds the request shaping parameters of TableUtils and TreeUtils.
type Options struct {
	// MaxColumnsPerPDU caps the columns queried by one table request.
	MaxColumnsPerPDU int

	// MaxRowsPerPDU is the GETBULK max-repetitions of table requests.
	MaxRowsPerPDU int

	// MaxRepetitions is the GETBULK max-repetitions of tree requests.
	MaxRepetitions int

	// IgnoreLexicographicOrder accepts non increasing OIDs during tree walks.
	IgnoreLexicographicOrder bool

	Logger   logging.Logger
	Observer Observer
}

// DefaultOptions returns the default request shaping parameters.
func DefaultOptions() Options {
	return Options{
		MaxColumnsPerPDU: DefaultMaxColumnsPerPDU,
		MaxRowsPerPDU:    DefaultMaxRowsPerPDU,
		MaxRepetitions:   DefaultMaxRepetitions,
	}
}

// Option configures TableUtils and TreeUtils.
type Option func(*Options)

// WithMaxColumnsPerPDU sets the number of columns per table request. Values below 1 are ignored.
func WithMaxColumnsPerPDU(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxColumnsPerPDU = n
		}
	}
}

// WithMaxRowsPerPDU sets the max-repetitions of table requests. Values below 1 are ignored.
func WithMaxRowsPerPDU(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxRowsPerPDU = n
		}
	}
}

// WithMaxRepetitions sets the max-repetitions of tree requests. Values below 1 are ignored.
func WithMaxRepetitions(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.MaxRepetitions = n
		}
	}
}

// WithIgnoreLexicographicOrder disables the strictly increasing OID check of tree walks.
func WithIgnoreLexicographicOrder(ignore bool) Option {
	return func(o *Options) {
		o.IgnoreLexicographicOrder = ignore
	}
}

// WithLogger sets the logger walkers write to.
func WithLogger(logger logging.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithObserver registers an observer for walk lifecycle events.
func WithObserver(observer Observer) Option {
	return func(o *Options) {
		o.Observer = observer
	}
}

func buildOptions(component string, opts []Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.Logger == nil {
		o.Logger = logging.NewComponentLogger(component, "walker")
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	return o
}
