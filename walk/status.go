package walk

import (
	"errors"
	"fmt"

	"github.com/geekxflood/snmpbulk/snmp"
)

// Status classifies how a walk ended.
type Status int

// Terminal walk statuses.
const (
	// StatusOK means every column or root was exhausted.
	StatusOK Status = iota

	// StatusTimeout means the session reported no response for a request.
	StatusTimeout

	// StatusAgentError means a response carried a non-zero error-status.
	StatusAgentError

	// StatusReport means the agent answered with a REPORT PDU.
	StatusReport

	// StatusWrongOrder means the agent returned instances out of lexicographic order.
	StatusWrongOrder

	// StatusStopped means the listener or the caller's context ended the walk.
	StatusStopped

	// StatusException means the session failed to send or receive.
	StatusException
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusTimeout:
		return "timeout"
	case StatusAgentError:
		return "agent_error"
	case StatusReport:
		return "report"
	case StatusWrongOrder:
		return "wrong_order"
	case StatusStopped:
		return "stopped"
	case StatusException:
		return "exception"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Sentinel errors matching each non-OK status with errors.Is.
var (
	ErrTimeout    = errors.New("request timed out")
	ErrAgent      = errors.New("agent returned an error status")
	ErrReport     = errors.New("agent returned a report")
	ErrWrongOrder = errors.New("agent returned OIDs out of lexicographic order")
	ErrStopped    = errors.New("walk stopped")
	ErrException  = errors.New("transport failure")
)

// Error describes a walk that ended with a status other than StatusOK.
type Error struct {
	Status      Status
	ErrorStatus snmp.ErrorStatus // set for StatusAgentError
	ErrorIndex  int32            // set for StatusAgentError
	Report      *snmp.PDU        // set for StatusReport
	OID         snmp.OID         // offending OID for StatusWrongOrder
	Err         error            // underlying cause, if any
}

func (e *Error) Error() string {
	switch e.Status {
	case StatusAgentError:
		return fmt.Sprintf("walk failed: %v: %s (index %d)", ErrAgent, e.ErrorStatus, e.ErrorIndex)
	case StatusWrongOrder:
		return fmt.Sprintf("walk failed: %v at %s", ErrWrongOrder, e.OID)
	}
	if e.Err != nil {
		return fmt.Sprintf("walk failed: %s: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("walk failed: %s", e.Status)
}

// Unwrap returns the status sentinel and the underlying cause.
func (e *Error) Unwrap() []error {
	errs := []error{statusSentinel(e.Status)}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

func statusSentinel(s Status) error {
	switch s {
	case StatusTimeout:
		return ErrTimeout
	case StatusAgentError:
		return ErrAgent
	case StatusReport:
		return ErrReport
	case StatusWrongOrder:
		return ErrWrongOrder
	case StatusStopped:
		return ErrStopped
	default:
		return ErrException
	}
}

// Result is the terminal notification of a walk.
type Result struct {
	Status Status

	// Err is a *Error when Status is not StatusOK.
	Err error

	// Requests is the number of request PDUs sent.
	Requests int

	// Emitted is the number of rows or values delivered to the listener.
	Emitted int
}
