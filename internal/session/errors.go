package session

import "fmt"

// ErrKind is one of the five error kinds spec.md §7 names. They are
// kinds, not distinct Go types, so callers branch on Kind rather than
// doing a type switch per failure mode.
type ErrKind int

const (
	// ProtocolViolation: source-port mismatch, disconnect signaled
	// from a seated port, unknown signal when not authority,
	// malformed RLE size, unexpected channel. Policy: log, forward a
	// fail signaling message to the offender, disconnect the peer;
	// session continues.
	ProtocolViolation ErrKind = iota

	// IntegrityFailure: save-state hash mismatch, FEC decode failure,
	// zstd/xxhash error, room mismatch on join. Policy: discard the
	// in-progress transfer, reset scratch, wait for retry.
	IntegrityFailure

	// TransportFailure: agent send failed, agent transitioned to
	// FAILED. Policy: disconnect peer; if authority fails, session
	// resets to uninitialized room.
	TransportFailure

	// LocalFault: save-state packet cannot fit in MTU, RLE buffer
	// overrun, arithmetic bounds violation. Policy: drop and log.
	LocalFault

	// Recoverable: out-of-order inputs, outdated state packet.
	// Policy: silently dropped.
	Recoverable
)

func (k ErrKind) String() string {
	switch k {
	case ProtocolViolation:
		return "protocol_violation"
	case IntegrityFailure:
		return "integrity_failure"
	case TransportFailure:
		return "transport_failure"
	case LocalFault:
		return "local_fault"
	case Recoverable:
		return "recoverable"
	default:
		return "unknown"
	}
}

// Error attaches an ErrKind to an underlying cause so callers can
// branch on Kind via errors.As while fmt.Errorf's %w chain keeps the
// original cause intact.
type Error struct {
	Kind ErrKind
	Port int // -1 if not port-specific
	Err  error
}

func (e *Error) Error() string {
	if e.Port >= 0 {
		return fmt.Sprintf("session: %s (port %d): %v", e.Kind, e.Port, e.Err)
	}
	return fmt.Sprintf("session: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// newErr builds a session.Error with no specific port.
func newErr(kind ErrKind, err error) *Error {
	return &Error{Kind: kind, Port: -1, Err: err}
}

// newPortErr builds a session.Error attributed to a port.
func newPortErr(kind ErrKind, port int, err error) *Error {
	return &Error{Kind: kind, Port: port, Err: err}
}
