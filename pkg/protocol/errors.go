package protocol

// Error is a simple error type for protocol errors.
// It allows defining sentinel errors as constants.
type Error string

// Error implements the error interface.
func (e Error) Error() string { return string(e) }

// Sentinel errors for common harness operations.
var (
	// ErrNilImplementation is returned when registering a nil implementation.
	ErrNilImplementation = Error("implementation cannot be nil")

	// ErrEmptyProtocolName is returned when an implementation reports an
	// empty protocol name.
	ErrEmptyProtocolName = Error("protocol name cannot be empty")

	// ErrImplementationExists is returned when registering a second
	// implementation under an already-taken protocol name.
	ErrImplementationExists = Error("implementation for this protocol already exists")

	// ErrImplementationNotFound is returned when looking up a protocol name
	// with no registered implementation.
	ErrImplementationNotFound = Error("no implementation for protocol")

	// ErrAlreadyListening is returned when Listen is called twice.
	ErrAlreadyListening = Error("server is already listening")

	// ErrNotListening is returned for operations that need a live listener.
	ErrNotListening = Error("server is not listening")

	// ErrServiceClosed is returned for operations on a closed service.
	ErrServiceClosed = Error("service is closed")
)
