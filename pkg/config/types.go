// Package config defines service configuration for stubd and loaders for
// YAML/JSON service files.
package config

import (
	"fmt"

	"github.com/getstubd/stubd/pkg/stub"
)

// Sentinel errors for configuration validation.
type Error string

func (e Error) Error() string { return string(e) }

var (
	// ErrNoProtocol is returned when a service omits the protocol name.
	ErrNoProtocol = Error("service protocol is required")

	// ErrInvalidPort is returned for negative port numbers.
	ErrInvalidPort = Error("port must be a non-negative integer")
)

// Defaults holds process-wide fallbacks merged into every service that does
// not set the corresponding option itself. Merged exactly once, when the
// service is created; there is no ambient global state.
type Defaults struct {
	RecordRequests bool `json:"recordRequests" yaml:"recordRequests"`
	Debug          bool `json:"debug" yaml:"debug"`
}

// Service is the configuration for one mock service instance.
// Immutable once the service has been created.
type Service struct {
	// Protocol selects the protocol implementation ("http", "tcp").
	Protocol string `json:"protocol" yaml:"protocol"`

	// Port to listen on. Zero or absent means an OS-assigned ephemeral port.
	Port int `json:"port,omitempty" yaml:"port,omitempty"`

	// Name is an optional human-readable instance name, shown in the
	// logging scope and the service metadata.
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// RecordRequests enables the recorded-request sequence. Falls back to
	// the process-wide default when nil.
	RecordRequests *bool `json:"recordRequests,omitempty" yaml:"recordRequests,omitempty"`

	// Debug lowers the service log level to debug. Falls back to the
	// process-wide default when nil.
	Debug *bool `json:"debug,omitempty" yaml:"debug,omitempty"`

	// Stubs are the initial stubs for the service.
	Stubs []*stub.Stub `json:"stubs,omitempty" yaml:"stubs,omitempty"`

	// DefaultResponse overrides the protocol's fallback response fields
	// served when no stub matches.
	DefaultResponse map[string]any `json:"defaultResponse,omitempty" yaml:"defaultResponse,omitempty"`

	// Mode is protocol-specific ("text" or "binary" for TCP).
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// ApplyDefaults fills unset per-service options from the process-wide
// defaults. Called once during service creation.
func (s *Service) ApplyDefaults(d Defaults) {
	if s.RecordRequests == nil {
		v := d.RecordRequests
		s.RecordRequests = &v
	}
	if s.Debug == nil {
		v := d.Debug
		s.Debug = &v
	}
}

// Recording reports whether request recording is enabled.
// Only meaningful after ApplyDefaults.
func (s *Service) Recording() bool {
	return s.RecordRequests != nil && *s.RecordRequests
}

// Debugging reports whether debug logging is enabled.
// Only meaningful after ApplyDefaults.
func (s *Service) Debugging() bool {
	return s.Debug != nil && *s.Debug
}

// Validate checks the service configuration for structural errors.
func (s *Service) Validate() error {
	if s.Protocol == "" {
		return ErrNoProtocol
	}
	if s.Port < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, s.Port)
	}
	return nil
}
