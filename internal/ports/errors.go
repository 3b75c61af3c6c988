package ports

import (
	"errors"
	"fmt"
)

// Common infrastructure errors that can occur during external service
// interactions.
var (
	// ErrStoreClosed indicates that the experiment store has been closed.
	ErrStoreClosed = errors.New("store closed")

	// ErrProviderNotConfigured indicates that no credentials are set for a
	// generation provider.
	ErrProviderNotConfigured = errors.New("provider not configured")

	// ErrUnknownProvider indicates a model id whose provider has no adapter.
	ErrUnknownProvider = errors.New("unknown provider")

	// ErrTrackingUnavailable indicates that the tracking sink could not be
	// reached.
	ErrTrackingUnavailable = errors.New("tracking unavailable")

	// ErrConfigNotFound indicates that required configuration is missing.
	ErrConfigNotFound = errors.New("configuration not found")
)

// StoreError represents a failed persistence operation.
type StoreError struct {
	// Entity is the kind of record involved, e.g. "experiment".
	Entity string

	// Operation is the store method that failed.
	Operation string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for StoreError.
func (e *StoreError) Error() string {
	return fmt.Sprintf("store error: operation=%s, entity=%s, err=%v", e.Operation, e.Entity, e.Err)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error { return e.Err }

// NewStoreError creates a new StoreError with the given details.
func NewStoreError(entity, operation string, err error) *StoreError {
	return &StoreError{
		Entity:    entity,
		Operation: operation,
		Err:       err,
	}
}

// TrackingError represents a failure of a tracking sink.
type TrackingError struct {
	// Backend names the sink, e.g. "influx".
	Backend string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface for TrackingError.
func (e *TrackingError) Error() string {
	return fmt.Sprintf("tracking error: backend=%s, err=%v", e.Backend, e.Err)
}

// Unwrap returns the underlying error.
func (e *TrackingError) Unwrap() error { return e.Err }

// NewTrackingError creates a new TrackingError.
func NewTrackingError(backend string, err error) *TrackingError {
	return &TrackingError{Backend: backend, Err: err}
}

// ConfigError represents an error from configuration operations.
type ConfigError struct {
	// ConfigKey is the configuration key that was involved in the failed
	// operation.
	ConfigKey string

	// Err is the underlying error that caused the configuration operation
	// to fail.
	Err error
}

// Error implements the error interface for ConfigError.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error: key=%s, err=%v", e.ConfigKey, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error { return e.Err }

// NewConfigError creates a new ConfigError with the given details.
func NewConfigError(key string, err error) *ConfigError {
	return &ConfigError{
		ConfigKey: key,
		Err:       err,
	}
}
