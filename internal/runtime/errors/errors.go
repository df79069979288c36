package errors

import (
	sterrors "errors"
	"fmt"
)

var (
	ErrConfigRequired       = sterrors.New("flowrpc: configuration is required")
	ErrRouterRequired       = sterrors.New("flowrpc: router is required")
	ErrMissingResolver      = sterrors.New("flowrpc: procedure resolver is required")
	ErrNoValidator          = sterrors.New("flowrpc: could not find a validator fn")
	ErrDuplicateEndpoint    = sterrors.New("flowrpc: duplicate endpoint")
	ErrLinksRequired        = sterrors.New("flowrpc: either a url or a list of links is required")
	ErrOperationDone        = sterrors.New("flowrpc: operation completed without data")
	ErrNotSubscription      = sterrors.New("flowrpc: subscription resolver must return a subscription")
	ErrEventBusDisabled     = sterrors.New("flowrpc: event bus transport is not configured")
	ErrTopicRequired        = sterrors.New("flowrpc: topic is required")
	ErrEventPayloadRequired = sterrors.New("flowrpc: event payload is required")
	ErrConnectionClosed     = sterrors.New("flowrpc: connection closed")
)

// ConfigValidationError wraps the joined problems reported by Config.Validate.
type ConfigValidationError struct {
	Err error
}

func (e ConfigValidationError) Error() string {
	return fmt.Sprintf("flowrpc: invalid configuration: %v", e.Err)
}

func (e ConfigValidationError) Unwrap() error {
	return e.Err
}

// NewConfigValidationError returns nil when err is nil.
func NewConfigValidationError(err error) error {
	if err == nil {
		return nil
	}
	return ConfigValidationError{Err: err}
}
