package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrNotFound         = errors.New("cache miss")
	ErrValidationFailed = errors.New("validation failed")
	ErrPolicyViolation  = errors.New("policy violation")
	ErrUpstreamFailure  = errors.New("upstream failure")
	ErrInternalError    = errors.New("internal error")
)

var (
	ErrCacheKeyEmpty         = errors.New("cache key empty")
	ErrCacheConnectionFailed = errors.New("cache connection failed")
	ErrCacheBackendUnknown   = errors.New("cache backend unknown")
	ErrCacheOperationFailed  = errors.New("cache operation failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
)

var (
	ErrBusNotConfigured    = errors.New("bus not configured")
	ErrBusTransportUnknown = errors.New("bus transport unknown")
	ErrBusEventMalformed   = errors.New("bus event malformed")
)

var (
	ErrTenantUnknown     = errors.New("unknown tenant")
	ErrAPIKeyInvalid     = errors.New("invalid api key")
	ErrJanitorNotRunning = errors.New("janitor not running")
)

var (
	ErrLogFileIsEmpty     = errors.New("log file is empty")
	ErrLogFileWrongFormat = errors.New("log file wrong format")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
