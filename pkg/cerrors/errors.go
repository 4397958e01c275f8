package cerrors

import (
	"fmt"

	"github.com/palantir/stacktrace"
)

type ErrorType string

const (
	ErrorTypeNonUserFriendly    ErrorType = "NON_USER_FRIENDLY_ERROR"
	ErrorTypeGeneric            ErrorType = "GENERIC_ERROR"
	ErrorTypeExperimentNotFound ErrorType = "EXPERIMENT_NOT_FOUND"
	ErrorTypeExecutionNotFound  ErrorType = "EXECUTION_NOT_FOUND"
	ErrorTypeInvalidState       ErrorType = "INVALID_STATE"
	ErrorTypeDriverFailure      ErrorType = "DRIVER_FAILURE"
	ErrorTypePreCheckFailure    ErrorType = "PRE_CHECK_FAILURE"
	ErrorTypeMetricsGateway     ErrorType = "METRICS_GATEWAY_ERROR"
	ErrorTypeScheduler          ErrorType = "SCHEDULER_ERROR"
	ErrorTypePersistence        ErrorType = "PERSISTENCE_ERROR"
	ErrorTypeTimeout            ErrorType = "TIMEOUT"
)

// Error is the user-friendly error carried across the orchestrator. Phase
// names the lifecycle stage it surfaced in, Target the experiment or
// execution it concerns.
type Error struct {
	ErrorCode ErrorType
	Phase     string
	Target    string
	Reason    string
}

func (e Error) Error() string {
	switch {
	case e.Phase == "" && e.Target == "":
		return fmt.Sprintf("{%s}: %s", e.ErrorCode, e.Reason)
	case e.Phase == "":
		return fmt.Sprintf("{%s}: target: '%s', %s", e.ErrorCode, e.Target, e.Reason)
	case e.Target == "":
		return fmt.Sprintf("[%s]: {%s}: %s", e.Phase, e.ErrorCode, e.Reason)
	}
	return fmt.Sprintf("[%s]: {%s}: target: '%s', %s", e.Phase, e.ErrorCode, e.Target, e.Reason)
}

func (e Error) UserFriendly() bool {
	return true
}

func (e Error) ErrorType() ErrorType {
	return e.ErrorCode
}

type userFriendly interface {
	UserFriendly() bool
	ErrorType() ErrorType
}

// IsUserFriendly returns true if err is safe to surface to an operator
func IsUserFriendly(err error) bool {
	ufe, ok := err.(userFriendly)
	return ok && ufe.UserFriendly()
}

// GetErrorType returns the type of error if the error is user-friendly
func GetErrorType(err error) ErrorType {
	if ufe, ok := err.(userFriendly); ok {
		return ufe.ErrorType()
	}
	return ErrorTypeNonUserFriendly
}

// Is reports whether the root cause of err carries the given error code
func Is(err error, code ErrorType) bool {
	if err == nil {
		return false
	}
	return GetErrorType(stacktrace.RootCause(err)) == code
}

// GetRootCauseAndErrorCode unwraps a propagated error down to its root
// cause, keeping the full chain for non-user-friendly errors
func GetRootCauseAndErrorCode(err error) (string, ErrorType) {
	rootCause := stacktrace.RootCause(err)
	errorType := GetErrorType(rootCause)
	if !IsUserFriendly(rootCause) {
		return err.Error(), errorType
	}
	return rootCause.Error(), errorType
}
