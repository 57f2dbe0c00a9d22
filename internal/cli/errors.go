package cli

import (
	"errors"

	"github.com/mesh-intelligence/c2store/internal/trigger"
	"github.com/mesh-intelligence/c2store/pkg/types"
)

// cliError attaches an exit code to an error.
type cliError struct {
	code int
	err  error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

func userError(err error) error { return &cliError{code: exitUserError, err: err} }
func sysError(err error) error  { return &cliError{code: exitSysError, err: err} }

// exitCode maps an error to a process exit code. Errors caused by the
// request (bad input, missing records, stale versions) are user errors;
// anything else is a system error. Cobra's own argument errors carry no
// code and count as user errors.
func exitCode(err error) int {
	if err == nil {
		return exitSuccess
	}
	if classifyUser(err) {
		return exitUserError
	}
	var ce *cliError
	if errors.As(err, &ce) {
		return ce.code
	}
	return exitUserError
}

func classifyUser(err error) bool {
	for _, target := range []error{
		types.ErrValidation,
		types.ErrUnknownType,
		types.ErrNotFound,
		types.ErrInvalidID,
		types.ErrImmutableID,
		types.ErrVersionConflict,
		types.ErrHistoryUnsupported,
		trigger.ErrInvalidRule,
		trigger.ErrUnsupportedRule,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// storeError wraps an error returned by a store operation with its exit code.
func storeError(err error) error {
	if classifyUser(err) {
		return userError(err)
	}
	return sysError(err)
}
