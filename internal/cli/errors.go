package cli

import (
	"errors"
	"fmt"
)

// ExitError asks [Execute] to exit with Code without printing anything more.
// Commands return it after they have already reported the failure themselves,
// so RunE never calls os.Exit and tests can assert on the code.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// NewExitError returns an [ExitError] for code.
func NewExitError(code int) *ExitError {
	return &ExitError{Code: code}
}

// IsExitError reports the exit code carried by err, if any. Wrapped exit
// errors are found too.
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
