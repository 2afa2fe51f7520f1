package cmd

import "github.com/Iron-Ham/maestro/internal/errors"

// Exit codes: 0 success, 1 failure, 2 stopped on a pending escalation.
const (
	ExitOK         = 0
	ExitFailure    = 1
	ExitEscalation = 2
)

// ExitCodeError carries a specific process exit code through RunE.
type ExitCodeError struct {
	Code int
	Err  error
}

func (e *ExitCodeError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "stopped"
}

func (e *ExitCodeError) Unwrap() error { return e.Err }

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var ec *ExitCodeError
	if errors.As(err, &ec) {
		return ec.Code
	}
	return ExitFailure
}
