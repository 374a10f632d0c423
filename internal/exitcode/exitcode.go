package exitcode

// Exit codes for openllama commands
const (
	Success   = 0
	Error     = 1
	Usage     = 2
	Failed    = 3   // generation ended with a backend error
	Cancelled = 130 // 128 + SIGINT
)

// ExitError is an error that carries a specific exit code
type ExitError struct {
	Code    int
	Message string
}

func (e ExitError) Error() string {
	return e.Message
}

// Convenience constructors
func UsageError(msg string) ExitError { return ExitError{Code: Usage, Message: msg} }
func Failure(msg string) ExitError    { return ExitError{Code: Failed, Message: msg} }
func Cancel() ExitError               { return ExitError{Code: Cancelled, Message: "cancelled"} }
