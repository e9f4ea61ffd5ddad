package cli

import "fmt"

// ErrorKind classifies malformed command lines.
type ErrorKind int

const (
	NotEnoughArguments ErrorKind = iota
	UnknownCommand
	MissingOption
	ParseError
)

const helpHint = "\nFor syntax help, type 'boowebserver help'."

// ConfigError reports a command line that cannot start the program. The
// process prints it and exits without starting the server.
type ConfigError struct {
	Kind   ErrorKind
	Detail string
}

func (e *ConfigError) Error() string {
	switch e.Kind {
	case NotEnoughArguments:
		return "Not enough arguments." + helpHint
	case UnknownCommand:
		return fmt.Sprintf("Unknown command: %s%s", e.Detail, helpHint)
	case MissingOption:
		return fmt.Sprintf("Missing option: %s%s", e.Detail, helpHint)
	default:
		return fmt.Sprintf("Parse error: %s%s", e.Detail, helpHint)
	}
}

func newError(kind ErrorKind, format string, args ...any) *ConfigError {
	return &ConfigError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
