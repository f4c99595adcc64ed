package gk

import "fmt"

// UnknownCommandError indicates input that matches no known command.
// It is reported to the user; the kernel keeps running.
type UnknownCommandError struct {
	Line string
}

func (e UnknownCommandError) Error() string {
	return fmt.Sprintf("unknown command %q", e.Line)
}
