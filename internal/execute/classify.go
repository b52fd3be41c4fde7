package execute

import "strings"

// Dispatch is the decision of how a command string should be invoked.
type Dispatch int

const (
	// DirectExec runs the command as an argument vector with no shell.
	DirectExec Dispatch = iota
	// ShellExec runs the command through a shell interpreter.
	ShellExec
)

func (d Dispatch) String() string {
	if d == ShellExec {
		return "shell"
	}
	return "direct"
}

// shellMarkers are substrings that indicate shell features beyond plain
// argument passing: command separators, pipes, redirection, variable
// expansion, and backticks.
var shellMarkers = []string{"&&", "||", ";", "|", "$", ">", "<", "`"}

// Classify decides whether a command string needs a shell. Commands are
// dispatched directly whenever possible so that no shell interpolation
// can touch them; the shell is reserved for commands that actually use
// shell features. A standalone cd word also forces a shell, since
// changing directory only has an effect inside one.
func Classify(command string) Dispatch {
	for _, m := range shellMarkers {
		if strings.Contains(command, m) {
			return ShellExec
		}
	}
	for _, word := range strings.Fields(command) {
		if word == "cd" {
			return ShellExec
		}
	}
	return DirectExec
}
