package cli

import (
	"strconv"
	"strings"
)

// Command is one parsed REPL command.
type Command struct {
	Name string
	Args []string
}

var commandNames = map[string]struct{}{
	"continue": {},
	"new":      {},
	"history":  {},
	"debug":    {},
	"search":   {},
	"help":     {},
	"exit":     {},
	"quit":     {},
}

// ParseCommand recognizes a command line, with or without a leading slash.
// Any other line is a prompt for the model.
func ParseCommand(line string) (Command, bool) {
	trimmed := strings.TrimSpace(line)
	slashed := strings.HasPrefix(trimmed, "/")
	if slashed {
		trimmed = strings.TrimPrefix(trimmed, "/")
	}

	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return Command{}, false
	}
	name := strings.ToLower(fields[0])
	if _, ok := commandNames[name]; !ok {
		return Command{}, false
	}
	// A bare word that happens to be a command name is still a command, but
	// anything beyond the arguments a command accepts reads as a sentence.
	if !slashed && len(fields) > maxArgs(name)+1 {
		return Command{}, false
	}
	return Command{Name: name, Args: fields[1:]}, true
}

func maxArgs(name string) int {
	switch name {
	case "continue", "history":
		return 1
	default:
		return 0
	}
}

// continueIndex reads the optional 1-based index argument of `continue`.
// ok is false when the argument is present but not a positive integer.
func continueIndex(args []string) (n int, ok bool) {
	if len(args) == 0 {
		return 0, true
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
