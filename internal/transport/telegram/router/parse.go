package router

import (
	"strconv"
	"strings"
)

// commandLine is a parsed "/name@bot arg ..." message.
type commandLine struct {
	Name string
	Bot  string
	Args []string
}

// parseCommandLine splits a slash command. Arguments are whitespace
// separated; quotes that mobile keyboards wrap around a word are dropped,
// so /event «3» and /event "3" both yield "3".
func parseCommandLine(text string) (commandLine, bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return commandLine{}, false
	}
	head := strings.TrimPrefix(fields[0], "/")
	var cl commandLine
	cl.Name, cl.Bot, _ = strings.Cut(head, "@")
	cl.Name = normalizeName(cl.Name)
	if cl.Name == "" {
		return commandLine{}, false
	}
	for _, f := range fields[1:] {
		if a := trimArg(f); a != "" {
			cl.Args = append(cl.Args, a)
		}
	}
	return cl, true
}

const argQuotes = `"'«»“”„‘’`

func trimArg(s string) string {
	s = strings.Trim(strings.TrimRight(s, ",.;"), argQuotes)
	return strings.TrimRight(s, ",.;")
}

// EventID reads an event id from the first argument, accepting "3" and "#3".
func EventID(args []string) (int, bool) {
	if len(args) == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimPrefix(args[0], "#"))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
