package router

import "strings"

// HelpText lists visible commands with their usage. Owner-only commands are
// included when owner is true.
func (m *CommandManager) HelpText(owner bool) string {
	var b strings.Builder
	b.WriteString("📋 Available commands:\n\n")
	for _, c := range m.Commands() {
		if c.Hidden || (c.Access == AccessOwnerOnly && !owner) {
			continue
		}
		usage := strings.TrimSpace(c.Usage)
		if usage == "" {
			usage = "/" + c.Name
		}
		b.WriteString(usage)
		if d := strings.TrimSpace(c.Description); d != "" {
			b.WriteString(" - " + d)
		}
		if c.Access == AccessOwnerOnly {
			b.WriteString(" 🔒")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
