package reminder

import (
	"strings"

	"eventbot/internal/storage"
)

// FormatReminder renders the text sent to every subscriber of ev.
func FormatReminder(ev storage.Event, tier Tier) string {
	desc := strings.TrimSpace(ev.Description)
	if desc == "" {
		desc = "No description"
	}
	var b strings.Builder
	b.WriteString("🔔 Event reminder!\n\n")
	b.WriteString("📅 " + ev.Title + "\n")
	b.WriteString("📝 " + desc + "\n")
	b.WriteString("🗓 Date: " + ev.Date + "\n\n")
	b.WriteString("⏰ The event starts " + tier.Label + "!")
	return b.String()
}
