package reminder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cadenceParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseCadence turns a poll setting into a schedule.
//
// Supported forms:
//   - Go duration: "1m", "90s"
//   - HH:MM interval: "00:05"
//   - cron: "@every 30s", "*/2 * * * *", "0 */5 * * * *"
//
// The "cron:" prefix forces cron parsing. Empty means every minute.
func ParseCadence(raw string) (cron.Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return cron.Every(time.Minute), nil
	}
	if strings.HasPrefix(strings.ToLower(s), "cron:") {
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		return parseCron(s)
	}
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		hh, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		if mm > 59 {
			return nil, fmt.Errorf("invalid minutes in %q", raw)
		}
		return every(time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute)
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("invalid poll %q (use a duration like '1m', HH:MM, or cron like '@every 30s')", raw)
	}
	return every(d)
}

func every(d time.Duration) (cron.Schedule, error) {
	if d < time.Second {
		return nil, fmt.Errorf("poll interval must be at least 1s, got %s", d)
	}
	return cron.Every(d), nil
}

func parseCron(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("cron expression required")
	}
	sched, err := cadenceParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return sched, nil
}
