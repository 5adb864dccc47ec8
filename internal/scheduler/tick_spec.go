package scheduler

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseTick normalizes a tick schedule into a robfig/cron spec.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "@hourly", "@every 1m"
//   - Interval duration: "30s", "2m"
//   - Interval HH:MM: "00:05" (5 minutes)
func ParseTick(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "@every 1m", nil
	}
	if strings.ContainsAny(s, " \t") || strings.HasPrefix(s, "@") {
		if _, err := cronParser.Parse(s); err != nil {
			return "", fmt.Errorf("scheduler: invalid tick %q: %w", raw, err)
		}
		return s, nil
	}
	if m := reHHMM.FindStringSubmatch(s); m != nil {
		var hh, mm int
		if _, err := fmt.Sscanf(m[1]+" "+m[2], "%d %d", &hh, &mm); err != nil || mm > 59 {
			return "", fmt.Errorf("scheduler: invalid tick %q", raw)
		}
		d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
		if d <= 0 {
			return "", fmt.Errorf("scheduler: tick interval must be > 0")
		}
		return "@every " + d.String(), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return "", fmt.Errorf("scheduler: invalid tick %q (use cron like '*/5 * * * *', HH:MM like '00:05', or duration like '1m')", raw)
	}
	if d <= 0 {
		return "", fmt.Errorf("scheduler: tick interval must be > 0")
	}
	return "@every " + d.String(), nil
}
