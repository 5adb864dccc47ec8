package scheduler

import (
	"math/rand/v2"
	"time"

	"github.com/robfig/cron/v3"
)

// maxFirstTickDelay bounds the random offset of the first interval tick.
const maxFirstTickDelay = 30 * time.Second

// offsetSchedule is cron.Every(interval) anchored at a randomized first
// run, so daemons restarted together do not all hit the source at once.
type offsetSchedule struct {
	every cron.ConstantDelaySchedule
	first time.Time
}

func (s offsetSchedule) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return s.every.Next(t)
}

// everyWithOffset returns the schedule and the delay before its first run.
func everyWithOffset(interval time.Duration, now time.Time) (cron.Schedule, time.Duration) {
	every := cron.Every(interval)
	limit := min(interval, maxFirstTickDelay)
	if limit <= 0 {
		return every, every.Delay
	}
	delay := rand.N(limit)
	return offsetSchedule{every: every, first: now.Add(delay)}, delay
}
