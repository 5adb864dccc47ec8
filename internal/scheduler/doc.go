// Package scheduler decides when each subscription runs and drives one
// cycle per due subscription: fetch, build, dispatch, then advance the
// watermark.
//
// Tick is the unit of scheduling. It never blocks on cycle work; cycles run
// on their own goroutines, at most one per subscription, bounded overall by
// MaxConcurrent. The watermark only moves through a compare-and-set in the
// store, after dispatch was initiated, so a failed cycle leaves the
// subscription exactly as due as it was.
//
// Runner triggers Tick from a robfig/cron schedule.
package scheduler
