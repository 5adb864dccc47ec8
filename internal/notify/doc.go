// Package notify delivers reports to subscriber channels.
//
// A Dispatcher fans one report out to every channel of a subscription. Each
// channel runs in its own goroutine with its own retry budget, so a failing
// webhook never delays or blocks an email.
//
// # Idempotence
//
// Before sending, a delivery consults the Ledger for (report key, channel).
// A report that was already delivered is skipped with the
// skipped_duplicate outcome. Successful sends are marked in the ledger. If
// the ledger itself is lost a report may be sent again: delivery is
// at-least-once.
//
// # Retry
//
// Transient send errors are retried with bounded exponential backoff and
// jitter up to Config.MaxAttempts. Errors wrapped with Permanent are not
// retried.
package notify
