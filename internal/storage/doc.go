// Package storage persists subscriptions, their watermarks, cycle history and
// the delivery ledger.
//
// The SQL backends store every timestamp as unix milliseconds (UTC) and use 0
// for "never run", so the watermark compare-and-swap is a plain equality test.
package storage
