package domain

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrZeroTime = errors.New("domain: zero timestamp")

// UTCTime is an instant normalized to UTC.
//
// The only ways to build a non-zero value are UTC, MustUTC and FromUnixMilli,
// so every UTCTime in the model compares without zone ambiguity.
// The zero value means "unset".
type UTCTime struct {
	t time.Time
}

// UTC normalizes t to UTC. Zero times are rejected.
func UTC(t time.Time) (UTCTime, error) {
	if t.IsZero() {
		return UTCTime{}, ErrZeroTime
	}
	return UTCTime{t: t.UTC()}, nil
}

// MustUTC is UTC for callers that already hold a valid timestamp.
func MustUTC(t time.Time) UTCTime {
	u, err := UTC(t)
	if err != nil {
		panic(err)
	}
	return u
}

func FromUnixMilli(ms int64) UTCTime {
	if ms == 0 {
		return UTCTime{}
	}
	return UTCTime{t: time.UnixMilli(ms).UTC()}
}

// ParseUTC parses an RFC3339 timestamp carrying an explicit offset.
func ParseUTC(s string) (UTCTime, error) {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return UTCTime{}, err
	}
	return UTC(t)
}

func (u UTCTime) Time() time.Time { return u.t }
func (u UTCTime) IsZero() bool    { return u.t.IsZero() }

// UnixMilli returns 0 for the zero value.
func (u UTCTime) UnixMilli() int64 {
	if u.t.IsZero() {
		return 0
	}
	return u.t.UnixMilli()
}

func (u UTCTime) Before(o UTCTime) bool            { return u.t.Before(o.t) }
func (u UTCTime) After(o UTCTime) bool             { return u.t.After(o.t) }
func (u UTCTime) Equal(o UTCTime) bool             { return u.t.Equal(o.t) }
func (u UTCTime) Add(d time.Duration) UTCTime      { return UTCTime{t: u.t.Add(d)} }
func (u UTCTime) Sub(o UTCTime) time.Duration      { return u.t.Sub(o.t) }
func (u UTCTime) Format(layout string) string      { return u.t.Format(layout) }
func (u UTCTime) String() string                   { return u.t.Format(time.RFC3339) }
func (u UTCTime) Compare(o UTCTime) int            { return u.t.Compare(o.t) }
func (u UTCTime) Truncate(d time.Duration) UTCTime { return UTCTime{t: u.t.Truncate(d)} }

func (u UTCTime) MarshalJSON() ([]byte, error) {
	if u.t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(u.t.Format(time.RFC3339Nano))
}

func (u *UTCTime) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*u = UTCTime{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	v, err := UTC(t)
	if err != nil {
		return err
	}
	*u = v
	return nil
}

// Window is the half-open interval [Since, Until).
type Window struct {
	Since UTCTime `json:"since"`
	Until UTCTime `json:"until"`
}

var ErrInvalidWindow = errors.New("domain: invalid window")

func (w Window) Validate() error {
	if w.Since.IsZero() || w.Until.IsZero() || !w.Since.Before(w.Until) {
		return ErrInvalidWindow
	}
	return nil
}

// Contains reports whether t falls inside [Since, Until).
func (w Window) Contains(t UTCTime) bool {
	return !t.Before(w.Since) && t.Before(w.Until)
}

func (w Window) Duration() time.Duration { return w.Until.Sub(w.Since) }
