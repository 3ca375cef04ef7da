package repo

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
)

// Expiry is either "never" (zero time), "now", or an absolute point in time
// parsed from a human expression such as "2.weeks.ago". A parse failure is a
// fatal configuration error (§3 Expiry value): callers must surface it rather
// than silently falling back to a default.
type Expiry struct {
	t     time.Time
	never bool
}

// NeverExpiry returns the "never" sentinel (timestamp 0, always in the past
// relative to any real deadline, but explicitly distinguished from a zero
// time.Time so callers don't confuse it with "unset").
func NeverExpiry() Expiry { return Expiry{never: true} }

// NowExpiry returns an Expiry fixed to the instant now is evaluated.
func NowExpiry(now time.Time) Expiry { return Expiry{t: now} }

// IsNever reports whether this Expiry is the "never" sentinel.
func (e Expiry) IsNever() bool { return e.never }

// Before reports whether t is before the expiry point. "Never" is never
// before anything (nothing has expired).
func (e Expiry) Before(t time.Time) bool {
	if e.never {
		return false
	}
	return t.Before(e.t)
}

// Time returns the absolute instant, or the zero time.Time for "never".
func (e Expiry) Time() time.Time {
	if e.never {
		return time.Time{}
	}
	return e.t
}

// String renders the value the way it would be passed to a child worker's
// --expire flag.
func (e Expiry) String() string {
	if e.never {
		return "never"
	}
	return e.t.Format(time.RFC3339)
}

var relativeExpiry = regexp.MustCompile(`^(\d+)\.(second|minute|hour|day|week|month|year)s?\.ago$`)

var unitDurations = map[string]time.Duration{
	"second": time.Second,
	"minute": time.Minute,
	"hour":   time.Hour,
	"day":    24 * time.Hour,
	"week":   7 * 24 * time.Hour,
	// Approximations matching git's own approxidate: a month is 30 days, a
	// year is 365 days. Good enough for grace-period comparisons; this layer
	// never needs calendar precision.
	"month": 30 * 24 * time.Hour,
	"year":  365 * 24 * time.Hour,
}

// ParseExpiry parses an expiry expression relative to now. Recognized forms:
//
//   - "never"            -> the never sentinel
//   - "now"               -> now
//   - "N.unit.ago"         -> now minus N units (second/minute/hour/day/week/month/year, singular or plural)
//   - RFC3339 absolute timestamp
//
// Any other input is a fatal configuration error per §3.
func ParseExpiry(s string, now time.Time) (Expiry, error) {
	switch s {
	case "never", "":
		return NeverExpiry(), nil
	case "now":
		return NowExpiry(now), nil
	}

	if m := relativeExpiry.FindStringSubmatch(s); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Expiry{}, fmt.Errorf("parse expiry %q: %w", s, err)
		}
		unit := unitDurations[m[2]]
		return Expiry{t: now.Add(-time.Duration(n) * unit)}, nil
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return Expiry{t: t}, nil
	}

	return Expiry{}, fmt.Errorf("invalid expiry expression %q", s)
}
