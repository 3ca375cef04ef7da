package repo

import (
	"testing"
	"time"
)

func TestParseExpiry(t *testing.T) {
	now := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		in      string
		wantStr string
	}{
		{"never", "never"},
		{"", "never"},
		{"now", now.Format(time.RFC3339)},
		{"2.weeks.ago", now.Add(-14 * 24 * time.Hour).Format(time.RFC3339)},
		{"1.day.ago", now.Add(-24 * time.Hour).Format(time.RFC3339)},
		{"3.month.ago", now.Add(-3 * 30 * 24 * time.Hour).Format(time.RFC3339)},
	}

	for _, c := range cases {
		got, err := ParseExpiry(c.in, now)
		if err != nil {
			t.Fatalf("ParseExpiry(%q): %v", c.in, err)
		}
		if got.String() != c.wantStr {
			t.Errorf("ParseExpiry(%q).String() = %q, want %q", c.in, got.String(), c.wantStr)
		}
	}
}

func TestParseExpiryInvalid(t *testing.T) {
	now := time.Now()
	if _, err := ParseExpiry("yesterday", now); err == nil {
		t.Fatal("expected error for unparsable expiry expression")
	}
}

func TestExpiryNeverIsNeverBefore(t *testing.T) {
	e := NeverExpiry()
	if e.Before(time.Now().Add(100 * 365 * 24 * time.Hour)) {
		t.Fatal("never expiry must never be before any time")
	}
	if !e.IsNever() {
		t.Fatal("IsNever should be true")
	}
}

func TestExpiryBefore(t *testing.T) {
	now := time.Now()
	e, err := ParseExpiry("1.day.ago", now)
	if err != nil {
		t.Fatal(err)
	}
	if e.Before(now.Add(-23 * time.Hour)) {
		t.Error("a time 23 hours ago should be after the 1-day-ago horizon")
	}
	if !e.Before(now.Add(-25 * time.Hour)) {
		t.Error("a time 25 hours ago should be before the 1-day-ago horizon")
	}
}
