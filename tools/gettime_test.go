package tools

import (
	"testing"
	"time"
)

func fixedClock() *Clock {
	loc := time.FixedZone("IST", 5*3600+1800)
	now := time.Date(2026, 1, 31, 4, 15, 30, 0, time.UTC)
	return &Clock{Now: func() time.Time { return now }, Location: loc}
}

func TestClock_Relative(t *testing.T) {
	c := fixedClock()
	tests := []struct {
		name   string
		offset *Offset
		want   string
	}{
		{"no offset", nil, "now"},
		{"zero offset", &Offset{}, "now"},
		{"one day", &Offset{Days: 1}, "in 1 day"},
		{"three days back", &Offset{Days: -3}, "3 days ago"},
		{"two hours", &Offset{Hours: 2}, "in 2 hours"},
		{"minute back", &Offset{Minutes: -1}, "1 minute ago"},
		{"ten days", &Offset{Days: 10}, "in 1 week"},
		{"weeks", &Offset{Weeks: 3}, "in 3 weeks"},
		{"month", &Offset{Days: 45}, "in 1 month"},
		{"fraction truncated", &Offset{Hours: 1.9}, "in 1 hour"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Resolve(tt.offset, FormatRelative).Formatted
			if got != tt.want {
				t.Errorf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestClock_Formats(t *testing.T) {
	c := fixedClock()
	// 04:15:30 UTC is 09:45:30 IST.
	tests := []struct {
		format Format
		want   string
	}{
		{FormatFull, "Saturday, 31 January 2026 at 09:45:30 am"},
		{"", "Saturday, 31 January 2026 at 09:45:30 am"},
		{FormatDate, "Saturday, 31 January 2026"},
		{FormatTime, "09:45:30 am"},
	}
	for _, tt := range tests {
		res := c.Resolve(nil, tt.format)
		if res.Formatted != tt.want {
			t.Errorf("format %q: expected %q, got %q", tt.format, tt.want, res.Formatted)
		}
		if res.Timestamp != "2026-01-31T04:15:30.000Z" {
			t.Errorf("timestamp = %q", res.Timestamp)
		}
	}
}

func TestOffset_ApplyOrder(t *testing.T) {
	c := fixedClock()
	// Jan 31 + 1 month normalizes to Mar 3 (2026 is not a leap year).
	res := c.Resolve(&Offset{Months: 1}, FormatDate)
	if res.Formatted != "Tuesday, 3 March 2026" {
		t.Errorf("months: got %q", res.Formatted)
	}
	// Minutes roll the day over before days are added.
	res = c.Resolve(&Offset{Minutes: 15 * 60, Days: 1}, FormatDate)
	if res.Formatted != "Monday, 2 February 2026" {
		t.Errorf("minutes then days: got %q", res.Formatted)
	}
}

func TestRelative_Seconds(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	if got := Relative(now, now.Add(30*time.Second)); got != "in 30 seconds" {
		t.Errorf("got %q", got)
	}
	if got := Relative(now, now.Add(-time.Second)); got != "1 second ago" {
		t.Errorf("got %q", got)
	}
}

func TestClock_ZoneLabel(t *testing.T) {
	loc, err := time.LoadLocation(DefaultZone)
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	c := &Clock{Now: time.Now, Location: loc}
	if got := c.Resolve(nil, FormatFull).Timezone; got != "Asia/Kolkata (IST)" {
		t.Errorf("timezone = %q", got)
	}
}
