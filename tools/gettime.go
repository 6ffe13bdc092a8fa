package tools

import (
	"context"
	"fmt"
	"time"
)

// DefaultZone is the display timezone for rendered times.
const DefaultZone = "Asia/Kolkata"

const (
	layoutFull = "Monday, 2 January 2006 at 03:04:05 pm"
	layoutDate = "Monday, 2 January 2006"
	layoutTime = "03:04:05 pm"
	isoMillis  = "2006-01-02T15:04:05.000Z"
)

// Offset shifts the current instant. Fractions are truncated.
type Offset struct {
	Minutes float64 `json:"minutes,omitempty"`
	Hours   float64 `json:"hours,omitempty"`
	Days    float64 `json:"days,omitempty"`
	Weeks   float64 `json:"weeks,omitempty"`
	Months  float64 `json:"months,omitempty"`
}

// Apply shifts from in the fixed order minutes, hours, days, weeks, months.
// Calendar units are applied in loc.
func (o Offset) Apply(from time.Time, loc *time.Location) time.Time {
	t := from.In(loc)
	t = t.Add(time.Duration(int64(o.Minutes)) * time.Minute)
	t = t.Add(time.Duration(int64(o.Hours)) * time.Hour)
	t = t.AddDate(0, 0, int(o.Days))
	t = t.AddDate(0, 0, int(o.Weeks)*7)
	t = t.AddDate(0, int(o.Months), 0)
	return t
}

// Format selects how getTime renders its instant.
type Format string

const (
	FormatFull     Format = "full"
	FormatDate     Format = "date"
	FormatTime     Format = "time"
	FormatRelative Format = "relative"
)

// TimeResult is the data returned by getTime.
type TimeResult struct {
	Timestamp string `json:"timestamp"`
	Formatted string `json:"formatted"`
	Timezone  string `json:"timezone"`
}

// Clock computes getTime results against an injectable current instant.
type Clock struct {
	Now      func() time.Time
	Location *time.Location
}

// NewClock returns a clock in loc using the wall clock. A nil loc loads
// DefaultZone, falling back to UTC when tzdata is missing.
func NewClock(loc *time.Location) *Clock {
	if loc == nil {
		var err error
		if loc, err = time.LoadLocation(DefaultZone); err != nil {
			loc = time.UTC
		}
	}
	return &Clock{Now: time.Now, Location: loc}
}

func (c *Clock) zoneLabel() string {
	name := c.Location.String()
	abbr, _ := c.Now().In(c.Location).Zone()
	if abbr == "" || abbr == name {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, abbr)
}

// Resolve applies o to the current instant and renders it in f.
func (c *Clock) Resolve(o *Offset, f Format) TimeResult {
	now := c.Now()
	target := now.In(c.Location)
	if o != nil {
		target = o.Apply(now, c.Location)
	}

	var formatted string
	switch f {
	case FormatDate:
		formatted = target.Format(layoutDate)
	case FormatTime:
		formatted = target.Format(layoutTime)
	case FormatRelative:
		formatted = Relative(now, target)
	default:
		formatted = target.Format(layoutFull)
	}
	return TimeResult{
		Timestamp: target.UTC().Format(isoMillis),
		Formatted: formatted,
		Timezone:  c.zoneLabel(),
	}
}

// Relative renders the distance from 'from' to 'to' in its largest whole
// unit, e.g. "in 2 days" or "3 hours ago".
func Relative(from, to time.Time) string {
	diff := to.Sub(from)
	if diff == 0 {
		return "now"
	}
	past := diff < 0
	if past {
		diff = -diff
	}

	secs := int64(diff / time.Second)
	mins := secs / 60
	hours := mins / 60
	days := hours / 24
	weeks := days / 7
	months := days / 30

	var n int64
	var unit string
	switch {
	case months > 0:
		n, unit = months, "month"
	case weeks > 0:
		n, unit = weeks, "week"
	case days > 0:
		n, unit = days, "day"
	case hours > 0:
		n, unit = hours, "hour"
	case mins > 0:
		n, unit = mins, "minute"
	default:
		n, unit = secs, "second"
	}
	if n != 1 {
		unit += "s"
	}
	if past {
		return fmt.Sprintf("%d %s ago", n, unit)
	}
	return fmt.Sprintf("in %d %s", n, unit)
}

type getTimeInput struct {
	Offset *Offset `json:"offset"`
	Format Format  `json:"format"`
}

func newGetTime(clock *Clock) Tool {
	number := func(desc string) map[string]any {
		return map[string]any{"type": "number", "description": desc}
	}
	return &typed[getTimeInput]{
		name:        GetTime,
		description: "Get the current time or a future/past time. Supports offsets in minutes, hours, days, weeks and months. Use it to resolve relative dates like 'tomorrow' before creating or updating tasks.",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"offset": map[string]any{
					"type":        "object",
					"description": "Offset from the current time. Leave empty for the current time.",
					"properties": map[string]any{
						"minutes": number("Number of minutes to offset"),
						"hours":   number("Number of hours to offset"),
						"days":    number("Number of days to offset (positive for future, negative for past)"),
						"weeks":   number("Number of weeks to offset"),
						"months":  number("Number of months to offset"),
					},
					"additionalProperties": false,
				},
				"format": map[string]any{
					"type":        "string",
					"enum":        []any{"full", "date", "time", "relative"},
					"description": "full (date and time), date only, time only, or relative (e.g. 'in 2 days'). Defaults to full",
				},
			},
			"additionalProperties": false,
		},
		run: func(_ context.Context, in getTimeInput) Result {
			res := clock.Resolve(in.Offset, in.Format)
			return Result{Success: true, Message: res.Formatted, Data: res}
		},
	}
}
