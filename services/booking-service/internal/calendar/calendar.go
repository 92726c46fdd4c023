package calendar

import (
	"sort"
	"time"
)

// Interval is a half-open [Start, End) range of instants.
type Interval struct {
	Start time.Time
	End   time.Time
}

func (i Interval) Valid() bool {
	return !i.Start.IsZero() && i.End.After(i.Start)
}

// Overlaps reports whether [i.Start,i.End) and [o.Start,o.End) share any instant.
func (i Interval) Overlaps(o Interval) bool {
	return i.Start.Before(o.End) && o.Start.Before(i.End)
}

// Contains reports whether o lies entirely inside i.
func (i Interval) Contains(o Interval) bool {
	return !o.Start.Before(i.Start) && !o.End.After(i.End)
}

// Span is a minute-of-day range, e.g. 540..1020 for 09:00-17:00.
type Span struct {
	StartMinute int
	EndMinute   int
}

// Day is the working configuration for one weekday.
type Day struct {
	IsWorking   bool
	StartMinute int
	EndMinute   int
	Breaks      []Span
}

// Template is a staff member's weekly working-hour template. Missing weekdays are days off.
type Template struct {
	Days map[time.Weekday]Day
}

// DefaultTemplate is Mon-Fri 09:00-17:00, weekends off.
func DefaultTemplate() Template {
	t := Template{Days: make(map[time.Weekday]Day, 7)}
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if wd == time.Saturday || wd == time.Sunday {
			t.Days[wd] = Day{}
			continue
		}
		t.Days[wd] = Day{IsWorking: true, StartMinute: 540, EndMinute: 1020}
	}
	return t
}

// TimeOff is a declared absence, stored as absolute instants.
type TimeOff struct {
	Start time.Time
	End   time.Time
}

// DayBounds returns local midnight of day and of the following day in loc.
func DayBounds(day time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	d := day.In(loc)
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// WorkingIntervals returns the ordered, disjoint working intervals of a staff member on the
// calendar date of day (interpreted in loc), net of breaks and time off.
func WorkingIntervals(t Template, day time.Time, loc *time.Location, timeOff []TimeOff) []Interval {
	dayStart, _ := DayBounds(day, loc)
	cfg, ok := t.Days[dayStart.Weekday()]
	if !ok || !cfg.IsWorking || cfg.EndMinute <= cfg.StartMinute {
		return nil
	}

	base := Interval{
		Start: atMinute(dayStart, cfg.StartMinute),
		End:   atMinute(dayStart, cfg.EndMinute),
	}

	blocks := make([]Interval, 0, len(cfg.Breaks)+len(timeOff))
	for _, b := range cfg.Breaks {
		if b.EndMinute <= b.StartMinute {
			continue
		}
		blocks = append(blocks, Interval{
			Start: atMinute(dayStart, b.StartMinute),
			End:   atMinute(dayStart, b.EndMinute),
		})
	}
	for _, off := range timeOff {
		blocks = append(blocks, Interval{Start: off.Start, End: off.End})
	}
	return Subtract([]Interval{base}, blocks)
}

// atMinute returns the wall-clock minute of day, so 09:00 stays 09:00 on daylight saving changes.
func atMinute(dayStart time.Time, minute int) time.Time {
	return time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day(), 0, minute, 0, 0, dayStart.Location())
}

// Subtract removes every block from the base intervals and returns the remaining pieces in
// ascending order. Base intervals are assumed disjoint.
func Subtract(base []Interval, blocks []Interval) []Interval {
	merged := Merge(blocks)

	var out []Interval
	for _, b := range base {
		if !b.End.After(b.Start) {
			continue
		}
		cursor := b.Start
		for _, m := range merged {
			if !m.End.After(cursor) {
				continue
			}
			if !m.Start.Before(b.End) {
				break
			}
			if m.Start.After(cursor) {
				out = append(out, Interval{Start: cursor, End: m.Start})
			}
			cursor = m.End
			if !cursor.Before(b.End) {
				break
			}
		}
		if b.End.After(cursor) {
			out = append(out, Interval{Start: cursor, End: b.End})
		}
	}
	sortIntervals(out)
	return out
}

// Merge sorts intervals and joins the ones that overlap or touch. Empty intervals are dropped.
func Merge(in []Interval) []Interval {
	b := make([]Interval, 0, len(in))
	for _, iv := range in {
		if iv.End.After(iv.Start) {
			b = append(b, iv)
		}
	}
	if len(b) == 0 {
		return nil
	}
	sortIntervals(b)

	merged := make([]Interval, 0, len(b))
	for _, cur := range b {
		if len(merged) == 0 {
			merged = append(merged, cur)
			continue
		}
		last := &merged[len(merged)-1]
		if cur.Start.After(last.End) {
			merged = append(merged, cur)
			continue
		}
		if cur.End.After(last.End) {
			last.End = cur.End
		}
	}
	return merged
}

func sortIntervals(in []Interval) {
	sort.Slice(in, func(i, j int) bool {
		if in[i].Start.Equal(in[j].Start) {
			return in[i].End.Before(in[j].End)
		}
		return in[i].Start.Before(in[j].Start)
	})
}
