package availability

import (
	"time"

	"github.com/md-rashed-zaman/shopbook/services/booking-service/internal/calendar"
)

type Interval = calendar.Interval

// AvailableSlots returns start instants t on the grid anchor + k*step such that [t, t+duration)
// fits inside a single free interval, t >= earliest and t < dayEnd.
//
// free must be sorted and disjoint, as returned by calendar.Subtract.
func AvailableSlots(free []Interval, anchor time.Time, duration, step time.Duration, earliest, dayEnd time.Time) []time.Time {
	if duration <= 0 || step <= 0 {
		return nil
	}

	var slots []time.Time
	for _, iv := range free {
		from := iv.Start
		if earliest.After(from) {
			from = earliest
		}
		for t := alignUp(from, anchor, step); !t.Add(duration).After(iv.End); t = t.Add(step) {
			if !t.Before(dayEnd) {
				break
			}
			slots = append(slots, t)
		}
	}
	return slots
}

// alignUp returns the first grid point anchor + k*step that is not before t.
func alignUp(t, anchor time.Time, step time.Duration) time.Time {
	off := t.Sub(anchor)
	k := off / step
	if off%step > 0 {
		k++
	}
	return anchor.Add(k * step)
}
