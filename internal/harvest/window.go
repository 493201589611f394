package harvest

import "time"

// PlanWindows decomposes the campaign range into ordered, contiguous query
// windows of at most maxSpanDays each. Window N+1 starts on window N's end
// date and the final window is clamped to globalEnd, so the union of all
// windows is exactly [globalStart, globalEnd].
//
// The function is pure and deterministic: re-planning after a crash must
// reproduce identical boundaries or a prior snapshot could not be merged by
// window identity.
func PlanWindows(globalStart, globalEnd time.Time, maxSpanDays int) ([]QueryWindow, error) {
	start := dateOnly(globalStart)
	end := dateOnly(globalEnd)

	if maxSpanDays < 1 {
		return nil, &InvalidRangeError{
			Start: start, End: end, SpanDays: maxSpanDays,
			Reason: "max window span must be at least one day",
		}
	}
	if start.After(end) {
		return nil, &InvalidRangeError{
			Start: start, End: end, SpanDays: maxSpanDays,
			Reason: "start date is after end date",
		}
	}

	if start.Equal(end) {
		return []QueryWindow{{StartDate: start, EndDate: end, Status: WindowPending}}, nil
	}

	var windows []QueryWindow
	for cur := start; cur.Before(end); {
		windowEnd := cur.AddDate(0, 0, maxSpanDays)
		if windowEnd.After(end) {
			windowEnd = end
		}
		windows = append(windows, QueryWindow{
			StartDate: cur,
			EndDate:   windowEnd,
			Status:    WindowPending,
		})
		cur = windowEnd
	}
	return windows, nil
}

// dateOnly normalizes t to midnight UTC so window identity never depends on
// the caller's clock resolution or zone.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
