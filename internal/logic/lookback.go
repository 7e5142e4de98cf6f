package logic

// WasOnDuring reports whether any decision inside window on date had the
// relay ON. Decisions must be in timestamp order.
func WasOnDuring(decisions []Decision, date Date, window HourRange) bool {
	start, end := window.Bounds(date)
	for i := len(decisions) - 1; i >= 0; i-- {
		t := decisions[i].Time
		if t.Before(start) {
			return false
		}
		if t.Before(end) && decisions[i].State == StateOn {
			return true
		}
	}
	return false
}

// BaselineDate picks the date whose baseline applies to a reading on date:
// the previous day when the relay was ON during the look-back window,
// because that day's quiet window is then contaminated.
func BaselineDate(decisions []Decision, date Date, lookback HourRange) Date {
	if WasOnDuring(decisions, date, lookback) {
		return date.AddDays(-1)
	}
	return date
}
