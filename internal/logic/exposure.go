package logic

// DefaultElevatedThreshold is the indoor concentration counted as elevated.
const DefaultElevatedThreshold = 50.0

// OnShare returns the percentage of readings with the relay ON.
func OnShare(states []State) float64 {
	if len(states) == 0 {
		return 0
	}
	var on int
	for _, s := range states {
		if s == StateOn {
			on++
		}
	}
	return float64(on) / float64(len(states)) * 100
}

// ElevatedShare returns the percentage of elevated indoor readings
// (indoor > threshold) that occurred while the relay was ON.
// Returns 0 when no reading is elevated. Inputs are aligned by index;
// extra elements in the longer slice are ignored.
func ElevatedShare(states []State, indoor []float64, threshold float64) float64 {
	n := len(states)
	if len(indoor) < n {
		n = len(indoor)
	}
	var elevated, elevatedOn int
	for i := 0; i < n; i++ {
		if indoor[i] <= threshold {
			continue
		}
		elevated++
		if states[i] == StateOn {
			elevatedOn++
		}
	}
	if elevated == 0 {
		return 0
	}
	return float64(elevatedOn) / float64(elevated) * 100
}
