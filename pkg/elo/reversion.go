package elo

// Revert pulls every rating toward the population mean:
//
//	new = mean + (1 - reversion) * (old - mean)
//
// The mean is taken before any rating moves. reversion 0 keeps the ratings,
// 1 collapses them to the mean, values below 0 widen the spread.
// It returns the mean used.
func Revert(ratings []float64, reversion float64) float64 {
	if len(ratings) == 0 {
		return 0
	}
	var sum float64
	for _, r := range ratings {
		sum += r
	}
	mean := sum / float64(len(ratings))
	if reversion == 0 {
		// full carry-over, skip the round trip through the mean
		return mean
	}
	keep := 1 - reversion
	for i, r := range ratings {
		ratings[i] = mean + keep*(r-mean)
	}
	return mean
}
