package stats

// OnlineMean folds one new sample into a running mean over count samples,
// returning the mean over count+1 samples. The caller increments the count
// afterwards; doing it in this order keeps the update exact.
func OnlineMean(mean float64, count int64, sample float64) float64 {
	return (mean*float64(count) + sample) / float64(count+1)
}

// Percentage returns part/total*100, and 0 when total is 0 so callers never
// see NaN at the empty boundary.
func Percentage(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
