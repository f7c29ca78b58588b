package mathx

import "golang.org/x/exp/constraints"

// Mean returns the arithmetic mean of vs. ok is false for an empty slice.
func Mean[T constraints.Float](vs []T) (m T, ok bool) {
	if len(vs) == 0 {
		return 0, false
	}
	var sum T
	for _, v := range vs {
		sum += v
	}
	return sum / T(len(vs)), true
}
