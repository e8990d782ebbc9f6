// Package money implements exact-sum integer-cent arithmetic: the
// proportional split used to apportion a refund (or, in principle, any
// total) across N weighted shares without ever losing or inventing a
// cent to floating-point rounding (§4.1).
package money

// Distribute splits total (a non-negative integer number of cents) across
// len(weights) shares proportional to weights, repairing rounding error so
// that the outputs sum to exactly total.
//
// Each share is computed as round(total * w_i / W) using exact integer
// arithmetic (no floats), where W = sum(weights). The remainder
// Δ = total - Σ shares is then added to the share with the largest
// weight; ties keep the first such index, which is what makes the split
// stable under permutation of equal weights (§8 property 4).
//
// Degenerate inputs: if W == 0 or total == 0, every share is 0.
func Distribute(total int64, weights []int64) []int64 {
	shares := make([]int64, len(weights))
	if len(weights) == 0 || total == 0 {
		return shares
	}

	var sumWeights int64
	for _, w := range weights {
		sumWeights += w
	}
	if sumWeights <= 0 {
		return shares
	}

	var sumShares int64
	maxIdx := 0
	for i, w := range weights {
		shares[i] = roundProportion(total, w, sumWeights)
		sumShares += shares[i]
		if w > weights[maxIdx] {
			maxIdx = i
		}
	}

	delta := total - sumShares
	shares[maxIdx] += delta
	return shares
}

// roundProportion computes round(total*w/sum) using only integer
// arithmetic: round(x) = floor(x + 1/2) = floor((2*total*w + sum) / (2*sum)).
func roundProportion(total, w, sum int64) int64 {
	numerator := 2*total*w + sum
	denominator := 2 * sum
	return numerator / denominator
}
