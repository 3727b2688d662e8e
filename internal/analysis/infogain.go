package analysis

import (
	"math"
	"sort"
)

// minInfoGainSamples is the floor below which quantile binning is too
// noisy to say anything.
const minInfoGainSamples = 100

// InformationGain reports how much knowing an indicator's bin reduces
// uncertainty about future returns at one horizon.
type InformationGain struct {
	Horizon            int     `json:"horizon"`
	TargetEntropy      float64 `json:"target_entropy"`
	ConditionalEntropy float64 `json:"conditional_entropy"`
	Gain               float64 `json:"information_gain"`
	GainRatio          float64 `json:"gain_ratio"`
	Samples            int     `json:"samples"`
}

// CalculateInformationGain discretizes indicator and the price's
// forward return at the given horizon into quantile bins and computes
// the mutual information between them. Pairs with NaN on either side
// are dropped. Returns a zero-valued result when fewer than
// minInfoGainSamples clean pairs remain.
func CalculateInformationGain(indicator, price []float64, horizon, bins int) InformationGain {
	result := InformationGain{Horizon: horizon}

	n := len(indicator)
	if len(price) < n {
		n = len(price)
	}

	// Forward return over the horizon, aligned to the indicator sample
	// it would have been predicted from.
	var ind, target []float64
	for i := 0; i+horizon < n; i++ {
		if math.IsNaN(indicator[i]) || price[i] == 0 {
			continue
		}
		fwd := price[i+horizon]/price[i] - 1
		if math.IsNaN(fwd) {
			continue
		}
		ind = append(ind, indicator[i])
		target = append(target, fwd)
	}
	if len(ind) < minInfoGainSamples {
		return result
	}
	result.Samples = len(ind)

	indBins := quantileBins(ind, bins)
	targetBins := quantileBins(target, bins)

	result.TargetEntropy = entropy(targetBins, bins)
	result.ConditionalEntropy = conditionalEntropy(targetBins, indBins, bins)
	result.Gain = result.TargetEntropy - result.ConditionalEntropy
	if result.TargetEntropy > 0 {
		result.GainRatio = result.Gain / result.TargetEntropy
	}
	return result
}

// quantileBins assigns each value a bin index in [0, bins) by rank so
// every bin holds roughly the same number of samples.
func quantileBins(values []float64, bins int) []int {
	type ranked struct {
		value float64
		index int
	}
	order := make([]ranked, len(values))
	for i, v := range values {
		order[i] = ranked{v, i}
	}
	sort.Slice(order, func(i, j int) bool { return order[i].value < order[j].value })

	out := make([]int, len(values))
	for rank, r := range order {
		bin := rank * bins / len(values)
		if bin >= bins {
			bin = bins - 1
		}
		out[r.index] = bin
	}
	return out
}

// entropy is the Shannon entropy of a bin assignment, in bits.
func entropy(assignment []int, bins int) float64 {
	counts := make([]int, bins)
	for _, b := range assignment {
		counts[b]++
	}
	total := float64(len(assignment))
	var h float64
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h
}

// conditionalEntropy is H(target | given): the entropy of the target
// assignment within each given-bin, weighted by the bin's mass.
func conditionalEntropy(target, given []int, bins int) float64 {
	groups := make([][]int, bins)
	for i, g := range given {
		groups[g] = append(groups[g], target[i])
	}
	total := float64(len(target))
	var h float64
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		weight := float64(len(group)) / total
		h += weight * entropy(group, bins)
	}
	return h
}
