package analysis

import (
	"math"
	"math/rand"
	"testing"
)

func TestQuantileBins(t *testing.T) {
	values := []float64{10, 40, 20, 30}
	bins := quantileBins(values, 2)

	expected := []int{0, 1, 0, 1}
	for i := range expected {
		if bins[i] != expected[i] {
			t.Errorf("value %f: expected bin %d, got %d", values[i], expected[i], bins[i])
		}
	}
}

func TestEntropy(t *testing.T) {
	// Uniform over 2 bins: exactly 1 bit.
	approxEqual(t, "uniform entropy", 1, entropy([]int{0, 1, 0, 1}, 2))
	// Degenerate distribution carries no information.
	approxEqual(t, "degenerate entropy", 0, entropy([]int{1, 1, 1, 1}, 2))
}

func TestConditionalEntropyFullyInformative(t *testing.T) {
	// given determines target exactly: conditional entropy is 0.
	target := []int{0, 0, 1, 1}
	given := []int{0, 0, 1, 1}
	approxEqual(t, "deterministic conditional entropy", 0, conditionalEntropy(target, given, 2))
}

func TestCalculateInformationGainPerfectPredictor(t *testing.T) {
	// The indicator IS the next-period return, so knowing its bin pins
	// down the target bin completely.
	n := 300
	price := make([]float64, n)
	price[0] = 100
	rng := rand.New(rand.NewSource(7))
	for i := 1; i < n; i++ {
		price[i] = price[i-1] * (1 + (rng.Float64()-0.5)*0.05)
	}
	indicator := make([]float64, n)
	for i := 0; i+1 < n; i++ {
		indicator[i] = price[i+1]/price[i] - 1
	}

	result := CalculateInformationGain(indicator, price, 1, 5)
	if result.Samples < minInfoGainSamples {
		t.Fatalf("expected enough samples, got %d", result.Samples)
	}
	if result.Gain < result.TargetEntropy-1e-9 {
		t.Errorf("expected gain %f to reach target entropy %f", result.Gain, result.TargetEntropy)
	}
	approxEqual(t, "gain ratio", 1, result.GainRatio)
}

func TestCalculateInformationGainUninformative(t *testing.T) {
	// Indicator is independent noise: gain should be far below the
	// target entropy.
	n := 2000
	rng := rand.New(rand.NewSource(42))
	price := make([]float64, n)
	price[0] = 100
	for i := 1; i < n; i++ {
		price[i] = price[i-1] * (1 + (rng.Float64()-0.5)*0.02)
	}
	indicator := make([]float64, n)
	for i := range indicator {
		indicator[i] = rng.NormFloat64()
	}

	result := CalculateInformationGain(indicator, price, 1, 5)
	if result.GainRatio > 0.2 {
		t.Errorf("independent indicator should carry little information, ratio %f", result.GainRatio)
	}
}

func TestCalculateInformationGainTooFewSamples(t *testing.T) {
	result := CalculateInformationGain([]float64{1, 2, 3}, []float64{1, 2, 3}, 1, 5)
	if result.Samples != 0 || result.Gain != 0 {
		t.Errorf("expected zero-valued result, got %+v", result)
	}
	if !math.IsNaN(result.Gain) && result.Gain != 0 {
		t.Errorf("unexpected gain: %f", result.Gain)
	}
}
