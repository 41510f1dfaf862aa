package score

import "testing"

func TestCalculate_PerfectGuess(t *testing.T) {
	if got := Calculate(0); got != 5000 {
		t.Fatalf("score at zero distance = %d, want 5000", got)
	}
}

func TestCalculate_NegativeDistanceClampsToPerfect(t *testing.T) {
	if got := Calculate(-250); got != 5000 {
		t.Fatalf("score at negative distance = %d, want 5000", got)
	}
}

func TestCalculate_Monotonic(t *testing.T) {
	distances := []float64{0, 1000, 50_000, 500_000, 2_000_000, 10_000_000}
	prev := Calculate(distances[0])
	for _, d := range distances[1:] {
		cur := Calculate(d)
		if cur > prev {
			t.Fatalf("score increased with distance: %f -> %d, previous %d", d, cur, prev)
		}
		prev = cur
	}
}

func TestCalculate_Range(t *testing.T) {
	for _, d := range []float64{0, 1, 123_456, 7_000_000, 14_916_862, 40_000_000} {
		got := Calculate(d)
		if got < 0 || got > 5000 {
			t.Fatalf("score out of range at distance %f: %d", d, got)
		}
	}
}

func TestCalculateWithDiagonal_SmallerMapDecaysFaster(t *testing.T) {
	const d = 100_000.0
	world := Calculate(d)
	small := CalculateWithDiagonal(d, 1_000_000)
	if small >= world {
		t.Fatalf("smaller map should score lower at same distance: small=%d world=%d", small, world)
	}
}
