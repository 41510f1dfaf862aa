// Package score derives round scores from guess distances for game records
// where the server omitted an explicit score.
package score

import (
	"math"

	"github.com/keshavt3/Geoguessr-dashboard/internal/constants"
)

// Calculate maps a guess distance in meters to a score in [0, 5000] using
// the world map's exponential decay. Negative distances score as a perfect
// guess.
func Calculate(distanceMeters float64) int {
	return CalculateWithDiagonal(distanceMeters, constants.WorldMapDiagonalMeters)
}

// CalculateWithDiagonal is Calculate against an arbitrary map diagonal,
// for maps smaller than the world.
func CalculateWithDiagonal(distanceMeters, diagonalMeters float64) int {
	d := math.Max(distanceMeters, 0)
	return int(math.Round(float64(constants.MaxRoundScore) * math.Exp(-10*d/diagonalMeters)))
}
