package utils

import "math"

// Round rounds a float64 value to 2 decimal places
// Used throughout the probe for metric values to avoid unnecessary precision
func Round(val float64) float64 {
	return math.Round(val*100) / 100
}
