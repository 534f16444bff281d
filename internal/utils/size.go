package utils

const bytesPerMB = 1024 * 1024

// BytesToMB converts a byte count to megabytes.
func BytesToMB(n int64) float64 {
	return float64(n) / bytesPerMB
}
