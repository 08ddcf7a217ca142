//go:build !linux

package pipeline

// threadID is unavailable here; onDrainLoop falls back to the sink marker.
func threadID() int {
	return 0
}
