package streamreplay

import "time"

// nowSeconds returns the current wall-clock time as fractional seconds
// since the Unix epoch, the same representation Packet.Timestamp and
// every statistics timestamp in this codebase use.
func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}
