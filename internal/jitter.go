// Package internal contains internal packages for mrbdeps.
package internal

import (
	"math/rand/v2"
	"time"
)

// Jitter n by up to ±5%. Durations too short to jitter are returned unchanged.
func Jitter(n time.Duration) time.Duration {
	ni := int64(n)
	if ni < 20 {
		return n
	}
	return time.Duration(ni + rand.Int64N(ni/10) - ni/20) //nolint
}
