// Package rng derives reproducible random streams for the simulation.
//
// Each stochastic component draws from its own stream, seeded from the
// game seed, the month index and a stream offset. Settling the same
// snapshot twice therefore yields identical outcomes, and adding draws to
// one component never shifts the numbers seen by another.
package rng

import (
	"hash/fnv"
	"math/rand"
)

// Stream offsets. Spaced so that month indices never collide across streams.
const (
	StreamEconomy      int64 = 100
	StreamFactors      int64 = 200
	StreamDemographics int64 = 300
	StreamDemand       int64 = 400
	StreamStrategy     int64 = 500
	StreamDifficulty   int64 = 600
)

const monthStride = 1_000_003

// New returns the stream for a game seed, a month index and a stream offset.
func New(seed int64, monthIndex int, stream int64) *rand.Rand {
	return rand.New(rand.NewSource(seed + int64(monthIndex)*monthStride + stream))
}

// ForParticipant returns a stream private to one participant in one month.
func ForParticipant(seed int64, monthIndex int, participantID string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(participantID))
	return New(seed, monthIndex, StreamStrategy+int64(h.Sum64()>>16))
}

// Uniform draws from [lo, hi).
func Uniform(r *rand.Rand, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}

// Normal draws from N(mean, sd).
func Normal(r *rand.Rand, mean, sd float64) float64 {
	return mean + r.NormFloat64()*sd
}

// Chance reports true with probability p.
func Chance(r *rand.Rand, p float64) bool {
	return r.Float64() < p
}

// IntRange draws an integer from [lo, hi] inclusive.
func IntRange(r *rand.Rand, lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + r.Intn(hi-lo+1)
}
