package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Deterministic(t *testing.T) {
	a := New(42, 3, StreamEconomy)
	b := New(42, 3, StreamEconomy)
	for i := 0; i < 10; i++ {
		require.Equal(t, a.Float64(), b.Float64())
	}
}

func TestNew_StreamsDiffer(t *testing.T) {
	a := New(42, 3, StreamEconomy)
	b := New(42, 3, StreamFactors)
	c := New(42, 4, StreamEconomy)
	va := a.Float64()
	assert.NotEqual(t, va, b.Float64())
	assert.NotEqual(t, va, c.Float64())
}

func TestForParticipant(t *testing.T) {
	a := ForParticipant(7, 0, "p1").Float64()
	assert.Equal(t, a, ForParticipant(7, 0, "p1").Float64())
	assert.NotEqual(t, a, ForParticipant(7, 0, "p2").Float64())
}

func TestHelpers(t *testing.T) {
	r := New(1, 0, 0)
	for i := 0; i < 200; i++ {
		u := Uniform(r, 0.8, 1.2)
		require.GreaterOrEqual(t, u, 0.8)
		require.Less(t, u, 1.2)

		n := IntRange(r, -5, 5)
		require.GreaterOrEqual(t, n, -5)
		require.LessOrEqual(t, n, 5)
	}
	assert.False(t, Chance(r, 0))
	assert.True(t, Chance(r, 1))
	assert.Equal(t, 3, IntRange(r, 3, 3))
}
