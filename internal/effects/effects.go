// Package effects combines demand modifiers published by independent
// subsystems.
//
// Subsystems never query each other directly. Each one implements Provider
// and reports the modifiers it wants applied to a product line; the demand
// model merges them. Merge is order-independent: the same multiset of
// modifiers always folds to the same Effect, whatever order the providers
// were consulted in.
package effects

import (
	"math"
	"sort"

	"github.com/bikesim/market-engine/internal/catalog"
)

// Op is how a modifier combines with the others.
type Op int

const (
	// Multiply scales demand by Value.
	Multiply Op = iota
	// Add shifts the combined multiplier by Value (e.g. +0.05 for a 5% bonus).
	Add
)

// Modifier is one effect on the demand of a product line.
type Modifier struct {
	Source string  `json:"source"`
	Op     Op      `json:"op"`
	Value  float64 `json:"value"`
}

// Provider is the read-only query a subsystem exposes to the demand model.
type Provider interface {
	Modifiers(line string, profile catalog.Profile) []Modifier
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(line string, profile catalog.Profile) []Modifier

// Modifiers implements Provider.
func (f ProviderFunc) Modifiers(line string, profile catalog.Profile) []Modifier {
	return f(line, profile)
}

// Effect is the merged result of a set of modifiers.
type Effect struct {
	Multiplier float64  `json:"multiplier"`
	Bonus      float64  `json:"bonus"`
	Sources    []string `json:"sources,omitempty"`
}

// Neutral is the effect of no modifiers.
var Neutral = Effect{Multiplier: 1}

// Factor is the total scale the effect applies: Multiplier * (1 + Bonus).
func (e Effect) Factor() float64 {
	return e.Multiplier * (1 + e.Bonus)
}

// Apply scales v by the effect, never below zero.
func (e Effect) Apply(v float64) float64 {
	return math.Max(0, v*e.Factor())
}

// Merge folds modifiers into one Effect. Multiplicative modifiers multiply,
// additive ones sum. Inputs are sorted before folding so floating point
// results do not depend on input order. Non-finite values are ignored.
func Merge(mods []Modifier) Effect {
	sorted := make([]Modifier, 0, len(mods))
	for _, m := range mods {
		if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
			continue
		}
		sorted = append(sorted, m)
	}
	sort.Slice(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.Op != b.Op {
			return a.Op < b.Op
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.Value < b.Value
	})

	e := Effect{Multiplier: 1}
	seen := make(map[string]bool)
	for _, m := range sorted {
		switch m.Op {
		case Multiply:
			e.Multiplier *= m.Value
		case Add:
			e.Bonus += m.Value
		}
		if !seen[m.Source] {
			seen[m.Source] = true
			e.Sources = append(e.Sources, m.Source)
		}
	}
	sort.Strings(e.Sources)
	return e
}

// Collect queries every provider for one line.
func Collect(line string, profile catalog.Profile, providers ...Provider) []Modifier {
	var mods []Modifier
	for _, p := range providers {
		if p == nil {
			continue
		}
		mods = append(mods, p.Modifiers(line, profile)...)
	}
	return mods
}
