package main

import (
	"maps"
	"slices"
)

func sortedKeys[V any](m map[int]V) []int {
	return slices.Sorted(maps.Keys(m))
}
