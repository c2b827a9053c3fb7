/*
 *	Copyright 2024 The VoxelML Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

// Package xslices provides generic slice and map helpers used throughout
// VoxelML. Most are trivial, but they keep call sites short and, for map keys,
// make iteration order deterministic.
package xslices

import (
	"cmp"
	"slices"
)

// Keys returns the keys of a map in the form of a slice, in undefined order.
func Keys[K comparable, V any](m map[K]V) []K {
	s := make([]K, 0, len(m))
	for k := range m {
		s = append(s, k)
	}
	return s
}

// SortedKeys returns the keys of a map sorted ascending.
// Use this when iterating a map where reproducible order matters.
func SortedKeys[K cmp.Ordered, V any](m map[K]V) []K {
	s := Keys(m)
	slices.Sort(s)
	return s
}

// Map applies fn to each element of in, returning a new slice with the results.
func Map[In, Out any](in []In, fn func(In) Out) []Out {
	out := make([]Out, len(in))
	for ii, v := range in {
		out[ii] = fn(v)
	}
	return out
}

// Last returns the last element of a slice. It panics on an empty slice, the
// same as an out-of-bounds index expression would.
func Last[T any](s []T) T {
	return s[len(s)-1]
}
