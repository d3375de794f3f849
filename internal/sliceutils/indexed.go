// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package sliceutils provides sort helpers that keep track of the original
// position of every element.
package sliceutils

// Ordered is the set of types IndexedSlice can sort.
type Ordered interface {
	~int | ~float32 | ~float64
}

// IndexedSlice implements sort.Interface over Slice, permuting Indices
// together with it so that Indices[i] is the original position of Slice[i].
type IndexedSlice[T Ordered] struct {
	Slice   []T
	Indices []int
}

// NewIndexedSlice wraps s, which is sorted in place.
func NewIndexedSlice[T Ordered](s []T) IndexedSlice[T] {
	indices := make([]int, len(s))
	for i := range indices {
		indices[i] = i
	}
	return IndexedSlice[T]{
		Slice:   s,
		Indices: indices,
	}
}

// Len implements sort.Interface.
func (s IndexedSlice[T]) Len() int {
	return len(s.Slice)
}

// Less implements sort.Interface.
func (s IndexedSlice[T]) Less(i, j int) bool {
	return s.Slice[i] < s.Slice[j]
}

// Swap implements sort.Interface.
func (s IndexedSlice[T]) Swap(i, j int) {
	s.Slice[i], s.Slice[j] = s.Slice[j], s.Slice[i]
	s.Indices[i], s.Indices[j] = s.Indices[j], s.Indices[i]
}
