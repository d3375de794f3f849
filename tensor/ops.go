// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tensor

import "fmt"

// Repeat replicates x along a new leading dimension of size beamSize.
// Given x of shape [D1, D2, ...] the result has shape [beamSize, D1, D2, ...]
// and each of its slices is an independent copy of x.
func Repeat[T Elem](x *Dense[T], beamSize int) (*Dense[T], error) {
	if beamSize <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBeamSize, beamSize)
	}
	n := len(x.data)
	data := make([]T, n*beamSize)
	for b := 0; b < beamSize; b++ {
		copy(data[b*n:(b+1)*n], x.data)
	}
	return &Dense[T]{
		shape: append([]int{beamSize}, x.shape...),
		data:  data,
	}, nil
}

// SliceCols returns a copy of columns [from, to) of a 2-dimensional tensor.
// Negative bounds count from the end, so SliceCols(x, 0, -1) drops the last column.
func SliceCols[T Elem](x *Dense[T], from, to int) (*Dense[T], error) {
	if x.Rank() != 2 {
		return nil, fmt.Errorf("%w: column slice needs a rank 2 tensor, got %v", ErrShape, x.shape)
	}
	rows, cols := x.shape[0], x.shape[1]
	if from < 0 {
		from += cols
	}
	if to < 0 {
		to += cols
	}
	if from < 0 || to > cols || from > to {
		return nil, fmt.Errorf("%w: columns [%d, %d) out of range for %v", ErrShape, from, to, x.shape)
	}
	width := to - from
	data := make([]T, 0, rows*width)
	for r := 0; r < rows; r++ {
		data = append(data, x.data[r*cols+from:r*cols+to]...)
	}
	return &Dense[T]{
		shape: []int{rows, width},
		data:  data,
	}, nil
}

// ConcatCols joins two rank 2 tensors with the same number of rows along the
// second dimension.
func ConcatCols[T Elem](a, b *Dense[T]) (*Dense[T], error) {
	if a.Rank() != 2 || b.Rank() != 2 {
		return nil, fmt.Errorf("%w: concat needs rank 2 tensors, got %v and %v", ErrShape, a.shape, b.shape)
	}
	if a.shape[0] != b.shape[0] {
		return nil, fmt.Errorf("%w: concat row mismatch %v vs %v", ErrShape, a.shape, b.shape)
	}
	rows, ac, bc := a.shape[0], a.shape[1], b.shape[1]
	data := make([]T, 0, rows*(ac+bc))
	for r := 0; r < rows; r++ {
		data = append(data, a.data[r*ac:(r+1)*ac]...)
		data = append(data, b.data[r*bc:(r+1)*bc]...)
	}
	return &Dense[T]{
		shape: []int{rows, ac + bc},
		data:  data,
	}, nil
}

// EqualScalar returns a boolean tensor marking the elements of x equal to v.
func EqualScalar[T Elem](x *Dense[T], v T) *Dense[bool] {
	out := New[bool](x.shape...)
	for i, e := range x.data {
		out.data[i] = e == v
	}
	return out
}

// Equal reports whether a and b have the same shape and elements.
func Equal[T Elem](a, b *Dense[T]) bool {
	if a == nil || b == nil {
		return a == b
	}
	if len(a.shape) != len(b.shape) {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	for i := range a.data {
		if a.data[i] != b.data[i] {
			return false
		}
	}
	return true
}
