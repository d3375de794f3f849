// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tensor provides the dense host tensors exchanged between the
// captioning models and their decoders: token ids, attention sources,
// validity masks and conditioning signals.
package tensor

import (
	"errors"
	"fmt"
)

var (
	// ErrShape is returned when a tensor has an unexpected rank or size.
	ErrShape = errors.New("tensor shape mismatch")
	// ErrInvalidBeamSize is returned by Repeat for a non-positive beam width.
	ErrInvalidBeamSize = errors.New("beam size must be positive")
)

// Elem is the set of element types a Dense tensor can hold.
type Elem interface {
	~int | ~float32 | ~bool
}

// Dense is a row-major N-dimensional tensor.
//
// A Dense with an empty shape is a scalar holding exactly one element.
type Dense[T Elem] struct {
	shape []int
	data  []T
}

// New returns a zero-filled tensor of the given shape.
func New[T Elem](shape ...int) *Dense[T] {
	n := numElements(shape)
	return &Dense[T]{
		shape: copyShape(shape),
		data:  make([]T, n),
	}
}

// Full returns a tensor of the given shape with every element set to value.
func Full[T Elem](value T, shape ...int) *Dense[T] {
	d := New[T](shape...)
	for i := range d.data {
		d.data[i] = value
	}
	return d
}

// FromFlat wraps data as a tensor of the given shape. The slice is not copied.
func FromFlat[T Elem](data []T, shape ...int) (*Dense[T], error) {
	if n := numElements(shape); n != len(data) {
		return nil, fmt.Errorf("%w: shape %v needs %d elements, got %d", ErrShape, shape, n, len(data))
	}
	return &Dense[T]{
		shape: copyShape(shape),
		data:  data,
	}, nil
}

// FromRows builds a 2-dimensional tensor from equally sized rows.
func FromRows[T Elem](rows [][]T) (*Dense[T], error) {
	if len(rows) == 0 {
		return New[T](0, 0), nil
	}
	cols := len(rows[0])
	data := make([]T, 0, len(rows)*cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrShape, i, len(row), cols)
		}
		data = append(data, row...)
	}
	return &Dense[T]{
		shape: []int{len(rows), cols},
		data:  data,
	}, nil
}

// Shape returns a copy of the tensor dimensions.
func (d *Dense[T]) Shape() []int {
	return copyShape(d.shape)
}

// Rank returns the number of dimensions.
func (d *Dense[T]) Rank() int {
	return len(d.shape)
}

// Dim returns the size of the i-th dimension.
func (d *Dense[T]) Dim(i int) int {
	return d.shape[i]
}

// Size returns the total number of elements.
func (d *Dense[T]) Size() int {
	return len(d.data)
}

// Data returns the underlying row-major storage.
func (d *Dense[T]) Data() []T {
	return d.data
}

// At returns the element at the given indices.
func (d *Dense[T]) At(indices ...int) T {
	return d.data[d.offset(indices)]
}

// Set writes the element at the given indices.
func (d *Dense[T]) Set(v T, indices ...int) {
	d.data[d.offset(indices)] = v
}

// Row returns a view of the i-th row of a 2-dimensional tensor.
func (d *Dense[T]) Row(i int) []T {
	if len(d.shape) != 2 {
		panic(fmt.Sprintf("tensor: Row on rank %d tensor", len(d.shape)))
	}
	cols := d.shape[1]
	return d.data[i*cols : (i+1)*cols]
}

// Clone returns a deep copy.
func (d *Dense[T]) Clone() *Dense[T] {
	data := make([]T, len(d.data))
	copy(data, d.data)
	return &Dense[T]{
		shape: copyShape(d.shape),
		data:  data,
	}
}

// Index returns a copy of the i-th slice along the leading dimension.
func (d *Dense[T]) Index(i int) (*Dense[T], error) {
	if len(d.shape) == 0 {
		return nil, fmt.Errorf("%w: cannot index a scalar", ErrShape)
	}
	if i < 0 || i >= d.shape[0] {
		return nil, fmt.Errorf("%w: index %d out of range [0, %d)", ErrShape, i, d.shape[0])
	}
	inner := numElements(d.shape[1:])
	data := make([]T, inner)
	copy(data, d.data[i*inner:(i+1)*inner])
	return &Dense[T]{
		shape: copyShape(d.shape[1:]),
		data:  data,
	}, nil
}

// String implements fmt.Stringer with the shape only, since the tensors
// handled here are usually too large to print.
func (d *Dense[T]) String() string {
	var zero T
	return fmt.Sprintf("Dense[%T]%v", zero, d.shape)
}

func (d *Dense[T]) offset(indices []int) int {
	if len(indices) != len(d.shape) {
		panic(fmt.Sprintf("tensor: %d indices for rank %d tensor", len(indices), len(d.shape)))
	}
	off := 0
	for i, idx := range indices {
		if idx < 0 || idx >= d.shape[i] {
			panic(fmt.Sprintf("tensor: index %d out of range for dimension %d of size %d", idx, i, d.shape[i]))
		}
		off = off*d.shape[i] + idx
	}
	return off
}

func numElements(shape []int) int {
	n := 1
	for _, s := range shape {
		if s < 0 {
			panic(fmt.Sprintf("tensor: negative dimension in shape %v", shape))
		}
		n *= s
	}
	return n
}

func copyShape(shape []int) []int {
	out := make([]int, len(shape))
	copy(out, shape)
	return out
}
