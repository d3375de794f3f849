// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tensor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRepeat(t *testing.T) {
	x, err := FromFlat([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	require.NoError(t, err)

	for _, beamSize := range []int{1, 2, 5} {
		r, err := Repeat(x, beamSize)
		require.NoError(t, err)
		assert.Equal(t, []int{beamSize, 2, 3}, r.Shape())
		for b := 0; b < beamSize; b++ {
			slice, err := r.Index(b)
			require.NoError(t, err)
			assert.True(t, Equal(x, slice), "beam %d differs from the source", b)
		}
	}
}

func TestRepeatScalar(t *testing.T) {
	lens, err := FromFlat([]int{7, 3}, 2)
	require.NoError(t, err)
	l1, err := lens.Index(1)
	require.NoError(t, err)
	assert.Equal(t, 0, l1.Rank())

	r, err := Repeat(l1, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{4}, r.Shape())
	assert.Equal(t, []int{3, 3, 3, 3}, r.Data())
}

func TestRepeatCopiesData(t *testing.T) {
	x := Full[int](1, 3)
	r, err := Repeat(x, 2)
	require.NoError(t, err)
	x.Set(9, 0)
	assert.Equal(t, []int{1, 1, 1, 1, 1, 1}, r.Data())
}

func TestRepeatInvalidBeamSize(t *testing.T) {
	x := New[bool](2)
	for _, beamSize := range []int{0, -1} {
		_, err := Repeat(x, beamSize)
		assert.ErrorIs(t, err, ErrInvalidBeamSize)
	}
}

func TestSliceCols(t *testing.T) {
	x, err := FromRows([][]int{
		{1, 4, 5, 2, 0},
		{1, 6, 2, 0, 0},
	})
	require.NoError(t, err)

	head, err := SliceCols(x, 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, head.Shape())
	assert.Equal(t, []int{1, 4, 5, 2, 1, 6, 2, 0}, head.Data())

	prefix, err := SliceCols(x, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 1, 6}, prefix.Data())

	_, err = SliceCols(x, 0, 6)
	assert.ErrorIs(t, err, ErrShape)
	_, err = SliceCols(New[int](3), 0, 1)
	assert.ErrorIs(t, err, ErrShape)
}

func TestConcatCols(t *testing.T) {
	start := Full(1, 2, 1)
	seqs, err := FromRows([][]int{{4, 5}, {6, 7}})
	require.NoError(t, err)

	word, err := ConcatCols(start, seqs)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, word.Shape())
	assert.Equal(t, []int{1, 4, 5, 1, 6, 7}, word.Data())

	_, err = ConcatCols(Full(1, 3, 1), seqs)
	assert.ErrorIs(t, err, ErrShape)
}

func TestEqualScalar(t *testing.T) {
	x, err := FromRows([][]int{{1, 3, 0}, {1, 0, 0}})
	require.NoError(t, err)
	mask := EqualScalar(x, 0)
	assert.Equal(t, []int{2, 3}, mask.Shape())
	assert.Equal(t, []bool{false, false, true, false, true, true}, mask.Data())
}

func TestFromFlatShapeMismatch(t *testing.T) {
	_, err := FromFlat([]int{1, 2, 3}, 2, 2)
	assert.ErrorIs(t, err, ErrShape)
	_, err = FromRows([][]int{{1, 2}, {3}})
	assert.ErrorIs(t, err, ErrShape)
}

func TestIndexOutOfRange(t *testing.T) {
	x := New[float32](2, 3)
	_, err := x.Index(2)
	assert.ErrorIs(t, err, ErrShape)
	s, err := x.Index(1)
	require.NoError(t, err)
	_, err = New[int]().Index(0)
	assert.ErrorIs(t, err, ErrShape)
	assert.Equal(t, []int{3}, s.Shape())
}
