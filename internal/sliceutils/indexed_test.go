// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package sliceutils

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIndexedSlice(t *testing.T) {
	s := NewIndexedSlice([]float64{0.3, 0.1, 0.5, 0.2})
	sort.Stable(sort.Reverse(s))
	assert.Equal(t, []float64{0.5, 0.3, 0.2, 0.1}, s.Slice)
	assert.Equal(t, []int{2, 0, 3, 1}, s.Indices)
}
