// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package condition

import (
	"path/filepath"
	"testing"

	"github.com/nlpodyssey/captionflow/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEncoder(t *testing.T) *EventEncoder {
	t.Helper()
	enc, err := NewEventEncoderFromWeights(3, 2, []float32{
		1, 2,
		3, 4,
		5, 6,
	})
	require.NoError(t, err)
	return enc
}

func TestEventEncoderEncode(t *testing.T) {
	enc := newTestEncoder(t)
	events, err := tensor.FromRows([][]float32{
		{1, 0, 1},
		{0, 2, 0},
	})
	require.NoError(t, err)

	out, err := enc.Encode(events)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, out.Shape())
	assert.InDeltaSlice(t, []float32{3, 4, 3, 4}, out.Data(), 1e-6)
}

func TestEventEncoderZeroLabelsAreUniform(t *testing.T) {
	enc := newTestEncoder(t)
	events := tensor.New[float32](1, 3)

	out, err := enc.Encode(events)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{3, 4}, out.Data(), 1e-6)
}

func TestEventEncoderRejectsNegativeLabels(t *testing.T) {
	enc := newTestEncoder(t)
	events, err := tensor.FromRows([][]float32{{1, -1, 1}})
	require.NoError(t, err)

	_, err = enc.Encode(events)
	assert.ErrorIs(t, err, ErrInvalidLabels)
}

func TestEventEncoderShapeMismatch(t *testing.T) {
	enc := newTestEncoder(t)
	_, err := enc.Encode(tensor.New[float32](2, 4))
	assert.ErrorIs(t, err, tensor.ErrShape)
	_, err = enc.Encode(tensor.New[float32](3))
	assert.ErrorIs(t, err, tensor.ErrShape)
}

func TestEventEncoderDoesNotModifyInput(t *testing.T) {
	enc := newTestEncoder(t)
	events, err := tensor.FromRows([][]float32{{2, 2, 0}})
	require.NoError(t, err)
	_, err = enc.Encode(events)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 2, 0}, events.Data())
}

func TestNewEventEncoderFromWeightsValidation(t *testing.T) {
	_, err := NewEventEncoderFromWeights(3, 2, make([]float32, 5))
	assert.ErrorIs(t, err, tensor.ErrShape)
	_, err = NewEventEncoderFromWeights(0, 2, nil)
	assert.Error(t, err)
}

func TestNewEventEncoderIsSeeded(t *testing.T) {
	a := NewEventEncoder(DefaultNumLabels, 8, 42)
	b := NewEventEncoder(DefaultNumLabels, 8, 42)
	assert.Equal(t, a.Weights(), b.Weights())
	assert.Len(t, a.Weights(), DefaultNumLabels*8)
	assert.NotEqual(t, a.Weights(), NewEventEncoder(DefaultNumLabels, 8, 43).Weights())

	var mean float64
	for _, w := range a.Weights() {
		mean += float64(w)
	}
	assert.InDelta(t, 0, mean/float64(DefaultNumLabels*8), 0.1)
}

func TestDumpAndLoad(t *testing.T) {
	enc := newTestEncoder(t)
	filename := filepath.Join(t.TempDir(), "labels.gob")
	require.NoError(t, Dump(enc, filename))

	loaded, err := Load(filename)
	require.NoError(t, err)
	assert.Equal(t, enc.NumLabels, loaded.NumLabels)
	assert.Equal(t, enc.EmbDim, loaded.EmbDim)
	assert.Equal(t, enc.Weights(), loaded.Weights())
}

func TestKeywordPassthrough(t *testing.T) {
	keywords, err := tensor.FromRows([][]float32{{0.1, 0.9}})
	require.NoError(t, err)

	var c Conditioner = KeywordPassthrough{}
	assert.Equal(t, Keywords, c.Signal())
	out, err := c.Condition(keywords)
	require.NoError(t, err)
	assert.Same(t, keywords, out)
}
