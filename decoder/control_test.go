// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"math"
	"testing"

	"github.com/nlpodyssey/spago/mat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputDiversityControlValidation(t *testing.T) {
	_, err := OutputDiversityControl(1.5, 0, 1)
	assert.Error(t, err)
	_, err = OutputDiversityControl(1, -1, 1)
	assert.Error(t, err)
	_, err = OutputDiversityControl(1, 0, 1.1)
	assert.Error(t, err)

	fn, err := OutputDiversityControl(1, 0, 1)
	require.NoError(t, err)
	out, err := fn(newVector([]float64{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, mat.Data[float64](out))
}

func TestTemperatureFunc(t *testing.T) {
	in := newVector([]float64{1, -2, 4})
	out, err := TemperatureFunc(0.5)(in)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, -4, 8}, mat.Data[float64](out))
	assert.Equal(t, []float64{1, -2, 4}, mat.Data[float64](in))
}

func TestTopKFunc(t *testing.T) {
	out, err := TopKFunc(2, math.Inf(-1))(newVector([]float64{0.1, 3, 2, -1}))
	require.NoError(t, err)
	assert.Equal(t, []float64{math.Inf(-1), 3, 2, math.Inf(-1)}, mat.Data[float64](out))

	out, err = TopKFunc(10, math.Inf(-1))(newVector([]float64{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, mat.Data[float64](out))
}

func TestTopPFunc(t *testing.T) {
	// softmax of log probabilities gives back [0.5 0.3 0.15 0.05]
	scores := []float64{math.Log(0.15), math.Log(0.5), math.Log(0.05), math.Log(0.3)}
	out, err := TopPFunc(0.7, math.Inf(-1), 1)(newVector(scores))
	require.NoError(t, err)
	data := mat.Data[float64](out)
	assert.InDelta(t, math.Log(0.5), data[1], 1e-9)
	assert.InDelta(t, math.Log(0.3), data[3], 1e-9)
	assert.True(t, math.IsInf(data[0], -1))
	assert.True(t, math.IsInf(data[2], -1))
}

func TestTopPFuncMinSize(t *testing.T) {
	scores := []float64{math.Log(0.9), math.Log(0.05), math.Log(0.05)}
	out, err := TopPFunc(0.1, math.Inf(-1), 2)(newVector(scores))
	require.NoError(t, err)
	data := mat.Data[float64](out)
	assert.False(t, math.IsInf(data[0], -1))
	assert.False(t, math.IsInf(data[1], -1))
	assert.True(t, math.IsInf(data[2], -1))
}

func TestGreedyDecoding(t *testing.T) {
	id, p, err := GreedyDecoding()(newVector([]float64{math.Log(0.2), math.Log(0.7), math.Log(0.1)}))
	require.NoError(t, err)
	assert.Equal(t, 1, id)
	assert.InDelta(t, 0.7, p, 1e-9)
}

func TestMultinomialSamplingSkipsFilteredTokens(t *testing.T) {
	sample := MultinomialSampling()
	for i := 0; i < 50; i++ {
		id, p, err := sample(newVector([]float64{math.Inf(-1), 0, math.Inf(-1), 0}))
		require.NoError(t, err)
		assert.Contains(t, []int{1, 3}, id)
		assert.InDelta(t, 0.5, p, 1e-9)
	}
}

func TestMultinomialTooManySamples(t *testing.T) {
	_, err := multinomial(newVector([]float64{1}), 2)
	assert.Error(t, err)
}

func TestLogSoftmax(t *testing.T) {
	out := logSoftmax([]float64{math.Log(0.25), math.Log(0.75), math.Inf(-1)})
	assert.InDelta(t, math.Log(0.25), out[0], 1e-9)
	assert.InDelta(t, math.Log(0.75), out[1], 1e-9)
	assert.True(t, math.IsInf(out[2], -1))
}
