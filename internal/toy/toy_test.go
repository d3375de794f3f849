// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package toy

import (
	"testing"

	"github.com/nlpodyssey/captionflow/model"
	"github.com/nlpodyssey/captionflow/tensor"
	"github.com/nlpodyssey/spago/mat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testConfig = Config{VocabSize: 5, EmbDim: 3, AttnDim: 2, Seed: 11}

func newInput(t *testing.T, word int) *model.DecoderInput {
	t.Helper()
	w, err := tensor.FromRows([][]int{{1, word}})
	require.NoError(t, err)
	return &model.DecoderInput{
		Word:     w,
		AttnEmbs: tensor.Full[float32](0.5, 1, 2, 2),
	}
}

func TestForwardKeepsOnlyLastInput(t *testing.T) {
	d := NewDecoder(model.TransformerDecoder, testConfig)
	assert.Nil(t, d.LastInput())

	var last *model.DecoderInput
	for i := 0; i < 50; i++ {
		last = newInput(t, i%testConfig.VocabSize)
		out, err := d.Forward(last)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, testConfig.VocabSize}, out.Logits.Shape())
	}
	assert.Equal(t, 50, d.Calls)
	assert.Same(t, last, d.LastInput())
}

func TestNewDecoderIsSeeded(t *testing.T) {
	a := NewDecoder(model.TransformerDecoder, testConfig)
	b := NewDecoder(model.TransformerDecoder, testConfig)
	assert.Equal(t, mat.Data[float32](a.WordEmb.Value()), mat.Data[float32](b.WordEmb.Value()))
	assert.Equal(t, mat.Data[float32](a.Output.Value()), mat.Data[float32](b.Output.Value()))

	c := testConfig
	c.Seed++
	other := NewDecoder(model.TransformerDecoder, c)
	assert.NotEqual(t, mat.Data[float32](a.WordEmb.Value()), mat.Data[float32](other.WordEmb.Value()))
}
