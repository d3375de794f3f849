// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nlpodyssey/captionflow/condition"
	"github.com/nlpodyssey/captionflow/internal/toy"
	"github.com/nlpodyssey/captionflow/model"
	"github.com/nlpodyssey/captionflow/tensor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const eventConfig = `
variant: event_cond_transformer
vocab_size: 10
emb_dim: 4
attn_dim: 3
num_labels: 5
seed: 42
decoding:
  max_len: 7
  beam_size: 2
  length_penalty: 0.6
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(eventConfig))
	require.NoError(t, err)
	assert.Equal(t, EventCondTransformer, c.Variant)
	assert.Equal(t, model.Vocab{PadIdx: 0, StartIdx: 1, EndIdx: 2}, c.Vocab())
	assert.Equal(t, 5, c.NumLabels)
	assert.Equal(t, 7, c.Decoding.MaxLen)
	assert.Equal(t, 2, c.Decoding.BeamSize)
	assert.Equal(t, 0.6, c.Decoding.LengthPenalty)
	assert.Equal(t, 1.0, c.Decoding.Temp)
	assert.Equal(t, 1.0, c.Decoding.TopP)
	assert.Equal(t, 2, c.Decoding.EndTokenID)
	assert.Equal(t, model.EventTransformerDecoder, c.DecoderFamily())
	assert.Equal(t, model.TransformerEncoder, c.EncoderFamily())
}

func TestValidate(t *testing.T) {
	for name, yml := range map[string]string{
		"unknown variant":    "variant: lstm\nvocab_size: 10\nemb_dim: 4\nattn_dim: 3",
		"missing sizes":      "variant: transformer",
		"index out of vocab": "vocab_size: 10\nemb_dim: 4\nattn_dim: 3\nend_idx: 10",
		"duplicate indices":  "vocab_size: 10\nemb_dim: 4\nattn_dim: 3\nstart_idx: 0",
		"keywords size":      "variant: keyword_cond_transformer\nvocab_size: 10\nemb_dim: 4\nattn_dim: 3",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(yml))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestNewModel(t *testing.T) {
	c, err := Parse([]byte(eventConfig))
	require.NoError(t, err)
	dec := toy.NewDecoder(c.DecoderFamily(), toy.Config{VocabSize: c.VocabSize, EmbDim: c.EmbDim, AttnDim: c.AttnDim})

	m, err := c.NewModel(toy.NewEncoder(c.EncoderFamily()), dec)
	require.NoError(t, err)
	assert.Equal(t, model.EventCondTransformerCapabilities.Name, m.Capabilities().Name)
}

func TestNewModelLoadsLabelEmbedding(t *testing.T) {
	c, err := Parse([]byte(eventConfig))
	require.NoError(t, err)
	dec := toy.NewDecoder(c.DecoderFamily(), toy.Config{VocabSize: c.VocabSize, EmbDim: c.EmbDim, AttnDim: c.AttnDim})

	c.LabelEmbedding = filepath.Join(t.TempDir(), "labels.gob")
	require.NoError(t, condition.Dump(condition.NewEventEncoder(3, c.EmbDim, 1), c.LabelEmbedding))
	_, err = c.NewModel(toy.NewEncoder(c.EncoderFamily()), dec)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	require.NoError(t, condition.Dump(condition.NewEventEncoder(c.NumLabels, c.EmbDim, 1), c.LabelEmbedding))
	_, err = c.NewModel(toy.NewEncoder(c.EncoderFamily()), dec)
	assert.NoError(t, err)
}

func TestParseBatch(t *testing.T) {
	b, err := ParseBatch([]byte(`
caps: [[1, 4, 2], [1, 2, 0]]
attn_embs:
  - [[0.1, 0.2], [0.3, 0.4], [0.5, 0.6]]
  - [[1.0, 1.0], [0.0, 0.0], [0.0, 0.0]]
attn_emb_lens: [3, 1]
event_labels: [[0, 3], []]
keywords: [[0.5, 0.5], [1.0, 0.0]]
`), 5)
	require.NoError(t, err)
	assert.Equal(t, 2, b.Size())
	assert.Equal(t, []int{2, 3, 2}, b.AttnEmbs.Shape())
	assert.Equal(t, []int{3, 1}, b.AttnEmbLens.Data())
	assert.Equal(t, []bool{true, true, true, true, false, false}, b.AttnEmbMask.Data())
	assert.Equal(t, []float32{1, 0, 0, 1, 0, 0, 0, 0, 0, 0}, b.Events.Data())
	assert.Equal(t, []int{2, 2}, b.Keywords.Shape())
	assert.Equal(t, []int{1, 4, 2, 1, 2, 0}, b.Caps.Data())
}

func TestParseBatchDerivesLengthsFromMask(t *testing.T) {
	b, err := ParseBatch([]byte(`
attn_embs: [[[1], [2]], [[3], [4]]]
attn_emb_mask: [[true, false], [true, true]]
`), 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, b.AttnEmbLens.Data())
	assert.Nil(t, b.Caps)
	assert.Nil(t, b.Events)
}

func TestParseBatchDefaultsToFullLength(t *testing.T) {
	b, err := ParseBatch([]byte(`attn_embs: [[[1], [2]]]`), 0)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, b.AttnEmbLens.Data())
	assert.Equal(t, []bool{true, true}, b.AttnEmbMask.Data())
}

func TestParseBatchErrors(t *testing.T) {
	for name, yml := range map[string]string{
		"ragged attn":     "attn_embs: [[[1], [2]], [[3]]]",
		"lens rows":       "attn_embs: [[[1]]]\nattn_emb_lens: [1, 1]",
		"caps rows":       "attn_embs: [[[1]]]\ncaps: [[1], [2]]",
		"mask columns":    "attn_embs: [[[1]]]\nattn_emb_mask: [[true, true]]",
		"label range":     "attn_embs: [[[1]]]\nevent_labels: [[9]]",
		"empty attention": "caps: [[1]]",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseBatch([]byte(yml), 5)
			assert.Error(t, err)
		})
	}
	_, err := ParseBatch([]byte("attn_embs: [[[1]]]\nkeywords: [[1], [1]]"), 5)
	assert.ErrorIs(t, err, tensor.ErrShape)
}

func TestLoadBatch(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("attn_embs: [[[1, 2]]]\n"), 0o644))
	b, err := LoadBatch(filename, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 2}, b.AttnEmbs.Shape())
}

type fakeCaptionEncoder struct{}

func (fakeCaptionEncoder) PadCaptions(texts []string) ([][]int, error) {
	rows := make([][]int, len(texts))
	for i, text := range texts {
		rows[i] = []int{1, len(text), 2}
	}
	return rows, nil
}

func TestTokenizeCaptions(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "batch.yaml")
	require.NoError(t, os.WriteFile(filename, []byte("attn_embs: [[[1]], [[2]]]\ncaption_texts: [rain, wind]\n"), 0o644))
	f, err := LoadBatchFile(filename)
	require.NoError(t, err)
	require.NoError(t, f.TokenizeCaptions(fakeCaptionEncoder{}))

	b, err := f.Batch(0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 4, 2, 1, 4, 2}, b.Caps.Data())

	f.Caps = [][]int{{1, 2}, {1, 2}}
	require.NoError(t, f.TokenizeCaptions(fakeCaptionEncoder{}))
	assert.Equal(t, [][]int{{1, 2}, {1, 2}}, f.Caps)
}
