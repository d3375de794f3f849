// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package toy provides small deterministic encoder and decoder modules of
// every family, used for testing the generation protocol and for dry runs.
package toy

import (
	"context"
	"fmt"

	"github.com/nlpodyssey/captionflow/model"
	"github.com/nlpodyssey/captionflow/tensor"
	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/initializers"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/rand"
	"github.com/nlpodyssey/spago/nn"
)

// Config describes the sizes of a toy decoder.
type Config struct {
	VocabSize int
	EmbDim    int
	AttnDim   int
	// KeywordDim is the size of the keyword probability vectors, if any.
	KeywordDim int
	Seed       int64
}

// Decoder is a single-layer decoder: every position is scored from its word
// embedding, the mean of the valid attention source and the conditioning
// tensor, projected to the vocabulary.
type Decoder struct {
	nn.Module
	WordEmb    *nn.Param // [VocabSize, EmbDim]
	AttnProj   *nn.Param // [AttnDim, EmbDim]
	KeywordPrj *nn.Param // [KeywordDim, EmbDim]
	Output     *nn.Param // [EmbDim, VocabSize]

	config Config
	family model.DecoderFamily

	// Calls counts the Forward calls.
	Calls int
	// last is the most recent input. Older inputs are not retained.
	last *model.DecoderInput
}

var _ model.Decoder = &Decoder{}

// NewDecoder returns a randomly initialized toy decoder of the given family.
func NewDecoder(family model.DecoderFamily, c Config) *Decoder {
	rnd := rand.NewLockedRand(uint64(c.Seed))
	d := &Decoder{
		WordEmb:  newParam(rnd, c.VocabSize, c.EmbDim),
		AttnProj: newParam(rnd, c.AttnDim, c.EmbDim),
		Output:   newParam(rnd, c.EmbDim, c.VocabSize),
		config:   c,
		family:   family,
	}
	if c.KeywordDim > 0 {
		d.KeywordPrj = newParam(rnd, c.KeywordDim, c.EmbDim)
	}
	return d
}

func newParam(rnd *rand.LockedRand, rows, cols int) *nn.Param {
	m := mat.NewDense[float32](mat.WithShape(rows, cols))
	initializers.Normal(m, 0, 1, rnd)
	return nn.NewParam(m)
}

// Family implements model.Decoder.
func (d *Decoder) Family() model.DecoderFamily { return d.family }

// EmbeddingDim implements model.Decoder.
func (d *Decoder) EmbeddingDim() int { return d.config.EmbDim }

// LastInput returns the most recent input, or nil.
func (d *Decoder) LastInput() *model.DecoderInput {
	return d.last
}

// Forward implements model.Decoder.
func (d *Decoder) Forward(in *model.DecoderInput) (*model.DecoderOutput, error) {
	d.Calls++
	d.last = in

	if in.Word.Rank() != 2 {
		return nil, fmt.Errorf("%w: word must be [N T], got %v", tensor.ErrShape, in.Word.Shape())
	}
	n, steps := in.Word.Dim(0), in.Word.Dim(1)
	if in.AttnEmbs.Rank() != 3 || in.AttnEmbs.Dim(0) != n || in.AttnEmbs.Dim(2) != d.config.AttnDim {
		return nil, fmt.Errorf("%w: attn_embs must be [%d L %d], got %v",
			tensor.ErrShape, n, d.config.AttnDim, in.AttnEmbs.Shape())
	}

	ctx, err := d.attentionContext(in)
	if err != nil {
		return nil, err
	}
	cond, err := d.conditioning(in, n)
	if err != nil {
		return nil, err
	}

	emb := mat.Data[float32](d.WordEmb.Value())
	e := d.config.EmbDim
	hidden := make([]float32, 0, n*steps*e)
	for i := 0; i < n; i++ {
		for t := 0; t < steps; t++ {
			w := in.Word.At(i, t)
			if w < 0 || w >= d.config.VocabSize {
				return nil, fmt.Errorf("%w: token %d outside the vocabulary", tensor.ErrShape, w)
			}
			for k := 0; k < e; k++ {
				hidden = append(hidden, emb[w*e+k]+ctx[i*e+k]+cond[i*e+k])
			}
		}
	}

	logits := make([]float32, n*steps*d.config.VocabSize)
	if len(hidden) > 0 {
		h := mat.NewDense[float32](mat.WithShape(n*steps, e), mat.WithBacking(hidden))
		copy(logits, mat.Data[float32](ag.Mul(h, d.Output).Value()))
	}
	out, err := tensor.FromFlat(logits, n, steps, d.config.VocabSize)
	if err != nil {
		return nil, err
	}
	return &model.DecoderOutput{Logits: out}, nil
}

// attentionContext returns the projected mean of the valid attention
// positions of each sample, [N * EmbDim] row-major.
func (d *Decoder) attentionContext(in *model.DecoderInput) ([]float32, error) {
	n, l, dim := in.AttnEmbs.Dim(0), in.AttnEmbs.Dim(1), in.AttnEmbs.Dim(2)
	means := make([]float32, n*dim)
	for i := 0; i < n; i++ {
		valid := 0
		for j := 0; j < l; j++ {
			if !d.isValid(in, i, j, l) {
				continue
			}
			valid++
			for k := 0; k < dim; k++ {
				means[i*dim+k] += in.AttnEmbs.At(i, j, k)
			}
		}
		if valid > 0 {
			for k := 0; k < dim; k++ {
				means[i*dim+k] /= float32(valid)
			}
		}
	}
	if n == 0 {
		return nil, nil
	}
	x := mat.NewDense[float32](mat.WithShape(n, dim), mat.WithBacking(means))
	return mat.Data[float32](ag.Mul(x, d.AttnProj).Value()), nil
}

func (d *Decoder) isValid(in *model.DecoderInput, i, j, l int) bool {
	switch {
	case in.AttnEmbMask != nil:
		return in.AttnEmbMask.At(i, j)
	case in.AttnEmbLens != nil:
		return j < in.AttnEmbLens.At(i)
	default:
		return j < l
	}
}

// conditioning returns the conditioning contribution of each sample,
// [N * EmbDim] row-major, zero when no conditioning tensor is given.
func (d *Decoder) conditioning(in *model.DecoderInput, n int) ([]float32, error) {
	e := d.config.EmbDim
	switch {
	case in.Events != nil:
		if in.Events.Rank() != 2 || in.Events.Dim(0) != n || in.Events.Dim(1) != e {
			return nil, fmt.Errorf("%w: events must be [%d %d], got %v", tensor.ErrShape, n, e, in.Events.Shape())
		}
		return in.Events.Data(), nil
	case in.Keywords != nil:
		if d.KeywordPrj == nil {
			return nil, fmt.Errorf("toy decoder configured without keywords")
		}
		if in.Keywords.Rank() != 2 || in.Keywords.Dim(0) != n || in.Keywords.Dim(1) != d.config.KeywordDim {
			return nil, fmt.Errorf("%w: keywords must be [%d %d], got %v",
				tensor.ErrShape, n, d.config.KeywordDim, in.Keywords.Shape())
		}
		if n == 0 {
			return nil, nil
		}
		x := mat.NewDense[float32](mat.WithShape(n, d.config.KeywordDim), mat.WithBacking(in.Keywords.Data()))
		return mat.Data[float32](ag.Mul(x, d.KeywordPrj).Value()), nil
	default:
		return make([]float32, n*e), nil
	}
}

// Encoder is an identity encoder: the features are the attention source.
type Encoder struct {
	family model.EncoderFamily
}

var _ model.Encoder = Encoder{}

// NewEncoder returns an identity encoder reporting the given family.
func NewEncoder(family model.EncoderFamily) Encoder {
	return Encoder{family: family}
}

// Family implements model.Encoder.
func (e Encoder) Family() model.EncoderFamily { return e.family }

// Encode implements model.Encoder. It returns the features together with
// their lengths and the equivalent validity mask.
func (e Encoder) Encode(_ context.Context, feats *tensor.Dense[float32], lens *tensor.Dense[int]) (*model.EncoderOutput, error) {
	if feats.Rank() != 3 {
		return nil, fmt.Errorf("%w: features must be [N L F], got %v", tensor.ErrShape, feats.Shape())
	}
	n, l := feats.Dim(0), feats.Dim(1)
	if lens.Rank() != 1 || lens.Dim(0) != n {
		return nil, fmt.Errorf("%w: lengths must be [%d], got %v", tensor.ErrShape, n, lens.Shape())
	}
	mask := tensor.New[bool](n, l)
	for i := 0; i < n; i++ {
		for j := 0; j < l && j < lens.At(i); j++ {
			mask.Set(true, i, j)
		}
	}
	return &model.EncoderOutput{
		AttnEmbs:    feats,
		AttnEmbLens: lens,
		AttnEmbMask: mask,
	}, nil
}
