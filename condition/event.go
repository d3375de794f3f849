// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package condition

import (
	"fmt"

	"github.com/nlpodyssey/captionflow/tensor"
	"github.com/nlpodyssey/spago/ag"
	"github.com/nlpodyssey/spago/initializers"
	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/rand"
	"github.com/nlpodyssey/spago/nn"
	"github.com/rs/zerolog/log"
)

// DefaultNumLabels is the number of AudioSet sound event classes.
const DefaultNumLabels = 527

// EventEncoder encodes sound event labels as a mixture of learned label embeddings.
type EventEncoder struct {
	nn.Module
	// LabelEmbedding is the [NumLabels, EmbDim] label embedding table.
	LabelEmbedding *nn.Param
	NumLabels      int
	EmbDim         int
}

var _ Conditioner = &EventEncoder{}

// NewEventEncoder returns an EventEncoder whose table is drawn from a standard
// normal distribution using the given seed.
func NewEventEncoder(numLabels, embDim int, seed int64) *EventEncoder {
	m := mat.NewDense[float32](mat.WithShape(numLabels, embDim))
	initializers.Normal(m, 0, 1, rand.NewLockedRand(uint64(seed)))
	return &EventEncoder{
		LabelEmbedding: nn.NewParam(m),
		NumLabels:      numLabels,
		EmbDim:         embDim,
	}
}

// NewEventEncoderFromWeights returns an EventEncoder using the given
// row-major [numLabels, embDim] table.
func NewEventEncoderFromWeights(numLabels, embDim int, weights []float32) (*EventEncoder, error) {
	if numLabels <= 0 || embDim <= 0 {
		return nil, fmt.Errorf("invalid label embedding size %dx%d", numLabels, embDim)
	}
	if len(weights) != numLabels*embDim {
		return nil, fmt.Errorf("%w: expected %d label embedding weights, actual %d",
			tensor.ErrShape, numLabels*embDim, len(weights))
	}
	return &EventEncoder{
		LabelEmbedding: nn.NewParam(mat.NewDense[float32](mat.WithShape(numLabels, embDim), mat.WithBacking(weights))),
		NumLabels:      numLabels,
		EmbDim:         embDim,
	}, nil
}

// Signal returns Events.
func (e *EventEncoder) Signal() Signal { return Events }

// Condition implements Conditioner.
func (e *EventEncoder) Condition(x *tensor.Dense[float32]) (*tensor.Dense[float32], error) {
	return e.Encode(x)
}

// Encode normalizes every multi-hot row of events ([N, NumLabels]) into a
// distribution over labels and projects it through the label embedding table,
// returning a [N, EmbDim] tensor.
//
// A row summing to zero is read as the uniform distribution, so a sample
// without annotated events gets the mean label embedding.
func (e *EventEncoder) Encode(events *tensor.Dense[float32]) (*tensor.Dense[float32], error) {
	if events.Rank() != 2 || events.Dim(1) != e.NumLabels {
		return nil, fmt.Errorf("%w: expected events of shape [N %d], actual %v",
			tensor.ErrShape, e.NumLabels, events.Shape())
	}
	n := events.Dim(0)
	if n == 0 {
		return tensor.New[float32](0, e.EmbDim), nil
	}

	probs, err := e.normalize(events)
	if err != nil {
		return nil, err
	}
	x := mat.NewDense[float32](mat.WithShape(n, e.NumLabels), mat.WithBacking(probs))
	y := ag.Mul(x, e.LabelEmbedding)

	out := make([]float32, n*e.EmbDim)
	copy(out, mat.Data[float32](y.Value()))
	return tensor.FromFlat(out, n, e.EmbDim)
}

func (e *EventEncoder) normalize(events *tensor.Dense[float32]) ([]float32, error) {
	n := events.Dim(0)
	probs := make([]float32, 0, n*e.NumLabels)
	for i := 0; i < n; i++ {
		row := events.Row(i)
		var sum float32
		for j, v := range row {
			if v < 0 {
				return nil, fmt.Errorf("%w: sample %d has negative weight %g for label %d", ErrInvalidLabels, i, v, j)
			}
			sum += v
		}
		if sum == 0 {
			log.Trace().Msgf("sample %d has no event labels, using the uniform distribution", i)
			uniform := 1 / float32(e.NumLabels)
			for range row {
				probs = append(probs, uniform)
			}
			continue
		}
		for _, v := range row {
			probs = append(probs, v/sum)
		}
	}
	return probs, nil
}

// Weights returns a copy of the row-major label embedding table.
func (e *EventEncoder) Weights() []float32 {
	w := mat.Data[float32](e.LabelEmbedding.Value())
	out := make([]float32, len(w))
	copy(out, w)
	return out
}
