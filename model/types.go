// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"github.com/nlpodyssey/captionflow/tensor"
)

// Mode is the generation mode of a rollout.
type Mode int

const (
	// Inference generates from the model's own predictions only.
	Inference Mode = iota
	// Train enables scheduled sampling against the ground truth captions.
	Train
)

// String returns the name of the mode.
func (m Mode) String() string {
	if m == Train {
		return "train"
	}
	return "inference"
}

// Batch holds the per-sample inputs of N captioning samples.
type Batch struct {
	// Caps are the padded ground truth token ids [N, T], including both the
	// start and the end token. Only read in training.
	Caps *tensor.Dense[int]
	// AttnEmbs is the attention source produced by the encoder [N, L, D].
	AttnEmbs *tensor.Dense[float32]
	// AttnEmbLens holds the valid length of each attention source [N].
	// Used by variants with length-based masking.
	AttnEmbLens *tensor.Dense[int]
	// AttnEmbMask marks the valid attention positions [N, L].
	// Used by variants with explicit masks.
	AttnEmbMask *tensor.Dense[bool]
	// Events are multi-hot sound event labels [N, C].
	Events *tensor.Dense[float32]
	// Keywords are keyword probabilities [N, K].
	Keywords *tensor.Dense[float32]
}

// Size returns the number of samples N.
func (b *Batch) Size() int {
	return b.AttnEmbs.Dim(0)
}

// StepContext describes a single generation step.
type StepContext struct {
	*Batch
	// T is the current timestep.
	T int
	// Mode is the generation mode.
	Mode Mode
	// SSRatio is the probability of feeding the ground truth prefix
	// instead of the generated one, in training mode.
	SSRatio float64
	// SampleIdx is the sample being decoded by beam search.
	SampleIdx int
	// BeamSize is the beam width used by beam search.
	BeamSize int
}

// RunningOutput carries the tokens generated so far by a batch rollout.
type RunningOutput struct {
	// Seqs holds the generated token ids [N, t'] with t' >= t.
	Seqs *tensor.Dense[int]
}

// BeamOutput is the beam-search state of a single sample.
//
// The attention source, its validity information and the conditioning
// tensor are replicated to the beam width at t = 0 and reused unmodified
// at every later step.
type BeamOutput struct {
	// Seqs holds the tokens generated so far by each beam [B, t].
	Seqs *tensor.Dense[int]

	AttnEmbs    *tensor.Dense[float32]
	AttnEmbLens *tensor.Dense[int]
	AttnEmbMask *tensor.Dense[bool]
	Events      *tensor.Dense[float32]
	Keywords    *tensor.Dense[float32]

	expanded bool
}

// Expanded reports whether the first-step beam expansion already happened.
func (o *BeamOutput) Expanded() bool {
	return o.expanded
}

// DecoderInput is the record handed to the decoder at each call.
// Fields not used by a variant are nil.
type DecoderInput struct {
	// Word holds the input token ids [N, T].
	Word        *tensor.Dense[int]
	AttnEmbs    *tensor.Dense[float32]
	AttnEmbLens *tensor.Dense[int]
	// CapsPaddingMask marks the positions of Word equal to the pad id.
	CapsPaddingMask *tensor.Dense[bool]
	AttnEmbMask     *tensor.Dense[bool]
	// Events is the encoded event conditioning [N, E].
	Events *tensor.Dense[float32]
	// Keywords are the keyword probabilities [N, K].
	Keywords *tensor.Dense[float32]
}

// DecoderOutput is the record returned by the decoder.
type DecoderOutput struct {
	// Logits are the unnormalized token scores [N, T, V].
	Logits *tensor.Dense[float32]
}
