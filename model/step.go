// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package model

import (
	"errors"
	"fmt"

	"github.com/nlpodyssey/captionflow/condition"
	"github.com/nlpodyssey/captionflow/tensor"
	"github.com/rs/zerolog/log"
)

// ErrMissingInput is returned when a batch lacks a tensor the variant needs.
var ErrMissingInput = errors.New("missing model input")

// SeqForward runs the decoder once over the whole teacher-forced caption.
// The last token of every caption is dropped from the input, so the decoder
// sees as many positions as it has to predict.
func (m *Model) SeqForward(b *Batch) (*DecoderOutput, error) {
	if b.Caps == nil {
		return nil, fmt.Errorf("%w: caps", ErrMissingInput)
	}
	word, err := tensor.SliceCols(b.Caps, 0, -1)
	if err != nil {
		return nil, fmt.Errorf("failed to drop the last caption token: %w", err)
	}
	in, err := m.newDecoderInput(b.AttnEmbs, b.AttnEmbLens, b.AttnEmbMask)
	if err != nil {
		return nil, err
	}
	m.setWord(in, word)

	cond, err := m.condition(b)
	if err != nil {
		return nil, err
	}
	m.setCondition(in, cond)

	log.Trace().Msgf("%s: teacher-forced forward over %v", m.caps.Name, word)
	return m.Decoder.Forward(in)
}

// PrepareDecoderInput assembles the decoder input of step t of a batch rollout.
//
// In training mode, with probability step.SSRatio the ground truth prefix
// caps[:, :t+1] is used; the draw is repeated at every call. Otherwise the
// input is the start token followed by the first t generated tokens of
// running. The ground truth is never read outside training mode.
func (m *Model) PrepareDecoderInput(step *StepContext, running *RunningOutput) (*DecoderInput, error) {
	in, err := m.newDecoderInput(step.AttnEmbs, step.AttnEmbLens, step.AttnEmbMask)
	if err != nil {
		return nil, err
	}

	var word *tensor.Dense[int]
	if step.Mode == Train && m.uniform() < step.SSRatio {
		if step.Caps == nil {
			return nil, fmt.Errorf("%w: caps are required for scheduled sampling", ErrMissingInput)
		}
		word, err = tensor.SliceCols(step.Caps, 0, step.T+1)
	} else {
		var seqs *tensor.Dense[int]
		if running != nil {
			seqs = running.Seqs
		}
		word, err = m.startPrefixed(step.Size(), seqs, step.T)
	}
	if err != nil {
		return nil, err
	}
	m.setWord(in, word)

	cond, err := m.condition(step.Batch)
	if err != nil {
		return nil, err
	}
	m.setCondition(in, cond)
	return in, nil
}

// PrepareBeamSearchDecoderInput assembles the decoder input of step t of the
// beam search over sample step.SampleIdx.
//
// At t = 0 the sample's attention source, validity information and
// conditioning tensor are replicated to step.BeamSize beams and cached in
// beam. Later steps reuse the cached tensors as they are.
func (m *Model) PrepareBeamSearchDecoderInput(step *StepContext, beam *BeamOutput) (*DecoderInput, error) {
	if step.T == 0 {
		if err := m.expandBeam(step, beam); err != nil {
			return nil, err
		}
	} else if !beam.expanded {
		return nil, fmt.Errorf("%w: sample %d at step %d", ErrBeamNotExpanded, step.SampleIdx, step.T)
	}

	in, err := m.newDecoderInput(beam.AttnEmbs, beam.AttnEmbLens, beam.AttnEmbMask)
	if err != nil {
		return nil, err
	}
	switch m.caps.Signal {
	case condition.Events:
		in.Events = beam.Events
	case condition.Keywords:
		in.Keywords = beam.Keywords
	}

	word, err := m.startPrefixed(step.BeamSize, beam.Seqs, step.T)
	if err != nil {
		return nil, err
	}
	m.setWord(in, word)
	return in, nil
}

// expandBeam replicates the tensors of one sample to the beam width. The
// beam state is only updated when every replication succeeded.
func (m *Model) expandBeam(step *StepContext, beam *BeamOutput) error {
	i, size := step.SampleIdx, step.BeamSize
	log.Trace().Msgf("%s: expanding sample %d to %d beams", m.caps.Name, i, size)

	expanded := BeamOutput{Seqs: beam.Seqs, expanded: true}

	var err error
	if step.AttnEmbs == nil {
		return fmt.Errorf("%w: attn_embs", ErrMissingInput)
	}
	if expanded.AttnEmbs, err = repeatSample(step.AttnEmbs, i, size); err != nil {
		return fmt.Errorf("failed to expand attn_embs: %w", err)
	}

	switch m.caps.MaskStyle {
	case LengthMask:
		if step.AttnEmbLens == nil {
			return fmt.Errorf("%w: attn_emb_lens", ErrMissingInput)
		}
		if expanded.AttnEmbLens, err = repeatSample(step.AttnEmbLens, i, size); err != nil {
			return fmt.Errorf("failed to expand attn_emb_lens: %w", err)
		}
	case ExplicitMask:
		if step.AttnEmbMask == nil {
			return fmt.Errorf("%w: attn_emb_mask", ErrMissingInput)
		}
		if expanded.AttnEmbMask, err = repeatSample(step.AttnEmbMask, i, size); err != nil {
			return fmt.Errorf("failed to expand attn_emb_mask: %w", err)
		}
	}

	if m.conditioner != nil {
		cond, err := m.conditionSample(step.Batch, i)
		if err != nil {
			return err
		}
		rep, err := tensor.Repeat(cond, size)
		if err != nil {
			return fmt.Errorf("failed to expand %s: %w", m.caps.Signal, err)
		}
		switch m.caps.Signal {
		case condition.Events:
			expanded.Events = rep
		case condition.Keywords:
			expanded.Keywords = rep
		}
	}

	*beam = expanded
	return nil
}

func repeatSample[T tensor.Elem](x *tensor.Dense[T], i, beamSize int) (*tensor.Dense[T], error) {
	sample, err := x.Index(i)
	if err != nil {
		return nil, err
	}
	return tensor.Repeat(sample, beamSize)
}

// newDecoderInput returns a decoder input holding the attention source and
// the validity information required by the variant's mask style.
func (m *Model) newDecoderInput(
	attnEmbs *tensor.Dense[float32],
	lens *tensor.Dense[int],
	mask *tensor.Dense[bool],
) (*DecoderInput, error) {
	if attnEmbs == nil {
		return nil, fmt.Errorf("%w: attn_embs", ErrMissingInput)
	}
	in := &DecoderInput{AttnEmbs: attnEmbs}
	switch m.caps.MaskStyle {
	case LengthMask:
		if lens == nil {
			return nil, fmt.Errorf("%w: attn_emb_lens", ErrMissingInput)
		}
		in.AttnEmbLens = lens
	case ExplicitMask:
		if mask == nil {
			return nil, fmt.Errorf("%w: attn_emb_mask", ErrMissingInput)
		}
		in.AttnEmbMask = mask
	}
	return in, nil
}

// setWord sets the input words and, for length-masked variants, the
// padding mask marking the positions equal to the pad id.
func (m *Model) setWord(in *DecoderInput, word *tensor.Dense[int]) {
	in.Word = word
	if m.caps.MaskStyle == LengthMask {
		in.CapsPaddingMask = tensor.EqualScalar(word, m.Vocab.PadIdx)
	}
}

// startPrefixed returns the start token followed by the first t tokens of
// seqs, for n rows.
func (m *Model) startPrefixed(n int, seqs *tensor.Dense[int], t int) (*tensor.Dense[int], error) {
	start := tensor.Full(m.Vocab.StartIdx, n, 1)
	if t == 0 {
		return start, nil
	}
	if seqs == nil {
		return nil, fmt.Errorf("%w: no generated tokens at step %d", ErrMissingInput, t)
	}
	prev, err := tensor.SliceCols(seqs, 0, t)
	if err != nil {
		return nil, fmt.Errorf("failed to read generated tokens: %w", err)
	}
	return tensor.ConcatCols(start, prev)
}

// signalOf returns the batch tensor consumed by the variant's conditioner.
func (m *Model) signalOf(b *Batch) (*tensor.Dense[float32], error) {
	var x *tensor.Dense[float32]
	switch m.caps.Signal {
	case condition.Events:
		x = b.Events
	case condition.Keywords:
		x = b.Keywords
	}
	if x == nil {
		return nil, fmt.Errorf("%w: %s", ErrMissingInput, m.caps.Signal)
	}
	return x, nil
}

// condition computes the conditioning tensor of the whole batch, or nil for
// unconditioned variants.
func (m *Model) condition(b *Batch) (*tensor.Dense[float32], error) {
	if m.conditioner == nil {
		return nil, nil
	}
	x, err := m.signalOf(b)
	if err != nil {
		return nil, err
	}
	out, err := m.conditioner.Condition(x)
	if err != nil {
		return nil, fmt.Errorf("failed to compute %s conditioning: %w", m.caps.Signal, err)
	}
	return out, nil
}

// conditionSample computes the conditioning tensor of sample i only.
func (m *Model) conditionSample(b *Batch, i int) (*tensor.Dense[float32], error) {
	x, err := m.signalOf(b)
	if err != nil {
		return nil, err
	}
	sample, err := x.Index(i)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s of sample %d: %w", m.caps.Signal, i, err)
	}
	row, err := tensor.FromFlat(sample.Data(), append([]int{1}, sample.Shape()...)...)
	if err != nil {
		return nil, err
	}
	out, err := m.conditioner.Condition(row)
	if err != nil {
		return nil, fmt.Errorf("failed to compute %s conditioning: %w", m.caps.Signal, err)
	}
	return out.Index(0)
}

func (m *Model) setCondition(in *DecoderInput, cond *tensor.Dense[float32]) {
	switch m.caps.Signal {
	case condition.Events:
		in.Events = cond
	case condition.Keywords:
		in.Keywords = cond
	}
}
