// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package decoder drives the step-wise caption generation of a model:
// greedy or sampled rollouts over a whole batch, and per-sample beam search.
package decoder

import (
	"context"
	"fmt"
	"math"

	"github.com/nlpodyssey/captionflow/model"
	"github.com/nlpodyssey/captionflow/tensor"
	"github.com/rs/zerolog/log"
)

// Decoder generates captions with a model.
type Decoder struct {
	model              *model.Model
	applyOutputControl OutputDiversityControlFunc
	applySelection     OutputSelectionFunc
	opts               DecodingOptions
}

// DecodingOptions contains the options for the caption generation.
type DecodingOptions struct {
	// MaxLen is the maximum number of tokens to generate.
	MaxLen int `yaml:"max_len"`
	// MinLen is the minimum number of tokens to generate.
	MinLen int `yaml:"min_len"`
	// EndTokenID is the end-of-sequence token.
	EndTokenID int `yaml:"end_token_id"`
	// PadTokenID fills the rows that already ended, in batch rollouts.
	PadTokenID int `yaml:"pad_token_id"`
	// BeamSize is the number of hypotheses kept by beam search.
	BeamSize int `yaml:"beam_size"`
	// Temperature is the temperature used to control the randomness of the generated text.
	Temp float64 `yaml:"temperature"`
	// TopK is the number of tokens to consider when sampling the next token.
	TopK int `yaml:"top_k"`
	// TopP is the cumulative probability of the tokens to consider when sampling the next token.
	TopP float64 `yaml:"top_p"`
	// UseSampling uses sampling to generate the next token.
	UseSampling bool `yaml:"use_sampling"`
	// LengthPenalty is the exponent of the length normalization of the beam
	// search scores. Zero disables the normalization.
	LengthPenalty float64 `yaml:"length_penalty"`
	// Mode is the generation mode of batch rollouts.
	Mode model.Mode `yaml:"-"`
	// SSRatio is the scheduled sampling probability used in training mode.
	SSRatio float64 `yaml:"ss_ratio"`
}

// New returns a Decoder for the given model.
func New(m *model.Model, opts DecodingOptions) (*Decoder, error) {
	if opts.MaxLen <= 0 {
		return nil, fmt.Errorf("invalid max length %d. Must be > 0", opts.MaxLen)
	}
	if opts.MinLen < 0 || opts.MinLen > opts.MaxLen {
		return nil, fmt.Errorf("invalid min length %d. Must be between 0 and %d", opts.MinLen, opts.MaxLen)
	}
	if opts.BeamSize == 0 {
		opts.BeamSize = 1
	}
	if opts.BeamSize < 0 {
		return nil, fmt.Errorf("%w: %d", tensor.ErrInvalidBeamSize, opts.BeamSize)
	}
	if opts.SSRatio < 0 || opts.SSRatio > 1 {
		return nil, fmt.Errorf("invalid scheduled sampling ratio %f. Must be between 0 and 1", opts.SSRatio)
	}
	control, err := OutputDiversityControl(opts.Temp, opts.TopK, opts.TopP)
	if err != nil {
		return nil, err
	}
	return &Decoder{
		model:              m,
		applyOutputControl: control,
		applySelection:     OutputSelection(opts.UseSampling),
		opts:               opts,
	}, nil
}

// Result is a generated caption.
type Result struct {
	// Sequence is a list of generated tokens ids, without the end token.
	Sequence []int
	// Score is the sum of the negative log probabilities of the generated tokens.
	Score float64
}

// BatchResult is the outcome of a batch rollout.
type BatchResult struct {
	Results []Result
	// Seqs are the raw generated token ids [N, steps], padded after the end token.
	Seqs *tensor.Dense[int]
	// Logits holds the last-position logits of every step [N, V]. Only
	// recorded in training mode, for the loss computation.
	Logits []*tensor.Dense[float32]
}

// Decode performs a step-wise rollout over the whole batch, feeding back the
// selected tokens. In training mode the model may use the ground truth
// prefix instead, according to the scheduled sampling ratio.
// The rollout stops at MaxLen, when every caption ended, or when the
// context is done, returning what was generated so far.
// A training rollout over a batch with ground truth captions runs exactly
// one step per caption target (Caps width minus one), so that the recorded
// logits line up with caps[:, 1:].
func (d *Decoder) Decode(ctx context.Context, batch *model.Batch) (*BatchResult, error) {
	if batch.AttnEmbs == nil {
		return nil, fmt.Errorf("%w: attn_embs", model.ErrMissingInput)
	}
	n := batch.Size()
	maxLen := d.opts.MaxLen
	alignToCaps := d.opts.Mode == model.Train && batch.Caps != nil
	if alignToCaps {
		maxLen = batch.Caps.Dim(1) - 1
	}
	running := &model.RunningOutput{Seqs: tensor.New[int](n, 0)}
	scores := make([]float64, n)
	done := make([]bool, n)
	result := &BatchResult{}

Loop:
	for t := 0; t < maxLen; t++ {
		select {
		case <-ctx.Done():
			log.Debug().Msgf("decoding interrupted at step %d", t)
			break Loop
		default:
		}

		step := &model.StepContext{Batch: batch, T: t, Mode: d.opts.Mode, SSRatio: d.opts.SSRatio}
		in, err := d.model.PrepareDecoderInput(step, running)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", t, err)
		}
		out, err := d.model.Decoder.Forward(in)
		if err != nil {
			return nil, fmt.Errorf("step %d: decoder failed: %w", t, err)
		}
		last, err := lastPosition(out.Logits)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", t, err)
		}
		if d.opts.Mode == model.Train {
			result.Logits = append(result.Logits, last)
		}

		next := tensor.New[int](n, 1)
		for i := 0; i < n; i++ {
			if done[i] {
				next.Set(d.opts.PadTokenID, i, 0)
				continue
			}
			tokenID, score, err := d.selectNext(last.Row(i), t)
			if err != nil {
				return nil, fmt.Errorf("step %d, sample %d: %w", t, i, err)
			}
			next.Set(tokenID, i, 0)
			scores[i] += -math.Log(score)
			done[i] = tokenID == d.opts.EndTokenID
		}

		running.Seqs, err = tensor.ConcatCols(running.Seqs, next)
		if err != nil {
			return nil, err
		}
		if !alignToCaps && allTrue(done) {
			log.Trace().Msgf("every caption ended at step %d", t)
			break
		}
	}

	result.Seqs = running.Seqs
	result.Results = make([]Result, n)
	for i := range result.Results {
		result.Results[i] = Result{
			Sequence: d.truncate(rowOf(running.Seqs, i)),
			Score:    scores[i],
		}
	}
	return result, nil
}

// selectNext applies the output diversity control and the selection to a
// vector of logits.
func (d *Decoder) selectNext(logits []float32, t int) (int, float64, error) {
	candidates, err := d.applyOutputControl(newVector(d.adjustLogits(logits, t)))
	if err != nil {
		return 0, 0, err
	}
	return d.applySelection(candidates)
}

// adjustLogits converts the logits to float64 and, if the sequence is too
// short, sets the logit of the end token to a very low value.
func (d *Decoder) adjustLogits(logits []float32, sequenceLength int) []float64 {
	out := make([]float64, len(logits))
	for i, v := range logits {
		out[i] = float64(v)
	}
	if sequenceLength < d.opts.MinLen && d.opts.EndTokenID >= 0 && d.opts.EndTokenID < len(out) {
		out[d.opts.EndTokenID] = math.Inf(-1)
	}
	return out
}

// truncate cuts the sequence at the first end token.
func (d *Decoder) truncate(sequence []int) []int {
	for i, id := range sequence {
		if id == d.opts.EndTokenID {
			return sequence[:i]
		}
	}
	return sequence
}

// lastPosition extracts the logits of the last position, [N, T, V] -> [N, V].
func lastPosition(logits *tensor.Dense[float32]) (*tensor.Dense[float32], error) {
	if logits == nil || logits.Rank() != 3 || logits.Dim(1) == 0 {
		var shape []int
		if logits != nil {
			shape = logits.Shape()
		}
		return nil, fmt.Errorf("%w: expected logits of shape [N T V], got %v", tensor.ErrShape, shape)
	}
	n, steps, v := logits.Dim(0), logits.Dim(1), logits.Dim(2)
	out := tensor.New[float32](n, v)
	data := logits.Data()
	for i := 0; i < n; i++ {
		offset := (i*steps + steps - 1) * v
		copy(out.Row(i), data[offset:offset+v])
	}
	return out, nil
}

func rowOf(x *tensor.Dense[int], i int) []int {
	row := x.Row(i)
	out := make([]int, len(row))
	copy(out, row)
	return out
}

func allTrue(xs []bool) bool {
	for _, x := range xs {
		if !x {
			return false
		}
	}
	return true
}
