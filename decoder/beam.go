// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/nlpodyssey/captionflow/model"
	"github.com/nlpodyssey/captionflow/tensor"
	"github.com/nlpodyssey/spago/mat"
	"github.com/rs/zerolog/log"
)

// hypothesis is a scored beam candidate.
type hypothesis struct {
	beam    int
	tokenID int
	score   float64
}

// beamState tracks the hypotheses of a single sample.
type beamState struct {
	scores   []float64
	finished []bool
	lengths  []int
}

func newBeamState(beamSize int) *beamState {
	s := &beamState{
		scores:   make([]float64, beamSize),
		finished: make([]bool, beamSize),
		lengths:  make([]int, beamSize),
	}
	// all the beams start from the same prefix: only the first one is expanded
	for i := 1; i < beamSize; i++ {
		s.scores[i] = math.Inf(-1)
	}
	return s
}

// BeamSearch decodes every sample of the batch independently with beam
// search, returning the best hypothesis of each sample.
func (d *Decoder) BeamSearch(ctx context.Context, batch *model.Batch) ([]Result, error) {
	if batch.AttnEmbs == nil {
		return nil, fmt.Errorf("%w: attn_embs", model.ErrMissingInput)
	}
	n := batch.Size()
	results := make([]Result, n)
	for i := 0; i < n; i++ {
		r, err := d.beamSearchSample(ctx, batch, i)
		if err != nil {
			return nil, fmt.Errorf("beam search failed for sample %d: %w", i, err)
		}
		results[i] = r
	}
	return results, nil
}

func (d *Decoder) beamSearchSample(ctx context.Context, batch *model.Batch, sampleIdx int) (Result, error) {
	beamSize := d.opts.BeamSize
	beam := &model.BeamOutput{}
	state := newBeamState(beamSize)

Loop:
	for t := 0; t < d.opts.MaxLen; t++ {
		select {
		case <-ctx.Done():
			log.Debug().Msgf("beam search interrupted at step %d", t)
			break Loop
		default:
		}

		step := &model.StepContext{Batch: batch, T: t, SampleIdx: sampleIdx, BeamSize: beamSize}
		in, err := d.model.PrepareBeamSearchDecoderInput(step, beam)
		if err != nil {
			return Result{}, fmt.Errorf("step %d: %w", t, err)
		}
		out, err := d.model.Decoder.Forward(in)
		if err != nil {
			return Result{}, fmt.Errorf("step %d: decoder failed: %w", t, err)
		}
		last, err := lastPosition(out.Logits)
		if err != nil {
			return Result{}, fmt.Errorf("step %d: %w", t, err)
		}
		if last.Dim(0) != beamSize {
			return Result{}, fmt.Errorf("step %d: %w: expected %d beams, got %d", t, tensor.ErrShape, beamSize, last.Dim(0))
		}

		selected := d.topHypotheses(last, state, t)
		beam.Seqs, err = d.extend(beam.Seqs, selected, state)
		if err != nil {
			return Result{}, err
		}
		log.Trace().Msgf("sample %d, step %d: best score %.4f", sampleIdx, t, state.scores[0])

		if allTrue(state.finished) {
			break
		}
	}

	if beam.Seqs == nil {
		return Result{Sequence: []int{}}, nil
	}
	best := d.best(state)
	return Result{
		Sequence: d.truncate(rowOf(beam.Seqs, best)),
		Score:    -state.scores[best],
	}, nil
}

// topHypotheses returns the beamSize best continuations among all the
// beams. Finished beams only continue with the pad token at no cost.
func (d *Decoder) topHypotheses(logits *tensor.Dense[float32], state *beamState, t int) []hypothesis {
	beamSize := len(state.scores)
	candidates := make([]hypothesis, 0, beamSize*logits.Dim(1))
	for b := 0; b < beamSize; b++ {
		if state.finished[b] {
			candidates = append(candidates, hypothesis{beam: b, tokenID: d.opts.PadTokenID, score: state.scores[b]})
			continue
		}
		for v, lp := range logSoftmax(d.adjustLogits(logits.Row(b), t)) {
			candidates = append(candidates, hypothesis{beam: b, tokenID: v, score: state.scores[b] + lp})
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})
	if len(candidates) > beamSize {
		candidates = candidates[:beamSize]
	}
	return candidates
}

// extend appends the selected tokens to their parent sequences and updates
// the beam state accordingly.
func (d *Decoder) extend(seqs *tensor.Dense[int], selected []hypothesis, state *beamState) (*tensor.Dense[int], error) {
	beamSize := len(state.scores)
	width := 0
	if seqs != nil {
		width = seqs.Dim(1)
	}
	next := tensor.New[int](beamSize, width+1)
	scores := make([]float64, beamSize)
	finished := make([]bool, beamSize)
	lengths := make([]int, beamSize)

	for b := 0; b < beamSize; b++ {
		if b >= len(selected) {
			// fewer candidates than beams: keep an unreachable hypothesis
			scores[b] = math.Inf(-1)
			finished[b] = true
			next.Set(d.opts.PadTokenID, b, width)
			continue
		}
		h := selected[b]
		if seqs != nil {
			copy(next.Row(b), seqs.Row(h.beam))
		}
		next.Set(h.tokenID, b, width)
		scores[b] = h.score
		lengths[b] = state.lengths[h.beam]
		if state.finished[h.beam] {
			finished[b] = true
			continue
		}
		lengths[b]++
		finished[b] = h.tokenID == d.opts.EndTokenID
	}

	state.scores, state.finished, state.lengths = scores, finished, lengths
	return next, nil
}

// best returns the beam with the highest length-normalized score.
func (d *Decoder) best(state *beamState) int {
	best, bestScore := 0, math.Inf(-1)
	for b, score := range state.scores {
		if math.IsInf(score, -1) {
			continue
		}
		if d.opts.LengthPenalty != 0 && state.lengths[b] > 0 {
			score /= math.Pow(float64(state.lengths[b]), d.opts.LengthPenalty)
		}
		if score > bestScore {
			best, bestScore = b, score
		}
	}
	return best
}

// logSoftmax returns the log probabilities of a vector of scores.
func logSoftmax(scores []float64) []float64 {
	probs := mat.Data[float64](newVector(scores).Softmax())
	out := make([]float64, len(probs))
	for i, p := range probs {
		out[i] = math.Log(p)
	}
	return out
}
