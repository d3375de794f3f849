// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"fmt"

	"github.com/nlpodyssey/spago/mat"
	"github.com/nlpodyssey/spago/mat/rand"
	"github.com/rs/zerolog/log"
)

// OutputSelectionFunc picks the next token from a vector of scores, returning
// its id and probability.
type OutputSelectionFunc func(logits mat.Matrix) (int, float64, error)

// OutputSelection returns the multinomial sampling or the greedy selection.
func OutputSelection(sampling bool) OutputSelectionFunc {
	if sampling {
		log.Trace().Msg("using multinomial sampling")
		return MultinomialSampling()
	}
	log.Trace().Msg("using greedy decoding")
	return GreedyDecoding()
}

// GreedyDecoding selects the most probable token.
func GreedyDecoding() OutputSelectionFunc {
	return func(logits mat.Matrix) (int, float64, error) {
		probs := logits.Softmax()
		argmax := probs.ArgMax()
		return argmax, mat.Data[float64](probs)[argmax], nil
	}
}

// MultinomialSampling samples the next token from the softmax distribution.
func MultinomialSampling() OutputSelectionFunc {
	return func(logits mat.Matrix) (int, float64, error) {
		probs := logits.Softmax()
		samples, err := multinomial(probs, 1)
		if err != nil {
			return 0, 0, err
		}
		return samples[0], mat.Data[float64](probs)[samples[0]], nil
	}
}

// multinomial extracts the next indices from a multinomial probability distribution.
func multinomial(input mat.Matrix, numSamples int) ([]int, error) {
	data := mat.Data[float64](input)
	if numSamples > len(data) {
		return nil, fmt.Errorf("numSamples (%d) must be less than or equal to the size of the input (%d)", numSamples, len(data))
	}

	samples := make([]int, 0, numSamples)
	samplesMap := make(map[int]struct{}, numSamples)

	for len(samples) < numSamples {
		p := rand.Float[float64]()

		sampled := false
		for i, value := range data {
			p -= value
			if p < 0 {
				if _, alreadySampled := samplesMap[i]; !alreadySampled {
					samplesMap[i] = struct{}{}
					samples = append(samples, i)
				}
				sampled = true
				break
			}
		}
		if !sampled {
			// rounding left some mass: take the last token with non-zero probability
			for i := len(data) - 1; i >= 0; i-- {
				if data[i] > 0 {
					if _, alreadySampled := samplesMap[i]; !alreadySampled {
						samplesMap[i] = struct{}{}
						samples = append(samples, i)
					}
					break
				}
			}
		}
	}

	return samples, nil
}
