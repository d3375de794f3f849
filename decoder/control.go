// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package decoder

import (
	"fmt"
	"math"
	"sort"

	"github.com/nlpodyssey/captionflow/internal/sliceutils"
	"github.com/nlpodyssey/spago/mat"
)

// OutputDiversityControlFunc performs the pre-processing steps that are used to narrow down the set of candidate items
// before using greedy decoding or multinomial sampling to generate the final output.
type OutputDiversityControlFunc func(logits mat.Matrix) (mat.Matrix, error)

// OutputDiversityControl returns a function used to select the next token.
func OutputDiversityControl(temp float64, topK int, topP float64) (OutputDiversityControlFunc, error) {
	if temp < 0 || temp > 1 {
		return nil, fmt.Errorf("invalid temperature value: %f. Must be between 0 and 1", temp)
	}
	if topK < 0 {
		return nil, fmt.Errorf("invalid topK value: %d. Must be >= 0", topK)
	}
	if topP < 0 || topP > 1 {
		return nil, fmt.Errorf("invalid topP value: %f. Must be between 0 and 1", topP)
	}

	result := make([]OutputDiversityControlFunc, 0, 3)
	if temp != 1 {
		result = append(result, TemperatureFunc(temp))
	}
	if topK != 0 {
		result = append(result, TopKFunc(topK, math.Inf(-1)))
	}
	if topP != 1 {
		result = append(result, TopPFunc(topP, math.Inf(-1), 1))
	}

	return func(logits mat.Matrix) (mat.Matrix, error) {
		var err error
		for _, p := range result {
			logits, err = p(logits)
			if err != nil {
				return nil, err
			}
		}
		return logits, err
	}, nil
}

// TemperatureFunc applies a temperature to a vector of scores.
func TemperatureFunc(temperature float64) OutputDiversityControlFunc {
	if temperature == 1 {
		return func(scores mat.Matrix) (mat.Matrix, error) {
			return scores, nil
		}
	}
	if temperature == 0 {
		temperature = 0.01 // avoid division by zero
	}
	invTemperature := 1 / temperature
	return func(scores mat.Matrix) (mat.Matrix, error) {
		data := copyData(scores)
		for i := range data {
			data[i] *= invTemperature
		}
		return newVector(data), nil
	}
}

// TopKFunc keeps the topK highest scores, setting the others to filterValue.
func TopKFunc(topK int, filterValue float64) OutputDiversityControlFunc {
	return func(scores mat.Matrix) (mat.Matrix, error) {
		data := copyData(scores)
		k := topK
		if k > len(data) {
			k = len(data)
		}
		if k == 0 {
			return scores, nil
		}

		sorted := make([]float64, len(data))
		copy(sorted, data)
		sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
		minScore := sorted[k-1]

		for i, v := range data {
			if v < minScore {
				data[i] = filterValue
			}
		}
		return newVector(data), nil
	}
}

// TopPFunc keeps the smallest set of highest scores whose cumulative
// probability exceeds topP, setting the others to filterValue.
// At least minSize scores are kept.
func TopPFunc(topP, filterValue float64, minSize int) OutputDiversityControlFunc {
	return func(scores mat.Matrix) (mat.Matrix, error) {
		data := copyData(scores)
		if len(data) == 0 {
			return scores, nil
		}
		sortedData := sliceutils.NewIndexedSlice(copyData(scores))
		sort.Stable(sort.Reverse(sortedData))

		cumulativeProbs := newVector(sortedData.Slice).Softmax().CumSum()
		cumProbData := mat.Data[float64](cumulativeProbs)

		indicesToRemove := make([]bool, len(cumProbData))
		for i, cp := range cumProbData {
			indicesToRemove[i] = cp > topP
		}

		// Shift the indices to the right to keep also the first token above the threshold
		copy(indicesToRemove[1:], indicesToRemove[:len(indicesToRemove)-1])
		indicesToRemove[0] = false

		for i := 0; i < minSize && i < len(indicesToRemove); i++ {
			indicesToRemove[i] = false
		}

		for maskIndex, toRemove := range indicesToRemove {
			if toRemove {
				data[sortedData.Indices[maskIndex]] = filterValue
			}
		}
		return newVector(data), nil
	}
}

func newVector(data []float64) mat.Matrix {
	return mat.NewDense[float64](mat.WithShape(len(data)), mat.WithBacking(data))
}

func copyData(m mat.Matrix) []float64 {
	src := mat.Data[float64](m)
	out := make([]float64, len(src))
	copy(out, src)
	return out
}
