// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package condition implements the auxiliary conditioning signals that can be
// fused into the decoder input alongside the attention source.
package condition

import (
	"errors"

	"github.com/nlpodyssey/captionflow/tensor"
)

// ErrInvalidLabels is returned when a label vector contains negative entries.
var ErrInvalidLabels = errors.New("invalid label vector")

// Signal identifies which conditioning input a model variant consumes.
type Signal int

const (
	// None means the decoder receives no conditioning tensor.
	None Signal = iota
	// Events is a multi-hot sound event label vector.
	Events
	// Keywords is a precomputed keyword probability vector.
	Keywords
)

// String returns the name of the signal.
func (s Signal) String() string {
	switch s {
	case None:
		return "none"
	case Events:
		return "events"
	case Keywords:
		return "keywords"
	default:
		return "unknown"
	}
}

// Conditioner turns a batch-level auxiliary signal of shape [N, C] into the
// conditioning tensor handed to the decoder.
type Conditioner interface {
	// Signal returns the kind of input the conditioner consumes.
	Signal() Signal
	// Condition transforms the signal. Implementations must not modify x.
	Condition(x *tensor.Dense[float32]) (*tensor.Dense[float32], error)
}

// KeywordPassthrough forwards keyword probabilities unchanged.
type KeywordPassthrough struct{}

var _ Conditioner = KeywordPassthrough{}

// Signal returns Keywords.
func (KeywordPassthrough) Signal() Signal { return Keywords }

// Condition returns x as is.
func (KeywordPassthrough) Condition(x *tensor.Dense[float32]) (*tensor.Dense[float32], error) {
	return x, nil
}
