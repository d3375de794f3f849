// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package model implements the transformer captioning model variants and the
// per-step assembly of their decoder inputs.
package model

import (
	"context"
	"errors"
	"fmt"

	"github.com/nlpodyssey/captionflow/condition"
	"github.com/nlpodyssey/captionflow/tensor"
	"github.com/nlpodyssey/spago/mat/rand"
)

// ErrConfiguration is returned when a model is composed of incompatible modules.
var ErrConfiguration = errors.New("configuration error")

// ErrBeamNotExpanded is returned when beam search reaches t > 0 on a beam
// state that was never expanded at t = 0.
var ErrBeamNotExpanded = errors.New("beam state not expanded")

// DecoderFamily identifies a decoder implementation.
type DecoderFamily string

const (
	TransformerDecoder            DecoderFamily = "TransformerDecoder"
	M2TransformerDecoder          DecoderFamily = "M2TransformerDecoder"
	EventTransformerDecoder       DecoderFamily = "EventTransformerDecoder"
	KeywordProbTransformerDecoder DecoderFamily = "KeywordProbTransformerDecoder"
)

// EncoderFamily identifies an encoder implementation.
type EncoderFamily string

const (
	// AnyEncoder is used in Capabilities to accept every encoder.
	AnyEncoder           EncoderFamily = ""
	TransformerEncoder   EncoderFamily = "TransformerEncoder"
	M2TransformerEncoder EncoderFamily = "M2TransformerEncoder"
)

// Decoder is the word decoder of a captioning model.
type Decoder interface {
	// Family returns the decoder implementation family.
	Family() DecoderFamily
	// EmbeddingDim is the size of the decoder word embeddings.
	EmbeddingDim() int
	// Forward runs the decoder over the given input.
	Forward(input *DecoderInput) (*DecoderOutput, error)
}

// EncoderOutput is the attention source produced by an Encoder.
type EncoderOutput struct {
	AttnEmbs    *tensor.Dense[float32]
	AttnEmbLens *tensor.Dense[int]
	AttnEmbMask *tensor.Dense[bool]
}

// Encoder turns audio or image features into the decoder attention source.
type Encoder interface {
	// Family returns the encoder implementation family.
	Family() EncoderFamily
	// Encode encodes the [N, L, F] features with the given valid lengths.
	Encode(ctx context.Context, feats *tensor.Dense[float32], lens *tensor.Dense[int]) (*EncoderOutput, error)
}

// MaskStyle is how a variant conveys attention validity to its decoder.
type MaskStyle int

const (
	// LengthMask passes per-sample attention lengths plus a caption padding mask.
	LengthMask MaskStyle = iota
	// ExplicitMask passes a boolean attention mask and no caption padding mask.
	ExplicitMask
)

// Capabilities is the static description of a model variant.
type Capabilities struct {
	Name               string
	MaskStyle          MaskStyle
	Signal             condition.Signal
	CompatibleDecoders []DecoderFamily
	RequiredEncoder    EncoderFamily
}

func (c Capabilities) acceptsDecoder(f DecoderFamily) bool {
	for _, d := range c.CompatibleDecoders {
		if d == f {
			return true
		}
	}
	return false
}

var (
	// TransformerCapabilities describes the primary transformer variant.
	TransformerCapabilities = Capabilities{
		Name:               "TransformerModel",
		MaskStyle:          LengthMask,
		Signal:             condition.None,
		CompatibleDecoders: []DecoderFamily{TransformerDecoder},
	}
	// M2TransformerCapabilities describes the meshed-memory transformer variant.
	M2TransformerCapabilities = Capabilities{
		Name:               "M2TransformerModel",
		MaskStyle:          ExplicitMask,
		Signal:             condition.None,
		CompatibleDecoders: []DecoderFamily{M2TransformerDecoder},
		RequiredEncoder:    M2TransformerEncoder,
	}
	// EventCondTransformerCapabilities describes the event-conditioned variant.
	EventCondTransformerCapabilities = Capabilities{
		Name:               "EventCondTransformerModel",
		MaskStyle:          LengthMask,
		Signal:             condition.Events,
		CompatibleDecoders: []DecoderFamily{EventTransformerDecoder},
	}
	// KeywordCondTransformerCapabilities describes the keyword-conditioned variant.
	KeywordCondTransformerCapabilities = Capabilities{
		Name:               "KeywordCondTransformerModel",
		MaskStyle:          LengthMask,
		Signal:             condition.Keywords,
		CompatibleDecoders: []DecoderFamily{KeywordProbTransformerDecoder},
	}
)

// Vocab holds the reserved token ids.
type Vocab struct {
	PadIdx   int
	StartIdx int
	EndIdx   int
}

// Model is a captioning model variant: an encoder, a decoder and the
// step-assembly behavior selected by its Capabilities.
type Model struct {
	Encoder Encoder
	Decoder Decoder
	Vocab   Vocab

	caps        Capabilities
	conditioner condition.Conditioner
	uniform     func() float64
}

// Option customizes a Model at construction.
type Option func(*options)

type options struct {
	compatibleDecoders []DecoderFamily
	eventEncoder       *condition.EventEncoder
	uniform            func() float64
	seed               int64
}

// WithCompatibleDecoders replaces the decoder families accepted by the variant.
func WithCompatibleDecoders(families ...DecoderFamily) Option {
	return func(o *options) {
		o.compatibleDecoders = families
	}
}

// WithEventEncoder sets a trained label encoder for the event-conditioned variant.
func WithEventEncoder(enc *condition.EventEncoder) Option {
	return func(o *options) {
		o.eventEncoder = enc
	}
}

// WithUniformSource sets the source of the scheduled-sampling draws, which
// must return values in [0, 1).
func WithUniformSource(fn func() float64) Option {
	return func(o *options) {
		o.uniform = fn
	}
}

// WithLabelEmbeddingSeed sets the seed of a freshly initialized label encoder.
func WithLabelEmbeddingSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
	}
}

// NewTransformer returns the primary transformer variant.
func NewTransformer(enc Encoder, dec Decoder, vocab Vocab, opts ...Option) (*Model, error) {
	return newModel(TransformerCapabilities, enc, dec, vocab, opts)
}

// NewM2Transformer returns the meshed-memory transformer variant. It requires
// an M2 transformer encoder.
func NewM2Transformer(enc Encoder, dec Decoder, vocab Vocab, opts ...Option) (*Model, error) {
	return newModel(M2TransformerCapabilities, enc, dec, vocab, opts)
}

// NewEventCondTransformer returns the primary variant conditioned on sound
// event labels. Unless WithEventEncoder is given, the label embeddings are
// randomly initialized with the decoder embedding size.
func NewEventCondTransformer(enc Encoder, dec Decoder, vocab Vocab, opts ...Option) (*Model, error) {
	return newModel(EventCondTransformerCapabilities, enc, dec, vocab, opts)
}

// NewKeywordCondTransformer returns the primary variant conditioned on
// keyword probabilities.
func NewKeywordCondTransformer(enc Encoder, dec Decoder, vocab Vocab, opts ...Option) (*Model, error) {
	return newModel(KeywordCondTransformerCapabilities, enc, dec, vocab, opts)
}

func newModel(caps Capabilities, enc Encoder, dec Decoder, vocab Vocab, opts []Option) (*Model, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}
	if o.compatibleDecoders != nil {
		caps.CompatibleDecoders = o.compatibleDecoders
	}

	if err := checkCompatibility(caps, enc, dec); err != nil {
		return nil, err
	}

	conditioner, err := newConditioner(caps, dec, o)
	if err != nil {
		return nil, err
	}

	uniform := o.uniform
	if uniform == nil {
		uniform = func() float64 { return rand.Float[float64]() }
	}

	return &Model{
		Encoder:     enc,
		Decoder:     dec,
		Vocab:       vocab,
		caps:        caps,
		conditioner: conditioner,
		uniform:     uniform,
	}, nil
}

func checkCompatibility(caps Capabilities, enc Encoder, dec Decoder) error {
	if dec == nil {
		return fmt.Errorf("%w: %s requires a decoder", ErrConfiguration, caps.Name)
	}
	if !caps.acceptsDecoder(dec.Family()) {
		return fmt.Errorf("%w: decoder %s is not compatible with %s (accepted: %v)",
			ErrConfiguration, dec.Family(), caps.Name, caps.CompatibleDecoders)
	}
	if caps.RequiredEncoder == AnyEncoder {
		return nil
	}
	if enc == nil || enc.Family() != caps.RequiredEncoder {
		var got EncoderFamily
		if enc != nil {
			got = enc.Family()
		}
		return fmt.Errorf("%w: only %s is compatible with %s, got %q",
			ErrConfiguration, caps.RequiredEncoder, caps.Name, got)
	}
	return nil
}

func newConditioner(caps Capabilities, dec Decoder, o *options) (condition.Conditioner, error) {
	switch caps.Signal {
	case condition.None:
		return nil, nil
	case condition.Keywords:
		return condition.KeywordPassthrough{}, nil
	case condition.Events:
		if o.eventEncoder == nil {
			return condition.NewEventEncoder(condition.DefaultNumLabels, dec.EmbeddingDim(), o.seed), nil
		}
		if o.eventEncoder.EmbDim != dec.EmbeddingDim() {
			return nil, fmt.Errorf("%w: label embedding size %d does not match decoder embedding size %d",
				ErrConfiguration, o.eventEncoder.EmbDim, dec.EmbeddingDim())
		}
		return o.eventEncoder, nil
	default:
		return nil, fmt.Errorf("%w: unknown conditioning signal %d", ErrConfiguration, caps.Signal)
	}
}

// Capabilities returns the variant description.
func (m *Model) Capabilities() Capabilities {
	return m.caps
}

// Encode runs the encoder.
func (m *Model) Encode(ctx context.Context, feats *tensor.Dense[float32], lens *tensor.Dense[int]) (*EncoderOutput, error) {
	if m.Encoder == nil {
		return nil, fmt.Errorf("%w: %s has no encoder", ErrConfiguration, m.caps.Name)
	}
	return m.Encoder.Encode(ctx, feats, lens)
}
