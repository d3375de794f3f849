// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config reads the YAML description of a captioning model and of the
// batches it decodes.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/nlpodyssey/captionflow/condition"
	"github.com/nlpodyssey/captionflow/decoder"
	"github.com/nlpodyssey/captionflow/model"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("invalid configuration")

// Variant names.
const (
	Transformer            = "transformer"
	M2Transformer          = "m2_transformer"
	EventCondTransformer   = "event_cond_transformer"
	KeywordCondTransformer = "keyword_cond_transformer"
)

// Config describes a captioning model and its decoding options.
type Config struct {
	Variant   string `yaml:"variant"`
	PadIdx    int    `yaml:"pad_idx"`
	StartIdx  int    `yaml:"start_idx"`
	EndIdx    int    `yaml:"end_idx"`
	VocabSize int    `yaml:"vocab_size"`
	EmbDim    int    `yaml:"emb_dim"`
	// AttnDim is the feature size of the attention source.
	AttnDim int `yaml:"attn_dim"`
	// KeywordDim is the size of the keyword probability vectors.
	KeywordDim int `yaml:"keyword_dim"`
	NumLabels  int `yaml:"num_labels"`
	// LabelEmbedding is an optional gob dump of trained label embeddings.
	LabelEmbedding string `yaml:"label_embedding"`
	// Seed initializes the label embeddings when no dump is given.
	Seed     int64                   `yaml:"seed"`
	Decoding decoder.DecodingOptions `yaml:"decoding"`
}

// Default returns a configuration with the default decoding options and
// the default number of event labels.
func Default() *Config {
	return &Config{
		Variant:   Transformer,
		PadIdx:    0,
		StartIdx:  1,
		EndIdx:    2,
		NumLabels: condition.DefaultNumLabels,
		Decoding: decoder.DecodingOptions{
			MaxLen:   20,
			BeamSize: 3,
			Temp:     1,
			TopP:     1,
		},
	}
}

// Load reads a YAML configuration file on top of the defaults and validates it.
func Load(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML configuration on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	c.Decoding.EndTokenID = c.EndIdx
	c.Decoding.PadTokenID = c.PadIdx
	if err := c.Validate(); err != nil {
		return nil, err
	}
	log.Debug().Msgf("loaded %s configuration (vocab %d, emb %d)", c.Variant, c.VocabSize, c.EmbDim)
	return c, nil
}

// Validate rejects unknown variants and inconsistent sizes or indices.
func (c *Config) Validate() error {
	switch c.Variant {
	case Transformer, M2Transformer, KeywordCondTransformer:
	case EventCondTransformer:
		if c.NumLabels <= 0 {
			return fmt.Errorf("%w: num_labels must be > 0", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown variant %q", ErrInvalidConfig, c.Variant)
	}
	if c.VocabSize <= 0 || c.EmbDim <= 0 || c.AttnDim <= 0 {
		return fmt.Errorf("%w: vocab_size, emb_dim and attn_dim must be > 0", ErrInvalidConfig)
	}
	if c.Variant == KeywordCondTransformer && c.KeywordDim <= 0 {
		return fmt.Errorf("%w: keyword_dim must be > 0", ErrInvalidConfig)
	}
	indices := map[string]int{"pad_idx": c.PadIdx, "start_idx": c.StartIdx, "end_idx": c.EndIdx}
	for name, idx := range indices {
		if idx < 0 || idx >= c.VocabSize {
			return fmt.Errorf("%w: %s %d outside the vocabulary", ErrInvalidConfig, name, idx)
		}
	}
	if c.PadIdx == c.StartIdx || c.PadIdx == c.EndIdx || c.StartIdx == c.EndIdx {
		return fmt.Errorf("%w: pad, start and end indices must be distinct", ErrInvalidConfig)
	}
	if c.Decoding.EndTokenID != c.EndIdx || c.Decoding.PadTokenID != c.PadIdx {
		return fmt.Errorf("%w: decoding end and pad tokens must match end_idx and pad_idx", ErrInvalidConfig)
	}
	return nil
}

// Vocab returns the reserved token ids.
func (c *Config) Vocab() model.Vocab {
	return model.Vocab{PadIdx: c.PadIdx, StartIdx: c.StartIdx, EndIdx: c.EndIdx}
}

// DecoderFamily returns the decoder family the variant is built around.
func (c *Config) DecoderFamily() model.DecoderFamily {
	switch c.Variant {
	case M2Transformer:
		return model.M2TransformerDecoder
	case EventCondTransformer:
		return model.EventTransformerDecoder
	case KeywordCondTransformer:
		return model.KeywordProbTransformerDecoder
	default:
		return model.TransformerDecoder
	}
}

// EncoderFamily returns the encoder family the variant is built around.
func (c *Config) EncoderFamily() model.EncoderFamily {
	if c.Variant == M2Transformer {
		return model.M2TransformerEncoder
	}
	return model.TransformerEncoder
}

// NewModel builds the configured variant around the given modules. The
// label embeddings of the event-conditioned variant are loaded from
// LabelEmbedding when set.
func (c *Config) NewModel(enc model.Encoder, dec model.Decoder, opts ...model.Option) (*model.Model, error) {
	vocab := c.Vocab()
	switch c.Variant {
	case Transformer:
		return model.NewTransformer(enc, dec, vocab, opts...)
	case M2Transformer:
		return model.NewM2Transformer(enc, dec, vocab, opts...)
	case KeywordCondTransformer:
		return model.NewKeywordCondTransformer(enc, dec, vocab, opts...)
	case EventCondTransformer:
		labels, err := c.labelEncoder()
		if err != nil {
			return nil, err
		}
		return model.NewEventCondTransformer(enc, dec, vocab, append(opts, model.WithEventEncoder(labels))...)
	default:
		return nil, fmt.Errorf("%w: unknown variant %q", ErrInvalidConfig, c.Variant)
	}
}

func (c *Config) labelEncoder() (*condition.EventEncoder, error) {
	if c.LabelEmbedding == "" {
		return condition.NewEventEncoder(c.NumLabels, c.EmbDim, c.Seed), nil
	}
	enc, err := condition.Load(c.LabelEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to load label embedding: %w", err)
	}
	if enc.NumLabels != c.NumLabels {
		return nil, fmt.Errorf("%w: label embedding has %d labels, expected %d",
			ErrInvalidConfig, enc.NumLabels, c.NumLabels)
	}
	return enc, nil
}
