// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package captionflow generates audio captions with encoder-decoder models
// driven step by step.
package captionflow

import (
	"context"
	"fmt"
	"os"

	"github.com/nlpodyssey/captionflow/config"
	"github.com/nlpodyssey/captionflow/decoder"
	"github.com/nlpodyssey/captionflow/model"
	"github.com/nlpodyssey/captionflow/tensor"
	"github.com/rs/zerolog/log"
)

// CaptionFlow is the core struct of the library.
type CaptionFlow struct {
	Config  *config.Config
	Model   *model.Model
	decoder *decoder.Decoder
}

// Caption is a generated caption of a single sample.
type Caption struct {
	SampleIdx int
	decoder.Result
}

// New builds the configured variant around the given encoder and decoder.
func New(c *config.Config, enc model.Encoder, dec model.Decoder, opts ...model.Option) (*CaptionFlow, error) {
	m, err := c.NewModel(enc, dec, opts...)
	if err != nil {
		return nil, err
	}
	d, err := decoder.New(m, c.Decoding)
	if err != nil {
		return nil, fmt.Errorf("invalid decoding options: %w", err)
	}
	return &CaptionFlow{
		Config:  c,
		Model:   m,
		decoder: d,
	}, nil
}

// Load reads the configuration file and builds the model around the given
// encoder and decoder.
func Load(configFilename string, enc model.Encoder, dec model.Decoder, opts ...model.Option) (*CaptionFlow, error) {
	c, err := config.Load(configFilename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("error: unable to find the configuration file '%s'", configFilename)
		}
		return nil, err
	}
	return New(c, enc, dec, opts...)
}

// Encode runs the encoder over the features and fills the attention fields
// of a new batch. The conditioning signals of the batch are left empty.
func (cf *CaptionFlow) Encode(ctx context.Context, feats *tensor.Dense[float32], lens *tensor.Dense[int]) (*model.Batch, error) {
	out, err := cf.Model.Encode(ctx, feats, lens)
	if err != nil {
		return nil, fmt.Errorf("failed to encode features: %w", err)
	}
	return &model.Batch{
		AttnEmbs:    out.AttnEmbs,
		AttnEmbLens: out.AttnEmbLens,
		AttnEmbMask: out.AttnEmbMask,
	}, nil
}

// Generate captions every sample of the batch with beam search.
// The "out" channel is used to stream the captions as soon as each sample
// is decoded. It is closed when Generate returns.
func (cf *CaptionFlow) Generate(ctx context.Context, b *model.Batch, out chan<- Caption) error {
	defer close(out)

	if b.AttnEmbs == nil {
		return fmt.Errorf("%w: attn_embs", model.ErrMissingInput)
	}
	log.Debug().Msgf("generating captions for %d samples", b.Size())
	for i := 0; i < b.Size(); i++ {
		sample, err := sampleBatch(b, i)
		if err != nil {
			return err
		}
		results, err := cf.decoder.BeamSearch(ctx, sample)
		if err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out <- Caption{SampleIdx: i, Result: results[0]}:
		}
	}
	return nil
}

// Rollout performs a greedy or sampled rollout over the whole batch, as
// configured by the decoding options.
func (cf *CaptionFlow) Rollout(ctx context.Context, b *model.Batch) (*decoder.BatchResult, error) {
	return cf.decoder.Decode(ctx, b)
}

// sampleBatch returns a batch holding only the i-th sample of b.
func sampleBatch(b *model.Batch, i int) (*model.Batch, error) {
	var err error
	out := &model.Batch{}
	if out.AttnEmbs, err = single(b.AttnEmbs, i); err != nil {
		return nil, err
	}
	if out.AttnEmbLens, err = single(b.AttnEmbLens, i); err != nil {
		return nil, err
	}
	if out.AttnEmbMask, err = single(b.AttnEmbMask, i); err != nil {
		return nil, err
	}
	if out.Events, err = single(b.Events, i); err != nil {
		return nil, err
	}
	if out.Keywords, err = single(b.Keywords, i); err != nil {
		return nil, err
	}
	if out.Caps, err = single(b.Caps, i); err != nil {
		return nil, err
	}
	return out, nil
}

// single returns the i-th entry of x with a leading dimension of 1.
func single[T tensor.Elem](x *tensor.Dense[T], i int) (*tensor.Dense[T], error) {
	if x == nil {
		return nil, nil
	}
	row, err := x.Index(i)
	if err != nil {
		return nil, err
	}
	return tensor.Repeat(row, 1)
}
