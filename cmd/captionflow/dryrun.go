// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"text/template"

	"github.com/nlpodyssey/captionflow"
	"github.com/nlpodyssey/captionflow/config"
	"github.com/nlpodyssey/captionflow/internal/toy"
	"github.com/nlpodyssey/captionflow/model"
	"github.com/nlpodyssey/captionflow/tokenizer"
	"github.com/rs/zerolog/log"
)

type dryRunConfig struct {
	configFilename   string
	batchFilename    string
	vocabFilename    string
	templateFilename string
	tokenizerDir     string
	out              io.Writer
}

// shapeLogger logs the shapes of every decoder input.
type shapeLogger struct {
	model.Decoder
	calls int
}

func (s *shapeLogger) Forward(in *model.DecoderInput) (*model.DecoderOutput, error) {
	s.calls++
	e := log.Debug().Int("call", s.calls).Ints("word", in.Word.Shape()).Ints("attn_embs", in.AttnEmbs.Shape())
	if in.AttnEmbLens != nil {
		e = e.Ints("attn_emb_lens", in.AttnEmbLens.Shape())
	}
	if in.CapsPaddingMask != nil {
		e = e.Ints("caps_padding_mask", in.CapsPaddingMask.Shape())
	}
	if in.AttnEmbMask != nil {
		e = e.Ints("attn_emb_mask", in.AttnEmbMask.Shape())
	}
	if in.Events != nil {
		e = e.Ints("events", in.Events.Shape())
	}
	if in.Keywords != nil {
		e = e.Ints("keywords", in.Keywords.Shape())
	}
	e.Msg("decoder input")
	return s.Decoder.Forward(in)
}

func dryRun(ctx context.Context, c dryRunConfig) error {
	conf, err := config.Load(c.configFilename)
	if err != nil {
		return err
	}
	bf, err := config.LoadBatchFile(c.batchFilename)
	if err != nil {
		return err
	}
	detok, err := loadDetokenizer(conf, c.vocabFilename, c.tokenizerDir)
	if err != nil {
		return err
	}
	if tok, ok := detok.(*tokenizer.Tokenizer); ok {
		if err = bf.TokenizeCaptions(tok); err != nil {
			return err
		}
	}
	batch, err := bf.Batch(conf.NumLabels)
	if err != nil {
		return err
	}
	if d := batch.AttnEmbs.Dim(2); d != conf.AttnDim {
		return fmt.Errorf("batch attention source has %d features, configuration expects %d", d, conf.AttnDim)
	}

	tmpl, err := loadTemplate(c.templateFilename)
	if err != nil {
		return err
	}

	cf, err := newToyCaptionFlow(conf, func(d model.Decoder) model.Decoder {
		return &shapeLogger{Decoder: d}
	})
	if err != nil {
		return err
	}

	if batch.Caps != nil {
		fwd, err := cf.Model.SeqForward(batch)
		if err != nil {
			return err
		}
		log.Info().Ints("logits", fwd.Logits.Shape()).Msg("teacher-forced forward")
	}

	log.Info().Msgf("%s: rollout over %d samples", cf.Model.Capabilities().Name, batch.Size())
	rollout, err := cf.Rollout(ctx, batch)
	if err != nil {
		return err
	}
	for i, r := range rollout.Results {
		log.Info().Int("sample", i).Ints("tokens", r.Sequence).Float64("score", r.Score).Msg("rollout")
	}

	log.Info().Msgf("beam search with beam size %d", conf.Decoding.BeamSize)
	out := make(chan captionflow.Caption)
	errs := make(chan error, 1)
	go func() {
		errs <- cf.Generate(ctx, batch, out)
	}()
	var writeErr error
	for caption := range out {
		if writeErr == nil {
			writeErr = writeCaption(c.out, caption, detok, tmpl)
		}
	}
	if err := <-errs; err != nil {
		return err
	}
	return writeErr
}

// newToyCaptionFlow builds the configured variant around the toy modules.
// wrap, if not nil, decorates the decoder.
func newToyCaptionFlow(conf *config.Config, wrap func(model.Decoder) model.Decoder) (*captionflow.CaptionFlow, error) {
	var dec model.Decoder = toy.NewDecoder(conf.DecoderFamily(), toy.Config{
		VocabSize:  conf.VocabSize,
		EmbDim:     conf.EmbDim,
		AttnDim:    conf.AttnDim,
		KeywordDim: conf.KeywordDim,
		Seed:       conf.Seed,
	})
	if wrap != nil {
		dec = wrap(dec)
	}
	return captionflow.New(conf, toy.NewEncoder(conf.EncoderFamily()), dec)
}

func writeCaption(w io.Writer, caption captionflow.Caption, detok captionflow.Detokenizer, tmpl *template.Template) error {
	rc, err := captionflow.NewRenderedCaption(caption, detok)
	if err != nil {
		return err
	}
	text, err := captionflow.RenderFromTemplate(rc, tmpl)
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, text)
	return err
}

// loadDetokenizer prefers the BPE tokenizer over the word list. It returns
// nil when neither is given, so that captions are rendered as token ids.
func loadDetokenizer(conf *config.Config, vocabFilename, tokenizerDir string) (captionflow.Detokenizer, error) {
	if tokenizerDir != "" {
		return tokenizer.Load(tokenizerDir, tokenizer.SpecialTokens{
			PadID:   conf.PadIdx,
			StartID: conf.StartIdx,
			EndID:   conf.EndIdx,
		})
	}
	if vocabFilename != "" {
		return captionflow.LoadVocabulary(vocabFilename)
	}
	return nil, nil
}

func loadTemplate(filename string) (*template.Template, error) {
	if filename == "" {
		return template.New("caption").Parse(captionflow.DefaultTemplate)
	}
	t, err := template.ParseFiles(filename)
	if err != nil {
		return nil, fmt.Errorf("unable to read the template file: %w", err)
	}
	return t, nil
}
