// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tokenizer converts captions to token ids and back with a
// byte-level BPE vocabulary.
package tokenizer

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/nlpodyssey/gotokenizers/models"
	"github.com/nlpodyssey/gotokenizers/models/bpemodel"
	"github.com/nlpodyssey/gotokenizers/normalizedstring"
	"github.com/nlpodyssey/gotokenizers/pretokenizedstring"
	"github.com/nlpodyssey/gotokenizers/pretokenizers/bytelevelpretokenizer"
	"github.com/nlpodyssey/gotokenizers/vocabulary"
)

// SpecialTokens holds the reserved token ids of the caption vocabulary.
type SpecialTokens struct {
	PadID   int
	StartID int
	EndID   int
}

// Tokenizer is a byte-level BPE caption tokenizer.
type Tokenizer struct {
	preTokenizer *bytelevelpretokenizer.ByteLevelPreTokenizer
	model        *bpemodel.BPEModel
	vocab        *vocabulary.Vocabulary
	special      SpecialTokens
}

// Load reads "vocab.json" and "merges.txt" from dir.
func Load(dir string, special SpecialTokens) (*Tokenizer, error) {
	vocabFilename := filepath.Join(dir, "vocab.json")
	vocab, err := vocabulary.FromJSONFile(vocabFilename)
	if err != nil {
		return nil, fmt.Errorf("loading vocabulary from file %s: %w", vocabFilename, err)
	}
	mergesFilename := filepath.Join(dir, "merges.txt")
	merges, err := bpemodel.MergeMapFromFile(mergesFilename, vocab, 0)
	if err != nil {
		return nil, fmt.Errorf("loading merges from file %s: %w", mergesFilename, err)
	}
	return &Tokenizer{
		preTokenizer: bytelevelpretokenizer.New(bytelevelpretokenizer.DefaultSplittingRegexp, false, true),
		model:        bpemodel.New(vocab, merges, 0, 0, "", "", "", false),
		vocab:        vocab,
		special:      special,
	}, nil
}

// Tokenize returns the token ids of the text, without special tokens.
func (t *Tokenizer) Tokenize(text string) ([]int, error) {
	pts := pretokenizedstring.FromString(text)
	if err := t.preTokenizer.PreTokenize(pts); err != nil {
		return nil, fmt.Errorf("pre-tokenization of %q failed: %w", text, err)
	}
	err := pts.Tokenize(func(ns *normalizedstring.NormalizedString) ([]models.Token, error) {
		return t.model.Tokenize(ns.Get())
	})
	if err != nil {
		return nil, fmt.Errorf("tokenization of %q failed: %w", text, err)
	}
	encoding, err := pts.IntoEncoding(0, 0)
	if err != nil {
		return nil, fmt.Errorf("encoding of %q failed: %w", text, err)
	}
	return encoding.IDs, nil
}

// EncodeCaption returns the start token, the token ids of the text and the
// end token, as expected for ground truth captions.
func (t *Tokenizer) EncodeCaption(text string) ([]int, error) {
	ids, err := t.Tokenize(text)
	if err != nil {
		return nil, err
	}
	out := make([]int, 0, len(ids)+2)
	out = append(out, t.special.StartID)
	out = append(out, ids...)
	return append(out, t.special.EndID), nil
}

// PadCaptions encodes the texts as rows of equal length, filled with the
// pad token.
func (t *Tokenizer) PadCaptions(texts []string) ([][]int, error) {
	rows := make([][]int, len(texts))
	width := 0
	for i, text := range texts {
		ids, err := t.EncodeCaption(text)
		if err != nil {
			return nil, err
		}
		rows[i] = ids
		if len(ids) > width {
			width = len(ids)
		}
	}
	for i, row := range rows {
		for len(row) < width {
			row = append(row, t.special.PadID)
		}
		rows[i] = row
	}
	return rows, nil
}

// ReconstructText returns the text of the token ids, skipping the special tokens.
func (t *Tokenizer) ReconstructText(ids []int) (string, error) {
	var sb strings.Builder
	for _, id := range ids {
		if id == t.special.PadID || id == t.special.StartID || id == t.special.EndID {
			continue
		}
		s, ok := t.vocab.GetString(id)
		if !ok {
			return "", fmt.Errorf("token id %d not in vocabulary", id)
		}
		sb.WriteString(s)
	}
	out := strings.ReplaceAll(sb.String(), "Ġ", " ")
	return strings.TrimSpace(strings.ReplaceAll(out, "Ċ", "\n")), nil
}
