// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"fmt"
	"os"

	"github.com/nlpodyssey/captionflow/model"
	"github.com/nlpodyssey/captionflow/tensor"
	"gopkg.in/yaml.v3"
)

// BatchFile is the YAML form of a batch of samples.
//
// Either attn_emb_lens or attn_emb_mask may be omitted: the missing one is
// derived from the other. Event labels can be given as dense rows (events)
// or as lists of active label indices (event_labels). Ground truth captions
// can be given as text (caption_texts) and tokenized with TokenizeCaptions.
type BatchFile struct {
	Caps         [][]int       `yaml:"caps" json:"caps"`
	CaptionTexts []string      `yaml:"caption_texts" json:"caption_texts"`
	AttnEmbs     [][][]float32 `yaml:"attn_embs" json:"attn_embs"`
	AttnEmbLens  []int         `yaml:"attn_emb_lens" json:"attn_emb_lens"`
	AttnEmbMask  [][]bool      `yaml:"attn_emb_mask" json:"attn_emb_mask"`
	Events       [][]float32   `yaml:"events" json:"events"`
	EventLabels  [][]int       `yaml:"event_labels" json:"event_labels"`
	Keywords     [][]float32   `yaml:"keywords" json:"keywords"`
}

// CaptionEncoder turns caption texts into padded rows of token ids.
type CaptionEncoder interface {
	PadCaptions(texts []string) ([][]int, error)
}

// LoadBatch reads a YAML batch file.
func LoadBatch(filename string, numLabels int) (*model.Batch, error) {
	f, err := LoadBatchFile(filename)
	if err != nil {
		return nil, err
	}
	return f.Batch(numLabels)
}

// LoadBatchFile reads a YAML batch file without converting it.
func LoadBatchFile(filename string) (*BatchFile, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read batch file: %w", err)
	}
	var f BatchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse batch: %w", err)
	}
	return &f, nil
}

// ParseBatch decodes a YAML batch. numLabels sizes the multi-hot rows built
// from event_labels.
func ParseBatch(data []byte, numLabels int) (*model.Batch, error) {
	var f BatchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse batch: %w", err)
	}
	return f.Batch(numLabels)
}

// TokenizeCaptions fills caps from caption_texts. Explicit caps win.
func (f *BatchFile) TokenizeCaptions(enc CaptionEncoder) error {
	if f.Caps != nil || f.CaptionTexts == nil {
		return nil
	}
	caps, err := enc.PadCaptions(f.CaptionTexts)
	if err != nil {
		return fmt.Errorf("failed to tokenize captions: %w", err)
	}
	f.Caps = caps
	return nil
}

// Batch converts the file content to a model.Batch.
func (f *BatchFile) Batch(numLabels int) (*model.Batch, error) {
	attn, err := attnEmbs(f.AttnEmbs)
	if err != nil {
		return nil, err
	}
	n, l := attn.Dim(0), attn.Dim(1)
	b := &model.Batch{AttnEmbs: attn}

	if f.Caps != nil {
		if b.Caps, err = rows(f.Caps, n, "caps"); err != nil {
			return nil, err
		}
	}

	switch {
	case f.AttnEmbLens != nil:
		if len(f.AttnEmbLens) != n {
			return nil, fmt.Errorf("%w: attn_emb_lens has %d entries, expected %d", tensor.ErrShape, len(f.AttnEmbLens), n)
		}
		if b.AttnEmbLens, err = tensor.FromFlat(append([]int(nil), f.AttnEmbLens...), n); err != nil {
			return nil, err
		}
		if f.AttnEmbMask == nil {
			b.AttnEmbMask = maskFromLens(f.AttnEmbLens, l)
		}
	case f.AttnEmbMask == nil:
		b.AttnEmbLens = tensor.Full(l, n)
		b.AttnEmbMask = tensor.Full(true, n, l)
	}
	if f.AttnEmbMask != nil {
		if b.AttnEmbMask, err = rows(f.AttnEmbMask, n, "attn_emb_mask"); err != nil {
			return nil, err
		}
		if b.AttnEmbMask.Dim(1) != l {
			return nil, fmt.Errorf("%w: attn_emb_mask has %d columns, expected %d", tensor.ErrShape, b.AttnEmbMask.Dim(1), l)
		}
		if b.AttnEmbLens == nil {
			b.AttnEmbLens = lensFromMask(b.AttnEmbMask)
		}
	}

	switch {
	case f.Events != nil:
		if b.Events, err = rows(f.Events, n, "events"); err != nil {
			return nil, err
		}
	case f.EventLabels != nil:
		if b.Events, err = multiHot(f.EventLabels, n, numLabels); err != nil {
			return nil, err
		}
	}

	if f.Keywords != nil {
		if b.Keywords, err = rows(f.Keywords, n, "keywords"); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func attnEmbs(data [][][]float32) (*tensor.Dense[float32], error) {
	if len(data) == 0 || len(data[0]) == 0 {
		return nil, fmt.Errorf("%w: attn_embs must be a non-empty [N L D] array", tensor.ErrShape)
	}
	n, l, d := len(data), len(data[0]), len(data[0][0])
	flat := make([]float32, 0, n*l*d)
	for i, sample := range data {
		if len(sample) != l {
			return nil, fmt.Errorf("%w: attn_embs sample %d has %d positions, expected %d", tensor.ErrShape, i, len(sample), l)
		}
		for j, v := range sample {
			if len(v) != d {
				return nil, fmt.Errorf("%w: attn_embs[%d][%d] has %d features, expected %d", tensor.ErrShape, i, j, len(v), d)
			}
			flat = append(flat, v...)
		}
	}
	return tensor.FromFlat(flat, n, l, d)
}

func rows[T tensor.Elem](data [][]T, n int, name string) (*tensor.Dense[T], error) {
	if len(data) != n {
		return nil, fmt.Errorf("%w: %s has %d rows, expected %d", tensor.ErrShape, name, len(data), n)
	}
	t, err := tensor.FromRows(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return t, nil
}

func maskFromLens(lens []int, l int) *tensor.Dense[bool] {
	mask := tensor.New[bool](len(lens), l)
	for i, n := range lens {
		for j := 0; j < n && j < l; j++ {
			mask.Set(true, i, j)
		}
	}
	return mask
}

func lensFromMask(mask *tensor.Dense[bool]) *tensor.Dense[int] {
	n := mask.Dim(0)
	lens := tensor.New[int](n)
	for i := 0; i < n; i++ {
		count := 0
		for _, valid := range mask.Row(i) {
			if valid {
				count++
			}
		}
		lens.Set(count, i)
	}
	return lens
}

func multiHot(labels [][]int, n, numLabels int) (*tensor.Dense[float32], error) {
	if len(labels) != n {
		return nil, fmt.Errorf("%w: event_labels has %d rows, expected %d", tensor.ErrShape, len(labels), n)
	}
	events := tensor.New[float32](n, numLabels)
	for i, active := range labels {
		for _, label := range active {
			if label < 0 || label >= numLabels {
				return nil, fmt.Errorf("event label %d outside [0, %d)", label, numLabels)
			}
			events.Set(1, i, label)
		}
	}
	return events, nil
}
