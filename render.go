// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package captionflow

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"
)

// DefaultTemplate renders a caption on a single line.
const DefaultTemplate = "{{.SampleIdx}}\t{{printf \"%.4f\" .Score}}\t{{.Text}}\n"

// Detokenizer turns token ids into text.
type Detokenizer interface {
	ReconstructText(ids []int) (string, error)
}

// Vocabulary maps token ids to words.
type Vocabulary []string

var _ Detokenizer = Vocabulary{}

// LoadVocabulary reads a vocabulary file holding one word per line, the
// line number being the token id.
func LoadVocabulary(filename string) (_ Vocabulary, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("unable to read the vocabulary file: %w", err)
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
	}()

	var v Vocabulary
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		v = append(v, strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("unable to read the vocabulary file: %w", err)
	}
	return v, nil
}

// ReconstructText joins the words of the given token ids with spaces.
// A nil vocabulary renders the ids themselves.
func (v Vocabulary) ReconstructText(ids []int) (string, error) {
	words := make([]string, len(ids))
	for i, id := range ids {
		if v == nil {
			words[i] = fmt.Sprint(id)
			continue
		}
		if id < 0 || id >= len(v) {
			return "", fmt.Errorf("token id %d outside the vocabulary of size %d", id, len(v))
		}
		words[i] = v[id]
	}
	return strings.Join(words, " "), nil
}

// RenderedCaption is the input of the caption templates.
type RenderedCaption struct {
	SampleIdx int
	Text      string
	Tokens    []int
	Score     float64
}

// NewRenderedCaption decodes a caption. A nil detokenizer renders the ids.
func NewRenderedCaption(c Caption, d Detokenizer) (RenderedCaption, error) {
	if d == nil {
		d = Vocabulary(nil)
	}
	text, err := d.ReconstructText(c.Sequence)
	if err != nil {
		return RenderedCaption{}, err
	}
	return RenderedCaption{
		SampleIdx: c.SampleIdx,
		Text:      text,
		Tokens:    c.Sequence,
		Score:     c.Score,
	}, nil
}

// RenderFromTemplateFile renders a caption applying the template file.
func RenderFromTemplateFile(c RenderedCaption, filename string) (string, error) {
	ct, err := template.ParseFiles(filename)
	if err != nil {
		return "", fmt.Errorf("unable to read the template file: %w", err)
	}
	return RenderFromTemplate(c, ct)
}

// RenderFromTemplate renders a caption applying the template.
func RenderFromTemplate(c RenderedCaption, ct *template.Template) (string, error) {
	result := new(bytes.Buffer)
	err := ct.Execute(result, c)
	if err != nil {
		return "", fmt.Errorf("unable to execute the template: %w", err)
	}
	return result.String(), nil
}
