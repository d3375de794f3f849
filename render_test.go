// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package captionflow

import (
	"os"
	"path/filepath"
	"testing"
	"text/template"

	"github.com/nlpodyssey/captionflow/decoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVocabulary(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "words.txt")
	require.NoError(t, os.WriteFile(filename, []byte("<pad>\n<bos>\n<eos>\na\ndog\nbarks\n"), 0o644))

	v, err := LoadVocabulary(filename)
	require.NoError(t, err)
	assert.Len(t, v, 6)

	text, err := v.ReconstructText([]int{3, 4, 5})
	require.NoError(t, err)
	assert.Equal(t, "a dog barks", text)

	_, err = v.ReconstructText([]int{6})
	assert.Error(t, err)
}

func TestNilVocabularyRendersIDs(t *testing.T) {
	text, err := Vocabulary(nil).ReconstructText([]int{7, 3})
	require.NoError(t, err)
	assert.Equal(t, "7 3", text)

	rc, err := NewRenderedCaption(Caption{Result: decoder.Result{Sequence: []int{4}}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "4", rc.Text)
}

func TestRenderFromTemplate(t *testing.T) {
	c := Caption{SampleIdx: 2, Result: decoder.Result{Sequence: []int{1, 0}, Score: 1.5}}
	rc, err := NewRenderedCaption(c, Vocabulary{"rain", "falls"})
	require.NoError(t, err)

	out, err := RenderFromTemplate(rc, template.Must(template.New("caption").Parse(DefaultTemplate)))
	require.NoError(t, err)
	assert.Equal(t, "2\t1.5000\tfalls rain\n", out)

	filename := filepath.Join(t.TempDir(), "caption.tmpl")
	require.NoError(t, os.WriteFile(filename, []byte("{{.Text}} ({{len .Tokens}})"), 0o644))
	out, err = RenderFromTemplateFile(rc, filename)
	require.NoError(t, err)
	assert.Equal(t, "falls rain (2)", out)
}
