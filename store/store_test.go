// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "captions.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndByRequest(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, []CaptionRecord{
		{RequestID: "a", SampleIdx: 1, Variant: "TransformerModel", Tokens: "4 5", Text: "dog barks", Score: 0.5},
		{RequestID: "a", SampleIdx: 0, Variant: "TransformerModel", Tokens: "3", Text: "rain", Score: 0.25},
		{RequestID: "b", SampleIdx: 0, Variant: "TransformerModel", Tokens: "", Text: "", Score: 0},
	}))
	require.NoError(t, s.Save(ctx, nil))

	records, err := s.ByRequest(ctx, "a")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 0, records[0].SampleIdx)
	assert.Equal(t, "rain", records[0].Text)
	assert.Equal(t, "dog barks", records[1].Text)
	assert.False(t, records[0].CreatedAt.IsZero())

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestTokens(t *testing.T) {
	assert.Equal(t, "3 14 0", JoinTokens([]int{3, 14, 0}))
	assert.Equal(t, "", JoinTokens(nil))

	ids, err := SplitTokens("3 14 0")
	require.NoError(t, err)
	assert.Equal(t, []int{3, 14, 0}, ids)

	ids, err = SplitTokens("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = SplitTokens("3 x")
	assert.Error(t, err)
}
