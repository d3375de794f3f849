// Copyright 2022 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package downloader

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newHub(t *testing.T, requests *[]*http.Request) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*requests = append(*requests, r)
		switch r.URL.Path {
		case "/org/captioner/resolve/main/labels.pt":
			_, _ = w.Write([]byte("checkpoint"))
		case "/org/captioner/resolve/v1/labels.pt":
			_, _ = w.Write([]byte("checkpoint v1"))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestDownload(t *testing.T) {
	var requests []*http.Request
	srv := newHub(t, &requests)
	dir := filepath.Join(t.TempDir(), "nested", "models")

	err := Download(context.Background(), dir, "org/captioner", []string{"labels.pt"}, Options{
		BaseURL:     srv.URL,
		AccessToken: "secret",
	})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "labels.pt"))
	require.NoError(t, err)
	assert.Equal(t, "checkpoint", string(data))
	require.Len(t, requests, 1)
	assert.Equal(t, "Bearer secret", requests[0].Header.Get("Authorization"))
	assert.NoFileExists(t, filepath.Join(dir, "labels.pt.part"))
}

func TestDownloadSkipsExistingFiles(t *testing.T) {
	var requests []*http.Request
	srv := newHub(t, &requests)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "labels.pt"), []byte("local"), 0o644))

	err := Download(context.Background(), dir, "org/captioner", []string{"labels.pt"}, Options{BaseURL: srv.URL})
	require.NoError(t, err)
	assert.Empty(t, requests)

	err = Download(context.Background(), dir, "org/captioner", []string{"labels.pt"}, Options{
		BaseURL:          srv.URL,
		Revision:         "v1",
		OverwriteIfExist: true,
	})
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, "labels.pt"))
	require.NoError(t, err)
	assert.Equal(t, "checkpoint v1", string(data))
}

func TestDownloadNotFound(t *testing.T) {
	var requests []*http.Request
	srv := newHub(t, &requests)
	dir := t.TempDir()

	err := Download(context.Background(), dir, "org/captioner", []string{"missing.pt"}, Options{BaseURL: srv.URL})
	assert.Error(t, err)
	assert.NoFileExists(t, filepath.Join(dir, "missing.pt"))
}

func TestDownloadInvalidRepository(t *testing.T) {
	err := Download(context.Background(), t.TempDir(), "captioner", []string{"labels.pt"}, Options{})
	assert.Error(t, err)
}
