// Copyright 2022 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package downloader fetches pretrained checkpoints, such as the label
// embedding of an event-conditioned captioning model, from huggingface.co.
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

const (
	// Hugging Face repository URL, in the format:
	// "{base}/{repo_id}/resolve/{revision}/{filename}"
	defaultBaseURL  = "https://huggingface.co"
	defaultRevision = "main"
)

// Options customizes a download.
type Options struct {
	// Revision is the branch, tag or commit to fetch. Defaults to "main".
	Revision string
	// AccessToken is sent as a bearer token when set.
	AccessToken string
	// OverwriteIfExist forces the download of files that already exist.
	OverwriteIfExist bool
	// BaseURL overrides the hub address.
	BaseURL string
	// Client is the HTTP client to use. Defaults to http.DefaultClient.
	Client *http.Client
}

// Download fetches the given files of a repository into dir.
//
// If one or more directory levels don't yet exist, they are created
// setting the permissions bits to 0755 (rwxr-xr-x).
//
// Unless OverwriteIfExist is set, any file that already exists is kept
// and considered as already successfully downloaded.
func Download(ctx context.Context, dir, repoID string, files []string, opts Options) error {
	if repoID == "" || strings.Count(repoID, "/") != 1 {
		return fmt.Errorf("invalid repository %q: expected format is \"organization/name\"", repoID)
	}
	d := downloader{
		dir:    dir,
		repoID: repoID,
		opts:   opts,
	}
	if d.opts.Revision == "" {
		d.opts.Revision = defaultRevision
	}
	if d.opts.BaseURL == "" {
		d.opts.BaseURL = defaultBaseURL
	}
	if d.opts.Client == nil {
		d.opts.Client = http.DefaultClient
	}
	return d.download(ctx, files)
}

type downloader struct {
	dir    string
	repoID string
	opts   Options
}

func (d downloader) download(ctx context.Context, files []string) error {
	if err := d.ensureDir(); err != nil {
		return err
	}
	for _, name := range files {
		if err := d.downloadFile(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (d downloader) ensureDir() error {
	if info, err := os.Stat(d.dir); err == nil && info.IsDir() {
		return nil
	}
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return fmt.Errorf("error creating directory %#v: %w", d.dir, err)
	}
	return nil
}

func (d downloader) downloadFile(ctx context.Context, name string) (err error) {
	fPath := filepath.Join(d.dir, filepath.Base(name))
	if info, err := os.Stat(fPath); !d.opts.OverwriteIfExist && err == nil && !info.IsDir() {
		log.Debug().Str("file", fPath).Msg("file already exists, skipping download")
		return nil
	}

	url := d.fileURL(name)
	log.Debug().Str("url", url).Str("destination", fPath).Msg("downloading")

	resp, err := d.httpGet(ctx, url)
	if err != nil {
		return fmt.Errorf("error getting %#v: %w", url, err)
	}
	defer func() {
		if e := resp.Body.Close(); e != nil && err == nil {
			err = fmt.Errorf("error closing %#v response body: %w", url, e)
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%#v responded with %s", url, resp.Status)
	}

	// write to a temporary file so that a failed download never leaves a
	// truncated file that would be skipped next time
	tmp := fPath + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("error creating file %#v: %w", tmp, err)
	}
	prog := &progress{name: name, total: resp.ContentLength}
	_, err = io.Copy(f, io.TeeReader(resp.Body, prog))
	if e := f.Close(); e != nil && err == nil {
		err = e
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("error downloading %#v to %#v: %w", url, fPath, err)
	}
	prog.done()
	return os.Rename(tmp, fPath)
}

func (d downloader) httpGet(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if d.opts.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.opts.AccessToken)
	}
	return d.opts.Client.Do(req)
}

func (d downloader) fileURL(name string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", strings.TrimSuffix(d.opts.BaseURL, "/"), d.repoID, d.opts.Revision, name)
}

// progress logs the download progress every 10%.
type progress struct {
	name    string
	total   int64
	written int64
	logged  int64
}

func (p *progress) Write(b []byte) (int, error) {
	p.written += int64(len(b))
	if p.total > 0 {
		if pct := p.written * 100 / p.total; pct/10 > p.logged/10 {
			p.logged = pct
			log.Trace().Str("file", p.name).Msgf("%d%%", pct)
		}
	}
	return len(b), nil
}

func (p *progress) done() {
	log.Debug().Str("file", p.name).Int64("bytes", p.written).Msg("download completed")
}
