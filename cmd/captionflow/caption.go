// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"

	"github.com/nlpodyssey/captionflow"
	"github.com/nlpodyssey/captionflow/config"
	"github.com/nlpodyssey/captionflow/service"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
)

type captionConfig struct {
	endpoint         string
	batchFilename    string
	requestID        string
	templateFilename string
	out              io.Writer
}

// requestCaptions sends a batch file to a caption server and renders the
// received captions.
func requestCaptions(ctx context.Context, c captionConfig) error {
	bf, err := config.LoadBatchFile(c.batchFilename)
	if err != nil {
		return err
	}
	tmpl, err := loadTemplate(c.templateFilename)
	if err != nil {
		return err
	}

	conn, err := grpc.DialContext(ctx, c.endpoint, grpc.WithInsecure(), grpc.WithBlock())
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	captions, err := service.NewClient(conn).Caption(ctx, &service.CaptionRequest{
		RequestID: c.requestID,
		Batch:     *bf,
	})
	if err != nil {
		return fmt.Errorf("failed to call Caption: %w", err)
	}
	for _, resp := range captions {
		log.Trace().Str("request", resp.RequestID).Ints("tokens", resp.Tokens).Msg("caption")
		text, err := captionflow.RenderFromTemplate(captionflow.RenderedCaption{
			SampleIdx: resp.SampleIdx,
			Text:      resp.Text,
			Tokens:    resp.Tokens,
			Score:     resp.Score,
		}, tmpl)
		if err != nil {
			return err
		}
		if _, err = io.WriteString(c.out, text); err != nil {
			return err
		}
	}
	log.Debug().Msg("Done.")
	return nil
}
