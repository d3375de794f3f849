// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"

	"github.com/nlpodyssey/captionflow/config"
	"github.com/nlpodyssey/captionflow/service"
	"github.com/nlpodyssey/captionflow/store"
	"github.com/rs/zerolog/log"
)

type serveConfig struct {
	configFilename string
	address        string
	dbFilename     string
	vocabFilename  string
	tokenizerDir   string
}

func serve(ctx context.Context, c serveConfig) error {
	conf, err := config.Load(c.configFilename)
	if err != nil {
		return err
	}
	cf, err := newToyCaptionFlow(conf, nil)
	if err != nil {
		return err
	}

	var opts []service.Option
	detok, err := loadDetokenizer(conf, c.vocabFilename, c.tokenizerDir)
	if err != nil {
		return err
	}
	if detok != nil {
		opts = append(opts, service.WithDetokenizer(detok))
	}
	if c.dbFilename != "" {
		st, err := store.Open(c.dbFilename)
		if err != nil {
			return err
		}
		defer func() {
			if err := st.Close(); err != nil {
				log.Err(err).Msg("failed to close caption store")
			}
		}()
		opts = append(opts, service.WithStore(st))
	}

	log.Info().Msgf("Starting %s server on %s", cf.Model.Capabilities().Name, c.address)
	return service.NewServer(cf, opts...).Start(ctx, c.address)
}
