// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"os"
	"os/signal"

	"github.com/nlpodyssey/captionflow/condition"
	"github.com/nlpodyssey/captionflow/downloader"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.InfoLevel)

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "captionflow",
		Usage: "Perform various operations with audio captioning models",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "set log level (trace, debug, info, warn, error, fatal, panic)",
				Action: func(c *cli.Context, s string) error {
					return setDebugLevel(s)
				},
				Value:   "info",
				EnvVars: []string{"CAPTIONFLOW_LOGLEVEL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "download",
				Usage: "Download checkpoint files from huggingface.co",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "repo", Usage: "repository, in the format organization/name", Required: true},
					&cli.StringSliceFlag{Name: "file", Usage: "file to download (repeatable)", Required: true},
					&cli.StringFlag{Name: "dir", Usage: "destination directory", Value: "models"},
					&cli.StringFlag{Name: "revision", Usage: "branch, tag or commit", Value: "main"},
					&cli.StringFlag{Name: "token", Usage: "access token", EnvVars: []string{"HF_TOKEN"}},
					&cli.BoolFlag{Name: "overwrite", Usage: "overwrite existing files"},
				},
				Action: func(c *cli.Context) error {
					log.Debug().Msgf("Downloading %v from %s", c.StringSlice("file"), c.String("repo"))
					return downloader.Download(c.Context, c.String("dir"), c.String("repo"), c.StringSlice("file"), downloader.Options{
						Revision:         c.String("revision"),
						AccessToken:      c.String("token"),
						OverwriteIfExist: c.Bool("overwrite"),
					})
				},
			},
			{
				Name:  "convert-labels",
				Usage: "Convert the label embedding of a PyTorch checkpoint",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "checkpoint", Usage: "PyTorch checkpoint file", Required: true},
					&cli.StringFlag{Name: "output", Usage: "output dump file", Required: true},
					&cli.StringFlag{Name: "param", Usage: "label embedding parameter name", Value: condition.DefaultLabelEmbeddingParam},
					&cli.BoolFlag{Name: "overwrite", Usage: "overwrite an existing output file"},
				},
				Action: func(c *cli.Context) error {
					log.Debug().Msgf("Converting label embedding of %s", c.String("checkpoint"))
					err := condition.ConvertTorchLabelEmbedding(condition.ConverterConfig{
						CheckpointFilename: c.String("checkpoint"),
						OutputFilename:     c.String("output"),
						ParamName:          c.String("param"),
						OverwriteIfExist:   c.Bool("overwrite"),
					})
					if err != nil {
						return err
					}
					log.Debug().Msg("Done.")
					return nil
				},
			},
			{
				Name:  "dry-run",
				Usage: "Decode a batch with toy modules to check a configuration",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Usage: "model configuration YAML file", Required: true},
					&cli.StringFlag{Name: "batch", Usage: "batch YAML file", Required: true},
					&cli.StringFlag{Name: "vocab", Usage: "vocabulary file, one word per line"},
					&cli.StringFlag{Name: "template", Usage: "caption template file"},
					&cli.StringFlag{Name: "tokenizer-dir", Usage: "directory with the BPE vocab.json and merges.txt"},
				},
				Action: func(c *cli.Context) error {
					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
					defer stop()
					return dryRun(ctx, dryRunConfig{
						configFilename:   c.String("config"),
						batchFilename:    c.String("batch"),
						vocabFilename:    c.String("vocab"),
						templateFilename: c.String("template"),
						tokenizerDir:     c.String("tokenizer-dir"),
						out:              c.App.Writer,
					})
				},
			},
			{
				Name:  "caption",
				Usage: "Request the captions of a batch from a caption server",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "endpoint", Usage: "the address of the gRPC server", Value: ":50051"},
					&cli.StringFlag{Name: "batch", Usage: "batch YAML file", Required: true},
					&cli.StringFlag{Name: "request-id", Usage: "request identifier, assigned by the server if empty"},
					&cli.StringFlag{Name: "template", Usage: "caption template file"},
				},
				Action: func(c *cli.Context) error {
					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
					defer stop()
					return requestCaptions(ctx, captionConfig{
						endpoint:         c.String("endpoint"),
						batchFilename:    c.String("batch"),
						requestID:        c.String("request-id"),
						templateFilename: c.String("template"),
						out:              c.App.Writer,
					})
				},
			},
			{
				Name:  "serve",
				Usage: "Serve captions over gRPC",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "config", Usage: "model configuration YAML file", Required: true},
					&cli.StringFlag{Name: "address", Usage: "listening address", Value: ":50051"},
					&cli.StringFlag{Name: "db", Usage: "SQLite file recording the served captions"},
					&cli.StringFlag{Name: "vocab", Usage: "vocabulary file, one word per line"},
					&cli.StringFlag{Name: "tokenizer-dir", Usage: "directory with the BPE vocab.json and merges.txt"},
				},
				Action: func(c *cli.Context) error {
					ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
					defer stop()
					return serve(ctx, serveConfig{
						configFilename: c.String("config"),
						address:        c.String("address"),
						dbFilename:     c.String("db"),
						vocabFilename:  c.String("vocab"),
						tokenizerDir:   c.String("tokenizer-dir"),
					})
				},
			},
		},
	}
}

func setDebugLevel(debugLevel string) error {
	level, err := zerolog.ParseLevel(debugLevel)
	if err != nil {
		return err
	}
	log.Logger = log.Level(level)
	return nil
}
