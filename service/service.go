// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package service exposes a CaptionFlow model as a streaming gRPC service.
package service

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nlpodyssey/captionflow"
	"github.com/nlpodyssey/captionflow/config"
	"github.com/nlpodyssey/captionflow/store"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the full name of the caption service.
const ServiceName = "captionflow.Captioner"

// CaptionRequest asks for the captions of a batch.
type CaptionRequest struct {
	// RequestID identifies the request in the caption store. A new one is
	// assigned when empty.
	RequestID string           `json:"request_id"`
	Batch     config.BatchFile `json:"batch"`
}

// CaptionResponse is a caption of one sample of the batch.
type CaptionResponse struct {
	RequestID string  `json:"request_id"`
	SampleIdx int     `json:"sample_idx"`
	Tokens    []int   `json:"tokens"`
	Text      string  `json:"text"`
	Score     float64 `json:"score"`
}

// CaptionerServer is the server API of the caption service.
type CaptionerServer interface {
	Caption(req *CaptionRequest, stream grpc.ServerStream) error
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CaptionerServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Caption",
			Handler:       captionHandler,
			ServerStreams: true,
		},
	},
	Metadata: "captionflow",
}

func captionHandler(srv interface{}, stream grpc.ServerStream) error {
	req := new(CaptionRequest)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(CaptionerServer).Caption(req, stream)
}

// Server serves the captions of a CaptionFlow model.
type Server struct {
	cf          *captionflow.CaptionFlow
	detokenizer captionflow.Detokenizer
	store       *store.Store
	health      *health.Server
	grpcServer  *grpc.Server

	// mu serializes the generation: models are not safe for concurrent use.
	mu       sync.Mutex
	requests uint64
}

var _ CaptionerServer = &Server{}

// Option customizes a Server.
type Option func(*Server)

// WithDetokenizer renders the caption texts.
func WithDetokenizer(d captionflow.Detokenizer) Option {
	return func(s *Server) {
		s.detokenizer = d
	}
}

// WithStore records every served caption.
func WithStore(st *store.Store) Option {
	return func(s *Server) {
		s.store = st
	}
}

// NewServer returns a new Server.
func NewServer(cf *captionflow.CaptionFlow, opts ...Option) *Server {
	s := &Server{
		cf:         cf,
		health:     health.NewServer(),
		grpcServer: grpc.NewServer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens on the address and serves until the context is done.
func (s *Server) Start(ctx context.Context, address string) error {
	lis, err := net.Listen("tcp", address)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	return s.Serve(ctx, lis)
}

// Serve serves on the listener until the context is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	grpc_health_v1.RegisterHealthServer(s.grpcServer, s.health)
	s.grpcServer.RegisterService(&serviceDesc, s)

	s.health.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)

	go s.shutDownServerWhenContextIsDone(ctx)
	return s.grpcServer.Serve(lis)
}

// shutDownServerWhenContextIsDone shuts down the server when the context is done.
func (s *Server) shutDownServerWhenContextIsDone(ctx context.Context) {
	<-ctx.Done()
	log.Info().Msg("context done, shutting down server")
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	log.Info().Msg("server shut down successfully")
}

// Caption implements CaptionerServer.
func (s *Server) Caption(req *CaptionRequest, stream grpc.ServerStream) error {
	ctx := stream.Context()
	requestID := req.RequestID
	if requestID == "" {
		requestID = strconv.FormatUint(atomic.AddUint64(&s.requests, 1), 10)
	}
	log.Debug().Str("request", requestID).Msg("received caption request")

	batch, err := req.Batch.Batch(s.cf.Config.NumLabels)
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid batch: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(chan captionflow.Caption, batch.Size())
	errCh := make(chan error, 1)
	go func() {
		start := time.Now()
		errCh <- s.cf.Generate(ctx, batch, out)
		log.Trace().Msgf("Inference time: %.2f seconds", time.Since(start).Seconds())
	}()

	var records []store.CaptionRecord
	var sendErr error
	for c := range out {
		if sendErr != nil {
			continue
		}
		rc, err := captionflow.NewRenderedCaption(c, s.detokenizer)
		if err != nil {
			sendErr = status.Errorf(codes.Internal, "failed to render caption: %v", err)
			continue
		}
		sendErr = stream.SendMsg(&CaptionResponse{
			RequestID: requestID,
			SampleIdx: rc.SampleIdx,
			Tokens:    rc.Tokens,
			Text:      rc.Text,
			Score:     rc.Score,
		})
		records = append(records, store.CaptionRecord{
			RequestID: requestID,
			SampleIdx: rc.SampleIdx,
			Variant:   s.cf.Model.Capabilities().Name,
			Tokens:    store.JoinTokens(rc.Tokens),
			Text:      rc.Text,
			Score:     rc.Score,
		})
	}
	if err := <-errCh; err != nil {
		return status.Errorf(codes.Internal, "generation failed: %v", err)
	}
	if sendErr != nil {
		return sendErr
	}

	if s.store != nil {
		if err := s.store.Save(ctx, records); err != nil {
			log.Err(err).Str("request", requestID).Msg("failed to store captions")
		}
	}
	log.Debug().Str("request", requestID).Msg("Done.")
	return nil
}
