// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package service

import (
	"context"
	"errors"
	"io"

	"google.golang.org/grpc"
)

// Client calls a caption service.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient returns a Client using the connection.
func NewClient(conn *grpc.ClientConn) *Client {
	return &Client{conn: conn}
}

// Caption sends the request and collects the streamed captions.
func (c *Client) Caption(ctx context.Context, req *CaptionRequest) ([]CaptionResponse, error) {
	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], "/"+ServiceName+"/Caption",
		grpc.CallContentSubtype(codecName))
	if err != nil {
		return nil, err
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, err
	}
	if err := stream.CloseSend(); err != nil {
		return nil, err
	}

	var out []CaptionResponse
	for {
		var resp CaptionResponse
		err := stream.RecvMsg(&resp)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
}
