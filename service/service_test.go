// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package service

import (
	"context"
	"net"
	"path/filepath"
	"testing"

	"github.com/nlpodyssey/captionflow"
	"github.com/nlpodyssey/captionflow/config"
	"github.com/nlpodyssey/captionflow/internal/toy"
	"github.com/nlpodyssey/captionflow/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

const testConfig = `
variant: event_cond_transformer
vocab_size: 6
emb_dim: 4
attn_dim: 2
num_labels: 10
decoding:
  max_len: 3
  beam_size: 2
`

func testBatch() config.BatchFile {
	return config.BatchFile{
		AttnEmbs: [][][]float32{
			{{0.1, 0.2}, {0.3, 0.4}},
			{{0.5, 0.6}, {0, 0}},
		},
		AttnEmbLens: []int{2, 1},
		EventLabels: [][]int{{1, 4}, {9}},
	}
}

type testEnv struct {
	conn  *grpc.ClientConn
	store *store.Store
}

func startTestServer(t *testing.T) testEnv {
	t.Helper()
	conf, err := config.Parse([]byte(testConfig))
	require.NoError(t, err)
	dec := toy.NewDecoder(conf.DecoderFamily(), toy.Config{
		VocabSize: conf.VocabSize,
		EmbDim:    conf.EmbDim,
		AttnDim:   conf.AttnDim,
		Seed:      3,
	})
	cf, err := captionflow.New(conf, toy.NewEncoder(conf.EncoderFamily()), dec)
	require.NoError(t, err)

	st, err := store.Open(filepath.Join(t.TempDir(), "captions.sqlite"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	vocab := captionflow.Vocabulary{"<pad>", "<bos>", "<eos>", "birds", "sing", "loudly"}
	srv := NewServer(cf, WithDetokenizer(vocab), WithStore(st))

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(ctx, lis)
	}()

	conn, err := grpc.DialContext(ctx, "bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) {
			return lis.Dial()
		}),
		grpc.WithInsecure(),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = conn.Close()
		cancel()
		<-served
	})
	return testEnv{conn: conn, store: st}
}

func TestHealth(t *testing.T) {
	env := startTestServer(t)
	resp, err := grpc_health_v1.NewHealthClient(env.conn).Check(context.Background(),
		&grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
}

func TestCaption(t *testing.T) {
	env := startTestServer(t)
	client := NewClient(env.conn)
	ctx := context.Background()

	captions, err := client.Caption(ctx, &CaptionRequest{Batch: testBatch()})
	require.NoError(t, err)
	require.Len(t, captions, 2)
	for i, c := range captions {
		assert.Equal(t, "1", c.RequestID)
		assert.Equal(t, i, c.SampleIdx)
		assert.LessOrEqual(t, len(c.Tokens), 3)
		assert.GreaterOrEqual(t, c.Score, 0.0)
	}

	captions, err = client.Caption(ctx, &CaptionRequest{RequestID: "custom", Batch: testBatch()})
	require.NoError(t, err)
	require.Len(t, captions, 2)
	assert.Equal(t, "custom", captions[0].RequestID)

	records, err := env.store.ByRequest(ctx, "custom")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "EventCondTransformerModel", records[0].Variant)
	assert.Equal(t, captions[1].Text, records[1].Text)
	tokens, err := store.SplitTokens(records[1].Tokens)
	require.NoError(t, err)
	assert.Equal(t, len(captions[1].Tokens), len(tokens))

	n, err := env.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestCaptionInvalidBatch(t *testing.T) {
	env := startTestServer(t)
	_, err := NewClient(env.conn).Caption(context.Background(), &CaptionRequest{})
	require.Error(t, err)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}
