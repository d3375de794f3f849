// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package condition

import (
	"fmt"
	"os"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultLabelEmbeddingParam is the state-dict name of the label
	// embedding table of an event-conditioned captioning model.
	DefaultLabelEmbeddingParam = "label_encoder.label_embedding"
	// checkpointModelKey is the entry holding the state dict when a
	// training checkpoint wraps it together with optimizer state.
	checkpointModelKey = "model"
)

// ConverterConfig configures ConvertTorchLabelEmbedding.
type ConverterConfig struct {
	// CheckpointFilename is the PyTorch checkpoint to read.
	CheckpointFilename string
	// OutputFilename is where the converted EventEncoder is written.
	OutputFilename string
	// ParamName is the name of the label embedding parameter
	// (default "label_encoder.label_embedding").
	ParamName string
	// OverwriteIfExist overwrites an existing output file (default "false").
	OverwriteIfExist bool
}

// ConvertTorchLabelEmbedding extracts the label embedding table from a
// PyTorch checkpoint and saves it as an EventEncoder dump.
func ConvertTorchLabelEmbedding(config ConverterConfig) error {
	if config.ParamName == "" {
		config.ParamName = DefaultLabelEmbeddingParam
	}
	if !config.OverwriteIfExist && fileExists(config.OutputFilename) {
		log.Debug().Str("output", config.OutputFilename).Msg("Label embedding dump already exists, skipping conversion")
		return nil
	}

	enc, err := ReadTorchLabelEmbedding(config.CheckpointFilename, config.ParamName)
	if err != nil {
		return fmt.Errorf("label embedding conversion failed: %w", err)
	}
	log.Debug().Msgf("Converted label embedding table %dx%d", enc.NumLabels, enc.EmbDim)
	return Dump(enc, config.OutputFilename)
}

// ReadTorchLabelEmbedding loads the named [numLabels, embDim] parameter from
// a PyTorch checkpoint into a new EventEncoder.
func ReadTorchLabelEmbedding(filename, paramName string) (*EventEncoder, error) {
	obj, err := pytorch.Load(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load torch checkpoint %q: %w", filename, err)
	}
	t, err := fetchTensor(obj, paramName)
	if err != nil {
		return nil, err
	}
	if len(t.Size) != 2 {
		return nil, fmt.Errorf("expected 2 dimensions for %q, actual %d", paramName, len(t.Size))
	}
	data, err := tensorData(t)
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", paramName, err)
	}
	weights := make([]float32, len(data))
	copy(weights, data)
	return NewEventEncoderFromWeights(t.Size[0], t.Size[1], weights)
}

// getter is satisfied by the gopickle dictionary types.
type getter interface {
	Get(key interface{}) (interface{}, bool)
}

// fetchTensor looks up name in a state dict, descending into the "model"
// entry of a wrapped training checkpoint when needed.
func fetchTensor(obj interface{}, name string) (*pytorch.Tensor, error) {
	dict, ok := obj.(getter)
	if !ok {
		return nil, fmt.Errorf("unexpected checkpoint type %T", obj)
	}
	if v, ok := dict.Get(name); ok {
		t, ok := v.(*pytorch.Tensor)
		if !ok {
			return nil, fmt.Errorf("wrong value type for param %q: %T", name, v)
		}
		return t, nil
	}
	if inner, ok := dict.Get(checkpointModelKey); ok {
		return fetchTensor(inner, name)
	}
	return nil, fmt.Errorf("parameter %q not found", name)
}

func tensorData(t *pytorch.Tensor) ([]float32, error) {
	size := 1
	for _, v := range t.Size {
		size *= v
	}
	var data []float32
	switch st := t.Source.(type) {
	case *pytorch.FloatStorage:
		data = st.Data
	case *pytorch.BFloat16Storage:
		data = st.Data
	case *pytorch.HalfStorage:
		data = st.Data
	default:
		return nil, fmt.Errorf("unsupported storage type %T", t.Source)
	}
	if t.StorageOffset+size > len(data) {
		return nil, fmt.Errorf("storage too small: offset %d, size %d, length %d", t.StorageOffset, size, len(data))
	}
	return data[t.StorageOffset : t.StorageOffset+size], nil
}

func fileExists(name string) bool {
	info, err := os.Stat(name)
	return err == nil && !info.IsDir()
}
