// Copyright 2023 NLP Odyssey Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package condition

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"io"
	"os"
)

// eventEncoderDump is the serialized form of an EventEncoder.
type eventEncoderDump struct {
	NumLabels int
	EmbDim    int
	Weights   []float32
}

// Dump saves the EventEncoder to a file.
func Dump(enc *EventEncoder, filename string) (err error) {
	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to open label embedding dump file %q for writing: %w", filename, err)
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = fmt.Errorf("failed to close label embedding dump file %q: %w", filename, e)
		}
	}()
	if err = gobEncode(enc, f); err != nil {
		return fmt.Errorf("failed to encode label embedding dump: %w", err)
	}
	return nil
}

// Load reads an EventEncoder previously saved with Dump.
func Load(filename string) (_ *EventEncoder, err error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func() {
		if e := f.Close(); e != nil && err == nil {
			err = e
		}
	}()
	return gobDecode(f)
}

func gobEncode(enc *EventEncoder, w io.Writer) error {
	bw := bufio.NewWriter(w)
	dump := eventEncoderDump{
		NumLabels: enc.NumLabels,
		EmbDim:    enc.EmbDim,
		Weights:   enc.Weights(),
	}
	if err := gob.NewEncoder(bw).Encode(dump); err != nil {
		return err
	}
	return bw.Flush()
}

func gobDecode(r io.Reader) (*EventEncoder, error) {
	var dump eventEncoderDump
	if err := gob.NewDecoder(bufio.NewReader(r)).Decode(&dump); err != nil {
		return nil, err
	}
	return NewEventEncoderFromWeights(dump.NumLabels, dump.EmbDim, dump.Weights)
}
