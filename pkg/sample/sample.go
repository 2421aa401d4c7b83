// Copyright 2025 lepus project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package sample defines the unit of fuzzing input: an opaque, bounded
// byte string that can be loaded from and saved to disk.
package sample

import (
	"fmt"
	"os"

	"github.com/lepusfuzz/lepus/pkg/osutil"
)

// MaxSize bounds every sample handled by the fuzzer; larger inputs are
// trimmed on load.
const MaxSize = 1 << 20

type Sample struct {
	Data []byte
}

func New(data []byte) *Sample {
	return &Sample{Data: data}
}

func Load(filename string) (*Sample, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to load sample: %w", err)
	}
	return &Sample{Data: data}, nil
}

func (s *Sample) Save(filename string) error {
	if err := osutil.WriteFile(filename, s.Data); err != nil {
		return fmt.Errorf("failed to save sample: %w", err)
	}
	return nil
}

func (s *Sample) Size() int {
	return len(s.Data)
}

// Trim destructively cuts the sample to its first size bytes.
// Growing a sample is not possible through Trim.
func (s *Sample) Trim(size int) {
	if size < 0 || size >= len(s.Data) {
		return
	}
	s.Data = s.Data[:size:size]
}

// Clone returns an independent copy; mutation attempts fork the base
// sample by value so the corpus copy stays intact.
func (s *Sample) Clone() *Sample {
	data := make([]byte, len(s.Data))
	copy(data, s.Data)
	return &Sample{Data: data}
}
